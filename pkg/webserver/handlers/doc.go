// Package handlers implements the site's controllers: static files, user
// signup, login and listing, redirects and the metrics endpoint. Each is a
// router.Handler meant to be bound into the route table built by the
// entry point.
package handlers
