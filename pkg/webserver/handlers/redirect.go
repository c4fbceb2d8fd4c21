package handlers

import (
	"github.com/htrucci/jwp-was-kakao/pkg/webserver/http11"
	"github.com/htrucci/jwp-was-kakao/pkg/webserver/router"
)

// Redirect answers every request with 302 Found to location.
func Redirect(location string) router.Handler {
	return router.HandlerFunc(func(_ *http11.Request, resp *http11.Response) error {
		return resp.Redirect(location)
	})
}
