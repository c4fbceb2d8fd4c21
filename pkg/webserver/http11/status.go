package http11

import "strconv"

// Common status codes
const (
	StatusOK                  = 200
	StatusCreated             = 201
	StatusNoContent           = 204
	StatusMovedPermanently    = 301
	StatusFound               = 302
	StatusNotModified         = 304
	StatusBadRequest          = 400
	StatusUnauthorized        = 401
	StatusForbidden           = 403
	StatusNotFound            = 404
	StatusMethodNotAllowed    = 405
	StatusConflict            = 409
	StatusInternalServerError = 500
	StatusNotImplemented      = 501
)

// Status lines for the codes the server emits itself.
// Anything else is built on demand by StatusLine.
var statusLines = map[int]string{
	200: "HTTP/1.1 200 OK",
	201: "HTTP/1.1 201 Created",
	204: "HTTP/1.1 204 No Content",
	302: "HTTP/1.1 302 Found",
	304: "HTTP/1.1 304 Not Modified",
	400: "HTTP/1.1 400 Bad Request",
	401: "HTTP/1.1 401 Unauthorized",
	403: "HTTP/1.1 403 Forbidden",
	404: "HTTP/1.1 404 Not Found",
	409: "HTTP/1.1 409 Conflict",
	500: "HTTP/1.1 500 Internal Server Error",
	501: "HTTP/1.1 501 Not Implemented",
}

// StatusLine returns "HTTP/1.1 <code> <reason>" without the CRLF.
func StatusLine(code int) string {
	if line, ok := statusLines[code]; ok {
		return line
	}
	return Proto11 + " " + strconv.Itoa(code) + " " + StatusText(code)
}

// StatusText returns the reason phrase for an HTTP status code.
// Based on RFC 7231 Section 6.
func StatusText(code int) string {
	switch code {
	// 1xx Informational
	case 100:
		return "Continue"
	case 101:
		return "Switching Protocols"

	// 2xx Success
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 202:
		return "Accepted"
	case 203:
		return "Non-Authoritative Information"
	case 204:
		return "No Content"
	case 205:
		return "Reset Content"
	case 206:
		return "Partial Content"

	// 3xx Redirection
	case 300:
		return "Multiple Choices"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 303:
		return "See Other"
	case 304:
		return "Not Modified"
	case 307:
		return "Temporary Redirect"
	case 308:
		return "Permanent Redirect"

	// 4xx Client Error
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 406:
		return "Not Acceptable"
	case 408:
		return "Request Timeout"
	case 409:
		return "Conflict"
	case 410:
		return "Gone"
	case 411:
		return "Length Required"
	case 413:
		return "Payload Too Large"
	case 414:
		return "URI Too Long"
	case 415:
		return "Unsupported Media Type"
	case 418:
		return "I'm a teapot"
	case 422:
		return "Unprocessable Entity"
	case 429:
		return "Too Many Requests"
	case 431:
		return "Request Header Fields Too Large"

	// 5xx Server Error
	case 500:
		return "Internal Server Error"
	case 501:
		return "Not Implemented"
	case 502:
		return "Bad Gateway"
	case 503:
		return "Service Unavailable"
	case 504:
		return "Gateway Timeout"
	case 505:
		return "HTTP Version Not Supported"

	default:
		return "Unknown"
	}
}
