package handlers

import (
	"errors"
	"fmt"
	"mime"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/htrucci/jwp-was-kakao/pkg/webserver/http11"
)

// errBadForm marks a body that could not be decoded. Handlers answer 400.
var errBadForm = errors.New("handlers: bad form")

// decodeForm fills dst from a JSON body when Content-Type says so, and
// from url-encoded fields otherwise. A request without a body falls back
// to its query string.
func decodeForm(req *http11.Request, dst any, fields func(url.Values)) error {
	if isJSON(req.HeaderValue(http11.HeaderContentType)) {
		if err := json.Unmarshal(req.Body(), dst); err != nil {
			return fmt.Errorf("%w: %v", errBadForm, err)
		}
		return nil
	}

	raw := req.BodyString()
	if raw == "" {
		raw = req.Query()
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", errBadForm, err)
	}
	fields(values)
	return nil
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}

// wantsJSON reports whether an Accept header asks for JSON.
func wantsJSON(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		if isJSON(strings.TrimSpace(part)) {
			return true
		}
	}
	return false
}
