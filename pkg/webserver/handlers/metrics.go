package handlers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/valyala/bytebufferpool"

	"github.com/htrucci/jwp-was-kakao/pkg/webserver/http11"
	"github.com/htrucci/jwp-was-kakao/pkg/webserver/router"
)

var textFormat = expfmt.NewFormat(expfmt.TypeTextPlain)

// Metrics renders everything g gathers in the Prometheus text exposition
// format. A partial gather failure still serves what was collected.
func Metrics(g prometheus.Gatherer) router.Handler {
	return router.HandlerFunc(func(_ *http11.Request, resp *http11.Response) error {
		families, err := g.Gather()
		if err != nil && len(families) == 0 {
			return err
		}

		buf := bytebufferpool.Get()
		defer bytebufferpool.Put(buf)

		enc := expfmt.NewEncoder(buf, textFormat)
		for _, mf := range families {
			if err := enc.Encode(mf); err != nil {
				return err
			}
		}
		return resp.WriteBytes(http11.StatusOK, string(textFormat), buf.B)
	})
}
