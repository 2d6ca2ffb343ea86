package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/context"
)

// quietPrefixes are probe and scrape paths logged at debug level.
var quietPrefixes = []string{"/api/v1/health", "/metrics"}

// Logger writes one access log line per request. Server errors log at error
// level; probes and scrapes log at debug.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			req, res := c.Request(), c.Response()
			fields := context.LogFields(req.Context())
			fields["method"] = req.Method
			fields["uri"] = req.RequestURI
			fields["status"] = res.Status
			fields["remote_ip"] = c.RealIP()
			fields["user_agent"] = req.UserAgent()
			fields["response_time"] = time.Since(start)
			fields["response_size"] = res.Size

			log := logger.WithContext(req.Context()).WithFields(fields)
			switch {
			case res.Status >= http.StatusInternalServerError:
				log.Error("Request")
			case quiet(req.URL.Path):
				log.Debug("Request")
			default:
				log.Info("Request")
			}
			return nil
		}
	}
}

func quiet(path string) bool {
	for _, prefix := range quietPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
