package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// LoggerMiddleware prints one access line per request. Paths in skip (health
// checks, the scrape endpoint) are served without logging.
func LoggerMiddleware(skip ...string) echo.MiddlewareFunc {
	quiet := make(map[string]bool, len(skip))
	for _, p := range skip {
		quiet[p] = true
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			if quiet[req.URL.Path] {
				return nil
			}

			stop := time.Now()
			path := req.URL.Path
			if req.URL.RawQuery != "" {
				path += "?" + req.URL.RawQuery
			}
			status := c.Response().Status

			// [2026-03-14 10:30:15] GET /api/metrics/history?tier=5m -> 200 OK (12ms) from 127.0.0.1
			fmt.Printf("[%s] %s %s -> %d %s (%dms) from %s\n",
				stop.Format("2006-01-02 15:04:05"), req.Method, path,
				status, http.StatusText(status), stop.Sub(start).Milliseconds(), c.RealIP())

			return nil
		}
	}
}
