package handlers

import "github.com/labstack/echo/v4"

// router is satisfied by both *echo.Echo and *echo.Group
type router interface {
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// RegisterRoutes mounts the query API on e at the root and again under /api
func RegisterRoutes(e *echo.Echo, h *Handler, mh *MetricsHandlers, ch *CacheHandlers) {
	e.GET("/health", h.GetHealth)

	api := e.Group("/api")
	api.GET("/status", h.GetStatus)

	for _, r := range []router{e, api} {
		registerMetrics(r, mh)
		if ch != nil {
			r.GET("/cache/status", ch.GetCacheStatus)
			r.POST("/cache/clear", ch.ClearCache)
		}
	}
}

func registerMetrics(r router, mh *MetricsHandlers) {
	r.GET("/metrics/history", mh.GetHistory)
	r.GET("/metrics/device/:mac", mh.GetDeviceHistory)
	r.GET("/metrics/summary", mh.GetSummary)
	r.GET("/metrics/latest", mh.GetLatest)
}
