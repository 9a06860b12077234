package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"flux/services"
)

type CacheHandlers struct {
	cache *services.LatestSnapshotCache
}

func NewCacheHandlers(cache *services.LatestSnapshotCache) *CacheHandlers {
	return &CacheHandlers{
		cache: cache,
	}
}

// GetCacheStatus returns the latest-snapshot cache backend and key counts
func (h *CacheHandlers) GetCacheStatus(c echo.Context) error {
	mode := h.cache.GetCacheMode()

	return c.JSON(http.StatusOK, map[string]interface{}{
		"mode":    string(mode),
		"healthy": mode == services.CacheModeRedis,
		"stats":   h.cache.GetCacheStats(),
	})
}

// ClearCache drops every cached snapshot; the next latest query reads the store
func (h *CacheHandlers) ClearCache(c echo.Context) error {
	if err := h.cache.ClearCache(); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"message": "Cache cleared successfully",
	})
}
