package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"flux/config"
	"flux/models"
	"flux/services"
)

// StoreStatus is the part of the snapshot store the status endpoint reads
type StoreStatus interface {
	Ping(ctx context.Context) error
	CollectionStats(ctx context.Context) ([]models.TierCollectionStats, error)
}

type RollupStatus interface {
	Statuses() []services.TierStatus
}

type Handler struct {
	Cfg       *config.Config
	Store     StoreStatus
	Cache     *services.LatestSnapshotCache
	Scheduler RollupStatus

	startedAt time.Time
}

func NewHandler(cfg *config.Config, store StoreStatus, cache *services.LatestSnapshotCache, scheduler RollupStatus) *Handler {
	return &Handler{
		Cfg:       cfg,
		Store:     store,
		Cache:     cache,
		Scheduler: scheduler,
		startedAt: time.Now(),
	}
}

// GetHealth returns OK
func (h *Handler) GetHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// GetStatus returns store reachability, cache mode, tier collections and rollup runs
func (h *Handler) GetStatus(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	mongo := map[string]interface{}{
		"enabled":   h.Cfg.MongoDB.Enabled,
		"reachable": false,
	}
	var tiers []models.TierCollectionStats
	if h.Store != nil {
		if err := h.Store.Ping(ctx); err != nil {
			mongo["error"] = err.Error()
		} else {
			mongo["reachable"] = true
			stats, err := h.Store.CollectionStats(ctx)
			if err != nil {
				mongo["error"] = err.Error()
			} else {
				tiers = stats
			}
		}
	}

	status := map[string]interface{}{
		"status":    "running",
		"uptime":    time.Since(h.startedAt).Round(time.Second).String(),
		"mongodb":   mongo,
		"tiers":     tiers,
		"timestamp": time.Now().UTC(),
	}
	if h.Cache != nil {
		status["cache_mode"] = string(h.Cache.GetCacheMode())
	}
	if h.Scheduler != nil {
		status["rollups"] = h.Scheduler.Statuses()
	}

	return c.JSON(http.StatusOK, status)
}
