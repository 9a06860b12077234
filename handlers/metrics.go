package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"flux/models"
	"flux/services"
	"flux/utils"
)

const (
	defaultHistoryTier = "1m"
	defaultSummaryTier = "1h"
)

// MetricsHandlers serves the rollup query endpoints
type MetricsHandlers struct {
	query   *services.QueryService
	timeout time.Duration
}

func NewMetricsHandlers(query *services.QueryService, timeout time.Duration) *MetricsHandlers {
	return &MetricsHandlers{
		query:   query,
		timeout: timeout,
	}
}

func (mh *MetricsHandlers) requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	if mh.timeout <= 0 {
		return context.WithCancel(c.Request().Context())
	}
	return context.WithTimeout(c.Request().Context(), mh.timeout)
}

func parseRange(c echo.Context, defaultTier string) (services.RangeQuery, error) {
	tier := c.QueryParam("tier")
	if tier == "" {
		tier = defaultTier
	}
	if !models.IsValidTier(tier) {
		return services.RangeQuery{}, services.ErrInvalidTier
	}

	start, err := utils.ParseTimeParam("start", c.QueryParam("start"))
	if err != nil {
		return services.RangeQuery{}, err
	}
	end, err := utils.ParseTimeParam("end", c.QueryParam("end"))
	if err != nil {
		return services.RangeQuery{}, err
	}

	return services.RangeQuery{Tier: tier, Start: start, End: end}, nil
}

func badRequest(c echo.Context, err error) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
}

func queryError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, services.ErrInvalidTier):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": services.ErrInvalidTier.Error()})
	case errors.Is(err, services.ErrInvalidTimeRange):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": services.ErrInvalidTimeRange.Error()})
	case errors.Is(err, services.ErrNoSnapshot):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}

	log.Printf("Metrics query %s failed: %v", c.Path(), err)
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

// GetHistory returns snapshots of a tier, newest first
func (mh *MetricsHandlers) GetHistory(c echo.Context) error {
	r, err := parseRange(c, defaultHistoryTier)
	if err != nil {
		return badRequest(c, err)
	}

	ctx, cancel := mh.requestContext(c)
	defer cancel()

	result, err := mh.query.History(ctx, services.HistoryQuery{
		RangeQuery: r,
		Limit:      utils.ParseLimit(c.QueryParam("limit"), services.DefaultHistoryLimit),
	})
	if err != nil {
		return queryError(c, err)
	}

	return c.JSON(http.StatusOK, result)
}

// GetDeviceHistory returns the metric of one device in each snapshot where it was active
func (mh *MetricsHandlers) GetDeviceHistory(c echo.Context) error {
	mac := c.Param("mac")
	if mac == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "mac address required"})
	}

	r, err := parseRange(c, defaultHistoryTier)
	if err != nil {
		return badRequest(c, err)
	}

	ctx, cancel := mh.requestContext(c)
	defer cancel()

	result, err := mh.query.DeviceHistory(ctx, services.DeviceHistoryQuery{RangeQuery: r, MAC: mac})
	if err != nil {
		return queryError(c, err)
	}

	return c.JSON(http.StatusOK, result)
}

// GetSummary returns averages and peaks over a range
func (mh *MetricsHandlers) GetSummary(c echo.Context) error {
	r, err := parseRange(c, defaultSummaryTier)
	if err != nil {
		return badRequest(c, err)
	}

	ctx, cancel := mh.requestContext(c)
	defer cancel()

	result, err := mh.query.Summary(ctx, r)
	if err != nil {
		return queryError(c, err)
	}

	if result.NoData {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"tier":  result.Tier,
			"start": result.Start,
			"end":   result.End,
			"error": "no data available for this time range",
		})
	}

	return c.JSON(http.StatusOK, result.Summary)
}

// GetLatest returns the newest snapshot of a tier
func (mh *MetricsHandlers) GetLatest(c echo.Context) error {
	tier := c.QueryParam("tier")
	if tier == "" {
		tier = defaultHistoryTier
	}
	if !models.IsValidTier(tier) {
		return badRequest(c, services.ErrInvalidTier)
	}

	ctx, cancel := mh.requestContext(c)
	defer cancel()

	snapshot, err := mh.query.Latest(ctx, tier)
	if err != nil {
		return queryError(c, err)
	}

	return c.JSON(http.StatusOK, snapshot)
}
