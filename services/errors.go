package services

import "errors"

var (
	ErrInvalidTier       = errors.New("tier must be 1m, 5m, or 1h")
	ErrInvalidTimeRange  = errors.New("start must not be after end")
	ErrDuplicateSnapshot = errors.New("snapshot already exists for this tier and window")
	ErrMongoDisabled     = errors.New("MongoDB not enabled")
	ErrNoSnapshot        = errors.New("no snapshot available")
)
