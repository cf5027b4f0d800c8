package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientData  = errors.New("insufficient data for baseline")
	ErrDuplicateAlert    = errors.New("duplicate alert suppressed")
	ErrSourceUnavailable = errors.New("data source unavailable")
	ErrStoreWrite        = errors.New("store write failed")
	ErrUndetermined      = errors.New("outcome undetermined")
)
