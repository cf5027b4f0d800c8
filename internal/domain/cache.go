package domain

import (
	"context"
	"time"
)

// PriceCache exposes the latest observed prices so downstream readers avoid
// re-reading the snapshot store. The engine writes it each detection cycle.
type PriceCache interface {
	SetPrice(ctx context.Context, marketID string, price float64, ts time.Time) error
	// GetPrices returns cached prices for the given markets; markets without
	// a cached price are omitted.
	GetPrices(ctx context.Context, marketIDs []string) (map[string]float64, error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus fans detected alerts and arbitrage signals out to downstream
// consumers via pub/sub, with a durable stream for replay.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// BlobWriter uploads archive objects to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}
