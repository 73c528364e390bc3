package domain

import "context"

// Store is the driven port for durable job state. Rows are keyed by origin
// (unique). GetRow returns (nil, nil) when no row exists for the origin.
type Store interface {
	ListRows(ctx context.Context) ([]Row, error)
	GetRow(ctx context.Context, origin string) (*Row, error)
	InsertRow(ctx context.Context, row Row) error
	UpdateRow(ctx context.Context, origin string, changes map[string]any) error
	DeleteRows(ctx context.Context, origins []string) error
	SaveConfig(ctx context.Context, values map[string]string) error
	LoadConfig(ctx context.Context) (map[string]string, error)
}

// ProgressSource exposes the live byte counters of an in-flight transfer.
// Implementations must be safe for concurrent use.
type ProgressSource interface {
	Received() int64
	Total() int64
}

// ProgressFunc is the sink a Downloader calls as it discovers job data.
// Any argument may be zero-valued when not yet known.
type ProgressFunc func(urls []string, title, filepath string, source ProgressSource)

// Downloader is the driven port for the actual transfer. It is invoked once
// per worker activation and runs to completion or failure; the scheduler never
// interrupts it mid-flight.
type Downloader interface {
	Download(ctx context.Context, origin string, opts Options, report ProgressFunc) error
}
