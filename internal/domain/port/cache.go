package port

import "context"

// ReportCache is a keyed store of finished reports. Keys are the
// video/subtitle filename pair; values are the serialized report.
type ReportCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}
