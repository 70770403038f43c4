package writer

import (
	"context"

	"github.com/beamline-tools/specmeta/internal/domain"
)

// ScanWriter persists parsed scans downstream. The core never decides the
// persisted schema; it only hands over the scan metadata and, when
// materialized, the row table. Implementations own the
// overwrite-vs-reuse policy for scans that were persisted before.
type ScanWriter interface {
	// WriteScan persists one scan. table may be nil for scans without
	// data; metadata is persisted regardless so failed scan numbers
	// stay visible downstream.
	WriteScan(ctx context.Context, scan *domain.ScanRecord, table *domain.ScanTable) error

	// WriteProgress records a file parse progress snapshot for
	// monitoring.
	WriteProgress(ctx context.Context, progress *domain.FileProgress) error

	// Flush forces out any buffered writes.
	Flush(ctx context.Context) error

	// Close flushes and releases the writer.
	Close() error
}
