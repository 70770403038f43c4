package offset

import (
	"context"
	"time"
)

// SourceScanFile is the source type under which scan log file offsets are
// stored.
const SourceScanFile = "scan_file"

// FileOffset is the persisted parse progress of one scan log file.
type FileOffset struct {
	FilePath       string    `json:"file_path"`
	OffsetBytes    int64     `json:"offset_bytes"`
	ScansParsed    int       `json:"scans_parsed"`
	LastScanNumber int64     `json:"last_scan_number"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Store persists file parse progress across process restarts, so a
// restarted ingester knows which files were already fully processed.
type Store interface {
	// Get retrieves the stored progress for a file, nil when absent.
	Get(ctx context.Context, sourceType, filePath string) (*FileOffset, error)

	// Set stores the progress for a file.
	Set(ctx context.Context, sourceType string, off *FileOffset) error

	// Delete removes the stored progress for a file.
	Delete(ctx context.Context, sourceType, filePath string) error

	// List returns all stored progress records keyed by sourceType:path.
	List(ctx context.Context) (map[string]*FileOffset, error)

	// Close closes the store.
	Close() error
}
