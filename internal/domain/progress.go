package domain

import "time"

// FileProgress is a monitoring snapshot of how far a scan log file has
// been parsed. It mirrors the persistent offset store with extra context
// for operators.
type FileProgress struct {
	Timestamp      time.Time
	RunID          string // ingest pass that produced this snapshot
	FilePath       string
	FileName       string
	FileSizeBytes  int64
	OffsetBytes    int64 // next unread byte
	ScansParsed    int
	LastScanNumber int64
}
