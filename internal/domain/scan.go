package domain

import (
	"fmt"
	"math"
)

// ScanStatus describes the outcome of parsing a single scan.
type ScanStatus uint8

const (
	// StatusOK means header and data were parsed consistently.
	StatusOK ScanStatus = iota
	// StatusNoData means the scan produced no usable data block.
	StatusNoData
	// StatusAborted means the producer stopped the scan and never resumed it.
	StatusAborted
	// StatusCorrupted is reserved for externally detected data corruption.
	StatusCorrupted
)

func (s ScanStatus) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusNoData:
		return "NODATA"
	case StatusAborted:
		return "ABORTED"
	case StatusCorrupted:
		return "CORRUPTED"
	default:
		return fmt.Sprintf("ScanStatus(%d)", uint8(s))
	}
}

// SpectralParams describes a multi-channel (MCA) payload attached to each
// data row. ColumnFormat is the number of channels stored per line.
type SpectralParams struct {
	ColumnFormat int
	Channels     int
	StartChannel int
	StopChannel  int
}

// NoDataOffset marks a scan that never reached its data block.
const NoDataOffset int64 = -1

// ScanRecord is the metadata of one scan within a scan log file. Once
// appended to a ParsedFile's scan list it is not modified, except that the
// last appended record may be replaced wholesale on a re-parse, and that
// table materialization may demote Status to NODATA.
type ScanRecord struct {
	Number          int64
	Name            string // "scan_<number>"
	Command         string
	Date            string
	Time            string
	IntegrationTime float64 // NaN when the header never declared it
	ColumnNames     []string
	HeaderOffset    int64
	DataOffset      int64 // NoDataOffset when the scan produced no data
	FilePath        string
	MotorNames      []string
	MotorValues     []float64
	Spectral        *SpectralParams
	Status          ScanStatus

	table *ScanTable
}

// NewScanRecord returns a record with the fields that are always known at
// scan start and the absent-value defaults for everything else.
func NewScanRecord(number, headerOffset int64, filePath string) *ScanRecord {
	return &ScanRecord{
		Number:          number,
		Name:            fmt.Sprintf("scan_%d", number),
		IntegrationTime: math.NaN(),
		HeaderOffset:    headerOffset,
		DataOffset:      NoDataOffset,
		FilePath:        filePath,
		Status:          StatusOK,
	}
}

// HasData reports whether the scan reached a data block.
func (s *ScanRecord) HasData() bool {
	return s.DataOffset != NoDataOffset
}

// Table returns the materialized data table, or nil if it has not been
// read yet (or the scan has no data).
func (s *ScanRecord) Table() *ScanTable {
	return s.table
}

// SetTable attaches a materialized table. A nil table clears it, which
// callers use to drop data after persisting (read-and-forget).
func (s *ScanRecord) SetTable(t *ScanTable) {
	s.table = t
}
