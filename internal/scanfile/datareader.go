package scanfile

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/beamline-tools/specmeta/internal/domain"
	"github.com/rs/zerolog/log"
)

// SpectralColumnName is the column under which assembled MCA payloads are
// attached to the row table.
const SpectralColumnName = "MCA"

// RowAssembler turns raw data lines into typed row content. The default
// implementation tokenizes numerics; alternative assemblers exist so data
// assembly is testable apart from the reader's line loop.
type RowAssembler interface {
	// ScalarRow extracts the scalar fields of one data line.
	ScalarRow(line string) []float64
	// SpectralBlock concatenates the channel values spread over the
	// lines of one MCA block.
	SpectralBlock(lines []string) []int64
}

type numericAssembler struct{}

func (numericAssembler) ScalarRow(line string) []float64 {
	return floatTokens(line)
}

func (numericAssembler) SpectralBlock(lines []string) []int64 {
	var out []int64
	for _, l := range lines {
		out = append(out, intTokens(l)...)
	}
	return out
}

// DataReader materializes the data table of a finalized scan from its
// stored data offset. A reader holds no per-file state and may be shared
// across goroutines reading distinct scans.
type DataReader struct {
	classifier LineClassifier
	assembler  RowAssembler

	// Channels per spectral line. Zero means use the per-line count the
	// scan's #@MCA declaration carries.
	lineCapacity int
}

// ReaderOption configures a DataReader.
type ReaderOption func(*DataReader)

// WithReaderClassifier replaces the default line classifier.
func WithReaderClassifier(c LineClassifier) ReaderOption {
	return func(r *DataReader) { r.classifier = c }
}

// WithRowAssembler replaces the default numeric row assembler.
func WithRowAssembler(a RowAssembler) ReaderOption {
	return func(r *DataReader) { r.assembler = a }
}

// WithSpectralLineCapacity overrides the declared channels-per-line count
// used to size MCA blocks.
func WithSpectralLineCapacity(n int) ReaderOption {
	return func(r *DataReader) { r.lineCapacity = n }
}

func NewDataReader(opts ...ReaderOption) *DataReader {
	r := &DataReader{
		classifier: NewClassifier(),
		assembler:  numericAssembler{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read materializes the full row table for scan and attaches it to the
// record. Scans without data yield a nil table and no error. Any row not
// matching the declared schema demotes the scan to NODATA with no table;
// a partially filled table is never returned. I/O failures propagate.
func (r *DataReader) Read(scan *domain.ScanRecord) (*domain.ScanTable, error) {
	if scan.Status == domain.StatusNoData || !scan.HasData() {
		log.Debug().
			Str("scan", scan.Name).
			Str("status", scan.Status.String()).
			Msg("No data available for scan")
		return nil, nil
	}

	rc, err := openDataFile(scan.FilePath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	if err := skipTo(rc, scan.DataOffset); err != nil {
		return nil, fmt.Errorf("seek %s to %d: %w", scan.FilePath, scan.DataOffset, err)
	}

	mcaLineCount, mcaChannels := r.spectralShape(scan)

	var (
		rows       [][]float64
		spectra    [][]int64
		pendingRow []float64
		mcaBlock   []string
		mcaCounter int
		aborted    bool
	)

	br := bufio.NewReaderSize(rc, 64*1024)
reading:
	for {
		raw, readErr := br.ReadBytes('\n')
		line := strings.TrimSpace(string(raw))
		if line != "" {
			cls := r.classifier.Classify(line)

			switch {
			case aborted:
				switch cls.Kind {
				case KindResume:
					scan.Status = domain.StatusOK
					aborted = false
				case KindComment:
					// consumed silently
				default:
					break reading
				}
			case cls.Kind == KindAbort:
				scan.Status = domain.StatusAborted
				aborted = true
				// An abort interrupts any half-assembled MCA block.
				pendingRow, mcaBlock, mcaCounter = nil, nil, 0
			case cls.Kind == KindResume, cls.Kind == KindComment:
				// consumed silently
			case cls.Kind == KindData:
				if mcaCounter == 0 {
					vals := r.assembler.ScalarRow(line)
					if mcaLineCount > 0 {
						pendingRow = vals
						mcaBlock = mcaBlock[:0]
						mcaCounter = 1
					} else {
						rows = append(rows, vals)
					}
				} else {
					mcaBlock = append(mcaBlock, line)
					mcaCounter++
					if mcaCounter > mcaLineCount {
						rows = append(rows, pendingRow)
						spectra = append(spectra, r.assembler.SpectralBlock(mcaBlock))
						pendingRow, mcaCounter = nil, 0
					}
				}
			case cls.Kind == KindUnknown:
				// Stray diagnostics between rows; not a terminator.
				log.Debug().
					Str("scan", scan.Name).
					Str("line", line).
					Msg("Skipping unrecognized line in data block")
			default:
				// Any other header line ends the data block.
				break reading
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("read %s: %w", scan.FilePath, readErr)
		}
	}

	table, ok := r.buildTable(scan, rows, spectra, mcaChannels)
	if !ok {
		scan.Status = domain.StatusNoData
		scan.SetTable(nil)
		return nil, nil
	}
	scan.SetTable(table)
	return table, nil
}

// spectralShape resolves the number of lines one MCA block spans and the
// declared channel count. Returns zeros when the scan has no usable
// spectral declaration.
func (r *DataReader) spectralShape(scan *domain.ScanRecord) (lines, channels int) {
	sp := scan.Spectral
	if sp == nil || sp.Channels <= 0 {
		return 0, 0
	}
	capacity := r.lineCapacity
	if capacity <= 0 {
		capacity = sp.ColumnFormat
	}
	if capacity <= 0 {
		log.Warn().
			Str("scan", scan.Name).
			Msg("Spectral scan without line capacity, treating as scalar data")
		return 0, 0
	}
	return (sp.Channels + capacity - 1) / capacity, sp.Channels
}

// buildTable validates row arity against the declared schema and builds
// the table. ok is false on any shape mismatch.
func (r *DataReader) buildTable(scan *domain.ScanRecord, rows [][]float64, spectra [][]int64, mcaChannels int) (*domain.ScanTable, bool) {
	if len(rows) == 0 {
		log.Warn().Str("scan", scan.Name).Msg("Scan produced no data rows")
		return nil, false
	}
	arity := len(scan.ColumnNames)
	for i, row := range rows {
		if len(row) != arity {
			log.Warn().
				Str("scan", scan.Name).
				Int("row", i).
				Int("fields", len(row)).
				Int("expected", arity).
				Msg("Data row does not match declared column schema")
			return nil, false
		}
	}
	table := &domain.ScanTable{
		Columns: append([]string(nil), scan.ColumnNames...),
		Scalars: rows,
	}
	if mcaChannels > 0 {
		if len(spectra) != len(rows) {
			log.Warn().
				Str("scan", scan.Name).
				Int("spectra", len(spectra)).
				Int("rows", len(rows)).
				Msg("Spectral block count does not match row count")
			return nil, false
		}
		for i, sp := range spectra {
			if len(sp) != mcaChannels {
				log.Warn().
					Str("scan", scan.Name).
					Int("row", i).
					Int("channels", len(sp)).
					Int("expected", mcaChannels).
					Msg("Spectral payload has wrong channel count")
				return nil, false
			}
		}
		table.SpectralColumn = SpectralColumnName
		table.Spectra = spectra
	}
	return table, true
}
