package scanfile

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/beamline-tools/specmeta/internal/domain"
	"github.com/rs/zerolog/log"
)

// ParsedFile is the parse state of one physical scan log file. The scan
// list is append-only and ordered by discovery; LastOffset is the next
// unread byte and only ever moves forward, except for the deliberate tail
// rewind that re-exposes a possibly still-growing last scan.
//
// A ParsedFile is not safe for concurrent use. Distinct ParsedFiles share
// no state and may be driven from independent goroutines.
type ParsedFile struct {
	Path       string
	LastOffset int64
	Scans      []*domain.ScanRecord

	classifier LineClassifier
	followTail bool

	// Motor names declared by #MOT lines outside any scan, since the
	// last #E marker. Seeds every scan started afterwards.
	fileMotorNames []string
}

// Option configures a ParsedFile.
type Option func(*ParsedFile)

// WithClassifier replaces the default line classifier.
func WithClassifier(c LineClassifier) Option {
	return func(f *ParsedFile) { f.classifier = c }
}

// WithFollowTail controls the end-of-stream tail rewind. When false the
// file is assumed complete and the last scan is never re-exposed to the
// next pass.
func WithFollowTail(v bool) Option {
	return func(f *ParsedFile) { f.followTail = v }
}

// NewParsedFile creates an empty ParsedFile for path. Nothing is read
// until Parse or Update is called.
func NewParsedFile(path string, opts ...Option) *ParsedFile {
	f := &ParsedFile{
		Path:       path,
		classifier: NewClassifier(),
		followTail: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Scan returns the first scan with the given number.
func (f *ParsedFile) Scan(number int64) (*domain.ScanRecord, bool) {
	for _, s := range f.Scans {
		if s.Number == number {
			return s, true
		}
	}
	return nil, false
}

// pendingScan accumulates header fields between a #RUN marker and the
// line that finalizes the scan.
type pendingScan struct {
	rec               *domain.ScanRecord
	sawScanMotorNames bool
	sawSpectral       bool
	spectral          domain.SpectralParams
	abortPending      bool
}

// Update re-parses the file, replacing the last appended scan instead of
// resuming behind it. A scan whose data was still being written on the
// previous pass is rebuilt in full rather than duplicated; earlier scans
// are never touched.
func (f *ParsedFile) Update() error {
	if n := len(f.Scans); n > 0 {
		stale := f.Scans[n-1]
		f.Scans = f.Scans[:n-1]
		f.LastOffset = stale.HeaderOffset
		log.Debug().
			Str("file", f.Path).
			Int64("scan", stale.Number).
			Int64("offset", stale.HeaderOffset).
			Msg("Re-parsing stale last scan")
	}
	return f.Parse()
}

// Parse consumes the file from LastOffset, appending every scan whose
// header block terminates within the stream. A header still open at end
// of stream is discarded and re-derived on the next pass. Only I/O
// failures are returned; malformed content degrades individual scans.
func (f *ParsedFile) Parse() error {
	rc, err := openDataFile(f.Path)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := skipTo(rc, f.LastOffset); err != nil {
		return fmt.Errorf("seek %s to %d: %w", f.Path, f.LastOffset, err)
	}

	r := bufio.NewReaderSize(rc, 64*1024)
	cursor := f.LastOffset
	st := &pendingScan{}
	pending := false

	for {
		raw, readErr := r.ReadBytes('\n')
		if len(raw) > 0 {
			line := strings.TrimSpace(string(raw))
			if line != "" {
				pending = f.consume(line, cursor, st, pending)
			}
			// The cursor advances by the encoded length, newline
			// included, never by the trimmed length.
			cursor += int64(len(raw))
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("read %s: %w", f.Path, readErr)
		}
	}

	switch {
	case pending:
		// Unterminated header: discard and re-derive next pass.
		f.LastOffset = st.rec.HeaderOffset
	case f.followTail && len(f.Scans) > 0:
		// Re-expose the last scan's tail; its data may still be
		// growing. Callers use Update to replace it.
		last := f.Scans[len(f.Scans)-1]
		if last.HasData() {
			f.LastOffset = last.DataOffset
		} else {
			f.LastOffset = last.HeaderOffset
		}
	default:
		f.LastOffset = cursor
	}

	log.Debug().
		Str("file", f.Path).
		Int("scans", len(f.Scans)).
		Int64("last_offset", f.LastOffset).
		Msg("Parse pass complete")
	return nil
}

// consume feeds one non-empty trimmed line to the state machine. offset
// is the byte position of the line's first encoded byte. It returns
// whether a scan header is open after the line.
func (f *ParsedFile) consume(line string, offset int64, st *pendingScan, pending bool) bool {
	cls := f.classifier.Classify(line)

	if !pending {
		switch cls.Kind {
		case KindFileHeader:
			f.fileMotorNames = nil
		case KindMotorNames:
			f.fileMotorNames = append(f.fileMotorNames, splitMotorNames(cls.Rest)...)
		case KindScanStart:
			return f.openScan(cls.Rest, offset, st)
		}
		return false
	}

	if st.abortPending {
		switch cls.Kind {
		case KindResume:
			st.abortPending = false
			st.rec.Status = domain.StatusOK
			return true
		case KindComment:
			return true
		case KindAbort:
			// Second abort with no resume: give up on the scan.
			st.rec.Status = domain.StatusNoData
			f.finalize(st)
			return false
		case KindScanStart:
			f.finalize(st)
			return f.openScan(cls.Rest, offset, st)
		default:
			// End of the aborted block.
			f.finalize(st)
			return false
		}
	}

	rec := st.rec
	switch cls.Kind {
	case KindAbort:
		st.abortPending = true
		rec.Status = domain.StatusAborted
	case KindResume, KindComment, KindHeader, KindUnknown:
		// Ignored inside a header block.
	case KindFileHeader:
		// Affects only scans started after this point.
		f.fileMotorNames = nil
	case KindCommand:
		rec.Command = cls.Rest
	case KindTimestamp:
		rec.Date, rec.Time = splitDateTime(cls.Rest)
	case KindExposure:
		if v, ok := firstFloat(cls.Rest); ok {
			rec.IntegrationTime = v
		}
	case KindMotorNames:
		if !st.sawScanMotorNames {
			// Scan-scoped names override the file-header seed.
			rec.MotorNames = nil
			st.sawScanMotorNames = true
		}
		rec.MotorNames = append(rec.MotorNames, splitMotorNames(cls.Rest)...)
	case KindMotorValues:
		// Malformed tokens are dropped inside floatTokens; an empty
		// or partial #VAL line must not abort header parsing.
		rec.MotorValues = append(rec.MotorValues, floatTokens(cls.Rest)...)
	case KindColumnNames:
		rec.ColumnNames = strings.Fields(cls.Rest)
	case KindSpectralFormat:
		if v, ok := firstInt(cls.Rest); ok {
			st.spectral.ColumnFormat = int(v)
			st.sawSpectral = true
		}
	case KindSpectralChannels:
		if vals := intTokens(cls.Rest); len(vals) >= 3 {
			st.spectral.Channels = int(vals[0])
			st.spectral.StartChannel = int(vals[1])
			st.spectral.StopChannel = int(vals[2])
		} else {
			log.Warn().
				Str("file", f.Path).
				Str("line", line).
				Msg("Malformed spectral channel declaration, ignoring")
		}
	case KindScanStart:
		// Two consecutive headers: the first scan never produced data.
		rec.Status = domain.StatusNoData
		f.finalize(st)
		return f.openScan(cls.Rest, offset, st)
	case KindData:
		// End of header. The data block itself is read on demand.
		rec.DataOffset = offset
		f.finalize(st)
		return false
	}
	return true
}

// openScan resets the accumulator for a new scan header. A #RUN line with
// no parseable scan number is ignored.
func (f *ParsedFile) openScan(rest string, offset int64, st *pendingScan) bool {
	number, ok := firstInt(rest)
	if !ok {
		log.Warn().
			Str("file", f.Path).
			Int64("offset", offset).
			Msg("Scan start marker without scan number, ignoring")
		return false
	}
	rec := domain.NewScanRecord(number, offset, f.Path)
	rec.MotorNames = append([]string(nil), f.fileMotorNames...)
	*st = pendingScan{rec: rec}
	return true
}

// finalize appends the pending scan to the scan list.
func (f *ParsedFile) finalize(st *pendingScan) {
	rec := st.rec
	if st.sawSpectral {
		sp := st.spectral
		rec.Spectral = &sp
	}
	if st.abortPending && rec.Status == domain.StatusAborted {
		// An aborted scan never reaches a data block.
		rec.DataOffset = domain.NoDataOffset
	}
	f.Scans = append(f.Scans, rec)
	log.Debug().
		Str("file", f.Path).
		Int64("scan", rec.Number).
		Str("status", rec.Status.String()).
		Bool("has_data", rec.HasData()).
		Msg("Scan finalized")
}
