// Package discovery maps scan numbers to on-disk scan log files and
// drives the parser over every file that is new or has grown.
package discovery

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/beamline-tools/specmeta/internal/scanfile"
	"github.com/rs/zerolog/log"
)

// Updater probes candidate file paths derived from a printf-style naming
// template and parses each existing file. Two modes exist: an explicit
// ordered scan-number list, or sequential probing from a start number.
// Either way a pass stops at the first missing file, which means "no more
// new data", not an error.
//
// An Updater is not safe for concurrent use; the cursor and the retained
// per-file parse state are unprotected.
type Updater struct {
	dir      string
	format   string // e.g. "%07d_meta.log"
	scanList []int64
	cursor   int64

	parserOpts []scanfile.Option

	// Parse state is retained per path so a file that grows between
	// passes is corrected via Update instead of duplicated.
	files    map[string]*scanfile.ParsedFile
	sizes    map[string]int64 // file size when last parsed
	lastPath string
}

// New creates an Updater. When scanList is non-empty it selects explicit
// mode, otherwise sequential mode starting at startScan.
func New(dir, format string, startScan int64, scanList []int64, opts ...scanfile.Option) *Updater {
	cursor := startScan
	if len(scanList) > 0 {
		cursor = scanList[0]
	}
	return &Updater{
		dir:        dir,
		format:     format,
		scanList:   scanList,
		cursor:     cursor,
		parserOpts: opts,
		files:      make(map[string]*scanfile.ParsedFile),
		sizes:      make(map[string]int64),
	}
}

// FilePath resolves the on-disk path for a scan number.
func (u *Updater) FilePath(number int64) string {
	return filepath.Join(u.dir, fmt.Sprintf(u.format, number))
}

// Cursor returns the next scan number to probe.
func (u *Updater) Cursor() int64 {
	return u.cursor
}

// File returns the retained parse state for a path, if any.
func (u *Updater) File(path string) (*scanfile.ParsedFile, bool) {
	pf, ok := u.files[path]
	return pf, ok
}

// Pass runs one discovery pass and returns the files parsed or updated
// during it, in order. Only I/O errors on existing files are returned.
func (u *Updater) Pass() ([]*scanfile.ParsedFile, error) {
	var touched []*scanfile.ParsedFile

	if len(u.scanList) > 0 {
		// Explicit mode re-probes the cursor number itself, which
		// covers a still-growing last file.
		return u.passExplicit(touched)
	}

	// Sequential mode never revisits numbers below the cursor, so the
	// most recently parsed file is refreshed here when it has grown.
	if pf, ok := u.files[u.lastPath]; ok {
		grown, err := u.hasGrown(pf)
		if err != nil {
			return touched, err
		}
		if grown {
			if err := pf.Update(); err != nil {
				return touched, fmt.Errorf("update %s: %w", pf.Path, err)
			}
			u.recordSize(pf.Path)
			touched = append(touched, pf)
		}
	}
	return u.passSequential(touched)
}

func (u *Updater) passExplicit(touched []*scanfile.ParsedFile) ([]*scanfile.ParsedFile, error) {
	for _, nb := range u.scanList {
		if nb < u.cursor {
			continue
		}
		u.cursor = nb
		pf, ok, err := u.probe(nb)
		if err != nil {
			return touched, err
		}
		if !ok {
			break
		}
		touched = append(touched, pf)
	}
	return touched, nil
}

func (u *Updater) passSequential(touched []*scanfile.ParsedFile) ([]*scanfile.ParsedFile, error) {
	for {
		pf, ok, err := u.probe(u.cursor)
		if err != nil {
			return touched, err
		}
		if !ok {
			return touched, nil
		}
		touched = append(touched, pf)
		u.cursor++
	}
}

// probe parses the file for one scan number. ok is false when the file
// does not exist.
func (u *Updater) probe(number int64) (*scanfile.ParsedFile, bool, error) {
	path := u.FilePath(number)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			log.Debug().
				Int64("scan", number).
				Str("path", path).
				Msg("No file for scan number, stopping pass")
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("stat %s: %w", path, err)
	}

	pf, seen := u.files[path]
	if !seen {
		pf = scanfile.NewParsedFile(path, u.parserOpts...)
		u.files[path] = pf
	}
	var err error
	if seen {
		err = pf.Update()
	} else {
		err = pf.Parse()
	}
	if err != nil {
		return nil, false, fmt.Errorf("parse %s: %w", path, err)
	}
	u.lastPath = path
	u.recordSize(path)
	log.Info().
		Int64("scan", number).
		Str("path", path).
		Int("scans", len(pf.Scans)).
		Msg("Parsed scan file")
	return pf, true, nil
}

// hasGrown reports whether a previously parsed file has more bytes than
// when it was last parsed. A vanished file is not an error; it simply
// stops being followed.
func (u *Updater) hasGrown(pf *scanfile.ParsedFile) (bool, error) {
	stat, err := os.Stat(pf.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", pf.Path, err)
	}
	return stat.Size() > u.sizes[pf.Path], nil
}

func (u *Updater) recordSize(path string) {
	if stat, err := os.Stat(path); err == nil {
		u.sizes[path] = stat.Size()
	}
}
