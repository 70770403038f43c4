package scanfile

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pierrec/lz4/v4"
)

// openDataFile opens a scan log file for reading, transparently decoding
// .gz and .lz4 files. For compressed files all byte offsets refer to the
// decompressed stream; both the parser and the data reader go through
// this helper, so the two stay consistent.
func openDataFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	switch {
	case strings.HasSuffix(path, ".gz"):
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("gzip open %s: %w", path, err)
		}
		return &wrappedReadCloser{r: zr, close: func() error {
			zr.Close()
			return f.Close()
		}}, nil
	case strings.HasSuffix(path, ".lz4"):
		return &wrappedReadCloser{r: lz4.NewReader(f), close: f.Close}, nil
	default:
		return f, nil
	}
}

type wrappedReadCloser struct {
	r     io.Reader
	close func() error
}

func (w *wrappedReadCloser) Read(p []byte) (int, error) { return w.r.Read(p) }
func (w *wrappedReadCloser) Close() error               { return w.close() }

// skipTo positions the reader at offset. Plain files seek; compressed
// streams discard forward, which keeps resume semantics identical at the
// cost of re-decoding the skipped prefix.
func skipTo(r io.Reader, offset int64) error {
	if offset <= 0 {
		return nil
	}
	if s, ok := r.(io.Seeker); ok {
		_, err := s.Seek(offset, io.SeekStart)
		return err
	}
	if _, err := io.CopyN(io.Discard, r, offset); err != nil && err != io.EOF {
		return err
	}
	return nil
}
