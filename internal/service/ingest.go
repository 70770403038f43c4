package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/beamline-tools/specmeta/internal/config"
	"github.com/beamline-tools/specmeta/internal/counters"
	"github.com/beamline-tools/specmeta/internal/discovery"
	"github.com/beamline-tools/specmeta/internal/domain"
	"github.com/beamline-tools/specmeta/internal/offset"
	"github.com/beamline-tools/specmeta/internal/scanfile"
	"github.com/beamline-tools/specmeta/internal/writer"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Ingestor drives the discovery/parse/persist cycle: it probes for scan
// files, parses new content, materializes tables, applies the counter
// hook and hands finished scans to the writer. Distinct files may be
// persisted in parallel; a single ParsedFile is never touched by two
// goroutines.
type Ingestor struct {
	cfg     *config.Config
	updater *discovery.Updater
	reader  *scanfile.DataReader
	offsets offset.Store      // may be nil
	writer  writer.ScanWriter // may be nil
	hook    counters.Hook
	tracer  trace.Tracer

	stopCh chan struct{}
	kickCh chan struct{}
	stop   sync.Once
}

// NewIngestor wires an ingest service from configuration. offsets and w
// may be nil to disable progress persistence or the downstream artifact.
func NewIngestor(cfg *config.Config, offsets offset.Store, w writer.ScanWriter, hook counters.Hook) (*Ingestor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if hook == nil {
		hook = counters.NopHook{}
	}

	updater := discovery.New(cfg.ScanDir, cfg.FileFormat, cfg.StartScan, cfg.ScanList,
		scanfile.WithFollowTail(cfg.FollowTail))
	reader := scanfile.NewDataReader(
		scanfile.WithSpectralLineCapacity(cfg.SpectralLineCapacity))

	return &Ingestor{
		cfg:     cfg,
		updater: updater,
		reader:  reader,
		offsets: offsets,
		writer:  w,
		hook:    hook,
		tracer:  otel.Tracer("specmeta/ingest"),
		stopCh:  make(chan struct{}),
		kickCh:  make(chan struct{}, 1),
	}, nil
}

// Updater exposes the discovery state, mainly for callers that want to
// inspect parsed scans directly.
func (s *Ingestor) Updater() *discovery.Updater {
	return s.updater
}

// Start runs the ingest loop until the context is cancelled or Stop is
// called. The first pass picks up everything already on disk; afterwards
// passes run on every poll tick and on filesystem events when watching
// is enabled.
func (s *Ingestor) Start(ctx context.Context) error {
	log.Info().
		Str("dir", s.cfg.ScanDir).
		Str("format", s.cfg.FileFormat).
		Bool("watch", s.cfg.Watch).
		Msg("Starting scan file ingestor")

	if s.cfg.Watch {
		go s.watch(ctx)
	}

	if err := s.runPass(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		case <-s.kickCh:
			if err := s.runPass(ctx); err != nil {
				return err
			}
		case <-ticker.C:
			if err := s.runPass(ctx); err != nil {
				return err
			}
		}
	}
}

// Stop stops the ingest loop and releases the writer and offset store.
func (s *Ingestor) Stop() error {
	s.stop.Do(func() { close(s.stopCh) })

	var firstErr error
	if s.writer != nil {
		if err := s.writer.Flush(context.Background()); err != nil {
			firstErr = err
		}
		if err := s.writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.offsets != nil {
		if err := s.offsets.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// runPass executes one discovery pass and persists every file the pass
// touched. Per-scan problems degrade scans; only I/O failures propagate.
func (s *Ingestor) runPass(ctx context.Context) error {
	runID := uuid.NewString()
	ctx, span := s.tracer.Start(ctx, "ingest.pass",
		trace.WithAttributes(attribute.String("run_id", runID)))
	defer span.End()

	files, err := s.updater.Pass()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("discovery pass failed: %w", err)
	}
	if len(files) == 0 {
		return nil
	}

	log.Info().
		Str("run_id", runID).
		Int("files", len(files)).
		Msg("Persisting touched scan files")

	workers := s.cfg.MaxWorkers
	if workers > len(files) {
		workers = len(files)
	}

	fileCh := make(chan *scanfile.ParsedFile, len(files))
	errCh := make(chan error, len(files))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pf := range fileCh {
				if err := s.persistFile(ctx, runID, pf); err != nil {
					errCh <- err
				}
			}
		}()
	}
	for _, pf := range files {
		fileCh <- pf
	}
	close(fileCh)
	wg.Wait()
	close(errCh)

	for err := range errCh {
		span.RecordError(err)
		return err
	}

	span.SetAttributes(attribute.Int("files", len(files)))
	return nil
}

// persistFile materializes and writes every scan of one parsed file, then
// records its progress.
func (s *Ingestor) persistFile(ctx context.Context, runID string, pf *scanfile.ParsedFile) error {
	if s.skipUnchanged(ctx, pf) {
		return nil
	}

	for _, scan := range pf.Scans {
		materialize := scan.Table() == nil &&
			(s.writer != nil || s.cfg.ReadAllData)
		if materialize {
			table, err := s.reader.Read(scan)
			if err != nil {
				return fmt.Errorf("read data for %s: %w", scan.Name, err)
			}
			if table != nil {
				if err := s.hook.Apply(scan.Number, table); err != nil {
					// A broken counter definition must not lose the
					// base data.
					log.Warn().
						Err(err).
						Str("scan", scan.Name).
						Msg("Counter hook failed, keeping base counters")
				}
			}
		}

		if s.writer != nil {
			if err := s.writer.WriteScan(ctx, scan, scan.Table()); err != nil {
				return fmt.Errorf("write %s: %w", scan.Name, err)
			}
		}
		if !s.cfg.ReadAllData {
			scan.SetTable(nil)
		}
	}

	return s.recordProgress(ctx, runID, pf)
}

// skipUnchanged consults the offset store: a file whose stored progress
// matches its current parse state was already fully ingested by an
// earlier run and is skipped unless overwriting.
func (s *Ingestor) skipUnchanged(ctx context.Context, pf *scanfile.ParsedFile) bool {
	if s.offsets == nil || s.cfg.Overwrite {
		return false
	}
	stored, err := s.offsets.Get(ctx, offset.SourceScanFile, pf.Path)
	if err != nil {
		log.Warn().Err(err).Str("file", pf.Path).Msg("Failed to read stored offset")
		return false
	}
	if stored == nil {
		return false
	}
	if stored.OffsetBytes == pf.LastOffset && stored.ScansParsed == len(pf.Scans) {
		log.Debug().
			Str("file", pf.Path).
			Msg("File unchanged since last ingest, skipping persist")
		return true
	}
	return false
}

func (s *Ingestor) recordProgress(ctx context.Context, runID string, pf *scanfile.ParsedFile) error {
	var lastScan int64
	if n := len(pf.Scans); n > 0 {
		lastScan = pf.Scans[n-1].Number
	}

	if s.offsets != nil {
		err := s.offsets.Set(ctx, offset.SourceScanFile, &offset.FileOffset{
			FilePath:       pf.Path,
			OffsetBytes:    pf.LastOffset,
			ScansParsed:    len(pf.Scans),
			LastScanNumber: lastScan,
			UpdatedAt:      time.Now(),
		})
		if err != nil {
			log.Warn().Err(err).Str("file", pf.Path).Msg("Failed to save offset")
		}
	}

	if s.writer != nil {
		var size int64
		if stat, err := os.Stat(pf.Path); err == nil {
			size = stat.Size()
		}
		progress := &domain.FileProgress{
			Timestamp:      time.Now(),
			RunID:          runID,
			FilePath:       pf.Path,
			FileName:       filepath.Base(pf.Path),
			FileSizeBytes:  size,
			OffsetBytes:    pf.LastOffset,
			ScansParsed:    len(pf.Scans),
			LastScanNumber: lastScan,
		}
		if err := s.writer.WriteProgress(ctx, progress); err != nil {
			log.Warn().Err(err).Str("file", pf.Path).Msg("Failed to write progress")
		}
	}
	return nil
}
