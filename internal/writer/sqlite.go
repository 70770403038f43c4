package writer

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/beamline-tools/specmeta/internal/domain"
	"github.com/beamline-tools/specmeta/internal/retry"
	"github.com/rs/zerolog/log"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteWriter persists scans into a local SQLite database, one artifact
// per experiment, next to the raw files.
type SQLiteWriter struct {
	db        *sql.DB
	overwrite bool
	retryCfg  retry.Config
}

// NewSQLiteWriter opens (or creates) the database at path. With overwrite
// false, a scan number already present for the same file is left
// untouched; with overwrite true it is deleted and rewritten.
func NewSQLiteWriter(path string, overwrite bool) (*SQLiteWriter, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("error opening sqlite database at %s: %w", path, err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scans (
			id INTEGER NOT NULL PRIMARY KEY,
			file_path TEXT NOT NULL,
			scan_number INTEGER NOT NULL,
			name TEXT NOT NULL,
			command TEXT,
			date TEXT,
			time TEXT,
			integration_time REAL,
			status TEXT NOT NULL,
			column_names TEXT,
			motor_names TEXT,
			motor_values TEXT,
			header_offset INTEGER NOT NULL,
			data_offset INTEGER,
			UNIQUE(file_path, scan_number));`,
		`CREATE TABLE IF NOT EXISTS scan_points (
			scan_id INTEGER NOT NULL,
			row INTEGER NOT NULL,
			column_name TEXT NOT NULL,
			value REAL,
			FOREIGN KEY(scan_id) REFERENCES scans(id));`,
		`CREATE TABLE IF NOT EXISTS scan_spectra (
			scan_id INTEGER NOT NULL,
			row INTEGER NOT NULL,
			channels TEXT NOT NULL,
			FOREIGN KEY(scan_id) REFERENCES scans(id));`,
		`CREATE TABLE IF NOT EXISTS file_progress (
			timestamp DATETIME NOT NULL,
			run_id TEXT NOT NULL,
			file_path TEXT NOT NULL,
			file_name TEXT NOT NULL,
			file_size_bytes INTEGER NOT NULL,
			offset_bytes INTEGER NOT NULL,
			scans_parsed INTEGER NOT NULL,
			last_scan_number INTEGER NOT NULL);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("error creating schema: %w", err)
		}
	}

	log.Info().
		Str("path", path).
		Bool("overwrite", overwrite).
		Msg("SQLite scan writer initialized")

	return &SQLiteWriter{
		db:        db,
		overwrite: overwrite,
		retryCfg:  retry.DefaultConfig(),
	}, nil
}

// WriteScan persists one scan and its table, honoring the
// overwrite-vs-reuse policy.
func (w *SQLiteWriter) WriteScan(ctx context.Context, scan *domain.ScanRecord, table *domain.ScanTable) error {
	return retry.Do(ctx, w.retryCfg, func() error {
		return w.writeScanOnce(ctx, scan, table)
	})
}

func (w *SQLiteWriter) writeScanOnce(ctx context.Context, scan *domain.ScanRecord, table *domain.ScanTable) error {
	var existing int64
	err := w.db.QueryRowContext(ctx,
		"SELECT id FROM scans WHERE file_path = ? AND scan_number = ?;",
		scan.FilePath, scan.Number).Scan(&existing)
	switch {
	case err == nil:
		if !w.overwrite {
			log.Debug().
				Str("scan", scan.Name).
				Str("file", scan.FilePath).
				Msg("Scan already persisted, skipping")
			return nil
		}
		if err := w.deleteScan(ctx, existing); err != nil {
			return err
		}
	case err != sql.ErrNoRows:
		return fmt.Errorf("error checking for existing scan %s: %w", scan.Name, err)
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	var dataOffset any
	if scan.HasData() {
		dataOffset = scan.DataOffset
	}
	itime := any(scan.IntegrationTime)
	if math.IsNaN(scan.IntegrationTime) {
		itime = nil
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO scans (file_path, scan_number, name, command, date, time,
			integration_time, status, column_names, motor_names, motor_values,
			header_offset, data_offset)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		scan.FilePath, scan.Number, scan.Name, scan.Command, scan.Date, scan.Time,
		itime, scan.Status.String(),
		strings.Join(scan.ColumnNames, "\t"),
		strings.Join(scan.MotorNames, "\t"),
		joinFloats(scan.MotorValues),
		scan.HeaderOffset, dataOffset)
	if err != nil {
		return fmt.Errorf("error inserting scan %s: %w", scan.Name, err)
	}
	scanID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("error getting scan id for %s: %w", scan.Name, err)
	}

	if table != nil {
		if err := w.insertTable(ctx, tx, scanID, table); err != nil {
			return fmt.Errorf("error inserting table for %s: %w", scan.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing scan %s: %w", scan.Name, err)
	}

	log.Debug().
		Str("scan", scan.Name).
		Int("rows", tableRows(table)).
		Msg("Scan persisted")
	return nil
}

func (w *SQLiteWriter) insertTable(ctx context.Context, tx *sql.Tx, scanID int64, table *domain.ScanTable) error {
	pointStmt, err := tx.PrepareContext(ctx,
		"INSERT INTO scan_points (scan_id, row, column_name, value) VALUES (?, ?, ?, ?);")
	if err != nil {
		return err
	}
	defer pointStmt.Close()

	for r, row := range table.Scalars {
		for c, v := range row {
			if _, err := pointStmt.ExecContext(ctx, scanID, r, table.Columns[c], v); err != nil {
				return err
			}
		}
	}

	if len(table.Spectra) == 0 {
		return nil
	}
	spectrumStmt, err := tx.PrepareContext(ctx,
		"INSERT INTO scan_spectra (scan_id, row, channels) VALUES (?, ?, ?);")
	if err != nil {
		return err
	}
	defer spectrumStmt.Close()

	for r, sp := range table.Spectra {
		if _, err := spectrumStmt.ExecContext(ctx, scanID, r, joinInts(sp)); err != nil {
			return err
		}
	}
	return nil
}

func (w *SQLiteWriter) deleteScan(ctx context.Context, scanID int64) error {
	for _, stmt := range []string{
		"DELETE FROM scan_points WHERE scan_id = ?;",
		"DELETE FROM scan_spectra WHERE scan_id = ?;",
		"DELETE FROM scans WHERE id = ?;",
	} {
		if _, err := w.db.ExecContext(ctx, stmt, scanID); err != nil {
			return fmt.Errorf("error deleting previous scan data: %w", err)
		}
	}
	return nil
}

// WriteProgress records a parse progress snapshot.
func (w *SQLiteWriter) WriteProgress(ctx context.Context, progress *domain.FileProgress) error {
	return retry.Do(ctx, w.retryCfg, func() error {
		_, err := w.db.ExecContext(ctx,
			`INSERT INTO file_progress (timestamp, run_id, file_path, file_name,
				file_size_bytes, offset_bytes, scans_parsed, last_scan_number)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
			progress.Timestamp, progress.RunID, progress.FilePath, progress.FileName,
			progress.FileSizeBytes, progress.OffsetBytes, progress.ScansParsed,
			progress.LastScanNumber)
		if err != nil {
			return fmt.Errorf("error inserting file progress: %w", err)
		}
		return nil
	})
}

// Flush is a no-op; writes go straight to the database.
func (w *SQLiteWriter) Flush(ctx context.Context) error {
	return nil
}

// Close closes the database.
func (w *SQLiteWriter) Close() error {
	log.Info().Msg("Closing SQLite scan writer")
	return w.db.Close()
}

func joinFloats(vals []float64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, " ")
}

func joinInts(vals []int64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(parts, " ")
}

func tableRows(t *domain.ScanTable) int {
	if t == nil {
		return 0
	}
	return t.Rows()
}
