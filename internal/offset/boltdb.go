package offset

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
)

const (
	bucketName = "offsets"
)

// BoltDBStore implements Store using BoltDB
type BoltDBStore struct {
	db *bbolt.DB
}

// NewBoltDBStore creates a new BoltDB offset store
func NewBoltDBStore(dbPath string) (*BoltDBStore, error) {
	// Try to open with short timeout
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		// A locked file usually means another ingester instance still
		// holds it; the user has to stop that process.
		return nil, fmt.Errorf("failed to open boltdb (file may be locked by another process): %w", err)
	}

	// Create bucket if not exists
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	log.Info().
		Str("db_path", dbPath).
		Msg("BoltDB offset store initialized")

	return &BoltDBStore{db: db}, nil
}

// Get retrieves the stored progress for a given file, nil when absent
func (s *BoltDBStore) Get(ctx context.Context, sourceType, filePath string) (*FileOffset, error) {
	var off *FileOffset

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		key := makeKey(sourceType, filePath)
		val := b.Get([]byte(key))
		if val == nil {
			return nil
		}

		var decoded FileOffset
		if err := json.Unmarshal(val, &decoded); err != nil {
			return fmt.Errorf("invalid offset value: %w", err)
		}
		off = &decoded
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to get offset: %w", err)
	}

	return off, nil
}

// Set stores the progress for a given file
func (s *BoltDBStore) Set(ctx context.Context, sourceType string, off *FileOffset) error {
	val, err := json.Marshal(off)
	if err != nil {
		return fmt.Errorf("failed to encode offset: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		key := makeKey(sourceType, off.FilePath)
		return b.Put([]byte(key), val)
	})

	if err != nil {
		return fmt.Errorf("failed to set offset: %w", err)
	}

	log.Debug().
		Str("source_type", sourceType).
		Str("file_path", off.FilePath).
		Int64("offset", off.OffsetBytes).
		Int("scans", off.ScansParsed).
		Msg("Offset updated")

	return nil
}

// Delete removes the stored progress for a given file
func (s *BoltDBStore) Delete(ctx context.Context, sourceType, filePath string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		key := makeKey(sourceType, filePath)
		return b.Delete([]byte(key))
	})

	if err != nil {
		return fmt.Errorf("failed to delete offset: %w", err)
	}

	return nil
}

// List returns all stored progress records
func (s *BoltDBStore) List(ctx context.Context) (map[string]*FileOffset, error) {
	result := make(map[string]*FileOffset)

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		return b.ForEach(func(k, v []byte) error {
			var decoded FileOffset
			if err := json.Unmarshal(v, &decoded); err != nil {
				log.Warn().
					Str("key", string(k)).
					Err(err).
					Msg("Skipping undecodable offset record")
				return nil
			}
			result[string(k)] = &decoded
			return nil
		})
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list offsets: %w", err)
	}

	return result, nil
}

// Close closes the BoltDB database
func (s *BoltDBStore) Close() error {
	log.Info().Msg("Closing BoltDB offset store")
	return s.db.Close()
}

// makeKey creates a composite key from source type and file path
func makeKey(sourceType, filePath string) string {
	return fmt.Sprintf("%s:%s", sourceType, filePath)
}
