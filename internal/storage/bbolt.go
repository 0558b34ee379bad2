package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	"go.etcd.io/bbolt/errors"
	"go.uber.org/zap"
)

const (
	// DatabaseFile is the bbolt file name inside the data directory
	DatabaseFile = "activity.db"

	MetaBucket       = "meta"
	SchemaVersionKey = "schema_version"

	CurrentSchemaVersion = 1
)

// BoltDB wraps bolt database operations
type BoltDB struct {
	db     *bbolt.DB
	logger *zap.SugaredLogger
}

// NewBoltDB opens (or creates) the activity database in dataDir
func NewBoltDB(dataDir string, logger *zap.SugaredLogger) (*BoltDB, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, DatabaseFile)

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 10 * time.Second,
	})
	if err != nil {
		logger.Warnf("Failed to open database on first attempt: %v", err)

		// another process holds the lock; move the file aside and start fresh
		if err == errors.ErrTimeout {
			backupPath := dbPath + ".backup." + time.Now().Format("20060102-150405")
			logger.Infof("Database locked, moving it to %s", backupPath)
			if cpErr := copyFile(dbPath, backupPath); cpErr != nil {
				logger.Warnf("Failed to create backup: %v", cpErr)
			}
			if rmErr := os.Remove(dbPath); rmErr != nil {
				logger.Warnf("Failed to remove locked database file: %v", rmErr)
			}
			db, err = bbolt.Open(dbPath, 0600, &bbolt.Options{
				Timeout: 5 * time.Second,
			})
		}

		if err != nil {
			return nil, fmt.Errorf("failed to open bolt database after recovery attempt: %w", err)
		}
	}

	boltDB := &BoltDB{
		db:     db,
		logger: logger,
	}

	if err := boltDB.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return boltDB, nil
}

// Close closes the database
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func (b *BoltDB) initBuckets() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range []string{MetaBucket, ActivityRecordsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		versionBytes := make([]byte, 8)
		binary.LittleEndian.PutUint64(versionBytes, CurrentSchemaVersion)
		return tx.Bucket([]byte(MetaBucket)).Put([]byte(SchemaVersionKey), versionBytes)
	})
}

// GetSchemaVersion returns the stored schema version
func (b *BoltDB) GetSchemaVersion() (uint64, error) {
	var version uint64
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(MetaBucket))
		if bucket == nil {
			return fmt.Errorf("meta bucket not found")
		}
		if v := bucket.Get([]byte(SchemaVersionKey)); v != nil {
			version = binary.LittleEndian.Uint64(v)
		}
		return nil
	})
	return version, err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
