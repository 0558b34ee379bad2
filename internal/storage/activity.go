package storage

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.etcd.io/bbolt"
)

// DefaultMaxResponseSize bounds the response text kept per record
const DefaultMaxResponseSize = 64 * 1024

// activityKey orders records chronologically: {timestamp_ns}_{ulid}
func activityKey(timestamp time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d_%s", timestamp.UnixNano(), id))
}

func parseActivityKey(key []byte) string {
	keyStr := string(key)
	if len(keyStr) < 22 {
		return ""
	}
	return keyStr[21:]
}

// TruncateResponse shortens response to at most maxSize bytes plus a marker
func TruncateResponse(response string, maxSize int) (string, bool) {
	if maxSize <= 0 {
		maxSize = DefaultMaxResponseSize
	}
	if len(response) <= maxSize {
		return response, false
	}
	return response[:maxSize] + "...[truncated]", true
}

// SaveActivity stores an activity record, assigning ID and timestamp when unset
func (m *Manager) SaveActivity(record *ActivityRecord) error {
	if record == nil {
		return fmt.Errorf("activity record cannot be nil")
	}
	if record.ID == "" {
		record.ID = ulid.Make().String()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return ErrClosed
	}

	return m.db.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(ActivityRecordsBucket))
		if err != nil {
			return fmt.Errorf("failed to create activity bucket: %w", err)
		}
		data, err := record.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal activity record: %w", err)
		}
		if err := bucket.Put(activityKey(record.Timestamp, record.ID), data); err != nil {
			return fmt.Errorf("failed to store activity record: %w", err)
		}
		return nil
	})
}

// GetActivity retrieves an activity record by ID; nil when not found
func (m *Manager) GetActivity(id string) (*ActivityRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("activity ID cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.db == nil {
		return nil, ErrClosed
	}

	var record *ActivityRecord
	err := m.db.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ActivityRecordsBucket))
		if bucket == nil {
			return nil
		}
		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			if parseActivityKey(k) == id {
				record = &ActivityRecord{}
				if err := record.UnmarshalBinary(v); err != nil {
					return fmt.Errorf("failed to unmarshal activity record: %w", err)
				}
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListActivities returns records matching filter, newest first, and the
// total number of matches
func (m *Manager) ListActivities(filter ActivityFilter) ([]*ActivityRecord, int, error) {
	filter.Validate()

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.db == nil {
		return nil, 0, ErrClosed
	}

	var records []*ActivityRecord
	var total int

	err := m.db.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ActivityRecordsBucket))
		if bucket == nil {
			return nil
		}

		cursor := bucket.Cursor()
		skipped := 0
		for k, v := cursor.Last(); k != nil; k, v = cursor.Prev() {
			record := &ActivityRecord{}
			if err := record.UnmarshalBinary(v); err != nil {
				m.logger.Warnw("Failed to unmarshal activity record",
					"key", string(k),
					"error", err)
				continue
			}
			if !filter.Matches(record) {
				continue
			}

			total++
			if skipped < filter.Offset {
				skipped++
				continue
			}
			if len(records) < filter.Limit {
				records = append(records, record)
			}
		}
		return nil
	})

	return records, total, err
}

// CountActivities returns the total number of activity records
func (m *Manager) CountActivities() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.db == nil {
		return 0, ErrClosed
	}

	var count int
	err := m.db.db.View(func(tx *bbolt.Tx) error {
		if bucket := tx.Bucket([]byte(ActivityRecordsBucket)); bucket != nil {
			count = bucket.Stats().KeyN
		}
		return nil
	})
	return count, err
}

// PruneOldActivities deletes records older than maxAge and returns how many
func (m *Manager) PruneOldActivities(maxAge time.Duration) (int, error) {
	cutoffKey := string(activityKey(time.Now().UTC().Add(-maxAge), ""))

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return 0, ErrClosed
	}

	var deleted int
	err := m.db.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ActivityRecordsBucket))
		if bucket == nil {
			return nil
		}

		var keysToDelete [][]byte
		cursor := bucket.Cursor()
		for k, _ := cursor.First(); k != nil && string(k) < cutoffKey; k, _ = cursor.Next() {
			keysToDelete = append(keysToDelete, append([]byte{}, k...))
		}
		for _, key := range keysToDelete {
			if err := bucket.Delete(key); err != nil {
				return fmt.Errorf("failed to delete old activity: %w", err)
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return deleted, err
	}

	if deleted > 0 {
		m.logger.Infow("Pruned old activity records",
			"deleted", deleted,
			"max_age", maxAge.String())
	}
	return deleted, nil
}

// PruneExcessActivities deletes the oldest records once the count exceeds
// maxRecords, down to 90% of it
func (m *Manager) PruneExcessActivities(maxRecords int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return 0, ErrClosed
	}

	var deleted int
	err := m.db.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ActivityRecordsBucket))
		if bucket == nil {
			return nil
		}
		count := bucket.Stats().KeyN
		if count <= maxRecords {
			return nil
		}
		toDelete := count - int(float64(maxRecords)*0.9)

		var keysToDelete [][]byte
		cursor := bucket.Cursor()
		for k, _ := cursor.First(); k != nil && len(keysToDelete) < toDelete; k, _ = cursor.Next() {
			keysToDelete = append(keysToDelete, append([]byte{}, k...))
		}
		for _, key := range keysToDelete {
			if err := bucket.Delete(key); err != nil {
				return fmt.Errorf("failed to delete excess activity: %w", err)
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}
