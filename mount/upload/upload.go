// Package upload provides a durable best-effort retry queue for uploads
// that failed on their first (synchronous, user-facing) attempt: a
// bbolt-backed queue drained by a ticker goroutine, persisted so an
// in-flight retry survives a process restart. Nothing about the core's
// synchronous flush/release
// path depends on this package - it only improves eventual consistency
// after a flush has already returned an honest error to the kernel.
package upload

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("pending_uploads")

// UpdateFunc performs the actual remote write for one retry attempt.
type UpdateFunc func(ctx context.Context, remoteID string, body []byte) error

// job is the durable, JSON-serialized record of one pending retry.
type job struct {
	RemoteID string `json:"remote_id"`
	Body     []byte `json:"body"`
	Attempts int    `json:"attempts"`
}

// maxAttempts bounds how many times a job is retried before it is dropped -
// an upload that fails this many times in a row is not a transient blip.
const maxAttempts = 5

// Manager tracks uploads that need to be retried in the background.
type Manager struct {
	db     *bolt.DB
	update UpdateFunc

	mu      sync.Mutex
	pending map[string]*job
}

// NewManager opens (creating if needed) the pending-uploads bucket, loads
// any jobs left over from a previous process, and starts the retry loop.
func NewManager(db *bolt.DB, update UpdateFunc, interval time.Duration) (*Manager, error) {
	m := &Manager{db: db, update: update, pending: make(map[string]*job)}

	err := db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		return b.ForEach(func(key, val []byte) error {
			var j job
			if err := json.Unmarshal(val, &j); err != nil {
				return nil // drop unreadable stale records rather than fail startup
			}
			m.pending[j.RemoteID] = &j
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	go m.retryLoop(interval)
	return m, nil
}

// Enqueue persists a failed upload for background retry, superseding any
// still-pending attempt for the same remote ID.
func (m *Manager) Enqueue(remoteID string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j := &job{RemoteID: remoteID, Body: append([]byte(nil), body...)}
	m.pending[remoteID] = j
	return m.persistLocked(j)
}

// Forget drops any pending retry for remoteID, used when the entity is
// deleted locally before the retry succeeds.
func (m *Manager) Forget(remoteID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, remoteID)
	m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(remoteID))
	})
}

func (m *Manager) persistLocked(j *job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return err
	}
	return m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(j.RemoteID), data)
	})
}

func (m *Manager) retryLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		m.retryOnce()
	}
}

func (m *Manager) retryOnce() {
	m.mu.Lock()
	jobs := make([]*job, 0, len(m.pending))
	for _, j := range m.pending {
		jobs = append(jobs, j)
	}
	m.mu.Unlock()

	for _, j := range jobs {
		err := m.update(context.Background(), j.RemoteID, j.Body)
		if err == nil {
			m.Forget(j.RemoteID)
			continue
		}

		j.Attempts++
		if j.Attempts >= maxAttempts {
			log.Error().Str("remoteID", j.RemoteID).Int("attempts", j.Attempts).
				Msg("upload retry exhausted, dropping pending content")
			m.Forget(j.RemoteID)
			continue
		}
		m.mu.Lock()
		m.persistLocked(j)
		m.mu.Unlock()
	}
}
