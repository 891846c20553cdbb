// Package backup stores export snapshots on local disk or in S3 and
// announces finished uploads on an SQS queue.
package backup

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var ErrEmptyBackup = errors.New("backup is empty")

const ContentType = "application/json"

// Object describes a stored backup.
type Object struct {
	Key         string    `json:"key"`
	Location    string    `json:"location"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store persists backup files.
type Store interface {
	Put(ctx context.Context, key string, data []byte) (*Object, error)
}

// Notifier announces a stored backup.
type Notifier interface {
	Notify(ctx context.Context, obj *Object) error
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, *Object) error { return nil }

// Key names a backup taken at t.
func Key(t time.Time) string {
	return "clinic-backup-" + t.UTC().Format("2006-01-02T15-04-05Z") + ".json"
}

func describe(key, location string, data []byte, now time.Time) *Object {
	sum := sha256.Sum256(data)
	return &Object{
		Key:         key,
		Location:    location,
		ContentType: ContentType,
		Size:        int64(len(data)),
		SHA256:      hex.EncodeToString(sum[:]),
		CreatedAt:   now.UTC(),
	}
}

// Runner takes a backup: it renders the snapshot, stores it and notifies.
type Runner struct {
	store    Store
	notifier Notifier
	now      func() time.Time
}

func NewRunner(store Store, notifier Notifier) *Runner {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Runner{store: store, notifier: notifier, now: time.Now}
}

// Run buffers what write produces and stores it under a timestamped key.
// A failed notification is returned together with the stored object.
func (r *Runner) Run(ctx context.Context, write func(w io.Writer) error) (*Object, error) {
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		return nil, fmt.Errorf("render backup: %w", err)
	}
	if buf.Len() == 0 {
		return nil, ErrEmptyBackup
	}

	obj, err := r.store.Put(ctx, Key(r.now()), buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("store backup: %w", err)
	}
	if err := r.notifier.Notify(ctx, obj); err != nil {
		return obj, fmt.Errorf("notify backup %s: %w", obj.Key, err)
	}
	return obj, nil
}

// LocalStore writes backups into a directory.
type LocalStore struct {
	dir string
	now func() time.Time
}

func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{dir: dir, now: time.Now}
}

func (s *LocalStore) Put(_ context.Context, key string, data []byte) (*Object, error) {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	path := filepath.Join(s.dir, filepath.Base(key))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return nil, fmt.Errorf("write backup: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("write backup: %w", err)
	}
	return describe(key, path, data, s.now()), nil
}

// MemoryStore keeps backups in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, key string, data []byte) (*Object, error) {
	cp := append([]byte(nil), data...)
	s.mu.Lock()
	s.objects[key] = cp
	s.mu.Unlock()
	return describe(key, "memory://"+key, cp, time.Now()), nil
}

// Get returns a stored backup.
func (s *MemoryStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	return data, ok
}
