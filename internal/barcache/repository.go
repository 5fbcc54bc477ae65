package barcache

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"RotationSentinel/internal/util"
)

// Repository loads and saves the whole cache as one document.
type Repository interface {
	Load() (Snapshot, error)
	Save(Snapshot) error
}

// FileRepository stores the cache as JSON on local disk.
type FileRepository struct {
	Path string
}

// NewFileRepository creates a repository at path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{Path: path}
}

// Load reads the cache. A missing file yields an empty snapshot.
func (r *FileRepository) Load() (Snapshot, error) {
	data, err := os.ReadFile(r.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, nil
		}
		return nil, fmt.Errorf("read bar cache: %w", err)
	}
	snap := Snapshot{}
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode bar cache: %w", err)
	}
	return snap, nil
}

// Save writes the cache atomically.
func (r *FileRepository) Save(snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode bar cache: %w", err)
	}
	return util.WriteFileAtomic(r.Path, data, 0o644)
}

// MemoryRepository keeps the cache in memory.
type MemoryRepository struct {
	mu    sync.Mutex
	snap  Snapshot
	saves int
}

// NewMemoryRepository seeds a repository with snap.
func NewMemoryRepository(snap Snapshot) *MemoryRepository {
	if snap == nil {
		snap = Snapshot{}
	}
	return &MemoryRepository{snap: snap.Clone()}
}

func (r *MemoryRepository) Load() (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap.Clone(), nil
}

func (r *MemoryRepository) Save(snap Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap = snap.Clone()
	r.saves++
	return nil
}

// Saves reports how many times Save was called.
func (r *MemoryRepository) Saves() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}
