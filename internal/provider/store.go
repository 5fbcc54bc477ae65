package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"RotationSentinel/internal/model"
	"RotationSentinel/internal/util"
)

// SignalStore persists the last delivered signal. It doubles as the
// second tier of the chain: a stale signal beats none.
type SignalStore struct {
	mu   sync.Mutex
	path string
}

// NewSignalStore creates a store backed by path.
func NewSignalStore(path string) *SignalStore {
	return &SignalStore{path: path}
}

func (s *SignalStore) Name() string { return "stored" }

// Signal returns the persisted signal. A missing file is ErrNoData.
func (s *SignalStore) Signal(context.Context) (*model.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no persisted signal", model.ErrNoData)
		}
		return nil, fmt.Errorf("read signal: %w", err)
	}
	return model.DecodeSignal(data)
}

// Save writes sig atomically.
func (s *SignalStore) Save(sig *model.Signal) error {
	data, err := json.MarshalIndent(sig, "", "  ")
	if err != nil {
		return fmt.Errorf("encode signal: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return util.WriteFileAtomic(s.path, data, 0o644)
}
