package portfolio

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"RotationSentinel/internal/model"
	"RotationSentinel/internal/util"
)

// LoadState reads the portfolio, preferring the mirror copy when it exists
// and decodes. Returns a zero portfolio when neither file exists.
func LoadState(localPath, mirrorPath string) (*model.Portfolio, error) {
	if mirrorPath != "" {
		if p, err := readState(mirrorPath); err == nil {
			return p, nil
		}
	}
	p, err := readState(localPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &model.Portfolio{}, nil
		}
		return nil, err
	}
	return p, nil
}

func readState(path string) (*model.Portfolio, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p model.Portfolio
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &p, nil
}

// ErrMirrorUnavailable marks a failed mirror write after the local write succeeded.
var ErrMirrorUnavailable = errors.New("portfolio mirror unavailable")

// SaveState writes the portfolio to the local file and then to the mirror
// (when configured), each atomically.
func SaveState(localPath, mirrorPath string, p *model.Portfolio) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode portfolio: %w", err)
	}
	if err := util.WriteFileAtomic(localPath, data, 0o644); err != nil {
		return fmt.Errorf("write portfolio: %w", err)
	}
	if mirrorPath != "" {
		if err := util.WriteFileAtomic(mirrorPath, data, 0o644); err != nil {
			return fmt.Errorf("%w: %w", ErrMirrorUnavailable, err)
		}
	}
	return nil
}
