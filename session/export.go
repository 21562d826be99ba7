package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pianocapture/notes"
)

const instrument = "Piano"

// Export writes seq as <dir>/<id>.mid and <dir>/<id>.json.
func Export(dir string, seq *notes.Sequence) (midPath, jsonPath string, err error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", fmt.Errorf("export %s: %w", seq.ID, err)
	}
	base := filepath.Join(dir, seq.ID)
	midPath, jsonPath = base+".mid", base+".json"

	f, err := os.Create(midPath)
	if err != nil {
		return "", "", fmt.Errorf("export %s: %w", seq.ID, err)
	}
	if err := seq.WriteSMF(f, instrument); err != nil {
		f.Close()
		return "", "", fmt.Errorf("export %s: %w", seq.ID, err)
	}
	if err := f.Close(); err != nil {
		return "", "", fmt.Errorf("export %s: %w", seq.ID, err)
	}

	data, err := json.MarshalIndent(seq, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("export %s: %w", seq.ID, err)
	}
	if err := os.WriteFile(jsonPath, data, 0644); err != nil {
		return "", "", fmt.Errorf("export %s: %w", seq.ID, err)
	}
	return midPath, jsonPath, nil
}

// LoadSequence reads a .mid/.midi file or a JSON note sequence.
func LoadSequence(path string) (*notes.Sequence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".mid", ".midi":
		seq, err := notes.ReadSMF(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if seq.ID == "" {
			seq.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		return seq, nil
	default:
		var seq notes.Sequence
		if err := json.NewDecoder(f).Decode(&seq); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		for _, n := range seq.Notes {
			if err := n.Validate(); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
		}
		if seq.Tempo == 0 {
			seq.Tempo = notes.DefaultTempo
		}
		if seq.TimeSignature.Validate() != nil {
			seq.TimeSignature = notes.CommonTime
		}
		seq.Sort()
		if _, maxEnd := seq.Bounds(); seq.TotalTime < maxEnd {
			seq.TotalTime = maxEnd
		}
		return &seq, nil
	}
}
