package catalogue

import (
	"encoding/json"
	"fmt"

	"github.com/banshee-data/nanofit/internal/errs"
	"github.com/banshee-data/nanofit/internal/fsutil"
)

// Save writes the catalogue as a JSON list of integer lists, one per vector,
// each starting with its occupied count.
func Save(fsys fsutil.FileSystem, path string, cat *Catalogue) error {
	vectors := cat.Vectors
	if vectors == nil {
		vectors = []OccupancyVector{}
	}
	data, err := json.Marshal(vectors)
	if err != nil {
		return fmt.Errorf("failed to encode catalogue: %w", err)
	}
	if err := fsys.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write catalogue: %w", err)
	}
	return nil
}

// Load reads a catalogue written by Save (or any list of count-prefixed
// integer lists). Every vector must be internally consistent and all vectors
// must have the same number of flags.
func Load(fsys fsutil.FileSystem, path string) (*Catalogue, error) {
	data, err := fsutil.ReadInput(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("catalogue: %v: %w", err, errs.ErrData)
	}
	return Decode(data)
}

// Decode parses and validates a JSON catalogue.
func Decode(data []byte) (*Catalogue, error) {
	var vectors []OccupancyVector
	if err := json.Unmarshal(data, &vectors); err != nil {
		return nil, fmt.Errorf("failed to parse catalogue JSON: %v: %w", err, errs.ErrData)
	}
	cat := &Catalogue{Vectors: vectors}
	if len(vectors) == 0 {
		return cat, nil
	}
	cat.NumSites = len(vectors[0].Flags())
	for i, v := range vectors {
		if err := v.Validate(cat.NumSites); err != nil {
			return nil, fmt.Errorf("catalogue entry %d: %v: %w", i, err, errs.ErrData)
		}
	}
	return cat, nil
}
