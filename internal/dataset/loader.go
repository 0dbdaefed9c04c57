package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/newsmap/newsignals/pkg/models"
)

// LoadManifest reads the manifest of a completed dataset. A missing manifest
// means the generation run never finished.
func LoadManifest(dir string) (*models.Manifest, error) {
	var m models.Manifest
	if err := readJSON(filepath.Join(dir, ManifestFile), &m); err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	if m.SchemaVersion != models.SchemaVersion {
		return nil, fmt.Errorf("unsupported dataset schema version %q (want %q)",
			m.SchemaVersion, models.SchemaVersion)
	}
	return &m, nil
}

// LoadSignal reads one entity's artifact by entity id.
func LoadSignal(dir, id string) (*models.EntitySignal, error) {
	var sig models.EntitySignal
	if err := readJSON(filepath.Join(dir, ArtifactName(id)), &sig); err != nil {
		return nil, fmt.Errorf("load signal %s: %w", id, err)
	}
	return &sig, nil
}

// LoadDataset reloads a complete dataset: the manifest plus every artifact
// it references. This is the durable read contract for downstream tools.
func LoadDataset(dir string) (*models.Dataset, error) {
	m, err := LoadManifest(dir)
	if err != nil {
		return nil, err
	}

	ds := &models.Dataset{
		Range:         m.Range,
		BucketSize:    m.BucketSize,
		GeneratedAt:   m.GeneratedAt,
		SchemaVersion: m.SchemaVersion,
		Source:        m.Source,
	}
	for _, entry := range m.Entities {
		sig, err := LoadSignal(dir, entry.ID)
		if err != nil {
			return nil, err
		}
		ds.Signals = append(ds.Signals, *sig)
	}
	return ds, nil
}

func readJSON(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(v)
}
