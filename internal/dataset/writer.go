package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/newsmap/newsignals/pkg/models"
)

// ManifestFile is the dataset-level metadata filename. It is written last,
// so its presence marks a completed run.
const ManifestFile = "manifest.json"

// WriteReport summarizes what a Writer produced.
type WriteReport struct {
	Artifacts int `json:"artifacts"`
	Skipped   int `json:"skipped"`
}

// Writer persists a dataset incrementally: one artifact per entity as each
// signal completes, then the manifest. Every file is written to a temp file
// in the same directory and renamed into place, so a crash mid-run leaves
// only fully-written artifacts and no manifest.
type Writer struct {
	dir    string
	log    logrus.FieldLogger
	report WriteReport
}

// NewWriter prepares the output directory. The directory is created if
// absent; an existing non-empty directory is refused unless overwrite is
// set (existing per-entity artifacts are then left in place so a resumed
// run can skip them — the stale manifest is removed immediately).
func NewWriter(dir string, overwrite bool, log logrus.FieldLogger) (*Writer, error) {
	entries, err := os.ReadDir(dir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("read output dir: %w", err)
	case len(entries) > 0 && !overwrite:
		return nil, fmt.Errorf("output dir %s is not empty (use --overwrite to allow)", dir)
	case len(entries) > 0:
		// A stale manifest must not outlive the run that is replacing it.
		if err := os.Remove(filepath.Join(dir, ManifestFile)); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale manifest: %w", err)
		}
	}
	return &Writer{dir: dir, log: log}, nil
}

// Dir returns the output directory.
func (w *Writer) Dir() string { return w.dir }

// ArtifactName returns the artifact filename for an entity id.
func ArtifactName(id string) string {
	return sanitizeID(id) + ".json"
}

// sanitizeID makes an entity id safe to use as a filename.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, id)
}

// HasArtifact reports whether an artifact for the entity already exists.
func (w *Writer) HasArtifact(id string) bool {
	_, err := os.Stat(filepath.Join(w.dir, ArtifactName(id)))
	return err == nil
}

// WriteSignal atomically persists one entity's signal.
func (w *Writer) WriteSignal(sig models.EntitySignal) error {
	if err := w.writeJSON(ArtifactName(sig.Entity.ID), sig); err != nil {
		return fmt.Errorf("write signal %s: %w", sig.Entity.ID, err)
	}
	w.report.Artifacts++
	w.log.WithFields(logrus.Fields{
		"entity": sig.Entity.ID,
		"status": sig.Status,
	}).Debug("wrote entity artifact")
	return nil
}

// MarkSkipped records an entity whose artifact was reused from a previous run.
func (w *Writer) MarkSkipped() { w.report.Skipped++ }

// Finalize writes the manifest from the finished dataset and returns it
// with the write report. Must be called after all signals are written;
// the manifest only references artifacts that exist on disk.
func (w *Writer) Finalize(ds *models.Dataset, name string) (*models.Manifest, WriteReport, error) {
	m := &models.Manifest{
		Name:          name,
		SchemaVersion: ds.SchemaVersion,
		Range:         ds.Range,
		BucketSize:    ds.BucketSize,
		Source:        ds.Source,
		GeneratedAt:   ds.GeneratedAt,
	}
	for _, sig := range ds.Signals {
		entry := models.ManifestEntry{
			ID:            sig.Entity.ID,
			Name:          sig.Entity.Name,
			Status:        sig.Status,
			FailedBuckets: sig.FailedBuckets,
			Reason:        sig.Reason,
			Artifact:      ArtifactName(sig.Entity.ID),
		}
		if !w.HasArtifact(sig.Entity.ID) {
			// Never reference an artifact that was not fully written.
			return nil, w.report, fmt.Errorf("missing artifact for entity %s", sig.Entity.ID)
		}
		m.Entities = append(m.Entities, entry)
	}

	if err := w.writeJSON(ManifestFile, m); err != nil {
		return nil, w.report, fmt.Errorf("write manifest: %w", err)
	}
	w.log.Infof("saved %d signals in dataset to %s", len(m.Entities), w.dir)
	return m, w.report, nil
}

// writeJSON writes v to name under the dataset dir with temp-then-rename.
func (w *Writer) writeJSON(name string, v any) error {
	tmp, err := os.CreateTemp(w.dir, name+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(w.dir, name))
}
