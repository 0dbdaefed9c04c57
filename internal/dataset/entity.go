// Package dataset handles the boundary artifacts of a generation run:
// the input entity CSV, the time bucket axis, and the on-disk dataset
// layout (per-entity artifacts plus a manifest).
package dataset

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/newsmap/newsignals/pkg/models"
)

// SchemaError means the CSV is missing a required column. Fatal: the run
// aborts before any fetching.
type SchemaError struct {
	Path   string
	Column string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: required column %q not found", e.Path, e.Column)
}

// ValidationError means a CSV row is unusable (e.g. empty id). Per-row:
// the row is skipped, the load continues.
type ValidationError struct {
	Row    int
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Detail)
}

// EntityTable is a typed, validated view over the input CSV: an ordered,
// deduplicated sequence of entities. Immutable once loaded.
type EntityTable struct {
	entities []models.Entity
	// Skipped lists rows dropped by validation.
	Skipped []ValidationError
}

// Entities returns the entities in CSV order of first occurrence,
// duplicates already resolved.
func (t *EntityTable) Entities() []models.Entity { return t.entities }

// Len returns the number of entities.
func (t *EntityTable) Len() int { return len(t.entities) }

// LoadEntityTable reads a comma-separated UTF-8 CSV with a header row and
// builds the entity table from the named id and name columns.
//
// Duplicate ids resolve deterministically: the last occurrence's name wins,
// but the entity keeps its original position in the sequence. Each duplicate
// is logged as a warning. Rows with an empty id are skipped with a warning
// and recorded in Skipped.
func LoadEntityTable(path, idField, nameField string, log logrus.FieldLogger) (*EntityTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open entity csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header %s: %w", path, err)
	}

	idCol, nameCol := -1, -1
	for i, col := range header {
		switch col {
		case idField:
			idCol = i
		case nameField:
			nameCol = i
		}
	}
	if idCol < 0 {
		return nil, &SchemaError{Path: path, Column: idField}
	}
	if nameCol < 0 {
		return nil, &SchemaError{Path: path, Column: nameField}
	}

	table := &EntityTable{}
	index := make(map[string]int) // entity id -> position in table.entities

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv rows %s: %w", path, err)
	}

	for i, rec := range records {
		row := i + 2 // 1-based, after the header
		if idCol >= len(rec) || nameCol >= len(rec) {
			ve := ValidationError{Row: row, Detail: "too few fields"}
			table.Skipped = append(table.Skipped, ve)
			log.Warnf("skipping entity row: %v", &ve)
			continue
		}

		id, name := rec[idCol], rec[nameCol]
		if id == "" {
			ve := ValidationError{Row: row, Detail: "empty entity id"}
			table.Skipped = append(table.Skipped, ve)
			log.Warnf("skipping entity row: %v", &ve)
			continue
		}
		if name == "" {
			// Fall back to the id as the display name.
			name = id
		}

		if pos, seen := index[id]; seen {
			log.Warnf("duplicate entity id %q at row %d, last occurrence wins", id, row)
			table.entities[pos].Name = name
			continue
		}
		index[id] = len(table.entities)
		table.entities = append(table.entities, models.Entity{ID: id, Name: name})
	}

	return table, nil
}
