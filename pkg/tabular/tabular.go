// Package tabular implements the black-box tabular backend contract of
// spec.md §9 "Dynamic dispatch of tabular backends" and SPEC_FULL.md
// §6.9: row-addressable editing of a tabular file inside a Workspace,
// with rows identified by opaque ids rather than position so that
// concurrent inserts/deletes don't renumber existing rows.
//
// The core (pkg/workspace) only ever calls Import/Apply/Export; any
// engine satisfying Engine is a drop-in replacement for csvEngine.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/siltdata/silt/pkg/kv"
	"github.com/siltdata/silt/pkg/silterrors"
)

// TableID names one indexed side table within an Engine.
type TableID string

// Schema records a tabular file's column order, recovered at Import
// time and preserved verbatim through Export.
type Schema struct {
	Columns []string
}

// RowOpKind is the kind of mutation Apply performs.
type RowOpKind int

const (
	RowAdd RowOpKind = iota
	RowUpdate
	RowDelete
)

// RowOp is one row-level mutation against an indexed table.
type RowOp struct {
	Kind   RowOpKind
	RowID  string // required for Update/Delete; ignored for Add
	Values []string
}

// Engine is the tabular backend contract: import a file into a
// row-addressable side table, apply row mutations, export back to the
// file's native format. The core never inspects row contents beyond
// byte payloads plus the recorded Schema.
type Engine interface {
	Import(path string, data []byte) (TableID, Schema, error)
	Apply(id TableID, op RowOp) (rowID string, err error)
	GetRow(id TableID, rowID string) ([]string, error)
	Export(id TableID) ([]byte, error)
	Close() error
}

// csvEngine is the reference Engine: rows live in a dedicated kv.Table
// keyed by "<TableID>/<RowID>", with column order recorded from the
// CSV header at Import time.
type csvEngine struct {
	rows    *kv.Table
	schemas map[TableID]Schema
	order   map[TableID][]string // row id insertion order, for stable export
}

// NewCSVEngine opens (or creates) a csv-backed tabular engine rooted
// at a "tabular_rows" table under dir.
func NewCSVEngine(dir string) (Engine, error) {
	rows, err := kv.Open(dir, "tabular_rows")
	if err != nil {
		return nil, err
	}
	return &csvEngine{
		rows:    rows,
		schemas: map[TableID]Schema{},
		order:   map[TableID][]string{},
	}, nil
}

func rowKey(id TableID, rowID string) []byte {
	return []byte(string(id) + "/" + rowID)
}

// Import parses data as CSV, recording its header as the Schema and
// assigning every data row an opaque uuid.
func (e *csvEngine) Import(path string, data []byte) (TableID, Schema, error) {
	r := csv.NewReader(strings.NewReader(string(data)))
	records, err := r.ReadAll()
	if err != nil {
		return "", Schema{}, fmt.Errorf("%w: parsing %s as csv: %v", silterrors.ErrInvalid, path, err)
	}
	if len(records) == 0 {
		return "", Schema{}, fmt.Errorf("%w: %s has no header row", silterrors.ErrInvalid, path)
	}

	id := TableID(uuid.NewString())
	schema := Schema{Columns: records[0]}
	e.schemas[id] = schema
	e.order[id] = nil

	for _, record := range records[1:] {
		rowID := uuid.NewString()
		if err := e.rows.Put(rowKey(id, rowID), encodeRow(record)); err != nil {
			return "", Schema{}, err
		}
		e.order[id] = append(e.order[id], rowID)
	}
	return id, schema, nil
}

// Apply performs one row-level mutation, returning the affected row's id.
func (e *csvEngine) Apply(id TableID, op RowOp) (string, error) {
	if _, ok := e.schemas[id]; !ok {
		return "", fmt.Errorf("%w: unknown table %s", silterrors.ErrNotFound, id)
	}

	switch op.Kind {
	case RowAdd:
		rowID := uuid.NewString()
		if err := e.rows.Put(rowKey(id, rowID), encodeRow(op.Values)); err != nil {
			return "", err
		}
		e.order[id] = append(e.order[id], rowID)
		return rowID, nil
	case RowUpdate:
		if op.RowID == "" {
			return "", fmt.Errorf("%w: update requires a row id", silterrors.ErrInvalid)
		}
		if ok, err := e.rows.Has(rowKey(id, op.RowID)); err != nil {
			return "", err
		} else if !ok {
			return "", fmt.Errorf("%w: row %s in table %s", silterrors.ErrNotFound, op.RowID, id)
		}
		if err := e.rows.Put(rowKey(id, op.RowID), encodeRow(op.Values)); err != nil {
			return "", err
		}
		return op.RowID, nil
	case RowDelete:
		if op.RowID == "" {
			return "", fmt.Errorf("%w: delete requires a row id", silterrors.ErrInvalid)
		}
		if err := e.rows.Delete(rowKey(id, op.RowID)); err != nil {
			return "", err
		}
		order := e.order[id]
		for i, r := range order {
			if r == op.RowID {
				e.order[id] = append(order[:i], order[i+1:]...)
				break
			}
		}
		return op.RowID, nil
	default:
		return "", fmt.Errorf("%w: unknown row op kind %d", silterrors.ErrInvalid, op.Kind)
	}
}

// GetRow returns one row's current values.
func (e *csvEngine) GetRow(id TableID, rowID string) ([]string, error) {
	data, err := e.rows.Get(rowKey(id, rowID))
	if err != nil {
		return nil, err
	}
	return decodeRow(data), nil
}

// Export serializes the table back to CSV, preserving the recorded
// column header and row insertion order (append order, with deletes
// already removed and updates applied in place).
func (e *csvEngine) Export(id TableID) ([]byte, error) {
	schema, ok := e.schemas[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown table %s", silterrors.ErrNotFound, id)
	}

	var buf strings.Builder
	w := csv.NewWriter(&buf)
	if err := w.Write(schema.Columns); err != nil {
		return nil, err
	}
	for _, rowID := range e.order[id] {
		row, err := e.GetRow(id, rowID)
		if err != nil {
			if errors.Is(err, silterrors.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}

// Close releases the engine's underlying table.
func (e *csvEngine) Close() error { return e.rows.Close() }

func encodeRow(values []string) []byte {
	var buf strings.Builder
	cw := csv.NewWriter(&buf)
	cw.Write(values)
	cw.Flush()
	return []byte(buf.String())
}

func decodeRow(data []byte) []string {
	r := csv.NewReader(strings.NewReader(string(data)))
	record, err := r.Read()
	if err != nil {
		return nil
	}
	return record
}
