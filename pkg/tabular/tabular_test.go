package tabular

import (
	"strings"
	"testing"
)

func newTestEngine(t *testing.T) Engine {
	t.Helper()
	e, err := NewCSVEngine(t.TempDir())
	if err != nil {
		t.Fatalf("NewCSVEngine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

const sampleCSV = "name,age\nalice,30\nbob,25\n"

func TestImportRecordsSchemaAndRows(t *testing.T) {
	e := newTestEngine(t)
	id, schema, err := e.Import("people.csv", []byte(sampleCSV))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(schema.Columns) != 2 || schema.Columns[0] != "name" || schema.Columns[1] != "age" {
		t.Fatalf("unexpected schema: %+v", schema)
	}

	out, err := e.Export(id)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !strings.Contains(string(out), "alice,30") || !strings.Contains(string(out), "bob,25") {
		t.Fatalf("unexpected export: %s", out)
	}
}

func TestImportRejectsEmptyInput(t *testing.T) {
	e := newTestEngine(t)
	if _, _, err := e.Import("empty.csv", []byte{}); err == nil {
		t.Fatal("expected error importing empty csv")
	}
}

func TestApplyAddInsertsNewRow(t *testing.T) {
	e := newTestEngine(t)
	id, _, err := e.Import("people.csv", []byte(sampleCSV))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}

	rowID, err := e.Apply(id, RowOp{Kind: RowAdd, Values: []string{"carol", "40"}})
	if err != nil {
		t.Fatalf("Apply(add): %v", err)
	}
	row, err := e.GetRow(id, rowID)
	if err != nil {
		t.Fatalf("GetRow: %v", err)
	}
	if row[0] != "carol" || row[1] != "40" {
		t.Fatalf("unexpected row: %v", row)
	}

	out, err := e.Export(id)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !strings.Contains(string(out), "carol,40") {
		t.Fatalf("expected exported csv to contain new row, got: %s", out)
	}
}

func TestApplyUpdateChangesExistingRow(t *testing.T) {
	e := newTestEngine(t)
	id, _, _ := e.Import("people.csv", []byte(sampleCSV))

	rowID, err := e.Apply(id, RowOp{Kind: RowAdd, Values: []string{"dave", "22"}})
	if err != nil {
		t.Fatalf("Apply(add): %v", err)
	}
	if _, err := e.Apply(id, RowOp{Kind: RowUpdate, RowID: rowID, Values: []string{"dave", "23"}}); err != nil {
		t.Fatalf("Apply(update): %v", err)
	}

	row, err := e.GetRow(id, rowID)
	if err != nil {
		t.Fatalf("GetRow: %v", err)
	}
	if row[1] != "23" {
		t.Fatalf("expected updated age 23, got %v", row)
	}
}

func TestApplyUpdateUnknownRowFails(t *testing.T) {
	e := newTestEngine(t)
	id, _, _ := e.Import("people.csv", []byte(sampleCSV))
	if _, err := e.Apply(id, RowOp{Kind: RowUpdate, RowID: "does-not-exist", Values: []string{"x"}}); err == nil {
		t.Fatal("expected error updating unknown row")
	}
}

func TestApplyDeleteRemovesRowFromExport(t *testing.T) {
	e := newTestEngine(t)
	id, _, _ := e.Import("people.csv", []byte(sampleCSV))

	rowID, err := e.Apply(id, RowOp{Kind: RowAdd, Values: []string{"erin", "19"}})
	if err != nil {
		t.Fatalf("Apply(add): %v", err)
	}
	if _, err := e.Apply(id, RowOp{Kind: RowDelete, RowID: rowID}); err != nil {
		t.Fatalf("Apply(delete): %v", err)
	}
	if _, err := e.GetRow(id, rowID); err == nil {
		t.Fatal("expected deleted row to be gone")
	}

	out, err := e.Export(id)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if strings.Contains(string(out), "erin") {
		t.Fatalf("expected deleted row to be absent from export, got: %s", out)
	}
}

func TestExportUnknownTableFails(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Export("missing-table"); err == nil {
		t.Fatal("expected error exporting unknown table")
	}
}
