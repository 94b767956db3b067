package workflow

import (
	"bytes"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestParseImportFile_CSV(t *testing.T) {
	content := []byte("member_no,first_name, last_name\nM-001,Jane,Doe\nM-002,John,Smith\n")
	header, rows, err := ParseImportFile("members.csv", content)
	if err != nil {
		t.Fatalf("ParseImportFile: %v", err)
	}
	if len(header) != 3 || len(rows) != 2 {
		t.Fatalf("header=%v rows=%v", header, rows)
	}
	if rows[1][0] != "M-002" {
		t.Fatalf("rows[1][0] = %q", rows[1][0])
	}
}

func TestParseImportFile_RaggedRowDoesNotAbortFile(t *testing.T) {
	content := []byte("member_no,first_name\nM-001,Jane\nM-002\nM-003,Kim\n")
	header, rows, err := ParseImportFile("members.csv", content)
	if err != nil {
		t.Fatalf("ParseImportFile: %v", err)
	}
	if len(header) != 2 || len(rows) != 3 {
		t.Fatalf("header=%v rows=%v", header, rows)
	}
	if len(rows[1]) != 1 || rows[1][0] != "M-002" {
		t.Fatalf("ragged row = %v", rows[1])
	}
	// Rows around the ragged one are intact.
	if rows[2][1] != "Kim" {
		t.Fatalf("rows[2] = %v", rows[2])
	}
}

func TestParseImportFile_EmptyCSV(t *testing.T) {
	_, _, err := ParseImportFile("members.csv", []byte(""))
	if err == nil || err.Error() != "file is empty" {
		t.Fatalf("err = %v", err)
	}
}

func TestParseImportFile_XLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	_ = f.SetSheetRow(sheet, "A1", &[]interface{}{"member_no", "first_name"})
	_ = f.SetSheetRow(sheet, "A2", &[]interface{}{"M-001", "Jane"})
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	header, rows, err := ParseImportFile("members.xlsx", buf.Bytes())
	if err != nil {
		t.Fatalf("ParseImportFile: %v", err)
	}
	if len(header) != 2 || header[0] != "member_no" {
		t.Fatalf("header = %v", header)
	}
	if len(rows) != 1 || rows[0][1] != "Jane" {
		t.Fatalf("rows = %v", rows)
	}
}

func TestHeaderIndexAndCell(t *testing.T) {
	idx := headerIndex([]string{" Member_No ", "First_Name", "PHONE"})
	rec := []string{"M-001", " Jane ", ""}

	if got := cell(idx, rec, "member_no"); got != "M-001" {
		t.Fatalf("member_no = %q", got)
	}
	if got := cell(idx, rec, "first_name"); got != "Jane" {
		t.Fatalf("first_name = %q", got)
	}
	// Known column, empty value.
	if got := cell(idx, rec, "phone"); got != "" {
		t.Fatalf("phone = %q", got)
	}
	// Unknown column.
	if got := cell(idx, rec, "email"); got != "" {
		t.Fatalf("email = %q", got)
	}
	// Ragged row, shorter than the header.
	if got := cell(idx, []string{"M-002"}, "phone"); got != "" {
		t.Fatalf("ragged phone = %q", got)
	}
}

func TestDiff(t *testing.T) {
	changes := map[string]interface{}{}
	previous := map[string]interface{}{}

	diff(changes, previous, "first_name", "Old", "New")
	diff(changes, previous, "last_name", "Same", "Same")

	if len(changes) != 1 || changes["first_name"] != "New" {
		t.Fatalf("changes = %v", changes)
	}
	if len(previous) != 1 || previous["first_name"] != "Old" {
		t.Fatalf("previous = %v", previous)
	}
}
