package sheets

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/chmdznr/fieldsync/pkg/models"
)

func TestWorkbookPushRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.xlsx")
	fields := func(ctx context.Context, formID string) ([]models.FieldDescriptor, error) {
		return []models.FieldDescriptor{
			{Name: "site_name", Type: "text"},
			{Name: "flow_rate", Type: "decimal"},
		}, nil
	}
	wb := NewWorkbook(path, fields)

	records := []struct {
		id      string
		payload models.Payload
	}{
		{"r-1", models.Payload{"site_name": "Well A", "flow_rate": 2.5}},
		{"r-2", models.Payload{"site_name": "Well B", "flow_rate": 0.8}},
	}
	for _, rec := range records {
		if err := wb.PushRecord(context.Background(), rec.id, "water-survey", rec.payload); err != nil {
			t.Fatalf("PushRecord(%s): %v", rec.id, err)
		}
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("water-survey")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows; want header + 2", len(rows))
	}
	wantHeader := []string{"record_id", "site_name", "flow_rate"}
	for i, name := range wantHeader {
		if rows[0][i] != name {
			t.Errorf("header[%d] = %q; want %q", i, rows[0][i], name)
		}
	}
	if rows[1][0] != "r-1" || rows[1][1] != "Well A" {
		t.Errorf("row 1 = %v", rows[1])
	}
	if rows[2][0] != "r-2" || rows[2][1] != "Well B" {
		t.Errorf("row 2 = %v", rows[2])
	}
}

func TestWorkbookColumnsFallBackToSortedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.xlsx")
	wb := NewWorkbook(path, nil)

	payload := models.Payload{"zeta": "z", "alpha": "a"}
	if err := wb.PushRecord(context.Background(), "r-1", "f1", payload); err != nil {
		t.Fatalf("PushRecord: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := f.GetRows("f1")
	if err != nil {
		t.Fatal(err)
	}
	if rows[0][1] != "alpha" || rows[0][2] != "zeta" {
		t.Errorf("header = %v; want sorted payload keys", rows[0])
	}
}

func TestWorkbookStructuredValuesBecomeJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.xlsx")
	wb := NewWorkbook(path, nil)

	payload := models.Payload{"gps": models.Location(-6.2, 106.8, 0, 5)}
	if err := wb.PushRecord(context.Background(), "r-1", "f1", payload); err != nil {
		t.Fatalf("PushRecord: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := f.GetRows("f1")
	if err != nil {
		t.Fatal(err)
	}
	cell := rows[1][1]
	if cell == "" || cell[0] != '{' {
		t.Errorf("structured cell = %q; want compact JSON", cell)
	}
}

func TestWorkbookHasNoPlaceholderSheet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.xlsx")
	wb := NewWorkbook(path, nil)

	if err := wb.PushRecord(context.Background(), "r-1", "f1", models.Payload{"k": "v"}); err != nil {
		t.Fatalf("PushRecord: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) != 1 || sheets[0] != "f1" {
		t.Errorf("sheet list = %v; want only f1", sheets)
	}
}

func TestWorkbookFormNamedLikePlaceholder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.xlsx")
	wb := NewWorkbook(path, nil)

	if err := wb.PushRecord(context.Background(), "r-1", "Sheet1", models.Payload{"k": "v"}); err != nil {
		t.Fatalf("PushRecord: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := f.GetRows("Sheet1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Errorf("got %d rows; want header + 1", len(rows))
	}
}

func TestSheetNameTruncation(t *testing.T) {
	long := "a-very-long-form-identifier-that-exceeds-the-limit"
	if got := sheetName(long); len(got) != 31 {
		t.Errorf("sheetName length = %d; want 31", len(got))
	}
	if got := sheetName("short"); got != "short" {
		t.Errorf("sheetName(short) = %q", got)
	}
}
