package sheets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/chmdznr/fieldsync/pkg/models"
)

// FieldLookup resolves the ordered field descriptors for a form, used
// to lay out workbook columns. Returning an error (or no fields) falls
// back to sorted payload keys.
type FieldLookup func(ctx context.Context, formID string) ([]models.FieldDescriptor, error)

// Workbook mirrors records into a local .xlsx file, one sheet per form
// and one row per record. It doubles as the secondary target when no
// hosted sheet service is configured, and backs the export command.
type Workbook struct {
	path   string
	fields FieldLookup
}

// NewWorkbook creates a workbook mirror at path.
func NewWorkbook(path string, fields FieldLookup) *Workbook {
	return &Workbook{path: path, fields: fields}
}

// PushRecord implements Target by appending one row to the form's sheet.
func (w *Workbook) PushRecord(ctx context.Context, recordID, formID string, payload models.Payload) error {
	f, err := w.open()
	if err != nil {
		return err
	}
	defer f.Close()

	sheet := sheetName(formID)
	columns, err := w.ensureSheet(ctx, f, sheet, formID, payload)
	if err != nil {
		return err
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("failed to read sheet %s: %v", sheet, err)
	}
	rowIdx := len(rows) + 1

	values := []any{recordID}
	for _, col := range columns {
		values = append(values, cellValue(payload[col]))
	}
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, rowIdx)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("failed to write cell %s: %v", cell, err)
		}
	}

	if err := f.SaveAs(w.path); err != nil {
		return fmt.Errorf("failed to save workbook: %v", err)
	}
	return nil
}

func (w *Workbook) open() (*excelize.File, error) {
	if _, err := os.Stat(w.path); os.IsNotExist(err) {
		return excelize.NewFile(), nil
	}
	f, err := excelize.OpenFile(w.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %v", err)
	}
	return f, nil
}

// ensureSheet creates the sheet with a header row on first use and
// returns the payload column order matching that header.
func (w *Workbook) ensureSheet(ctx context.Context, f *excelize.File, sheet, formID string, payload models.Payload) ([]string, error) {
	idx, err := f.GetSheetIndex(sheet)
	if err != nil {
		return nil, err
	}
	if idx >= 0 {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 && len(rows[0]) > 1 {
			return rows[0][1:], nil
		}
	}

	columns := w.columnsFor(ctx, formID, payload)
	if idx < 0 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, fmt.Errorf("failed to create sheet %s: %v", sheet, err)
		}
		dropPlaceholderSheet(f, sheet)
	}
	header := append([]string{"record_id"}, columns...)
	for i, name := range header {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, name); err != nil {
			return nil, err
		}
	}
	return columns, nil
}

func (w *Workbook) columnsFor(ctx context.Context, formID string, payload models.Payload) []string {
	if w.fields != nil {
		if fields, err := w.fields(ctx, formID); err == nil && len(fields) > 0 {
			columns := make([]string, 0, len(fields))
			for _, fd := range fields {
				columns = append(columns, fd.Name)
			}
			return columns
		}
	}
	columns := make([]string, 0, len(payload))
	for name := range payload {
		columns = append(columns, name)
	}
	sort.Strings(columns)
	return columns
}

// dropPlaceholderSheet removes the empty default sheet excelize seeds
// new workbooks with, once a real form sheet exists.
func dropPlaceholderSheet(f *excelize.File, keep string) {
	const placeholder = "Sheet1"
	if placeholder == keep {
		return
	}
	idx, err := f.GetSheetIndex(placeholder)
	if err != nil || idx < 0 {
		return
	}
	if rows, err := f.GetRows(placeholder); err != nil || len(rows) > 0 {
		return
	}
	f.DeleteSheet(placeholder)
}

// cellValue flattens a payload value for a spreadsheet cell: scalars
// pass through, structured values (location, media references) become
// compact JSON.
func cellValue(v any) any {
	switch v.(type) {
	case nil:
		return ""
	case string, bool, int, int64, float64:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// sheetName fits a form id into excelize's 31-character sheet limit.
func sheetName(formID string) string {
	if len(formID) <= 31 {
		return formID
	}
	return formID[:31]
}
