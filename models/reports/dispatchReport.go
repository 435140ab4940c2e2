package reports

import (
	"bytes"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/notification_backend/models"
	"bitbucket.org/mmdatafocus/notification_backend/utils"
	"github.com/xuri/excelize/v2"
)

const (
	SummarySheet    = "Summary"
	DispatchesSheet = "Dispatches"

	XlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	errorColumnWidth = 120
)

var (
	summaryHeadings  = []string{"Event", "Status", "Total"}
	dispatchHeadings = []string{"Id", "CreatedAt", "Event", "Channel", "RecipientType", "Recipient", "Status", "Error", "WorkId", "UserId", "AppointmentId", "ReviewId", "Transition"}
)

// ExcelExporter is one spreadsheet row.
type ExcelExporter interface {
	GetCellValues() []interface{}
}

type statusCountRow models.DispatchStatusCount

func (r statusCountRow) GetCellValues() []interface{} {
	return []interface{}{string(r.Event), string(r.Status), r.Total}
}

type dispatchRow struct {
	rec *models.NotificationDispatch
	loc *time.Location
}

func (r dispatchRow) GetCellValues() []interface{} {
	d := r.rec
	return []interface{}{
		d.ID,
		d.CreatedAt.In(r.loc).Format("2006-01-02 15:04:05"),
		string(d.Event),
		string(d.Channel),
		string(d.RecipientType),
		d.Recipient,
		string(d.Status),
		utils.DereferencePtr(d.Error, ""),
		utils.DereferencePtr(d.WorkId, ""),
		optionalInt(d.UserId),
		optionalInt(d.AppointmentId),
		optionalInt(d.ReviewId),
		utils.DereferencePtr(d.Transition, ""),
	}
}

func optionalInt(v *int) interface{} {
	if v == nil {
		return ""
	}
	return *v
}

// DispatchReport is the per-period export of notification dispatches.
type DispatchReport struct {
	From       time.Time
	To         time.Time
	Location   *time.Location
	Counts     []models.DispatchStatusCount
	Dispatches []*models.NotificationDispatch
}

// Build renders the report as an xlsx workbook with a summary sheet and a detail sheet.
func (r DispatchReport) Build() (*excelize.File, error) {
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}

	f := excelize.NewFile()
	// NewFile starts with Sheet1; rename it rather than leaving an empty sheet behind.
	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(DispatchesSheet); err != nil {
		return nil, err
	}

	if err := f.SetCellValue(SummarySheet, "A1", fmt.Sprintf("Notification dispatches %s to %s",
		r.From.In(loc).Format("2006-01-02 15:04"), r.To.In(loc).Format("2006-01-02 15:04"))); err != nil {
		return nil, err
	}
	counts := make([]ExcelExporter, 0, len(r.Counts))
	for _, c := range r.Counts {
		counts = append(counts, statusCountRow(c))
	}
	if err := writeTable(f, SummarySheet, 3, summaryHeadings, counts); err != nil {
		return nil, err
	}

	rows := make([]ExcelExporter, 0, len(r.Dispatches))
	for _, d := range r.Dispatches {
		rows = append(rows, dispatchRow{rec: d, loc: loc})
	}
	if err := writeTable(f, DispatchesSheet, 1, dispatchHeadings, rows); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(DispatchesSheet, "H", "H", errorColumnWidth); err != nil {
		return nil, err
	}
	return f, nil
}

// Bytes renders the workbook into memory.
func (r DispatchReport) Bytes() ([]byte, error) {
	f, err := r.Build()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeTable(f *excelize.File, sheet string, headerRow int, headings []string, data []ExcelExporter) error {
	for i, h := range headings {
		cell, err := excelize.CoordinatesToCellName(i+1, headerRow)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	for i, d := range data {
		cell, err := excelize.CoordinatesToCellName(1, headerRow+1+i)
		if err != nil {
			return err
		}
		values := d.GetCellValues()
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
	}
	return nil
}
