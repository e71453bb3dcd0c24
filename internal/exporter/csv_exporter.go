package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"panicdesk/internal/reports"
)

// SchemaVersion identifies the CSV export format version.
// Increment when adding new columns or changing the format.
const SchemaVersion = "1"

// csvColumns defines the column order for export.
var csvColumns = []string{
	"schemaVersion",
	"fullname",
	"enrollmentNumber",
	"campus",
	"programName",
	"email",
	"latitude",
	"longitude",
	"photos",
	"audios",
	"status",
	"descriptionFacts",
	"actionsRealized",
	"createdAt",
	"updatedAt",
}

// CSVExporter exports panic reports to CSV format.
type CSVExporter struct{}

// NewCSVExporter creates a new CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Export writes reports to the given writer in CSV format. Attachment URL
// lists are joined with semicolons so each report stays a single row.
func (e *CSVExporter) Export(w io.Writer, reportList []reports.Report) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(csvColumns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, report := range reportList {
		if err := writer.Write(e.reportToRow(report)); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	return writer.Error()
}

// reportToRow converts a report to a CSV row following the column order.
func (e *CSVExporter) reportToRow(report reports.Report) []string {
	row := make([]string, len(csvColumns))

	row[0] = SchemaVersion
	row[1] = report.FullName
	row[2] = report.EnrollmentNumber
	row[3] = report.Campus
	row[4] = report.ProgramName
	row[5] = report.Email
	row[6] = formatOptionalFloat(report.Latitude)
	row[7] = formatOptionalFloat(report.Longitude)
	row[8] = strings.Join(report.Photos, ";")
	row[9] = strings.Join(report.Audios, ";")
	row[10] = string(report.Status)
	row[11] = report.DescriptionFacts
	row[12] = report.ActionsRealized
	row[13] = formatTime(report.CreatedAt)
	row[14] = formatTime(report.UpdatedAt)

	return row
}

// formatOptionalFloat formats an optional float pointer to a string.
func formatOptionalFloat(value *float64) string {
	if value == nil {
		return ""
	}
	return strconv.FormatFloat(*value, 'f', 6, 64)
}

// formatTime formats a time to RFC3339 string.
func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.Format(time.RFC3339)
}
