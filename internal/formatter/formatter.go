// package formatter exports transfer history to various formats (CSV, Markdown, plain text)
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/pkgsend/internal/models"
	"github.com/desertthunder/pkgsend/internal/pkgfile"
	"github.com/desertthunder/pkgsend/internal/shared"
)

// Format names an export format accepted by [Export].
type Format string

const (
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
)

// ParseFormat accepts a format name or a common alias ("md", "txt").
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "text", "txt":
		return FormatText, nil
	}
	return "", fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, s)
}

// Extension returns the file extension used for f, without the dot.
func (f Format) Extension() string {
	switch f {
	case FormatMarkdown:
		return "md"
	case FormatText:
		return "txt"
	}
	return string(f)
}

// ExportToCSV converts records to CSV with columns: Recorded, Outcome, Name, Content ID, Title ID,
// Device Task, Transferred, Length, Task ID
func ExportToCSV(records []*models.TransferRecord) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Recorded", "Outcome", "Name", "Content ID", "Title ID", "Device Task", "Transferred", "Length", "Task ID"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, rec := range records {
		record := []string{
			rec.RecordedAt.UTC().Format(time.RFC3339),
			string(rec.Outcome),
			rec.Name,
			rec.ContentID,
			pkgfile.TitleID(rec.ContentID),
			optional(rec.DeviceTaskID),
			optional(rec.TransferredTotal),
			optional(rec.LengthTotal),
			rec.TaskID,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown converts records to a Markdown report grouped by outcome counts
func ExportToMarkdown(records []*models.TransferRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString("# Transfer History\n\n")
	buf.WriteString(fmt.Sprintf("**Transfers**: %d\n", len(records)))

	counts := map[models.Outcome]int{}
	for _, rec := range records {
		counts[rec.Outcome]++
	}
	for _, o := range []models.Outcome{models.OutcomeCompleted, models.OutcomePurged, models.OutcomeRemoved} {
		if counts[o] > 0 {
			buf.WriteString(fmt.Sprintf("**%s**: %d\n", capitalize(string(o)), counts[o]))
		}
	}

	buf.WriteString("\n## Transfers\n\n")
	for i, rec := range records {
		idPart := ""
		if rec.ContentID != "" {
			idPart = fmt.Sprintf(" (%s)", rec.ContentID)
		}
		buf.WriteString(fmt.Sprintf("%d. %s%s: %s [%s]\n", i+1, rec.Name, idPart, rec.Outcome, progress(rec)))
	}

	return buf.Bytes(), nil
}

// ExportToText converts records to plain text, one line per transfer
func ExportToText(records []*models.TransferRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Transfers: %d\n\n", len(records)))
	for i, rec := range records {
		buf.WriteString(fmt.Sprintf("%d. %s %s %s\n", i+1, rec.RecordedAt.UTC().Format(time.DateTime), rec.Outcome, rec.Name))
	}

	return buf.Bytes(), nil
}

// Export renders records in format.
func Export(records []*models.TransferRecord, format Format) ([]byte, error) {
	switch format {
	case FormatCSV:
		return ExportToCSV(records)
	case FormatMarkdown:
		return ExportToMarkdown(records)
	case FormatText:
		return ExportToText(records)
	}
	return nil, fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, format)
}

// WriteExport renders records in format and writes them to path.
//
// Defaults to transfers.{ext} as the filename.
func WriteExport(records []*models.TransferRecord, format Format, path string) (string, error) {
	if path == "" {
		path = "transfers." + format.Extension()
	}

	data, err := Export(records, format)
	if err != nil {
		return "", fmt.Errorf("failed to generate %s: %w", format, err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s file: %w", format, err)
	}

	return path, nil
}

func optional(p *int64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatInt(*p, 10)
}

func progress(rec *models.TransferRecord) string {
	if rec.LengthTotal == nil || *rec.LengthTotal == 0 {
		return "unknown length"
	}
	var done int64
	if rec.TransferredTotal != nil {
		done = *rec.TransferredTotal
	}
	return fmt.Sprintf("%d/%d bytes", done, *rec.LengthTotal)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
