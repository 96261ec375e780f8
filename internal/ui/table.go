package ui

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/bubbles/table"

	"github.com/desertthunder/pkgsend/internal/models"
)

func taskColumns() []table.Column {
	return []table.Column{
		{Title: "Name", Width: 28},
		{Title: "Status", Width: 9},
		{Title: "Progress", Width: 8},
		{Title: "Transferred", Width: 21},
		{Title: "Task", Width: 6},
		{Title: "ETA", Width: 8},
		{Title: "Title ID", Width: 10},
	}
}

// taskRow renders t as a table row. Status is left uncolored since the table truncates by width.
func taskRow(t *models.Task) table.Row {
	return table.Row{
		t.Name,
		string(t.Status),
		progress(t),
		transferred(t),
		optional(t.DeviceTaskID, strconv.FormatInt),
		optional(t.RemainingSeconds, formatSeconds),
		t.TitleID,
	}
}

func progress(t *models.Task) string {
	if t.LengthTotal == nil || *t.LengthTotal == 0 {
		return "-"
	}
	return fmt.Sprintf("%5.1f%%", t.Progress()*100)
}

func transferred(t *models.Task) string {
	if t.LengthTotal == nil {
		return "-"
	}
	var done int64
	if t.TransferredTotal != nil {
		done = *t.TransferredTotal
	}
	return formatBytes(done) + " / " + formatBytes(*t.LengthTotal)
}

func optional(p *int64, format func(int64, int) string) string {
	if p == nil {
		return "-"
	}
	return format(*p, 10)
}

func formatSeconds(s int64, _ int) string {
	if s >= 3600 {
		return fmt.Sprintf("%dh%02dm", s/3600, (s%3600)/60)
	}
	return fmt.Sprintf("%dm%02ds", s/60, s%60)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
