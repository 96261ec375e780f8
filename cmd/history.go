package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/pkgsend/internal/formatter"
	"github.com/desertthunder/pkgsend/internal/models"
	"github.com/desertthunder/pkgsend/internal/repositories"
	"github.com/desertthunder/pkgsend/internal/shared"
)

// History lists finished transfers recorded by the server, newest first.
func (r *Runner) History(ctx context.Context, cmd *cli.Command) error {
	db, err := shared.OpenDatabase(r.config.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	repo := repositories.NewHistoryRepository(db)

	var records []*models.TransferRecord
	if contentID := cmd.String("content-id"); contentID != "" {
		records, err = repo.ListByContentID(contentID)
	} else {
		records, err = repo.List(cmd.Int("limit"))
	}
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(records, cmd.Bool("pretty"))
	}
	if f := cmd.String("format"); f != "" {
		return r.exportHistory(records, f, cmd.String("output"))
	}

	if len(records) == 0 {
		return r.writePlain("No transfers recorded.\n")
	}
	r.writePlainHeader(fmt.Sprintf("%d transfers", len(records)))
	for _, rec := range records {
		r.writePlain("%s  %-9s %s\n", rec.RecordedAt.Local().Format(time.DateTime), rec.Outcome, rec.Name)
		if rec.ContentID != "" {
			r.writePlain("   Content ID: %s\n", rec.ContentID)
		}
		if rec.LengthTotal != nil {
			var done int64
			if rec.TransferredTotal != nil {
				done = *rec.TransferredTotal
			}
			r.writePlain("   Transferred: %d / %d bytes\n", done, *rec.LengthTotal)
		}
	}
	return nil
}

// exportHistory renders records with the formatter, to --output when set and to stdout otherwise.
func (r *Runner) exportHistory(records []*models.TransferRecord, name, output string) error {
	format, err := formatter.ParseFormat(name)
	if err != nil {
		return err
	}

	if output == "" {
		data, err := formatter.Export(records, format)
		if err != nil {
			return err
		}
		return r.writePlain("%s", data)
	}

	path, err := formatter.WriteExport(records, format, output)
	if err != nil {
		return err
	}
	r.writePlain("✓ %d transfers exported to %s\n", len(records), path)
	return nil
}
