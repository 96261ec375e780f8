package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/pkgsend/internal/pkgfile"
	"github.com/desertthunder/pkgsend/internal/shared"
)

// Inspect prints the content and title identifiers of package files.
func (r *Runner) Inspect(ctx context.Context, cmd *cli.Command) error {
	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		return fmt.Errorf("%w: at least one package path is required", shared.ErrMissingArgument)
	}

	results := make([]*pkgfile.Metadata, 0, len(paths))
	for _, p := range paths {
		meta, err := pkgfile.Inspect(p)
		if err != nil {
			return err
		}
		results = append(results, meta)
	}

	if cmd.Bool("json") {
		return r.writeJSON(results, cmd.Bool("pretty"))
	}

	for _, m := range results {
		r.writePlain("%s\n", m.Path)
		r.writePlain("   Content ID: %s\n", m.ContentID)
		if m.TitleID != "" {
			r.writePlain("   Title ID: %s\n", m.TitleID)
		}
		r.writePlain("   Size: %d bytes\n", m.Size)
	}
	return nil
}
