package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/pkgsend/internal/bridge"
	"github.com/desertthunder/pkgsend/internal/models"
	"github.com/desertthunder/pkgsend/internal/shared"
	"github.com/desertthunder/pkgsend/internal/tasks"
)

// dial connects to the running serve process.
func (r *Runner) dial(ctx context.Context, cmd *cli.Command) (*bridge.Client, error) {
	url := r.bridgeURL(cmd)
	r.logger.Debug("connecting to bridge", "url", url)
	return bridge.Dial(ctx, url, r.logger)
}

// TasksList prints the task table of the running server.
func (r *Runner) TasksList(ctx context.Context, cmd *cli.Command) error {
	client, err := r.dial(ctx, cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	ts, err := client.SyncTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to sync tasks: %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(ts, cmd.Bool("pretty"))
	}

	if len(ts) == 0 {
		return r.writePlain("No tasks.\n")
	}
	r.writePlain("Found %d tasks:\n\n", len(ts))
	for i, t := range ts {
		r.writeTask(i+1, t)
	}
	return nil
}

// TasksAdd registers package files with the running server. Names default to the file's base name.
func (r *Runner) TasksAdd(ctx context.Context, cmd *cli.Command) error {
	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		return fmt.Errorf("%w: at least one package path is required", shared.ErrMissingArgument)
	}
	name := cmd.String("name")
	if name != "" && len(paths) > 1 {
		return fmt.Errorf("%w: --name only applies to a single package", shared.ErrInvalidArgument)
	}

	items := make([]models.PackageItem, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", shared.ErrInvalidArgument, p, err)
		}
		item := models.PackageItem{Name: filepath.Base(abs), Path: abs}
		if name != "" {
			item.Name = name
		}
		items = append(items, item)
	}

	return r.bridgeDo(ctx, cmd, func(c *bridge.Client) (*bridge.Reply, error) {
		return c.AddPackages(ctx, items)
	})
}

// TasksInstall asks the running server to start the device download for a task.
func (r *Runner) TasksInstall(ctx context.Context, cmd *cli.Command) error {
	name, err := requireName(cmd)
	if err != nil {
		return err
	}
	item := models.PackageItem{Name: name, Path: cmd.String("path"), TaskID: taskIDValue(cmd)}
	if item.Path != "" {
		if item.Path, err = filepath.Abs(item.Path); err != nil {
			return fmt.Errorf("%w: %w", shared.ErrInvalidArgument, err)
		}
	}

	return r.bridgeDo(ctx, cmd, func(c *bridge.Client) (*bridge.Reply, error) {
		return c.Install(ctx, item)
	})
}

// TasksInfo refreshes one task from the device.
func (r *Runner) TasksInfo(ctx context.Context, cmd *cli.Command) error {
	name, err := requireName(cmd)
	if err != nil {
		return err
	}
	return r.bridgeDo(ctx, cmd, func(c *bridge.Client) (*bridge.Reply, error) {
		return c.TaskInfo(ctx, name, taskIDValue(cmd))
	})
}

// TasksStop pauses a task on the device.
func (r *Runner) TasksStop(ctx context.Context, cmd *cli.Command) error {
	name, err := requireName(cmd)
	if err != nil {
		return err
	}
	return r.bridgeDo(ctx, cmd, func(c *bridge.Client) (*bridge.Reply, error) {
		return c.Stop(ctx, name, taskIDValue(cmd))
	})
}

// TasksRemove drops a task from the running server.
func (r *Runner) TasksRemove(ctx context.Context, cmd *cli.Command) error {
	name, err := requireName(cmd)
	if err != nil {
		return err
	}
	return r.bridgeDo(ctx, cmd, func(c *bridge.Client) (*bridge.Reply, error) {
		return c.Remove(ctx, name)
	})
}

// Settings re-targets the running server at a device address and package port.
func (r *Runner) Settings(ctx context.Context, cmd *cli.Command) error {
	settings := models.Settings{IP: cmd.String("ip"), Port: cmd.Int("port")}
	if settings.IP == "" {
		return fmt.Errorf("%w: --ip is required", shared.ErrMissingArgument)
	}
	if settings.Port < 0 || settings.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", shared.ErrInvalidArgument, settings.Port)
	}

	return r.bridgeDo(ctx, cmd, func(c *bridge.Client) (*bridge.Reply, error) {
		return c.SyncSettings(ctx, settings)
	})
}

// bridgeDo dials the bridge, runs fn and prints the reply.
func (r *Runner) bridgeDo(ctx context.Context, cmd *cli.Command, fn func(*bridge.Client) (*bridge.Reply, error)) error {
	client, err := r.dial(ctx, cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	reply, err := fn(client)
	if err != nil {
		return err
	}
	return r.writeReply(reply, cmd.Bool("json"))
}

func (r *Runner) writeReply(reply *bridge.Reply, asJSON bool) error {
	if asJSON {
		return r.writeJSON(reply, true)
	}

	for _, n := range reply.Notices {
		r.writePlain("%s %s\n", noticeMark(n.Type), n.String())
	}
	for i, t := range reply.Tasks {
		r.writeTask(i+1, t)
	}
	for _, name := range reply.Removed {
		r.writePlain("Removed %s\n", name)
	}
	if len(reply.Errors) > 0 {
		return fmt.Errorf("%w: %s", shared.ErrInvalidArgument, strings.Join(reply.Errors, "; "))
	}
	return nil
}

func (r *Runner) writeTask(i int, t *models.Task) {
	r.writePlain("%d. %s [%s]\n", i, t.Name, t.Status)
	if t.Path != "" {
		r.writePlain("   Path: %s\n", t.Path)
	}
	if t.ContentID != "" {
		r.writePlain("   Content ID: %s\n", t.ContentID)
	}
	if t.DeviceTaskID != nil {
		r.writePlain("   Task ID: %d\n", *t.DeviceTaskID)
	}
	if t.LengthTotal != nil && *t.LengthTotal > 0 {
		r.writePlain("   Progress: %.1f%%\n", t.Progress()*100)
	}
	r.writePlain("\n")
}

func noticeMark(t tasks.NoticeType) string {
	switch t {
	case tasks.NoticeSuccess:
		return "✓"
	case tasks.NoticeError:
		return "✗"
	default:
		return "!"
	}
}

func requireName(cmd *cli.Command) (string, error) {
	name := cmd.StringArg("name")
	if name == "" {
		return "", fmt.Errorf("%w: task name is required", shared.ErrMissingArgument)
	}
	return name, nil
}

func taskIDValue(cmd *cli.Command) *int64 {
	if !cmd.IsSet("task-id") {
		return nil
	}
	return models.Ptr(cmd.Int64("task-id"))
}
