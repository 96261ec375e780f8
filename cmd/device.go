package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/pkgsend/internal/models"
	"github.com/desertthunder/pkgsend/internal/services"
	"github.com/desertthunder/pkgsend/internal/shared"
)

// DeviceCall POSTs a raw JSON body to a device endpoint and prints the decoded reply.
func (r *Runner) DeviceCall(ctx context.Context, cmd *cli.Command) error {
	endpoint := cmd.StringArg("endpoint")
	if endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", shared.ErrMissingArgument)
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}

	body, err := decodeJSON(cmd.String("data"))
	if err != nil {
		return err
	}

	device, err := r.requireDevice(cmd)
	if err != nil {
		return err
	}
	return r.writeResponse(device.Call(ctx, endpoint, body), cmd)
}

// DeviceStatus polls transfer progress for a device task id.
func (r *Runner) DeviceStatus(ctx context.Context, cmd *cli.Command) error {
	device, err := r.requireDevice(cmd)
	if err != nil {
		return err
	}
	task := &models.Task{Name: "cli", DeviceTaskID: models.Ptr(cmd.Int64("task-id"))}
	return r.writeResponse(device.Status(ctx, task), cmd)
}

// DeviceStop pauses a device task.
func (r *Runner) DeviceStop(ctx context.Context, cmd *cli.Command) error {
	device, err := r.requireDevice(cmd)
	if err != nil {
		return err
	}
	return r.writeResponse(device.Stop(ctx, cmd.Int64("task-id")), cmd)
}

// DeviceRemove unregisters a device task.
func (r *Runner) DeviceRemove(ctx context.Context, cmd *cli.Command) error {
	device, err := r.requireDevice(cmd)
	if err != nil {
		return err
	}
	return r.writeResponse(device.Remove(ctx, cmd.Int64("task-id")), cmd)
}

// DeviceFind looks up existing device tasks for a content id, probing every sub type unless one is given.
func (r *Runner) DeviceFind(ctx context.Context, cmd *cli.Command) error {
	contentID := cmd.StringArg("content-id")
	if contentID == "" {
		return fmt.Errorf("%w: content id is required", shared.ErrMissingArgument)
	}
	device, err := r.requireDevice(cmd)
	if err != nil {
		return err
	}

	subTypes := services.SubTypes
	if st := cmd.Int("sub-type"); st > 0 {
		subTypes = []services.SubType{services.SubType(st)}
	}

	found := map[string]services.Response{}
	for _, st := range subTypes {
		resp := device.FindTask(ctx, contentID, st)
		found[st.String()] = resp
		if !cmd.Bool("json") {
			r.writePlain("%-20s %s\n", st, describe(resp))
		}
	}
	if cmd.Bool("json") {
		return r.writeJSON(found, cmd.Bool("pretty"))
	}
	return nil
}

func (r *Runner) requireDevice(cmd *cli.Command) (*services.DeviceClient, error) {
	device := r.deviceClient(cmd)
	if !device.Configured() {
		return nil, fmt.Errorf("%w: set [device] host or pass --host", shared.ErrMissingConfig)
	}
	return device, nil
}

func (r *Runner) writeResponse(resp services.Response, cmd *cli.Command) error {
	if cmd.Bool("json") {
		if resp.Fields != nil {
			return r.writeJSON(resp.Fields, cmd.Bool("pretty"))
		}
		return r.writeJSON(resp, cmd.Bool("pretty"))
	}
	r.writePlain("%s\n", describe(resp))
	if !resp.OK() {
		return fmt.Errorf("%w: %s", shared.ErrDeviceRequest, resp.Message)
	}
	return nil
}

func describe(resp services.Response) string {
	var b strings.Builder
	b.WriteString(resp.Status)
	if resp.Message != "" {
		fmt.Fprintf(&b, " (%s)", resp.Message)
	}
	if resp.TaskID != nil {
		fmt.Fprintf(&b, " task_id=%d", *resp.TaskID)
	}
	if resp.LengthTotal != nil {
		var done int64
		if resp.TransferredTotal != nil {
			done = *resp.TransferredTotal
		}
		fmt.Fprintf(&b, " transferred=%d/%d", done, *resp.LengthTotal)
	}
	if resp.RestSecTotal != nil {
		fmt.Fprintf(&b, " remaining=%ds", *resp.RestSecTotal)
	}
	if resp.Error != nil && *resp.Error != 0 {
		fmt.Fprintf(&b, " error=%d", *resp.Error)
	}
	return b.String()
}
