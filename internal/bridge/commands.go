package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/pkgsend/internal/models"
	"github.com/desertthunder/pkgsend/internal/shared"
	"github.com/desertthunder/pkgsend/internal/tasks"
)

// Operator is the command surface of the orchestrator.
type Operator interface {
	AddPackages(ctx context.Context, items []models.PackageItem) (*tasks.Result, error)
	Install(ctx context.Context, item models.PackageItem) (*tasks.Result, error)
	Refresh(ctx context.Context, name string, taskID *int64) (*models.Task, bool)
	Stop(ctx context.Context, name string, taskID *int64) (*tasks.Result, error)
	Remove(name string) (*tasks.Result, error)
	Tasks() []*models.Task
}

// SettingsApplier re-targets the device and moves the package server.
type SettingsApplier interface {
	ApplySettings(s models.Settings) error
}

// SettingsFunc adapts a function to [SettingsApplier].
type SettingsFunc func(models.Settings) error

func (f SettingsFunc) ApplySettings(s models.Settings) error { return f(s) }

var _ Operator = (*tasks.Orchestrator)(nil)

// Dispatcher turns bridge commands into orchestrator calls and reply frames.
type Dispatcher struct {
	operator Operator
	settings SettingsApplier
	logger   *log.Logger
}

// NewDispatcher creates a dispatcher. A nil settings applier rejects syncSettings.
func NewDispatcher(op Operator, settings SettingsApplier, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &Dispatcher{operator: op, settings: settings, logger: logger.With("component", "commands")}
}

// Dispatch runs one command and returns its replies, without the closing done frame.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) []Message {
	id := msg.ID
	d.logger.Debug("bridge command", "id", id, "command", msg.Event)

	switch msg.Event {
	case CommandAddPackages:
		var items []models.PackageItem
		if err := msg.Decode(&items); err != nil {
			return []Message{invalid(id, err)}
		}
		res, err := d.operator.AddPackages(ctx, items)
		out := notices(id, res)
		if err != nil {
			return out
		}
		added := res.Added
		if added == nil {
			added = []*models.Task{}
		}
		return append(out, newEvent(id, EventAddTasks, added))

	case CommandInstallPackage:
		var item models.PackageItem
		if err := msg.Decode(&item); err != nil {
			return []Message{invalid(id, err)}
		}
		res, _ := d.operator.Install(ctx, item)
		return withTask(id, res)

	case CommandGetTaskInfo:
		var ref TaskRef
		if err := decodeRef(msg, &ref); err != nil {
			return []Message{invalid(id, err)}
		}
		task, ok := d.operator.Refresh(ctx, ref.Name, ref.TaskID)
		if !ok || task == nil {
			return nil
		}
		return []Message{newEvent(id, EventUpdateTask, task)}

	case CommandStopTask:
		var ref TaskRef
		if err := decodeRef(msg, &ref); err != nil {
			return []Message{invalid(id, err)}
		}
		res, _ := d.operator.Stop(ctx, ref.Name, ref.TaskID)
		return withTask(id, res)

	case CommandRemoveTask:
		var ref TaskRef
		if err := decodeRef(msg, &ref); err != nil {
			return []Message{invalid(id, err)}
		}
		res, err := d.operator.Remove(ref.Name)
		out := notices(id, res)
		if err != nil {
			return out
		}
		return append(out, newEvent(id, EventRemoveTask, ref.Name))

	case CommandSyncTasks:
		return []Message{newEvent(id, EventSyncTasks, d.operator.Tasks())}

	case CommandSyncSettings:
		var s models.Settings
		if err := msg.Decode(&s); err != nil {
			return []Message{invalid(id, err)}
		}
		if d.settings == nil {
			return []Message{failed(id, "Settings not applied", "settings are read-only")}
		}
		if err := d.settings.ApplySettings(s); err != nil {
			d.logger.Error("failed to apply settings", "ip", s.IP, "port", s.Port, "error", err)
			return []Message{failed(id, "Settings not applied", err.Error())}
		}
		d.logger.Info("settings applied", "ip", s.IP, "port", s.Port)
		return []Message{newEvent(id, EventNotify, tasks.Notice{Type: tasks.NoticeSuccess, Message: "Settings saved"})}

	default:
		return []Message{{Type: TypeError, ID: id, Payload: mustJSON(map[string]string{"message": "unknown command: " + msg.Event})}}
	}
}

// decodeRef accepts either a {name, taskId} object or a bare name string.
func decodeRef(msg Message, ref *TaskRef) error {
	var name string
	if err := json.Unmarshal(msg.Payload, &name); err == nil {
		ref.Name = name
	} else if err := msg.Decode(ref); err != nil {
		return err
	}
	if strings.TrimSpace(ref.Name) == "" {
		return fmt.Errorf("%s: task name is required", msg.Event)
	}
	return nil
}

func notices(id string, res *tasks.Result) []Message {
	if res == nil {
		return nil
	}
	out := make([]Message, 0, len(res.Notices)+1)
	for _, n := range res.Notices {
		out = append(out, newEvent(id, EventNotify, n))
	}
	return out
}

func withTask(id string, res *tasks.Result) []Message {
	out := notices(id, res)
	if res != nil && res.Task != nil {
		out = append(out, newEvent(id, EventUpdateTask, res.Task))
	}
	return out
}

func invalid(id string, err error) Message {
	return failed(id, "Client sent invalid data.", err.Error())
}

func failed(id, message, description string) Message {
	return newEvent(id, EventNotify, tasks.Notice{Type: tasks.NoticeError, Message: message, Description: description})
}

func mustJSON(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
