package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/desertthunder/pkgsend/internal/models"
)

// Message frame types.
const (
	TypeCommand = "command"
	TypeEvent   = "event"
	TypeDone    = "done"
	TypeError   = "error"
)

// Inbound command names.
const (
	CommandAddPackages    = "addPackages"
	CommandInstallPackage = "installPackage"
	CommandGetTaskInfo    = "getTaskInfo"
	CommandStopTask       = "stopTask"
	CommandRemoveTask     = "removeTask"
	CommandSyncTasks      = "syncTasks"
	CommandSyncSettings   = "syncSettings"
)

// Outbound event names.
const (
	EventNotify     = "notify"
	EventAddTasks   = "addTasks"
	EventUpdateTask = "updateTask"
	EventRemoveTask = "removeTask"
	EventSyncTasks  = "syncTasks"
)

// Message is one frame on the bridge.
//
// Replies to a command carry its ID and end with a [TypeDone] frame; broadcasts have no ID.
type Message struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", m.Event)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%s: %w", m.Event, err)
	}
	return nil
}

// TaskRef names a task, optionally with the device task id the operator knows it by.
type TaskRef struct {
	Name   string `json:"name"`
	TaskID *int64 `json:"taskId,omitempty"`
}

// newEvent builds an event frame. A payload that cannot be encoded is sent as null.
func newEvent(id, event string, payload any) Message {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("null")
	}
	return Message{Type: TypeEvent, ID: id, Event: event, Payload: data}
}

func newCommand(id, command string, payload any) (Message, error) {
	msg := Message{Type: TypeCommand, ID: id, Event: command}
	if payload == nil {
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return msg, fmt.Errorf("encoding %s payload: %w", command, err)
	}
	msg.Payload = data
	return msg, nil
}

// TasksPayload decodes an addTasks or syncTasks payload.
func TasksPayload(m Message) ([]*models.Task, error) {
	var out []*models.Task
	if err := m.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// TaskPayload decodes an updateTask payload.
func TaskPayload(m Message) (*models.Task, error) {
	var out models.Task
	if err := m.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
