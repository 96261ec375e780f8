package tasks

import (
	"fmt"
	"time"

	"github.com/desertthunder/pkgsend/internal/models"
)

// Update is emitted by the [Registry] for every change to the task table.
//
// Used to fan task state out to the operator bridge, the MQTT publisher and the history log.
type Update struct {
	Kind UpdateKind   // What happened
	Task *models.Task // Snapshot after the change; the last known state for removals
	At   time.Time
}

// UpdateKind enumerates registry changes.
type UpdateKind int

const (
	TaskAdded UpdateKind = iota
	TaskChanged
	TaskRemoved
	TaskCompleted // promoted to success by the sweep
	TaskPurged    // dropped by the sweep short of its full length
)

func (k UpdateKind) String() string {
	switch k {
	case TaskAdded:
		return "added"
	case TaskChanged:
		return "changed"
	case TaskRemoved:
		return "removed"
	case TaskCompleted:
		return "completed"
	case TaskPurged:
		return "purged"
	default:
		return ""
	}
}

// Terminal reports whether the update takes the task out of the table.
func (k UpdateKind) Terminal() bool {
	return k == TaskRemoved || k == TaskPurged
}

// NoticeType is the severity shown with a [Notice].
type NoticeType string

const (
	NoticeSuccess NoticeType = "success"
	NoticeError   NoticeType = "error"
	NoticeInfo    NoticeType = "info"
)

// Notice is an operator-facing notification produced by a command.
type Notice struct {
	Type        NoticeType `json:"type"`
	Message     string     `json:"message"`
	Description string     `json:"description,omitempty"`
}

func (n Notice) String() string {
	if n.Description == "" {
		return n.Message
	}
	return n.Message + ": " + n.Description
}

func invalidDataNotice(err error) Notice {
	return Notice{Type: NoticeError, Message: "Client sent invalid data.", Description: err.Error()}
}

func taskExistsNotice(name string) Notice {
	return Notice{
		Type:        NoticeError,
		Message:     "Task exists",
		Description: fmt.Sprintf("Task with name %s exists.", name),
	}
}

func packageAddedNotice(name string) Notice {
	return Notice{
		Type:        NoticeSuccess,
		Message:     "Success",
		Description: fmt.Sprintf("Package %s added to the list of packages.", name),
	}
}

func unreadablePackageNotice(name string, err error) Notice {
	return Notice{
		Type:        NoticeError,
		Message:     "Package not added",
		Description: fmt.Sprintf("Could not read %s: %v", name, err),
	}
}

func apiFailNotice() Notice {
	return Notice{Type: NoticeError, Message: "Api fail", Description: "PS4 api is unreachable."}
}

func startedLoadingNotice(name string) Notice {
	return Notice{Type: NoticeSuccess, Message: "Success", Description: fmt.Sprintf("Started loading %s", name)}
}

func missingTaskIDNotice() Notice {
	return Notice{Type: NoticeError, Message: "Error", Description: "taskId not found"}
}

func stopFailedNotice() Notice {
	return Notice{Type: NoticeError, Message: "Error", Description: "Failed to stop the task."}
}

func stoppedNotice() Notice {
	return Notice{Type: NoticeSuccess, Message: "Success", Description: "Stopped task."}
}

func removedNotice() Notice {
	return Notice{Type: NoticeSuccess, Message: "Task removed"}
}

func notRemovedNotice() Notice {
	return Notice{Type: NoticeError, Message: "Task not removed"}
}
