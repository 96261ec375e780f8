package tasks

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/desertthunder/pkgsend/internal/models"
	"github.com/desertthunder/pkgsend/internal/shared"
)

type keyField int

const (
	fieldName keyField = iota
	fieldID
	fieldDeviceTaskID
)

// Key selects a task by one of its identifying fields.
type Key struct {
	field    keyField
	str      string
	deviceID int64
}

// ByName selects the task with the given name.
func ByName(name string) Key { return Key{field: fieldName, str: name} }

// ByID selects the task with the given synthetic id.
func ByID(id string) Key { return Key{field: fieldID, str: id} }

// ByDeviceTaskID selects the task the device knows by id.
func ByDeviceTaskID(id int64) Key { return Key{field: fieldDeviceTaskID, deviceID: id} }

func (k Key) matches(t *models.Task) bool {
	switch k.field {
	case fieldName:
		return t.Name == k.str
	case fieldID:
		return t.ID == k.str
	case fieldDeviceTaskID:
		return t.DeviceTaskID != nil && *t.DeviceTaskID == k.deviceID
	}
	return false
}

func (k Key) String() string {
	switch k.field {
	case fieldID:
		return "id=" + k.str
	case fieldDeviceTaskID:
		return "taskId=" + strconv.FormatInt(k.deviceID, 10)
	default:
		return "name=" + k.str
	}
}

// Registry is the in-memory task table.
//
// Records are kept in insertion order and unique by name. Every method is serialized by one
// mutex and hands out copies, so callers can never mutate a stored record directly.
type Registry struct {
	mu      sync.Mutex
	tasks   []*models.Task
	updates chan<- Update
	now     func() time.Time
}

// NewRegistry creates an empty registry. Changes are sent to updates without blocking; a nil
// channel disables them.
func NewRegistry(updates chan<- Update) *Registry {
	return &Registry{updates: updates, now: time.Now}
}

// sendUpdate sends through the channel without blocking.
// A full channel drops the update; subscribers resync from [Registry.List].
func (r *Registry) sendUpdate(kind UpdateKind, task *models.Task) {
	if r.updates == nil {
		return
	}
	select {
	case r.updates <- Update{Kind: kind, Task: task.Clone(), At: r.now()}:
	default:
	}
}

func (r *Registry) index(key Key) int {
	for i, t := range r.tasks {
		if key.matches(t) {
			return i
		}
	}
	return -1
}

// Find returns a copy of the first task matching key.
func (r *Registry) Find(key Key) (*models.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.index(key)
	if i < 0 {
		return nil, false
	}
	return r.tasks[i].Clone(), true
}

// Insert adds task, assigning an id when it has none.
// A task whose name is already present is rejected with [shared.ErrTaskExists].
func (r *Registry) Insert(task *models.Task) (*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.index(ByName(task.Name)) >= 0 {
		return nil, fmt.Errorf("%w: %s", shared.ErrTaskExists, task.Name)
	}

	stored := task.Clone()
	if stored.ID == "" {
		stored.ID = shared.GenerateID()
	}
	if stored.Status == "" {
		stored.Status = models.StatusPause
	}
	r.tasks = append(r.tasks, stored)
	r.sendUpdate(TaskAdded, stored)
	return stored.Clone(), nil
}

// Merge applies patch to the task matching key and returns the result.
func (r *Registry) Merge(key Key, patch models.TaskPatch) (*models.Task, bool) {
	return r.Update(key, func(t *models.Task) bool {
		t.Apply(patch)
		return true
	})
}

// Update runs fn against the stored task matching key while holding the lock.
// fn reports whether it changed anything; only then is an update emitted.
func (r *Registry) Update(key Key, fn func(*models.Task) bool) (*models.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.index(key)
	if i < 0 {
		return nil, false
	}

	work := r.tasks[i].Clone()
	if !fn(work) {
		return r.tasks[i].Clone(), true
	}
	work.Name = r.tasks[i].Name
	work.ID = r.tasks[i].ID
	r.tasks[i] = work
	r.sendUpdate(TaskChanged, work)
	return work.Clone(), true
}

// Remove deletes the task matching key and returns its last state.
func (r *Registry) Remove(key Key) (*models.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.index(key)
	if i < 0 {
		return nil, false
	}
	removed := r.tasks[i]
	r.tasks = append(r.tasks[:i], r.tasks[i+1:]...)
	r.sendUpdate(TaskRemoved, removed)
	return removed.Clone(), true
}

// Sweep finalizes every task whose pending removal time is before now.
//
// A task whose transferred total equals its length is promoted to success and kept; any other
// task is deleted.
func (r *Registry) Sweep(now time.Time) (promoted, purged []*models.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.tasks[:0]
	for _, t := range r.tasks {
		if t.PendingRemovalAt == nil || !now.After(*t.PendingRemovalAt) {
			kept = append(kept, t)
			continue
		}

		if t.Complete() {
			t.Status = models.StatusSuccess
			t.PendingRemovalAt = nil
			kept = append(kept, t)
			promoted = append(promoted, t.Clone())
			r.sendUpdate(TaskCompleted, t)
			continue
		}

		purged = append(purged, t.Clone())
		r.sendUpdate(TaskPurged, t)
	}

	clear(r.tasks[len(kept):])
	r.tasks = kept
	return promoted, purged
}

// List returns copies of every task in insertion order.
func (r *Registry) List() []*models.Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.Task, len(r.tasks))
	for i, t := range r.tasks {
		out[i] = t.Clone()
	}
	return out
}

// Len returns the number of tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
