package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/pkgsend/internal/models"
	"github.com/desertthunder/pkgsend/internal/pkgfile"
	"github.com/desertthunder/pkgsend/internal/services"
	"github.com/desertthunder/pkgsend/internal/shared"
)

const (
	DefaultRefreshInterval = 500 * time.Millisecond
	DefaultSweepInterval   = 3 * time.Second
)

// Locator builds the URL the device downloads a named package from.
type Locator interface {
	PackageURL(name string) string
}

// PackageInspector reads identifiers from a package file.
type PackageInspector interface {
	Inspect(path string) (*pkgfile.Metadata, error)
}

// Result is the outcome of an operator command.
type Result struct {
	Notices []Notice       // Notifications to show, in order
	Task    *models.Task   // Task state after the command, nil when there is none
	Added   []*models.Task // Tasks registered by [Orchestrator.AddPackages]
}

func (r *Result) notify(n Notice) {
	r.Notices = append(r.Notices, n)
}

// Options configures an [Orchestrator].
type Options struct {
	Registry        *Registry
	Device          services.Device
	Locator         Locator
	Inspector       PackageInspector
	Logger          *log.Logger
	RefreshInterval time.Duration
	SweepInterval   time.Duration
	Now             func() time.Time
}

// Orchestrator reconciles operator commands with the device and the task registry.
//
// At most one device status poll is in flight at a time across every task.
type Orchestrator struct {
	registry  *Registry
	device    services.Device
	locator   Locator
	inspector PackageInspector
	logger    *log.Logger
	gate      Gate

	refreshInterval time.Duration
	sweepInterval   time.Duration
	now             func() time.Time
}

// NewOrchestrator creates an orchestrator from opts, filling in defaults.
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Registry == nil {
		opts.Registry = NewRegistry(nil)
	}
	if opts.Inspector == nil {
		opts.Inspector = pkgfile.Inspector{}
	}
	if opts.Logger == nil {
		opts.Logger = shared.DiscardLogger()
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Orchestrator{
		registry:        opts.Registry,
		device:          opts.Device,
		locator:         opts.Locator,
		inspector:       opts.Inspector,
		logger:          opts.Logger.With("component", "orchestrator"),
		refreshInterval: opts.RefreshInterval,
		sweepInterval:   opts.SweepInterval,
		now:             opts.Now,
	}
}

// Registry returns the task table the orchestrator drives.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Tasks returns a snapshot of every task.
func (o *Orchestrator) Tasks() []*models.Task {
	return o.registry.List()
}

// DeviceConfigured reports whether a device client with an address is attached.
func (o *Orchestrator) DeviceConfigured() bool {
	return o.device != nil && o.device.Configured()
}

// AddPackages registers every item whose name is not yet known.
//
// The batch is rejected as a whole when any item is malformed. Duplicates and unreadable files
// are skipped with a notice.
func (o *Orchestrator) AddPackages(ctx context.Context, items []models.PackageItem) (*Result, error) {
	res := &Result{}
	for i, item := range items {
		if err := item.Validate(); err != nil {
			err = fmt.Errorf("item %d: %w", i, err)
			res.notify(invalidDataNotice(err))
			return res, fmt.Errorf("%w: %w", shared.ErrInvalidInput, err)
		}
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if _, exists := o.registry.Find(ByName(item.Name)); exists {
			res.notify(taskExistsNotice(item.Name))
			continue
		}

		meta, err := o.inspector.Inspect(item.Path)
		if err != nil {
			o.logger.Warn("failed to inspect package", "name", item.Name, "path", item.Path, "error", err)
			res.notify(unreadablePackageNotice(item.Name, err))
			continue
		}

		task, err := o.registry.Insert(newTask(item, meta))
		if errors.Is(err, shared.ErrTaskExists) {
			res.notify(taskExistsNotice(item.Name))
			continue
		}

		o.logger.Info("package added", "name", task.Name, "content_id", task.ContentID)
		res.notify(packageAddedNotice(task.Name))
		res.Added = append(res.Added, task)
	}
	return res, nil
}

// Install asks the device to download the named package, registering it first when needed.
//
// An explicit device task id on item is tried for resumption before a fresh install. A device
// failure leaves the task untouched.
func (o *Orchestrator) Install(ctx context.Context, item models.PackageItem) (*Result, error) {
	res := &Result{}
	if err := item.Validate(); err != nil {
		res.notify(invalidDataNotice(err))
		return res, fmt.Errorf("%w: %w", shared.ErrInvalidInput, err)
	}
	if o.device == nil {
		res.notify(apiFailNotice())
		return res, fmt.Errorf("%w: no device client", shared.ErrServiceUnavailable)
	}

	task, ok := o.registry.Find(ByName(item.Name))
	if !ok {
		meta, err := o.inspector.Inspect(item.Path)
		if err != nil {
			o.logger.Warn("installing without a content id", "name", item.Name, "error", err)
		}
		task, err = o.registry.Insert(newTask(item, meta))
		if err != nil {
			task, ok = o.registry.Find(ByName(item.Name))
		}
		if !ok && task == nil {
			task = newTask(item, meta)
		}
	}

	subject := task.Clone()
	if item.TaskID != nil {
		subject.DeviceTaskID = models.Ptr(*item.TaskID)
	}

	url := o.locator.PackageURL(item.Name)
	resp := o.device.Install(ctx, []string{url}, subject)
	if !resp.OK() {
		o.logger.Warn("install failed", "name", item.Name, "url", url, "message", resp.Message)
		res.notify(apiFailNotice())
		res.Task = task
		return res, fmt.Errorf("%w: install %s: %s", shared.ErrDeviceRequest, item.Name, resp.Message)
	}

	patch := models.TaskPatch{Status: models.Ptr(models.StatusLoading), Confirmed: models.Ptr(false)}
	if resp.TaskID != nil {
		patch.DeviceTaskID = resp.TaskID
	} else if subject.DeviceTaskID != nil {
		patch.DeviceTaskID = subject.DeviceTaskID
	}

	updated, ok := o.registry.Merge(ByName(item.Name), patch)
	if !ok {
		updated = subject
		updated.Apply(patch)
	}

	o.logger.Info("install started", "name", item.Name, "task_id", deref(updated.DeviceTaskID))
	res.notify(startedLoadingNotice(item.Name))
	res.Task = updated
	return res, nil
}

// Refresh asks the device for the named task's progress.
//
// A task already confirmed by the device with a known length is returned as is. Otherwise one
// status request is made behind the orchestrator's gate; when the gate is held the refresh is
// dropped and ok is false. taskID, when set, overrides the stored device task id.
func (o *Orchestrator) Refresh(ctx context.Context, name string, taskID *int64) (task *models.Task, ok bool) {
	current, found := o.registry.Find(ByName(name))
	if !found {
		return nil, false
	}
	if current.Confirmed && current.LengthTotal != nil {
		return current, true
	}
	if o.device == nil {
		return current, true
	}

	if !o.gate.TryAcquire() {
		o.logger.Debug("status poll in flight, dropping refresh", "name", name)
		return nil, false
	}
	defer o.gate.Release()

	subject := current.Clone()
	if taskID != nil {
		subject.DeviceTaskID = models.Ptr(*taskID)
	}

	resp := o.device.Status(ctx, subject)
	if resp.OK() {
		if resp.LengthTotal == nil || *resp.LengthTotal == 0 {
			return current, true
		}

		patch := models.TaskPatch{
			LengthTotal:      resp.LengthTotal,
			TransferredTotal: resp.TransferredTotal,
			RemainingSeconds: resp.RestSecTotal,
			Confirmed:        models.Ptr(true),
		}
		if taskID != nil {
			patch.DeviceTaskID = taskID
		}
		if resp.Error != nil && *resp.Error != 0 {
			patch.Status = models.Ptr(models.StatusError)
			o.logger.Warn("device reported transfer error", "name", name, "code", *resp.Error)
		}

		updated, ok := o.registry.Merge(ByName(name), patch)
		if !ok {
			return nil, false
		}
		return updated, true
	}

	status := current.Status
	if status != models.StatusPause && status != models.StatusSuccess {
		status = models.StatusError
	}
	if status == current.Status {
		return current, true
	}

	o.logger.Debug("status poll failed", "name", name, "message", resp.Message)
	updated, ok := o.registry.Merge(ByName(name), models.TaskPatch{Status: &status})
	if !ok {
		return nil, false
	}
	return updated, true
}

// Stop pauses the named task on the device.
//
// The record becomes paused and its status backoff is cleared whatever the device answers.
func (o *Orchestrator) Stop(ctx context.Context, name string, taskID *int64) (*Result, error) {
	res := &Result{}

	current, found := o.registry.Find(ByName(name))
	id := taskID
	if id == nil && found {
		id = current.DeviceTaskID
	}
	if id == nil {
		res.notify(missingTaskIDNotice())
		return res, fmt.Errorf("%w: %s", shared.ErrMissingTaskID, name)
	}

	if o.device != nil {
		if resp := o.device.Stop(ctx, *id); !resp.OK() {
			o.logger.Warn("device did not stop task", "name", name, "task_id", *id, "message", resp.Message)
			res.notify(stopFailedNotice())
		}
		o.device.ClearRetry(name)
	}
	res.notify(stoppedNotice())

	patch := models.TaskPatch{Status: models.Ptr(models.StatusPause), DeviceTaskID: id}
	if updated, ok := o.registry.Merge(ByName(name), patch); ok {
		res.Task = updated
	} else {
		res.Task = &models.Task{Name: name, Status: models.StatusPause, DeviceTaskID: models.Ptr(*id)}
	}
	return res, nil
}

// Remove deletes the named task. The device is not contacted.
func (o *Orchestrator) Remove(name string) (*Result, error) {
	res := &Result{}
	removed, ok := o.registry.Remove(ByName(name))
	if !ok {
		res.notify(notRemovedNotice())
		return res, fmt.Errorf("%w: %s", shared.ErrTaskNotFound, name)
	}
	if o.device != nil {
		o.device.ClearRetry(name)
	}
	o.logger.Info("task removed", "name", name)
	res.notify(removedNotice())
	res.Task = removed
	return res, nil
}

// Run drives the periodic refresh and sweep until ctx is cancelled.
//
// Each refresh tick polls every unconfirmed loading or errored task that has a device task id.
// Ticks run in their own goroutine and may overlap; the gate keeps polls serialized.
func (o *Orchestrator) Run(ctx context.Context) error {
	refresh := time.NewTicker(o.refreshInterval)
	defer refresh.Stop()
	sweep := time.NewTicker(o.sweepInterval)
	defer sweep.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	o.logger.Info("orchestrator started", "refresh", o.refreshInterval, "sweep", o.sweepInterval)
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("orchestrator stopped")
			return nil
		case <-refresh.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				o.RefreshAll(ctx)
			}()
		case <-sweep.C:
			o.Sweep()
		}
	}
}

// RefreshAll refreshes every task still waiting on device confirmation.
func (o *Orchestrator) RefreshAll(ctx context.Context) {
	for _, t := range o.registry.List() {
		if ctx.Err() != nil {
			return
		}
		if !needsRefresh(t) {
			continue
		}
		o.Refresh(ctx, t.Name, nil)
	}
}

// Sweep finalizes tasks whose grace window has elapsed.
func (o *Orchestrator) Sweep() (promoted, purged []*models.Task) {
	promoted, purged = o.registry.Sweep(o.now())
	for _, t := range promoted {
		o.logger.Info("transfer complete", "name", t.Name)
	}
	for _, t := range purged {
		o.logger.Info("transfer abandoned", "name", t.Name, "transferred", deref(t.TransferredTotal), "length", deref(t.LengthTotal))
	}
	return promoted, purged
}

func needsRefresh(t *models.Task) bool {
	if t.Confirmed || t.DeviceTaskID == nil {
		return false
	}
	return t.Status == models.StatusLoading || t.Status == models.StatusError
}

func newTask(item models.PackageItem, meta *pkgfile.Metadata) *models.Task {
	task := &models.Task{
		Name:   item.Name,
		Path:   item.Path,
		Status: models.StatusPause,
	}
	if item.TaskID != nil {
		task.DeviceTaskID = models.Ptr(*item.TaskID)
	}
	if meta != nil {
		task.ContentID = meta.ContentID
		task.TitleID = meta.TitleID
	}
	return task
}

func deref(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
