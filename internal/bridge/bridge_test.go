package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/pkgsend/internal/models"
	"github.com/desertthunder/pkgsend/internal/pkgfile"
	"github.com/desertthunder/pkgsend/internal/server"
	"github.com/desertthunder/pkgsend/internal/shared"
	"github.com/desertthunder/pkgsend/internal/tasks"
)

type fakeOperator struct {
	mu       sync.Mutex
	refresh  *models.Task
	dropped  bool
	stopped  []TaskRef
	removed  []string
	tasks    []*models.Task
	installs []models.PackageItem
}

func (f *fakeOperator) AddPackages(_ context.Context, items []models.PackageItem) (*tasks.Result, error) {
	res := &tasks.Result{}
	for _, item := range items {
		if item.Name == "" {
			res.Notices = append(res.Notices, tasks.Notice{Type: tasks.NoticeError, Message: "Client sent invalid data."})
			return res, shared.ErrInvalidInput
		}
		res.Added = append(res.Added, &models.Task{Name: item.Name, Path: item.Path, Status: models.StatusPause})
		res.Notices = append(res.Notices, tasks.Notice{Type: tasks.NoticeSuccess, Message: "Success"})
	}
	return res, nil
}

func (f *fakeOperator) Install(_ context.Context, item models.PackageItem) (*tasks.Result, error) {
	f.mu.Lock()
	f.installs = append(f.installs, item)
	f.mu.Unlock()
	return &tasks.Result{
		Notices: []tasks.Notice{{Type: tasks.NoticeSuccess, Message: "Success"}},
		Task:    &models.Task{Name: item.Name, Status: models.StatusLoading, DeviceTaskID: models.Ptr[int64](7)},
	}, nil
}

func (f *fakeOperator) Refresh(_ context.Context, name string, _ *int64) (*models.Task, bool) {
	if f.dropped {
		return nil, false
	}
	return f.refresh, true
}

func (f *fakeOperator) Stop(_ context.Context, name string, taskID *int64) (*tasks.Result, error) {
	f.mu.Lock()
	f.stopped = append(f.stopped, TaskRef{Name: name, TaskID: taskID})
	f.mu.Unlock()
	return &tasks.Result{
		Notices: []tasks.Notice{{Type: tasks.NoticeSuccess, Message: "Success", Description: "Stopped task."}},
		Task:    &models.Task{Name: name, Status: models.StatusPause},
	}, nil
}

func (f *fakeOperator) Remove(name string) (*tasks.Result, error) {
	if name == "missing" {
		return &tasks.Result{Notices: []tasks.Notice{{Type: tasks.NoticeError, Message: "Task not removed"}}}, shared.ErrTaskNotFound
	}
	f.mu.Lock()
	f.removed = append(f.removed, name)
	f.mu.Unlock()
	return &tasks.Result{Notices: []tasks.Notice{{Type: tasks.NoticeSuccess, Message: "Task removed"}}}, nil
}

func (f *fakeOperator) Tasks() []*models.Task { return f.tasks }

func command(t *testing.T, name string, payload any) Message {
	t.Helper()
	msg, err := newCommand("1", name, payload)
	if err != nil {
		t.Fatalf("newCommand failed: %v", err)
	}
	return msg
}

func events(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Event
		if m.Type == TypeError {
			out[i] = TypeError
		}
	}
	return out
}

func TestDispatcher(t *testing.T) {
	ctx := context.Background()

	t.Run("AddPackages", func(t *testing.T) {
		d := NewDispatcher(&fakeOperator{}, nil, nil)
		out := d.Dispatch(ctx, command(t, CommandAddPackages, []models.PackageItem{{Name: "a", Path: "/a.pkg"}, {Name: "b", Path: "/b.pkg"}}))

		if got := strings.Join(events(out), ","); got != "notify,notify,addTasks" {
			t.Fatalf("unexpected events %s", got)
		}
		added, err := TasksPayload(out[2])
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if len(added) != 2 || added[1].Name != "b" {
			t.Errorf("unexpected added tasks %+v", added)
		}
	})

	t.Run("AddPackages Rejected", func(t *testing.T) {
		d := NewDispatcher(&fakeOperator{}, nil, nil)
		out := d.Dispatch(ctx, command(t, CommandAddPackages, []models.PackageItem{{Path: "/a.pkg"}}))

		if got := strings.Join(events(out), ","); got != "notify" {
			t.Errorf("expected only a notice, got %s", got)
		}
	})

	t.Run("Malformed Payload", func(t *testing.T) {
		d := NewDispatcher(&fakeOperator{}, nil, nil)
		msg := Message{Type: TypeCommand, ID: "1", Event: CommandAddPackages, Payload: json.RawMessage(`{"name":1}`)}
		out := d.Dispatch(ctx, msg)

		if len(out) != 1 || out[0].Event != EventNotify {
			t.Fatalf("expected one notice, got %v", events(out))
		}
		var n tasks.Notice
		out[0].Decode(&n)
		if n.Type != tasks.NoticeError || n.Message != "Client sent invalid data." {
			t.Errorf("unexpected notice %+v", n)
		}
	})

	t.Run("InstallPackage", func(t *testing.T) {
		op := &fakeOperator{}
		d := NewDispatcher(op, nil, nil)
		out := d.Dispatch(ctx, command(t, CommandInstallPackage, models.PackageItem{Name: "a", Path: "/a.pkg", TaskID: models.Ptr[int64](3)}))

		if got := strings.Join(events(out), ","); got != "notify,updateTask" {
			t.Fatalf("unexpected events %s", got)
		}
		if len(op.installs) != 1 || op.installs[0].TaskID == nil || *op.installs[0].TaskID != 3 {
			t.Errorf("expected install with task id 3, got %+v", op.installs)
		}
		task, _ := TaskPayload(out[1])
		if task.Status != models.StatusLoading {
			t.Errorf("expected loading, got %s", task.Status)
		}
	})

	t.Run("GetTaskInfo", func(t *testing.T) {
		op := &fakeOperator{refresh: &models.Task{Name: "a", Status: models.StatusLoading}}
		d := NewDispatcher(op, nil, nil)

		out := d.Dispatch(ctx, command(t, CommandGetTaskInfo, TaskRef{Name: "a"}))
		if got := strings.Join(events(out), ","); got != "updateTask" {
			t.Errorf("unexpected events %s", got)
		}

		op.dropped = true
		if out := d.Dispatch(ctx, command(t, CommandGetTaskInfo, TaskRef{Name: "a"})); len(out) != 0 {
			t.Errorf("dropped refresh should not reply, got %v", events(out))
		}
	})

	t.Run("StopTask", func(t *testing.T) {
		op := &fakeOperator{}
		d := NewDispatcher(op, nil, nil)
		out := d.Dispatch(ctx, command(t, CommandStopTask, TaskRef{Name: "a", TaskID: models.Ptr[int64](9)}))

		if got := strings.Join(events(out), ","); got != "notify,updateTask" {
			t.Errorf("unexpected events %s", got)
		}
		if len(op.stopped) != 1 || *op.stopped[0].TaskID != 9 {
			t.Errorf("unexpected stops %+v", op.stopped)
		}
	})

	t.Run("RemoveTask", func(t *testing.T) {
		op := &fakeOperator{}
		d := NewDispatcher(op, nil, nil)

		out := d.Dispatch(ctx, command(t, CommandRemoveTask, "a"))
		if got := strings.Join(events(out), ","); got != "notify,removeTask" {
			t.Errorf("unexpected events %s", got)
		}

		out = d.Dispatch(ctx, command(t, CommandRemoveTask, TaskRef{Name: "missing"}))
		if got := strings.Join(events(out), ","); got != "notify" {
			t.Errorf("unexpected events for missing task %s", got)
		}

		out = d.Dispatch(ctx, command(t, CommandRemoveTask, ""))
		if got := strings.Join(events(out), ","); got != "notify" {
			t.Errorf("empty name should be rejected, got %s", got)
		}
	})

	t.Run("SyncTasks", func(t *testing.T) {
		op := &fakeOperator{tasks: []*models.Task{{Name: "a"}, {Name: "b"}}}
		d := NewDispatcher(op, nil, nil)
		out := d.Dispatch(ctx, command(t, CommandSyncTasks, nil))

		ts, err := TasksPayload(out[0])
		if err != nil || len(ts) != 2 {
			t.Errorf("expected two tasks, got %v, %v", ts, err)
		}
	})

	t.Run("SyncSettings", func(t *testing.T) {
		var applied models.Settings
		d := NewDispatcher(&fakeOperator{}, SettingsFunc(func(s models.Settings) error {
			if s.Port == 1 {
				return errors.New("port in use")
			}
			applied = s
			return nil
		}), nil)

		out := d.Dispatch(ctx, command(t, CommandSyncSettings, models.Settings{IP: "192.168.1.5", Port: 9000}))
		var n tasks.Notice
		out[0].Decode(&n)
		if n.Type != tasks.NoticeSuccess || applied.IP != "192.168.1.5" || applied.Port != 9000 {
			t.Errorf("settings not applied: %+v %+v", n, applied)
		}

		out = d.Dispatch(ctx, command(t, CommandSyncSettings, models.Settings{IP: "x", Port: 1}))
		out[0].Decode(&n)
		if n.Type != tasks.NoticeError || n.Description != "port in use" {
			t.Errorf("expected error notice, got %+v", n)
		}

		readOnly := NewDispatcher(&fakeOperator{}, nil, nil)
		out = readOnly.Dispatch(ctx, command(t, CommandSyncSettings, models.Settings{IP: "x", Port: 2}))
		out[0].Decode(&n)
		if n.Type != tasks.NoticeError {
			t.Errorf("expected read-only settings to fail, got %+v", n)
		}
	})

	t.Run("Unknown Command", func(t *testing.T) {
		d := NewDispatcher(&fakeOperator{}, nil, nil)
		out := d.Dispatch(ctx, command(t, "reboot", nil))
		if len(out) != 1 || out[0].Type != TypeError {
			t.Errorf("expected an error frame, got %+v", out)
		}
	})
}

type inspector struct{}

func (inspector) Inspect(path string) (*pkgfile.Metadata, error) {
	return &pkgfile.Metadata{Path: path, ContentID: "UP0000-CUSA00001_00-A", TitleID: "CUSA00001"}, nil
}

func startHub(t *testing.T, op Operator) (*Hub, string) {
	t.Helper()
	hub := NewHub(NewDispatcher(op, nil, nil), nil)
	srv := httptest.NewServer(hub)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestHub(t *testing.T) {
	t.Run("Commands Round Trip", func(t *testing.T) {
		orch := tasks.NewOrchestrator(tasks.Options{Inspector: inspector{}})
		_, url := startHub(t, orch)
		c := dial(t, url)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		reply, err := c.AddPackages(ctx, []models.PackageItem{{Name: "game", Path: "/games/game.pkg"}})
		if err != nil {
			t.Fatalf("AddPackages failed: %v", err)
		}
		if len(reply.Tasks) != 1 || reply.Tasks[0].TitleID != "CUSA00001" {
			t.Fatalf("unexpected added tasks %+v", reply.Tasks)
		}
		if len(reply.Notices) != 1 || reply.Notices[0].Type != tasks.NoticeSuccess {
			t.Errorf("unexpected notices %+v", reply.Notices)
		}

		reply, err = c.AddPackages(ctx, []models.PackageItem{{Name: "game", Path: "/games/game.pkg"}})
		if err != nil {
			t.Fatalf("AddPackages failed: %v", err)
		}
		if len(reply.Tasks) != 0 || reply.Notices[0].Message != "Task exists" {
			t.Errorf("duplicate should only notify, got %+v", reply)
		}

		all, err := c.SyncTasks(ctx)
		if err != nil || len(all) != 1 || all[0].Name != "game" {
			t.Fatalf("unexpected sync %+v, %v", all, err)
		}

		reply, err = c.Install(ctx, models.PackageItem{Name: "game", Path: "/games/game.pkg"})
		if err != nil {
			t.Fatalf("Install failed: %v", err)
		}
		if reply.Notices[0].Message != "Api fail" {
			t.Errorf("expected api fail without a device, got %+v", reply.Notices)
		}

		reply, err = c.Remove(ctx, "game")
		if err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		if len(reply.Removed) != 1 || reply.Removed[0] != "game" {
			t.Errorf("expected removal of game, got %+v", reply)
		}

		reply, err = c.Do(ctx, "reboot", nil)
		if err != nil || len(reply.Errors) != 1 {
			t.Errorf("expected unknown command error, got %+v, %v", reply, err)
		}
	})

	t.Run("Broadcasts Updates", func(t *testing.T) {
		hub, url := startHub(t, &fakeOperator{})
		c := dial(t, url)

		deadline := time.Now().Add(5 * time.Second)
		for hub.ClientCount() == 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}

		hub.Handle(tasks.Update{Kind: tasks.TaskChanged, Task: &models.Task{Name: "a", Status: models.StatusLoading}})
		hub.Handle(tasks.Update{Kind: tasks.TaskPurged, Task: &models.Task{Name: "a"}})

		want := []string{EventUpdateTask, EventRemoveTask}
		for _, w := range want {
			select {
			case m := <-c.Events():
				if m.Event != w || m.ID != "" {
					t.Errorf("expected broadcast %s, got %+v", w, m)
				}
			case <-time.After(5 * time.Second):
				t.Fatalf("timed out waiting for %s", w)
			}
		}
	})

	t.Run("Shutdown Disconnects Clients", func(t *testing.T) {
		hub := NewHub(NewDispatcher(&fakeOperator{}, nil, nil), nil)
		srv := httptest.NewServer(hub)
		defer srv.Close()

		c := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws")

		ctx, cancel := context.WithCancel(context.Background())
		go hub.Run(ctx)

		deadline := time.Now().Add(5 * time.Second)
		for hub.ClientCount() == 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		cancel()

		select {
		case <-c.Done():
			if !errors.Is(c.Err(), shared.ErrBridgeClosed) {
				t.Errorf("expected ErrBridgeClosed, got %v", c.Err())
			}
		case <-time.After(5 * time.Second):
			t.Fatal("client was not disconnected")
		}

		if _, err := c.Call(context.Background(), CommandSyncTasks, nil); err == nil {
			t.Error("expected call on closed bridge to fail")
		}
	})

	t.Run("Behind Router Middleware", func(t *testing.T) {
		logger := shared.DiscardLogger()
		hub := NewHub(NewDispatcher(&fakeOperator{tasks: []*models.Task{{Name: "a"}}}, nil, nil), nil)

		router := server.NewBasicRouter()
		router.Use(server.Recovery(logger), server.Logging(logger), server.CORS())
		router.Handler(hub)
		srv := httptest.NewServer(router)
		defer srv.Close()

		ctx, cancel := context.WithCancel(context.Background())
		stopped := make(chan struct{})
		go func() {
			hub.Run(ctx)
			close(stopped)
		}()
		defer func() {
			cancel()
			<-stopped
		}()

		c := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws")

		callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer callCancel()
		all, err := c.SyncTasks(callCtx)
		if err != nil || len(all) != 1 || all[0].Name != "a" {
			t.Errorf("unexpected sync through middleware %+v, %v", all, err)
		}
	})

	t.Run("Reply Racing Disconnect", func(t *testing.T) {
		hub := NewHub(NewDispatcher(&fakeOperator{}, nil, nil), nil)
		c := &WSClient{hub: hub, send: make(chan []byte, 1)}
		hub.register(c)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					c.reply(Message{Type: TypeDone, ID: "1"})
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.unregister(c)
		}()
		wg.Wait()

		if hub.ClientCount() != 0 {
			t.Errorf("expected no clients, got %d", hub.ClientCount())
		}
		if c.trySend([]byte("late")) {
			t.Error("send after disconnect should be dropped")
		}
		hub.unregister(c)
	})
}
