package ui

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/pkgsend/internal/bridge"
	"github.com/desertthunder/pkgsend/internal/models"
	"github.com/desertthunder/pkgsend/internal/tasks"
)

type fakeSource struct {
	tasks   []*models.Task
	syncErr error
	calls   []string
	events  chan bridge.Message
}

func newFakeSource(ts ...*models.Task) *fakeSource {
	return &fakeSource{tasks: ts, events: make(chan bridge.Message, 8)}
}

func (f *fakeSource) SyncTasks(context.Context) ([]*models.Task, error) {
	return f.tasks, f.syncErr
}

func (f *fakeSource) Install(_ context.Context, item models.PackageItem) (*bridge.Reply, error) {
	f.calls = append(f.calls, "install:"+item.Name)
	return &bridge.Reply{
		Notices: []tasks.Notice{{Type: tasks.NoticeSuccess, Message: "Success", Description: "Started loading " + item.Name}},
		Tasks:   []*models.Task{{Name: item.Name, Status: models.StatusLoading}},
	}, nil
}

func (f *fakeSource) TaskInfo(_ context.Context, name string, _ *int64) (*bridge.Reply, error) {
	f.calls = append(f.calls, "info:"+name)
	return &bridge.Reply{}, nil
}

func (f *fakeSource) Stop(_ context.Context, name string, _ *int64) (*bridge.Reply, error) {
	f.calls = append(f.calls, "stop:"+name)
	return nil, errors.New("bridge down")
}

func (f *fakeSource) Remove(_ context.Context, name string) (*bridge.Reply, error) {
	f.calls = append(f.calls, "remove:"+name)
	return &bridge.Reply{Removed: []string{name}}, nil
}

func (f *fakeSource) Events() <-chan bridge.Message { return f.events }

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// exec runs cmd and feeds its message back into the model.
func exec(t *testing.T, m *Model, cmd tea.Cmd) {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected a command")
	}
	m.Update(cmd())
}

func synced(t *testing.T, src *fakeSource) *Model {
	t.Helper()
	m := NewModel(context.Background(), src)
	exec(t, m, m.syncTasks())
	return m
}

func TestModel(t *testing.T) {
	t.Run("Sync", func(t *testing.T) {
		src := newFakeSource(
			&models.Task{Name: "alpha", Status: models.StatusPause},
			&models.Task{Name: "beta", Status: models.StatusLoading, LengthTotal: models.Ptr[int64](2048), TransferredTotal: models.Ptr[int64](1024)},
		)
		m := synced(t, src)

		if len(m.tasks) != 2 {
			t.Fatalf("expected 2 tasks, got %d", len(m.tasks))
		}
		view := m.View()
		for _, want := range []string{"alpha", "beta", "50.0%", "2 tasks"} {
			if !strings.Contains(view, want) {
				t.Errorf("view missing %q", want)
			}
		}
	})

	t.Run("Sync Error", func(t *testing.T) {
		src := newFakeSource()
		src.syncErr = errors.New("no bridge")
		m := synced(t, src)

		if !strings.Contains(m.View(), "no bridge") {
			t.Error("expected error in view")
		}
	})

	t.Run("Broadcasts", func(t *testing.T) {
		src := newFakeSource(&models.Task{Name: "alpha"}, &models.Task{Name: "beta"})
		m := synced(t, src)

		data, _ := json.Marshal(&models.Task{Name: "alpha", Status: models.StatusSuccess})
		src.events <- bridge.Message{Type: bridge.TypeEvent, Event: bridge.EventUpdateTask, Payload: data}
		exec(t, m, m.waitForEvent())
		if m.tasks[0].Status != models.StatusSuccess {
			t.Errorf("expected alpha success, got %s", m.tasks[0].Status)
		}

		src.events <- bridge.Message{Type: bridge.TypeEvent, Event: bridge.EventRemoveTask, Payload: json.RawMessage(`"alpha"`)}
		exec(t, m, m.waitForEvent())
		if len(m.tasks) != 1 || m.tasks[0].Name != "beta" {
			t.Errorf("expected only beta, got %d tasks", len(m.tasks))
		}

		data, _ = json.Marshal(&models.Task{Name: "gamma"})
		src.events <- bridge.Message{Type: bridge.TypeEvent, Event: bridge.EventUpdateTask, Payload: data}
		exec(t, m, m.waitForEvent())
		if len(m.tasks) != 2 || m.tasks[1].Name != "gamma" {
			t.Errorf("expected gamma appended")
		}
	})

	t.Run("Disconnect", func(t *testing.T) {
		src := newFakeSource()
		m := synced(t, src)
		close(src.events)

		exec(t, m, m.waitForEvent())
		if m.view != DisconnectedView {
			t.Fatalf("expected disconnected view, got %d", m.view)
		}
		if !strings.Contains(m.View(), "Bridge connection closed.") {
			t.Error("expected disconnect message")
		}

		_, cmd := m.Update(runes("q"))
		if cmd == nil {
			t.Error("expected quit command")
		}
	})

	t.Run("Install Key", func(t *testing.T) {
		src := newFakeSource(&models.Task{Name: "alpha", Path: "/a.pkg"})
		m := synced(t, src)

		_, cmd := m.Update(runes("i"))
		exec(t, m, cmd)

		if len(src.calls) != 1 || src.calls[0] != "install:alpha" {
			t.Fatalf("unexpected calls %v", src.calls)
		}
		if m.tasks[0].Status != models.StatusLoading {
			t.Errorf("expected reply to update the row, got %s", m.tasks[0].Status)
		}
		if !strings.Contains(m.View(), "Started loading alpha") {
			t.Error("expected notice in view")
		}
	})

	t.Run("Stop Error", func(t *testing.T) {
		src := newFakeSource(&models.Task{Name: "alpha"})
		m := synced(t, src)

		_, cmd := m.Update(runes("s"))
		exec(t, m, cmd)

		if src.calls[0] != "stop:alpha" {
			t.Errorf("unexpected calls %v", src.calls)
		}
		if !strings.Contains(m.View(), "bridge down") {
			t.Error("expected error in view")
		}
	})

	t.Run("Remove Confirm", func(t *testing.T) {
		src := newFakeSource(&models.Task{Name: "alpha"})
		m := synced(t, src)

		m.Update(runes("d"))
		if m.view != ConfirmRemoveView {
			t.Fatal("expected confirm view")
		}
		if !strings.Contains(m.View(), "Remove alpha") {
			t.Error("expected confirmation prompt")
		}

		m.Update(runes("n"))
		if m.view != TableView || len(src.calls) != 0 {
			t.Fatal("declining should return to the table without a call")
		}

		m.Update(runes("d"))
		_, cmd := m.Update(runes("y"))
		exec(t, m, cmd)

		if len(src.calls) != 1 || src.calls[0] != "remove:alpha" {
			t.Errorf("unexpected calls %v", src.calls)
		}
		if len(m.tasks) != 0 {
			t.Errorf("expected task list to be empty, got %d", len(m.tasks))
		}
	})

	t.Run("Keys Without Selection", func(t *testing.T) {
		src := newFakeSource()
		m := synced(t, src)

		m.Update(runes("s"))
		m.Update(runes("d"))
		if len(src.calls) != 0 || m.view != TableView {
			t.Error("keys on an empty table should do nothing")
		}
	})
}

func TestFormatting(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KiB"},
		{5 * 1024 * 1024 * 1024, "5.0 GiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %s, want %s", tt.in, got, tt.want)
		}
	}

	if got := formatSeconds(3725, 10); got != "1h02m" {
		t.Errorf("formatSeconds(3725) = %s", got)
	}
	if got := formatSeconds(75, 10); got != "1m15s" {
		t.Errorf("formatSeconds(75) = %s", got)
	}

	row := taskRow(&models.Task{Name: "x", Status: models.StatusPause})
	if row[2] != "-" || row[3] != "-" || row[4] != "-" {
		t.Errorf("expected placeholders for unknown values, got %v", row)
	}
}
