package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/desertthunder/pkgsend/internal/models"
	"github.com/desertthunder/pkgsend/internal/shared"
	"github.com/desertthunder/pkgsend/internal/tasks"
)

const eventBufferSize = 64

// Client is the operator side of the bridge, used by the CLI and the terminal monitor.
type Client struct {
	conn   *websocket.Conn
	logger *log.Logger

	writeMu sync.Mutex
	mu      sync.Mutex
	pending map[string]chan Message

	events chan Message
	nextID atomic.Uint64
	done   chan struct{}
	err    error
}

// Reply collects the frames sent in answer to one command.
type Reply struct {
	Notices []tasks.Notice
	Tasks   []*models.Task // from addTasks, updateTask or syncTasks
	Removed []string
	Errors  []string // error frames, such as an unknown command
}

// Dial connects to a bridge at url, e.g. ws://127.0.0.1:8732/ws.
func Dial(ctx context.Context, url string, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", shared.ErrServiceUnavailable, url, err)
	}

	c := &Client{
		conn:    conn,
		logger:  logger.With("component", "bridge-client"),
		pending: make(map[string]chan Message),
		events:  make(chan Message, eventBufferSize),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events delivers broadcast frames. Frames are dropped while the channel is full; it is closed
// when the connection ends.
func (c *Client) Events() <-chan Message {
	return c.events
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, once [Client.Done] is closed.
func (c *Client) Err() error {
	<-c.done
	return c.err
}

// Close sends a close frame and tears down the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// Call sends a command and waits for every reply frame up to its done marker.
func (c *Client) Call(ctx context.Context, command string, payload any) ([]Message, error) {
	id := strconv.FormatUint(c.nextID.Add(1), 10)
	msg, err := newCommand(id, command, payload)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	ch := make(chan Message, 16)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err = c.conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrBridgeClosed, err)
	}

	var replies []Message
	for {
		select {
		case m := <-ch:
			if m.Type == TypeDone {
				return replies, nil
			}
			replies = append(replies, m)
		case <-c.done:
			return replies, fmt.Errorf("%w: %s", shared.ErrBridgeClosed, command)
		case <-ctx.Done():
			return replies, ctx.Err()
		}
	}
}

// Do runs a command and folds its replies into a [Reply].
func (c *Client) Do(ctx context.Context, command string, payload any) (*Reply, error) {
	msgs, err := c.Call(ctx, command, payload)
	if err != nil {
		return nil, err
	}
	return ParseReply(msgs)
}

func (c *Client) AddPackages(ctx context.Context, items []models.PackageItem) (*Reply, error) {
	return c.Do(ctx, CommandAddPackages, items)
}

func (c *Client) Install(ctx context.Context, item models.PackageItem) (*Reply, error) {
	return c.Do(ctx, CommandInstallPackage, item)
}

func (c *Client) TaskInfo(ctx context.Context, name string, taskID *int64) (*Reply, error) {
	return c.Do(ctx, CommandGetTaskInfo, TaskRef{Name: name, TaskID: taskID})
}

func (c *Client) Stop(ctx context.Context, name string, taskID *int64) (*Reply, error) {
	return c.Do(ctx, CommandStopTask, TaskRef{Name: name, TaskID: taskID})
}

func (c *Client) Remove(ctx context.Context, name string) (*Reply, error) {
	return c.Do(ctx, CommandRemoveTask, name)
}

func (c *Client) SyncSettings(ctx context.Context, s models.Settings) (*Reply, error) {
	return c.Do(ctx, CommandSyncSettings, s)
}

// SyncTasks returns the full task table.
func (c *Client) SyncTasks(ctx context.Context) ([]*models.Task, error) {
	reply, err := c.Do(ctx, CommandSyncTasks, nil)
	if err != nil {
		return nil, err
	}
	return reply.Tasks, nil
}

// ParseReply folds reply frames into a [Reply].
func ParseReply(msgs []Message) (*Reply, error) {
	r := &Reply{}
	for _, m := range msgs {
		if m.Type == TypeError {
			var body struct {
				Message string `json:"message"`
			}
			json.Unmarshal(m.Payload, &body)
			r.Errors = append(r.Errors, body.Message)
			continue
		}

		switch m.Event {
		case EventNotify:
			var n tasks.Notice
			if err := m.Decode(&n); err != nil {
				return r, err
			}
			r.Notices = append(r.Notices, n)
		case EventAddTasks, EventSyncTasks:
			ts, err := TasksPayload(m)
			if err != nil {
				return r, err
			}
			r.Tasks = append(r.Tasks, ts...)
		case EventUpdateTask:
			t, err := TaskPayload(m)
			if err != nil {
				return r, err
			}
			r.Tasks = append(r.Tasks, t)
		case EventRemoveTask:
			var name string
			if err := m.Decode(&name); err != nil {
				return r, err
			}
			r.Removed = append(r.Removed, name)
		}
	}
	return r, nil
}

func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		close(c.done)
		close(c.events)
		c.mu.Unlock()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Debug("bridge connection ended", "error", err)
			}
			c.err = fmt.Errorf("%w: %w", shared.ErrBridgeClosed, err)
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}

		if msg.ID == "" {
			select {
			case c.events <- msg:
			default:
				c.logger.Debug("event buffer full, dropping", "event", msg.Event)
			}
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		c.mu.Unlock()
		if !ok {
			continue
		}
		select {
		case ch <- msg:
		case <-time.After(time.Second):
			c.logger.Warn("caller not reading replies, dropping", "id", msg.ID)
		}
	}
}
