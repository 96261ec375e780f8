package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/pkgsend/internal/bridge"
	"github.com/desertthunder/pkgsend/internal/models"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgTasksSynced MsgKind = iota
	MsgBroadcast
	MsgReply
	MsgDisconnected
)

type syncResult struct {
	tasks []*models.Task
	err   error
}

type replyResult struct {
	reply *bridge.Reply
	err   error
}

// tasksSyncedMsg is the constructor for [MsgTasksSynced]
func tasksSyncedMsg(tasks []*models.Task, err error) Msg {
	return Msg{kind: MsgTasksSynced, data: syncResult{tasks, err}}
}

// broadcastMsg is the constructor for [MsgBroadcast]
func broadcastMsg(m bridge.Message) Msg {
	return Msg{kind: MsgBroadcast, data: m}
}

// replyMsg is the constructor for [MsgReply]
func replyMsg(reply *bridge.Reply, err error) Msg {
	return Msg{kind: MsgReply, data: replyResult{reply, err}}
}

// disconnectedMsg is the constructor for [MsgDisconnected]
func disconnectedMsg() Msg {
	return Msg{kind: MsgDisconnected}
}
