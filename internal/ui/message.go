package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/darkroom/internal/models"
	"github.com/desertthunder/darkroom/internal/tasks"
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
	MsgSessionsFetched MsgKind = iota
	MsgNotificationsFetched
	MsgProgressUpdate
	MsgTick
)

type sessionsFetched struct {
	sessions []*models.Session
	err      error
}

type notificationsFetched struct {
	notifications []models.Notification
	err           error
}

// sessionsFetchedMsg is the constructor for [MsgSessionsFetched]
func sessionsFetchedMsg(sessions []*models.Session, err error) Msg {
	return Msg{kind: MsgSessionsFetched, data: sessionsFetched{sessions, err}}
}

// notificationsFetchedMsg is the constructor for [MsgNotificationsFetched]
func notificationsFetchedMsg(notifications []models.Notification, err error) Msg {
	return Msg{kind: MsgNotificationsFetched, data: notificationsFetched{notifications, err}}
}

// progressUpdateMsg is the constructor for [MsgProgressUpdate]
func progressUpdateMsg(update tasks.ProgressUpdate) Msg {
	return Msg{kind: MsgProgressUpdate, data: update}
}

func tickMsg() Msg {
	return Msg{kind: MsgTick}
}
