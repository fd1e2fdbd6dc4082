// Package ui implements an interactive job monitor using bubbletea's Elm architecture.
//
// The monitor has three views:
//  1. [SessionListView] : Sessions with the state of their import and export jobs
//  2. [ConfirmView] : Confirm starting a job for the selected session
//  3. [NotificationView] : The notification log, newest first
//
// The [Model] implements the standard Init/Update/View pattern, receiving messages via the Msg union type.
// Job state is polled from the manager once a second, and pipeline progress arrives on the executor's
// channel and is kept as a short activity log under the list.
//
// Keyboard navigation uses vim-style bindings (j/k, i/e, c, n, esc, y/n, q) with help rendered by charmbracelet/bubbles/help.
package ui
