package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"

	"github.com/desertthunder/darkroom/internal/models"
	"github.com/desertthunder/darkroom/internal/tasks"
)

var _ list.Item = sessionItem{}

// sessionItem wraps [models.Session] with the latest state of both job kinds.
type sessionItem struct {
	session *models.Session
	imp     tasks.JobState
	exp     tasks.JobState
}

func (i sessionItem) FilterValue() string { return i.session.Name }
func (i sessionItem) Title() string {
	title := fmt.Sprintf("#%d %s", i.session.ID, i.session.Name)
	if i.session.Archived {
		title += " (archived)"
	}
	return title
}

func (i sessionItem) Description() string {
	desc := fmt.Sprintf("%s • import %s • export %s",
		i.session.StartedAt.Local().Format("2006-01-02"),
		styles.status(i.imp.Status),
		styles.status(i.exp.Status),
	)
	for _, s := range []tasks.JobState{i.imp, i.exp} {
		if s.Status == tasks.StatusError && s.Message != "" {
			desc = fmt.Sprintf("%s • %s", desc, s.Message)
		}
	}
	return desc
}
