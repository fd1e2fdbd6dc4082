package tasks

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/darkroom/internal/metrics"
	"github.com/desertthunder/darkroom/internal/models"
)

// Runner executes the pipelines behind a job. [Executor] is the production implementation.
type Runner interface {
	RunImport(ctx context.Context, sessionID int64) error
	RunExport(ctx context.Context, sessionID int64) error
}

// Notifier records user-facing notifications about job progress.
type Notifier interface {
	Notify(ctx context.Context, message string, kind models.NotificationKind) error
}

type jobKey struct {
	kind      JobKind
	sessionID int64
}

type activeJob struct {
	job       *Job
	cancel    context.CancelFunc
	cancelled bool
}

// Manager runs at most one job per (kind, session) and remembers the last outcome of each.
//
// Job state lives in memory only. A restart forgets running and finished jobs.
type Manager struct {
	base     context.Context
	runner   Runner
	notifier Notifier
	logger   *log.Logger

	mu     sync.Mutex
	active map[jobKey]*activeJob
	last   map[jobKey]JobState
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewManager creates a manager whose jobs derive their context from ctx.
// Cancelling ctx cancels every running job.
func NewManager(ctx context.Context, runner Runner, notifier Notifier, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		base:     ctx,
		runner:   runner,
		notifier: notifier,
		logger:   logger.WithPrefix("jobs"),
		active:   make(map[jobKey]*activeJob),
		last:     make(map[jobKey]JobState),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Submit starts a job unless one of the same kind is already running for the session.
// It returns nil on that conflict.
func (m *Manager) Submit(kind JobKind, payload JobPayload) *Job {
	key := jobKey{kind: kind, sessionID: payload.SessionID}

	m.mu.Lock()
	if _, ok := m.active[key]; ok {
		m.mu.Unlock()
		m.logger.Warn("job already running", "kind", kind, "session", payload.SessionID)
		return nil
	}

	ctx, cancel := context.WithCancel(m.base)
	job := &Job{
		ID:        jobID(kind, payload.SessionID),
		Kind:      kind,
		SessionID: payload.SessionID,
		StartedAt: m.now(),
		done:      make(chan struct{}),
	}
	m.active[key] = &activeJob{job: job, cancel: cancel}
	m.wg.Add(1)
	m.mu.Unlock()

	metrics.JobsActive.WithLabelValues(string(kind)).Inc()
	m.logger.Info("job started", "kind", kind, "session", payload.SessionID)
	m.notify(fmt.Sprintf("%s started for session %d", kind.label(), payload.SessionID), models.NotificationInfo)

	go m.run(ctx, key, job)
	return job
}

func (m *Manager) run(ctx context.Context, key jobKey, job *Job) {
	defer m.wg.Done()
	defer close(job.done)

	err := m.execute(ctx, job)
	fired := ctx.Err() != nil

	m.mu.Lock()
	entry := m.active[key]
	delete(m.active, key)
	entry.cancel()

	state := JobState{
		ID:        job.ID,
		Kind:      job.Kind,
		SessionID: job.SessionID,
		Status:    StatusSuccess,
		UpdatedAt: m.now(),
	}
	switch {
	case entry.cancelled || fired || errors.Is(err, ErrCancelled):
		state.Status = StatusCancelled
		state.Message = "cancelled"
	case err != nil:
		state.Status = StatusError
		state.Message = err.Error()
	}
	m.last[key] = state
	m.mu.Unlock()

	metrics.JobsActive.WithLabelValues(string(job.Kind)).Dec()
	metrics.JobsTotal.WithLabelValues(string(job.Kind), string(state.Status)).Inc()

	label := job.Kind.label()
	switch state.Status {
	case StatusSuccess:
		m.logger.Info("job finished", "kind", job.Kind, "session", job.SessionID, "took", state.UpdatedAt.Sub(job.StartedAt))
		m.notify(fmt.Sprintf("%s completed for session %d", label, job.SessionID), models.NotificationSuccess)
	case StatusCancelled:
		m.logger.Info("job cancelled", "kind", job.Kind, "session", job.SessionID)
		m.notify(fmt.Sprintf("%s cancelled for session %d", label, job.SessionID), models.NotificationInfo)
	default:
		m.logger.Error("job failed", "kind", job.Kind, "session", job.SessionID, "error", err)
		m.notify(fmt.Sprintf("%s failed for session %d: %s", label, job.SessionID, state.Message), models.NotificationError)
	}
}

// execute runs the pipeline and turns a panic into an error so the job still reaches a terminal state.
func (m *Manager) execute(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	switch job.Kind {
	case KindImport:
		return m.runner.RunImport(ctx, job.SessionID)
	case KindExport:
		return m.runner.RunExport(ctx, job.SessionID)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

func (m *Manager) notify(message string, kind models.NotificationKind) {
	if m.notifier == nil {
		return
	}
	// Notifications outlive the job, so they are not tied to its context.
	if err := m.notifier.Notify(context.WithoutCancel(m.base), message, kind); err != nil {
		m.logger.Warn("failed to record notification", "error", err)
	}
}

// Cancel requests cancellation of every running job for the session.
// Unknown sessions and repeated calls are no-ops.
func (m *Manager) Cancel(sessionID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, entry := range m.active {
		if key.sessionID != sessionID || entry.cancelled {
			continue
		}
		entry.cancelled = true
		entry.cancel()
		m.logger.Info("cancelling job", "kind", key.kind, "session", sessionID)
	}
}

// State reports running if a job is active, else the last terminal state, else idle.
func (m *Manager) State(sessionID int64, kind JobKind) JobState {
	key := jobKey{kind: kind, sessionID: sessionID}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.active[key]; ok {
		return JobState{
			ID:        entry.job.ID,
			Kind:      kind,
			SessionID: sessionID,
			Status:    StatusRunning,
			UpdatedAt: entry.job.StartedAt,
		}
	}
	if state, ok := m.last[key]; ok {
		return state
	}
	return JobState{ID: jobID(kind, sessionID), Kind: kind, SessionID: sessionID, Status: StatusIdle, UpdatedAt: m.now()}
}

// ActiveJobs returns the distinct sessions with a running job, ascending.
func (m *Manager) ActiveJobs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int64, 0, len(m.active))
	for key := range m.active {
		if !slices.Contains(ids, key.sessionID) {
			ids = append(ids, key.sessionID)
		}
	}
	slices.Sort(ids)
	return ids
}

// Summary reports the running job count and the sessions they belong to.
func (m *Manager) Summary() Summary {
	m.mu.Lock()
	running := len(m.active)
	m.mu.Unlock()

	sessions := m.ActiveJobs()
	return Summary{Running: running, Active: running > 0, Sessions: sessions}
}

// Wait blocks until every submitted job has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (k JobKind) label() string {
	switch k {
	case KindImport:
		return "Import"
	case KindExport:
		return "Export"
	}
	return string(k)
}
