// package testing contains shared testing utilities
package testing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"testing"

	"github.com/desertthunder/darkroom/internal/models"
	"github.com/desertthunder/darkroom/internal/services"
	"github.com/desertthunder/darkroom/internal/shared"
)

// MockIntegration is an in-memory [services.Integration].
// Albums map an external album id to the asset ids it holds.
type MockIntegration struct {
	IntegrationName string
	Configured      bool

	UploadErr  error
	AddErr     error
	ReplaceErr error

	mu     sync.Mutex
	albums map[string][]string
	assets int
	calls  []string
}

// NewMockIntegration returns a configured mock with the given name.
func NewMockIntegration(name string) *MockIntegration {
	return &MockIntegration{IntegrationName: name, Configured: true, albums: make(map[string][]string)}
}

func (m *MockIntegration) record(call string) {
	m.calls = append(m.calls, call)
}

// Calls returns the method names invoked so far, in order.
func (m *MockIntegration) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// Album returns the asset ids held by an external album.
func (m *MockIntegration) Album(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.albums[id])
}

func (m *MockIntegration) Name() string          { return m.IntegrationName }
func (m *MockIntegration) IsConfigured() bool    { return m.Configured }
func (m *MockIntegration) CanBeConfigured() bool { return false }

func (m *MockIntegration) Configure(ctx context.Context) (string, error) {
	return "", shared.ErrMissingConfig
}

func (m *MockIntegration) CreateAlbum(ctx context.Context, title string) (*services.RemoteAlbum, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CreateAlbum")

	id := fmt.Sprintf("%s-album-%d", m.IntegrationName, len(m.albums)+1)
	m.albums[id] = nil
	return &services.RemoteAlbum{ID: id, URL: "mock://" + id}, nil
}

func (m *MockIntegration) UploadFile(ctx context.Context, data []byte, filename string, img *models.Image) (*services.RemoteAsset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("UploadFile")

	if m.UploadErr != nil {
		return nil, m.UploadErr
	}
	m.assets++
	return &services.RemoteAsset{ID: fmt.Sprintf("%s-asset-%d", m.IntegrationName, m.assets)}, nil
}

func (m *MockIntegration) AddToAlbum(ctx context.Context, album *models.Album, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("AddToAlbum")

	if m.AddErr != nil {
		return m.AddErr
	}
	m.albums[album.ExternalID] = append(m.albums[album.ExternalID], ids...)
	return nil
}

func (m *MockIntegration) RemoveFromAlbum(ctx context.Context, album *models.Album, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("RemoveFromAlbum")

	m.albums[album.ExternalID] = slices.DeleteFunc(m.albums[album.ExternalID], func(id string) bool {
		return slices.Contains(ids, id)
	})
	return nil
}

func (m *MockIntegration) ReplaceInAlbum(ctx context.Context, album *models.Album, oldID string, data []byte, filename string, img *models.Image) (*services.RemoteAsset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ReplaceInAlbum")

	if m.ReplaceErr != nil {
		return nil, m.ReplaceErr
	}
	m.assets++
	id := fmt.Sprintf("%s-asset-%d", m.IntegrationName, m.assets)
	held := slices.DeleteFunc(m.albums[album.ExternalID], func(a string) bool { return a == oldID })
	m.albums[album.ExternalID] = append(held, id)
	return &services.RemoteAsset{ID: id}, nil
}

func (m *MockIntegration) LinkToAlbum(album *models.Album) string {
	return "mock://" + album.ExternalID
}

var _ services.Integration = (*MockIntegration)(nil)

// Notice is one notification captured by [MockNotifier].
type Notice struct {
	Message string
	Kind    models.NotificationKind
}

// MockNotifier records notifications in memory. Err, when set, is returned from every call.
type MockNotifier struct {
	Err error

	mu      sync.Mutex
	notices []Notice
}

func (n *MockNotifier) Notify(ctx context.Context, message string, kind models.NotificationKind) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, Notice{Message: message, Kind: kind})
	return n.Err
}

// Notices returns the recorded notifications in order.
func (n *MockNotifier) Notices() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.notices)
}

// NewTestDB opens a migrated in-memory database that is closed when the test ends.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	// every pooled connection to :memory: would otherwise see its own empty database
	shared.ConfigureDatabase(db, 1, 1)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func AssertDirExists(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		t.Errorf("Directory does not exist: %s", path)
		return
	}
	if !info.IsDir() {
		t.Errorf("Path is not a directory: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}

func MustWriteFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("Failed to write file %s: %v", path, err)
	}
}
