package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"

	"github.com/desertthunder/darkroom/internal/models"
	"github.com/desertthunder/darkroom/internal/repositories"
	"github.com/desertthunder/darkroom/internal/shared"
	"github.com/desertthunder/darkroom/internal/tasks"
	th "github.com/desertthunder/darkroom/internal/testing"
)

// gateRunner holds jobs until release is closed or the job is cancelled.
type gateRunner struct {
	release chan struct{}
}

func (g *gateRunner) wait(ctx context.Context) error {
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return tasks.ErrCancelled
	}
}

func (g *gateRunner) RunImport(ctx context.Context, sessionID int64) error { return g.wait(ctx) }
func (g *gateRunner) RunExport(ctx context.Context, sessionID int64) error { return g.wait(ctx) }

type fakeAuthorizer struct {
	url         string
	configErr   error
	exchangeErr error
	exchanged   []string
}

func (f *fakeAuthorizer) Configure(ctx context.Context) (string, error) {
	return f.url, f.configErr
}

func (f *fakeAuthorizer) Exchange(ctx context.Context, state, code string) error {
	f.exchanged = append(f.exchanged, state+":"+code)
	return f.exchangeErr
}

type testServer struct {
	router  *BasicRouter
	manager *tasks.Manager
	notes   *repositories.NotificationRepository
}

func newTestServer(t *testing.T, google Authorizer) *testServer {
	t.Helper()
	logger := log.New(io.Discard)
	notes := repositories.NewNotificationRepository(th.NewTestDB(t))

	runner := &gateRunner{release: make(chan struct{})}
	manager := tasks.NewManager(context.Background(), runner, notes, logger)
	t.Cleanup(func() {
		close(runner.release)
		manager.Wait()
	})

	api := NewAPI(APIOpts{Jobs: manager, Notifications: notes, Google: google, Logger: logger})
	return &testServer{router: NewRouter(api), manager: manager, notes: notes}
}

func (s *testServer) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

type stateBody struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestJobRoutes(t *testing.T) {
	t.Run("Submit Accepted", func(t *testing.T) {
		s := newTestServer(t, nil)

		rec := s.do(t, http.MethodPost, "/api/sessions/3/import")
		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected JSON content type, got %q", ct)
		}
		body := decode[stateBody](t, rec)
		if body.ID != "import-3" || body.Kind != "import" || body.Status != "running" {
			t.Errorf("unexpected state %+v", body)
		}
	})

	t.Run("Duplicate Is Conflict", func(t *testing.T) {
		s := newTestServer(t, nil)
		s.do(t, http.MethodPost, "/api/sessions/3/export")

		rec := s.do(t, http.MethodPost, "/api/sessions/3/export")
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
		body := decode[errorResponse](t, rec)
		if body.Error != "export already running for session 3" {
			t.Errorf("unexpected error body %q", body.Error)
		}
	})

	t.Run("State And Summary", func(t *testing.T) {
		s := newTestServer(t, nil)

		if got := decode[stateBody](t, s.do(t, http.MethodGet, "/api/sessions/8/export")); got.Status != "idle" {
			t.Errorf("expected idle before submit, got %+v", got)
		}

		s.do(t, http.MethodPost, "/api/sessions/8/import")
		s.do(t, http.MethodPost, "/api/sessions/8/export")

		rec := s.do(t, http.MethodGet, "/api/jobs")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		summary := decode[tasks.Summary](t, rec)
		if summary.Running != 2 || !summary.Active || !slices.Equal(summary.Sessions, []int64{8}) {
			t.Errorf("unexpected summary %+v", summary)
		}
	})

	t.Run("Cancel", func(t *testing.T) {
		s := newTestServer(t, nil)
		s.do(t, http.MethodPost, "/api/sessions/5/import")

		if rec := s.do(t, http.MethodDelete, "/api/sessions/5/import"); rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", rec.Code)
		}
		s.manager.Wait()

		body := decode[stateBody](t, s.do(t, http.MethodGet, "/api/sessions/5/import"))
		if body.Status != "cancelled" {
			t.Errorf("expected cancelled, got %+v", body)
		}
	})

	t.Run("Bad Requests", func(t *testing.T) {
		s := newTestServer(t, nil)

		tests := []struct {
			name   string
			method string
			path   string
			status int
		}{
			{"non numeric id", http.MethodPost, "/api/sessions/abc/import", http.StatusBadRequest},
			{"zero id", http.MethodGet, "/api/sessions/0/export", http.StatusBadRequest},
			{"unknown kind", http.MethodPost, "/api/sessions/1/render", http.StatusNotFound},
			{"wrong method", http.MethodPut, "/api/sessions/1/import", http.StatusMethodNotAllowed},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if rec := s.do(t, tt.method, tt.path); rec.Code != tt.status {
					t.Errorf("expected %d, got %d", tt.status, rec.Code)
				}
			})
		}
	})
}

func TestNotificationRoutes(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t, nil)

	for _, msg := range []string{"Import started for session 1", "Import completed for session 1"} {
		if err := s.notes.Notify(ctx, msg, models.NotificationInfo); err != nil {
			t.Fatalf("failed to notify: %v", err)
		}
	}

	t.Run("List", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/notifications")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if got := decode[[]models.Notification](t, rec); len(got) != 2 {
			t.Errorf("expected 2 notifications, got %d", len(got))
		}
	})

	t.Run("Mark Read", func(t *testing.T) {
		if rec := s.do(t, http.MethodPatch, "/api/notifications"); rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rec.Code)
		}
		for _, n := range decode[[]models.Notification](t, s.do(t, http.MethodGet, "/api/notifications")) {
			if !n.Read {
				t.Errorf("expected %q to be read", n.Message)
			}
		}
	})

	t.Run("Clear", func(t *testing.T) {
		if rec := s.do(t, http.MethodDelete, "/api/notifications"); rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rec.Code)
		}
		rec := s.do(t, http.MethodGet, "/api/notifications")
		if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
			t.Errorf("expected empty array, got %s", body)
		}
	})
}

func TestGoogleAuthRoutes(t *testing.T) {
	t.Run("Redirects To Consent", func(t *testing.T) {
		auth := &fakeAuthorizer{url: "https://accounts.google.com/o/oauth2/auth?state=abc"}
		s := newTestServer(t, auth)

		rec := s.do(t, http.MethodGet, "/auth/google")
		if rec.Code != http.StatusFound {
			t.Fatalf("expected 302, got %d", rec.Code)
		}
		if loc := rec.Header().Get("Location"); loc != auth.url {
			t.Errorf("expected redirect to %q, got %q", auth.url, loc)
		}
	})

	t.Run("Missing Credentials", func(t *testing.T) {
		s := newTestServer(t, &fakeAuthorizer{configErr: shared.ErrMissingCredentials})

		rec := s.do(t, http.MethodGet, "/auth/google")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		if body := decode[errorResponse](t, rec); body.Error != shared.ErrMissingCredentials.Error() {
			t.Errorf("unexpected error %q", body.Error)
		}
	})

	t.Run("Disabled Integration", func(t *testing.T) {
		s := newTestServer(t, nil)
		if rec := s.do(t, http.MethodGet, "/auth/google"); rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("Callback Exchanges Code", func(t *testing.T) {
		auth := &fakeAuthorizer{}
		handler := NewOAuthHandler(auth)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, CallbackPath+"?state=abc&code=xyz", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !slices.Equal(auth.exchanged, []string{"abc:xyz"}) {
			t.Errorf("unexpected exchanges %v", auth.exchanged)
		}
		if result := <-handler.Result(); result.Error() != nil {
			t.Errorf("expected no error, got %v", result.Error())
		}
	})

	t.Run("Callback Exchange Failure", func(t *testing.T) {
		auth := &fakeAuthorizer{exchangeErr: shared.ErrAuthFailed}
		handler := NewOAuthHandler(auth)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, CallbackPath+"?state=stale&code=xyz", nil))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
		if result := <-handler.Result(); !errors.Is(result.Error(), shared.ErrAuthFailed) {
			t.Errorf("expected ErrAuthFailed, got %v", result.Error())
		}
	})

	t.Run("Callback Without Code", func(t *testing.T) {
		auth := &fakeAuthorizer{}
		handler := NewOAuthHandler(auth)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, CallbackPath+"?state=abc&error=access_denied", nil))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
		if len(auth.exchanged) != 0 {
			t.Errorf("expected no exchange, got %v", auth.exchanged)
		}
		result := <-handler.Result()
		if result.Error() == nil || !strings.Contains(result.Error().Error(), "access_denied") {
			t.Errorf("expected access_denied error, got %v", result.Error())
		}
	})

	t.Run("Only First Result Published", func(t *testing.T) {
		handler := NewOAuthHandler(&fakeAuthorizer{})
		handler.Send(OAuthResult{})
		handler.Send(OAuthResult{err: shared.ErrAuthFailed})

		var results []OAuthResult
		for r := range handler.Result() {
			results = append(results, r)
		}
		if len(results) != 1 || results[0].Error() != nil {
			t.Errorf("expected one successful result, got %v", results)
		}
	})
}

func TestMetricsRoute(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("expected default Go collectors in exposition")
	}
}

func TestBasicRouter(t *testing.T) {
	t.Run("Middleware Order", func(t *testing.T) {
		var order []string
		tag := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}

		router := NewBasicRouter()
		router.Use(tag("first"), tag("second"))
		router.HandleFunc(http.MethodGet, "/ping", func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "handler")
		})

		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))
		if !slices.Equal(order, []string{"first", "second", "handler"}) {
			t.Errorf("unexpected order %v", order)
		}
	})

	t.Run("Recover", func(t *testing.T) {
		router := NewBasicRouter()
		router.Use(Recover(log.New(io.Discard)))
		router.HandleFunc(http.MethodGet, "/boom", func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
	})

	t.Run("Logging Keeps Status", func(t *testing.T) {
		var buf strings.Builder
		logger := log.New(&buf)
		logger.SetLevel(log.DebugLevel)

		router := NewBasicRouter()
		router.Use(Logging(logger))
		router.HandleFunc(http.MethodGet, "/teapot", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/teapot", nil))
		if rec.Code != http.StatusTeapot {
			t.Errorf("expected 418, got %d", rec.Code)
		}
		if !strings.Contains(buf.String(), "status=418") {
			t.Errorf("expected logged status, got %q", buf.String())
		}
	})
}

func TestServerRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := New("127.0.0.1:0", NewBasicRouter(), log.New(io.Discard))

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
