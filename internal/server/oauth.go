package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
)

// CallbackPath is where the OAuth provider redirects after consent.
const CallbackPath = "/auth/google/callback"

// Authorizer starts and completes an OAuth authorization code flow.
// [services.GooglePhotosService] is the production implementation.
type Authorizer interface {
	Configure(ctx context.Context) (string, error)
	Exchange(ctx context.Context, state, code string) error
}

// OAuthResult is the outcome of the first callback a handler sees.
type OAuthResult struct {
	err error
}

func (o OAuthResult) Error() error {
	return o.err
}

// OAuthHandler handles OAuth2 callback requests for the authorization code flow.
//
// State validation and the token exchange are delegated to the [Authorizer],
// which also rejects a state it has already seen.
type OAuthHandler struct {
	authorizer Authorizer
	resultChan chan OAuthResult
	once       sync.Once
}

// NewOAuthHandler creates a callback handler backed by authorizer.
func NewOAuthHandler(authorizer Authorizer) *OAuthHandler {
	return &OAuthHandler{
		authorizer: authorizer,
		resultChan: make(chan OAuthResult, 1),
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *OAuthHandler) Routes() []string {
	return []string{"GET " + CallbackPath}
}

// ServeHTTP completes the flow and publishes the result.
func (h *OAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	code := query.Get("code")
	if code == "" {
		err := fmt.Errorf("authorization failed: %s - %s", query.Get("error"), query.Get("error_description"))
		h.Send(OAuthResult{err: err})
		http.Error(w, "Authorization failed", http.StatusBadRequest)
		return
	}

	if err := h.authorizer.Exchange(r.Context(), query.Get("state"), code); err != nil {
		h.Send(OAuthResult{err: err})
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.Send(OAuthResult{})

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, successPage)
}

// Send publishes the result. Only the first call has any effect.
func (h *OAuthHandler) Send(result OAuthResult) {
	h.once.Do(func() {
		h.resultChan <- result
		close(h.resultChan)
	})
}

// Result receives exactly one result and is then closed.
func (h *OAuthHandler) Result() <-chan OAuthResult {
	return h.resultChan
}

// startAuth redirects the browser to the provider's consent page.
func startAuth(authorizer Authorizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		url, err := authorizer.Configure(r.Context())
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		http.Redirect(w, r, url, http.StatusFound)
	}
}

const successPage = `<!DOCTYPE html>
<html>
<head>
    <title>Google Photos Connected</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background: #f5f5f5; }
        .container { text-align: center; background: white; padding: 2rem;
                     border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        h1 { color: #1a73e8; margin: 0 0 1rem 0; }
        p { color: #666; margin: 0; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Google Photos connected</h1>
        <p>You can close this window and return to darkroom.</p>
    </div>
</body>
</html>
`
