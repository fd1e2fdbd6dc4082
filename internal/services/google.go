package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/darkroom/internal/models"
	"github.com/desertthunder/darkroom/internal/shared"
	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
)

const (
	GoogleName = "google"

	googleBaseURL  = "https://photoslibrary.googleapis.com/v1"
	googleAuthURL  = "https://accounts.google.com/o/oauth2/auth"
	googleTokenURL = "https://oauth2.googleapis.com/token"
	googleAlbumURL = "https://photos.google.com/album/"

	searchPageSize      = 100
	removeMaxAttempts   = 6
	removeRecheckDelay  = 250 * time.Millisecond
	removeBaseBackoff   = 200 * time.Millisecond
	removeMaxBackoff    = 5 * time.Second
	albumCheckAttempts  = 2
	searchMaxAttempts   = 3
	defaultRedirectPath = "http://127.0.0.1:3000/auth/google/callback"
)

var googleScopes = []string{
	"https://www.googleapis.com/auth/photoslibrary.appendonly",
	"https://www.googleapis.com/auth/photoslibrary.readonly.appcreateddata",
	"https://www.googleapis.com/auth/photoslibrary.edit.appcreateddata",
}

// GooglePhotosOpts configures a [GooglePhotosService].
type GooglePhotosOpts struct {
	Config     shared.GoogleConfig
	TokenStore TokenStore
	HTTPClient *http.Client
	Logger     *log.Logger

	// BaseURL overrides the Photos Library API root.
	BaseURL string
	// TokenSource bypasses the stored OAuth token when set.
	TokenSource oauth2.TokenSource
}

// GooglePhotosService implements [Integration] for Google Photos.
//
// Uploads go through a create batcher so several images share one mediaItems:batchCreate call,
// and album adds are merged per album by an add batcher. All writes share the client's write semaphore.
type GooglePhotosService struct {
	config     *oauth2.Config
	store      TokenStore
	client     *RetryClient
	httpClient *http.Client
	baseURL    string
	logger     *log.Logger

	mu      sync.RWMutex
	source  oauth2.TokenSource
	pending map[string]struct{}

	creates *CreateBatcher
	adds    *AddBatcher

	sleep func(ctx context.Context, d time.Duration) error
}

// NewGooglePhotosService creates a [GooglePhotosService], loading a stored token when one exists.
func NewGooglePhotosService(opts GooglePhotosOpts) (*GooglePhotosService, error) {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(io.Discard)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if opts.BaseURL == "" {
		opts.BaseURL = googleBaseURL
	}
	if opts.TokenStore == nil {
		opts.TokenStore = &MemoryTokenStore{}
	}

	redirect := opts.Config.RedirectURI
	if redirect == "" {
		redirect = defaultRedirectPath
	}

	s := &GooglePhotosService{
		config: &oauth2.Config{
			ClientID:     opts.Config.ClientID,
			ClientSecret: opts.Config.ClientSecret,
			RedirectURL:  redirect,
			Scopes:       googleScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  googleAuthURL,
				TokenURL: googleTokenURL,
			},
		},
		store: opts.TokenStore,
		client: NewRetryClient(RetryClientOpts{
			Provider:            GoogleName,
			HTTPClient:          opts.HTTPClient,
			MaxConcurrentWrites: opts.Config.MaxConcurrentWrites,
			RequestsPerSecond:   opts.Config.RequestsPerSecond,
			Logger:              opts.Logger,
		}),
		httpClient: opts.HTTPClient,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		logger:     opts.Logger,
		pending:    make(map[string]struct{}),
		sleep:      sleepContext,
	}

	s.creates = NewCreateBatcher(s.bulkCreate, opts.Config.CreateBatchSize, millis(opts.Config.CreateBatchWaitMS))
	s.adds = NewAddBatcher(s.bulkAdd, opts.Config.AddBatchSize, millis(opts.Config.AddBatchWaitMS))

	if opts.TokenSource != nil {
		s.source = opts.TokenSource
		return s, nil
	}

	token, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	if token != nil && token.RefreshToken != "" {
		s.source = s.persistingSource(token)
	}
	return s, nil
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func (s *GooglePhotosService) Name() string {
	return GoogleName
}

// IsConfigured reports whether a refreshable token is available.
func (s *GooglePhotosService) IsConfigured() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source != nil
}

// CanBeConfigured reports whether OAuth client credentials are present.
func (s *GooglePhotosService) CanBeConfigured() bool {
	return s.config.ClientID != "" && s.config.ClientSecret != ""
}

// Configure starts the OAuth flow and returns the consent URL.
func (s *GooglePhotosService) Configure(ctx context.Context) (string, error) {
	if !s.CanBeConfigured() {
		return "", fmt.Errorf("%w: google client id and secret", shared.ErrMissingCredentials)
	}

	state := shared.GenerateID()
	s.mu.Lock()
	s.pending[state] = struct{}{}
	s.mu.Unlock()

	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// Exchange completes the OAuth flow started by [GooglePhotosService.Configure] and persists the token.
func (s *GooglePhotosService) Exchange(ctx context.Context, state, code string) error {
	s.mu.Lock()
	_, ok := s.pending[state]
	delete(s.pending, state)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: invalid state parameter", shared.ErrAuthFailed)
	}
	if code == "" {
		return fmt.Errorf("%w: missing authorization code", shared.ErrAuthFailed)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	token, err := s.config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("%w: token exchange failed: %v", shared.ErrAuthFailed, err)
	}
	if token.RefreshToken == "" {
		return shared.ErrNoRefreshToken
	}
	if err := s.store.Save(token); err != nil {
		return err
	}

	s.mu.Lock()
	s.source = s.persistingSource(token)
	s.mu.Unlock()
	s.logger.Info("google photos authorized")
	return nil
}

func (s *GooglePhotosService) persistingSource(token *oauth2.Token) oauth2.TokenSource {
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, s.httpClient)
	return &persistingTokenSource{
		src:    s.config.TokenSource(ctx, token),
		store:  s.store,
		last:   token.AccessToken,
		logger: s.logger,
	}
}

// persistingTokenSource saves refreshed tokens back to the store.
type persistingTokenSource struct {
	src    oauth2.TokenSource
	store  TokenStore
	logger *log.Logger

	mu   sync.Mutex
	last string
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	t, err := p.src.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if t.AccessToken != p.last {
		p.last = t.AccessToken
		if err := p.store.Save(t); err != nil {
			p.logger.Warn("failed to persist refreshed google token", "error", err)
		}
	}
	return t, nil
}

func (s *GooglePhotosService) headers(contentType string) (http.Header, error) {
	s.mu.RLock()
	src := s.source
	s.mu.RUnlock()
	if src == nil {
		return nil, shared.ErrNotAuthenticated
	}

	token, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAuthFailed, err)
	}

	h := http.Header{}
	h.Set("Authorization", "Bearer "+token.AccessToken)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return h, nil
}

// post sends a JSON body to path under the API root.
func (s *GooglePhotosService) post(ctx context.Context, path string, body any, write bool, attempts int) (*Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	h, err := s.headers("application/json")
	if err != nil {
		return nil, err
	}
	return s.client.Do(ctx, s.baseURL+path, RequestOpts{
		Method:      http.MethodPost,
		Header:      h,
		Body:        data,
		Write:       write,
		MaxAttempts: attempts,
	})
}

type googleAlbum struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	ProductURL string `json:"productUrl"`
}

func (s *GooglePhotosService) CreateAlbum(ctx context.Context, title string) (*RemoteAlbum, error) {
	body := map[string]any{"album": map[string]string{"title": title}}
	resp, err := s.post(ctx, "/albums", body, true, DefaultMaxAttempts)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, fmt.Errorf("google create album: %w", err)
	}

	var album googleAlbum
	if err := resp.Decode(&album); err != nil {
		return nil, err
	}
	if album.ID == "" {
		return nil, fmt.Errorf("%w: google create album returned no id", shared.ErrAPIRequest)
	}
	return &RemoteAlbum{ID: album.ID, URL: album.ProductURL}, nil
}

// uploadBytes sends raw bytes and returns the upload token.
func (s *GooglePhotosService) uploadBytes(ctx context.Context, data []byte, filename string) (string, error) {
	h, err := s.headers("application/octet-stream")
	if err != nil {
		return "", err
	}
	h.Set("X-Goog-Upload-Content-Type", "image/jpeg")
	h.Set("X-Goog-Upload-File-Name", filename)
	h.Set("X-Goog-Upload-Protocol", "raw")

	resp, err := s.client.Do(ctx, s.baseURL+"/uploads", RequestOpts{
		Method:      http.MethodPost,
		Header:      h,
		Body:        data,
		Write:       true,
		MaxAttempts: WriteMaxAttempts,
	})
	if err != nil {
		return "", err
	}
	if err := resp.Err(); err != nil {
		return "", fmt.Errorf("google upload: %w", err)
	}

	token := strings.TrimSpace(string(resp.Body))
	if token == "" {
		return "", fmt.Errorf("%w: google upload returned no token", shared.ErrAPIRequest)
	}
	return token, nil
}

// UploadFile uploads the bytes and creates a library item through the create batcher.
func (s *GooglePhotosService) UploadFile(ctx context.Context, data []byte, filename string, img *models.Image) (*RemoteAsset, error) {
	token, err := s.uploadBytes(ctx, data, filename)
	if err != nil {
		return nil, err
	}
	id, err := s.creates.Enqueue(ctx, token, filename, "")
	if err != nil {
		return nil, err
	}
	return &RemoteAsset{ID: id}, nil
}

type newMediaItem struct {
	Description     string `json:"description"`
	SimpleMediaItem struct {
		UploadToken string `json:"uploadToken"`
		FileName    string `json:"fileName,omitempty"`
	} `json:"simpleMediaItem"`
}

type batchCreateRequest struct {
	AlbumID       string         `json:"albumId,omitempty"`
	NewMediaItems []newMediaItem `json:"newMediaItems"`
}

type mediaItemResult struct {
	UploadToken string `json:"uploadToken"`
	Status      *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"status"`
	MediaItem *struct {
		ID string `json:"id"`
	} `json:"mediaItem"`
}

type batchCreateResponse struct {
	NewMediaItemResults []mediaItemResult `json:"newMediaItemResults"`
}

// createResult converts one per-item result into an id or an error.
func (r mediaItemResult) createResult(filename string) CreateResult {
	ok := r.MediaItem != nil &&
		(r.Status == nil || r.Status.Code == 0 || strings.Contains(strings.ToLower(r.Status.Message), "success"))
	if !ok {
		msg := "no media item"
		if r.Status != nil {
			msg = fmt.Sprintf("status %d: %s", r.Status.Code, r.Status.Message)
		}
		return CreateResult{Err: fmt.Errorf("%w: google create media item %s: %s", shared.ErrAPIRequest, filename, msg)}
	}
	if r.MediaItem.ID == "" {
		return CreateResult{Err: fmt.Errorf("%w: google create media item %s: no media id", shared.ErrAPIRequest, filename)}
	}
	return CreateResult{ID: r.MediaItem.ID}
}

func newBatchCreateRequest(albumID string, reqs []CreateRequest) batchCreateRequest {
	body := batchCreateRequest{AlbumID: albumID, NewMediaItems: make([]newMediaItem, len(reqs))}
	for i, r := range reqs {
		body.NewMediaItems[i].SimpleMediaItem.UploadToken = r.UploadToken
		body.NewMediaItems[i].SimpleMediaItem.FileName = r.Filename
	}
	return body
}

func (s *GooglePhotosService) bulkCreate(ctx context.Context, albumID string, reqs []CreateRequest) ([]CreateResult, error) {
	resp, err := s.post(ctx, "/mediaItems:batchCreate", newBatchCreateRequest(albumID, reqs), true, WriteMaxAttempts)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		names := make([]string, len(reqs))
		for i, r := range reqs {
			names[i] = r.Filename
		}
		s.logger.Warn("google batch create failed", "album", albumID, "items", names, "status", resp.StatusCode)
		return nil, fmt.Errorf("google batch create: %w", err)
	}

	var data batchCreateResponse
	if err := resp.Decode(&data); err != nil {
		return nil, err
	}

	results := make([]CreateResult, 0, len(data.NewMediaItemResults))
	for i, r := range data.NewMediaItemResults {
		if i >= len(reqs) {
			break
		}
		results = append(results, r.createResult(reqs[i].Filename))
	}
	return results, nil
}

// AddToAlbum merges ids into the album's pending add batch and waits for it to be sent.
func (s *GooglePhotosService) AddToAlbum(ctx context.Context, album *models.Album, assetIDs []string) error {
	return s.adds.Enqueue(ctx, album.ExternalID, assetIDs)
}

func (s *GooglePhotosService) bulkAdd(ctx context.Context, albumID string, ids []string) error {
	resp, err := s.post(ctx, "/albums/"+albumID+":batchAddMediaItems", map[string]any{"mediaItemIds": ids}, true, WriteMaxAttempts)
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		s.logger.Warn("google batch add failed", "album", albumID, "items", ids, "status", resp.StatusCode)
		return fmt.Errorf("google add to album: %w", err)
	}
	return nil
}

func (s *GooglePhotosService) RemoveFromAlbum(ctx context.Context, album *models.Album, assetIDs []string) error {
	return s.removeFromAlbum(ctx, album.ExternalID, assetIDs, DefaultMaxAttempts)
}

func (s *GooglePhotosService) removeFromAlbum(ctx context.Context, albumID string, ids []string, attempts int) error {
	resp, err := s.post(ctx, "/albums/"+albumID+":batchRemoveMediaItems", map[string]any{"mediaItemIds": ids}, true, attempts)
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return fmt.Errorf("google remove from album: %w", err)
	}
	return nil
}

// checkAlbum confirms the album is reachable. Only a definite 404 is fatal.
func (s *GooglePhotosService) checkAlbum(ctx context.Context, albumID string) error {
	h, err := s.headers("")
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, s.baseURL+"/albums/"+albumID, RequestOpts{Header: h, MaxAttempts: albumCheckAttempts})
	if err != nil {
		s.logger.Warn("google album check failed", "album", albumID, "error", err)
		return nil
	}

	switch {
	case resp.OK():
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: google album %s", shared.ErrAlbumNotFound, albumID)
	case resp.StatusCode == http.StatusForbidden:
		s.logger.Warn("google album inaccessible; token may lack scopes or album belongs to another account", "album", albumID)
	default:
		s.logger.Warn("google album check failed", "album", albumID, "status", resp.StatusCode)
	}
	return nil
}

type presence int

const (
	presenceUnknown presence = iota
	presenceAbsent
	presencePresent
)

type searchResponse struct {
	MediaItems []struct {
		ID string `json:"id"`
	} `json:"mediaItems"`
	NextPageToken string `json:"nextPageToken"`
}

// mediaInAlbum pages through the album looking for mediaID.
// A failed search yields presenceUnknown so callers attempt removal instead of assuming absence.
func (s *GooglePhotosService) mediaInAlbum(ctx context.Context, albumID, mediaID string) presence {
	pageToken := ""
	for {
		body := map[string]any{"albumId": albumID, "pageSize": searchPageSize}
		if pageToken != "" {
			body["pageToken"] = pageToken
		}

		resp, err := s.post(ctx, "/mediaItems:search", body, false, searchMaxAttempts)
		if err != nil {
			s.logger.Warn("google media search failed", "album", albumID, "media", mediaID, "error", err)
			return presenceUnknown
		}
		if !resp.OK() {
			s.logger.Warn("google media search failed",
				"album", albumID,
				"media", mediaID,
				"status", resp.StatusCode,
				"body", shared.Truncate(string(resp.Body), 2000),
			)
			return presenceUnknown
		}

		var page searchResponse
		if err := resp.Decode(&page); err != nil {
			return presenceUnknown
		}
		for _, it := range page.MediaItems {
			if it.ID == mediaID {
				return presencePresent
			}
		}
		if page.NextPageToken == "" {
			return presenceAbsent
		}
		pageToken = page.NextPageToken
	}
}

// ensureRemovedFromAlbum removes oldID from the album until a search no longer finds it.
// Search results are eventually consistent, so removal is retried with backoff.
func (s *GooglePhotosService) ensureRemovedFromAlbum(ctx context.Context, albumID, oldID string) bool {
	for attempt := range removeMaxAttempts {
		if s.mediaInAlbum(ctx, albumID, oldID) == presenceAbsent {
			return true
		}

		err := s.removeFromAlbum(ctx, albumID, []string{oldID}, WriteMaxAttempts)
		if err == nil {
			if err := s.sleep(ctx, removeRecheckDelay); err != nil {
				return false
			}
			// A successful remove followed by an inconclusive search counts as removed.
			if s.mediaInAlbum(ctx, albumID, oldID) != presencePresent {
				return true
			}
		} else {
			s.logger.Warn("google remove attempt failed", "album", albumID, "media", oldID, "attempt", attempt+1, "error", err)
		}

		wait := min(removeMaxBackoff, removeBaseBackoff<<attempt)
		if err := s.sleep(ctx, wait); err != nil {
			return false
		}
	}
	return false
}

// ReplaceInAlbum creates the new rendition directly in the album, then removes the old item.
// The create bypasses the batcher so the new item exists before removal starts.
func (s *GooglePhotosService) ReplaceInAlbum(ctx context.Context, album *models.Album, oldAssetID string, data []byte, filename string, img *models.Image) (*RemoteAsset, error) {
	if err := s.checkAlbum(ctx, album.ExternalID); err != nil {
		return nil, err
	}

	token, err := s.uploadBytes(ctx, data, filename)
	if err != nil {
		return nil, err
	}

	reqs := []CreateRequest{{UploadToken: token, Filename: filename}}
	resp, err := s.post(ctx, "/mediaItems:batchCreate", newBatchCreateRequest(album.ExternalID, reqs), true, WriteMaxAttempts)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: google album %s: %v", shared.ErrAlbumNotFound, album.ExternalID, err)
		}
		return nil, fmt.Errorf("google replace: %w", err)
	}

	var created batchCreateResponse
	if err := resp.Decode(&created); err != nil {
		return nil, err
	}
	if len(created.NewMediaItemResults) == 0 {
		return nil, fmt.Errorf("%w: google replace %s", ErrBatchResultMissing, filename)
	}
	res := created.NewMediaItemResults[0].createResult(filename)
	if res.Err != nil {
		return nil, res.Err
	}

	if s.ensureRemovedFromAlbum(ctx, album.ExternalID, oldAssetID) {
		s.logger.Debug("confirmed removal of replaced media", "album", album.ExternalID, "old", oldAssetID, "new", res.ID)
	} else {
		s.logger.Warn("unable to confirm removal of replaced media", "album", album.ExternalID, "old", oldAssetID)
	}
	return &RemoteAsset{ID: res.ID}, nil
}

func (s *GooglePhotosService) LinkToAlbum(album *models.Album) string {
	if album.URL != "" {
		return album.URL
	}
	return googleAlbumURL + album.ExternalID
}

var _ Integration = (*GooglePhotosService)(nil)

