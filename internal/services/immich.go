package services

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/darkroom/internal/metrics"
	"github.com/desertthunder/darkroom/internal/models"
	"github.com/desertthunder/darkroom/internal/shared"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
)

const (
	ImmichName = "immich"

	immichDeviceID         = "darkroom"
	immichTripFailures     = 5
	immichBreakerTimeout   = 30 * time.Second
	immichBreakerInterval  = time.Minute
	immichHalfOpenRequests = 1
)

// ImmichOpts configures an [ImmichService].
type ImmichOpts struct {
	Config     shared.ImmichConfig
	HTTPClient *http.Client
	Logger     *log.Logger
	// BreakerTimeout is how long the breaker stays open before probing again.
	BreakerTimeout time.Duration
}

// ImmichService implements [Integration] for a self-hosted Immich server.
// Every call passes through a circuit breaker that trips on consecutive transport errors and 5xx responses.
type ImmichService struct {
	baseURL string
	apiKey  string
	client  *RetryClient
	breaker *gobreaker.CircuitBreaker[*Response]
	logger  *log.Logger
}

// NewImmichService creates an [ImmichService].
func NewImmichService(opts ImmichOpts) *ImmichService {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(io.Discard)
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = immichBreakerTimeout
	}

	s := &ImmichService{
		baseURL: strings.TrimRight(opts.Config.BaseURL, "/"),
		apiKey:  opts.Config.APIKey,
		client: NewRetryClient(RetryClientOpts{
			Provider:   ImmichName,
			HTTPClient: opts.HTTPClient,
			Logger:     opts.Logger,
		}),
		logger: opts.Logger,
	}

	metrics.CircuitBreakerState.WithLabelValues(ImmichName).Set(0)
	s.breaker = gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        ImmichName,
		MaxRequests: immichHalfOpenRequests,
		Interval:    immichBreakerInterval,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= immichTripFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("circuit breaker state change", "provider", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerGauge(to))
		},
	})
	return s
}

func breakerGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func (s *ImmichService) Name() string {
	return ImmichName
}

func (s *ImmichService) IsConfigured() bool {
	return s.baseURL != "" && s.apiKey != ""
}

// CanBeConfigured is false because Immich is configured through the environment only.
func (s *ImmichService) CanBeConfigured() bool {
	return false
}

func (s *ImmichService) Configure(ctx context.Context) (string, error) {
	return "", fmt.Errorf("%w: set IMMICH_BASE_URL and IMMICH_API_KEY", shared.ErrMissingConfig)
}

func (s *ImmichService) headers(contentType string) http.Header {
	h := http.Header{}
	h.Set("x-api-key", s.apiKey)
	h.Set("Accept", "application/json")
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return h
}

// do sends a single attempt under the breaker. 5xx responses surface as errors.
// Immich gets no retries or backoff; the breaker is its only resilience layer.
func (s *ImmichService) do(ctx context.Context, path string, opts RequestOpts) (*Response, error) {
	opts.MaxAttempts = 1
	resp, err := s.breaker.Execute(func() (*Response, error) {
		resp, err := s.client.Do(ctx, s.baseURL+path, opts)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return nil, resp.Err()
		}
		return resp, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: immich: %v", shared.ErrServiceUnavailable, err)
	}
	return resp, err
}

func (s *ImmichService) doJSON(ctx context.Context, method, path string, body any, write bool) (*Response, error) {
	var data []byte
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
	}
	return s.do(ctx, path, RequestOpts{
		Method: method,
		Header: s.headers("application/json"),
		Body:   data,
		Write:  write,
	})
}

func (s *ImmichService) CreateAlbum(ctx context.Context, title string) (*RemoteAlbum, error) {
	resp, err := s.doJSON(ctx, http.MethodPost, "/api/albums", map[string]string{"albumName": title}, true)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, fmt.Errorf("immich create album: %w", err)
	}

	var album struct {
		ID string `json:"id"`
	}
	if err := resp.Decode(&album); err != nil {
		return nil, err
	}
	if album.ID == "" {
		return nil, fmt.Errorf("%w: immich create album returned no id", shared.ErrAPIRequest)
	}
	return &RemoteAlbum{ID: album.ID, URL: s.baseURL + "/albums/" + album.ID}, nil
}

// uploadForm builds the multipart body for POST /api/assets.
func uploadForm(data []byte, filename string, img *models.Image) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part := textproto.MIMEHeader{}
	part.Set("Content-Disposition", fmt.Sprintf(`form-data; name="assetData"; filename=%q`, filename))
	part.Set("Content-Type", "image/jpeg")
	fw, err := w.CreatePart(part)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, "", err
	}

	fields := [][2]string{
		{"deviceAssetId", strconv.FormatInt(img.ID, 10)},
		{"deviceId", immichDeviceID},
		{"fileCreatedAt", img.RecordedAt.UTC().Format(time.RFC3339)},
		{"fileModifiedAt", img.UpdatedAt.UTC().Format(time.RFC3339)},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func (s *ImmichService) UploadFile(ctx context.Context, data []byte, filename string, img *models.Image) (*RemoteAsset, error) {
	body, contentType, err := uploadForm(data, filename, img)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload form: %w", err)
	}

	resp, err := s.do(ctx, "/api/assets", RequestOpts{
		Method:      http.MethodPost,
		Header:      s.headers(contentType),
		Body:        body.Bytes(),
		Write:       true,
		MaxAttempts: WriteMaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, fmt.Errorf("immich upload: %w", err)
	}

	var out struct {
		ID      string `json:"id"`
		AssetID string `json:"assetId"`
		Asset   struct {
			ID string `json:"id"`
		} `json:"asset"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	id := cmp.Or(out.ID, out.AssetID, out.Asset.ID)
	if id == "" {
		return nil, fmt.Errorf("%w: immich upload returned no asset id: %s", shared.ErrAPIRequest, shared.Truncate(string(resp.Body), 200))
	}
	return &RemoteAsset{ID: id}, nil
}

// AddToAlbum uses the bulk endpoint and falls back to the per-album endpoint on older servers.
func (s *ImmichService) AddToAlbum(ctx context.Context, album *models.Album, assetIDs []string) error {
	body := map[string][]string{"assetIds": assetIDs, "albumIds": {album.ExternalID}}
	resp, err := s.doJSON(ctx, http.MethodPut, "/api/albums/assets", body, true)
	if err != nil {
		return err
	}
	if resp.OK() {
		return nil
	}

	fallback, err := s.doJSON(ctx, http.MethodPut, "/api/albums/"+album.ExternalID+"/assets", map[string][]string{"ids": assetIDs}, true)
	if err != nil {
		return err
	}
	if err := fallback.Err(); err != nil {
		return fmt.Errorf("immich add to album: bulk status %d: %w", resp.StatusCode, err)
	}
	return nil
}

// RemoveFromAlbum detaches assets from the album without deleting them from the library.
func (s *ImmichService) RemoveFromAlbum(ctx context.Context, album *models.Album, assetIDs []string) error {
	resp, err := s.doJSON(ctx, http.MethodDelete, "/api/albums/"+album.ExternalID+"/assets", map[string][]string{"ids": assetIDs}, true)
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return fmt.Errorf("immich remove from album: %w", err)
	}
	return nil
}

// albumAssets lists asset ids currently in the album.
func (s *ImmichService) albumAssets(ctx context.Context, albumID string) ([]string, error) {
	resp, err := s.doJSON(ctx, http.MethodGet, "/api/albums/"+albumID, nil, false)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}

	var album struct {
		Assets []struct {
			ID string `json:"id"`
		} `json:"assets"`
	}
	if err := resp.Decode(&album); err != nil {
		return nil, err
	}
	ids := make([]string, len(album.Assets))
	for i, a := range album.Assets {
		ids[i] = a.ID
	}
	return ids, nil
}

func (s *ImmichService) ReplaceInAlbum(ctx context.Context, album *models.Album, oldAssetID string, data []byte, filename string, img *models.Image) (*RemoteAsset, error) {
	asset, err := s.UploadFile(ctx, data, filename, img)
	if err != nil {
		return nil, err
	}
	if err := s.AddToAlbum(ctx, album, []string{asset.ID}); err != nil {
		return nil, err
	}
	if oldAssetID == asset.ID {
		return asset, nil
	}

	if err := s.RemoveFromAlbum(ctx, album, []string{oldAssetID}); err != nil {
		s.logger.Warn("failed to remove replaced asset", "album", album.ExternalID, "old", oldAssetID, "error", err)
		return asset, nil
	}

	if ids, err := s.albumAssets(ctx, album.ExternalID); err != nil {
		s.logger.Warn("unable to confirm removal of replaced asset", "album", album.ExternalID, "old", oldAssetID, "error", err)
	} else if slices.Contains(ids, oldAssetID) {
		s.logger.Warn("replaced asset still in album", "album", album.ExternalID, "old", oldAssetID)
	}
	return asset, nil
}

func (s *ImmichService) LinkToAlbum(album *models.Album) string {
	return s.baseURL + "/albums/" + album.ExternalID
}

var _ Integration = (*ImmichService)(nil)
