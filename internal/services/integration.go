package services

import (
	"context"
	"sort"

	"github.com/desertthunder/darkroom/internal/models"
)

// RemoteAlbum is an album as created on an external service.
type RemoteAlbum struct {
	ID  string
	URL string
}

// RemoteAsset is an uploaded asset on an external service.
type RemoteAsset struct {
	ID string
}

// Integration is the capability every external photo service implements.
type Integration interface {
	// Name is the integration key stored on albums and media rows.
	Name() string

	IsConfigured() bool
	CanBeConfigured() bool

	// Configure starts out-of-band setup and returns the URL the user must visit.
	Configure(ctx context.Context) (string, error)

	CreateAlbum(ctx context.Context, title string) (*RemoteAlbum, error)
	UploadFile(ctx context.Context, data []byte, filename string, img *models.Image) (*RemoteAsset, error)
	AddToAlbum(ctx context.Context, album *models.Album, assetIDs []string) error
	RemoveFromAlbum(ctx context.Context, album *models.Album, assetIDs []string) error

	// ReplaceInAlbum uploads a new rendition and, on success, leaves the album holding it
	// instead of oldAssetID. Removal of the old asset is confirmed on a best-effort basis.
	ReplaceInAlbum(ctx context.Context, album *models.Album, oldAssetID string, data []byte, filename string, img *models.Image) (*RemoteAsset, error)

	LinkToAlbum(album *models.Album) string
}

// Registry looks up integrations by name.
type Registry map[string]Integration

// NewRegistry indexes integrations by their Name.
func NewRegistry(integrations ...Integration) Registry {
	r := make(Registry, len(integrations))
	for _, i := range integrations {
		r[i.Name()] = i
	}
	return r
}

// Get returns the named integration.
func (r Registry) Get(name string) (Integration, bool) {
	i, ok := r[name]
	return i, ok
}

// Names returns the registered names in sorted order.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
