// package models defines the data model for the darkroom job engine
package models

import (
	"fmt"
	"strings"
	"time"
)

// Model defines the base interface for persistent models.
type Model interface {
	Validate() error // Validate checks if the model's data is valid and returns an error if not
}

// Session is a named unit of work owning zero or more images.
type Session struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	StartedAt time.Time `json:"startedAt"`
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"createdAt"`
}

// Validate checks required session fields.
func (s *Session) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("session name is required")
	}
	if strings.ContainsAny(s.Name, `/\`) {
		return fmt.Errorf("session name %q must not contain path separators", s.Name)
	}
	if s.StartedAt.IsZero() {
		return fmt.Errorf("session start time is required")
	}
	return nil
}

// Image is one source capture admitted into a session.
//
// StackID points at the representative image of the stack this image belongs to.
// A representative has IsStackBase set and a nil StackID.
type Image struct {
	ID           int64    `json:"id"`
	SessionID    int64    `json:"sessionId"`
	Sequence     int      `json:"sequence"`
	Filepath     string   `json:"filepath"`
	WorkingPath  string   `json:"workingPath,omitempty"`
	PreviewPath  string   `json:"previewPath,omitempty"`
	Phash        string   `json:"phash,omitempty"`
	StackID      *int64   `json:"stackId,omitempty"`
	IsStackBase  bool     `json:"isStackBase"`
	Rating       int      `json:"rating"`
	Archived     bool     `json:"archived"`
	WhiteBalance *float64 `json:"whiteBalance,omitempty"`
	Tint         *float64 `json:"tint,omitempty"`

	Capture

	LastExportedAt *time.Time `json:"lastExportedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Capture holds denormalized capture metadata read from the source file.
type Capture struct {
	RecordedAt   time.Time `json:"recordedAt"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	Camera       string    `json:"camera,omitempty"`
	Lens         string    `json:"lens,omitempty"`
	ISO          int       `json:"iso,omitempty"`
	Aperture     float64   `json:"aperture,omitempty"`
	ExposureTime float64   `json:"exposureTime,omitempty"`
	FocalLength  float64   `json:"focalLength,omitempty"`
}

// Validate checks required image fields.
func (i *Image) Validate() error {
	if i.SessionID == 0 {
		return fmt.Errorf("image session is required")
	}
	if i.Filepath == "" {
		return fmt.Errorf("image filepath is required")
	}
	if i.RecordedAt.IsZero() {
		return fmt.Errorf("image capture time is required")
	}
	return nil
}

// Stacked reports whether the image already belongs to a stack, as a member or as the base.
func (i *Image) Stacked() bool {
	return i.StackID != nil || i.IsStackBase
}

// NeedsExport reports whether the image changed after its last export.
// lastEdit is the later of the image's update time and its newest snapshot.
func (i *Image) NeedsExport(lastEdit time.Time) bool {
	if i.Archived {
		return false
	}
	if i.LastExportedAt == nil {
		return true
	}
	return i.LastExportedAt.Before(lastEdit)
}

// Snapshot is an immutable edit profile captured for one image.
type Snapshot struct {
	ID        int64     `json:"id"`
	ImageID   int64     `json:"imageId"`
	PP3       string    `json:"pp3"`
	CreatedAt time.Time `json:"createdAt"`
}

// Album maps a session onto one destination of one integration.
type Album struct {
	ID          int64     `json:"id"`
	SessionID   int64     `json:"sessionId"`
	Integration string    `json:"integration"`
	ExternalID  string    `json:"externalId"`
	URL         string    `json:"url,omitempty"`
	Title       string    `json:"title,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Media records that an image was pushed to an album.
// ExternalID is the integration's current asset id for that image.
type Media struct {
	ID          int64     `json:"id"`
	AlbumID     int64     `json:"albumId"`
	ImageID     int64     `json:"imageId"`
	Integration string    `json:"integration"`
	ExternalID  string    `json:"externalId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NotificationKind classifies a user-facing notification.
type NotificationKind string

const (
	NotificationSuccess NotificationKind = "success"
	NotificationError   NotificationKind = "error"
	NotificationInfo    NotificationKind = "info"
)

// Notification is a short human-readable message about job progress.
type Notification struct {
	ID        string           `json:"id"`
	Message   string           `json:"message"`
	Kind      NotificationKind `json:"type"`
	CreatedAt time.Time        `json:"createdAt"`
	Read      bool             `json:"read"`
}

// ImportResult carries what the import pipeline derives for one image.
type ImportResult struct {
	WorkingPath  string
	PreviewPath  string
	Phash        string
	WhiteBalance *float64
	Tint         *float64
}

// SyncAction is what album sync did for one image in one album.
type SyncAction string

const (
	SyncCreated  SyncAction = "created"
	SyncReplaced SyncAction = "replaced"
	SyncSkipped  SyncAction = "skipped"
	SyncFailed   SyncAction = "failed"
)

// AlbumSyncResult is the outcome of pushing one rendered image to one album.
type AlbumSyncResult struct {
	AlbumID     int64      `json:"albumId"`
	Integration string     `json:"integration"`
	Action      SyncAction `json:"action"`
	ExternalID  string     `json:"externalId,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// ManifestEntry records one exported file.
type ManifestEntry struct {
	ImageID  int64             `json:"imageId"`
	Sequence int               `json:"sequence"`
	Source   string            `json:"source"`
	Output   string            `json:"output"`
	Albums   []AlbumSyncResult `json:"albums,omitempty"`
}

// ExportManifest summarizes one export run of a session.
type ExportManifest struct {
	SessionID   int64           `json:"sessionId"`
	SessionName string          `json:"sessionName"`
	Directory   string          `json:"directory"`
	GeneratedAt time.Time       `json:"generatedAt"`
	Entries     []ManifestEntry `json:"entries"`
}

// SyncCounts tallies album sync outcomes across the manifest.
func (m *ExportManifest) SyncCounts() map[SyncAction]int {
	counts := make(map[SyncAction]int)
	for _, e := range m.Entries {
		for _, a := range e.Albums {
			counts[a.Action]++
		}
	}
	return counts
}
