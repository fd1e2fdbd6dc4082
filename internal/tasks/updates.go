package tasks

import (
	"fmt"
	"path/filepath"

	"github.com/desertthunder/darkroom/internal/models"
)

// ProgressUpdate represents a progress event during a running pipeline.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Pipeline phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Pipeline phase enumeration
type Phase int

const (
	AdmitImages Phase = iota
	ImportImage
	StackImages
	ExportImage
	SyncAlbums
	WriteManifest
)

func (p Phase) String() string {
	switch p {
	case AdmitImages:
		return "admit"
	case ImportImage:
		return "import"
	case StackImages:
		return "stack"
	case ExportImage:
		return "export"
	case SyncAlbums:
		return "sync"
	case WriteManifest:
		return "manifest"
	default:
		return ""
	}
}

func admitUpdate(step, total int, img *models.Image) ProgressUpdate {
	return ProgressUpdate{
		Phase:   AdmitImages,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Admitted %s (#%d)", step, total, filepath.Base(img.Filepath), img.Sequence),
		Data:    img,
	}
}

func importUpdate(step, total int, img *models.Image, skipped bool) ProgressUpdate {
	msg := fmt.Sprintf("[%d/%d] ✓ %s", step, total, filepath.Base(img.Filepath))
	if skipped {
		msg = fmt.Sprintf("[%d/%d] %s (working copy exists)", step, total, filepath.Base(img.Filepath))
	}
	return ProgressUpdate{
		Phase:   ImportImage,
		Step:    step,
		Total:   total,
		Message: msg,
		Data:    img,
	}
}

func stackUpdate(stack *Stack) ProgressUpdate {
	return ProgressUpdate{
		Phase:   StackImages,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Stacked %d similar images under #%d", len(stack.MemberIDs)+1, stack.BaseID),
		Data:    stack,
	}
}

func exportUpdate(step, total int, entry *models.ManifestEntry) ProgressUpdate {
	msg := fmt.Sprintf("[%d/%d] ✓ %s", step, total, filepath.Base(entry.Output))
	failed := 0
	for _, a := range entry.Albums {
		if a.Action == models.SyncFailed {
			failed++
		}
	}
	phase := ExportImage
	if len(entry.Albums) > 0 {
		phase = SyncAlbums
		msg = fmt.Sprintf("%s (%d albums, %d failed)", msg, len(entry.Albums), failed)
	}
	return ProgressUpdate{
		Phase:   phase,
		Step:    step,
		Total:   total,
		Message: msg,
		Data:    entry,
	}
}

func manifestUpdate(path string, count int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   WriteManifest,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Manifest written: %s (%d files)", path, count),
	}
}
