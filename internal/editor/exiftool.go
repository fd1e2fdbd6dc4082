package editor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/darkroom/internal/models"
	"github.com/goccy/go-json"
)

// Metadata is the subset of EXIF data darkroom keeps for each capture.
type Metadata struct {
	Width            int
	Height           int
	DateTimeOriginal time.Time
	ISO              int
	Aperture         float64
	ExposureTime     float64
	FocalLength      float64
	Make             string
	Model            string
	Lens             string
}

// Camera joins make and model, dropping a make the model already repeats.
func (m *Metadata) Camera() string {
	if m.Make == "" || strings.HasPrefix(strings.ToLower(m.Model), strings.ToLower(m.Make)) {
		return m.Model
	}
	return strings.TrimSpace(m.Make + " " + m.Model)
}

// Capture converts the metadata into the image's denormalized capture fields.
func (m *Metadata) Capture() models.Capture {
	return models.Capture{
		RecordedAt:   m.DateTimeOriginal,
		Width:        m.Width,
		Height:       m.Height,
		Camera:       m.Camera(),
		Lens:         m.Lens,
		ISO:          m.ISO,
		Aperture:     m.Aperture,
		ExposureTime: m.ExposureTime,
		FocalLength:  m.FocalLength,
	}
}

var exifDateLayouts = []string{
	"2006:01:02 15:04:05.999999999-07:00",
	"2006:01:02 15:04:05-07:00",
	"2006:01:02 15:04:05.999999999",
	"2006:01:02 15:04:05",
}

// ExifTool reads and writes metadata with the exiftool binary.
type ExifTool struct {
	binary string
	runner CommandRunner
}

// NewExifTool creates an [ExifTool] using runner.
func NewExifTool(binary string, runner CommandRunner) *ExifTool {
	if binary == "" {
		binary = "exiftool"
	}
	return &ExifTool{binary: binary, runner: runner}
}

// ReadMetadata returns the capture metadata of path.
func (e *ExifTool) ReadMetadata(ctx context.Context, path string) (*Metadata, error) {
	out, err := e.runner.Run(ctx, e.binary,
		"-json", "-n",
		"-ImageWidth", "-ImageHeight", "-ExifImageWidth", "-ExifImageHeight",
		"-DateTimeOriginal", "-SubSecDateTimeOriginal", "-CreateDate",
		"-ISO", "-FNumber", "-ExposureTime", "-FocalLength",
		"-Make", "-Model", "-LensModel", "-Lens",
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("read metadata %s: %w", filepath.Base(path), err)
	}

	var records []map[string]any
	if err := json.Unmarshal(out, &records); err != nil {
		return nil, fmt.Errorf("failed to decode exiftool output: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("read metadata %s: exiftool returned no records", filepath.Base(path))
	}
	r := records[0]

	m := &Metadata{
		Width:        int(firstNumber(r, "ImageWidth", "ExifImageWidth")),
		Height:       int(firstNumber(r, "ImageHeight", "ExifImageHeight")),
		ISO:          int(firstNumber(r, "ISO")),
		Aperture:     firstNumber(r, "FNumber"),
		ExposureTime: firstNumber(r, "ExposureTime"),
		FocalLength:  firstNumber(r, "FocalLength"),
		Make:         firstString(r, "Make"),
		Model:        firstString(r, "Model"),
		Lens:         firstString(r, "LensModel", "Lens"),
	}
	for _, key := range []string{"SubSecDateTimeOriginal", "DateTimeOriginal", "CreateDate"} {
		if t, ok := parseExifDate(firstString(r, key)); ok {
			m.DateTimeOriginal = t
			break
		}
	}
	return m, nil
}

// ExtractPreview writes the largest embedded JPEG of path to dest.
func (e *ExifTool) ExtractPreview(ctx context.Context, path, dest string) error {
	var data []byte
	for _, tag := range []string{"-PreviewImage", "-JpgFromRaw"} {
		out, err := e.runner.Run(ctx, e.binary, "-b", tag, path)
		if err == nil && len(out) > 0 {
			data = out
			break
		}
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: %s", ErrNoPreview, filepath.Base(path))
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create preview directory: %w", err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("failed to write preview: %w", err)
	}
	return nil
}

// SetDateTimeOriginal stamps t into path in place.
func (e *ExifTool) SetDateTimeOriginal(ctx context.Context, path string, t time.Time) error {
	_, err := e.runner.Run(ctx, e.binary,
		"-DateTimeOriginal="+t.Format("2006:01:02 15:04:05"),
		"-overwrite_original",
		path,
	)
	return err
}

func parseExifDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "0000") {
		return time.Time{}, false
	}
	for _, layout := range exifDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func firstNumber(r map[string]any, keys ...string) float64 {
	for _, k := range keys {
		switch v := r[k].(type) {
		case float64:
			return v
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f
			}
		}
	}
	return 0
}

func firstString(r map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := r[k].(type) {
		case string:
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}
