package editor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultQuality is the JPEG quality used when neither the call nor the renderer sets one.
const DefaultQuality = 65

// RenderOptions control a single render.
type RenderOptions struct {
	OutputPath string
	Quality    int
	RecordedAt *time.Time
}

// WorkingCopy is the 16-bit TIFF produced at import and the white balance RawTherapee resolved for it.
type WorkingCopy struct {
	Path        string
	Profile     *Profile
	Temperature *float64
	Tint        *float64
}

// DateStamper writes a capture time into a rendered file.
type DateStamper interface {
	SetDateTimeOriginal(ctx context.Context, path string, t time.Time) error
}

// RawTherapee renders raw files through rawtherapee-cli.
type RawTherapee struct {
	binary  string
	tempDir string
	quality int
	runner  CommandRunner
	stamper DateStamper
	logger  *log.Logger
}

// NewRawTherapee creates a renderer. stamper may be nil, in which case capture times are not written.
func NewRawTherapee(binary, tempDir string, quality int, runner CommandRunner, stamper DateStamper, logger *log.Logger) *RawTherapee {
	if binary == "" {
		binary = "rawtherapee-cli"
	}
	if quality <= 0 {
		quality = DefaultQuality
	}
	return &RawTherapee{
		binary:  binary,
		tempDir: tempDir,
		quality: quality,
		runner:  runner,
		stamper: stamper,
		logger:  logger,
	}
}

// Render writes source rendered with profile to opts.OutputPath as a JPEG.
func (r *RawTherapee) Render(ctx context.Context, source, profile string, opts RenderOptions) (string, error) {
	if opts.OutputPath == "" {
		return "", fmt.Errorf("render %s: output path is required", source)
	}
	quality := opts.Quality
	if quality <= 0 {
		quality = r.quality
	}

	pp3, cleanup, err := r.writeProfile(profile)
	if err != nil {
		return "", err
	}
	defer cleanup()

	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	args := []string{
		"--no-gui",
		"-p", pp3,
		"-q",
		"-o", opts.OutputPath,
		"-j" + strconv.Itoa(quality),
		"-js1",
		"-Y",
		"-c", source,
	}
	if _, err := r.runner.Run(ctx, r.binary, args...); err != nil {
		return "", fmt.Errorf("render %s: %w", filepath.Base(source), err)
	}

	if opts.RecordedAt != nil && r.stamper != nil {
		if err := r.stamper.SetDateTimeOriginal(ctx, opts.OutputPath, *opts.RecordedAt); err != nil {
			return "", fmt.Errorf("stamp %s: %w", filepath.Base(opts.OutputPath), err)
		}
	}

	return opts.OutputPath, nil
}

// WorkingCopy renders source with the import profile into outDir as a 16-bit TIFF
// and reads back the sidecar profile RawTherapee writes next to it.
func (r *RawTherapee) WorkingCopy(ctx context.Context, source, outDir string) (*WorkingCopy, error) {
	pp3, cleanup, err := r.writeProfile(ImportProfile().String())
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create working directory: %w", err)
	}

	args := []string{"--no-gui", "-p", pp3, "-b16", "-t", "-O", outDir, "-Y", "-c", source}
	if _, err := r.runner.Run(ctx, r.binary, args...); err != nil {
		return nil, fmt.Errorf("import %s: %w", filepath.Base(source), err)
	}

	tif := WorkingPath(outDir, source)
	sidecar, err := os.ReadFile(tif + ".pp3")
	if err != nil {
		return nil, fmt.Errorf("failed to read sidecar profile: %w", err)
	}

	profile := ParseProfile(string(sidecar))
	temperature, tint := profile.WhiteBalance()
	return &WorkingCopy{Path: tif, Profile: profile, Temperature: temperature, Tint: tint}, nil
}

// WorkingPath is where [RawTherapee.WorkingCopy] writes the TIFF for source.
func WorkingPath(outDir, source string) string {
	base := filepath.Base(source)
	return filepath.Join(outDir, strings.TrimSuffix(base, filepath.Ext(base))+".tif")
}

func (r *RawTherapee) writeProfile(profile string) (string, func(), error) {
	f, err := os.CreateTemp(r.tempDir, "darkroom-*.pp3")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create profile file: %w", err)
	}
	cleanup := func() {
		if err := os.Remove(f.Name()); err != nil && r.logger != nil {
			r.logger.Warn("failed to remove profile file", "path", f.Name(), "error", err)
		}
	}

	if _, err := f.WriteString(profile); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("failed to write profile file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to close profile file: %w", err)
	}
	return f.Name(), cleanup, nil
}
