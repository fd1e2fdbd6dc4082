package editor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

type call struct {
	name string
	args []string
}

// fakeRunner records invocations and answers from a handler.
type fakeRunner struct {
	calls   []call
	handler func(name string, args []string) ([]byte, error)
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	if f.handler == nil {
		return nil, nil
	}
	return f.handler(name, args)
}

func argAfter(args []string, flag string) string {
	i := slices.Index(args, flag)
	if i < 0 || i+1 >= len(args) {
		return ""
	}
	return args[i+1]
}

func TestProfile(t *testing.T) {
	const text = `; comment
orphan=ignored
[Version]
AppVersion=5.11

[White Balance]
Setting=Custom
Temperature=5200
Green=1.02
[Exposure]
Compensation = -0.5
`

	t.Run("Parse keeps order", func(t *testing.T) {
		p := ParseProfile(text)
		if got := p.Sections(); !slices.Equal(got, []string{"Version", "White Balance", "Exposure"}) {
			t.Errorf("Sections() = %v", got)
		}
		if v, _ := p.Get("Exposure", "Compensation"); v != "-0.5" {
			t.Errorf("expected trimmed value -0.5, got %q", v)
		}
		if _, ok := p.Get("Version", "orphan"); ok {
			t.Error("entries before the first section should be dropped")
		}
	})

	t.Run("String round trip", func(t *testing.T) {
		p := ParseProfile(text)
		again := ParseProfile(p.String())
		if again.String() != p.String() {
			t.Errorf("round trip changed profile:\n%s\nvs\n%s", p.String(), again.String())
		}
		if !strings.HasPrefix(p.String(), "[Version]\nAppVersion=5.11\n") {
			t.Errorf("unexpected rendering: %q", p.String())
		}
	})

	t.Run("Merge overrides and appends", func(t *testing.T) {
		p := ParseProfile(text)
		diff := ParseProfile("[Exposure]\nCompensation=1\n[Resize]\nEnabled=false\n")
		p.Merge(diff)

		if v, _ := p.Get("Exposure", "Compensation"); v != "1" {
			t.Errorf("expected override 1, got %q", v)
		}
		if v, _ := p.Get("Resize", "Enabled"); v != "false" {
			t.Errorf("expected new section, got %q", v)
		}
		if v, _ := p.Get("White Balance", "Temperature"); v != "5200" {
			t.Errorf("untouched keys must survive, got %q", v)
		}
	})

	t.Run("Clone is independent", func(t *testing.T) {
		p := ParseProfile(text)
		c := p.Clone()
		c.Set("Version", "AppVersion", "6.0")
		if v, _ := p.Get("Version", "AppVersion"); v != "5.11" {
			t.Errorf("clone mutated original: %q", v)
		}
	})

	t.Run("WhiteBalance", func(t *testing.T) {
		temp, tint := ParseProfile(text).WhiteBalance()
		if temp == nil || *temp != 5200 || tint == nil || *tint != 1.02 {
			t.Errorf("WhiteBalance() = %v, %v", temp, tint)
		}
	})
}

func TestFormatNumber(t *testing.T) {
	tc := []struct {
		in   float64
		want string
	}{
		{5200, "5200"},
		{1.02, "1.02"},
		{0.1234, "0.123"},
		{-0.0001, "0"},
		{2.5, "2.5"},
	}
	for _, tt := range tc {
		if got := FormatNumber(tt.in); got != tt.want {
			t.Errorf("FormatNumber(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeWhiteBalance(t *testing.T) {
	temp, tint := 5200.0, 1.02
	other := 6100.0

	tc := []struct {
		name        string
		profile     string
		temperature *float64
		tint        *float64
		wantSetting string
		wantChanged bool
	}{
		{
			name:        "matching custom falls back to camera",
			profile:     "[White Balance]\nSetting=Custom\nTemperature=5200\nGreen=1.020\n",
			temperature: &temp, tint: &tint,
			wantSetting: "Camera", wantChanged: true,
		},
		{
			name:        "edited custom is kept",
			profile:     "[White Balance]\nSetting=Custom\nTemperature=6100\nGreen=1.02\n",
			temperature: &temp, tint: &tint,
			wantSetting: "Custom",
		},
		{
			name:        "non custom untouched",
			profile:     "[White Balance]\nSetting=Daylight\nTemperature=5200\nGreen=1.02\n",
			temperature: &temp, tint: &tint,
			wantSetting: "Daylight",
		},
		{
			name:        "unknown import values",
			profile:     "[White Balance]\nSetting=Custom\nTemperature=6100\nGreen=1.02\n",
			temperature: &other, tint: nil,
			wantSetting: "Custom",
		},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			p := ParseProfile(tt.profile)
			changed := NormalizeWhiteBalance(p, tt.temperature, tt.tint)
			if changed != tt.wantChanged {
				t.Errorf("changed = %v, want %v", changed, tt.wantChanged)
			}
			if got, _ := p.Get("White Balance", "Setting"); got != tt.wantSetting {
				t.Errorf("Setting = %q, want %q", got, tt.wantSetting)
			}
		})
	}
}

func TestDefaultProfiles(t *testing.T) {
	if v, ok := ImportProfile().Get("White Balance", "Setting"); !ok || v != "Camera" {
		t.Errorf("import profile should use camera white balance, got %q", v)
	}
	if len(ExportProfile().Sections()) == 0 {
		t.Error("export profile should not be empty")
	}
}

func TestRawTherapee(t *testing.T) {
	ctx := context.Background()

	t.Run("Render", func(t *testing.T) {
		dir := t.TempDir()
		var profileSeen string
		runner := &fakeRunner{handler: func(name string, args []string) ([]byte, error) {
			if name == "rawtherapee-cli" {
				data, err := os.ReadFile(argAfter(args, "-p"))
				if err != nil {
					t.Errorf("profile file should exist during render: %v", err)
				}
				profileSeen = string(data)
			}
			return nil, nil
		}}
		exif := NewExifTool("", runner)
		rt := NewRawTherapee("", dir, 0, runner, exif, nil)

		out := filepath.Join(dir, "2025", "x.jpg")
		when := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
		got, err := rt.Render(ctx, "/raw/a.ARW", "[Exposure]\nCompensation=1\n", RenderOptions{OutputPath: out, RecordedAt: &when})
		if err != nil {
			t.Fatalf("Render() error = %v", err)
		}
		if got != out {
			t.Errorf("Render() = %q, want %q", got, out)
		}
		if profileSeen != "[Exposure]\nCompensation=1\n" {
			t.Errorf("unexpected profile passed: %q", profileSeen)
		}

		args := runner.calls[0].args
		for _, want := range []string{"--no-gui", "-q", "-j65", "-js1", "-Y"} {
			if !slices.Contains(args, want) {
				t.Errorf("render args %v missing %s", args, want)
			}
		}
		if argAfter(args, "-o") != out || argAfter(args, "-c") != "/raw/a.ARW" {
			t.Errorf("unexpected output/input args: %v", args)
		}

		if len(runner.calls) != 2 || runner.calls[1].name != "exiftool" {
			t.Fatalf("expected a date stamp call, got %+v", runner.calls)
		}
		if runner.calls[1].args[0] != "-DateTimeOriginal=2025:06:01 10:30:00" {
			t.Errorf("unexpected stamp arg %q", runner.calls[1].args[0])
		}

		leftovers, _ := filepath.Glob(filepath.Join(dir, "darkroom-*.pp3"))
		if len(leftovers) != 0 {
			t.Errorf("temporary profiles should be removed, found %v", leftovers)
		}
	})

	t.Run("Render tool failure", func(t *testing.T) {
		runner := &fakeRunner{handler: func(string, []string) ([]byte, error) {
			return nil, errors.Join(ErrToolFailed, errors.New("boom"))
		}}
		rt := NewRawTherapee("", t.TempDir(), 90, runner, nil, nil)
		_, err := rt.Render(ctx, "/raw/a.ARW", "", RenderOptions{OutputPath: filepath.Join(t.TempDir(), "a.jpg")})
		if !errors.Is(err, ErrToolFailed) {
			t.Errorf("expected ErrToolFailed, got %v", err)
		}
		if !slices.Contains(runner.calls[0].args, "-j90") {
			t.Errorf("renderer quality should apply, got %v", runner.calls[0].args)
		}
	})

	t.Run("WorkingCopy", func(t *testing.T) {
		outDir := filepath.Join(t.TempDir(), "working")
		runner := &fakeRunner{handler: func(name string, args []string) ([]byte, error) {
			dir := argAfter(args, "-O")
			sidecar := "[White Balance]\nSetting=Camera\nTemperature=4850\nGreen=0.97\n"
			if err := os.WriteFile(filepath.Join(dir, "DSC001.tif"), []byte("tif"), 0o644); err != nil {
				return nil, err
			}
			return nil, os.WriteFile(filepath.Join(dir, "DSC001.tif.pp3"), []byte(sidecar), 0o644)
		}}
		rt := NewRawTherapee("", t.TempDir(), 0, runner, nil, nil)

		wc, err := rt.WorkingCopy(ctx, "/raw/DSC001.NEF", outDir)
		if err != nil {
			t.Fatalf("WorkingCopy() error = %v", err)
		}
		if wc.Path != filepath.Join(outDir, "DSC001.tif") {
			t.Errorf("unexpected path %q", wc.Path)
		}
		if wc.Temperature == nil || *wc.Temperature != 4850 || wc.Tint == nil || *wc.Tint != 0.97 {
			t.Errorf("unexpected white balance %v %v", wc.Temperature, wc.Tint)
		}
		if !slices.Contains(runner.calls[0].args, "-b16") || !slices.Contains(runner.calls[0].args, "-t") {
			t.Errorf("working copy should be a 16-bit tiff: %v", runner.calls[0].args)
		}
	})
}

func TestExifTool(t *testing.T) {
	ctx := context.Background()

	t.Run("ReadMetadata", func(t *testing.T) {
		runner := &fakeRunner{handler: func(string, []string) ([]byte, error) {
			return []byte(`[{"SourceFile":"a.ARW","ImageWidth":6000,"ImageHeight":4000,
				"DateTimeOriginal":"2025:06:01 10:00:02","ISO":400,"FNumber":2.8,
				"ExposureTime":0.004,"FocalLength":35,"Make":"SONY","Model":"ILCE-7M3","LensModel":"FE 35mm F1.8"}]`), nil
		}}
		m, err := NewExifTool("", runner).ReadMetadata(ctx, "a.ARW")
		if err != nil {
			t.Fatalf("ReadMetadata() error = %v", err)
		}
		want := time.Date(2025, 6, 1, 10, 0, 2, 0, time.UTC)
		if !m.DateTimeOriginal.Equal(want) {
			t.Errorf("DateTimeOriginal = %v, want %v", m.DateTimeOriginal, want)
		}
		c := m.Capture()
		if c.Width != 6000 || c.Height != 4000 || c.ISO != 400 || c.Aperture != 2.8 {
			t.Errorf("unexpected capture %+v", c)
		}
		if c.Camera != "SONY ILCE-7M3" || c.Lens != "FE 35mm F1.8" {
			t.Errorf("unexpected camera/lens %q %q", c.Camera, c.Lens)
		}
	})

	t.Run("ExtractPreview falls back to JpgFromRaw", func(t *testing.T) {
		runner := &fakeRunner{handler: func(_ string, args []string) ([]byte, error) {
			if args[1] == "-JpgFromRaw" {
				return []byte("jpeg"), nil
			}
			return nil, nil
		}}
		dest := filepath.Join(t.TempDir(), "p", "1.jpg")
		if err := NewExifTool("", runner).ExtractPreview(ctx, "a.ARW", dest); err != nil {
			t.Fatalf("ExtractPreview() error = %v", err)
		}
		data, _ := os.ReadFile(dest)
		if string(data) != "jpeg" {
			t.Errorf("unexpected preview contents %q", data)
		}
	})

	t.Run("ExtractPreview missing", func(t *testing.T) {
		err := NewExifTool("", &fakeRunner{}).ExtractPreview(ctx, "a.ARW", filepath.Join(t.TempDir(), "x.jpg"))
		if !errors.Is(err, ErrNoPreview) {
			t.Errorf("expected ErrNoPreview, got %v", err)
		}
	})
}
