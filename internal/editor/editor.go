// Package editor wraps the external tools that render and inspect raw captures.
//
// Edit profiles use RawTherapee's PP3 format ([Profile]). Rendering shells out to
// rawtherapee-cli ([RawTherapee]) and metadata comes from exiftool ([ExifTool]).
package editor

import (
	_ "embed"
	"errors"
)

var (
	ErrToolFailed = errors.New("external tool failed")
	ErrNoPreview  = errors.New("no embedded preview")
)

//go:embed profiles/import.pp3
var importProfile string

//go:embed profiles/export.pp3
var exportProfile string

// ImportProfile returns the fixed profile used to produce working copies.
func ImportProfile() *Profile {
	return ParseProfile(importProfile)
}

// ExportProfile returns the fixed export defaults merged over each image's edits.
func ExportProfile() *Profile {
	return ParseProfile(exportProfile)
}
