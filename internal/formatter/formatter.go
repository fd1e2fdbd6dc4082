// package formatter renders export manifests and notifications as JSON, CSV, Markdown and plain text
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/desertthunder/darkroom/internal/models"
)

const (
	ManifestFile    = "export_manifest.json"
	ManifestCSVFile = "export_manifest.csv"
	ManifestMDFile  = "README.md"
)

// ManifestToJSON encodes the manifest with two-space indentation.
func ManifestToJSON(m *models.ExportManifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return append(data, '\n'), nil
}

// ManifestToCSV writes one row per (image, album) with columns: Sequence, Image, Output, Integration, Album, Action, External ID, Error.
// Images that were not synced anywhere get a single row with empty album columns.
func ManifestToCSV(m *models.ExportManifest) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Sequence", "Image", "Output", "Integration", "Album", "Action", "External ID", "Error"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, e := range m.Entries {
		base := []string{strconv.Itoa(e.Sequence), strconv.FormatInt(e.ImageID, 10), e.Output}
		if len(e.Albums) == 0 {
			if err := writer.Write(append(base, "", "", "", "", "")); err != nil {
				return nil, fmt.Errorf("failed to write CSV record: %w", err)
			}
			continue
		}
		for _, a := range e.Albums {
			record := append(slices.Clone(base),
				a.Integration,
				strconv.FormatInt(a.AlbumID, 10),
				string(a.Action),
				a.ExternalID,
				a.Error,
			)
			if err := writer.Write(record); err != nil {
				return nil, fmt.Errorf("failed to write CSV record: %w", err)
			}
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// ManifestToMarkdown summarizes an export run for humans browsing the export directory.
func ManifestToMarkdown(m *models.ExportManifest) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# %s\n\n", m.SessionName)
	fmt.Fprintf(&buf, "**Exported**: %s\n", m.GeneratedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&buf, "**Files**: %d\n", len(m.Entries))

	counts := m.SyncCounts()
	if len(counts) > 0 {
		actions := make([]string, 0, len(counts))
		for _, a := range []models.SyncAction{models.SyncCreated, models.SyncReplaced, models.SyncSkipped, models.SyncFailed} {
			if counts[a] > 0 {
				actions = append(actions, fmt.Sprintf("%d %s", counts[a], a))
			}
		}
		fmt.Fprintf(&buf, "**Album sync**: %s\n", strings.Join(actions, ", "))
	}

	buf.WriteString("\n## Files\n\n")
	for _, e := range m.Entries {
		fmt.Fprintf(&buf, "%d. %s", e.Sequence, filepath.Base(e.Output))
		for _, a := range e.Albums {
			fmt.Fprintf(&buf, " [%s: %s]", a.Integration, a.Action)
		}
		buf.WriteString("\n")
	}
	return buf.Bytes()
}

// ManifestResult lists the files written by [WriteExportManifest].
type ManifestResult struct {
	JSONFile string
	CSVFile  string
	Files    []string
}

// WriteExportManifest writes the JSON manifest into dir, plus the CSV and Markdown companions when withCompanions is set.
func WriteExportManifest(m *models.ExportManifest, dir string, withCompanions bool) (*ManifestResult, error) {
	if dir == "" {
		dir = m.Directory
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := ManifestToJSON(m)
	if err != nil {
		return nil, err
	}
	result := &ManifestResult{JSONFile: filepath.Join(dir, ManifestFile)}
	if err := os.WriteFile(result.JSONFile, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}
	result.Files = append(result.Files, result.JSONFile)

	if !withCompanions {
		return result, nil
	}

	csvData, err := ManifestToCSV(m)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CSV: %w", err)
	}
	result.CSVFile = filepath.Join(dir, ManifestCSVFile)
	if err := os.WriteFile(result.CSVFile, csvData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write CSV file: %w", err)
	}
	result.Files = append(result.Files, result.CSVFile)

	mdFile := filepath.Join(dir, ManifestMDFile)
	if err := os.WriteFile(mdFile, ManifestToMarkdown(m), 0644); err != nil {
		return nil, fmt.Errorf("failed to write Markdown file: %w", err)
	}
	result.Files = append(result.Files, mdFile)

	return result, nil
}

// ReadExportManifest loads a manifest written by [WriteExportManifest].
func ReadExportManifest(path string) (*models.ExportManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m models.ExportManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}

// NotificationsToText renders notifications one per line, newest first, marking unread ones.
func NotificationsToText(notifications []models.Notification) []byte {
	var buf bytes.Buffer
	if len(notifications) == 0 {
		buf.WriteString("No notifications\n")
		return buf.Bytes()
	}
	for _, n := range notifications {
		marker := " "
		if !n.Read {
			marker = "*"
		}
		fmt.Fprintf(&buf, "%s %s  %-7s  %s\n", marker, n.CreatedAt.Local().Format("2006-01-02 15:04"), n.Kind, n.Message)
	}
	return buf.Bytes()
}
