// Package tasks runs the import and export pipelines of a session as exclusive, cancellable jobs.
//
// # Jobs
//
// [Manager] admits at most one job per (kind, session). A second submission while one is
// running returns nil so callers can report a conflict. Each job owns a [context.Context]
// derived from the manager's base context; [Manager.Cancel] cancels it and the job ends as
// cancelled. Every job emits one "started" notification and exactly one terminal notification
// through a [Notifier]. State lives in memory only.
//
// # Pipelines
//
// [Executor] implements [Runner]:
//
//  1. [Executor.RunImport] : working copy, preview hash and stacking
//     - renders a 16-bit TIFF per image with the import profile
//     - hashes the embedded preview with a 16-bit blockhash
//     - groups near-duplicates (Hamming distance ≤ [StackThreshold]) under the earliest capture
//
//  2. [Executor.RunExport] : render and album sync
//     - renders images edited since their last export to EXPORT_DIR/YYYY/YYYY-MM-DD_<session>
//     - pushes each render to every album of the session, replacing earlier uploads
//     - optionally writes export_manifest.json next to the files
//
// Cancellation is checked between images. Work on an image that has started runs to completion.
//
// # Progress Reporting
//
// The optional progress channel receives [ProgressUpdate] values. Sends never block; updates
// are dropped when the channel is full.
package tasks
