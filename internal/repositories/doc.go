// Package repositories implements SQLite persistence for the darkroom entities.
//
// Key Implementations:
//   - [SessionRepository] : sessions and their archived flag
//   - [ImageRepository] : images with per-session sequence numbers, import results, stacking and export marks
//   - [SnapshotRepository] : append-only edit profiles
//   - [AlbumRepository] : per-session integration albums
//   - [MediaRepository] : idempotency rows, unique per album, image and integration
//   - [NotificationRepository] : a capped notification list that doubles as the job notifier
//
// [Store] aggregates them behind the method set the job executor depends on.
// Timestamps are written in UTC so that lexical and chronological order agree.
package repositories
