// Package models defines the entities shared by the darkroom job engine.
//
// Persistent entities:
//   - [Session] : a named unit of work
//   - [Image] : one source capture, with its working copy, perceptual hash and stack membership
//   - [Snapshot] : an append-only edit profile for an image; the newest is the effective edit
//   - [Album] : a session's destination on one external integration
//   - [Media] : the idempotency record for an image pushed to an album
//   - [Notification] : a capped list of job messages
//
// Jobs and job states are held in memory by the tasks package and are not modeled here.
package models
