// Package server exposes the job manager and notification log over HTTP.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
// [BasicRouter] registers Go 1.22 "METHOD /path" patterns on an [http.ServeMux],
// so path parameters come from [http.Request.PathValue] and the mux answers
// 405 for a known path with the wrong method.
//
// [Middleware] wraps handlers in reverse order (last added executes first).
// [Logging] and [Recover] are the stock middleware.
//
// # Routes
//
//	GET    /api/jobs                      job summary
//	GET    /api/sessions/{id}/import      import state
//	POST   /api/sessions/{id}/import      start an import (202, or 409 when running)
//	DELETE /api/sessions/{id}/import      cancel the session's jobs
//	GET    /api/sessions/{id}/export      export state, and likewise for POST and DELETE
//	GET    /api/notifications             notifications, newest first
//	PATCH  /api/notifications             mark all read
//	DELETE /api/notifications             clear
//	GET    /auth/google                   redirect to Google consent
//	GET    /auth/google/callback          complete the OAuth exchange
//	GET    /metrics                       Prometheus exposition
//
// # OAuth Callback Handler
//
// [OAuthHandler] completes the authorization code flow through an [Authorizer]
// and publishes the first outcome on [OAuthHandler.Result]. The CLI runs it on
// a short-lived server and waits for that result; the long-running server
// mounts it next to the API and ignores the channel.
package server
