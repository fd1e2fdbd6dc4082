// Package services defines the [Integration] interface for external photo services and implements it for Google Photos and Immich.
//
// # Integration Interface
//
// Every provider exposes the same album and asset operations so the export pipeline can sync
// an image to any configured album without knowing which service backs it.
// Providers are looked up by name through a [Registry].
//
// # Resilient Client
//
// [RetryClient] wraps [http.Client] for both providers:
//   - 429 and 5xx responses are retried, honoring Retry-After and otherwise backing off exponentially with jitter
//   - write requests hold a slot of a shared [semaphore.Weighted] for each attempt
//   - transport errors are returned without retry
//   - a final non-2xx response is returned as-is and logged with masked headers
//
// # Google Photos
//
// [GooglePhotosService] authenticates with OAuth2 and persists refreshed tokens through a [TokenStore].
// Uploads are two-phase: raw bytes return an upload token, and tokens become media items through
// mediaItems:batchCreate. A [CreateBatcher] coalesces those create calls and an [AddBatcher]
// merges album adds so bursts of exports cost few write requests.
//
// Replacing an item creates the new rendition directly in the album and then removes the old one,
// re-checking album contents until the old item is gone or the attempt budget runs out.
//
// # Immich
//
// [ImmichService] talks to a self-hosted server with an API key. Calls pass through a
// [gobreaker.CircuitBreaker] so an unreachable server fails fast instead of stalling an export.
//
// # Error Handling
//
// Services use typed errors from the shared package:
//   - [shared.ErrNotAuthenticated] : no OAuth token has been stored
//   - [shared.ErrAuthFailed] : token refresh or exchange failed
//   - [shared.ErrAPIRequest] : non-2xx response, with status and truncated body
//   - [shared.ErrAlbumNotFound] : the remote album no longer exists
//   - [shared.ErrServiceUnavailable] : the circuit breaker is open
package services
