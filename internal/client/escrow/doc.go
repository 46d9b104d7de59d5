// Package escrow contains the client side of the fidolock escrow protocol.
//
// # Overview
//
// The package provides:
//  1. A transport-agnostic API contract (see the Client interface) to talk
//     to the escrow server: Join, record push/pull/list/delete, and header
//     backup upload/download.
//  2. A concrete HTTP implementation (see HTTPClient) that injects a bearer
//     access token into every request, transparently refreshes expired
//     tokens, and maps response statuses to sentinel errors. Rotated token
//     pairs are handed to an optional callback so callers can persist them.
//  3. Header backup transfer over presigned URLs: the server only brokers
//     the URLs, the payload goes straight to object storage.
//
// # Error Handling
//
// Common conditions are exposed as sentinel errors that callers can match
// with errors.Is: ErrUnavailable, ErrUnauthorized, ErrNotFound, ErrNotJoined.
//
// Concurrency & Contexts
//
// HTTPClient is not safe for concurrent use; the CLI drives one request at
// a time. All operations accept context.Context and honor cancellation.
package escrow
