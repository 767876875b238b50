// Package recorder appends governance events asynchronously.
//
// Events are queued on a buffered channel and written by a single worker.
// Close drains whatever is still queued before returning, so events
// accepted by Append are not lost on a clean shutdown.
package recorder
