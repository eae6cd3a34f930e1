// Package apperrors collects the sentinel errors shared across the node's
// internal packages (stream session, dispatcher, Raft binding, client
// manager) so callers can classify failures with errors.Is instead of
// string matching.
package apperrors

import "errors"

var (
	// ErrInvalidHandshake is returned when the handshake secret exchange
	// fails on a server stream session.
	ErrInvalidHandshake = errors.New("apperrors: invalid handshake")

	// ErrInvalidRequest is returned when an inbound frame fails to decode
	// or carries an unrecognised opcode during Running.
	ErrInvalidRequest = errors.New("apperrors: invalid request frame")

	// ErrLeaderUnknown is returned when no leader has been elected yet.
	ErrLeaderUnknown = errors.New("apperrors: no leader elected")

	// ErrNotLeader is returned by the Raft binding when a write is
	// attempted against a non-leader node directly (bypassing the
	// client stream manager).
	ErrNotLeader = errors.New("apperrors: not leader")

	// ErrLeaderChanged classifies a Raft write failure caused by a
	// leadership change mid-flight; the retry shim treats this as
	// retryable exactly once.
	ErrLeaderChanged = errors.New("apperrors: leader changed")

	// ErrHandlerUnavailable is returned by KVGet/LockAwait dispatch when
	// the backing cache or lock handler goroutine is not running. The
	// original source treats the equivalent send as infallible; this
	// implementation surfaces it as an error instead of risking a panic
	// in an embedding process.
	ErrHandlerUnavailable = errors.New("apperrors: backend handler unavailable")

	// ErrSessionClosed is returned to callers awaiting a response when
	// their stream session tears down before a response arrived.
	ErrSessionClosed = errors.New("apperrors: session closed")

	// ErrCanceled is returned when a caller cancels a submit future; it
	// drops the one-shot slot but never cancels the underlying Raft
	// operation in flight.
	ErrCanceled = errors.New("apperrors: submit canceled by caller")
)

// IsRetryableLeaderError reports whether err should trigger the retry
// shim's single retry per spec §4.F / §7.2: "not leader", "leader changed",
// "no leader elected", and a forwarding session closed before its response
// arrived (ErrSessionClosed) all classify the same way. An error reported by
// a remote node arrives as Response.Err text and is not classified here.
func IsRetryableLeaderError(err error) bool {
	return errors.Is(err, ErrNotLeader) || errors.Is(err, ErrLeaderChanged) || errors.Is(err, ErrLeaderUnknown) ||
		errors.Is(err, ErrSessionClosed)
}
