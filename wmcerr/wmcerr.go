// Package wmcerr defines the error taxonomy shared by the wire, magnet,
// tracker, peerconn and bootstrap packages.
//
// Each kind is a sentinel value; call sites wrap it with
// github.com/pkg/errors so that a caller can both inspect the kind with
// errors.Is and, in development, print a stack trace of where the
// failure originated.
package wmcerr

import "github.com/pkg/errors"

// Sentinel error kinds. These are never returned bare; every call site
// wraps one of them with errors.Wrap/errors.Wrapf to attach context.
var (
	// BadFormat marks malformed input at a parser boundary (magnet URI,
	// wire codec). Never retried; always surfaced to the caller.
	BadFormat = errors.New("wmc: bad format")

	// Transport marks an OS/network I/O failure: connect refused, reset,
	// socket error.
	Transport = errors.New("wmc: transport error")

	// TimedOut marks a bounded wait that elapsed without the expected
	// response.
	TimedOut = errors.New("wmc: timed out")

	// BadProtocol marks a peer handshake pstr mismatch.
	BadProtocol = errors.New("wmc: bad protocol string")

	// BadInfoHash marks a peer handshake info-hash mismatch.
	BadInfoHash = errors.New("wmc: bad info hash")

	// BadResponse marks a tracker response that fails structural or
	// transaction-id checks.
	BadResponse = errors.New("wmc: bad tracker response")

	// ConnectionIDExpired marks a connection_id older than its validity
	// window. The tracker client handles this internally and it should
	// never reach a caller of Announce.
	ConnectionIDExpired = errors.New("wmc: connection id expired")
)

// Wrap attaches a message to one of the sentinel kinds above, preserving
// errors.Is compatibility with the kind.
func Wrap(kind error, msg string) error {
	return errors.Wrap(kind, msg)
}

// Wrapf is Wrap with fmt.Sprintf-style formatting.
func Wrapf(kind error, format string, args ...interface{}) error {
	return errors.Wrapf(kind, format, args...)
}
