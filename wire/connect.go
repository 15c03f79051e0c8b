// Package wire implements the fixed-layout binary codec shared by the
// tracker and peerconn packages: the BEP-15 UDP tracker records and the
// BEP-3 peer handshake/framing records. All integers are big-endian.
// The codec is pure: no I/O, no suspension, every Encode/Decode pair is
// a plain byte-slice transformation.
package wire

import (
	"encoding/binary"

	"github.com/valyala/bytebufferpool"

	"github.com/vandenbogart/wmc/wmcerr"
)

// ProtocolMagic is the BEP-15 connect request's fixed protocol_id.
const ProtocolMagic int64 = 0x41727101980

const (
	actionConnect uint32 = iota
	actionAnnounce
	actionScrape
	actionError
)

// ConnectRequestSize is the exact wire size of a ConnectRequest.
const ConnectRequestSize = 16

// ConnectRequest is the CONNECT request sent to a UDP tracker.
type ConnectRequest struct {
	TransactionID uint32
}

// Encode renders r as the 16-byte CONNECT request. The pooled buffer's
// own backing array is the scratch space (grown once, then reused
// across calls by the pool); only the final copy into the caller-owned
// return slice is unavoidable.
func (r ConnectRequest) Encode() []byte {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	buf.B = growTo(buf.B, ConnectRequestSize)
	binary.BigEndian.PutUint64(buf.B[0:8], uint64(ProtocolMagic))
	binary.BigEndian.PutUint32(buf.B[8:12], actionConnect)
	binary.BigEndian.PutUint32(buf.B[12:16], r.TransactionID)

	out := make([]byte, ConnectRequestSize)
	copy(out, buf.B)
	return out
}

// growTo returns b resized to exactly n bytes, reusing its backing
// array when it already has the capacity instead of allocating.
func growTo(b []byte, n int) []byte {
	if cap(b) >= n {
		return b[:n]
	}
	return make([]byte, n)
}

// ConnectResponseSize is the exact wire size of a ConnectResponse.
const ConnectResponseSize = 16

// ConnectResponse is the CONNECT response read back from a UDP tracker.
type ConnectResponse struct {
	Action        uint32
	TransactionID uint32
	ConnectionID  int64
}

// DecodeConnectResponse parses a CONNECT response. b must be exactly
// ConnectResponseSize bytes.
func DecodeConnectResponse(b []byte) (ConnectResponse, error) {
	if len(b) != ConnectResponseSize {
		return ConnectResponse{}, wmcerr.Wrapf(wmcerr.BadFormat, "connect response: expected %d bytes, got %d", ConnectResponseSize, len(b))
	}
	return ConnectResponse{
		Action:        binary.BigEndian.Uint32(b[0:4]),
		TransactionID: binary.BigEndian.Uint32(b[4:8]),
		ConnectionID:  int64(binary.BigEndian.Uint64(b[8:16])),
	}, nil
}

// IsConnectAction reports whether a decoded action field is the
// expected value for a CONNECT response.
func IsConnectAction(action uint32) bool { return action == actionConnect }

// IsAnnounceAction reports whether a decoded action field is the
// expected value for an ANNOUNCE response.
func IsAnnounceAction(action uint32) bool { return action == actionAnnounce }

// IsErrorAction reports whether a decoded action field signals a
// server-side tracker error (BEP-15 action 3).
func IsErrorAction(action uint32) bool { return action == actionError }
