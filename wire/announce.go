package wire

import (
	"encoding/binary"
	"net/netip"

	"github.com/valyala/bytebufferpool"

	"github.com/vandenbogart/wmc/wmcerr"
)

// AnnounceEvent encodes the BEP-15 event field.
type AnnounceEvent uint32

// Announce events, per BEP-15.
const (
	EventNone AnnounceEvent = iota
	EventCompleted
	EventStarted
	EventStopped
)

// AnnounceRequestSize is the exact wire size of an AnnounceRequest.
const AnnounceRequestSize = 98

// AnnounceRequest is the ANNOUNCE request sent to a UDP tracker, fully
// populated (including the fields the tracker client fills in on behalf
// of the caller: ConnectionID, TransactionID, IPAddress, Key, NumWant,
// Port).
type AnnounceRequest struct {
	ConnectionID  int64
	TransactionID uint32
	InfoHash      [20]byte
	PeerID        [20]byte
	Downloaded    uint64
	Left          uint64
	Uploaded      uint64
	Event         AnnounceEvent
	IPAddress     uint32
	Key           uint32
	NumWant       int32
	Port          uint16
}

// Encode renders r as the 98-byte ANNOUNCE request. As with
// ConnectRequest.Encode, the pooled buffer's own backing array is the
// scratch space; only the final copy into the caller-owned return
// slice is unavoidable.
func (r AnnounceRequest) Encode() []byte {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	buf.B = growTo(buf.B, AnnounceRequestSize)
	binary.BigEndian.PutUint64(buf.B[0:8], uint64(r.ConnectionID))
	binary.BigEndian.PutUint32(buf.B[8:12], actionAnnounce)
	binary.BigEndian.PutUint32(buf.B[12:16], r.TransactionID)
	copy(buf.B[16:36], r.InfoHash[:])
	copy(buf.B[36:56], r.PeerID[:])
	binary.BigEndian.PutUint64(buf.B[56:64], r.Downloaded)
	binary.BigEndian.PutUint64(buf.B[64:72], r.Left)
	binary.BigEndian.PutUint64(buf.B[72:80], r.Uploaded)
	binary.BigEndian.PutUint32(buf.B[80:84], uint32(r.Event))
	binary.BigEndian.PutUint32(buf.B[84:88], r.IPAddress)
	binary.BigEndian.PutUint32(buf.B[88:92], r.Key)
	binary.BigEndian.PutUint32(buf.B[92:96], uint32(r.NumWant))
	binary.BigEndian.PutUint16(buf.B[96:98], r.Port)

	out := make([]byte, AnnounceRequestSize)
	copy(out, buf.B)
	return out
}

// DecodeAnnounceRequest parses a raw 98-byte ANNOUNCE request back into
// its fields. Used by the round-trip property tests (encode(decode(b))
// == b for any valid 98-byte input).
func DecodeAnnounceRequest(b []byte) (AnnounceRequest, error) {
	if len(b) != AnnounceRequestSize {
		return AnnounceRequest{}, wmcerr.Wrapf(wmcerr.BadFormat, "announce request: expected %d bytes, got %d", AnnounceRequestSize, len(b))
	}
	var req AnnounceRequest
	req.ConnectionID = int64(binary.BigEndian.Uint64(b[0:8]))
	req.TransactionID = binary.BigEndian.Uint32(b[12:16])
	copy(req.InfoHash[:], b[16:36])
	copy(req.PeerID[:], b[36:56])
	req.Downloaded = binary.BigEndian.Uint64(b[56:64])
	req.Left = binary.BigEndian.Uint64(b[64:72])
	req.Uploaded = binary.BigEndian.Uint64(b[72:80])
	req.Event = AnnounceEvent(binary.BigEndian.Uint32(b[80:84]))
	req.IPAddress = binary.BigEndian.Uint32(b[84:88])
	req.Key = binary.BigEndian.Uint32(b[88:92])
	req.NumWant = int32(binary.BigEndian.Uint32(b[92:96]))
	req.Port = binary.BigEndian.Uint16(b[96:98])
	return req, nil
}

// PeerAddress is a single compact peer entry: an IPv4 address and port.
type PeerAddress struct {
	IP   netip.Addr
	Port uint16
}

// AnnounceResponseMinSize is the minimum valid size of an ANNOUNCE
// response (the fixed header, with zero peers).
const AnnounceResponseMinSize = 20

// AnnounceResponse is the ANNOUNCE response read back from a UDP
// tracker.
type AnnounceResponse struct {
	Action    uint32
	TransID   uint32
	Interval  uint32
	Leechers  uint32
	Seeders   uint32
	Peers     []PeerAddress
}

// DecodeAnnounceResponse parses an ANNOUNCE response. b must be at least
// AnnounceResponseMinSize bytes, and the peer tail (everything past the
// first 20 bytes) must be a multiple of 6 bytes. Malformed input never
// panics; it always fails with BadFormat.
func DecodeAnnounceResponse(b []byte) (AnnounceResponse, error) {
	if len(b) < AnnounceResponseMinSize {
		return AnnounceResponse{}, wmcerr.Wrapf(wmcerr.BadFormat, "announce response: expected at least %d bytes, got %d", AnnounceResponseMinSize, len(b))
	}
	peerTail := b[AnnounceResponseMinSize:]
	if len(peerTail)%6 != 0 {
		return AnnounceResponse{}, wmcerr.Wrapf(wmcerr.BadFormat, "announce response: peer tail length %d is not a multiple of 6", len(peerTail))
	}

	resp := AnnounceResponse{
		Action:   binary.BigEndian.Uint32(b[0:4]),
		TransID:  binary.BigEndian.Uint32(b[4:8]),
		Interval: binary.BigEndian.Uint32(b[8:12]),
		Leechers: binary.BigEndian.Uint32(b[12:16]),
		Seeders:  binary.BigEndian.Uint32(b[16:20]),
	}

	n := len(peerTail) / 6
	resp.Peers = make([]PeerAddress, n)
	for i := 0; i < n; i++ {
		entry := peerTail[i*6 : i*6+6]
		ip := netip.AddrFrom4([4]byte{entry[0], entry[1], entry[2], entry[3]})
		port := binary.BigEndian.Uint16(entry[4:6])
		resp.Peers[i] = PeerAddress{IP: ip, Port: port}
	}
	return resp, nil
}

// Encode renders a PeerAddress back to its 6-byte compact form.
func (p PeerAddress) Encode() []byte {
	b := make([]byte, 6)
	a4 := p.IP.As4()
	copy(b[0:4], a4[:])
	binary.BigEndian.PutUint16(b[4:6], p.Port)
	return b
}
