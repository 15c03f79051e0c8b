package wire

import (
	"github.com/vandenbogart/wmc/wmcerr"
)

// Protocol is the canonical BEP-3 protocol string.
const Protocol = "BitTorrent protocol"

// HandShake is the fixed-layout record exchanged at the start of every
// peer TCP connection: pstrlen(1) || pstr(pstrlen) || reserved(8 zero)
// || info_hash(20) || peer_id(20).
//
// Unlike the teacher's torrent/handshake.go, the reserved bytes here are
// always left zero: this codec never sets the DHT/extension bits, since
// DHT and the extension protocol are both out of scope.
type HandShake struct {
	Pstr     string
	InfoHash [20]byte
	PeerID   [20]byte
}

// Size returns the exact wire size of h: 49 + len(h.Pstr).
func (h HandShake) Size() int {
	return 49 + len(h.Pstr)
}

// Encode renders h as its wire bytes.
func (h HandShake) Encode() []byte {
	pstrlen := len(h.Pstr)
	b := make([]byte, h.Size())
	b[0] = byte(pstrlen)
	copy(b[1:1+pstrlen], h.Pstr)
	// b[1+pstrlen : 1+pstrlen+8] is the reserved field, left zero.
	copy(b[1+pstrlen+8:1+pstrlen+8+20], h.InfoHash[:])
	copy(b[1+pstrlen+28:1+pstrlen+28+20], h.PeerID[:])
	return b
}

// DecodeHandShake parses a handshake record. b must be exactly
// 1 + b[0] + 8 + 20 + 20 bytes.
func DecodeHandShake(b []byte) (HandShake, error) {
	if len(b) < 1 {
		return HandShake{}, wmcerr.Wrapf(wmcerr.BadFormat, "handshake: empty input")
	}
	pstrlen := int(b[0])
	want := 1 + pstrlen + 8 + 20 + 20
	if len(b) != want {
		return HandShake{}, wmcerr.Wrapf(wmcerr.BadFormat, "handshake: expected %d bytes for pstrlen %d, got %d", want, pstrlen, len(b))
	}
	var h HandShake
	h.Pstr = string(b[1 : 1+pstrlen])
	copy(h.InfoHash[:], b[1+pstrlen+8:1+pstrlen+28])
	copy(h.PeerID[:], b[1+pstrlen+28:1+pstrlen+48])
	return h, nil
}
