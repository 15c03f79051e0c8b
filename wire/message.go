package wire

import (
	"encoding/binary"
	"io"

	"github.com/vandenbogart/wmc/wmcerr"
)

// MessageType identifies the kind of a peer wire message. The core
// specified here frames and forwards opaque payloads; semantic
// interpretation of each type is a collaborator's concern.
type MessageType uint8

// Message identifiers reserved for subsequent consumers.
const (
	Choke MessageType = iota
	Unchoke
	Interested
	NotInterested
	Have
	Bitfield
	Request
	Piece
	Cancel
	Port
)

// RawMessage is the unit produced by the peer framing layer after
// length-prefix stripping.
//
// The on-wire keep-alive frame (length == 0) has no id byte at all;
// collapsing it with message id 0 (Choke) the way the original source
// does is ambiguous — id 0 is a perfectly valid Choke message on a
// 5-byte frame. RawMessage instead carries an explicit discriminant, so
// a decoder can never lose the distinction between "no message" and
// "Choke". The zero value of RawMessage is not a keep-alive: it is the
// same value as NewMessage(Choke, nil). Construct messages through
// KeepAliveMessage or NewMessage.
type RawMessage struct {
	isKeepAlive bool
	id          MessageType
	payload     []byte
}

// KeepAliveMessage constructs the keep-alive sentinel.
func KeepAliveMessage() RawMessage {
	return RawMessage{isKeepAlive: true}
}

// NewMessage constructs a RawMessage carrying an id and payload.
func NewMessage(id MessageType, payload []byte) RawMessage {
	return RawMessage{id: id, payload: payload}
}

// IsKeepAlive reports whether m is the keep-alive sentinel.
func (m RawMessage) IsKeepAlive() bool { return m.isKeepAlive }

// ID returns the message identifier. Calling it on a keep-alive message
// is meaningless and returns the zero value; check IsKeepAlive first.
func (m RawMessage) ID() MessageType { return m.id }

// Payload returns the message payload. Calling it on a keep-alive
// message returns nil.
func (m RawMessage) Payload() []byte { return m.payload }

// Encode renders m as its wire frame: length(4) || [id(1) || payload].
func (m RawMessage) Encode() []byte {
	if m.isKeepAlive {
		return []byte{0, 0, 0, 0}
	}
	length := uint32(1 + len(m.payload))
	b := make([]byte, 4+length)
	binary.BigEndian.PutUint32(b[0:4], length)
	b[4] = byte(m.id)
	copy(b[5:], m.payload)
	return b
}

// ReadMessage reads exactly one framed message from r: a 4-byte
// big-endian length prefix, then that many bytes. A zero length decodes
// to the keep-alive sentinel. Short reads fail with wmcerr.Transport;
// no partial message is ever returned.
func ReadMessage(r io.Reader) (RawMessage, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return RawMessage{}, wmcerr.Wrapf(wmcerr.Transport, "read message length: %s", err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return KeepAliveMessage(), nil
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return RawMessage{}, wmcerr.Wrapf(wmcerr.Transport, "read message body: %s", err)
	}
	payload := body[1:]
	if len(payload) == 0 {
		payload = nil
	}
	return NewMessage(MessageType(body[0]), payload), nil
}
