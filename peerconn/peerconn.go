// Package peerconn opens a TCP connection to a peer, performs the
// BEP-3 handshake, and exposes the resulting connection as a framed
// message stream via wire.ReadMessage.
package peerconn

import (
	"bytes"
	"context"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/vandenbogart/wmc/wire"
	"github.com/vandenbogart/wmc/wmcerr"
	"github.com/vandenbogart/wmc/wmclog"
)

// DialTimeout bounds how long Connect waits to establish the TCP
// connection, matching the teacher's net.DialTimeout("tcp", address,
// 5*time.Second) convention in peer.go.
const DialTimeout = 5 * time.Second

// HandshakeOptions carries the values this client sends as its half of
// the handshake.
type HandshakeOptions struct {
	Protocol string
	InfoHash [20]byte
	PeerID   [20]byte
}

// Session is a connected, handshaken peer connection. Transport is
// exposed as io.ReadWriteCloser so ReadMessage and callers can be
// exercised in tests against a net.Pipe() without any real socket.
type Session struct {
	Remote    string
	Transport io.ReadWriteCloser
	Handshake wire.HandShake
}

// ReadMessage reads the next framed message from the session.
func (s *Session) ReadMessage() (wire.RawMessage, error) {
	return wire.ReadMessage(s.Transport)
}

// WriteMessage writes a framed message to the session.
func (s *Session) WriteMessage(m wire.RawMessage) error {
	_, err := s.Transport.Write(m.Encode())
	if err != nil {
		return wmcerr.Wrapf(wmcerr.Transport, "write message: %s", err)
	}
	return nil
}

// Close releases the underlying transport.
func (s *Session) Close() error {
	return s.Transport.Close()
}

// Connect opens a TCP connection to address, performs the handshake
// described by opts, and returns the resulting Session. The transport
// is closed before returning on any BadProtocol/BadInfoHash/Transport
// failure; on success it is retained inside the returned Session.
func Connect(ctx context.Context, address string, opts HandshakeOptions, log *zerolog.Logger) (*Session, error) {
	log = wmclog.OrNop(log)

	d := &net.Dialer{Timeout: DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		log.Warn().Str("remote", address).Err(err).Msg("peer dial failed")
		return nil, wmcerr.Wrapf(wmcerr.Transport, "dial %s: %s", address, err)
	}

	session, err := handshakeOver(conn, address, opts)
	if err != nil {
		log.Warn().Str("remote", address).Err(err).Msg("peer handshake failed")
		return nil, err
	}
	log.Info().Str("remote", address).Msg("peer handshake succeeded")
	return session, nil
}

// handshakeOver performs the handshake over an already-open transport.
// Split out from Connect so tests can exercise it directly against a
// net.Pipe() pair instead of a real TCP dial.
func handshakeOver(transport io.ReadWriteCloser, remote string, opts HandshakeOptions) (*Session, error) {
	outgoing := wire.HandShake{Pstr: opts.Protocol, InfoHash: opts.InfoHash, PeerID: opts.PeerID}
	if _, err := transport.Write(outgoing.Encode()); err != nil {
		transport.Close()
		return nil, wmcerr.Wrapf(wmcerr.Transport, "write handshake: %s", err)
	}

	want := outgoing.Size()
	buf := make([]byte, want)
	if _, err := io.ReadFull(transport, buf); err != nil {
		transport.Close()
		return nil, wmcerr.Wrapf(wmcerr.Transport, "read handshake: %s", err)
	}

	received, err := wire.DecodeHandShake(buf)
	if err != nil {
		transport.Close()
		return nil, err
	}

	if received.Pstr != outgoing.Pstr {
		transport.Close()
		return nil, wmcerr.Wrapf(wmcerr.BadProtocol, "expected protocol %q, got %q", outgoing.Pstr, received.Pstr)
	}
	if !bytes.Equal(received.InfoHash[:], outgoing.InfoHash[:]) {
		transport.Close()
		return nil, wmcerr.Wrapf(wmcerr.BadInfoHash, "info hash mismatch with %s", remote)
	}

	return &Session{
		Remote:    remote,
		Transport: transport,
		Handshake: received,
	}, nil
}
