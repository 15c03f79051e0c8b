package tracker

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"time"

	"github.com/vandenbogart/wmc/wire"
	"github.com/vandenbogart/wmc/wmcerr"
	"github.com/vandenbogart/wmc/wmclog"
)

// AnnounceDescriptor is the caller-supplied subset of an ANNOUNCE
// request; the client fills in ConnectionID (from the session),
// TransactionID, Action, IPAddress=0, Key and the reference Port/NumWant
// values, mirroring the split between AnnounceRequest and
// AnnounceRequestDescriptor in the original source.
type AnnounceDescriptor struct {
	PeerID     [20]byte
	InfoHash   [20]byte
	Downloaded uint64
	Left       uint64
	Uploaded   uint64
	Event      wire.AnnounceEvent
}

// AnnounceResult is the caller-facing subset of a decoded ANNOUNCE
// response.
type AnnounceResult struct {
	Interval uint32
	Seeders  uint32
	Leechers uint32
	Peers    []wire.PeerAddress
}

// defaultPort is the reference peer listening port advertised in
// ANNOUNCE requests per BEP-15/BEP-3.
const defaultPort = 6881

// Announce performs an ANNOUNCE exchange against s, transparently
// re-running CONNECT first if s.ConnectionID has expired. Retries on
// timeout/bad-response per the same schedule as Connect.
func Announce(ctx context.Context, s *Session, descriptor AnnounceDescriptor) (AnnounceResult, error) {
	log := wmclog.OrNop(s.opts.Log)

	if s.Dead() {
		return AnnounceResult{}, wmcerr.Wrapf(wmcerr.Transport, "announce: session for %s is dead", s.Endpoint)
	}
	if s.expired(time.Now()) {
		if err := s.doConnect(ctx, log); err != nil {
			return AnnounceResult{}, err
		}
	}

	var lastErr error
	for attempt := 0; attempt < s.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return AnnounceResult{}, wmcerr.Wrapf(wmcerr.Transport, "announce: %s", err)
		}

		transactionID := s.opts.Rand.Uint32()
		req := wire.AnnounceRequest{
			ConnectionID:  s.ConnectionID,
			TransactionID: transactionID,
			InfoHash:      descriptor.InfoHash,
			PeerID:        descriptor.PeerID,
			Downloaded:    descriptor.Downloaded,
			Left:          descriptor.Left,
			Uploaded:      descriptor.Uploaded,
			Event:         descriptor.Event,
			IPAddress:     0,
			Key:           s.opts.Rand.Uint32(),
			NumWant:       -1,
			Port:          defaultPort,
		}

		deadline := time.Now().Add(s.opts.AttemptTimeout * time.Duration(1<<uint(attempt)))
		if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
			deadline = ctxDeadline
		}
		s.conn.SetDeadline(deadline)

		if _, err := s.conn.Write(req.Encode()); err != nil {
			lastErr = wmcerr.Wrapf(wmcerr.Transport, "announce write: %s", err)
			continue
		}

		stopWatch := watchCancellation(ctx, s.conn)
		result, err := s.recvAnnounceResponse(transactionID)
		stopWatch()
		if err != nil {
			lastErr = err
			log.Warn().Str("endpoint", s.Endpoint.String()).Int("attempt", attempt).Err(err).Msg("tracker announce attempt failed")
			if errors.Is(err, errSessionInvalidated) {
				s.dead = true
				return AnnounceResult{}, wmcerr.Wrapf(wmcerr.BadResponse, "announce: tracker invalidated session")
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return AnnounceResult{}, wmcerr.Wrapf(wmcerr.Transport, "announce: %s", ctxErr)
			}
			if isRetryable(err) {
				continue
			}
			return AnnounceResult{}, err
		}
		return result, nil
	}
	s.dead = true
	if lastErr == nil {
		lastErr = wmcerr.Wrapf(wmcerr.TimedOut, "announce: exhausted %d attempts", s.opts.MaxAttempts)
	}
	return AnnounceResult{}, lastErr
}

// errSessionInvalidated is a sentinel used only internally to signal
// that the tracker returned action=3 on an ANNOUNCE, which the design
// notes treat as a hint to mark the session dead rather than retry.
var errSessionInvalidated = errors.New("tracker: session invalidated (action=3)")

func (s *Session) recvAnnounceResponse(transactionID uint32) (AnnounceResult, error) {
	buf := make([]byte, 65507)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return AnnounceResult{}, wmcerr.Wrapf(wmcerr.TimedOut, "announce: %s", err)
			}
			return AnnounceResult{}, wmcerr.Wrapf(wmcerr.Transport, "announce read: %s", err)
		}
		if !from.IP.Equal(s.addr.IP) || from.Port != s.addr.Port {
			continue
		}

		if n >= 8 {
			action := binary.BigEndian.Uint32(buf[0:4])
			txID := binary.BigEndian.Uint32(buf[4:8])
			if txID == transactionID && wire.IsErrorAction(action) {
				return AnnounceResult{}, errSessionInvalidated
			}
		}

		resp, err := wire.DecodeAnnounceResponse(buf[:n])
		if err != nil {
			return AnnounceResult{}, wmcerr.Wrapf(wmcerr.BadResponse, "announce: %s", err)
		}
		if resp.TransID != transactionID {
			continue
		}
		if !wire.IsAnnounceAction(resp.Action) {
			return AnnounceResult{}, wmcerr.Wrapf(wmcerr.BadResponse, "announce: expected action=1, got %d", resp.Action)
		}
		return AnnounceResult{
			Interval: resp.Interval,
			Seeders:  resp.Seeders,
			Leechers: resp.Leechers,
			Peers:    resp.Peers,
		}, nil
	}
}
