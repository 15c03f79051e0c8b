// Package tracker implements the BEP-15 UDP tracker client: a CONNECT
// exchange followed by one or more ANNOUNCE exchanges against a single
// tracker endpoint, with transaction-id correlation, a bounded retry
// schedule, and connection_id lifetime tracking.
package tracker

import (
	"context"
	"errors"
	"net"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/vandenbogart/wmc/wire"
	"github.com/vandenbogart/wmc/wmcerr"
	"github.com/vandenbogart/wmc/wmclog"
	"github.com/vandenbogart/wmc/wmcrand"
)

// connectionIDValidity is how long a connection_id remains usable
// before Announce must transparently re-CONNECT.
const connectionIDValidity = 60 * time.Second

// maxAttempts caps the BEP-15 exponential retry schedule: 15*2^n
// seconds, n = 0..maxAttempts-1.
const maxAttempts = 8

// backoffBase is the base of the BEP-15 retry schedule (15*2^n
// seconds) and the default per-attempt deadline, matching the
// teacher's udpBaseTimeout constant in torrentfile.go's getPeersUDP.
const backoffBase = 15 * time.Second

// Options tunes a Session's timeouts and retry behavior. The zero value
// is not usable; call DefaultOptions and override fields as needed.
type Options struct {
	AttemptTimeout       time.Duration
	MaxAttempts          int
	ConnectionIDValidity time.Duration
	Rand                 wmcrand.Source
	Log                  *zerolog.Logger
}

// DefaultOptions returns the specification's reference tuning.
func DefaultOptions() Options {
	return Options{
		AttemptTimeout:       backoffBase,
		MaxAttempts:          maxAttempts,
		ConnectionIDValidity: connectionIDValidity,
		Rand:                 wmcrand.Default,
		Log:                  wmclog.Nop(),
	}
}

// Option overrides a field of Options built by DefaultOptions,
// mirroring the teacher's DownloadOptions functional-options idiom in
// torrent/client.go.
type Option func(*Options)

// WithTimeout overrides the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.AttemptTimeout = d }
}

// WithMaxAttempts overrides the retry attempt cap.
func WithMaxAttempts(n int) Option {
	return func(o *Options) { o.MaxAttempts = n }
}

// WithLogger overrides the logger.
func WithLogger(log *zerolog.Logger) Option {
	return func(o *Options) { o.Log = log }
}

// NewOptions builds Options from DefaultOptions with overrides applied.
func NewOptions(overrides ...Option) Options {
	o := DefaultOptions()
	for _, apply := range overrides {
		apply(&o)
	}
	return o
}

// Session is a live connection to one UDP tracker: its resolved
// endpoint, an open socket, and the current connection_id with its
// issuance time.
type Session struct {
	Endpoint     *url.URL
	ConnectionID int64
	IssuedAt     time.Time
	dead         bool

	addr *net.UDPAddr
	conn *net.UDPConn
	opts Options
}

// Dead reports whether the session has been marked unusable (after an
// action=3 server error response or exhausted retries).
func (s *Session) Dead() bool { return s.dead }

// Close releases the session's UDP socket.
func (s *Session) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *Session) expired(now time.Time) bool {
	return now.Sub(s.IssuedAt) > s.opts.ConnectionIDValidity
}

// Connect resolves endpoint, opens a UDP socket, and performs the
// CONNECT exchange, retrying on timeout per the BEP-15 schedule. Only
// udp-scheme endpoints are supported; others fail BadFormat immediately
// since the caller should have filtered them already.
func Connect(ctx context.Context, endpoint *url.URL, opts Options) (*Session, error) {
	log := wmclog.OrNop(opts.Log)
	if opts.Rand == nil {
		opts.Rand = wmcrand.Default
	}

	if endpoint.Scheme != "udp" {
		return nil, wmcerr.Wrapf(wmcerr.BadFormat, "tracker: unsupported scheme %q", endpoint.Scheme)
	}
	host := endpoint.Host
	addr, err := net.ResolveUDPAddr("udp", hostWithDefaultPort(host))
	if err != nil {
		return nil, wmcerr.Wrapf(wmcerr.Transport, "resolve %s: %s", host, err)
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, wmcerr.Wrapf(wmcerr.Transport, "dial %s: %s", addr, err)
	}

	s := &Session{Endpoint: endpoint, addr: addr, conn: conn, opts: opts}
	if err := s.doConnect(ctx, log); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// hostWithDefaultPort appends the default port 80 if host carries none.
func hostWithDefaultPort(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, "80")
}

// doConnect runs the CONNECT handshake with the BEP-15 retry schedule.
func (s *Session) doConnect(ctx context.Context, log *zerolog.Logger) error {
	var lastErr error
	for attempt := 0; attempt < s.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return wmcerr.Wrapf(wmcerr.Transport, "connect: %s", err)
		}

		transactionID := s.opts.Rand.Uint32()
		req := wire.ConnectRequest{TransactionID: transactionID}

		// BEP-15's recommended backoff grows the per-attempt wait itself
		// (15*2^n seconds) rather than sleeping between tries, mirroring
		// the teacher's udpBaseTimeout*(1<<try) SetDeadline pattern.
		deadline := time.Now().Add(s.opts.AttemptTimeout * time.Duration(1<<uint(attempt)))
		if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
			deadline = ctxDeadline
		}
		s.conn.SetDeadline(deadline)

		if _, err := s.conn.Write(req.Encode()); err != nil {
			lastErr = wmcerr.Wrapf(wmcerr.Transport, "connect write: %s", err)
			continue
		}

		stopWatch := watchCancellation(ctx, s.conn)
		resp, err := s.recvConnectResponse(transactionID)
		stopWatch()
		if err != nil {
			lastErr = err
			log.Warn().Str("endpoint", s.Endpoint.String()).Int("attempt", attempt).Err(err).Msg("tracker connect attempt failed")
			if ctxErr := ctx.Err(); ctxErr != nil {
				return wmcerr.Wrapf(wmcerr.Transport, "connect: %s", ctxErr)
			}
			if isRetryable(err) {
				continue
			}
			return err
		}

		s.ConnectionID = resp.ConnectionID
		s.IssuedAt = time.Now()
		return nil
	}
	if lastErr == nil {
		lastErr = wmcerr.Wrapf(wmcerr.TimedOut, "connect: exhausted %d attempts", s.opts.MaxAttempts)
	}
	return lastErr
}

// watchCancellation releases a blocked read on conn as soon as ctx is
// done, by forcing its read deadline into the past. The returned stop
// func must be called once the read has returned, so the watcher
// goroutine does not leak or clobber a later attempt's deadline.
func watchCancellation(ctx context.Context, conn *net.UDPConn) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()
	return func() { close(done) }
}

// recvConnectResponse reads datagrams until one matches transactionID
// and the tracker's resolved address, discarding anything else
// (stale/spoofed replies, mismatched transaction ids) until the socket
// deadline elapses.
func (s *Session) recvConnectResponse(transactionID uint32) (wire.ConnectResponse, error) {
	buf := make([]byte, 65507)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return wire.ConnectResponse{}, wmcerr.Wrapf(wmcerr.TimedOut, "connect: %s", err)
			}
			return wire.ConnectResponse{}, wmcerr.Wrapf(wmcerr.Transport, "connect read: %s", err)
		}
		if !from.IP.Equal(s.addr.IP) || from.Port != s.addr.Port {
			continue
		}
		resp, err := wire.DecodeConnectResponse(buf[:n])
		if err != nil {
			return wire.ConnectResponse{}, wmcerr.Wrapf(wmcerr.BadResponse, "connect: %s", err)
		}
		if resp.TransactionID != transactionID {
			continue
		}
		if wire.IsErrorAction(resp.Action) {
			return wire.ConnectResponse{}, wmcerr.Wrapf(wmcerr.BadResponse, "connect: tracker returned action=3 (error)")
		}
		if !wire.IsConnectAction(resp.Action) {
			return wire.ConnectResponse{}, wmcerr.Wrapf(wmcerr.BadResponse, "connect: expected action=0, got %d", resp.Action)
		}
		return resp, nil
	}
}

func isRetryable(err error) bool {
	return errors.Is(err, wmcerr.TimedOut) || errors.Is(err, wmcerr.BadResponse)
}
