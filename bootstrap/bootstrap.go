// Package bootstrap turns a parsed magnet link into a deduplicated
// set of reachable peers: it fans CONNECT out across every tracker in
// the magnet's list, ANNOUNCEs against each live tracker session, and
// merges the resulting peer lists.
package bootstrap

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/vandenbogart/wmc/magnet"
	"github.com/vandenbogart/wmc/peerconn"
	"github.com/vandenbogart/wmc/tracker"
	"github.com/vandenbogart/wmc/wire"
	"github.com/vandenbogart/wmc/wmcerr"
	"github.com/vandenbogart/wmc/wmclog"
)

// MaxConcurrentTrackers bounds how many CONNECT/ANNOUNCE exchanges run
// at once, grounded on the teacher's dialSem buffered-channel pattern
// in torrentfile.go's getPeersUDP.
const MaxConcurrentTrackers = 32

// MaxConcurrentPeers bounds how many simultaneous peer handshakes
// OpenPeerSessions runs when Options.MaxConcurrentTrackers is not
// positive; otherwise OpenPeerSessions uses that field as its bound.
const MaxConcurrentPeers = 32

// AttemptRecord is a diagnostic record of one CONNECT, ANNOUNCE or
// peer-handshake attempt, correlated by ID so concurrent log lines for
// the same attempt can be grouped.
type AttemptRecord struct {
	ID       uuid.UUID
	Endpoint string
	Stage    string // "connect", "announce", or "handshake"
	Outcome  error
	Duration time.Duration
}

// Options tunes the orchestrator.
type Options struct {
	MaxConcurrentTrackers int
	TrackerOptions        tracker.Options
	Log                   *zerolog.Logger
}

// DefaultOptions returns the specification's reference tuning.
func DefaultOptions() Options {
	return Options{
		MaxConcurrentTrackers: MaxConcurrentTrackers,
		TrackerOptions:        tracker.DefaultOptions(),
		Log:                   wmclog.Nop(),
	}
}

// Option overrides a field of Options built by DefaultOptions,
// mirroring tracker.Option and the teacher's DownloadOptions idiom.
type Option func(*Options)

// WithMaxConcurrency overrides MaxConcurrentTrackers.
func WithMaxConcurrency(n int) Option {
	return func(o *Options) { o.MaxConcurrentTrackers = n }
}

// WithTrackerOptions overrides the tracker.Options used for every
// CONNECT/ANNOUNCE.
func WithTrackerOptions(t tracker.Options) Option {
	return func(o *Options) { o.TrackerOptions = t }
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

// Result is the outcome of a Bootstrap call: the deduplicated peer
// list, in first-seen order, plus diagnostics for every tracker
// attempt made.
type Result struct {
	Peers   []wire.PeerAddress
	Records []AttemptRecord
}

// Bootstrap resolves m's tracker list into a deduplicated set of
// peers. peerID identifies this client in every ANNOUNCE request.
//
// Individual tracker failures are logged and isolated: one dead
// tracker never cancels its siblings. If ctx is cancelled, outstanding
// CONNECT/ANNOUNCE tasks are abandoned and their sockets released;
// Bootstrap returns a wmcerr.Transport error carrying ctx.Err()'s
// message alongside whatever peers had already been collected.
func Bootstrap(ctx context.Context, m *magnet.Magnet, peerID [20]byte, opts Options) (Result, error) {
	log := wmclog.OrNop(opts.Log)
	if opts.MaxConcurrentTrackers <= 0 {
		opts.MaxConcurrentTrackers = MaxConcurrentTrackers
	}

	sessions, records := connectAll(ctx, m.Trackers, opts, log)
	defer func() {
		for _, s := range sessions {
			s.Close()
		}
	}()

	announceRecords, peerLists := announceAll(ctx, sessions, m.InfoHash, peerID, opts, log)
	records = append(records, announceRecords...)

	peers := dedup(lo.Flatten(peerLists))

	if err := ctx.Err(); err != nil {
		return Result{Peers: peers, Records: records}, wmcerr.Wrapf(wmcerr.Transport, "bootstrap: %s", err)
	}
	return Result{Peers: peers, Records: records}, nil
}

// PeerSessionResult pairs a successfully handshaken session with the
// peer it came from. Sessions the caller doesn't use must be closed.
type PeerSessionResult struct {
	Peer    wire.PeerAddress
	Session *peerconn.Session
}

// OpenPeerSessions is an optional, explicitly opt-in step beyond
// Bootstrap: given the peers Bootstrap discovered, it dials and
// handshakes each one, fanned out under the same bounded-concurrency
// discipline as connectAll/announceAll. One peer refusing the
// handshake never cancels the others; every attempt is recorded as an
// AttemptRecord with Stage="handshake". Callers are responsible for
// closing the returned sessions.
func OpenPeerSessions(ctx context.Context, peers []wire.PeerAddress, infoHash, peerID [20]byte, opts Options) ([]PeerSessionResult, []AttemptRecord) {
	log := wmclog.OrNop(opts.Log)
	maxConcurrent := opts.MaxConcurrentTrackers
	if maxConcurrent <= 0 {
		maxConcurrent = MaxConcurrentPeers
	}

	handshake := peerconn.HandshakeOptions{
		Protocol: wire.Protocol,
		InfoHash: infoHash,
		PeerID:   peerID,
	}

	type slot struct {
		result PeerSessionResult
		record AttemptRecord
	}
	slots := make([]slot, len(peers))

	g := new(errgroup.Group)
	g.SetLimit(maxConcurrent)
	for i, peer := range peers {
		i, peer := i, peer
		g.Go(func() error {
			id := uuid.New()
			address := peer.IP.String() + ":" + strconv.Itoa(int(peer.Port))
			start := time.Now()
			session, err := peerconn.Connect(ctx, address, handshake, log)
			slots[i] = slot{
				result: PeerSessionResult{Peer: peer, Session: session},
				record: AttemptRecord{
					ID:       id,
					Endpoint: address,
					Stage:    "handshake",
					Outcome:  err,
					Duration: time.Since(start),
				},
			}
			return nil
		})
	}
	g.Wait()

	var results []PeerSessionResult
	var records []AttemptRecord
	for _, s := range slots {
		records = append(records, s.record)
		if s.result.Session != nil {
			results = append(results, s.result)
		}
	}
	return results, records
}

// connectAll spawns one CONNECT task per tracker endpoint under an
// errgroup.Group bounded by SetLimit, the same buffered-concurrency
// shape as the teacher's dialSem channel. Every task function returns
// nil unconditionally — a dead tracker is recorded, never propagated —
// so g.Wait()'s usual fail-fast/context-cancel behavior never triggers:
// one dead tracker must not cancel its siblings. Each task writes only
// to its own index of a preallocated slice, so no mutex or channel is
// needed despite the concurrent writers.
func connectAll(ctx context.Context, endpoints []*url.URL, opts Options, log *zerolog.Logger) ([]*tracker.Session, []AttemptRecord) {
	type slot struct {
		session *tracker.Session
		record  AttemptRecord
	}
	slots := make([]slot, len(endpoints))

	g := new(errgroup.Group)
	g.SetLimit(opts.MaxConcurrentTrackers)
	for i, endpoint := range endpoints {
		i, endpoint := i, endpoint
		g.Go(func() error {
			id := uuid.New()
			start := time.Now()
			session, err := tracker.Connect(ctx, endpoint, opts.TrackerOptions)
			slots[i] = slot{
				session: session,
				record: AttemptRecord{
					ID:       id,
					Endpoint: endpoint.String(),
					Stage:    "connect",
					Outcome:  err,
					Duration: time.Since(start),
				},
			}
			if err != nil {
				log.Warn().Str("attempt_id", id.String()).Str("endpoint", endpoint.String()).Err(err).Msg("tracker connect failed")
			}
			return nil
		})
	}
	g.Wait()

	var sessions []*tracker.Session
	var records []AttemptRecord
	for _, s := range slots {
		records = append(records, s.record)
		if s.session != nil {
			sessions = append(sessions, s.session)
		}
	}
	return sessions, records
}

// announceAll spawns one ANNOUNCE task per live tracker session, with
// the same isolation discipline as connectAll.
func announceAll(ctx context.Context, sessions []*tracker.Session, infoHash, peerID [20]byte, opts Options, log *zerolog.Logger) ([]AttemptRecord, [][]wire.PeerAddress) {
	type slot struct {
		peers  []wire.PeerAddress
		record AttemptRecord
	}
	slots := make([]slot, len(sessions))

	descriptor := tracker.AnnounceDescriptor{
		PeerID:     peerID,
		InfoHash:   infoHash,
		Downloaded: 0,
		Left:       0,
		Uploaded:   0,
		Event:      wire.EventNone,
	}

	g := new(errgroup.Group)
	g.SetLimit(opts.MaxConcurrentTrackers)
	for i, session := range sessions {
		i, session := i, session
		g.Go(func() error {
			id := uuid.New()
			start := time.Now()
			result, err := tracker.Announce(ctx, session, descriptor)
			slots[i] = slot{
				peers: result.Peers,
				record: AttemptRecord{
					ID:       id,
					Endpoint: session.Endpoint.String(),
					Stage:    "announce",
					Outcome:  err,
					Duration: time.Since(start),
				},
			}
			if err != nil {
				log.Warn().Str("attempt_id", id.String()).Str("endpoint", session.Endpoint.String()).Err(err).Msg("tracker announce failed")
			}
			return nil
		})
	}
	g.Wait()

	var records []AttemptRecord
	var peerLists [][]wire.PeerAddress
	for _, s := range slots {
		records = append(records, s.record)
		if s.peers != nil {
			peerLists = append(peerLists, s.peers)
		}
	}
	return records, peerLists
}

// dedup merges peer lists, keeping first-seen order and dropping
// duplicates by (IP, Port). Owned entirely by the caller's goroutine,
// so no synchronization is needed here.
func dedup(peers []wire.PeerAddress) []wire.PeerAddress {
	seen := make(map[string]struct{}, len(peers))
	out := make([]wire.PeerAddress, 0, len(peers))
	for _, p := range peers {
		key := p.IP.String() + ":" + strconv.Itoa(int(p.Port))
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}
