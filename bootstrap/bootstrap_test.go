package bootstrap

import (
	"context"
	"encoding/binary"
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vandenbogart/wmc/magnet"
	"github.com/vandenbogart/wmc/wire"
)

// fakePeerListener runs a TCP listener that performs a well-behaved
// BEP-3 handshake (echoing pstr and info_hash back) for every
// connection, standing in for a real peer.
func fakePeerListener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				buf := make([]byte, 4096)
				n, err := conn.Read(buf)
				if err != nil {
					conn.Close()
					return
				}
				conn.Write(buf[:n])
			}()
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln
}

// fakeTracker runs a single in-process UDP tracker that answers every
// CONNECT with a fixed connection id and every ANNOUNCE with the given
// peers, standing in for a real tracker per the injectable-transport
// testing discipline used throughout this module.
func fakeTracker(t *testing.T, peers []wire.PeerAddress) *url.URL {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)

	go func() {
		for {
			buf := make([]byte, 2048)
			n, clientAddr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			switch n {
			case wire.ConnectRequestSize:
				txID := binary.BigEndian.Uint32(buf[12:16])
				resp := make([]byte, 16)
				binary.BigEndian.PutUint32(resp[4:8], txID)
				binary.BigEndian.PutUint64(resp[8:16], 42)
				conn.WriteToUDP(resp, clientAddr)
			case wire.AnnounceRequestSize:
				txID := binary.BigEndian.Uint32(buf[12:16])
				resp := make([]byte, 20+6*len(peers))
				binary.BigEndian.PutUint32(resp[0:4], 1)
				binary.BigEndian.PutUint32(resp[4:8], txID)
				binary.BigEndian.PutUint32(resp[8:12], 1800)
				binary.BigEndian.PutUint32(resp[12:16], 0)
				binary.BigEndian.PutUint32(resp[16:20], uint32(len(peers)))
				for i, p := range peers {
					copy(resp[20+i*6:], p.Encode())
				}
				conn.WriteToUDP(resp, clientAddr)
			}
		}
	}()

	t.Cleanup(func() { conn.Close() })
	endpoint, err := url.Parse("udp://" + conn.LocalAddr().String())
	require.NoError(t, err)
	return endpoint
}

func peerAt(a, b, c, d byte, port uint16) wire.PeerAddress {
	ip := netip.AddrFrom4([4]byte{a, b, c, d})
	return wire.PeerAddress{IP: ip, Port: port}
}

func TestBootstrapDedupsAcrossTrackers(t *testing.T) {
	shared := peerAt(10, 0, 0, 1, 6881)
	unique1 := peerAt(10, 0, 0, 2, 6881)
	unique2 := peerAt(10, 0, 0, 3, 6881)

	ep1 := fakeTracker(t, []wire.PeerAddress{shared, unique1})
	ep2 := fakeTracker(t, []wire.PeerAddress{shared, unique2})

	m := &magnet.Magnet{
		InfoHash: [20]byte{1, 2, 3},
		Trackers: []*url.URL{ep1, ep2},
	}

	opts := DefaultOptions()
	opts.TrackerOptions.AttemptTimeout = 200 * time.Millisecond
	opts.TrackerOptions.MaxAttempts = 2

	peerID := [20]byte{9, 9, 9}
	result, err := Bootstrap(context.Background(), m, peerID, opts)
	require.NoError(t, err)

	assert.Len(t, result.Peers, 3)
	assert.Len(t, result.Records, 4) // 2 connects + 2 announces
}

func TestBootstrapIsolatesDeadTracker(t *testing.T) {
	good := fakeTracker(t, []wire.PeerAddress{peerAt(10, 1, 1, 1, 6881)})

	// A silent socket nobody answers on, standing in for a dead tracker.
	silent, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	addr := silent.LocalAddr().(*net.UDPAddr)
	silent.Close()
	dead, err := url.Parse("udp://127.0.0.1:" + strconv.Itoa(addr.Port))
	require.NoError(t, err)

	m := &magnet.Magnet{
		InfoHash: [20]byte{4, 5, 6},
		Trackers: []*url.URL{good, dead},
	}

	opts := DefaultOptions()
	opts.TrackerOptions.AttemptTimeout = 20 * time.Millisecond
	opts.TrackerOptions.MaxAttempts = 2

	result, err := Bootstrap(context.Background(), m, [20]byte{7}, opts)
	require.NoError(t, err)
	require.Len(t, result.Peers, 1)

	var sawFailure bool
	for _, r := range result.Records {
		if r.Outcome != nil {
			sawFailure = true
		}
	}
	assert.True(t, sawFailure, "expected the dead tracker's failure to be recorded, not silently dropped")
}

func TestBootstrapCancellation(t *testing.T) {
	silent, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	addr := silent.LocalAddr().(*net.UDPAddr)
	silent.Close()
	dead, err := url.Parse("udp://127.0.0.1:" + strconv.Itoa(addr.Port))
	require.NoError(t, err)

	m := &magnet.Magnet{
		InfoHash: [20]byte{1},
		Trackers: []*url.URL{dead},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := DefaultOptions()
	opts.TrackerOptions.AttemptTimeout = 50 * time.Millisecond
	opts.TrackerOptions.MaxAttempts = 2

	result, err := Bootstrap(ctx, m, [20]byte{2}, opts)
	require.Error(t, err)
	assert.Empty(t, result.Peers)
}

func TestOpenPeerSessionsIsolatesBadPeer(t *testing.T) {
	good := fakePeerListener(t)
	goodAddr := good.Addr().(*net.TCPAddr)

	// A peer that accepts the connection and immediately hangs up
	// without completing the handshake, standing in for a misbehaving
	// peer; the handshake read fails fast with EOF instead of blocking.
	bad, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	badAddr := bad.Addr().(*net.TCPAddr)
	go func() {
		for {
			conn, err := bad.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	t.Cleanup(func() { bad.Close() })

	goodIP4 := goodAddr.IP.To4()
	badIP4 := badAddr.IP.To4()
	peers := []wire.PeerAddress{
		peerAt(goodIP4[0], goodIP4[1], goodIP4[2], goodIP4[3], uint16(goodAddr.Port)),
		peerAt(badIP4[0], badIP4[1], badIP4[2], badIP4[3], uint16(badAddr.Port)),
	}

	infoHash := [20]byte{1, 2, 3}
	peerID := [20]byte{9, 9, 9}
	opts := DefaultOptions()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	results, records := OpenPeerSessions(ctx, peers, infoHash, peerID, opts)
	require.Len(t, records, 2)
	require.Len(t, results, 1)
	for _, r := range results {
		r.Session.Close()
	}

	var sawFailure bool
	for _, r := range records {
		assert.Equal(t, "handshake", r.Stage)
		if r.Outcome != nil {
			sawFailure = true
		}
	}
	assert.True(t, sawFailure, "expected the bad peer's handshake failure to be recorded, not silently dropped")
}
