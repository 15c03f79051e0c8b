package tracker

import (
	"context"
	"encoding/binary"
	"net"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vandenbogart/wmc/wire"
	"github.com/vandenbogart/wmc/wmcerr"
)

// fakeRandSource is a deterministic wmcrand.Source for pinning
// transaction ids and keys in tests, per the injectable randomness
// redesign note.
type fakeRandSource struct {
	values []uint32
	i      int
}

func (f *fakeRandSource) Uint32() uint32 {
	v := f.values[f.i%len(f.values)]
	f.i++
	return v
}

func (f *fakeRandSource) Read(b []byte) (int, error) {
	for i := range b {
		b[i] = byte(f.Uint32())
	}
	return len(b), nil
}

func listenFakeTracker(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	return conn
}

func testOptions(rnd *fakeRandSource) Options {
	o := DefaultOptions()
	o.AttemptTimeout = 200 * time.Millisecond
	o.MaxAttempts = 3
	o.Rand = rnd
	return o
}

// TestConnectWrongTransactionIDThenCorrect implements end-to-end
// scenario 5: the first datagram has a mismatched transaction id and
// must be silently dropped; the second has the right one and succeeds.
func TestConnectWrongTransactionIDThenCorrect(t *testing.T) {
	server := listenFakeTracker(t)
	defer server.Close()

	endpoint, err := url.Parse("udp://" + server.LocalAddr().String())
	require.NoError(t, err)

	go func() {
		buf := make([]byte, 16)
		n, clientAddr, err := server.ReadFromUDP(buf)
		if err != nil || n != wire.ConnectRequestSize {
			return
		}
		requestedTxID := binary.BigEndian.Uint32(buf[12:16])

		// First: wrong transaction id.
		wrong := make([]byte, 16)
		binary.BigEndian.PutUint32(wrong[4:8], requestedTxID+1)
		binary.BigEndian.PutUint64(wrong[8:16], 555)
		server.WriteToUDP(wrong, clientAddr)

		// Second: correct transaction id.
		right := make([]byte, 16)
		binary.BigEndian.PutUint32(right[4:8], requestedTxID)
		binary.BigEndian.PutUint64(right[8:16], 999999)
		server.WriteToUDP(right, clientAddr)
	}()

	rnd := &fakeRandSource{values: []uint32{42}}
	session, err := Connect(context.Background(), endpoint, testOptions(rnd))
	require.NoError(t, err)
	defer session.Close()
	assert.Equal(t, int64(999999), session.ConnectionID)
}

// TestConnectTimeout implements end-to-end scenario 6: the UDP socket
// receives nothing at all, so after the configured wait Connect fails
// TimedOut.
func TestConnectTimeout(t *testing.T) {
	// A loopback UDP socket nobody answers on. It stays open so the
	// requests are received and ignored rather than refused.
	silent, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer silent.Close()
	addr := silent.LocalAddr().(*net.UDPAddr)

	endpoint, err := url.Parse("udp://127.0.0.1:" + strconv.Itoa(addr.Port))
	require.NoError(t, err)

	rnd := &fakeRandSource{values: []uint32{7}}
	opts := testOptions(rnd)
	opts.AttemptTimeout = 20 * time.Millisecond
	opts.MaxAttempts = 2

	_, err = Connect(context.Background(), endpoint, opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, wmcerr.TimedOut)
}

func TestConnectRejectsNonUDPScheme(t *testing.T) {
	endpoint, _ := url.Parse("http://example.com")
	_, err := Connect(context.Background(), endpoint, DefaultOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, wmcerr.BadFormat)
}
