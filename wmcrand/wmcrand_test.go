package wmcrand

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestUint32DrawsDoNotCollide exercises the testable property that any
// two independently-constructed transaction ids differ with
// overwhelming probability: 1000 draws from CryptoSource, the
// production Default, should never repeat.
func TestUint32DrawsDoNotCollide(t *testing.T) {
	const draws = 1000
	seen := make(map[uint32]struct{}, draws)
	for i := 0; i < draws; i++ {
		v := Default.Uint32()
		_, dup := seen[v]
		require.False(t, dup, "draw %d collided with an earlier transaction id", i)
		seen[v] = struct{}{}
	}
	assert.Len(t, seen, draws)
}

func TestGeneratePeerIDSignatureAndRandomness(t *testing.T) {
	id := GeneratePeerID(Default)
	assert.Equal(t, "-WM0001-", string(id[:8]))

	other := GeneratePeerID(Default)
	assert.NotEqual(t, id[8:], other[8:], "the random suffix should differ across calls")
}

type fakeSource struct{ b byte }

func (f fakeSource) Read(b []byte) (int, error) {
	for i := range b {
		b[i] = f.b
	}
	return len(b), nil
}

func (f fakeSource) Uint32() uint32 { return uint32(f.b) }

func TestGeneratePeerIDUsesInjectedSource(t *testing.T) {
	id := GeneratePeerID(fakeSource{b: 0x42})
	assert.Equal(t, "-WM0001-", string(id[:8]))
	for _, b := range id[8:] {
		assert.Equal(t, byte(0x42), b)
	}
}
