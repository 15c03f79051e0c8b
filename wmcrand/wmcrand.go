// Package wmcrand models the randomness used for transaction ids, the
// announce key and the random suffix of the peer id as an injectable
// capability, so tests can pin values deterministically instead of
// depending on the OS CSPRNG the way the teacher's clientID helpers do
// directly with crypto/rand.
package wmcrand

import (
	"crypto/rand"
	"encoding/binary"
)

// Source is the capability required by the tracker package and the
// wmcbootstrap command: a source of uniformly random bytes and 32-bit
// words.
type Source interface {
	// Read fills b with random bytes, matching io.Reader's contract.
	Read(b []byte) (int, error)
	// Uint32 returns a single random 32-bit word, used for
	// transaction_id and the announce key.
	Uint32() uint32
}

// CryptoSource binds Source to crypto/rand, the production default.
type CryptoSource struct{}

// Read implements Source.
func (CryptoSource) Read(b []byte) (int, error) {
	return rand.Read(b)
}

// Uint32 implements Source.
func (CryptoSource) Uint32() uint32 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand.Read only fails if the OS entropy source is
		// unavailable, which is unrecoverable for this process.
		panic(err)
	}
	return binary.BigEndian.Uint32(buf[:])
}

// Default is the process-wide randomness source used by production
// code. It is the only process-wide mutable state in this module, per
// the concurrency model: reads against crypto/rand are safe for
// concurrent use.
var Default Source = CryptoSource{}

// clientSignature is the 8-byte ASCII prefix identifying this client,
// matching the teacher's clientID layout in client.go ('-' + 2-letter
// id + 4-digit version + '-').
var clientSignature = [8]byte{'-', 'W', 'M', '0', '0', '0', '1', '-'}

// GeneratePeerID builds a PeerID: clientSignature followed by 12 random
// bytes drawn through rnd.
func GeneratePeerID(rnd Source) [20]byte {
	var id [20]byte
	copy(id[:8], clientSignature[:])
	if _, err := rnd.Read(id[8:]); err != nil {
		// Only the OS entropy source failing can cause this, which is
		// unrecoverable for this process.
		panic(err)
	}
	return id
}
