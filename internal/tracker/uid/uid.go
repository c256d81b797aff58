// Package uid generates registry-compliant 11-character identifiers.
//
// Identifiers are minted locally with no coordination between processes:
// each one hashes a nanosecond timestamp, the process identity, a local
// counter and fresh random bytes, so collisions are statistically unlikely
// but not impossible.
package uid

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/blake2b"
)

const (
	letters      = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	alphanumeric = "0123456789" + letters

	// Length is the length of every generated identifier.
	Length = 11
)

var (
	counter  atomic.Uint64
	hostname = func() string {
		h, _ := os.Hostname()
		return h
	}()
)

// Generate returns a new identifier: one leading letter followed by ten
// alphanumeric characters.
func Generate() string {
	var seed []byte
	seed = binary.BigEndian.AppendUint64(seed, uint64(time.Now().UnixNano()))
	seed = binary.BigEndian.AppendUint32(seed, uint32(os.Getpid()))
	seed = binary.BigEndian.AppendUint64(seed, counter.Add(1))
	seed = append(seed, hostname...)
	seed = append(seed, randomBytes(16)...)

	sum := blake2b.Sum256(seed)
	digits := hex.EncodeToString(sum[:])

	var b strings.Builder
	b.Grow(Length)
	b.WriteByte(letters[int(sum[0])%len(letters)])

	// Two hex digits give one byte, projected onto the alphabet.
	for i := 2; i+1 < len(digits) && b.Len() < Length; i += 2 {
		v, _ := hex.DecodeString(digits[i : i+2])
		b.WriteByte(alphanumeric[int(v[0])%len(alphanumeric)])
	}
	for b.Len() < Length {
		b.WriteByte(alphanumeric[int(randomBytes(1)[0])%len(alphanumeric)])
	}
	return b.String()
}

// Valid reports whether s has the identifier format.
func Valid(s string) bool {
	if len(s) != Length || !strings.ContainsRune(letters, rune(s[0])) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !strings.ContainsRune(alphanumeric, rune(s[i])) {
			return false
		}
	}
	return true
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	// crypto/rand.Read does not fail on supported platforms.
	_, _ = rand.Read(b)
	return b
}
