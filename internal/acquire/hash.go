package acquire

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"

	"github.com/open-edge-platform/totaldisk/internal/tdconfig"
	"github.com/open-edge-platform/totaldisk/internal/tderrors"
)

// HashResult is one completed digest computed alongside an acquisition.
type HashResult struct {
	Algorithm tdconfig.HashAlgorithm
	Hex       string
}

// multiHasher feeds the same bytes to every requested algorithm at once, so
// a single pass over the source produces every configured digest.
type multiHasher struct {
	order   []tdconfig.HashAlgorithm
	hashers map[tdconfig.HashAlgorithm]hash.Hash
}

func newMultiHasher(algorithms []tdconfig.HashAlgorithm) *multiHasher {
	m := &multiHasher{hashers: make(map[tdconfig.HashAlgorithm]hash.Hash, len(algorithms))}
	for _, algo := range algorithms {
		if _, ok := m.hashers[algo]; ok {
			continue
		}
		switch algo {
		case tdconfig.HashMD5:
			m.hashers[algo] = md5.New()
		case tdconfig.HashSHA1:
			m.hashers[algo] = sha1.New()
		case tdconfig.HashSHA256:
			m.hashers[algo] = sha256.New()
		default:
			continue
		}
		m.order = append(m.order, algo)
	}
	return m
}

func (m *multiHasher) Write(p []byte) {
	for _, algo := range m.order {
		m.hashers[algo].Write(p)
	}
}

func (m *multiHasher) Finalize() []HashResult {
	out := make([]HashResult, 0, len(m.order))
	for _, algo := range m.order {
		out = append(out, HashResult{Algorithm: algo, Hex: hex.EncodeToString(m.hashers[algo].Sum(nil))})
	}
	return out
}

// hashReader re-digests an already-written stream, used by the
// verify-after-copy pass to compare a freshly re-opened destination against
// the hashes computed during acquisition.
func hashReader(r io.Reader, algorithms []tdconfig.HashAlgorithm) ([]HashResult, error) {
	m := newMultiHasher(algorithms)
	buf := make([]byte, 1<<20)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			m.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, tderrors.Wrap(tderrors.KindReadError, "verify", "failed to re-read destination for verification", err)
		}
	}
	return m.Finalize(), nil
}

func lookupHash(results []HashResult, algo tdconfig.HashAlgorithm) (HashResult, bool) {
	for _, r := range results {
		if r.Algorithm == algo {
			return r, true
		}
	}
	return HashResult{}, false
}
