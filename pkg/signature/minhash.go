// Package signature computes MinHash column signatures and estimates the
// Jaccard similarity of the value sets behind them.
package signature

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/bits"
	"math/rand"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/new-bakery/nga/pkg/models"
)

const (
	// DefaultNumPerm is the number of hash permutations per signature.
	DefaultNumPerm = 128

	mersennePrime uint64 = (1 << 61) - 1
	maxHash       uint64 = (1 << 32) - 1

	// permutationSeed fixes the permutation family so signatures computed in
	// different processes stay comparable.
	permutationSeed = 1
)

type permutations struct {
	a []uint64
	b []uint64
}

var permCache sync.Map // int -> *permutations

func permutationsFor(numPerm int) *permutations {
	if p, ok := permCache.Load(numPerm); ok {
		return p.(*permutations)
	}
	rng := rand.New(rand.NewSource(permutationSeed))
	p := &permutations{a: make([]uint64, numPerm), b: make([]uint64, numPerm)}
	for i := 0; i < numPerm; i++ {
		p.a[i] = 1 + uint64(rng.Int63n(int64(mersennePrime-1)))
		p.b[i] = uint64(rng.Int63n(int64(mersennePrime)))
	}
	actual, _ := permCache.LoadOrStore(numPerm, p)
	return actual.(*permutations)
}

// MinHash is a fixed-length signature of a set of values.
type MinHash struct {
	hashValues []uint64
}

// New returns an empty signature with numPerm slots.
func New(numPerm int) *MinHash {
	if numPerm <= 0 {
		numPerm = DefaultNumPerm
	}
	hv := make([]uint64, numPerm)
	for i := range hv {
		hv[i] = maxHash
	}
	return &MinHash{hashValues: hv}
}

// Compute builds the signature of the distinct non-null values. Order and
// multiplicity of values do not affect the result.
func Compute(values []any, numPerm int) *MinHash {
	m := New(numPerm)
	for _, v := range values {
		if s, ok := Stringify(v); ok {
			m.Update(s)
		}
	}
	return m
}

// Update folds one value into the signature.
func (m *MinHash) Update(value string) {
	h := xxhash.Sum64String(value) & maxHash
	p := permutationsFor(len(m.hashValues))
	for i := range m.hashValues {
		// (a*h + b) mod p, in 128-bit arithmetic
		hi, lo := bits.Mul64(p.a[i], h)
		var carry uint64
		lo, carry = bits.Add64(lo, p.b[i], 0)
		hi += carry
		phv := bits.Rem64(hi, lo, mersennePrime) & maxHash
		if phv < m.hashValues[i] {
			m.hashValues[i] = phv
		}
	}
}

// NumPerm returns the number of slots.
func (m *MinHash) NumPerm() int {
	return len(m.hashValues)
}

// IsEmpty reports whether no value has been folded in.
func (m *MinHash) IsEmpty() bool {
	for _, v := range m.hashValues {
		if v != maxHash {
			return false
		}
	}
	return true
}

// Equal reports whether both signatures are bit-identical.
func (m *MinHash) Equal(other *MinHash) bool {
	if len(m.hashValues) != len(other.hashValues) {
		return false
	}
	for i, v := range m.hashValues {
		if other.hashValues[i] != v {
			return false
		}
	}
	return true
}

// Jaccard estimates the Jaccard similarity of the underlying value sets as
// the fraction of equal slots.
func (m *MinHash) Jaccard(other *MinHash) (float64, error) {
	if len(m.hashValues) != len(other.hashValues) {
		return 0, fmt.Errorf("cannot compare signatures with %d and %d permutations",
			len(m.hashValues), len(other.hashValues))
	}
	if len(m.hashValues) == 0 {
		return 0, fmt.Errorf("cannot compare empty signatures")
	}
	equal := 0
	for i, v := range m.hashValues {
		if other.hashValues[i] == v {
			equal++
		}
	}
	return float64(equal) / float64(len(m.hashValues)), nil
}

// Encode renders the signature in its persisted form.
func Encode(m *MinHash) *models.SignatureWire {
	buf := make([]byte, 8*len(m.hashValues))
	for i, v := range m.hashValues {
		binary.LittleEndian.PutUint64(buf[i*8:], v)
	}
	return &models.SignatureWire{
		Type:       models.SignatureWireType,
		NumPerm:    len(m.hashValues),
		HashValues: base64.StdEncoding.EncodeToString(buf),
	}
}

// Decode parses a persisted signature.
func Decode(w *models.SignatureWire) (*MinHash, error) {
	if w == nil {
		return nil, fmt.Errorf("signature is missing")
	}
	if w.Type != models.SignatureWireType {
		return nil, fmt.Errorf("unsupported signature type %q", w.Type)
	}
	buf, err := base64.StdEncoding.DecodeString(w.HashValues)
	if err != nil {
		return nil, fmt.Errorf("decode hash values: %w", err)
	}
	if w.NumPerm <= 0 || len(buf) != 8*w.NumPerm {
		return nil, fmt.Errorf("signature declares %d permutations but carries %d bytes", w.NumPerm, len(buf))
	}
	hv := make([]uint64, w.NumPerm)
	for i := range hv {
		hv[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}
	return &MinHash{hashValues: hv}, nil
}
