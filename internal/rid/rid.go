// Package rid generates the short request identifiers echoed in trace
// output and response bodies.
package rid

import (
	"errors"
	"math/rand/v2"
	"sync"
)

// Alphabet is the symbol set ids are drawn from. Every symbol is safe in
// header values and JSON strings without escaping.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Length is the fixed number of symbols in every id.
const Length = 4

// Space is the number of distinct ids a Scheme can produce.
const Space = 62 * 62 * 62 * 62

var ErrOutOfRange = errors.New("rid: value outside encodable range")

// Generator produces request ids. Implementations must be safe for
// concurrent use.
type Generator interface {
	Generate() string
}

// Scheme maps integers in [0, Space) onto fixed-length ids. The mapping is a
// bijection built from a seeded alphabet shuffle and an affine scramble, so
// consecutive inputs do not produce visibly related ids.
//
// A Scheme is read-only after construction.
type Scheme struct {
	alphabet [len(Alphabet)]byte
	mul      uint64
	add      uint64
}

func NewScheme(seed uint64) *Scheme {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	s := &Scheme{}
	copy(s.alphabet[:], Alphabet)
	r.Shuffle(len(s.alphabet), func(i, j int) {
		s.alphabet[i], s.alphabet[j] = s.alphabet[j], s.alphabet[i]
	})

	// mul must be coprime with Space (2^4 * 31^4) for the scramble to be a
	// bijection: odd and not a multiple of 31.
	for {
		m := r.Uint64N(Space)
		if m%2 == 1 && m%31 != 0 {
			s.mul = m
			break
		}
	}
	s.add = r.Uint64N(Space)
	return s
}

// Encode returns the id for n. n must be below Space.
func (s *Scheme) Encode(n uint64) (string, error) {
	if n >= Space {
		return "", ErrOutOfRange
	}
	x := (n*s.mul + s.add) % Space

	var out [Length]byte
	for i := Length - 1; i >= 0; i-- {
		out[i] = s.alphabet[x%uint64(len(s.alphabet))]
		x /= uint64(len(s.alphabet))
	}
	return string(out[:]), nil
}

// Generate encodes a fresh random value. An encoding failure means the
// scheme itself is broken, so it panics rather than returning an error.
func (s *Scheme) Generate() string {
	id, err := s.Encode(rand.Uint64N(Space))
	if err != nil {
		panic("rid: generate: " + err.Error())
	}
	return id
}

var defaultScheme = sync.OnceValue(func() *Scheme {
	return NewScheme(rand.Uint64())
})

// Default returns the process-wide scheme, seeding it on first use.
func Default() *Scheme {
	return defaultScheme()
}
