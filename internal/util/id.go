package util

import (
	"github.com/pion/randutil"
)

var mathRand = randutil.NewMathRandomGenerator()

// NewSessionID returns a random non-zero 32-bit session id. It prefers the
// crypto source and falls back to the seeded math generator.
func NewSessionID() uint32 {
	if v, err := randutil.CryptoUint64(); err == nil {
		if id := uint32(v); id != 0 {
			return id
		}
	}
	for {
		if id := mathRand.Uint32(); id != 0 {
			return id
		}
	}
}
