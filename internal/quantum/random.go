package quantum

import "math/rand/v2"

// BitSource yields measurement outcomes. Implementations must return 0 or 1.
type BitSource interface {
	Bit() int
}

type randomBits struct{}

func (randomBits) Bit() int {
	return rand.IntN(2)
}

// BitFunc adapts a function into a BitSource.
type BitFunc func() int

func (f BitFunc) Bit() int {
	return f() & 1
}
