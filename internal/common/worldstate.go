package common

import (
	"crypto/rand"
	"io"
	"time"
)

var RealWorldState = WorldState{
	Rand: rand.Reader,
	Now:  time.Now,
}

// WorldState is the source of randomness and time for anything that needs to be deterministic
// under test
type WorldState struct {
	Rand io.Reader
	Now  func() time.Time
}

func WorldOfTime(t time.Time) WorldState {
	return WorldState{
		Rand: rand.Reader,
		Now:  func() time.Time { return t },
	}
}

// Jitter returns a duration uniformly drawn from [d/2, d)
func (ws WorldState) Jitter(d time.Duration) time.Duration {
	if d < 2 {
		return d
	}
	var b [8]byte
	RandRead(ws.Rand, b[:])
	var r uint64
	for _, x := range b {
		r = r<<8 | uint64(x)
	}
	half := uint64(d / 2)
	return time.Duration(half + r%half)
}
