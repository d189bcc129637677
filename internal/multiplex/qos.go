package multiplex

import (
	"sync/atomic"

	"github.com/juju/ratelimit"
)

const unlimitedRate = 1<<63 - 1

// Valve throttles and counts the bytes crossing a session's transport. A Valve may be shared by several
// sessions so that a rate limit applies to all of them together.
// rx is what we receive from the remote, tx is what we send to it.
type Valve struct {
	rxtb atomic.Value // *ratelimit.Bucket
	txtb atomic.Value // *ratelimit.Bucket

	rx int64
	tx int64
}

// MakeValve makes a Valve with rates in bytes per second
func MakeValve(rxRate, txRate int64) *Valve {
	v := &Valve{}
	v.SetRxRate(rxRate)
	v.SetTxRate(txRate)
	return v
}

func (v *Valve) SetRxRate(rate int64) { v.rxtb.Store(ratelimit.NewBucketWithRate(float64(rate), rate)) }
func (v *Valve) SetTxRate(rate int64) { v.txtb.Store(ratelimit.NewBucketWithRate(float64(rate), rate)) }
func (v *Valve) rxWait(n int)         { v.rxtb.Load().(*ratelimit.Bucket).Wait(int64(n)) }
func (v *Valve) txWait(n int)         { v.txtb.Load().(*ratelimit.Bucket).Wait(int64(n)) }
func (v *Valve) AddRx(n int64)        { atomic.AddInt64(&v.rx, n) }
func (v *Valve) AddTx(n int64)        { atomic.AddInt64(&v.tx, n) }
func (v *Valve) GetRx() int64         { return atomic.LoadInt64(&v.rx) }
func (v *Valve) GetTx() int64         { return atomic.LoadInt64(&v.tx) }

// Nullify resets both counters and returns what they were
func (v *Valve) Nullify() (int64, int64) {
	rx := atomic.SwapInt64(&v.rx, 0)
	tx := atomic.SwapInt64(&v.tx, 0)
	return rx, tx
}
