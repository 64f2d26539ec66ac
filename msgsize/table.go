package msgsize

import (
	"sync/atomic"

	"github.com/starius/msglimit/serviceconfig"
)

type methodLimits struct {
	maxSend serviceconfig.SizeCap
	maxRecv serviceconfig.SizeCap
}

// limitTable maps method paths to per-method caps. It is built once at
// channel construction, never mutated afterwards, and shared read-only by
// every call on the channel. Holders track it with an explicit reference
// count so the map is released exactly once; calls borrow it through the
// channel state without taking a reference, since their lifetime is
// strictly contained within the channel's.
type limitTable struct {
	refs    atomic.Int32
	methods map[string]methodLimits

	// onFree, when set, runs once when the last reference is released.
	onFree func()
}

// newLimitTable converts a parsed service config into a lookup table.
// Request caps become send limits and response caps become recv limits.
// The returned table carries one reference, owned by the caller.
func newLimitTable(sc *serviceconfig.Config) *limitTable {
	methods := make(map[string]methodLimits, sc.Len())
	for _, path := range sc.Paths() {
		mc, _ := sc.Method(path)
		methods[path] = methodLimits{
			maxSend: mc.MaxRequestBytes,
			maxRecv: mc.MaxResponseBytes,
		}
	}
	t := &limitTable{methods: methods}
	t.refs.Store(1)
	return t
}

func (t *limitTable) ref() {
	if t.refs.Add(1) <= 1 {
		panic("msgsize: limit table revived after free")
	}
}

func (t *limitTable) unref() {
	n := t.refs.Add(-1)
	switch {
	case n == 0:
		t.methods = nil
		if t.onFree != nil {
			t.onFree()
		}
	case n < 0:
		panic("msgsize: limit table over-released")
	}
}

// lookup is an exact string match on the full method path.
func (t *limitTable) lookup(path string) (methodLimits, bool) {
	ml, ok := t.methods[path]
	return ml, ok
}
