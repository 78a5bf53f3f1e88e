package vm

import (
	"encoding/binary"
	"time"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// GC: mark-and-sweep collector over the object heap
// ---------------------------------------------------------------------------

// GCStats holds statistics from a single collection cycle.
type GCStats struct {
	Cycle    uint8
	Roots    int
	Swept    int
	Live     int
	Duration time.Duration
}

// GC is the tracing collector. Collections run only when requested (the
// std::memory::gc native); there is no allocation threshold.
//
// Roots are the constant pool's string objects plus every reference found in
// the live frames' operand and locals windows. The window scan is
// conservative at byte granularity: any qword whose value equals the address
// of a tracked object keeps it. That can over-retain a coincidental integer,
// never free a live object.
type GC struct {
	heap      *Heap
	strings   *StringsHeap
	stack     *CallStack
	pool      *ConstantPool
	cycle     uint8
	lastRoots int
	log       commonlog.Logger
}

// NewGC wires a collector over the runtime's memory spaces.
func NewGC(heap *Heap, strings *StringsHeap, stack *CallStack, pool *ConstantPool) *GC {
	return &GC{
		heap:    heap,
		strings: strings,
		stack:   stack,
		pool:    pool,
	}
}

// SetLogger enables the per-cycle debug trace.
func (g *GC) SetLogger(log commonlog.Logger) {
	g.log = log
}

// Run performs one mark-and-sweep cycle and returns its statistics.
func (g *GC) Run() GCStats {
	start := time.Now()
	g.cycle++

	roots := make([]*Obj, 0, g.lastRoots)
	roots = append(roots, g.pool.constants()...)
	roots = g.scanFrames(roots)
	g.lastRoots = len(roots)

	g.markAll(roots)
	swept := g.sweep()

	stats := GCStats{
		Cycle:    g.cycle,
		Roots:    len(roots),
		Swept:    swept,
		Live:     g.heap.Size(),
		Duration: time.Since(start),
	}
	if g.log != nil {
		g.log.Debugf("gc cycle %d: %d roots, %d swept, %d live, %s",
			stats.Cycle, stats.Roots, stats.Swept, stats.Live, stats.Duration)
	}
	return stats
}

// scanFrames collects roots from every live frame's operand stack and locals.
func (g *GC) scanFrames(roots []*Obj) []*Obj {
	for _, frame := range g.stack.liveFrames() {
		roots = g.scanWindow(frame.Locals.window(), roots)
		roots = g.scanWindow(frame.Operands.window(), roots)
	}
	return roots
}

func (g *GC) scanWindow(window []byte, roots []*Obj) []*Obj {
	for off := 0; off+8 <= len(window); off++ {
		addr := binary.NativeEndian.Uint64(window[off:])
		if o, ok := g.heap.Lookup(addr); ok {
			roots = append(roots, o)
		}
	}
	return roots
}

// markAll marks the roots and everything transitively reachable from them.
// The work list tolerates cycles: an object already marked this cycle is
// not visited again.
func (g *GC) markAll(roots []*Obj) {
	toVisit := roots
	for len(toVisit) > 0 {
		o := toVisit[len(toVisit)-1]
		toVisit = toVisit[:len(toVisit)-1]
		if o.mark == g.cycle {
			continue
		}
		o.mark = g.cycle
		if o.kind == ObjVec {
			for _, elem := range o.vec {
				if elem != nil {
					toVisit = append(toVisit, elem)
				}
			}
		}
	}
}

// sweep drops every object not marked this cycle and returns how many were
// removed. Swept strings are also evicted from the intern index.
func (g *GC) sweep() int {
	swept := 0
	for addr, o := range g.heap.objects {
		if o.mark == g.cycle {
			continue
		}
		g.strings.evict(o)
		delete(g.heap.objects, addr)
		swept++
	}
	return swept
}
