package ooo

import "github.com/sarchlab/m2sim/timing/cache"

// backingAdapter presents a CoreMemory as a cache.BackingStore, bridging
// the ReadBlock/WriteBlock names this package uses to the Read/Write names
// timing/cache expects. Needed only because the two packages grew their
// memory-backing interfaces independently; the underlying contract is the
// same flat-address-space read/write.
type backingAdapter struct {
	mem MemoryBacking
}

func (b backingAdapter) Read(addr uint64, size int) []byte { return b.mem.ReadBlock(addr, size) }
func (b backingAdapter) Write(addr uint64, data []byte)    { b.mem.WriteBlock(addr, data) }

// dataCache wraps a timing/cache.Cache as the MMU's backing store, so every
// load/store the OoO engine issues goes through the same Akita-directory L1
// model the in-order pipeline's CachedMemoryStage uses, instead of
// bypassing straight to main memory. Cache.Read/Write only carry values up
// to 8 bytes (they pack into a uint64), so ReadBlock/WriteBlock split a
// cache-line-sized MMU request into 8-byte (or smaller, at the tail)
// sub-accesses.
type dataCache struct {
	c *cache.Cache
}

// newDataCache builds an L1 data cache of the given configuration over
// mem, for use as an MMU's MemoryBacking.
func newDataCache(cfg cache.Config, mem MemoryBacking) *dataCache {
	return &dataCache{c: cache.New(cfg, backingAdapter{mem: mem})}
}

// Stats returns the underlying cache's hit/miss counters, surfaced through
// Core.Stats for reporting.
func (d *dataCache) Stats() cache.Statistics { return d.c.Stats() }

func (d *dataCache) ReadBlock(addr uint64, size int) []byte {
	out := make([]byte, 0, size)
	for size > 0 {
		n := size
		if n > 8 {
			n = 8
		}
		res := d.c.Read(addr, n)
		for i := 0; i < n; i++ {
			out = append(out, byte(res.Data>>(8*i)))
		}
		addr += uint64(n)
		size -= n
	}
	return out
}

func (d *dataCache) WriteBlock(addr uint64, data []byte) {
	for len(data) > 0 {
		n := len(data)
		if n > 8 {
			n = 8
		}
		var v uint64
		for i := 0; i < n; i++ {
			v |= uint64(data[i]) << (8 * i)
		}
		d.c.Write(addr, n, v)
		addr += uint64(n)
		data = data[n:]
	}
}
