package ooo

// PacketKind distinguishes the four MemPacket types.
type PacketKind uint8

// Packet kinds.
const (
	PacketReadReq PacketKind = iota
	PacketWriteReq
	PacketReadResp
	PacketWriteResp
)

// FaultCode is the outcome of a translate() call.
type FaultCode uint8

// Fault codes.
const (
	FaultNone FaultCode = iota
	FaultDataAbort
	FaultPending
	FaultIgnored
)

// PageTable translates a virtual address for a given thread id. It is an
// external collaborator (§1); the OoO core ships a minimal identity
// implementation so the MMU's translate/park/resume contract is exercised
// even though no paging hardware exists yet in emu.
type PageTable interface {
	Translate(vaddr uint64, tid int) (paddr uint64, fault FaultCode)
}

// IdentityPageTable maps every virtual address to itself and never
// faults. Sufficient for flat-memory single-process simulation.
type IdentityPageTable struct{}

// Translate implements PageTable.
func (IdentityPageTable) Translate(vaddr uint64, tid int) (uint64, FaultCode) {
	return vaddr, FaultNone
}

// MemPacket is one (possibly split) memory request/response.
type MemPacket struct {
	VAddr   uint64
	PAddr   uint64
	Size    int
	Kind    PacketKind
	InsnSeq uint64
	OrderID int // per-address order within the instruction
	SplitID int // per-split index within one address

	Payload []byte

	Atomic    bool
	InstrRead bool
	Faulty    bool
	Ignored   bool
	Untimed   bool
}

// downAlign rounds addr down to the nearest multiple of width.
func downAlign(addr uint64, width uint64) uint64 {
	return addr &^ (width - 1)
}

// requestTracker tracks one in-flight instruction's outstanding memory
// packets: how many splits per address remain, and the reassembly buffer
// for reads.
type requestTracker struct {
	insn      *Instruction
	remaining int
	// responses[orderID][splitID] -> payload, present once returned.
	responses map[int]map[int][]byte
	splitsPerOrder map[int]int
	faultyAny bool
	isWrite   bool
	failed    bool
}

// MMU fragments accesses on cache-line boundaries, enforces per-cycle
// bandwidth and request limits, drives translation, and collects
// responses, wrapping timing/cache.Cache as its backing store exactly the
// way the in-order pipeline's CachedMemoryStage already does.
type MMU struct {
	cfg   *Config
	pt    PageTable
	store MemoryBacking

	requestedLoads  map[uint64]*requestTracker
	requestedStores map[uint64]*requestTracker

	pendingRequests map[uint64][]*MemPacket // vaddr -> parked packets awaiting translation

	completedInstrReads []*MemPacket

	completedLoads  []*Instruction
	completedStores []*Instruction

	loadBucket  []*MemPacket
	storeBucket []*MemPacket

	lastServed PacketKind // for Exclusive alternation
}

// MemoryBacking is the narrow read/write contract the MMU needs from the
// memory hierarchy. emu.Memory satisfies it, as does this package's
// dataCache wrapper around timing/cache.Cache.
type MemoryBacking interface {
	ReadBlock(paddr uint64, size int) []byte
	WriteBlock(paddr uint64, data []byte)
}

// NewMMU builds an MMU over the given backing store and page table.
func NewMMU(cfg *Config, pt PageTable, store MemoryBacking) *MMU {
	return &MMU{
		cfg:             cfg,
		pt:              pt,
		store:           store,
		requestedLoads:  make(map[uint64]*requestTracker),
		requestedStores: make(map[uint64]*requestTracker),
		pendingRequests: make(map[uint64][]*MemPacket),
	}
}

// HasPendingRequests reports whether any load or store is still
// outstanding, used by Core to decide when a context switch may complete.
func (m *MMU) HasPendingRequests() bool {
	return len(m.requestedLoads) > 0 || len(m.requestedStores) > 0
}

func (m *MMU) splitPackets(insn *Instruction, kind PacketKind) []*MemPacket {
	var packets []*MemPacket
	lineWidth := m.cfg.CacheLineWidth
	for order, ma := range insn.MemAddrs {
		remaining := ma.Size
		offset := uint64(0)
		split := 0
		for remaining > 0 {
			lineEnd := downAlign(ma.Addr+offset, lineWidth) + lineWidth
			chunk := int(lineEnd - (ma.Addr + offset))
			if chunk > remaining {
				chunk = remaining
			}
			p := &MemPacket{
				VAddr:   ma.Addr + offset,
				Size:    chunk,
				Kind:    kind,
				InsnSeq: insn.SequenceID,
				OrderID: order,
				SplitID: split,
				Atomic:  insn.IsLoadReserved || insn.IsStoreCond,
			}
			packets = append(packets, p)
			offset += uint64(chunk)
			remaining -= chunk
			split++
		}
	}
	return packets
}

// RequestRead admits a load's memory request. Returns false (admission
// denied) if any configured cap would be violated; the caller must retry
// on a later cycle.
func (m *MMU) RequestRead(insn *Instruction) bool {
	if !m.admit(isLoadKind) {
		return false
	}
	packets := m.splitPackets(insn, PacketReadReq)
	tracker := &requestTracker{
		insn:           insn,
		remaining:      len(packets),
		responses:      make(map[int]map[int][]byte),
		splitsPerOrder: make(map[int]int),
	}
	for _, p := range packets {
		tracker.splitsPerOrder[p.OrderID]++
	}
	m.requestedLoads[insn.SequenceID] = tracker
	m.loadBucket = append(m.loadBucket, packets...)
	return true
}

// RequestWrite admits a store's memory request.
func (m *MMU) RequestWrite(insn *Instruction, data [][]byte) bool {
	if !m.admit(isStoreKind) {
		return false
	}
	packets := m.splitPackets(insn, PacketWriteReq)
	consumed := make(map[int]int, len(data))
	for _, p := range packets {
		if p.OrderID >= len(data) {
			continue
		}
		off := consumed[p.OrderID]
		src := data[p.OrderID]
		end := off + p.Size
		if end > len(src) {
			end = len(src)
		}
		p.Payload = src[off:end]
		consumed[p.OrderID] = end
	}
	tracker := &requestTracker{insn: insn, remaining: len(packets), isWrite: true}
	m.requestedStores[insn.SequenceID] = tracker
	m.storeBucket = append(m.storeBucket, packets...)
	return true
}

type kindSelector uint8

const (
	isLoadKind kindSelector = iota
	isStoreKind
)

// admit applies the bandwidth/request-limit admission control of §4.9.
func (m *MMU) admit(kind kindSelector) bool {
	if m.cfg.ExclusiveRequests {
		if kind == isLoadKind && len(m.requestedStores) > 0 {
			return false
		}
		if kind == isStoreKind && len(m.requestedLoads) > 0 {
			return false
		}
	}
	total := len(m.requestedLoads) + len(m.requestedStores)
	if total >= m.cfg.RequestLimit {
		return false
	}
	if kind == isLoadKind && len(m.requestedLoads) >= m.cfg.LoadRequestLimit {
		return false
	}
	if kind == isStoreKind && len(m.requestedStores) >= m.cfg.StoreRequestLimit {
		return false
	}
	return true
}

// Tick issues queued packets under the per-cycle bandwidth caps, serving
// stores before loads (or alternating by holder when Exclusive), and
// resolves completed instructions.
func (m *MMU) Tick() {
	m.completedLoads = nil
	m.completedStores = nil

	order := []struct {
		bucket    *[]*MemPacket
		bandwidth uint64
		kind      PacketKind
	}{
		{&m.storeBucket, m.cfg.StoreBandwidth, PacketWriteReq},
		{&m.loadBucket, m.cfg.LoadBandwidth, PacketReadReq},
	}
	if m.cfg.ExclusiveRequests && m.lastServed == PacketReadReq {
		order[0], order[1] = order[1], order[0]
	}

	for _, o := range order {
		if m.issueBucket(o.bucket, o.bandwidth) {
			m.lastServed = o.kind
		}
	}
}

// issueBucket drains bucket under the given per-cycle byte budget and
// reports whether it issued anything, so Tick can track which kind was
// last served for Exclusive alternation.
func (m *MMU) issueBucket(bucket *[]*MemPacket, bandwidth uint64) bool {
	var used uint64
	issued := false
	remaining := (*bucket)[:0]
	for _, p := range *bucket {
		if used+uint64(p.Size) > bandwidth {
			remaining = append(remaining, p)
			continue
		}
		used += uint64(p.Size)
		m.issueRequest(p)
		issued = true
	}
	*bucket = remaining
	return issued
}

// issueRequest performs translation and, on success, the actual
// read/write against the backing store, then routes the response.
func (m *MMU) issueRequest(p *MemPacket) {
	paddr, fault := m.pt.Translate(p.VAddr, 0)
	switch fault {
	case FaultDataAbort:
		p.Faulty = true
		m.deliver(p)
		return
	case FaultPending:
		m.pendingRequests[p.VAddr] = append(m.pendingRequests[p.VAddr], p)
		return
	case FaultIgnored:
		p.Ignored = true
		m.deliver(p)
		return
	}
	p.PAddr = paddr

	if p.Kind == PacketReadReq {
		p.Payload = m.store.ReadBlock(p.PAddr, p.Size)
	} else {
		m.store.WriteBlock(p.PAddr, p.Payload)
	}
	m.deliver(p)
}

// SupplyDelayedTranslation resumes packets parked on a PENDING
// translation for vaddr.
func (m *MMU) SupplyDelayedTranslation(vaddr uint64, paddr uint64) {
	for _, p := range m.pendingRequests[vaddr] {
		p.PAddr = paddr
		if p.Kind == PacketReadReq {
			p.Payload = m.store.ReadBlock(p.PAddr, p.Size)
		} else {
			m.store.WriteBlock(p.PAddr, p.Payload)
		}
		m.deliver(p)
	}
	delete(m.pendingRequests, vaddr)
}

// deliver routes a completed packet back to its originating instruction's
// tracker, handling instruction fetches, data reads and data writes per
// §4.9.
func (m *MMU) deliver(p *MemPacket) {
	if p.InstrRead {
		m.completedInstrReads = append(m.completedInstrReads, p)
		return
	}

	if p.Kind == PacketReadReq {
		m.completeRead(p)
		return
	}
	m.completeWrite(p)
}

func (m *MMU) completeRead(p *MemPacket) {
	tracker, ok := m.requestedLoads[p.InsnSeq]
	if !ok {
		return
	}
	if tracker.responses[p.OrderID] == nil {
		tracker.responses[p.OrderID] = make(map[int][]byte)
	}
	tracker.responses[p.OrderID][p.SplitID] = p.Payload
	if p.Faulty {
		tracker.faultyAny = true
	}
	tracker.remaining--
	if tracker.remaining > 0 {
		return
	}

	for order := 0; order < len(tracker.splitsPerOrder); order++ {
		splits := tracker.responses[order]
		n := tracker.splitsPerOrder[order]
		var assembled []byte
		faulty := tracker.faultyAny
		for s := 0; s < n; s++ {
			chunk, ok := splits[s]
			if !ok {
				faulty = true
				break
			}
			assembled = append(assembled, chunk...)
		}
		if faulty {
			tracker.insn.SupplyData(order, RegisterValue{})
		} else {
			tracker.insn.SupplyData(order, BytesValue(assembled))
		}
	}
	if tracker.faultyAny {
		tracker.insn.HasException = true
		tracker.insn.ExceptionKind = ExceptionDataAbort
	}
	delete(m.requestedLoads, p.InsnSeq)
	m.completedLoads = append(m.completedLoads, tracker.insn)
}

func (m *MMU) completeWrite(p *MemPacket) {
	tracker, ok := m.requestedStores[p.InsnSeq]
	if !ok {
		return
	}
	if p.Faulty {
		tracker.failed = true
	}
	tracker.remaining--
	if tracker.remaining > 0 {
		return
	}
	if !tracker.insn.IsStoreCond {
		tracker.insn.CommitReady = true
	} else {
		tracker.insn.ActualTaken = !tracker.failed // reused as "succeeded" for store-conditional
	}
	delete(m.requestedStores, p.InsnSeq)
	m.completedStores = append(m.completedStores, tracker.insn)
}

// CompletedLoads returns (and clears on next Tick) the loads whose data
// fully arrived this cycle.
func (m *MMU) CompletedLoads() []*Instruction { return m.completedLoads }

// CompletedStores returns the stores whose writes fully completed this
// cycle.
func (m *MMU) CompletedStores() []*Instruction { return m.completedStores }

// CompletedInstrReads drains and returns instruction-fetch packets that
// completed since the last call.
func (m *MMU) CompletedInstrReads() []*MemPacket {
	out := m.completedInstrReads
	m.completedInstrReads = nil
	return out
}
