package ooo

import "sort"

// memRange is the byte range touched by one instruction, built from its
// generated MemAddrs, used for store/load overlap checks.
type memRange struct {
	lo, hi uint64 // [lo, hi)
}

func rangesOf(insn *Instruction) []memRange {
	ranges := make([]memRange, 0, len(insn.MemAddrs))
	for _, ma := range insn.MemAddrs {
		ranges = append(ranges, memRange{lo: ma.Addr, hi: ma.Addr + uint64(ma.Size)})
	}
	return ranges
}

func overlaps(a, b *Instruction) bool {
	for _, ra := range rangesOf(a) {
		for _, rb := range rangesOf(b) {
			if ra.lo < rb.hi && rb.lo < ra.hi {
				return true
			}
		}
	}
	return false
}

// scheduledRequest is one entry in the due-cycle request queues.
type scheduledRequest struct {
	due  uint64
	insn *Instruction
}

// completionSlot is one entry in the completion-order FIFO. In INORDER
// mode it is reserved (insn == nil, ready == false) at start time and
// filled in later; in OUTOFORDER mode it is only ever appended once ready.
type completionSlot struct {
	insn  *Instruction
	ready bool
}

// LoadStoreQueue orders in-flight loads and stores, detects store->load
// memory-order violations, and forwards completed accesses into the
// writeback path.
type LoadStoreQueue struct {
	cfg *Config
	mmu *MMU

	loadQueue  []*Instruction // program order
	storeQueue []*Instruction // program order

	requestedLoads  map[uint64]*Instruction // sequenceID -> insn, in flight
	conflictionMap  map[uint64][]*Instruction

	requestLoadQueue  []scheduledRequest
	requestStoreQueue []scheduledRequest

	completionQueue []completionSlot
	completionBuf   *PipelineBuffer[*Instruction]

	cycle         uint64
	violatingLoad *Instruction

	// ForwardResult is called for every instruction delivered out of the
	// completion path, so dispatch/issue can wake dependents (§4.4
	// forwarding-on-writeback).
	ForwardResult func(insn *Instruction)
	// Execute performs the instruction's functional semantics once all of
	// its operand/memory data is available (the "insn.execute()" call of
	// §4.8); wired by Core to the Architecture/emu adapter.
	Execute func(insn *Instruction)
}

// NewLoadStoreQueue builds an LSQ sized per cfg.
func NewLoadStoreQueue(cfg *Config, mmu *MMU) *LoadStoreQueue {
	return &LoadStoreQueue{
		cfg:            cfg,
		mmu:            mmu,
		requestedLoads: make(map[uint64]*Instruction),
		conflictionMap: make(map[uint64][]*Instruction),
		completionBuf:  NewPipelineBuffer[*Instruction](cfg.LSQCompletionSlots),
	}
}

// LoadSpace and StoreSpace report free queue capacity for RenameUnit's
// admission check.
func (lsq *LoadStoreQueue) LoadSpace() int {
	if lsq.cfg.LSQMode == LSQCombined {
		return lsq.cfg.LoadQueueSize - len(lsq.loadQueue) - len(lsq.storeQueue)
	}
	return lsq.cfg.LoadQueueSize - len(lsq.loadQueue)
}

// StoreSpace reports free store-queue capacity.
func (lsq *LoadStoreQueue) StoreSpace() int {
	if lsq.cfg.LSQMode == LSQCombined {
		return lsq.cfg.StoreQueueSize - len(lsq.loadQueue) - len(lsq.storeQueue)
	}
	return lsq.cfg.StoreQueueSize - len(lsq.storeQueue)
}

// EnqueueLoad / EnqueueStore insert a renamed memory op into program-order
// queue position. Called from RenameUnit once admission has been checked.
func (lsq *LoadStoreQueue) EnqueueLoad(insn *Instruction) {
	insn.Retain()
	lsq.loadQueue = append(lsq.loadQueue, insn)
}

// EnqueueStore inserts a renamed store into the store queue.
func (lsq *LoadStoreQueue) EnqueueStore(insn *Instruction) {
	insn.Retain()
	lsq.storeQueue = append(lsq.storeQueue, insn)
}

// StartLoad is called when a load is issued/executed: it either executes
// immediately (no generated address yet), blocks on an older overlapping
// store, or schedules a memory request.
func (lsq *LoadStoreQueue) StartLoad(insn *Instruction) {
	if len(insn.MemAddrs) == 0 {
		if lsq.Execute != nil {
			lsq.Execute(insn)
		}
		lsq.pushCompletion(insn)
		return
	}

	for _, s := range lsq.storeQueue {
		if s.SequenceID >= insn.SequenceID {
			continue
		}
		if overlaps(s, insn) {
			lsq.conflictionMap[s.SequenceID] = append(lsq.conflictionMap[s.SequenceID], insn)
			return
		}
	}

	due := lsq.cycle + lsq.cfg.LSQLatency
	lsq.requestLoadQueue = append(lsq.requestLoadQueue, scheduledRequest{due: due, insn: insn})
	lsq.requestedLoads[insn.SequenceID] = insn

	if lsq.cfg.CompletionOrder == CompletionInOrder {
		lsq.completionQueue = append(lsq.completionQueue, completionSlot{})
	}
}

// StartStore is called when a store-address uop issues: it queues the
// store's memory request for this cycle.
func (lsq *LoadStoreQueue) StartStore(insn *Instruction) {
	lsq.requestStoreQueue = append(lsq.requestStoreQueue, scheduledRequest{due: lsq.cycle, insn: insn})
}

// SupplyStoreData attaches data produced by a store-data micro-op to the
// matching store-queue entry, located by (InstructionID, MicroOpIndex).
func (lsq *LoadStoreQueue) SupplyStoreData(instructionID uint64, microOpIndex int, data RegisterValue) {
	for _, s := range lsq.storeQueue {
		if s.InstructionID == instructionID && s.MicroOpIndex == microOpIndex {
			s.MemData = append(s.MemData, data)
			return
		}
	}
}

// CommitStore asserts uop is at the store-queue head, scans all in-flight
// loads for a memory-order violation, resolves loads that were blocked on
// this store's address, and pops the store queue. It returns true if a
// violation was found (ShouldFlush-equivalent signal consumed by the
// ROB).
func (lsq *LoadStoreQueue) CommitStore(uop *Instruction) bool {
	if len(lsq.storeQueue) == 0 || lsq.storeQueue[0].SequenceID != uop.SequenceID {
		panic("ooo: CommitStore called on a uop that is not at the store-queue head")
	}

	lsq.violatingLoad = nil
	for _, l := range lsq.requestedLoads {
		if l.SequenceID <= uop.SequenceID {
			continue
		}
		if !overlaps(uop, l) {
			continue
		}
		if lsq.violatingLoad == nil || l.SequenceID < lsq.violatingLoad.SequenceID {
			lsq.violatingLoad = l
		}
	}

	if blocked, ok := lsq.conflictionMap[uop.SequenceID]; ok {
		due := lsq.cycle + 1 + lsq.cfg.LSQLatency
		for _, l := range blocked {
			lsq.requestLoadQueue = append(lsq.requestLoadQueue, scheduledRequest{due: due, insn: l})
			lsq.requestedLoads[l.SequenceID] = l
		}
		delete(lsq.conflictionMap, uop.SequenceID)
	}

	lsq.storeQueue = lsq.storeQueue[1:]
	uop.Release()

	return lsq.violatingLoad != nil
}

// CompletionBuffer returns the pipeline buffer WritebackUnit drains
// completed memory accesses from.
func (lsq *LoadStoreQueue) CompletionBuffer() *PipelineBuffer[*Instruction] {
	return lsq.completionBuf
}

// CommitLoad removes a committed load from the in-flight load queue and
// from requestedLoads, where it stays visible to CommitStore's overlap
// scan until retirement even after its data has arrived (§4.8, P4).
func (lsq *LoadStoreQueue) CommitLoad(uop *Instruction) {
	delete(lsq.requestedLoads, uop.SequenceID)
	for i, l := range lsq.loadQueue {
		if l.SequenceID == uop.SequenceID {
			lsq.loadQueue = append(lsq.loadQueue[:i], lsq.loadQueue[i+1:]...)
			l.Release()
			return
		}
	}
}

// Tick advances the LSQ one cycle: it dispatches due requests to the MMU
// (earliest-scheduled first, stores winning ties per the Open Questions
// tie-break), drains MMU completions, and delivers ready instructions
// through the completion buffer in program order (INORDER) or arrival
// order (OUTOFORDER).
func (lsq *LoadStoreQueue) Tick() {
	lsq.cycle++

	lsq.dispatchDue()
	lsq.mmu.Tick()

	for _, insn := range lsq.mmu.CompletedLoads() {
		if lsq.Execute != nil {
			lsq.Execute(insn)
		}
		lsq.resolveCompletion(insn)
	}
	for _, insn := range lsq.mmu.CompletedStores() {
		if insn.IsStoreCond {
			lsq.resolveCompletion(insn)
		}
	}

	lsq.drainCompletions()
	lsq.completionBuf.Tick()
}

// dispatchDue sends every request whose due cycle has arrived to the MMU,
// interleaving loads and stores by due cycle (stores win ties). Requests
// the MMU refuses stay queued and are retried next cycle; a refusal on
// one type never blocks the other.
func (lsq *LoadStoreQueue) dispatchDue() {
	type item struct {
		req     scheduledRequest
		isStore bool
	}
	var items []item
	for _, r := range lsq.requestLoadQueue {
		if r.due <= lsq.cycle {
			items = append(items, item{req: r, isStore: false})
		}
	}
	for _, r := range lsq.requestStoreQueue {
		if r.due <= lsq.cycle {
			items = append(items, item{req: r, isStore: true})
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].req.due != items[j].req.due {
			return items[i].req.due < items[j].req.due
		}
		return items[i].isStore && !items[j].isStore
	})

	stillLoad := lsq.requestLoadQueue[:0]
	stillStore := lsq.requestStoreQueue[:0]
	admitted := make(map[*Instruction]bool)

	for _, it := range items {
		var ok bool
		if it.isStore {
			ok = lsq.mmu.RequestWrite(it.req.insn, forwardedWriteData(it.req.insn))
		} else {
			ok = lsq.mmu.RequestRead(it.req.insn)
		}
		if ok {
			admitted[it.req.insn] = true
		}
	}

	for _, r := range lsq.requestLoadQueue {
		if r.due <= lsq.cycle && admitted[r.insn] {
			continue
		}
		stillLoad = append(stillLoad, r)
	}
	for _, r := range lsq.requestStoreQueue {
		if r.due <= lsq.cycle && admitted[r.insn] {
			continue
		}
		stillStore = append(stillStore, r)
	}
	lsq.requestLoadQueue = stillLoad
	lsq.requestStoreQueue = stillStore
}

func forwardedWriteData(insn *Instruction) [][]byte {
	out := make([][]byte, len(insn.MemData))
	for i, d := range insn.MemData {
		out[i] = d.Bytes()
	}
	return out
}

// pushCompletion appends a ready instruction directly (used by the
// no-generated-address immediate-execute path).
func (lsq *LoadStoreQueue) pushCompletion(insn *Instruction) {
	lsq.completionQueue = append(lsq.completionQueue, completionSlot{insn: insn, ready: true})
}

// resolveCompletion marks a reserved (INORDER) slot ready, or appends a
// fresh ready slot (OUTOFORDER).
func (lsq *LoadStoreQueue) resolveCompletion(insn *Instruction) {
	if lsq.cfg.CompletionOrder == CompletionInOrder {
		for i := range lsq.completionQueue {
			if lsq.completionQueue[i].insn == nil && !lsq.completionQueue[i].ready {
				lsq.completionQueue[i] = completionSlot{insn: insn, ready: true}
				return
			}
		}
		lsq.completionQueue = append(lsq.completionQueue, completionSlot{insn: insn, ready: true})
		return
	}
	lsq.completionQueue = append(lsq.completionQueue, completionSlot{insn: insn, ready: true})
}

// drainCompletions moves ready, front-of-queue instructions into the
// completion buffer tail, up to its width, skipping flushed entries and
// stopping at the first not-yet-ready (reserved) INORDER slot.
func (lsq *LoadStoreQueue) drainCompletions() {
	tail := lsq.completionBuf.GetTail()
	slot := 0
	for slot < len(tail) {
		tail[slot] = nil
		slot++
	}
	slot = 0

	for slot < len(tail) && len(lsq.completionQueue) > 0 {
		head := lsq.completionQueue[0]
		if !head.ready {
			break
		}
		lsq.completionQueue = lsq.completionQueue[1:]
		if head.insn.Flushed {
			continue
		}
		tail[slot] = head.insn
		slot++
		if lsq.ForwardResult != nil {
			lsq.ForwardResult(head.insn)
		}
	}
}

// PurgeFlushed removes flushed instructions from every LSQ structure.
// Store-queue entries whose Flushed flag is set also invalidate every
// load blocked on them in the confliction map.
func (lsq *LoadStoreQueue) PurgeFlushed() {
	lsq.loadQueue = filterInstructions(lsq.loadQueue)

	var keptStores []*Instruction
	for _, s := range lsq.storeQueue {
		if s.Flushed {
			delete(lsq.conflictionMap, s.SequenceID)
			continue
		}
		keptStores = append(keptStores, s)
	}
	lsq.storeQueue = keptStores

	for seq, blocked := range lsq.conflictionMap {
		lsq.conflictionMap[seq] = filterInstructions(blocked)
	}

	var keptLoadReqs []scheduledRequest
	for _, r := range lsq.requestLoadQueue {
		if r.insn.Flushed {
			delete(lsq.requestedLoads, r.insn.SequenceID)
			continue
		}
		keptLoadReqs = append(keptLoadReqs, r)
	}
	lsq.requestLoadQueue = keptLoadReqs

	var keptStoreReqs []scheduledRequest
	for _, r := range lsq.requestStoreQueue {
		if r.insn.Flushed {
			continue
		}
		keptStoreReqs = append(keptStoreReqs, r)
	}
	lsq.requestStoreQueue = keptStoreReqs

	for seq, insn := range lsq.requestedLoads {
		if insn.Flushed {
			delete(lsq.requestedLoads, seq)
		}
	}
}

func filterInstructions(in []*Instruction) []*Instruction {
	var out []*Instruction
	for _, i := range in {
		if i.Flushed {
			continue
		}
		out = append(out, i)
	}
	return out
}
