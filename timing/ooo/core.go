package ooo

import (
	"github.com/sarchlab/m2sim/timing/cache"
	"github.com/sarchlab/m2sim/timing/latency"
	"github.com/sarchlab/m2sim/timing/pipeline"
)

// Status is the OoO core's run state, mirroring the in-order pipeline's
// halted/running distinction but adding the switching/idle pair a context
// switch needs to drain in flight before it is safe to redirect the PC.
type Status uint8

// Core statuses.
const (
	StatusRunning Status = iota
	StatusSwitching
	StatusIdle
	StatusHalted
)

// Context is the state a context switch installs: the new PC to resume
// from once the core drains to idle.
type Context struct {
	PC uint64
}

// Core orchestrates every OoO unit through the fixed per-cycle tick order:
// writeback, fetch, decode, rename, dispatch/issue, execution, LSQ, then
// commit, buffer advance, and flush resolution. It lives beside
// timing/core.Core and timing/pipeline.Pipeline as the engine
// Simulation-Mode "outoforder" selects.
type Core struct {
	cfg *Config

	regs       *RegisterFileSet
	rat        *RegisterAliasTable
	rob        *ReorderBuffer
	scoreboard *Scoreboard
	depMatrix  *DependencyMatrix
	allocator  PortAllocator

	mmu   *MMU
	dcache *dataCache
	lsq   *LoadStoreQueue

	fetch  *FetchUnit
	decode *DecodeUnit
	rename *RenameUnit
	issue  *DispatchIssueUnit
	exec   []*ExecutionUnit
	wb     *WritebackUnit

	arch Architecture

	fetchWords *PipelineBuffer[uint32]
	fetchAddrs *PipelineBuffer[uint64]
	decoded    *PipelineBuffer[*Instruction]
	renamed    *PipelineBuffer[*Instruction]
	portBufs   []*PipelineBuffer[*Instruction]
	doneBufs   []*PipelineBuffer[*Instruction]

	status        Status
	pendingSwitch *Context

	exceptionHandler ExceptionHandler
	pendingException *Instruction

	stats Stats
}

// CoreOption configures a Core at construction time, mirroring the
// in-order pipeline's functional-options style.
type CoreOption func(*Core)

// WithExceptionHandler installs the handler invoked once a raised
// exception reaches the head of the ROB.
func WithExceptionHandler(h ExceptionHandler) CoreOption {
	return func(c *Core) { c.exceptionHandler = h }
}

// WithArchitecture overrides the default ALU/branch execution semantics.
func WithArchitecture(a Architecture) CoreOption {
	return func(c *Core) { c.arch = a }
}

// WithPageTable overrides the MMU's default identity page table.
func WithPageTable(pt PageTable) CoreOption {
	return func(c *Core) {
		c.mmu.pt = pt
	}
}

// CoreMemory is the narrow memory contract NewCore needs: fetch reads
// (MemoryReader) and the MMU's backing store (MemoryBacking). emu.Memory
// satisfies both directly; NewCore places its own L1 data cache between
// the MMU and that memory.
type CoreMemory interface {
	MemoryReader
	MemoryBacking
}

// NewCore wires a complete OoO core over cfg, the given memory backing,
// and a branch predictor (timing/pipeline.BranchPredictor, reused
// unmodified from the in-order pipeline). latencyTable may be nil, in
// which case a default timing/latency.Table is used.
func NewCore(cfg *Config, memory CoreMemory, predictor *pipeline.BranchPredictor, latencyTable *latency.Table, opts ...CoreOption) *Core {
	c := &Core{cfg: cfg}

	c.regs = NewRegisterFileSet(cfg)
	c.rat = NewRegisterAliasTable(cfg)
	c.rob = NewReorderBuffer(cfg)
	c.scoreboard = NewScoreboard(cfg)
	c.depMatrix = NewDependencyMatrix()
	c.allocator = NewPortAllocator(cfg.NumPorts)
	c.dcache = newDataCache(cache.DefaultL1DConfig(), memory)
	c.mmu = NewMMU(cfg, IdentityPageTable{}, c.dcache)
	c.lsq = NewLoadStoreQueue(cfg, c.mmu)
	c.arch = NewArchitecture()

	words := int(cfg.FetchBlockSize / 4)
	if words < 1 {
		words = 1
	}
	c.fetchWords = NewPipelineBuffer[uint32](words)
	c.fetchAddrs = NewPipelineBuffer[uint64](words)
	c.decoded = NewPipelineBuffer[*Instruction](words)
	c.renamed = NewPipelineBuffer[*Instruction](words)

	c.portBufs = make([]*PipelineBuffer[*Instruction], cfg.NumPorts)
	c.doneBufs = make([]*PipelineBuffer[*Instruction], cfg.NumPorts)
	c.exec = make([]*ExecutionUnit, cfg.NumPorts)
	for p := 0; p < cfg.NumPorts; p++ {
		c.portBufs[p] = NewPipelineBuffer[*Instruction](1)
		c.doneBufs[p] = NewPipelineBuffer[*Instruction](1)
		c.exec[p] = NewExecutionUnit(true, 1, c.lsq, c.portBufs[p], c.doneBufs[p])
	}

	c.fetch = NewFetchUnit(cfg, memory, c.fetchWords, c.fetchAddrs)
	c.rob.SetLoopBoundaryHandler(c.fetch.ReceiveLoopBoundary)

	c.issue = NewDispatchIssueUnit(cfg, c.regs, c.scoreboard, c.depMatrix, c.allocator, c.renamed, c.portBufs)
	c.rename = NewRenameUnit(c.rat, c.rob, c.lsq, c.decoded, c.renamed)

	c.lsq.Execute = c.arch.Execute
	c.lsq.ForwardResult = func(insn *Instruction) {
		for i, dest := range insn.PhysDests {
			if i < len(insn.Results) {
				c.issue.Forward(dest, insn.Results[i], insn.Group)
			}
		}
	}

	allBufs := append(append([]*PipelineBuffer[*Instruction]{}, c.doneBufs...), c.lsq.CompletionBuffer())
	c.wb = NewWritebackUnit(c.regs, c.issue, allBufs)

	if latencyTable == nil {
		latencyTable = latency.NewTable()
	}
	c.decode = NewDecodeUnit(predictor, NewTableLatencyLookup(latencyTable, cfg.NumPorts), c.fetchWords, c.fetchAddrs, c.decoded)

	for _, o := range opts {
		o(c)
	}

	return c
}

// Halted reports whether the core has reached a terminal stop (an
// unhandled fatal exception).
func (c *Core) Halted() bool { return c.status == StatusHalted }

// Status reports the core's current run state.
func (c *Core) Status() Status { return c.status }

// Stats returns the core's statistics snapshot as of the last Tick,
// folding in the L1 data cache's cumulative hit/miss counters, the
// rename and dispatch/issue stall taxonomy, and branch outcome counts
// accumulated across every execution port.
func (c *Core) Stats() Stats {
	s := c.stats
	cs := c.dcache.Stats()
	s.CacheHits = cs.Hits
	s.CacheMisses = cs.Misses

	s.ROBStalls = c.rename.RobStalls
	s.LSQStalls = c.rename.LSQStalls
	s.RSStalls = c.issue.Stats.RSStalls
	s.PortBusyStalls = c.issue.Stats.PortBusyStalls
	s.FrontendStalls = c.issue.Stats.FrontendStalls
	s.BackendStalls = c.issue.Stats.BackendStalls

	for _, eu := range c.exec {
		s.BranchExecuted += eu.BranchesExecuted
		s.BranchMispredicts += eu.BranchMispredicts
	}
	return s
}

// ReadArch reads an architectural register through its current RAT
// mapping, satisfying RegisterAccess for the exception handler.
func (c *Core) ReadArch(r Register) RegisterValue {
	return c.regs.Read(c.rat.GetMapping(r))
}

// WriteArch installs v as the architectural register's value by writing
// through its current physical mapping, satisfying RegisterAccess.
func (c *Core) WriteArch(r Register, v RegisterValue) {
	c.regs.Write(c.rat.GetMapping(r), v)
}

// RAT and LSQ satisfy CommitSink for ReorderBuffer.Commit.
func (c *Core) RAT() *RegisterAliasTable { return c.rat }
func (c *Core) LSQ() *LoadStoreQueue     { return c.lsq }

// SetPC sets the initial fetch address directly, bypassing the
// drain-then-redirect machinery Schedule uses for a live context switch.
// Intended for setup before the first Tick.
func (c *Core) SetPC(pc uint64) {
	c.fetch.SetPC(pc)
}

// Schedule requests a context switch: the core drains in flight, then
// resumes fetch from ctx.PC.
func (c *Core) Schedule(ctx Context) {
	c.pendingSwitch = &ctx
	c.status = StatusSwitching
	c.stats.ContextSwitches++
}

// Interrupt forces the core idle immediately, discarding in-flight state.
// Used for host-level teardown, not for a graceful context switch.
func (c *Core) Interrupt() {
	c.status = StatusIdle
}

func (c *Core) allBuffersEmpty() bool {
	for _, w := range c.fetchWords.GetHead() {
		if w != 0 {
			return false
		}
	}
	for _, insn := range c.decoded.GetHead() {
		if insn != nil {
			return false
		}
	}
	for _, insn := range c.renamed.GetHead() {
		if insn != nil {
			return false
		}
	}
	for _, b := range c.portBufs {
		for _, insn := range b.GetHead() {
			if insn != nil {
				return false
			}
		}
	}
	return c.rob.Len() == 0
}

// Tick advances the core by exactly one cycle, following the fixed order:
// idle/halted short-circuit, pending-exception short-circuit, writeback
// through LSQ in declared order, commit, buffer advance, flush resolution,
// then fetch. While StatusSwitching every stage above still ticks so
// in-flight instructions can drain normally; only the final fetch of new
// instructions is withheld until the pipeline and MMU are empty, at which
// point the core parks at StatusIdle to await its pending switch.
func (c *Core) Tick() {
	c.stats.Cycles++

	if c.status == StatusIdle || c.status == StatusHalted {
		c.stats.IdleTicks++
		if c.status == StatusIdle && c.pendingSwitch != nil {
			c.fetch.SetPC(c.pendingSwitch.PC)
			c.pendingSwitch = nil
			c.status = StatusRunning
			c.fetch.RequestFromPC()
		}
		return
	}
	if c.pendingException != nil {
		c.processException()
		return
	}

	c.wb.Tick()
	c.decode.Tick()
	c.rename.Tick()
	c.issue.Tick()
	for _, eu := range c.exec {
		eu.Tick()
	}
	c.lsq.Tick()

	c.rob.Commit(c.cfg.MaxCommitWidth, c)
	c.stats.Retired = c.rob.Retired()

	c.fetchWords.Tick()
	c.fetchAddrs.Tick()
	c.decoded.Tick()
	c.renamed.Tick()
	for _, b := range c.portBufs {
		b.Tick()
	}
	for _, b := range c.doneBufs {
		b.Tick()
	}

	if exc := c.rob.PendingException(); exc != nil {
		c.rob.ClearPendingException()
		c.pendingException = exc
		if c.exceptionHandler != nil {
			c.processException()
			return
		}
	}

	c.resolveFlush()

	if c.status == StatusSwitching {
		if c.allBuffersEmpty() && !c.mmu.HasPendingRequests() && c.pendingException == nil {
			c.fetchWords.Fill(0)
			c.fetchAddrs.Fill(0)
			c.decoded.Fill(nil)
			c.status = StatusIdle
		}
		return
	}

	c.fetch.RequestFromPC()
}

// resolveFlush picks the globally-oldest of an execution-unit
// misprediction, an LSQ memory-order violation, and a decode-stage
// redirect, and applies it: flushing the ROB/RAT/LSQ/dispatch state
// younger than the surviving instruction and redirecting fetch.
func (c *Core) resolveFlush() {
	var (
		haveFlush bool
		afterID   uint64
		targetPC  uint64
	)

	for _, eu := range c.exec {
		if !eu.ShouldFlush() {
			continue
		}
		id := eu.FlushInsnID()
		if !haveFlush || id < afterID {
			haveFlush = true
			afterID = id
			targetPC = eu.FlushAddress()
		}
	}

	if c.rob.ShouldFlush() {
		robAfter, robPC := c.rob.FlushTarget()
		if !haveFlush || robAfter < afterID {
			haveFlush = true
			afterID = robAfter
			targetPC = robPC
		}
		c.rob.ClearFlushSignal()
		c.stats.LoadViolations++
	}

	if !haveFlush {
		return
	}

	c.stats.Flushes++
	c.rob.Flush(afterID, c.rat)
	c.issue.PurgeFlushed()
	c.lsq.PurgeFlushed()
	for _, eu := range c.exec {
		eu.PurgeFlushed()
	}
	c.rob.ResetLoopTrackerOnMispredict()

	c.fetch.SetPC(targetPC)
	c.fetchWords.Fill(0)
	c.fetchAddrs.Fill(0)
	c.decoded.Fill(nil)
	c.renamed.Fill(nil)
}

// processException asks the installed ExceptionHandler to resolve the
// pending exception, only once it is the oldest instruction in flight
// (checked by the caller via ROB ordering), and applies the result.
func (c *Core) processException() {
	if c.exceptionHandler == nil {
		c.status = StatusHalted
		return
	}

	insn := c.pendingException
	result := c.exceptionHandler.Handle(insn.ExceptionKind, insn, c, c.mmu)
	c.pendingException = nil

	if result.Fatal {
		c.status = StatusHalted
		return
	}
	if result.ContextSwitch {
		c.Schedule(Context{PC: result.NewPC})
		return
	}

	c.fetch.SetPC(result.NewPC)
	c.fetchWords.Fill(0)
	c.fetchAddrs.Fill(0)
	c.decoded.Fill(nil)
	c.renamed.Fill(nil)
	c.fetch.RequestFromPC()
}

// Run ticks the core until it halts, returning the number of cycles
// executed.
func (c *Core) Run(maxCycles uint64) uint64 {
	var n uint64
	for !c.Halted() && n < maxCycles {
		c.Tick()
		n++
	}
	return n
}
