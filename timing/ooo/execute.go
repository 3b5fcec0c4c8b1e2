package ooo

// ExecutionUnit models one functional-unit port: it consumes its issue
// port's buffer and produces a result on a completion slot after the
// instruction's configured latency, gated by a throughput (stallCycles)
// floor between successive executions on a non-pipelined unit.
type ExecutionUnit struct {
	Pipelined   bool
	Throughput  uint64 // minimum cycles between successive starts

	lsq *LoadStoreQueue

	input  *PipelineBuffer[*Instruction]
	output *PipelineBuffer[*Instruction]

	inFlight    *Instruction
	remaining   uint64
	busyUntil   uint64
	now         uint64

	flushInsnID   uint64
	flushAddr     uint64
	flushPending  bool

	// BranchesExecuted and BranchMispredicts feed Core.Stats' branch
	// accounting (§8 Scenario 2: branch.executed/branch.mispredict).
	BranchesExecuted  uint64
	BranchMispredicts uint64
}

// NewExecutionUnit builds one execution port.
func NewExecutionUnit(pipelined bool, throughput uint64, lsq *LoadStoreQueue, input, output *PipelineBuffer[*Instruction]) *ExecutionUnit {
	return &ExecutionUnit{Pipelined: pipelined, Throughput: throughput, lsq: lsq, input: input, output: output}
}

// Tick advances in-flight execution by one cycle, starting a new
// instruction from the input head when the pipe is free to accept one.
func (e *ExecutionUnit) Tick() {
	e.now++
	e.flushPending = false

	if e.inFlight == nil {
		head := e.input.GetHead()
		if len(head) == 0 || head[0] == nil {
			return
		}
		if !e.Pipelined && e.now < e.busyUntil {
			return
		}
		insn := head[0]
		head[0] = nil
		e.start(insn)
		return
	}

	e.remaining--
	if e.remaining > 0 {
		return
	}

	insn := e.inFlight
	e.inFlight = nil
	e.busyUntil = e.now + e.Throughput

	if insn.Flushed {
		return
	}

	if insn.IsBranch {
		e.BranchesExecuted++
		if insn.ActualTaken != insn.Prediction.Taken ||
			(insn.ActualTaken && insn.ActualTarget != insn.Prediction.Target) {
			e.BranchMispredicts++
			e.flushPending = true
			e.flushInsnID = insn.InstructionID
			e.flushAddr = insn.ActualTarget
		}
	}

	out := e.output.GetTail()
	out[0] = insn
}

func (e *ExecutionUnit) start(insn *Instruction) {
	e.inFlight = insn
	e.remaining = insn.Latency
	if e.remaining == 0 {
		e.remaining = 1
	}

	switch {
	case insn.IsLoad:
		e.lsq.StartLoad(insn)
	case insn.IsStoreData:
		e.lsq.SupplyStoreData(insn.InstructionID, insn.MicroOpIndex, insn.Results[0])
	case insn.IsStoreAddr:
		e.lsq.StartStore(insn)
	}
}

// ShouldFlush reports whether this port's most recently completed
// instruction triggered a misprediction flush this cycle.
func (e *ExecutionUnit) ShouldFlush() bool { return e.flushPending }

// FlushInsnID returns the instruction id the flush should preserve up to
// (exclusive), valid only when ShouldFlush() is true.
func (e *ExecutionUnit) FlushInsnID() uint64 { return e.flushInsnID }

// FlushAddress returns the corrected fetch address for the flush.
func (e *ExecutionUnit) FlushAddress() uint64 { return e.flushAddr }

// PurgeFlushed drops an in-flight flushed instruction so it produces no
// completion.
func (e *ExecutionUnit) PurgeFlushed() {
	if e.inFlight != nil && e.inFlight.Flushed {
		e.inFlight = nil
	}
}
