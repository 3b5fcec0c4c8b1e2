package ooo

import "github.com/sarchlab/m2sim/insts"

// OpcodeGroup classifies an instruction for port routing, latency lookup
// and inter-instruction forwarding, independent of the specific ISA
// opcode. DecodeUnit derives it from the *insts.Instruction the existing
// insts.Decoder already produces.
type OpcodeGroup uint8

// Opcode groups.
const (
	GroupALU OpcodeGroup = iota
	GroupBranch
	GroupLoad
	GroupStore
)

// OperandState is the supply state of one operand slot.
type OperandState uint8

// Operand states.
const (
	OperandUnsupplied OperandState = iota
	OperandSupplied
)

// Operand is one source-operand slot: either an unresolved physical
// register (waiting on a producer) or an already-supplied value.
type Operand struct {
	State OperandState
	Reg   Register
	Value RegisterValue
}

// Supply marks the operand as resolved with a concrete value.
func (o *Operand) Supply(v RegisterValue) {
	o.State = OperandSupplied
	o.Value = v
}

// MemAddress is a generated effective address for a load or store
// micro-op, one per accessed byte range (a load-pair generates two).
type MemAddress struct {
	Addr uint64
	Size int
}

// Instruction is the fundamental simulated unit: an immutable-after-issue
// descriptor plus the handful of dynamic fields the pipeline mutates as
// the instruction flows through rename/dispatch/issue/execute/writeback/
// commit. It wraps the architecturally-decoded *insts.Instruction rather
// than duplicating opcode semantics.
type Instruction struct {
	// Identity.
	InstructionID  uint64 // macro-op id, assigned at decode, program order
	MicroOpIndex   int    // position within the macro-op's expansion
	SequenceID     uint64 // unique, monotonic, assigned at rename

	// Static info.
	Decoded        *insts.Instruction
	Group          OpcodeGroup
	SupportedPorts []int
	Latency        uint64
	Throughput     uint64
	ForwardGroup   int

	IsLoad        bool
	IsStore       bool
	IsStoreAddr   bool
	IsStoreData   bool
	IsStoreCond   bool
	IsLoadReserved bool
	IsBranch      bool

	// Dynamic state.
	Address      uint64
	Sources      [2]Operand
	ArchDests    []Register // before rename
	PhysDests    []Register // after rename
	Results      []RegisterValue
	MemAddrs     []MemAddress
	MemData      []RegisterValue

	Prediction     Prediction
	ActualTaken    bool
	ActualTarget   uint64

	Flushed      bool
	CommitReady  bool
	HasException bool
	ExceptionKind ExceptionKind

	// Port is the execution port DispatchIssueUnit assigned this
	// instruction to; valid only between dispatch and issue/flush.
	Port int

	refs int
}

// Prediction mirrors timing/pipeline.Prediction's shape so the existing
// BranchPredictor can be used unmodified from the dispatch/issue and ROB
// commit paths.
type Prediction struct {
	Taken       bool
	Target      uint64
	TargetKnown bool
}

// NewInstruction creates an Instruction descriptor for a decoded macro-op.
func NewInstruction(instructionID uint64, microOpIndex int, decoded *insts.Instruction, addr uint64) *Instruction {
	return &Instruction{
		InstructionID: instructionID,
		MicroOpIndex:  microOpIndex,
		Decoded:       decoded,
		Address:       addr,
		refs:          1,
	}
}

// Retain increments the share count when a structure takes ownership of
// this instruction (a pipeline buffer slot, a ROB entry, an LSQ entry).
func (in *Instruction) Retain() { in.refs++ }

// Release drops one share. The instruction has no further owners once the
// count reaches zero; callers should stop referencing it past that point.
func (in *Instruction) Release() int {
	in.refs--
	return in.refs
}

// HasAllData reports whether every generated memory address for this
// instruction has had its data supplied (by a load completion or a store
// forward).
func (in *Instruction) HasAllData() bool {
	if len(in.MemAddrs) == 0 {
		return false
	}
	return len(in.MemData) >= len(in.MemAddrs)
}

// SupplyData records the data returned for the memAddrs[order] access.
func (in *Instruction) SupplyData(order int, v RegisterValue) {
	for len(in.MemData) <= order {
		in.MemData = append(in.MemData, RegisterValue{})
	}
	in.MemData[order] = v
}

// CanForward reports the forwarding latency (in cycles) from a producer in
// forwarding group `from` to a consumer in forwarding group `to`. Zero
// means same-cycle forwarding; negative means forwarding is disallowed and
// the consumer must wait for a register-file read instead. The in-order
// pipeline's HazardUnit only distinguishes EX/MEM vs MEM/WB forwarding
// sources; the OoO core generalizes that into a small per-group latency
// table so execution units with heterogeneous pipeline depths (ALU vs.
// load vs. multi-cycle divide) forward correctly.
func CanForward(from, to OpcodeGroup) int {
	switch {
	case from == GroupLoad && to == GroupStore:
		return 1
	default:
		return 0
	}
}
