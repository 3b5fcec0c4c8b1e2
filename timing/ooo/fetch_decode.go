package ooo

import (
	"github.com/sarchlab/m2sim/insts"
	"github.com/sarchlab/m2sim/timing/pipeline"
)

// MemoryReader is the narrow fetch-time contract FetchUnit needs; emu.Memory
// satisfies it the same way it already does for timing/pipeline.FetchStage.
type MemoryReader interface {
	Read32(addr uint64) uint32
}

// FetchUnit requests FetchBlockSize bytes starting at the current PC and
// hands the raw words to DecodeUnit. It does not itself decide branch
// direction; that is DispatchIssue/ROB's job once the branch executes.
type FetchUnit struct {
	cfg    *Config
	memory MemoryReader

	pc       uint64
	loopAddr uint64
	haveLoop bool

	output *PipelineBuffer[uint32]
	outputAddr *PipelineBuffer[uint64]
}

// NewFetchUnit builds a FetchUnit over the given memory and output word
// buffer.
func NewFetchUnit(cfg *Config, memory MemoryReader, output *PipelineBuffer[uint32], outputAddr *PipelineBuffer[uint64]) *FetchUnit {
	return &FetchUnit{cfg: cfg, memory: memory, output: output, outputAddr: outputAddr}
}

// SetPC redirects fetch to addr (used on reset, flush, and context switch).
func (f *FetchUnit) SetPC(addr uint64) { f.pc = addr }

// PC returns the next fetch address.
func (f *FetchUnit) PC() uint64 { return f.pc }

// RequestFromPC prefetches the next block of words starting at pc, one
// 4-byte instruction word per output slot (bounded by FetchBlockSize/4 and
// the buffer's width).
func (f *FetchUnit) RequestFromPC() {
	words := f.output.GetTail()
	addrs := f.outputAddr.GetTail()
	n := len(words)
	if max := int(f.cfg.FetchBlockSize / 4); max < n {
		n = max
	}
	for i := 0; i < n; i++ {
		addr := f.pc + uint64(4*i)
		words[i] = f.memory.Read32(addr)
		addrs[i] = addr
	}
	f.pc += uint64(4 * n)
}

// ReceiveLoopBoundary is called by ReorderBuffer when a tight loop is
// detected at commit (§4.7); a full core could use it to stop refetching
// already-cached iterations. Recorded here for observability/tests.
func (f *FetchUnit) ReceiveLoopBoundary(addr uint64) {
	f.loopAddr = addr
	f.haveLoop = true
}

// DecodeUnit turns raw fetched words into Instruction descriptors: opcode
// group classification, port routing, and (for branches) a prediction
// from the shared BranchPredictor.
type DecodeUnit struct {
	decoder   *insts.Decoder
	predictor *pipeline.BranchPredictor
	latency   LatencyLookup

	nextInstructionID uint64

	input     *PipelineBuffer[uint32]
	inputAddr *PipelineBuffer[uint64]
	output    *PipelineBuffer[*Instruction]
}

// LatencyLookup resolves an instruction's execution latency/throughput
// and supported ports, wrapping timing/latency.Table and the Ports[]
// configuration named in §6.
type LatencyLookup interface {
	Lookup(group OpcodeGroup) (latency, throughput uint64, ports []int)
}

// NewDecodeUnit wires a DecodeUnit over a word-buffer input and an
// Instruction-buffer output.
func NewDecodeUnit(predictor *pipeline.BranchPredictor, latency LatencyLookup, input *PipelineBuffer[uint32], inputAddr *PipelineBuffer[uint64], output *PipelineBuffer[*Instruction]) *DecodeUnit {
	return &DecodeUnit{decoder: insts.NewDecoder(), predictor: predictor, latency: latency, input: input, inputAddr: inputAddr, output: output}
}

// Tick decodes every fetched word in the input head into the output tail.
func (d *DecodeUnit) Tick() {
	words := d.input.GetHead()
	addrs := d.inputAddr.GetHead()
	out := d.output.GetTail()

	for i, word := range words {
		if i >= len(out) {
			break
		}
		if word == 0 && addrs[i] == 0 {
			continue
		}
		d.nextInstructionID++
		dec := d.decoder.Decode(word)
		insn := NewInstruction(d.nextInstructionID, 0, dec, addrs[i])
		d.classify(insn)

		if insn.IsBranch && d.predictor != nil {
			p := d.predictor.Predict(insn.Address)
			insn.Prediction = Prediction{Taken: p.Taken, Target: p.Target, TargetKnown: p.TargetKnown}
		}

		out[i] = insn
		words[i] = 0
		addrs[i] = 0
	}
}

func (d *DecodeUnit) classify(insn *Instruction) {
	dec := insn.Decoded
	switch dec.Format {
	case insts.FormatBranch, insts.FormatBranchCond, insts.FormatBranchReg:
		insn.Group = GroupBranch
		insn.IsBranch = true
	default:
		insn.Group = GroupALU
	}

	if dec.Rd != 31 && (dec.Format == insts.FormatDPImm || dec.Format == insts.FormatDPReg) {
		insn.ArchDests = []Register{{Type: BankGeneral, Tag: uint16(dec.Rd)}}
	}
	if dec.Format == insts.FormatDPReg || dec.Format == insts.FormatDPImm {
		insn.Sources[0] = Operand{Reg: Register{Type: BankGeneral, Tag: uint16(dec.Rn)}}
	}
	if dec.Format == insts.FormatDPReg {
		insn.Sources[1] = Operand{Reg: Register{Type: BankGeneral, Tag: uint16(dec.Rm)}}
	}
	if dec.SetFlags && (dec.Format == insts.FormatDPImm || dec.Format == insts.FormatDPReg) {
		insn.ArchDests = append(insn.ArchDests, Register{Type: BankFlags, Tag: 0})
	}
	if dec.Format == insts.FormatBranchCond {
		insn.Sources[0] = Operand{Reg: Register{Type: BankFlags, Tag: 0}}
	}

	if d.latency != nil {
		lat, thr, ports := d.latency.Lookup(insn.Group)
		insn.Latency = lat
		insn.Throughput = thr
		insn.SupportedPorts = ports
	}
	if len(insn.SupportedPorts) == 0 {
		insn.SupportedPorts = []int{0}
	}
}
