package ooo

import "github.com/sarchlab/m2sim/insts"

// Architecture performs an instruction's functional semantics once all of
// its operands are available, producing Results (and, for branches,
// ActualTaken/ActualTarget). It is the OoO core's equivalent of emu.ALU
// and emu.BranchUnit, generalized to operate on Operand/RegisterValue
// instead of a direct architectural register file, since physical
// register contents live in RegisterFileSet rather than emu.RegFile.
type Architecture interface {
	Execute(insn *Instruction)
}

// defaultArchitecture implements Architecture for the ADD/SUB/AND/ORR/EOR
// and branch subset insts.Decoder produces.
type defaultArchitecture struct{}

// NewArchitecture returns the default functional-execution adapter.
func NewArchitecture() Architecture { return &defaultArchitecture{} }

func (defaultArchitecture) Execute(insn *Instruction) {
	dec := insn.Decoded
	if dec == nil {
		return
	}

	switch dec.Format {
	case insts.FormatDPImm, insts.FormatDPReg:
		executeALU(insn, dec)
	case insts.FormatBranch, insts.FormatBranchCond, insts.FormatBranchReg:
		executeBranch(insn, dec)
	}
}

func executeALU(insn *Instruction, dec *insts.Instruction) {
	lhs := insn.Sources[0].Value.Uint64()

	var rhs uint64
	if dec.Format == insts.FormatDPImm {
		rhs = dec.Imm << dec.Shift
	} else {
		rhs = applyShift(insn.Sources[1].Value.Uint64(), dec.ShiftType, dec.ShiftAmount)
	}

	var result uint64
	switch dec.Op {
	case insts.OpADD:
		result = lhs + rhs
	case insts.OpSUB:
		result = lhs - rhs
	case insts.OpAND:
		result = lhs & rhs
	case insts.OpORR:
		result = lhs | rhs
	case insts.OpEOR:
		result = lhs ^ rhs
	default:
		result = lhs
	}

	if !dec.Is64Bit {
		result &= 0xFFFFFFFF
	}

	insn.Results = []RegisterValue{Uint64Value(result)}

	if dec.SetFlags {
		insn.Results = append(insn.Results, Uint64Value(nzcvFor(dec, lhs, rhs, result)))
	}
}

// nzcvFor computes packed NZCV flags (bit0=N, bit1=Z, bit2=C, bit3=V) for an
// S-suffixed data-processing result, matching emu.ALU's flag computation.
func nzcvFor(dec *insts.Instruction, lhs, rhs, result uint64) uint64 {
	width := uint64(32)
	if dec.Is64Bit {
		width = 64
	}
	signBit := uint64(1) << (width - 1)
	mask := signBit<<1 - 1

	n := result&signBit != 0
	z := result&mask == 0

	var c, v bool
	switch dec.Op {
	case insts.OpADD:
		c = (lhs&mask)+(rhs&mask) > mask
		lhsSign := lhs&signBit != 0
		rhsSign := rhs&signBit != 0
		v = lhsSign == rhsSign && n != lhsSign
	case insts.OpSUB:
		c = lhs&mask >= rhs&mask
		lhsSign := lhs&signBit != 0
		rhsSign := rhs&signBit != 0
		v = lhsSign != rhsSign && n != lhsSign
	default:
		c = false
		v = false
	}

	var nzcv uint64
	if n {
		nzcv |= 0x1
	}
	if z {
		nzcv |= 0x2
	}
	if c {
		nzcv |= 0x4
	}
	if v {
		nzcv |= 0x8
	}
	return nzcv
}

func applyShift(v uint64, kind insts.ShiftType, amount uint8) uint64 {
	switch kind {
	case insts.ShiftLSL:
		return v << amount
	case insts.ShiftLSR:
		return v >> amount
	case insts.ShiftASR:
		return uint64(int64(v) >> amount)
	case insts.ShiftROR:
		if amount == 0 {
			return v
		}
		return (v >> amount) | (v << (64 - amount))
	default:
		return v
	}
}

// conditionHolds evaluates an ARM64 condition code against the flags
// register's packed NZCV bits, matching emu.BranchUnit's encoding
// (bit0=N, bit1=Z, bit2=C, bit3=V).
func conditionHolds(cond insts.Cond, nzcv uint64) bool {
	n := nzcv&0x1 != 0
	z := nzcv&0x2 != 0
	c := nzcv&0x4 != 0
	v := nzcv&0x8 != 0

	switch cond {
	case insts.CondEQ:
		return z
	case insts.CondNE:
		return !z
	case insts.CondCS:
		return c
	case insts.CondCC:
		return !c
	case insts.CondMI:
		return n
	case insts.CondPL:
		return !n
	case insts.CondVS:
		return v
	case insts.CondVC:
		return !v
	case insts.CondHI:
		return c && !z
	case insts.CondLS:
		return !c || z
	case insts.CondGE:
		return n == v
	case insts.CondLT:
		return n != v
	case insts.CondGT:
		return !z && n == v
	case insts.CondLE:
		return z || n != v
	default:
		return true
	}
}

func executeBranch(insn *Instruction, dec *insts.Instruction) {
	switch dec.Op {
	case insts.OpB, insts.OpBL:
		insn.ActualTaken = true
		insn.ActualTarget = uint64(int64(insn.Address) + dec.BranchOffset)
	case insts.OpBCond:
		nzcv := insn.Sources[0].Value.Uint64()
		insn.ActualTaken = conditionHolds(dec.Cond, nzcv)
		if insn.ActualTaken {
			insn.ActualTarget = uint64(int64(insn.Address) + dec.BranchOffset)
		} else {
			insn.ActualTarget = insn.Address + 4
		}
	case insts.OpBR, insts.OpBLR, insts.OpRET:
		insn.ActualTaken = true
		insn.ActualTarget = insn.Sources[0].Value.Uint64()
	}
	insn.Results = []RegisterValue{Uint64Value(insn.Address + 4)} // link register for BL
}
