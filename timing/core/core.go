// Package core provides the cycle-accurate CPU core model.
// It wraps either the in-order pipeline or the out-of-order engine,
// selected by Simulation-Mode, behind one interface.
package core

import (
	"fmt"

	"github.com/sarchlab/m2sim/emu"
	"github.com/sarchlab/m2sim/timing/latency"
	"github.com/sarchlab/m2sim/timing/ooo"
	"github.com/sarchlab/m2sim/timing/pipeline"
)

// Stats holds performance statistics for the core, unified across engines.
type Stats struct {
	// Cycles is the total number of cycles simulated.
	Cycles uint64
	// Instructions is the number of instructions retired.
	Instructions uint64
	// Stalls is the number of stall cycles.
	Stalls uint64
	// Flushes is the number of pipeline flushes.
	Flushes uint64
}

// Mode selects which timing engine a Core runs.
type Mode string

// Engine modes.
const (
	ModeInOrder    Mode = "inorder"
	ModeOutOfOrder Mode = "outoforder"
)

// Core represents a cycle-accurate CPU core model. It wraps either a
// 5-/N-wide in-order pipeline or the out-of-order engine (timing/ooo),
// chosen at construction by mode, and presents the same Tick/Run/Stats
// surface regardless of which engine is underneath.
type Core struct {
	mode Mode

	// Pipeline is the underlying in-order pipeline; nil when mode is
	// ModeOutOfOrder.
	Pipeline *pipeline.Pipeline

	// OOO is the underlying out-of-order core; nil when mode is
	// ModeInOrder.
	OOO *ooo.Core

	// Shared resources
	regFile *emu.RegFile
	memory  *emu.Memory
}

// NewCore creates a new in-order Core with the given register file and
// memory, preserving the original single-mode constructor for existing
// callers.
func NewCore(regFile *emu.RegFile, memory *emu.Memory) *Core {
	return &Core{
		mode:     ModeInOrder,
		Pipeline: pipeline.NewPipeline(regFile, memory),
		regFile:  regFile,
		memory:   memory,
	}
}

// NewCoreWithMode creates a Core running the engine mode selects. An
// out-of-order core is built from ooo.DefaultConfig() plus a default
// branch predictor and latency table, matching the in-order
// constructor's zero-configuration convenience.
func NewCoreWithMode(mode Mode, regFile *emu.RegFile, memory *emu.Memory) (*Core, error) {
	switch mode {
	case ModeInOrder, "":
		return NewCore(regFile, memory), nil
	case ModeOutOfOrder:
		cfg := ooo.DefaultConfig()
		predictor := pipeline.NewBranchPredictor(pipeline.DefaultBranchPredictorConfig())
		return &Core{
			mode:    ModeOutOfOrder,
			OOO:     ooo.NewCore(cfg, memory, predictor, latency.NewTable()),
			regFile: regFile,
			memory:  memory,
		}, nil
	default:
		return nil, fmt.Errorf("core: unknown mode %q", mode)
	}
}

// SetPC sets the program counter.
func (c *Core) SetPC(pc uint64) {
	if c.mode == ModeOutOfOrder {
		c.OOO.SetPC(pc)
		return
	}
	c.Pipeline.SetPC(pc)
}

// Tick executes one cycle.
func (c *Core) Tick() {
	if c.mode == ModeOutOfOrder {
		c.OOO.Tick()
		return
	}
	c.Pipeline.Tick()
}

// Halted returns true if the core has halted (e.g., due to exit syscall).
func (c *Core) Halted() bool {
	if c.mode == ModeOutOfOrder {
		return c.OOO.Halted()
	}
	return c.Pipeline.Halted()
}

// ExitCode returns the exit code if the core has halted. The
// out-of-order engine's narrower instruction set never raises a syscall
// exception, so it always reports zero.
func (c *Core) ExitCode() int64 {
	if c.mode == ModeOutOfOrder {
		return 0
	}
	return c.Pipeline.ExitCode()
}

// Stats returns performance statistics for the core.
func (c *Core) Stats() Stats {
	if c.mode == ModeOutOfOrder {
		s := c.OOO.Stats()
		return Stats{Cycles: s.Cycles, Instructions: s.Retired, Flushes: s.Flushes}
	}
	pipeStats := c.Pipeline.Stats()
	return Stats{
		Cycles:       pipeStats.Cycles,
		Instructions: pipeStats.Instructions,
		Stalls:       pipeStats.Stalls,
		Flushes:      pipeStats.Flushes,
	}
}

// Run executes the core until it halts.
// Returns the exit code.
func (c *Core) Run() int64 {
	if c.mode == ModeOutOfOrder {
		c.OOO.Run(^uint64(0))
		return c.ExitCode()
	}
	return c.Pipeline.Run()
}

// RunCycles executes the core for the specified number of cycles.
// Returns true if still running, false if halted.
func (c *Core) RunCycles(cycles uint64) bool {
	if c.mode == ModeOutOfOrder {
		c.OOO.Run(cycles)
		return !c.OOO.Halted()
	}
	return c.Pipeline.RunCycles(cycles)
}

// Reset clears all core state. The out-of-order engine is rebuilt from
// scratch, since ooo.Core carries no public reset hook for its internal
// queues.
func (c *Core) Reset() {
	if c.mode == ModeOutOfOrder {
		cfg := ooo.DefaultConfig()
		predictor := pipeline.NewBranchPredictor(pipeline.DefaultBranchPredictorConfig())
		c.OOO = ooo.NewCore(cfg, c.memory, predictor, latency.NewTable())
		return
	}
	c.Pipeline.Reset()
}
