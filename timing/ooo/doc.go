// Package ooo provides a cycle-accurate out-of-order superscalar execution
// core: register renaming, dispatch/issue with a dependency-driven
// scoreboard, multiple execution ports, an in-order reorder buffer, a
// load/store queue with memory-order-violation detection, and a bandwidth
// limited memory management unit.
//
// The package is a sibling of timing/pipeline (the in-order model); both
// are selected through timing/core.Core by Simulation-Mode. Decoding,
// branch prediction and the functional ARM64 semantics continue to be
// provided by insts and emu, exactly as the in-order pipeline uses them.
package ooo
