package ooo

import (
	"encoding/json"
	"fmt"
	"os"
)

// RegisterBankType selects which physical/architectural register bank a
// Register belongs to.
type RegisterBankType uint8

// Register bank types.
const (
	BankGeneral RegisterBankType = iota
	BankFloat
	BankPredicate
	BankFlags
	BankSystem
	BankMatrix

	numBanks
)

// LSQMode selects whether the load/store queue is a single combined queue
// or split load/store queues.
type LSQMode uint8

// LSQ modes.
const (
	LSQCombined LSQMode = iota
	LSQSplit
)

// CompletionOrder selects whether the LSQ delivers completions in program
// order or in execution order.
type CompletionOrder uint8

// Completion orders.
const (
	CompletionInOrder CompletionOrder = iota
	CompletionOutOfOrder
)

// Config is the immutable, fully-resolved configuration for one OoO core.
// It is constructed once by Load/Default and passed by value (or pointer,
// never mutated) to every unit's constructor; nothing in this package reads
// a process-wide global.
type Config struct {
	// SimulationMode records which engine timing/core.Core should drive;
	// the OoO core itself only runs when this is "outoforder".
	SimulationMode string `json:"simulation_mode"`

	// FetchBlockSize is the number of bytes fetched per cycle.
	FetchBlockSize uint64 `json:"fetch_block_size"`

	// LSQCompletionSlots is the number of writeback-completion slots
	// reserved for the load/store queue.
	LSQCompletionSlots int `json:"lsq_completion_slots"`

	// ROBSize is the reorder buffer capacity.
	ROBSize int `json:"rob_size"`
	// LoadQueueSize is the load queue capacity.
	LoadQueueSize int `json:"load_queue_size"`
	// StoreQueueSize is the store queue capacity.
	StoreQueueSize int `json:"store_queue_size"`
	// LSQMode selects combined vs. split load/store queues.
	LSQMode LSQMode `json:"lsq_mode"`
	// CompletionOrder selects in-order vs. out-of-order LSQ completion.
	CompletionOrder CompletionOrder `json:"completion_order"`
	// LSQLatency is the cycle delay between scheduling a memory request
	// and handing it to the MMU.
	LSQLatency uint64 `json:"lsq_latency"`

	// LoadBandwidth is the maximum bytes of load packets the MMU may
	// issue in a single cycle.
	LoadBandwidth uint64 `json:"load_bandwidth"`
	// StoreBandwidth is the maximum bytes of store packets the MMU may
	// issue in a single cycle.
	StoreBandwidth uint64 `json:"store_bandwidth"`
	// LoadRequestLimit caps in-flight load requests.
	LoadRequestLimit int `json:"load_request_limit"`
	// StoreRequestLimit caps in-flight store requests.
	StoreRequestLimit int `json:"store_request_limit"`
	// RequestLimit caps the combined in-flight request count.
	RequestLimit int `json:"request_limit"`
	// ExclusiveRequests forbids loads and stores from being in flight at
	// the same time when true.
	ExclusiveRequests bool `json:"exclusive_requests"`
	// CacheLineWidth is the byte boundary memory accesses are split on.
	CacheLineWidth uint64 `json:"cache_line_width"`

	// RegisterCounts holds the physical register count for each bank.
	RegisterCounts [int(numBanks)]int `json:"-"`
	GeneralPurposeCount int `json:"general_purpose_count"`
	FloatingPointCount  int `json:"floating_point_count"`
	PredicateCount      int `json:"predicate_count"`
	SystemCount         int `json:"system_count"`
	MatrixCount         int `json:"matrix_count"`

	// DispatchRatePerRS is the number of instructions one reservation
	// station may accept in a single cycle.
	DispatchRatePerRS int `json:"dispatch_rate_per_rs"`
	// NumPorts is the number of execution ports.
	NumPorts int `json:"num_ports"`

	// LoopDetectionThreshold is the number of consecutive identical
	// branch outcomes at commit that trigger a loop-boundary signal.
	LoopDetectionThreshold int `json:"loop_detection_threshold"`

	// MaxCommitWidth is the maximum instructions retired per cycle.
	MaxCommitWidth int `json:"max_commit_width"`
}

// DefaultConfig returns a Config with reasonable out-of-order defaults,
// sized to exercise every capacity-stall path without being unusable in
// tests.
func DefaultConfig() *Config {
	c := &Config{
		SimulationMode:          "outoforder",
		FetchBlockSize:          16,
		LSQCompletionSlots:      2,
		ROBSize:                 64,
		LoadQueueSize:           16,
		StoreQueueSize:          16,
		LSQMode:                 LSQSplit,
		CompletionOrder:         CompletionInOrder,
		LSQLatency:              1,
		LoadBandwidth:           32,
		StoreBandwidth:          32,
		LoadRequestLimit:        8,
		StoreRequestLimit:       8,
		RequestLimit:            12,
		ExclusiveRequests:       false,
		CacheLineWidth:          64,
		GeneralPurposeCount:     128,
		FloatingPointCount:      64,
		PredicateCount:          16,
		SystemCount:             8,
		MatrixCount:             8,
		DispatchRatePerRS:       4,
		NumPorts:                6,
		LoopDetectionThreshold:  3,
		MaxCommitWidth:          4,
	}
	c.resolveRegisterCounts()
	return c
}

func (c *Config) resolveRegisterCounts() {
	c.RegisterCounts[BankGeneral] = c.GeneralPurposeCount
	c.RegisterCounts[BankFloat] = c.FloatingPointCount
	c.RegisterCounts[BankPredicate] = c.PredicateCount
	c.RegisterCounts[BankFlags] = 1
	c.RegisterCounts[BankSystem] = c.SystemCount
	c.RegisterCounts[BankMatrix] = c.MatrixCount
}

// LoadConfig reads a Config from a JSON file, starting from DefaultConfig
// so unspecified keys keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ooo config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse ooo config: %w", err)
	}
	cfg.resolveRegisterCounts()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration describes a usable core. It is
// the only place capacity/range errors are raised; once Validate succeeds
// every unit's constructor may assume the Config is well-formed.
func (c *Config) Validate() error {
	switch c.SimulationMode {
	case "emulation", "inorderpipelined", "outoforder":
	default:
		return fmt.Errorf("ooo: unknown simulation_mode %q", c.SimulationMode)
	}
	if c.ROBSize <= 0 {
		return fmt.Errorf("ooo: rob_size must be > 0")
	}
	if c.LoadQueueSize <= 0 || c.StoreQueueSize <= 0 {
		return fmt.Errorf("ooo: load_queue_size and store_queue_size must be > 0")
	}
	if c.CacheLineWidth == 0 || (c.CacheLineWidth&(c.CacheLineWidth-1)) != 0 {
		return fmt.Errorf("ooo: cache_line_width must be a power of two")
	}
	if c.NumPorts <= 0 {
		return fmt.Errorf("ooo: num_ports must be > 0")
	}
	if c.MaxCommitWidth <= 0 {
		return fmt.Errorf("ooo: max_commit_width must be > 0")
	}
	if c.LoadRequestLimit <= 0 || c.StoreRequestLimit <= 0 || c.RequestLimit <= 0 {
		return fmt.Errorf("ooo: request limits must be > 0")
	}
	return nil
}
