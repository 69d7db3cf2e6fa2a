// Package executor implements the Channel Executor (spec §4.C): the
// tick-scheduled dataflow engine that evaluates a flat list of blocks
// in registration order, reading each block's inputs from the shared
// registry and writing its result back. A block registered after its
// producer sees that producer's value one tick stale, by design —
// matching gocanopen's PDO mapping, which resolves every mapped
// object against the last completed SYNC window rather than demanding
// a topologically sorted map.
package executor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/fleetwire/pmucore/internal/clock"
	"github.com/fleetwire/pmucore/pkg/blocks"
	"github.com/fleetwire/pmucore/pkg/registry"
)

var (
	ErrDuplicateNode = errors.New("executor: channel id already has a node")
	ErrNodeNotFound  = errors.New("executor: channel id has no node")
	ErrShortConfig   = errors.New("executor: config buffer too short")
	ErrUnknownKind   = errors.New("executor: unknown block kind in config")
)

// OutputCommander is implemented by pkg/outputs; the executor drives
// hardware strictly through this seam so it never imports the output
// driver package directly (matching gocanopen's Bus/FrameHandler
// split between protocol logic and transport).
type OutputCommander interface {
	Command(hwIndex int, value int32) error
}

// Node is one scheduled block: a stable channel id, the ids it reads
// from, and the Block that computes its value.
type Node struct {
	ID         registry.ChannelID
	InputIDs   []registry.ChannelID
	Block      Block
	Enabled    bool
	FaultCount uint32
}

// OutputLink drives one hardware output index from a channel's
// current value every tick, after block evaluation completes.
type OutputLink struct {
	HWIndex  int
	SourceID registry.ChannelID
}

// ExecMetrics tracks basic per-tick accounting for telemetry (spec
// §4.C "executor exposes per-tick timing").
type ExecMetrics struct {
	ExecCount            uint64
	LastExecMicroseconds int64
}

// Executor evaluates registered blocks once per Tick call. It holds
// no goroutines of its own; the caller (pkg/core's run loop) decides
// the cadence.
type Executor struct {
	reg    *registry.Registry
	clk    clock.Source
	logger *slog.Logger

	nodes     []*Node
	byID      map[registry.ChannelID]int // index into nodes
	outputs   []OutputLink
	commander OutputCommander

	topoEnabled bool
	order       []int // indices into nodes, used when topoEnabled

	lastTickMs int64
	Metrics    ExecMetrics
}

// New builds an Executor bound to reg. cmd may be nil if no output
// links will be added (e.g. a desktop simulation harness).
func New(reg *registry.Registry, clk clock.Source, cmd OutputCommander, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Executor{
		reg:       reg,
		clk:       clk,
		logger:    logger,
		byID:      make(map[registry.ChannelID]int),
		commander: cmd,
	}
}

// AddNode registers a block under id in the next registration-order
// slot. id must already exist in the registry (spec §4.C: the
// executor never creates registry entries itself).
func (e *Executor) AddNode(id registry.ChannelID, inputIDs []registry.ChannelID, b Block) error {
	if _, exists := e.byID[id]; exists {
		return fmt.Errorf("%w: id %d", ErrDuplicateNode, id)
	}
	n := &Node{ID: id, InputIDs: append([]registry.ChannelID(nil), inputIDs...), Block: b, Enabled: true}
	e.byID[id] = len(e.nodes)
	e.nodes = append(e.nodes, n)
	e.invalidateOrder()
	return nil
}

// AddOutputLink wires a registry channel to a hardware output index,
// driven every tick after block evaluation (spec §4.C step 3).
func (e *Executor) AddOutputLink(hwIndex int, sourceID registry.ChannelID) {
	e.outputs = append(e.outputs, OutputLink{HWIndex: hwIndex, SourceID: sourceID})
}

// RemoveChannel deletes a node (and any output links reading it) by
// id. It returns ErrNodeNotFound if id has no node.
func (e *Executor) RemoveChannel(id registry.ChannelID) error {
	idx, ok := e.byID[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrNodeNotFound, id)
	}
	e.nodes = append(e.nodes[:idx], e.nodes[idx+1:]...)
	delete(e.byID, id)
	for i := range e.nodes {
		e.byID[e.nodes[i].ID] = i
	}
	kept := e.outputs[:0]
	for _, l := range e.outputs {
		if l.SourceID != id {
			kept = append(kept, l)
		}
	}
	e.outputs = kept
	e.invalidateOrder()
	return nil
}

// Clear removes every node and output link, leaving the registry
// untouched (spec §4.C "CLEAR clears the executor's own graph, not
// the registry").
func (e *Executor) Clear() {
	e.nodes = nil
	e.byID = make(map[registry.ChannelID]int)
	e.outputs = nil
	e.order = nil
}

// SetEnabled toggles whether a node is evaluated on Tick; a disabled
// node retains its last published value and runtime state.
func (e *Executor) SetEnabled(id registry.ChannelID, enabled bool) error {
	idx, ok := e.byID[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrNodeNotFound, id)
	}
	e.nodes[idx].Enabled = enabled
	return nil
}

// Reset clears fault counters and the tick clock anchor; it does not
// remove nodes or touch their internal block state (InitX calls own
// that, not Reset).
func (e *Executor) Reset() {
	for _, n := range e.nodes {
		n.FaultCount = 0
	}
	e.lastTickMs = e.clk.NowMs()
	e.Metrics = ExecMetrics{}
}

// EnableTopologicalOrdering switches evaluation from plain
// registration order to a dependency-ordered pass computed from each
// node's InputIDs, so a producer registered after its consumer is
// still seen fresh within the same tick. This is an opt-in beyond the
// default one-tick-stale behaviour: it requires an acyclic input
// graph among known node ids, and silently falls back to
// registration order if a cycle is detected (logged at Warn).
func (e *Executor) EnableTopologicalOrdering() {
	e.topoEnabled = true
	e.invalidateOrder()
}

// Ordering reports the channel ids in the order Tick currently
// evaluates them.
func (e *Executor) Ordering() []registry.ChannelID {
	e.ensureOrder()
	ids := make([]registry.ChannelID, len(e.order))
	for i, idx := range e.order {
		ids[i] = e.nodes[idx].ID
	}
	return ids
}

func (e *Executor) invalidateOrder() { e.order = nil }

func (e *Executor) ensureOrder() {
	if e.order != nil {
		return
	}
	if !e.topoEnabled {
		order := make([]int, len(e.nodes))
		for i := range order {
			order[i] = i
		}
		e.order = order
		return
	}
	order, ok := e.topoSort()
	if !ok {
		e.logger.Warn("executor: dependency cycle detected, falling back to registration order")
		order = make([]int, len(e.nodes))
		for i := range order {
			order[i] = i
		}
	}
	e.order = order
}

// topoSort performs a stable Kahn's-algorithm pass over nodes whose
// InputIDs reference other node ids, breaking ties by registration
// order so the result is deterministic.
func (e *Executor) topoSort() ([]int, bool) {
	n := len(e.nodes)
	indeg := make([]int, n)
	deps := make([][]int, n) // deps[i] = nodes that depend on i
	for i, node := range e.nodes {
		for _, in := range node.InputIDs {
			if j, ok := e.byID[in]; ok && j != i {
				deps[j] = append(deps[j], i)
				indeg[i]++
			}
		}
	}
	var ready []int
	for i := 0; i < n; i++ {
		if indeg[i] == 0 {
			ready = append(ready, i)
		}
	}
	sort.Ints(ready)
	order := make([]int, 0, n)
	for len(ready) > 0 {
		cur := ready[0]
		ready = ready[1:]
		order = append(order, cur)
		var freed []int
		for _, d := range deps[cur] {
			indeg[d]--
			if indeg[d] == 0 {
				freed = append(freed, d)
			}
		}
		sort.Ints(freed)
		ready = append(ready, freed...)
		sort.Ints(ready)
	}
	if len(order) != n {
		return nil, false
	}
	return order, true
}

// Tick evaluates every enabled node once, in the current ordering,
// then drives every output link. Per spec §4.C failure semantics, a
// block that returns a value the registry rejects (e.g. a disabled
// target) increments that node's fault counter and logs, but never
// halts the sweep — one misbehaving channel cannot stall the tick.
func (e *Executor) Tick() {
	e.ensureOrder()
	now := e.clk.NowMs()
	dt := now - e.lastTickMs
	e.lastTickMs = now
	if dt < 0 {
		dt = 0
	}
	if dt > 2147483647 {
		dt = 2147483647
	}

	inputs := make([]int32, 0, 8)
	for _, idx := range e.order {
		node := e.nodes[idx]
		if !node.Enabled {
			continue
		}
		inputs = inputs[:0]
		for _, in := range node.InputIDs {
			inputs = append(inputs, e.reg.GetValue(in))
		}
		out := node.Block.Eval(int32(dt), inputs)
		if err := e.reg.SetValue(node.ID, out); err != nil {
			node.FaultCount++
			e.logger.Debug("executor: node write rejected", "id", node.ID, "err", err, "faults", node.FaultCount)
		}
	}

	for _, link := range e.outputs {
		if e.commander == nil {
			continue
		}
		v := e.reg.GetValue(link.SourceID)
		if err := e.commander.Command(link.HWIndex, v); err != nil {
			e.logger.Debug("executor: output command failed", "hw_index", link.HWIndex, "err", err)
		}
	}

	e.Metrics.ExecCount++
	e.Metrics.LastExecMicroseconds = (e.clk.NowMs() - now) * 1000
}

// Len reports how many nodes are currently scheduled.
func (e *Executor) Len() int { return len(e.nodes) }

// --- binary config loading -------------------------------------------------

// BlockKind tags a node's encoding in the LOAD_BINARY_CONFIG wire
// format (spec §9 "Configuration as tagged variants"): every record is
// {id uint16, input_count uint8, input_ids []uint16, kind uint8,
// param_len uint16, params []byte}, so a decoder unfamiliar with a
// given kind can still skip over it.
type BlockKind uint8

const (
	KindLogic BlockKind = iota
	KindMath
	KindTable2D
	KindSwitchCase
	KindCounter
	KindPID
	KindSMA
	KindEMA
	KindHysteresis
	KindSRLatch
	KindDFlipFlop
	KindTFlipFlop
	KindJKFlipFlop
)

// LoadConfig decodes a LOAD_BINARY_CONFIG payload and replaces the
// executor's node list wholesale. It is idempotent: loading the same
// bytes twice in a row yields byte-identical node state both times,
// since every decode path re-derives state purely from the record
// (spec §8 testable property #6).
func (e *Executor) LoadConfig(buf []byte) (int, error) {
	e.Clear()
	count := 0
	for len(buf) > 0 {
		n, rest, err := decodeRecord(buf)
		if err != nil {
			return count, err
		}
		buf = rest
		if err := e.AddNode(n.ID, n.InputIDs, n.Block); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

type decodedNode struct {
	ID       registry.ChannelID
	InputIDs []registry.ChannelID
	Block    Block
}

func decodeRecord(buf []byte) (decodedNode, []byte, error) {
	if len(buf) < 2+1 {
		return decodedNode{}, nil, ErrShortConfig
	}
	id := registry.ChannelID(binary.BigEndian.Uint16(buf))
	buf = buf[2:]
	inCount := int(buf[0])
	buf = buf[1:]
	if len(buf) < inCount*2+1+2 {
		return decodedNode{}, nil, ErrShortConfig
	}
	inputs := make([]registry.ChannelID, inCount)
	for i := 0; i < inCount; i++ {
		inputs[i] = registry.ChannelID(binary.BigEndian.Uint16(buf))
		buf = buf[2:]
	}
	kind := BlockKind(buf[0])
	buf = buf[1:]
	paramLen := int(binary.BigEndian.Uint16(buf))
	buf = buf[2:]
	if len(buf) < paramLen {
		return decodedNode{}, nil, ErrShortConfig
	}
	params := buf[:paramLen]
	buf = buf[paramLen:]

	block, err := decodeBlock(kind, params)
	if err != nil {
		return decodedNode{}, nil, err
	}
	return decodedNode{ID: id, InputIDs: inputs, Block: block}, buf, nil
}

func decodeBlock(kind BlockKind, params []byte) (Block, error) {
	switch kind {
	case KindLogic:
		if len(params) < 1 {
			return nil, ErrShortConfig
		}
		return &LogicBlock{Op: blocks.LogicOp(params[0])}, nil
	case KindMath:
		if len(params) < 1 {
			return nil, ErrShortConfig
		}
		return &MathBlock{Op: blocks.MathOp(params[0])}, nil
	case KindTable2D:
		return decodeTable2D(params)
	case KindSwitchCase:
		return decodeSwitch(params)
	case KindCounter:
		return decodeCounter(params)
	case KindPID:
		return decodePID(params)
	case KindSMA:
		return decodeSMA(params)
	case KindEMA:
		return decodeEMA(params)
	case KindHysteresis:
		return decodeHysteresis(params)
	case KindSRLatch:
		return &SRLatchBlock{}, nil
	case KindDFlipFlop:
		return &DFlipFlopBlock{}, nil
	case KindTFlipFlop:
		return &TFlipFlopBlock{}, nil
	case KindJKFlipFlop:
		return &JKFlipFlopBlock{}, nil
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrUnknownKind, kind)
	}
}

// decodeTable2D reads {n uint8, n*(x int32, y int32)} (spec §4.B
// "Up to 16 points"), then validates the result is sorted and
// non-empty the same way a config-load path always must.
func decodeTable2D(params []byte) (Block, error) {
	if len(params) < 1 {
		return nil, ErrShortConfig
	}
	n := int(params[0])
	params = params[1:]
	if len(params) < n*8 {
		return nil, ErrShortConfig
	}
	var cfg blocks.Table2DConfig
	cfg.N = n
	for i := 0; i < n; i++ {
		cfg.X[i] = int32(binary.BigEndian.Uint32(params))
		params = params[4:]
		cfg.Y[i] = int32(binary.BigEndian.Uint32(params))
		params = params[4:]
	}
	if err := blocks.ValidateTable2D(&cfg); err != nil {
		return nil, err
	}
	return &Table2DBlock{Cfg: cfg}, nil
}

// decodeSwitch reads {subkind uint8, n uint8, n*selector int32,
// n*output int32, default int32}. selector holds case values for
// SwitchCase and thresholds for SwitchRangeCase; it is encoded but
// unused for the remaining Switch variants (spec §4.B "Switch"
// covers select/case/range/mux/priority/ternary behind one wire
// kind).
func decodeSwitch(params []byte) (Block, error) {
	if len(params) < 2 {
		return nil, ErrShortConfig
	}
	subkind := SwitchKind(params[0])
	n := int(params[1])
	params = params[2:]
	if len(params) < n*8+4 {
		return nil, ErrShortConfig
	}
	selector := make([]int32, n)
	for i := 0; i < n; i++ {
		selector[i] = int32(binary.BigEndian.Uint32(params))
		params = params[4:]
	}
	outputs := make([]int32, n)
	for i := 0; i < n; i++ {
		outputs[i] = int32(binary.BigEndian.Uint32(params))
		params = params[4:]
	}
	def := int32(binary.BigEndian.Uint32(params))

	b := &SwitchBlock{Kind: subkind, Outputs: outputs, Default: def}
	if subkind == SwitchRangeCase {
		b.Thresholds = selector
	} else {
		b.Cases = selector
	}
	return b, nil
}

// decodeCounter reads {min, max, step, initial int32, flags uint8}
// (spec §4.B "Counter"): flags bit0=wrap, bit1=edge_mode.
func decodeCounter(params []byte) (Block, error) {
	if len(params) < 17 {
		return nil, ErrShortConfig
	}
	cfg := blocks.CounterConfig{
		Min:      int32(binary.BigEndian.Uint32(params[0:4])),
		Max:      int32(binary.BigEndian.Uint32(params[4:8])),
		Step:     int32(binary.BigEndian.Uint32(params[8:12])),
		Initial:  int32(binary.BigEndian.Uint32(params[12:16])),
		Wrap:     params[16]&0x01 != 0,
		EdgeMode: params[16]&0x02 != 0,
	}
	return NewCounterBlock(cfg), nil
}

// decodePID reads {kp, ki, kd, scale, deadband, out_min, out_max,
// integral_min, integral_max int32, flags uint8} (spec §4.B "PID"):
// flags bit0=d_on_error, bit1=reset_integral_on_setpoint_change.
func decodePID(params []byte) (Block, error) {
	if len(params) < 37 {
		return nil, ErrShortConfig
	}
	i32 := func(off int) int32 { return int32(binary.BigEndian.Uint32(params[off : off+4])) }
	cfg := blocks.PIDConfig{
		Kp:                            i32(0),
		Ki:                            i32(4),
		Kd:                            i32(8),
		Scale:                         i32(12),
		Deadband:                      i32(16),
		OutMin:                        i32(20),
		OutMax:                        i32(24),
		IntegralMin:                   i32(28),
		IntegralMax:                   i32(32),
		DOnError:                      params[36]&0x01 != 0,
		ResetIntegralOnSetpointChange: params[36]&0x02 != 0,
	}
	return NewPIDBlock(cfg), nil
}

// decodeSMA reads {window uint16} (spec §4.B "SMA (<=16 samples)").
func decodeSMA(params []byte) (Block, error) {
	if len(params) < 2 {
		return nil, ErrShortConfig
	}
	b := &SMABlock{Cfg: blocks.SMAConfig{Window: int(binary.BigEndian.Uint16(params))}}
	blocks.InitSMA(&b.St, &b.Cfg)
	return b, nil
}

// decodeEMA reads {alpha uint8} (spec §4.B "EMA").
func decodeEMA(params []byte) (Block, error) {
	if len(params) < 1 {
		return nil, ErrShortConfig
	}
	b := &EMABlock{Cfg: blocks.EMAConfig{Alpha: params[0]}}
	blocks.InitEMA(&b.St, &b.Cfg)
	return b, nil
}

// decodeHysteresis reads {th_high, th_low int32, flags uint8} (spec
// §4.B "Hysteresis"): flags bit0=invert.
func decodeHysteresis(params []byte) (Block, error) {
	if len(params) < 9 {
		return nil, ErrShortConfig
	}
	cfg := blocks.HysteresisConfig{
		ThHigh: int32(binary.BigEndian.Uint32(params[0:4])),
		ThLow:  int32(binary.BigEndian.Uint32(params[4:8])),
		Invert: params[8]&0x01 != 0,
	}
	return &HysteresisBlock{Cfg: cfg}, nil
}

