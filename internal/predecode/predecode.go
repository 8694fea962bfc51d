// Package predecode lowers one function's raw Wasm bytecode to the fixed
// 8-byte predecoded instruction stream described in spec.md §4.2: a linear
// scan resolves every control-flow target and constant immediate ahead of
// time, so no tier re-parses LEB128 or walks a block stack at dispatch
// time.
package predecode

import (
	"github.com/pkg/errors"

	"github.com/wazgo/wazgo/internal/leb128"
	"github.com/wazgo/wazgo/internal/tracelog"
	"github.com/wazgo/wazgo/internal/wasm"
)

var log = tracelog.For("predecode")

// Instr is the packed predecoded instruction record (opcode, extra,
// operand). Opcodes at or below 0xFF mirror the raw Wasm opcode space;
// 0xFC00|sub and 0xFD00|sub host the misc and SIMD prefix sub-opcodes;
// 0xE0-0xEF host fused superinstructions; OpIfData and OpBrTableEntry are
// data-only slots that never reach the dispatch switch on their own.
type Instr struct {
	Op      uint16
	Extra   uint16
	Operand uint32
}

const (
	// OpIfData follows every `if` opener: Operand is the resolved end
	// target, Extra is 1 when an `else` is present, 0 otherwise.
	OpIfData uint16 = 0xff00
	// OpBrTableEntry holds one resolved branch target of a br_table; Extra
	// carries that target's branch arity.
	OpBrTableEntry uint16 = 0xff01
	// OpElseGoto is emitted where the raw `else` opcode appeared: it is the
	// true branch's unconditional jump past the false branch to the `if`'s
	// end, since the predecoded stream otherwise has no marker separating
	// the two branches. Operand is the resolved end target.
	OpElseGoto uint16 = 0xff02
)

// Fused superinstruction opcodes (spec.md §4.2's peephole fusion pass).
const (
	OpFusedLocalsGetGet  uint16 = 0xe0 // LOCALS_GET_GET(a, b)
	OpFusedLocalGetConst uint16 = 0xe1 // LOCAL_GET_CONST(a, c); c in Operand
	OpFusedLocalsAdd     uint16 = 0xe2
	OpFusedLocalsSub     uint16 = 0xe3
	OpFusedLocalsGtS     uint16 = 0xe4
	OpFusedLocalsLeS     uint16 = 0xe5
	OpFusedLocalConstAdd uint16 = 0xe6
	OpFusedLocalConstSub uint16 = 0xe7
	OpFusedLocalConstLtS uint16 = 0xe8
	OpFusedLocalConstGeS uint16 = 0xe9
	OpFusedLocalConstLtU uint16 = 0xea
)

func miscOp(sub byte) uint16 { return 0xfc00 | uint16(sub) }

// ArityUnresolved, set on bit 15 of a block opener's Extra, means the
// arity must be resolved against the module's type table rather than read
// directly (spec.md §4.1's predecoded-instruction description).
const arityResolveBit uint16 = 1 << 15

// Function is the predecoder's output for one Wasm function body.
type Function struct {
	Instrs   []Instr
	Pool64   []uint64 // i64.const / f64.const constant pool, indexed by Operand
	NumLocal int      // params + declared locals
}

type blockKind byte

const (
	blockKindBlock blockKind = iota
	blockKindLoop
	blockKindIf
)

type blockCtx struct {
	kind        blockKind
	openerIdx   int
	ifDataIdx   int // only for blockKindIf: index of the OpIfData slot
	elseGotoIdx int // only for blockKindIf with an else: index of the OpElseGoto slot
	hasElse     bool
	resultAr    int   // branch arity when exiting forward (block/if)
	paramAr     int   // branch arity when looping back (loop)
	patchEnd    []int // stream indices whose Operand must become postEndIdx
}

type cursor struct {
	buf    []byte
	offset int
}

func (c *cursor) byte() (byte, error) {
	if c.offset >= len(c.buf) {
		return 0, leb128.ErrEndOfStream
	}
	b := c.buf[c.offset]
	c.offset++
	return b, nil
}

func (c *cursor) u32() (uint32, error) {
	v, n, err := leb128.DecodeUint32(c.buf, uint64(c.offset))
	if err != nil {
		return 0, err
	}
	c.offset += int(n)
	return v, nil
}

func (c *cursor) i32() (int32, error) {
	v, n, err := leb128.DecodeInt32(c.buf, uint64(c.offset))
	if err != nil {
		return 0, err
	}
	c.offset += int(n)
	return v, nil
}

func (c *cursor) i64() (int64, error) {
	v, n, err := leb128.DecodeInt64(c.buf, uint64(c.offset))
	if err != nil {
		return 0, err
	}
	c.offset += int(n)
	return v, nil
}

func (c *cursor) i33() (int64, error) {
	v, n, err := leb128.DecodeInt33AsInt64(c.buf, uint64(c.offset))
	if err != nil {
		return 0, err
	}
	c.offset += int(n)
	return v, nil
}

func (c *cursor) raw(n int) ([]byte, error) {
	if c.offset+n > len(c.buf) {
		return nil, leb128.ErrEndOfStream
	}
	b := c.buf[c.offset : c.offset+n]
	c.offset += n
	return b, nil
}

// ErrUnsupported signals the bail-out case of spec.md §4.2 step 7: any
// SIMD opcode encountered makes this function's predecoding give up, with
// no partial stream. The Tier-1 engine then records the function as
// unsupported and every call to it traps; no tier executes raw bytecode.
var ErrUnsupported = errors.New("predecode: function uses an unsupported (SIMD) opcode")

// Predecode lowers one function body (locals already expanded into
// numLocalDecls, followed by the instruction stream up to and including
// the final `end`) into a Function. moduleTypes resolves multi-value
// block types.
func Predecode(body []byte, numParams int, localTypes []wasm.ValueType, moduleTypes []*wasm.FunctionType) (*Function, error) {
	log.WithField("bytes", len(body)).Debug("predecoding function body")
	c := &cursor{buf: body}
	f := &Function{NumLocal: numParams + len(localTypes)}

	var stack []*blockCtx
	// The implicit function-level block, whose "end" is the function's own
	// trailing end and whose branch target (return) isn't resolved via the
	// normal block stack but via OpcodeReturn at dispatch time.
	stack = append(stack, &blockCtx{kind: blockKindBlock})

	for {
		if c.offset >= len(body) {
			return nil, errors.New("predecode: truncated function body")
		}
		op, err := c.byte()
		if err != nil {
			return nil, err
		}

		switch op {
		case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
			resultAr, paramAr, err := blockArity(c, moduleTypes)
			if err != nil {
				return nil, err
			}
			idx := len(f.Instrs)
			f.Instrs = append(f.Instrs, Instr{Op: uint16(op)})
			bc := &blockCtx{openerIdx: idx, resultAr: resultAr, paramAr: paramAr}
			switch op {
			case wasm.OpcodeLoop:
				bc.kind = blockKindLoop
			case wasm.OpcodeIf:
				bc.kind = blockKindIf
				dataIdx := len(f.Instrs)
				f.Instrs = append(f.Instrs, Instr{Op: OpIfData})
				bc.ifDataIdx = dataIdx
			default:
				bc.kind = blockKindBlock
			}
			stack = append(stack, bc)

		case wasm.OpcodeElse:
			top := stack[len(stack)-1]
			if top.kind != blockKindIf {
				return nil, errors.New("predecode: else without matching if")
			}
			top.hasElse = true
			top.elseGotoIdx = len(f.Instrs)
			f.Instrs = append(f.Instrs, Instr{Op: OpElseGoto})
			f.Instrs[top.openerIdx].Operand = uint32(len(f.Instrs))

		case wasm.OpcodeEnd:
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				// Function-level end: emit it so Tier-1 can treat falling
				// off the end the same as an explicit return.
				f.Instrs = append(f.Instrs, Instr{Op: uint16(op)})
				goto done
			}
			postEnd := len(f.Instrs)
			f.Instrs = append(f.Instrs, Instr{Op: uint16(op)})
			switch top.kind {
			case blockKindIf:
				if !top.hasElse {
					f.Instrs[top.openerIdx].Operand = uint32(postEnd)
				} else {
					f.Instrs[top.elseGotoIdx].Operand = uint32(postEnd)
				}
				f.Instrs[top.ifDataIdx].Operand = uint32(postEnd)
				if top.hasElse {
					f.Instrs[top.ifDataIdx].Extra = 1
				}
			case blockKindBlock:
				f.Instrs[top.openerIdx].Operand = uint32(postEnd)
			case blockKindLoop:
				// A loop's own forward exit (falling through its end, as
				// opposed to branching to depth N) needs no patch: loop
				// bodies are entered once and exited either by falling
				// through here or by an explicit br.
			}
			for _, patchIdx := range top.patchEnd {
				f.Instrs[patchIdx].Operand = uint32(postEnd)
			}

		case wasm.OpcodeBr, wasm.OpcodeBrIf:
			depth, err := c.u32()
			if err != nil {
				return nil, err
			}
			idx := len(f.Instrs)
			f.Instrs = append(f.Instrs, Instr{Op: uint16(op)})
			arity := resolveBranchTarget(stack, int(depth), &f.Instrs, idx)
			f.Instrs[idx].Extra = uint16(arity)

		case wasm.OpcodeBrTable:
			count, err := c.u32()
			if err != nil {
				return nil, err
			}
			headIdx := len(f.Instrs)
			f.Instrs = append(f.Instrs, Instr{Op: uint16(op), Extra: uint16(count)})
			for i := uint32(0); i <= count; i++ {
				depth, err := c.u32()
				if err != nil {
					return nil, err
				}
				entryIdx := len(f.Instrs)
				f.Instrs = append(f.Instrs, Instr{Op: OpBrTableEntry})
				arity := resolveBranchTarget(stack, int(depth), &f.Instrs, entryIdx)
				f.Instrs[entryIdx].Extra = uint16(arity)
			}
			_ = headIdx

		case wasm.OpcodeReturn, wasm.OpcodeUnreachable, wasm.OpcodeNop,
			wasm.OpcodeDrop, wasm.OpcodeSelect,
			wasm.OpcodeI32Eqz, wasm.OpcodeI32Eq, wasm.OpcodeI32Ne,
			wasm.OpcodeI32LtS, wasm.OpcodeI32LtU, wasm.OpcodeI32GtS, wasm.OpcodeI32GtU,
			wasm.OpcodeI32LeS, wasm.OpcodeI32LeU, wasm.OpcodeI32GeS, wasm.OpcodeI32GeU,
			wasm.OpcodeI64Eqz, wasm.OpcodeI64Eq, wasm.OpcodeI64Ne,
			wasm.OpcodeI64LtS, wasm.OpcodeI64LtU, wasm.OpcodeI64GtS, wasm.OpcodeI64GtU,
			wasm.OpcodeI64LeS, wasm.OpcodeI64LeU, wasm.OpcodeI64GeS, wasm.OpcodeI64GeU,
			wasm.OpcodeF32Eq, wasm.OpcodeF32Ne, wasm.OpcodeF32Lt, wasm.OpcodeF32Gt, wasm.OpcodeF32Le, wasm.OpcodeF32Ge,
			wasm.OpcodeF64Eq, wasm.OpcodeF64Ne, wasm.OpcodeF64Lt, wasm.OpcodeF64Gt, wasm.OpcodeF64Le, wasm.OpcodeF64Ge,
			wasm.OpcodeI32Clz, wasm.OpcodeI32Ctz, wasm.OpcodeI32Popcnt,
			wasm.OpcodeI32Add, wasm.OpcodeI32Sub, wasm.OpcodeI32Mul,
			wasm.OpcodeI32DivS, wasm.OpcodeI32DivU, wasm.OpcodeI32RemS, wasm.OpcodeI32RemU,
			wasm.OpcodeI32And, wasm.OpcodeI32Or, wasm.OpcodeI32Xor,
			wasm.OpcodeI32Shl, wasm.OpcodeI32ShrS, wasm.OpcodeI32ShrU, wasm.OpcodeI32Rotl, wasm.OpcodeI32Rotr,
			wasm.OpcodeI64Clz, wasm.OpcodeI64Ctz, wasm.OpcodeI64Popcnt,
			wasm.OpcodeI64Add, wasm.OpcodeI64Sub, wasm.OpcodeI64Mul,
			wasm.OpcodeI64DivS, wasm.OpcodeI64DivU, wasm.OpcodeI64RemS, wasm.OpcodeI64RemU,
			wasm.OpcodeI64And, wasm.OpcodeI64Or, wasm.OpcodeI64Xor,
			wasm.OpcodeI64Shl, wasm.OpcodeI64ShrS, wasm.OpcodeI64ShrU, wasm.OpcodeI64Rotl, wasm.OpcodeI64Rotr,
			wasm.OpcodeF32Abs, wasm.OpcodeF32Neg, wasm.OpcodeF32Ceil, wasm.OpcodeF32Floor,
			wasm.OpcodeF32Trunc, wasm.OpcodeF32Nearest, wasm.OpcodeF32Sqrt,
			wasm.OpcodeF32Add, wasm.OpcodeF32Sub, wasm.OpcodeF32Mul, wasm.OpcodeF32Div,
			wasm.OpcodeF32Min, wasm.OpcodeF32Max, wasm.OpcodeF32Copysign,
			wasm.OpcodeF64Abs, wasm.OpcodeF64Neg, wasm.OpcodeF64Ceil, wasm.OpcodeF64Floor,
			wasm.OpcodeF64Trunc, wasm.OpcodeF64Nearest, wasm.OpcodeF64Sqrt,
			wasm.OpcodeF64Add, wasm.OpcodeF64Sub, wasm.OpcodeF64Mul, wasm.OpcodeF64Div,
			wasm.OpcodeF64Min, wasm.OpcodeF64Max, wasm.OpcodeF64Copysign,
			wasm.OpcodeI32WrapI64,
			wasm.OpcodeI32TruncF32S, wasm.OpcodeI32TruncF32U, wasm.OpcodeI32TruncF64S, wasm.OpcodeI32TruncF64U,
			wasm.OpcodeI64ExtendI32S, wasm.OpcodeI64ExtendI32U,
			wasm.OpcodeI64TruncF32S, wasm.OpcodeI64TruncF32U, wasm.OpcodeI64TruncF64S, wasm.OpcodeI64TruncF64U,
			wasm.OpcodeF32ConvertI32S, wasm.OpcodeF32ConvertI32U, wasm.OpcodeF32ConvertI64S, wasm.OpcodeF32ConvertI64U,
			wasm.OpcodeF32DemoteF64,
			wasm.OpcodeF64ConvertI32S, wasm.OpcodeF64ConvertI32U, wasm.OpcodeF64ConvertI64S, wasm.OpcodeF64ConvertI64U,
			wasm.OpcodeF64PromoteF32,
			wasm.OpcodeI32ReinterpretF32, wasm.OpcodeI64ReinterpretF64,
			wasm.OpcodeF32ReinterpretI32, wasm.OpcodeF64ReinterpretI64,
			wasm.OpcodeI32Extend8S, wasm.OpcodeI32Extend16S,
			wasm.OpcodeI64Extend8S, wasm.OpcodeI64Extend16S, wasm.OpcodeI64Extend32S,
			wasm.OpcodeRefIsNull:
			f.Instrs = append(f.Instrs, Instr{Op: uint16(op)})

		case wasm.OpcodeSelectT:
			n, err := c.u32()
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < n; i++ {
				if _, err := c.byte(); err != nil { // value type, unused at runtime
					return nil, err
				}
			}
			f.Instrs = append(f.Instrs, Instr{Op: uint16(op)})

		case wasm.OpcodeLocalGet, wasm.OpcodeLocalSet, wasm.OpcodeLocalTee,
			wasm.OpcodeGlobalGet, wasm.OpcodeGlobalSet,
			wasm.OpcodeTableGet, wasm.OpcodeTableSet,
			wasm.OpcodeCall:
			idx, err := c.u32()
			if err != nil {
				return nil, err
			}
			f.Instrs = append(f.Instrs, Instr{Op: uint16(op), Operand: idx})

		case wasm.OpcodeCallIndirect:
			typeIdx, err := c.u32()
			if err != nil {
				return nil, err
			}
			tableIdx, err := c.u32()
			if err != nil {
				return nil, err
			}
			f.Instrs = append(f.Instrs, Instr{Op: uint16(op), Extra: uint16(tableIdx), Operand: typeIdx})

		case wasm.OpcodeI32Load, wasm.OpcodeI64Load, wasm.OpcodeF32Load, wasm.OpcodeF64Load,
			wasm.OpcodeI32Load8S, wasm.OpcodeI32Load8U, wasm.OpcodeI32Load16S, wasm.OpcodeI32Load16U,
			wasm.OpcodeI64Load8S, wasm.OpcodeI64Load8U, wasm.OpcodeI64Load16S, wasm.OpcodeI64Load16U,
			wasm.OpcodeI64Load32S, wasm.OpcodeI64Load32U,
			wasm.OpcodeI32Store, wasm.OpcodeI64Store, wasm.OpcodeF32Store, wasm.OpcodeF64Store,
			wasm.OpcodeI32Store8, wasm.OpcodeI32Store16, wasm.OpcodeI64Store8, wasm.OpcodeI64Store16, wasm.OpcodeI64Store32:
			align, err := c.u32()
			if err != nil {
				return nil, err
			}
			offset, err := c.u32()
			if err != nil {
				return nil, err
			}
			f.Instrs = append(f.Instrs, Instr{Op: uint16(op), Extra: uint16(align), Operand: offset})

		case wasm.OpcodeMemorySize, wasm.OpcodeMemoryGrow:
			if _, err := c.byte(); err != nil { // reserved memory index, always 0
				return nil, err
			}
			f.Instrs = append(f.Instrs, Instr{Op: uint16(op)})

		case wasm.OpcodeI32Const:
			v, err := c.i32()
			if err != nil {
				return nil, err
			}
			f.Instrs = append(f.Instrs, Instr{Op: uint16(op), Operand: uint32(v)})

		case wasm.OpcodeF32Const:
			b, err := c.raw(4)
			if err != nil {
				return nil, err
			}
			f.Instrs = append(f.Instrs, Instr{Op: uint16(op), Operand: le32(b)})

		case wasm.OpcodeI64Const:
			v, err := c.i64()
			if err != nil {
				return nil, err
			}
			f.Instrs = append(f.Instrs, Instr{Op: uint16(op), Operand: uint32(len(f.Pool64))})
			f.Pool64 = append(f.Pool64, uint64(v))

		case wasm.OpcodeF64Const:
			b, err := c.raw(8)
			if err != nil {
				return nil, err
			}
			f.Instrs = append(f.Instrs, Instr{Op: uint16(op), Operand: uint32(len(f.Pool64))})
			f.Pool64 = append(f.Pool64, le64(b))

		case wasm.OpcodeRefNull:
			if _, err := c.byte(); err != nil { // ref type, always funcref/externref
				return nil, err
			}
			f.Instrs = append(f.Instrs, Instr{Op: uint16(op)})

		case wasm.OpcodeRefFunc:
			idx, err := c.u32()
			if err != nil {
				return nil, err
			}
			f.Instrs = append(f.Instrs, Instr{Op: uint16(op), Operand: idx})

		case wasm.OpcodeMiscPrefix:
			sub, err := c.byte()
			if err != nil {
				return nil, err
			}
			instr, err := decodeMiscOp(c, sub)
			if err != nil {
				return nil, err
			}
			f.Instrs = append(f.Instrs, instr)

		case wasm.OpcodeVecPrefix, wasm.OpcodeAtomicPrefix:
			return nil, ErrUnsupported

		default:
			return nil, errors.Errorf("predecode: unrecognized opcode %#x", op)
		}
	}
done:
	fuse(f.Instrs)
	return f, nil
}

func decodeMiscOp(c *cursor, sub byte) (Instr, error) {
	switch sub {
	case wasm.OpcodeMiscI32TruncSatF32S, wasm.OpcodeMiscI32TruncSatF32U,
		wasm.OpcodeMiscI32TruncSatF64S, wasm.OpcodeMiscI32TruncSatF64U,
		wasm.OpcodeMiscI64TruncSatF32S, wasm.OpcodeMiscI64TruncSatF32U,
		wasm.OpcodeMiscI64TruncSatF64S, wasm.OpcodeMiscI64TruncSatF64U:
		return Instr{Op: miscOp(sub)}, nil
	case wasm.OpcodeMiscMemoryInit:
		dataIdx, err := c.u32()
		if err != nil {
			return Instr{}, err
		}
		if _, err := c.byte(); err != nil { // memory index, always 0
			return Instr{}, err
		}
		return Instr{Op: miscOp(sub), Operand: dataIdx}, nil
	case wasm.OpcodeMiscDataDrop:
		idx, err := c.u32()
		if err != nil {
			return Instr{}, err
		}
		return Instr{Op: miscOp(sub), Operand: idx}, nil
	case wasm.OpcodeMiscMemoryCopy:
		if _, err := c.byte(); err != nil {
			return Instr{}, err
		}
		if _, err := c.byte(); err != nil {
			return Instr{}, err
		}
		return Instr{Op: miscOp(sub)}, nil
	case wasm.OpcodeMiscMemoryFill:
		if _, err := c.byte(); err != nil {
			return Instr{}, err
		}
		return Instr{Op: miscOp(sub)}, nil
	case wasm.OpcodeMiscTableInit:
		elemIdx, err := c.u32()
		if err != nil {
			return Instr{}, err
		}
		tableIdx, err := c.u32()
		if err != nil {
			return Instr{}, err
		}
		return Instr{Op: miscOp(sub), Extra: uint16(tableIdx), Operand: elemIdx}, nil
	case wasm.OpcodeMiscElemDrop:
		idx, err := c.u32()
		if err != nil {
			return Instr{}, err
		}
		return Instr{Op: miscOp(sub), Operand: idx}, nil
	case wasm.OpcodeMiscTableCopy:
		dst, err := c.u32()
		if err != nil {
			return Instr{}, err
		}
		src, err := c.u32()
		if err != nil {
			return Instr{}, err
		}
		return Instr{Op: miscOp(sub), Extra: uint16(dst), Operand: src}, nil
	case wasm.OpcodeMiscTableGrow, wasm.OpcodeMiscTableSize, wasm.OpcodeMiscTableFill:
		idx, err := c.u32()
		if err != nil {
			return Instr{}, err
		}
		return Instr{Op: miscOp(sub), Operand: idx}, nil
	default:
		return Instr{}, errors.Errorf("predecode: unrecognized misc sub-opcode %#x", sub)
	}
}

// resolveBranchTarget resolves depth (0 = innermost enclosing block) to a
// stream index and patches it into the instruction about to be emitted at
// instrIdx, returning the branch arity to thread into Extra. Forward
// targets (block/if) that aren't resolved yet are added to that block's
// patch list instead, and the end patch pass fills in Operand later.
func resolveBranchTarget(stack []*blockCtx, depth int, instrs *[]Instr, instrIdx int) int {
	// stack[0] is the function-level pseudo block: an out-of-range depth
	// (branching past the function itself) falls to it, which we treat as
	// a return-like fall-through with arity 0; real modules never do this.
	clamped := depth
	if clamped > len(stack)-1 {
		clamped = len(stack) - 1
	}
	target := stack[len(stack)-1-clamped]
	if target.kind == blockKindLoop {
		// A loop's head is already at a known stream index: resolve
		// immediately, no patching needed.
		(*instrs)[instrIdx].Operand = uint32(target.openerIdx)
		return target.paramAr
	}
	target.patchEnd = append(target.patchEnd, instrIdx)
	return target.resultAr
}

// blockArity decodes a block's type immediate (signed LEB128, 33 bits)
// and returns (resultArity, paramArity) per spec.md §3's block type
// encoding: -0x40 is empty (0,0); -0x01..-0x04 is a single result type
// (1,0); non-negative is a type-section index.
func blockArity(c *cursor, moduleTypes []*wasm.FunctionType) (resultAr, paramAr int, err error) {
	v, err := c.i33()
	if err != nil {
		return 0, 0, err
	}
	switch {
	case v == wasm.BlockTypeEmpty:
		return 0, 0, nil
	case v < 0:
		return 1, 0, nil
	default:
		t := moduleTypes[v]
		return len(t.Results), len(t.Params), nil
	}
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func le64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
