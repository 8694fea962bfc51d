package interpreter

import (
	"context"
	"math"

	"github.com/pkg/errors"

	"github.com/wazgo/wazgo/internal/predecode"
	"github.com/wazgo/wazgo/internal/wasm"
)

// miscOp mirrors predecode's own (unexported) packing of a misc sub-opcode
// into the 0xFC00 band; kept duplicated here rather than exported, the same
// way predecode keeps its own le32/le64 rather than sharing a util package.
func miscOp(sub byte) uint16 { return 0xfc00 | uint16(sub) }

func b2u64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// exec runs fr's instruction stream to completion: a normal return means fr
// either hit the function-level `end` or an explicit `return`, with results
// left on top of fr.stack for run() to slice off. Any non-nil error is a
// trap or host-call failure; the caller does not resume fr afterward.
func (me *moduleEngine) exec(ctx context.Context, callCtx *wasm.CallContext, fr *vmFrame) error {
	inst := callCtx.Instance()

	for {
		if fr.pc >= len(fr.instrs) {
			return errors.New("interpreter: fell off the end of the instruction stream")
		}
		in := fr.instrs[fr.pc]

		switch in.Op {

		// --- control flow ---

		case uint16(wasm.OpcodeUnreachable):
			return wasm.ErrUnreachable

		case uint16(wasm.OpcodeNop), uint16(wasm.OpcodeBlock), uint16(wasm.OpcodeLoop):
			fr.pc++

		case uint16(wasm.OpcodeIf):
			if fr.pop() == 0 {
				fr.pc = int(in.Operand)
			} else {
				fr.pc += 2 // fall into the true branch, past the OpIfData slot
			}

		case predecode.OpIfData:
			// Reachable only if control fell through sequentially instead of
			// jumping, which means an opener's Operand was never patched.
			return errors.New("interpreter: BUG: fell into an if-data slot")

		case predecode.OpElseGoto:
			fr.pc = int(in.Operand)

		case uint16(wasm.OpcodeEnd):
			if fr.pc == len(fr.instrs)-1 {
				return nil
			}
			fr.pc++

		case uint16(wasm.OpcodeBr):
			fr.branch(int(in.Operand), int(in.Extra))

		case uint16(wasm.OpcodeBrIf):
			if fr.pop() != 0 {
				fr.branch(int(in.Operand), int(in.Extra))
			} else {
				fr.pc++
			}

		case uint16(wasm.OpcodeBrTable):
			idx := fr.pop()
			if idx > uint64(in.Extra) {
				idx = uint64(in.Extra)
			}
			entry := fr.instrs[fr.pc+1+int(idx)]
			fr.branch(int(entry.Operand), int(entry.Extra))

		case predecode.OpBrTableEntry:
			return errors.New("interpreter: BUG: fell into a br_table entry")

		case uint16(wasm.OpcodeReturn):
			return nil

		case uint16(wasm.OpcodeCall):
			fi := inst.Functions[in.Operand]
			n := len(fi.Type.Params)
			args := append([]uint64{}, fr.stack[len(fr.stack)-n:]...)
			fr.stack = fr.stack[:len(fr.stack)-n]
			results, err := me.Call(ctx, callCtx, in.Operand, args)
			if err != nil {
				return err
			}
			fr.stack = append(fr.stack, results...)
			fr.pc++

		case uint16(wasm.OpcodeCallIndirect):
			table := inst.Tables[in.Extra]
			expectedID := inst.TypeIDs[in.Operand]
			elemIdx := uint32(fr.pop())
			fnIdx, err := me.LookupEntry(table, elemIdx, expectedID)
			if err != nil {
				return err
			}
			ft := inst.Types[in.Operand]
			n := len(ft.Params)
			args := append([]uint64{}, fr.stack[len(fr.stack)-n:]...)
			fr.stack = fr.stack[:len(fr.stack)-n]
			results, err := me.Call(ctx, callCtx, fnIdx, args)
			if err != nil {
				return err
			}
			fr.stack = append(fr.stack, results...)
			fr.pc++

		// --- parametric ---

		case uint16(wasm.OpcodeDrop):
			fr.pop()
			fr.pc++

		case uint16(wasm.OpcodeSelect), uint16(wasm.OpcodeSelectT):
			cond := fr.pop()
			v2 := fr.pop()
			v1 := fr.pop()
			if cond != 0 {
				fr.push(v1)
			} else {
				fr.push(v2)
			}
			fr.pc++

		// --- variable ---

		case uint16(wasm.OpcodeLocalGet):
			fr.push(fr.locals[in.Operand])
			fr.pc++
		case uint16(wasm.OpcodeLocalSet):
			fr.locals[in.Operand] = fr.pop()
			fr.pc++
		case uint16(wasm.OpcodeLocalTee):
			fr.locals[in.Operand] = fr.top()
			fr.pc++
		case uint16(wasm.OpcodeGlobalGet):
			fr.push(inst.Globals[in.Operand].Get())
			fr.pc++
		case uint16(wasm.OpcodeGlobalSet):
			inst.Globals[in.Operand].Set(fr.pop())
			fr.pc++

		// --- table ---

		case uint16(wasm.OpcodeTableGet):
			table := inst.Tables[in.Operand]
			idx := uint32(fr.pop())
			if idx >= uint32(len(table.Elements)) {
				return errors.Wrap(wasm.ErrTrap, "table.get: index out of bounds")
			}
			fr.push(uint64(table.Elements[idx]))
			fr.pc++
		case uint16(wasm.OpcodeTableSet):
			table := inst.Tables[in.Operand]
			val := int64(fr.pop())
			idx := uint32(fr.pop())
			if idx >= uint32(len(table.Elements)) {
				return errors.Wrap(wasm.ErrTrap, "table.set: index out of bounds")
			}
			table.Elements[idx] = val
			fr.pc++

		// --- memory load ---

		case uint16(wasm.OpcodeI32Load):
			v, err := loadU32(inst, fr, in)
			if err != nil {
				return err
			}
			fr.push(uint64(v))
			fr.pc++
		case uint16(wasm.OpcodeI64Load):
			v, err := loadU64(inst, fr, in)
			if err != nil {
				return err
			}
			fr.push(v)
			fr.pc++
		case uint16(wasm.OpcodeF32Load):
			v, err := loadU32(inst, fr, in)
			if err != nil {
				return err
			}
			fr.push(uint64(v))
			fr.pc++
		case uint16(wasm.OpcodeF64Load):
			v, err := loadU64(inst, fr, in)
			if err != nil {
				return err
			}
			fr.push(v)
			fr.pc++
		case uint16(wasm.OpcodeI32Load8S):
			v, err := loadByte(inst, fr, in)
			if err != nil {
				return err
			}
			fr.push(uint64(uint32(int32(int8(v)))))
			fr.pc++
		case uint16(wasm.OpcodeI32Load8U):
			v, err := loadByte(inst, fr, in)
			if err != nil {
				return err
			}
			fr.push(uint64(v))
			fr.pc++
		case uint16(wasm.OpcodeI32Load16S):
			v, err := loadU16(inst, fr, in)
			if err != nil {
				return err
			}
			fr.push(uint64(uint32(int32(int16(v)))))
			fr.pc++
		case uint16(wasm.OpcodeI32Load16U):
			v, err := loadU16(inst, fr, in)
			if err != nil {
				return err
			}
			fr.push(uint64(v))
			fr.pc++
		case uint16(wasm.OpcodeI64Load8S):
			v, err := loadByte(inst, fr, in)
			if err != nil {
				return err
			}
			fr.push(uint64(int64(int8(v))))
			fr.pc++
		case uint16(wasm.OpcodeI64Load8U):
			v, err := loadByte(inst, fr, in)
			if err != nil {
				return err
			}
			fr.push(uint64(v))
			fr.pc++
		case uint16(wasm.OpcodeI64Load16S):
			v, err := loadU16(inst, fr, in)
			if err != nil {
				return err
			}
			fr.push(uint64(int64(int16(v))))
			fr.pc++
		case uint16(wasm.OpcodeI64Load16U):
			v, err := loadU16(inst, fr, in)
			if err != nil {
				return err
			}
			fr.push(uint64(v))
			fr.pc++
		case uint16(wasm.OpcodeI64Load32S):
			v, err := loadU32(inst, fr, in)
			if err != nil {
				return err
			}
			fr.push(uint64(int64(int32(v))))
			fr.pc++
		case uint16(wasm.OpcodeI64Load32U):
			v, err := loadU32(inst, fr, in)
			if err != nil {
				return err
			}
			fr.push(uint64(v))
			fr.pc++

		// --- memory store ---

		case uint16(wasm.OpcodeI32Store):
			v := uint32(fr.pop())
			base := uint32(fr.pop())
			if !inst.Mem.WriteUint32(uint64(base)+uint64(in.Operand), v) {
				return wasm.ErrOutOfBoundsMemoryAccess
			}
			fr.pc++
		case uint16(wasm.OpcodeI64Store):
			v := fr.pop()
			base := uint32(fr.pop())
			if !inst.Mem.WriteUint64(uint64(base)+uint64(in.Operand), v) {
				return wasm.ErrOutOfBoundsMemoryAccess
			}
			fr.pc++
		case uint16(wasm.OpcodeF32Store):
			v := uint32(fr.pop())
			base := uint32(fr.pop())
			if !inst.Mem.WriteUint32(uint64(base)+uint64(in.Operand), v) {
				return wasm.ErrOutOfBoundsMemoryAccess
			}
			fr.pc++
		case uint16(wasm.OpcodeF64Store):
			v := fr.pop()
			base := uint32(fr.pop())
			if !inst.Mem.WriteUint64(uint64(base)+uint64(in.Operand), v) {
				return wasm.ErrOutOfBoundsMemoryAccess
			}
			fr.pc++
		case uint16(wasm.OpcodeI32Store8), uint16(wasm.OpcodeI64Store8):
			v := byte(fr.pop())
			base := uint32(fr.pop())
			if !inst.Mem.WriteByte(uint64(base)+uint64(in.Operand), v) {
				return wasm.ErrOutOfBoundsMemoryAccess
			}
			fr.pc++
		case uint16(wasm.OpcodeI32Store16), uint16(wasm.OpcodeI64Store16):
			v := uint16(fr.pop())
			base := uint32(fr.pop())
			if !inst.Mem.WriteUint16(uint64(base)+uint64(in.Operand), v) {
				return wasm.ErrOutOfBoundsMemoryAccess
			}
			fr.pc++
		case uint16(wasm.OpcodeI64Store32):
			v := uint32(fr.pop())
			base := uint32(fr.pop())
			if !inst.Mem.WriteUint32(uint64(base)+uint64(in.Operand), v) {
				return wasm.ErrOutOfBoundsMemoryAccess
			}
			fr.pc++

		case uint16(wasm.OpcodeMemorySize):
			fr.push(uint64(inst.Mem.Size()))
			fr.pc++
		case uint16(wasm.OpcodeMemoryGrow):
			delta := uint32(fr.pop())
			prev, ok := inst.Mem.Grow(delta)
			if !ok {
				fr.push(uint64(uint32(0xffffffff)))
			} else {
				fr.push(uint64(prev))
			}
			fr.pc++

		// --- numeric const ---

		case uint16(wasm.OpcodeI32Const):
			fr.push(uint64(in.Operand))
			fr.pc++
		case uint16(wasm.OpcodeF32Const):
			fr.push(uint64(in.Operand))
			fr.pc++
		case uint16(wasm.OpcodeI64Const), uint16(wasm.OpcodeF64Const):
			fr.push(fr.pool64[in.Operand])
			fr.pc++

		// --- reference ---

		case uint16(wasm.OpcodeRefNull):
			fr.push(uint64(wasm.GlobalInstanceNullFuncRefValue))
			fr.pc++
		case uint16(wasm.OpcodeRefIsNull):
			fr.push(b2u64(int64(fr.pop()) == wasm.GlobalInstanceNullFuncRefValue))
			fr.pc++
		case uint16(wasm.OpcodeRefFunc):
			fr.push(uint64(in.Operand))
			fr.pc++

		// --- fused superinstructions ---

		case predecode.OpFusedLocalsGetGet:
			fr.push(fr.locals[in.Extra])
			fr.push(fr.locals[in.Operand])
			fr.pc += 2
		case predecode.OpFusedLocalGetConst:
			fr.push(fr.locals[in.Extra])
			fr.push(uint64(in.Operand))
			fr.pc += 2
		case predecode.OpFusedLocalsAdd:
			fr.push(uint64(uint32(fr.locals[in.Extra]) + uint32(fr.locals[in.Operand])))
			fr.pc += 3
		case predecode.OpFusedLocalsSub:
			fr.push(uint64(uint32(fr.locals[in.Extra]) - uint32(fr.locals[in.Operand])))
			fr.pc += 3
		case predecode.OpFusedLocalsGtS:
			fr.push(b2u64(int32(fr.locals[in.Extra]) > int32(fr.locals[in.Operand])))
			fr.pc += 3
		case predecode.OpFusedLocalsLeS:
			fr.push(b2u64(int32(fr.locals[in.Extra]) <= int32(fr.locals[in.Operand])))
			fr.pc += 3
		case predecode.OpFusedLocalConstAdd:
			fr.push(uint64(uint32(fr.locals[in.Extra]) + in.Operand))
			fr.pc += 3
		case predecode.OpFusedLocalConstSub:
			fr.push(uint64(uint32(fr.locals[in.Extra]) - in.Operand))
			fr.pc += 3
		case predecode.OpFusedLocalConstLtS:
			fr.push(b2u64(int32(fr.locals[in.Extra]) < int32(in.Operand)))
			fr.pc += 3
		case predecode.OpFusedLocalConstGeS:
			fr.push(b2u64(int32(fr.locals[in.Extra]) >= int32(in.Operand)))
			fr.pc += 3
		case predecode.OpFusedLocalConstLtU:
			fr.push(b2u64(uint32(fr.locals[in.Extra]) < in.Operand))
			fr.pc += 3

		// --- misc-prefixed (saturating trunc, bulk memory, bulk table) ---

		case miscOp(wasm.OpcodeMiscI32TruncSatF32S):
			fr.push(uint64(uint32(truncSatI32(float64(math.Float32frombits(uint32(fr.pop())))))))
			fr.pc++
		case miscOp(wasm.OpcodeMiscI32TruncSatF32U):
			fr.push(uint64(truncSatU32(float64(math.Float32frombits(uint32(fr.pop()))))))
			fr.pc++
		case miscOp(wasm.OpcodeMiscI32TruncSatF64S):
			fr.push(uint64(uint32(truncSatI32(math.Float64frombits(fr.pop())))))
			fr.pc++
		case miscOp(wasm.OpcodeMiscI32TruncSatF64U):
			fr.push(uint64(truncSatU32(math.Float64frombits(fr.pop()))))
			fr.pc++
		case miscOp(wasm.OpcodeMiscI64TruncSatF32S):
			fr.push(uint64(truncSatI64(float64(math.Float32frombits(uint32(fr.pop()))))))
			fr.pc++
		case miscOp(wasm.OpcodeMiscI64TruncSatF32U):
			fr.push(truncSatU64(float64(math.Float32frombits(uint32(fr.pop())))))
			fr.pc++
		case miscOp(wasm.OpcodeMiscI64TruncSatF64S):
			fr.push(uint64(truncSatI64(math.Float64frombits(fr.pop()))))
			fr.pc++
		case miscOp(wasm.OpcodeMiscI64TruncSatF64U):
			fr.push(truncSatU64(math.Float64frombits(fr.pop())))
			fr.pc++

		case miscOp(wasm.OpcodeMiscMemoryInit):
			n := uint32(fr.pop())
			src := uint32(fr.pop())
			dst := uint32(fr.pop())
			data := inst.DataInstances[in.Operand]
			if uint64(src)+uint64(n) > uint64(len(data)) {
				return wasm.ErrOutOfBoundsMemoryAccess
			}
			if !inst.Mem.Write(uint64(dst), data[src:src+n]) {
				return wasm.ErrOutOfBoundsMemoryAccess
			}
			fr.pc++
		case miscOp(wasm.OpcodeMiscDataDrop):
			inst.DataInstances[in.Operand] = nil
			fr.pc++
		case miscOp(wasm.OpcodeMiscMemoryCopy):
			n := fr.pop()
			src := fr.pop()
			dst := fr.pop()
			if !inst.Mem.CopyWithin(dst, src, n) {
				return wasm.ErrOutOfBoundsMemoryAccess
			}
			fr.pc++
		case miscOp(wasm.OpcodeMiscMemoryFill):
			n := fr.pop()
			v := byte(fr.pop())
			dst := fr.pop()
			if !inst.Mem.Fill(dst, v, n) {
				return wasm.ErrOutOfBoundsMemoryAccess
			}
			fr.pc++

		case miscOp(wasm.OpcodeMiscTableInit):
			elemIdx, tableIdx := in.Operand, uint32(in.Extra)
			n := uint32(fr.pop())
			src := uint32(fr.pop())
			dst := uint32(fr.pop())
			table := inst.Tables[tableIdx]
			var refs []int64
			if ei := inst.ElementInstances[elemIdx]; ei != nil {
				refs = ei.Refs
			}
			if uint64(src)+uint64(n) > uint64(len(refs)) || uint64(dst)+uint64(n) > uint64(len(table.Elements)) {
				return errors.Wrap(wasm.ErrTrap, "table.init: out of bounds")
			}
			copy(table.Elements[dst:dst+n], refs[src:src+n])
			fr.pc++
		case miscOp(wasm.OpcodeMiscElemDrop):
			inst.ElementInstances[in.Operand] = nil
			fr.pc++
		case miscOp(wasm.OpcodeMiscTableCopy):
			dstTable := inst.Tables[in.Extra]
			srcTable := inst.Tables[in.Operand]
			n := uint32(fr.pop())
			src := uint32(fr.pop())
			dst := uint32(fr.pop())
			if uint64(src)+uint64(n) > uint64(len(srcTable.Elements)) || uint64(dst)+uint64(n) > uint64(len(dstTable.Elements)) {
				return errors.Wrap(wasm.ErrTrap, "table.copy: out of bounds")
			}
			copy(dstTable.Elements[dst:dst+n], srcTable.Elements[src:src+n])
			fr.pc++
		case miscOp(wasm.OpcodeMiscTableGrow):
			table := inst.Tables[in.Operand]
			n := uint32(fr.pop())
			val := int64(fr.pop())
			prev, ok := table.Grow(n, val)
			if !ok {
				fr.push(uint64(uint32(0xffffffff)))
			} else {
				fr.push(uint64(prev))
			}
			fr.pc++
		case miscOp(wasm.OpcodeMiscTableSize):
			table := inst.Tables[in.Operand]
			fr.push(uint64(len(table.Elements)))
			fr.pc++
		case miscOp(wasm.OpcodeMiscTableFill):
			table := inst.Tables[in.Operand]
			n := uint32(fr.pop())
			val := int64(fr.pop())
			dst := uint32(fr.pop())
			if uint64(dst)+uint64(n) > uint64(len(table.Elements)) {
				return errors.Wrap(wasm.ErrTrap, "table.fill: out of bounds")
			}
			for i := dst; i < dst+n; i++ {
				table.Elements[i] = val
			}
			fr.pc++

		default:
			if err := execNumeric(fr, in); err != nil {
				return err
			}
		}
	}
}

func loadByte(inst *wasm.ModuleInstance, fr *vmFrame, in predecode.Instr) (byte, error) {
	base := uint32(fr.pop())
	v, ok := inst.Mem.ReadByte(uint64(base) + uint64(in.Operand))
	if !ok {
		return 0, wasm.ErrOutOfBoundsMemoryAccess
	}
	return v, nil
}

func loadU16(inst *wasm.ModuleInstance, fr *vmFrame, in predecode.Instr) (uint16, error) {
	base := uint32(fr.pop())
	v, ok := inst.Mem.ReadUint16(uint64(base) + uint64(in.Operand))
	if !ok {
		return 0, wasm.ErrOutOfBoundsMemoryAccess
	}
	return v, nil
}

func loadU32(inst *wasm.ModuleInstance, fr *vmFrame, in predecode.Instr) (uint32, error) {
	base := uint32(fr.pop())
	v, ok := inst.Mem.ReadUint32(uint64(base) + uint64(in.Operand))
	if !ok {
		return 0, wasm.ErrOutOfBoundsMemoryAccess
	}
	return v, nil
}

func loadU64(inst *wasm.ModuleInstance, fr *vmFrame, in predecode.Instr) (uint64, error) {
	base := uint32(fr.pop())
	v, ok := inst.Mem.ReadUint64(uint64(base) + uint64(in.Operand))
	if !ok {
		return 0, wasm.ErrOutOfBoundsMemoryAccess
	}
	return v, nil
}

func truncSatI32(f float64) int32 {
	if math.IsNaN(f) {
		return 0
	}
	if f <= math.MinInt32 {
		return math.MinInt32
	}
	if f >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(f)
}

func truncSatU32(f float64) uint32 {
	if math.IsNaN(f) || f <= 0 {
		return 0
	}
	if f >= math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(f)
}

func truncSatI64(f float64) int64 {
	if math.IsNaN(f) {
		return 0
	}
	if f <= math.MinInt64 {
		return math.MinInt64
	}
	if f >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(f)
}

func truncSatU64(f float64) uint64 {
	if math.IsNaN(f) || f <= 0 {
		return 0
	}
	if f >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(f)
}

// LookupEntry resolves a call_indirect's table slot to a function index,
// trapping on an out-of-range offset, a null entry, or a signature that
// doesn't match expectedTypeID (spec.md §4.7). Table elements are resolved
// against this ModuleEngine's own instance: wazgo doesn't support a table
// shared across instances holding entries from more than one of them.
func (me *moduleEngine) LookupEntry(t *wasm.TableInstance, tableOffset uint32, expectedTypeID wasm.FunctionTypeID) (wasm.Index, error) {
	if tableOffset >= uint32(len(t.Elements)) {
		return 0, errors.Wrap(wasm.ErrTrap, "call_indirect: undefined element")
	}
	ref := t.Elements[tableOffset]
	if ref == wasm.GlobalInstanceNullFuncRefValue {
		return 0, errors.Wrap(wasm.ErrTrap, "call_indirect: uninitialized element")
	}
	idx := wasm.Index(ref)
	if int(idx) >= len(me.instance.Functions) {
		return 0, errors.Wrap(wasm.ErrTrap, "call_indirect: index out of range")
	}
	if me.instance.Functions[idx].TypeID != expectedTypeID {
		return 0, errors.Wrap(wasm.ErrTrap, "call_indirect: type mismatch")
	}
	return idx, nil
}
