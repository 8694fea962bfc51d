// Package regirvm is the Tier-2 execution loop of spec.md §4.5: it
// consumes the register IR internal/regir produces and runs it against a
// per-frame virtual register file, using the same opcode semantics as
// Tier-1 (internal/engine/interpreter) but reading/writing registers
// instead of an operand stack. The ARM64 JIT (Tier-3) lowers no calls and
// does not use this package's CallFunc.
package regirvm

import (
	"context"
	"math"

	"github.com/wazgo/wazgo/internal/regir"
	"github.com/wazgo/wazgo/internal/wasm"
)

// CallFunc invokes another function (defined or imported) by its
// namespace index, the same shape as wasm.ModuleEngine.Call.
type CallFunc func(ctx context.Context, index wasm.Index, args []uint64) ([]uint64, error)

func b2u64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func f32bits(v uint64) float32 { return math.Float32frombits(uint32(v)) }
func f64bits(v uint64) float64 { return math.Float64frombits(v) }

// Run executes rf to completion and returns its results. globals and mem
// belong to the owning module instance; call resolves cross-function
// calls, including into host functions.
func Run(ctx context.Context, rf *regir.RegFunc, params []uint64, globals []*wasm.GlobalInstance, mem *wasm.MemoryInstance, call CallFunc) ([]uint64, error) {
	regs := make([]uint64, rf.NumRegs)
	copy(regs, params)

	pc := 0
	for {
		in := rf.Instrs[pc]
		switch in.Op {
		case regir.OpEnd, regir.OpReturn:
			out := make([]uint64, len(rf.ResultRegs))
			for i, r := range rf.ResultRegs {
				out[i] = regs[r]
			}
			return out, nil

		case regir.OpUnreachable:
			return nil, wasm.ErrUnreachable

		case regir.OpConst:
			regs[in.Dst] = uint64(in.Operand)
			pc++
		case regir.OpConst64:
			regs[in.Dst] = rf.Pool64[in.Operand]
			pc++
		case regir.OpMove:
			regs[in.Dst] = regs[in.A]
			pc++
		case regir.OpGlobalGet:
			regs[in.Dst] = globals[in.Operand].Get()
			pc++
		case regir.OpGlobalSet:
			globals[in.Operand].Set(regs[in.A])
			pc++
		case regir.OpSelect:
			if regs[in.Operand] != 0 {
				regs[in.Dst] = regs[in.A]
			} else {
				regs[in.Dst] = regs[in.B]
			}
			pc++

		case regir.OpBr:
			pc = int(in.Operand)
		case regir.OpBrIfZero:
			if regs[in.A] == 0 {
				pc = int(in.Operand)
			} else {
				pc++
			}
		case regir.OpBrIfNotZero:
			if regs[in.A] != 0 {
				pc = int(in.Operand)
			} else {
				pc++
			}

		case regir.OpCall:
			n := regir.CallArgCount(in.Extra)
			var args []uint64
			switch n {
			case 1:
				args = []uint64{regs[in.A]}
			case 2:
				args = []uint64{regs[in.A], regs[in.B]}
			}
			rvs, err := call(ctx, wasm.Index(in.Operand), args)
			if err != nil {
				return nil, err
			}
			if regir.CallHasResult(in.Extra) {
				regs[in.Dst] = rvs[0]
			}
			pc++

		default:
			if err := execDefault(in, regs, mem); err != nil {
				return nil, err
			}
			pc++
		}
	}
}
