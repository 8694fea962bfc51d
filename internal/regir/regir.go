// Package regir lowers a predecoded function to the three-operand register
// IR described in spec.md §4.3: the Wasm operand stack is simulated at
// compile time and each value produced gets a fresh virtual register,
// reusing freed registers from a free list. Parameters and locals occupy
// the lowest register indices, so no separate copy is needed to seed them.
//
// Compile bails out (ErrUnsupported) on shapes this tier doesn't lower:
// br_table, call_indirect, calls with more than two arguments or more than
// one result, and multi-value branch arities. Those functions stay pinned
// to the Tier-1 interpreter, the same "no partial compilation" rule
// spec.md §4.6 states for the JIT.
package regir

import (
	"github.com/pkg/errors"

	"github.com/wazgo/wazgo/internal/predecode"
	"github.com/wazgo/wazgo/internal/tracelog"
	"github.com/wazgo/wazgo/internal/wasm"
)

// ErrUnsupported means Compile encountered an instruction or control shape
// this tier doesn't lower; the caller should leave the function on Tier-1.
var ErrUnsupported = errors.New("regir: function uses an instruction this tier does not lower")

var log = tracelog.For("regir")

// Reg is a virtual register index. Registers 0..NumLocal-1 are the
// function's params and declared locals; everything above is compiler-
// assigned.
type Reg uint32

// Instr is a three-operand RegIR instruction: Dst = Op(A, B). Branch
// opcodes (OpBr/OpBrIfZero/OpBrIfNotZero) use Operand as a RegIR
// instruction index, resolved once the whole function body has been
// walked.
type Instr struct {
	Op      uint16
	Dst     Reg
	A       Reg
	B       Reg
	Operand uint32
	// Extra carries OpCall's argument count (0-2) in its low nibble and
	// whether it produces a result in bit 4; unused by every other opcode.
	Extra uint16
}

// CallArgCount and CallHasResult decode an OpCall instruction's Extra
// field, set by Compile.
func CallArgCount(extra uint16) int   { return int(extra & 0xf) }
func CallHasResult(extra uint16) bool { return extra&0x10 != 0 }

// RegFunc is one function's compiled register IR plus the constant pool
// carried over from its predecoded form.
type RegFunc struct {
	Instrs     []Instr
	Pool64     []uint64
	NumRegs    int   // register file size: locals, then compiler temporaries
	NumLocal   int   // params + declared locals
	NumParams  int
	Results    []wasm.ValueType
	ResultRegs []Reg // fixed registers the result values land in at every return path
}

type allocator struct {
	stackRegs []Reg
	nextReg   Reg
	freeList  []Reg
	instrs    []Instr
}

func (a *allocator) alloc() Reg {
	if n := len(a.freeList); n > 0 {
		r := a.freeList[n-1]
		a.freeList = a.freeList[:n-1]
		return r
	}
	r := a.nextReg
	a.nextReg++
	return r
}

func (a *allocator) free(r Reg) { a.freeList = append(a.freeList, r) }

func (a *allocator) push(r Reg) { a.stackRegs = append(a.stackRegs, r) }

// pop removes and returns the topmost simulated-stack register. Wasm's
// validation rules let a block's reachable-but-never-executed tail (code
// after return/br/unreachable within the same block) type-check against a
// polymorphic stack that this compile-time simulation doesn't model; such
// code never actually has real operands, so a pop on an empty stack
// synthesizes a fresh register rather than panicking.
func (a *allocator) pop() Reg {
	n := len(a.stackRegs)
	if n == 0 {
		return a.alloc()
	}
	r := a.stackRegs[n-1]
	a.stackRegs = a.stackRegs[:n-1]
	return r
}

func (a *allocator) top() Reg {
	if len(a.stackRegs) == 0 {
		return a.alloc()
	}
	return a.stackRegs[len(a.stackRegs)-1]
}

func (a *allocator) emit(in Instr) int {
	idx := len(a.instrs)
	a.instrs = append(a.instrs, in)
	return idx
}

// isBranch reports whether op's Operand holds a predecode-stream index
// that must be remapped to a RegIR instruction index during finalize.
func isBranch(op uint16) bool {
	return op == OpBr || op == OpBrIfZero || op == OpBrIfNotZero
}

// Compile lowers one predecoded function to register IR. funcTypes
// resolves call target arities; numParams/results describe the function's
// own signature.
func Compile(pf *predecode.Function, numParams int, results []wasm.ValueType, funcTypes []*wasm.FunctionType) (*RegFunc, error) {
	log.WithField("instrs", len(pf.Instrs)).Debug("lowering to register IR")
	a := &allocator{nextReg: Reg(pf.NumLocal)}
	resultRegs := make([]Reg, len(results))
	for i := range resultRegs {
		resultRegs[i] = a.alloc()
	}
	// emitResultMoves copies the top len(results) simulated-stack values
	// (in push order) into the fixed result registers, so every return
	// path — an explicit `return` or simply falling off the end — leaves
	// results in the same place for Run to read.
	emitResultMoves := func() {
		n := len(resultRegs)
		srcs := make([]Reg, n)
		for i := n - 1; i >= 0; i-- {
			srcs[i] = a.pop()
		}
		for i, src := range srcs {
			a.emit(Instr{Op: OpMove, Dst: resultRegs[i], A: src})
		}
	}
	// pcOf[i] is the RegIR instruction index that predecode instruction i's
	// own emitted code starts at (or, for markers that emit nothing, the
	// index of whatever comes next) — recorded before each instruction is
	// processed so forward branches to it resolve correctly.
	pcOf := make([]int, len(pf.Instrs)+1)

	for i, in := range pf.Instrs {
		pcOf[i] = len(a.instrs)

		switch {
		case in.Op == uint16(wasm.OpcodeI32Const) || in.Op == uint16(wasm.OpcodeF32Const):
			d := a.alloc()
			a.emit(Instr{Op: OpConst, Dst: d, Operand: in.Operand})
			a.push(d)

		case in.Op == uint16(wasm.OpcodeI64Const) || in.Op == uint16(wasm.OpcodeF64Const):
			d := a.alloc()
			a.emit(Instr{Op: OpConst64, Dst: d, Operand: in.Operand})
			a.push(d)

		case in.Op == uint16(wasm.OpcodeLocalGet):
			// Reading a local just pushes its own fixed register; no move.
			a.push(Reg(in.Operand))

		case in.Op == uint16(wasm.OpcodeLocalSet):
			v := a.pop()
			a.emit(Instr{Op: OpMove, Dst: Reg(in.Operand), A: v})

		case in.Op == uint16(wasm.OpcodeLocalTee):
			v := a.top()
			a.emit(Instr{Op: OpMove, Dst: Reg(in.Operand), A: v})

		case in.Op == uint16(wasm.OpcodeGlobalGet):
			d := a.alloc()
			a.emit(Instr{Op: OpGlobalGet, Dst: d, Operand: in.Operand})
			a.push(d)

		case in.Op == uint16(wasm.OpcodeGlobalSet):
			v := a.pop()
			a.emit(Instr{Op: OpGlobalSet, A: v, Operand: in.Operand})

		case in.Op == uint16(wasm.OpcodeDrop):
			a.free(a.pop())

		case in.Op == uint16(wasm.OpcodeSelect) || in.Op == uint16(wasm.OpcodeSelectT):
			cond := a.pop()
			v2 := a.pop()
			v1 := a.pop()
			d := a.alloc()
			a.emit(Instr{Op: OpSelect, Dst: d, A: v1, B: v2, Operand: uint32(cond)})
			a.push(d)

		case in.Op == uint16(wasm.OpcodeReturn):
			emitResultMoves()
			a.emit(Instr{Op: OpReturn})

		case in.Op == uint16(wasm.OpcodeUnreachable):
			a.emit(Instr{Op: OpUnreachable})

		case in.Op == uint16(wasm.OpcodeNop) || in.Op == uint16(wasm.OpcodeBlock) ||
			in.Op == uint16(wasm.OpcodeLoop) || in.Op == predecode.OpIfData:
			// Pure markers: no code emitted.

		case in.Op == uint16(wasm.OpcodeIf):
			cond := a.pop()
			// in.Operand is already the predecode-stream index of the false
			// branch (or the end, if there's no else) — see predecode.go.
			a.emit(Instr{Op: OpBrIfZero, A: cond, Operand: in.Operand})

		case in.Op == predecode.OpElseGoto:
			a.emit(Instr{Op: OpBr, Operand: in.Operand})

		case in.Op == uint16(wasm.OpcodeEnd):
			// No code: falling through to whatever pcOf of i+1 resolves to
			// (the function's own trailing end is handled by run()).

		case in.Op == uint16(wasm.OpcodeBr):
			if in.Extra > 1 {
				return nil, ErrUnsupported
			}
			a.emit(Instr{Op: OpBr, Operand: in.Operand})

		case in.Op == uint16(wasm.OpcodeBrIf):
			if in.Extra > 1 {
				return nil, ErrUnsupported
			}
			cond := a.pop()
			a.emit(Instr{Op: OpBrIfNotZero, A: cond, Operand: in.Operand})

		case in.Op == uint16(wasm.OpcodeBrTable):
			return nil, ErrUnsupported

		case in.Op == uint16(wasm.OpcodeCall):
			ft := funcTypes[in.Operand]
			if len(ft.Params) > 2 || len(ft.Results) > 1 {
				return nil, ErrUnsupported
			}
			var argA, argB Reg
			switch len(ft.Params) {
			case 1:
				argA = a.pop()
			case 2:
				argB = a.pop()
				argA = a.pop()
			}
			var dst Reg
			extra := uint16(len(ft.Params))
			if len(ft.Results) == 1 {
				dst = a.alloc()
				extra |= 0x10
			}
			a.emit(Instr{Op: OpCall, Dst: dst, A: argA, B: argB, Operand: in.Operand, Extra: extra})
			if len(ft.Results) == 1 {
				a.push(dst)
			}

		case in.Op == uint16(wasm.OpcodeCallIndirect):
			return nil, ErrUnsupported

		case binaryOps[in.Op]:
			b := a.pop()
			v := a.pop()
			d := a.alloc()
			a.emit(Instr{Op: in.Op, Dst: d, A: v, B: b})
			a.push(d)

		case unaryOps[in.Op]:
			v := a.pop()
			d := a.alloc()
			a.emit(Instr{Op: in.Op, Dst: d, A: v})
			a.push(d)

		case loadOps[in.Op]:
			base := a.pop()
			d := a.alloc()
			a.emit(Instr{Op: in.Op, Dst: d, A: base, Operand: in.Operand})
			a.push(d)

		case storeOps[in.Op]:
			v := a.pop()
			base := a.pop()
			a.emit(Instr{Op: in.Op, A: base, B: v, Operand: in.Operand})

		case in.Op >= predecode.OpFusedLocalsGetGet && in.Op <= predecode.OpFusedLocalConstLtU:
			// A fused op's first consumed instruction is local.get Extra;
			// the rest remain in place in the following slots and lower
			// normally.
			a.push(Reg(in.Extra))

		default:
			return nil, ErrUnsupported
		}
	}
	pcOf[len(pf.Instrs)] = len(a.instrs)
	emitResultMoves()
	a.emit(Instr{Op: OpEnd})

	for idx, in := range a.instrs {
		if isBranch(in.Op) {
			a.instrs[idx].Operand = uint32(pcOf[in.Operand])
		}
	}

	return &RegFunc{
		Instrs: a.instrs, Pool64: pf.Pool64,
		NumRegs: int(a.nextReg), NumLocal: pf.NumLocal, NumParams: numParams,
		Results: results, ResultRegs: resultRegs,
	}, nil
}
