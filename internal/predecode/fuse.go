package predecode

import "github.com/wazgo/wazgo/internal/wasm"

// fuse implements the peephole fusion pass of spec.md §4.2: it scans
// 2-3 instruction windows and, only where no branch target falls inside
// the window, replaces them with a superinstruction. Consumed slots
// remain in place (never removed), so fusion changes neither stream
// length nor any already-resolved branch target; a fused handler simply
// advances the program counter by the number of instructions it
// consumed.
func fuse(instrs []Instr) {
	targets := branchTargets(instrs)

	for i := 0; i < len(instrs); i++ {
		if targets[i] {
			continue
		}
		if i+2 < len(instrs) && !targets[i+1] && !targets[i+2] {
			a, b, c := instrs[i], instrs[i+1], instrs[i+2]
			if a.Op == uint16(wasm.OpcodeLocalGet) && b.Op == uint16(wasm.OpcodeLocalGet) {
				if fused, ok := fuseLocalsOp(c.Op); ok {
					instrs[i] = Instr{Op: fused, Extra: uint16(a.Operand), Operand: b.Operand}
					continue
				}
			}
			if a.Op == uint16(wasm.OpcodeLocalGet) && b.Op == uint16(wasm.OpcodeI32Const) {
				if fused, ok := fuseLocalConstOp(c.Op); ok {
					instrs[i] = Instr{Op: fused, Extra: uint16(a.Operand), Operand: b.Operand}
					continue
				}
			}
		}
		if i+1 < len(instrs) && !targets[i+1] {
			a, b := instrs[i], instrs[i+1]
			if a.Op == uint16(wasm.OpcodeLocalGet) && b.Op == uint16(wasm.OpcodeLocalGet) {
				instrs[i] = Instr{Op: OpFusedLocalsGetGet, Extra: uint16(a.Operand), Operand: b.Operand}
				continue
			}
			if a.Op == uint16(wasm.OpcodeLocalGet) && b.Op == uint16(wasm.OpcodeI32Const) {
				instrs[i] = Instr{Op: OpFusedLocalGetConst, Extra: uint16(a.Operand), Operand: b.Operand}
				continue
			}
		}
	}
}

func fuseLocalsOp(op uint16) (uint16, bool) {
	switch op {
	case uint16(wasm.OpcodeI32Add):
		return OpFusedLocalsAdd, true
	case uint16(wasm.OpcodeI32Sub):
		return OpFusedLocalsSub, true
	case uint16(wasm.OpcodeI32GtS):
		return OpFusedLocalsGtS, true
	case uint16(wasm.OpcodeI32LeS):
		return OpFusedLocalsLeS, true
	default:
		return 0, false
	}
}

func fuseLocalConstOp(op uint16) (uint16, bool) {
	switch op {
	case uint16(wasm.OpcodeI32Add):
		return OpFusedLocalConstAdd, true
	case uint16(wasm.OpcodeI32Sub):
		return OpFusedLocalConstSub, true
	case uint16(wasm.OpcodeI32LtS):
		return OpFusedLocalConstLtS, true
	case uint16(wasm.OpcodeI32GeS):
		return OpFusedLocalConstGeS, true
	case uint16(wasm.OpcodeI32LtU):
		return OpFusedLocalConstLtU, true
	default:
		return 0, false
	}
}

// branchTargets marks every stream index that any resolved branch operand
// (including loop heads and if/block end targets) points at, so fusion
// never collapses a window a branch might land inside of.
func branchTargets(instrs []Instr) []bool {
	marks := make([]bool, len(instrs)+1)
	for _, in := range instrs {
		switch in.Op {
		case uint16(wasm.OpcodeBlock), uint16(wasm.OpcodeLoop), uint16(wasm.OpcodeIf),
			uint16(wasm.OpcodeBr), uint16(wasm.OpcodeBrIf), OpIfData, OpBrTableEntry, OpElseGoto:
			if int(in.Operand) <= len(instrs) {
				marks[in.Operand] = true
			}
		}
	}
	return marks[:len(instrs)]
}
