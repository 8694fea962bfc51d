// Package jit lowers a Tier-2 register IR function to native ARM64 machine
// code (spec.md §4.6), the highest tier a hot function can reach. It hand-
// emits instructions through internal/asm/arm64's node-based assembler
// rather than shelling out to an external assembler or linker.
//
// Only a bounded integer subset of RegIR lowers here: constants, moves,
// integer arithmetic/comparisons and branches. Compile returns
// ErrUnsupported for anything else (calls, globals, memory access, floats,
// division) and the caller keeps running the function on Tier-2 — the same
// "no partial compilation" rule Tier-2 itself applies when it declines to
// lower a function from Tier-1.
package jit

import (
	"fmt"

	"github.com/wazgo/wazgo/internal/asm"
	"github.com/wazgo/wazgo/internal/asm/arm64"
	"github.com/wazgo/wazgo/internal/platform"
	"github.com/wazgo/wazgo/internal/regir"
	"github.com/wazgo/wazgo/internal/tracelog"
	"github.com/wazgo/wazgo/internal/wasm"
)

// ErrUnsupported means Compile encountered an instruction this tier does
// not lower; the function should stay on Tier-2.
var ErrUnsupported = fmt.Errorf("jit: function uses an instruction this tier does not lower")

var log = tracelog.For("jit")

// Trap codes returned in X0 by generated code, mirroring the ordinal a
// *wasm.Error would carry for the same condition at a lower tier.
const (
	trapNone        = 0
	trapUnreachable = 1
)

// register mapping (spec.md §4.6 "design"): the base pointer and two
// scratch registers are reserved, and a small fixed set of virtual
// registers stay resident in physical registers for the function's whole
// body; everything else is memory-resident in the regs array, reloaded
// before each use and spilled back after each definition.
//
// Unlike spec.md's description, residents are drawn from caller-saved
// registers (X9-X15) rather than callee-saved ones (X19-X25): this JIT
// never calls back into other code, so there is nothing to save, and
// avoiding X19-X28 altogether sidesteps clobbering anything the Go
// runtime keeps resident across the call boundary (notably the goroutine
// pointer in X28).
const residentCount = 6

var (
	baseReg     = arm64.REG_R9
	scratchA    = arm64.REG_R16
	scratchB    = arm64.REG_R17
	residentRegs = [residentCount]asm.Register{
		arm64.REG_R10, arm64.REG_R11, arm64.REG_R12,
		arm64.REG_R13, arm64.REG_R14, arm64.REG_R15,
	}
)

// Code is one function's finalized native machine code, resident in an
// executable memory mapping.
type Code struct {
	seg     *asm.CodeSegment
	numRegs int
}

// Addr returns the entry address of the compiled function.
func (c *Code) Addr() uintptr { return c.seg.Addr() }

// Bytes returns the raw machine code, for --dump-jit style inspection.
func (c *Code) Bytes() []byte { return c.seg.Bytes() }

// Invoke runs the compiled function against regs (sized rf.NumRegs, the
// same layout regirvm.Run uses) and returns a trap ordinal, 0 on success.
func (c *Code) Invoke(regs []uint64) uint64 {
	if len(regs) == 0 {
		return trapNone
	}
	return nativecall(c.Addr(), unsafePointer(regs))
}

// Release unmaps the code segment's backing memory.
func (c *Code) Release() error { return c.seg.Unmap() }

type compiler struct {
	a        *arm64.AssemblerImpl
	numRegs  int
	pending  map[int][]asm.Node
	resolved []asm.Node
}

// Compile lowers rf to native ARM64 machine code, or returns ErrUnsupported
// if rf uses a shape this tier doesn't handle.
func Compile(rf *regir.RegFunc) (*Code, error) {
	log.WithField("regs", rf.NumRegs).Debug("compiling register IR to ARM64")
	if !platform.JITSupported() {
		return nil, ErrUnsupported
	}
	if rf.NumRegs == 0 {
		return nil, ErrUnsupported
	}

	a := arm64.NewAssemblerImpl(scratchA)
	c := &compiler{a: a, numRegs: rf.NumRegs, pending: map[int][]asm.Node{}, resolved: make([]asm.Node, len(rf.Instrs))}

	a.CompileRegisterToRegister(arm64.MOVD, arm64.REG_R0, baseReg)
	for i := 0; i < residentCount && i < c.numRegs; i++ {
		a.CompileMemoryToRegister(arm64.MOVD, baseReg, int64(i*8), residentRegs[i])
	}

	for i, in := range rf.Instrs {
		if nodes, ok := c.pending[i]; ok {
			a.SetJumpTargetOnNext(nodes...)
			delete(c.pending, i)
		}
		prev := a.Current
		if err := c.lower(in, rf.Pool64); err != nil {
			return nil, err
		}
		if prev == nil {
			c.resolved[i] = a.Root
		} else {
			c.resolved[i] = prev.Next
		}
	}
	if len(c.pending) != 0 {
		// A branch targeted an index past the last instruction; regir.Compile
		// never produces this, so treat it as a compiler bug rather than
		// silently emitting broken code.
		return nil, fmt.Errorf("jit: unresolved branch target after compiling function body")
	}

	code, err := a.Assemble()
	if err != nil {
		return nil, err
	}

	seg := asm.NewCodeSegment(nil)
	buf := seg.Next()
	if _, err := buf.Write(code); err != nil {
		return nil, err
	}
	return &Code{seg: seg, numRegs: rf.NumRegs}, nil
}

func (c *compiler) lower(in regir.Instr, pool64 []uint64) error {
	switch in.Op {
	case regir.OpConst:
		return c.lowerConst(in, int64(uint64(in.Operand)))
	case regir.OpConst64:
		return c.lowerConst(in, int64(pool64[in.Operand]))

	case regir.OpMove:
		src := c.loadA(in.A)
		dst := c.dstReg(in.Dst)
		if src != dst {
			c.a.CompileRegisterToRegister(arm64.MOVD, src, dst)
		}
		c.commit(in.Dst, dst)
		return nil

	case regir.OpBr:
		node := c.a.CompileJump(arm64.B)
		c.resolveBranch(int(in.Operand), node)
		return nil

	case regir.OpBrIfZero, regir.OpBrIfNotZero:
		a := c.loadA(in.A)
		c.a.CompileRegisterAndConstToNone(arm64.CMP, a, 0)
		cond := asm.Instruction(arm64.BEQ)
		if in.Op == regir.OpBrIfNotZero {
			cond = arm64.BNE
		}
		node := c.a.CompileJump(cond)
		c.resolveBranch(int(in.Operand), node)
		return nil

	case regir.OpReturn, regir.OpEnd:
		c.emitEpilogue(trapNone)
		return nil

	case regir.OpUnreachable:
		c.emitEpilogue(trapUnreachable)
		return nil

	default:
		return c.lowerNumeric(in)
	}
}

func (c *compiler) lowerConst(in regir.Instr, value int64) error {
	dst := c.dstReg(in.Dst)
	c.a.CompileConstToRegister(arm64.MOVD, value, dst)
	c.commit(in.Dst, dst)
	return nil
}

func (c *compiler) resolveBranch(target int, node asm.Node) {
	if target < len(c.resolved) && c.resolved[target] != nil {
		node.AssignJumpTarget(c.resolved[target])
		return
	}
	c.pending[target] = append(c.pending[target], node)
}

func (c *compiler) emitEpilogue(trap int64) {
	for i := 0; i < residentCount && i < c.numRegs; i++ {
		c.a.CompileRegisterToMemory(arm64.MOVD, residentRegs[i], baseReg, int64(i*8))
	}
	c.a.CompileConstToRegister(arm64.MOVD, trap, arm64.REG_R0)
	c.a.CompileJumpToRegister(arm64.RET, arm64.REG_R30)
}

func (c *compiler) isResident(r regir.Reg) bool { return int(r) < residentCount }

func (c *compiler) loadA(r regir.Reg) asm.Register {
	if c.isResident(r) {
		return residentRegs[r]
	}
	c.a.CompileMemoryToRegister(arm64.MOVD, baseReg, int64(r)*8, scratchA)
	return scratchA
}

func (c *compiler) loadB(r regir.Reg) asm.Register {
	if c.isResident(r) {
		return residentRegs[r]
	}
	c.a.CompileMemoryToRegister(arm64.MOVD, baseReg, int64(r)*8, scratchB)
	return scratchB
}

func (c *compiler) dstReg(r regir.Reg) asm.Register {
	if c.isResident(r) {
		return residentRegs[r]
	}
	return scratchA
}

func (c *compiler) commit(r regir.Reg, phys asm.Register) {
	if !c.isResident(r) {
		c.a.CompileRegisterToMemory(arm64.MOVD, phys, baseReg, int64(r)*8)
	}
}

// arithInstrs maps a raw wasm.Opcode to its 32-bit and 64-bit ARM64
// register-register instruction, for the integer ops this tier lowers.
var arithInstrs = map[uint16][2]asm.Instruction{
	uint16(wasm.OpcodeI32Add): {arm64.ADDW, 0}, uint16(wasm.OpcodeI64Add): {0, arm64.ADD},
	uint16(wasm.OpcodeI32Sub): {arm64.SUBW, 0}, uint16(wasm.OpcodeI64Sub): {0, arm64.SUB},
	uint16(wasm.OpcodeI32Mul): {arm64.MULW, 0}, uint16(wasm.OpcodeI64Mul): {0, arm64.MUL},
	uint16(wasm.OpcodeI32And): {arm64.ANDW, 0}, uint16(wasm.OpcodeI64And): {0, arm64.AND},
	uint16(wasm.OpcodeI32Or): {arm64.ORRW, 0}, uint16(wasm.OpcodeI64Or): {0, arm64.ORR},
	uint16(wasm.OpcodeI32Xor): {arm64.EORW, 0}, uint16(wasm.OpcodeI64Xor): {0, arm64.EOR},
	uint16(wasm.OpcodeI32Shl): {arm64.LSLW, 0}, uint16(wasm.OpcodeI64Shl): {0, arm64.LSL},
	uint16(wasm.OpcodeI32ShrS): {arm64.ASRW, 0}, uint16(wasm.OpcodeI64ShrS): {0, arm64.ASR},
	uint16(wasm.OpcodeI32ShrU): {arm64.LSRW, 0}, uint16(wasm.OpcodeI64ShrU): {0, arm64.LSR},
}

// cmpConds maps a raw comparison wasm.Opcode to the ARM64 condition code
// that CSET should test after a CMP/CMPW of the same two operands.
var cmpConds = map[uint16]asm.ConditionalRegisterState{
	uint16(wasm.OpcodeI32Eq): arm64.COND_EQ, uint16(wasm.OpcodeI64Eq): arm64.COND_EQ,
	uint16(wasm.OpcodeI32Ne): arm64.COND_NE, uint16(wasm.OpcodeI64Ne): arm64.COND_NE,
	uint16(wasm.OpcodeI32LtS): arm64.COND_LT, uint16(wasm.OpcodeI64LtS): arm64.COND_LT,
	uint16(wasm.OpcodeI32LtU): arm64.COND_LO, uint16(wasm.OpcodeI64LtU): arm64.COND_LO,
	uint16(wasm.OpcodeI32GtS): arm64.COND_GT, uint16(wasm.OpcodeI64GtS): arm64.COND_GT,
	uint16(wasm.OpcodeI32GtU): arm64.COND_HI, uint16(wasm.OpcodeI64GtU): arm64.COND_HI,
	uint16(wasm.OpcodeI32LeS): arm64.COND_LE, uint16(wasm.OpcodeI64LeS): arm64.COND_LE,
	uint16(wasm.OpcodeI32LeU): arm64.COND_LS, uint16(wasm.OpcodeI64LeU): arm64.COND_LS,
	uint16(wasm.OpcodeI32GeS): arm64.COND_GE, uint16(wasm.OpcodeI64GeS): arm64.COND_GE,
	uint16(wasm.OpcodeI32GeU): arm64.COND_HS, uint16(wasm.OpcodeI64GeU): arm64.COND_HS,
}

// is32 reports whether op operates on the 32-bit (W-register) view, which
// is true for every I32 opcode this tier supports.
func is32(op uint16) bool {
	switch op {
	case uint16(wasm.OpcodeI32Add), uint16(wasm.OpcodeI32Sub), uint16(wasm.OpcodeI32Mul),
		uint16(wasm.OpcodeI32And), uint16(wasm.OpcodeI32Or), uint16(wasm.OpcodeI32Xor),
		uint16(wasm.OpcodeI32Shl), uint16(wasm.OpcodeI32ShrS), uint16(wasm.OpcodeI32ShrU),
		uint16(wasm.OpcodeI32Eq), uint16(wasm.OpcodeI32Ne),
		uint16(wasm.OpcodeI32LtS), uint16(wasm.OpcodeI32LtU), uint16(wasm.OpcodeI32GtS), uint16(wasm.OpcodeI32GtU),
		uint16(wasm.OpcodeI32LeS), uint16(wasm.OpcodeI32LeU), uint16(wasm.OpcodeI32GeS), uint16(wasm.OpcodeI32GeU),
		uint16(wasm.OpcodeI32Eqz):
		return true
	default:
		return false
	}
}

func (c *compiler) lowerNumeric(in regir.Instr) error {
	if pair, ok := arithInstrs[in.Op]; ok {
		a := c.loadA(in.A)
		b := c.loadB(in.B)
		dst := c.dstReg(in.Dst)
		instr := pair[1]
		if is32(in.Op) {
			instr = pair[0]
		}
		c.a.CompileTwoRegistersToRegister(instr, a, b, dst)
		c.commit(in.Dst, dst)
		return nil
	}

	if cond, ok := cmpConds[in.Op]; ok {
		a := c.loadA(in.A)
		b := c.loadB(in.B)
		cmp := asm.Instruction(arm64.CMP)
		if is32(in.Op) {
			cmp = arm64.CMPW
		}
		c.a.CompileTwoRegistersToNone(cmp, a, b)
		dst := c.dstReg(in.Dst)
		c.a.CompileConditionalRegisterSet(cond, dst)
		c.commit(in.Dst, dst)
		return nil
	}

	if in.Op == uint16(wasm.OpcodeI32Eqz) || in.Op == uint16(wasm.OpcodeI64Eqz) {
		a := c.loadA(in.A)
		cmp := asm.Instruction(arm64.CMP)
		if in.Op == uint16(wasm.OpcodeI32Eqz) {
			cmp = arm64.CMPW
		}
		c.a.CompileRegisterAndConstToNone(cmp, a, 0)
		dst := c.dstReg(in.Dst)
		c.a.CompileConditionalRegisterSet(arm64.COND_EQ, dst)
		c.commit(in.Dst, dst)
		return nil
	}

	return ErrUnsupported
}
