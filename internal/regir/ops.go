package regir

import "github.com/wazgo/wazgo/internal/wasm"

// Synthetic RegIR-only opcodes. Everything else (arithmetic, compares,
// conversions, loads, stores) reuses the raw Wasm opcode value directly as
// Instr.Op, the same way predecode.Instr does for its own stream.
const (
	OpConst       uint16 = 0xd000 // Dst = Operand (zero-extended i32/raw f32 bits)
	OpConst64     uint16 = 0xd001 // Dst = Pool64[Operand]
	OpMove        uint16 = 0xd002 // Dst = A
	OpGlobalGet   uint16 = 0xd003 // Dst = globals[Operand]
	OpGlobalSet   uint16 = 0xd004 // globals[Operand] = A
	OpSelect      uint16 = 0xd005 // Dst = (regs[Operand] != 0) ? A : B; Operand is the condition register
	OpReturn      uint16 = 0xd006
	OpUnreachable uint16 = 0xd007
	OpBr          uint16 = 0xd008 // unconditional jump to Operand (a RegIR PC after finalize)
	OpBrIfZero    uint16 = 0xd009 // jump to Operand when A == 0
	OpBrIfNotZero uint16 = 0xd00a // jump to Operand when A != 0
	OpCall        uint16 = 0xd00b // call function Operand with up to 2 args (A, B) and at most one result (Dst)
	OpEnd         uint16 = 0xd00c // function-level fallthrough; regirvm.Run returns the ResultRegs values
)

var binaryOps = map[uint16]bool{}
var unaryOps = map[uint16]bool{}
var loadOps = map[uint16]bool{}
var storeOps = map[uint16]bool{}

func init() {
	for _, op := range []wasm.Opcode{
		wasm.OpcodeI32Add, wasm.OpcodeI64Add, wasm.OpcodeF32Add, wasm.OpcodeF64Add,
		wasm.OpcodeI32Sub, wasm.OpcodeI64Sub, wasm.OpcodeF32Sub, wasm.OpcodeF64Sub,
		wasm.OpcodeI32Mul, wasm.OpcodeI64Mul, wasm.OpcodeF32Mul, wasm.OpcodeF64Mul,
		wasm.OpcodeI32DivS, wasm.OpcodeI32DivU, wasm.OpcodeI64DivS, wasm.OpcodeI64DivU,
		wasm.OpcodeF32Div, wasm.OpcodeF64Div,
		wasm.OpcodeI32RemS, wasm.OpcodeI32RemU, wasm.OpcodeI64RemS, wasm.OpcodeI64RemU,
		wasm.OpcodeI32And, wasm.OpcodeI64And, wasm.OpcodeI32Or, wasm.OpcodeI64Or,
		wasm.OpcodeI32Xor, wasm.OpcodeI64Xor,
		wasm.OpcodeI32Shl, wasm.OpcodeI64Shl,
		wasm.OpcodeI32ShrS, wasm.OpcodeI32ShrU, wasm.OpcodeI64ShrS, wasm.OpcodeI64ShrU,
		wasm.OpcodeI32Eq, wasm.OpcodeI64Eq, wasm.OpcodeI32Ne, wasm.OpcodeI64Ne,
		wasm.OpcodeI32LtS, wasm.OpcodeI32LtU, wasm.OpcodeI64LtS, wasm.OpcodeI64LtU,
		wasm.OpcodeI32GtS, wasm.OpcodeI32GtU, wasm.OpcodeI64GtS, wasm.OpcodeI64GtU,
		wasm.OpcodeI32LeS, wasm.OpcodeI32LeU, wasm.OpcodeI64LeS, wasm.OpcodeI64LeU,
		wasm.OpcodeI32GeS, wasm.OpcodeI32GeU, wasm.OpcodeI64GeS, wasm.OpcodeI64GeU,
		wasm.OpcodeF32Eq, wasm.OpcodeF32Ne, wasm.OpcodeF32Lt, wasm.OpcodeF32Gt, wasm.OpcodeF32Le, wasm.OpcodeF32Ge,
		wasm.OpcodeF64Eq, wasm.OpcodeF64Ne, wasm.OpcodeF64Lt, wasm.OpcodeF64Gt, wasm.OpcodeF64Le, wasm.OpcodeF64Ge,
	} {
		binaryOps[uint16(op)] = true
	}
	for _, op := range []wasm.Opcode{
		wasm.OpcodeI32Eqz, wasm.OpcodeI64Eqz,
		wasm.OpcodeI32Clz, wasm.OpcodeI32Ctz, wasm.OpcodeI32Popcnt,
		wasm.OpcodeI64Clz, wasm.OpcodeI64Ctz, wasm.OpcodeI64Popcnt,
		wasm.OpcodeI32WrapI64, wasm.OpcodeI64ExtendI32S, wasm.OpcodeI64ExtendI32U,
		wasm.OpcodeF32Neg, wasm.OpcodeF64Neg, wasm.OpcodeF32Abs, wasm.OpcodeF64Abs,
	} {
		unaryOps[uint16(op)] = true
	}
	for _, op := range []wasm.Opcode{
		wasm.OpcodeI32Load, wasm.OpcodeI64Load, wasm.OpcodeF32Load, wasm.OpcodeF64Load,
		wasm.OpcodeI32Load8U, wasm.OpcodeI32Load8S, wasm.OpcodeI32Load16U, wasm.OpcodeI32Load16S,
	} {
		loadOps[uint16(op)] = true
	}
	for _, op := range []wasm.Opcode{
		wasm.OpcodeI32Store, wasm.OpcodeI64Store, wasm.OpcodeF32Store, wasm.OpcodeF64Store,
		wasm.OpcodeI32Store8, wasm.OpcodeI32Store16,
	} {
		storeOps[uint16(op)] = true
	}
}
