package interpreter

import (
	"math"
	"math/bits"

	"github.com/pkg/errors"

	"github.com/wazgo/wazgo/internal/predecode"
	"github.com/wazgo/wazgo/internal/wasm"
)

// execNumeric dispatches every comparison, arithmetic, and conversion
// opcode that carries no immediate (every case in predecode's long
// no-immediate opcode list). Split out of exec's switch purely so neither
// function is unwieldy; it advances fr.pc itself on every path.
func execNumeric(fr *vmFrame, in predecode.Instr) error {
	switch in.Op {

	// i32 comparisons
	case uint16(wasm.OpcodeI32Eqz):
		fr.push(b2u64(uint32(fr.pop()) == 0))
	case uint16(wasm.OpcodeI32Eq):
		b, a := uint32(fr.pop()), uint32(fr.pop())
		fr.push(b2u64(a == b))
	case uint16(wasm.OpcodeI32Ne):
		b, a := uint32(fr.pop()), uint32(fr.pop())
		fr.push(b2u64(a != b))
	case uint16(wasm.OpcodeI32LtS):
		b, a := int32(fr.pop()), int32(fr.pop())
		fr.push(b2u64(a < b))
	case uint16(wasm.OpcodeI32LtU):
		b, a := uint32(fr.pop()), uint32(fr.pop())
		fr.push(b2u64(a < b))
	case uint16(wasm.OpcodeI32GtS):
		b, a := int32(fr.pop()), int32(fr.pop())
		fr.push(b2u64(a > b))
	case uint16(wasm.OpcodeI32GtU):
		b, a := uint32(fr.pop()), uint32(fr.pop())
		fr.push(b2u64(a > b))
	case uint16(wasm.OpcodeI32LeS):
		b, a := int32(fr.pop()), int32(fr.pop())
		fr.push(b2u64(a <= b))
	case uint16(wasm.OpcodeI32LeU):
		b, a := uint32(fr.pop()), uint32(fr.pop())
		fr.push(b2u64(a <= b))
	case uint16(wasm.OpcodeI32GeS):
		b, a := int32(fr.pop()), int32(fr.pop())
		fr.push(b2u64(a >= b))
	case uint16(wasm.OpcodeI32GeU):
		b, a := uint32(fr.pop()), uint32(fr.pop())
		fr.push(b2u64(a >= b))

	// i64 comparisons
	case uint16(wasm.OpcodeI64Eqz):
		fr.push(b2u64(fr.pop() == 0))
	case uint16(wasm.OpcodeI64Eq):
		b, a := fr.pop(), fr.pop()
		fr.push(b2u64(a == b))
	case uint16(wasm.OpcodeI64Ne):
		b, a := fr.pop(), fr.pop()
		fr.push(b2u64(a != b))
	case uint16(wasm.OpcodeI64LtS):
		b, a := int64(fr.pop()), int64(fr.pop())
		fr.push(b2u64(a < b))
	case uint16(wasm.OpcodeI64LtU):
		b, a := fr.pop(), fr.pop()
		fr.push(b2u64(a < b))
	case uint16(wasm.OpcodeI64GtS):
		b, a := int64(fr.pop()), int64(fr.pop())
		fr.push(b2u64(a > b))
	case uint16(wasm.OpcodeI64GtU):
		b, a := fr.pop(), fr.pop()
		fr.push(b2u64(a > b))
	case uint16(wasm.OpcodeI64LeS):
		b, a := int64(fr.pop()), int64(fr.pop())
		fr.push(b2u64(a <= b))
	case uint16(wasm.OpcodeI64LeU):
		b, a := fr.pop(), fr.pop()
		fr.push(b2u64(a <= b))
	case uint16(wasm.OpcodeI64GeS):
		b, a := int64(fr.pop()), int64(fr.pop())
		fr.push(b2u64(a >= b))
	case uint16(wasm.OpcodeI64GeU):
		b, a := fr.pop(), fr.pop()
		fr.push(b2u64(a >= b))

	// f32/f64 comparisons
	case uint16(wasm.OpcodeF32Eq):
		b, a := f32(fr.pop()), f32(fr.pop())
		fr.push(b2u64(a == b))
	case uint16(wasm.OpcodeF32Ne):
		b, a := f32(fr.pop()), f32(fr.pop())
		fr.push(b2u64(a != b))
	case uint16(wasm.OpcodeF32Lt):
		b, a := f32(fr.pop()), f32(fr.pop())
		fr.push(b2u64(a < b))
	case uint16(wasm.OpcodeF32Gt):
		b, a := f32(fr.pop()), f32(fr.pop())
		fr.push(b2u64(a > b))
	case uint16(wasm.OpcodeF32Le):
		b, a := f32(fr.pop()), f32(fr.pop())
		fr.push(b2u64(a <= b))
	case uint16(wasm.OpcodeF32Ge):
		b, a := f32(fr.pop()), f32(fr.pop())
		fr.push(b2u64(a >= b))
	case uint16(wasm.OpcodeF64Eq):
		b, a := f64(fr.pop()), f64(fr.pop())
		fr.push(b2u64(a == b))
	case uint16(wasm.OpcodeF64Ne):
		b, a := f64(fr.pop()), f64(fr.pop())
		fr.push(b2u64(a != b))
	case uint16(wasm.OpcodeF64Lt):
		b, a := f64(fr.pop()), f64(fr.pop())
		fr.push(b2u64(a < b))
	case uint16(wasm.OpcodeF64Gt):
		b, a := f64(fr.pop()), f64(fr.pop())
		fr.push(b2u64(a > b))
	case uint16(wasm.OpcodeF64Le):
		b, a := f64(fr.pop()), f64(fr.pop())
		fr.push(b2u64(a <= b))
	case uint16(wasm.OpcodeF64Ge):
		b, a := f64(fr.pop()), f64(fr.pop())
		fr.push(b2u64(a >= b))

	// i32 arithmetic
	case uint16(wasm.OpcodeI32Clz):
		fr.push(uint64(bits.LeadingZeros32(uint32(fr.pop()))))
	case uint16(wasm.OpcodeI32Ctz):
		fr.push(uint64(bits.TrailingZeros32(uint32(fr.pop()))))
	case uint16(wasm.OpcodeI32Popcnt):
		fr.push(uint64(bits.OnesCount32(uint32(fr.pop()))))
	case uint16(wasm.OpcodeI32Add):
		b, a := uint32(fr.pop()), uint32(fr.pop())
		fr.push(uint64(a + b))
	case uint16(wasm.OpcodeI32Sub):
		b, a := uint32(fr.pop()), uint32(fr.pop())
		fr.push(uint64(a - b))
	case uint16(wasm.OpcodeI32Mul):
		b, a := uint32(fr.pop()), uint32(fr.pop())
		fr.push(uint64(a * b))
	case uint16(wasm.OpcodeI32DivS):
		b, a := int32(fr.pop()), int32(fr.pop())
		if b == 0 {
			return wasm.ErrDivisionByZero
		}
		if a == math.MinInt32 && b == -1 {
			return wasm.ErrIntegerOverflow
		}
		fr.push(uint64(uint32(a / b)))
	case uint16(wasm.OpcodeI32DivU):
		b, a := uint32(fr.pop()), uint32(fr.pop())
		if b == 0 {
			return wasm.ErrDivisionByZero
		}
		fr.push(uint64(a / b))
	case uint16(wasm.OpcodeI32RemS):
		b, a := int32(fr.pop()), int32(fr.pop())
		if b == 0 {
			return wasm.ErrDivisionByZero
		}
		if a == math.MinInt32 && b == -1 {
			fr.push(0)
		} else {
			fr.push(uint64(uint32(a % b)))
		}
	case uint16(wasm.OpcodeI32RemU):
		b, a := uint32(fr.pop()), uint32(fr.pop())
		if b == 0 {
			return wasm.ErrDivisionByZero
		}
		fr.push(uint64(a % b))
	case uint16(wasm.OpcodeI32And):
		b, a := uint32(fr.pop()), uint32(fr.pop())
		fr.push(uint64(a & b))
	case uint16(wasm.OpcodeI32Or):
		b, a := uint32(fr.pop()), uint32(fr.pop())
		fr.push(uint64(a | b))
	case uint16(wasm.OpcodeI32Xor):
		b, a := uint32(fr.pop()), uint32(fr.pop())
		fr.push(uint64(a ^ b))
	case uint16(wasm.OpcodeI32Shl):
		b, a := uint32(fr.pop()), uint32(fr.pop())
		fr.push(uint64(a << (b & 31)))
	case uint16(wasm.OpcodeI32ShrS):
		b, a := uint32(fr.pop()), int32(fr.pop())
		fr.push(uint64(uint32(a >> (b & 31))))
	case uint16(wasm.OpcodeI32ShrU):
		b, a := uint32(fr.pop()), uint32(fr.pop())
		fr.push(uint64(a >> (b & 31)))
	case uint16(wasm.OpcodeI32Rotl):
		b, a := uint32(fr.pop()), uint32(fr.pop())
		fr.push(uint64(bits.RotateLeft32(a, int(b))))
	case uint16(wasm.OpcodeI32Rotr):
		b, a := uint32(fr.pop()), uint32(fr.pop())
		fr.push(uint64(bits.RotateLeft32(a, -int(b))))

	// i64 arithmetic
	case uint16(wasm.OpcodeI64Clz):
		fr.push(uint64(bits.LeadingZeros64(fr.pop())))
	case uint16(wasm.OpcodeI64Ctz):
		fr.push(uint64(bits.TrailingZeros64(fr.pop())))
	case uint16(wasm.OpcodeI64Popcnt):
		fr.push(uint64(bits.OnesCount64(fr.pop())))
	case uint16(wasm.OpcodeI64Add):
		b, a := fr.pop(), fr.pop()
		fr.push(a + b)
	case uint16(wasm.OpcodeI64Sub):
		b, a := fr.pop(), fr.pop()
		fr.push(a - b)
	case uint16(wasm.OpcodeI64Mul):
		b, a := fr.pop(), fr.pop()
		fr.push(a * b)
	case uint16(wasm.OpcodeI64DivS):
		b, a := int64(fr.pop()), int64(fr.pop())
		if b == 0 {
			return wasm.ErrDivisionByZero
		}
		if a == math.MinInt64 && b == -1 {
			return wasm.ErrIntegerOverflow
		}
		fr.push(uint64(a / b))
	case uint16(wasm.OpcodeI64DivU):
		b, a := fr.pop(), fr.pop()
		if b == 0 {
			return wasm.ErrDivisionByZero
		}
		fr.push(a / b)
	case uint16(wasm.OpcodeI64RemS):
		b, a := int64(fr.pop()), int64(fr.pop())
		if b == 0 {
			return wasm.ErrDivisionByZero
		}
		if a == math.MinInt64 && b == -1 {
			fr.push(0)
		} else {
			fr.push(uint64(a % b))
		}
	case uint16(wasm.OpcodeI64RemU):
		b, a := fr.pop(), fr.pop()
		if b == 0 {
			return wasm.ErrDivisionByZero
		}
		fr.push(a % b)
	case uint16(wasm.OpcodeI64And):
		b, a := fr.pop(), fr.pop()
		fr.push(a & b)
	case uint16(wasm.OpcodeI64Or):
		b, a := fr.pop(), fr.pop()
		fr.push(a | b)
	case uint16(wasm.OpcodeI64Xor):
		b, a := fr.pop(), fr.pop()
		fr.push(a ^ b)
	case uint16(wasm.OpcodeI64Shl):
		b, a := fr.pop(), fr.pop()
		fr.push(a << (b & 63))
	case uint16(wasm.OpcodeI64ShrS):
		b, a := fr.pop(), int64(fr.pop())
		fr.push(uint64(a >> (b & 63)))
	case uint16(wasm.OpcodeI64ShrU):
		b, a := fr.pop(), fr.pop()
		fr.push(a >> (b & 63))
	case uint16(wasm.OpcodeI64Rotl):
		b, a := fr.pop(), fr.pop()
		fr.push(bits.RotateLeft64(a, int(b)))
	case uint16(wasm.OpcodeI64Rotr):
		b, a := fr.pop(), fr.pop()
		fr.push(bits.RotateLeft64(a, -int(b)))

	// f32 arithmetic
	case uint16(wasm.OpcodeF32Abs):
		fr.pushF32(float32(math.Abs(float64(f32(fr.pop())))))
	case uint16(wasm.OpcodeF32Neg):
		fr.pushF32(-f32(fr.pop()))
	case uint16(wasm.OpcodeF32Ceil):
		fr.pushF32(float32(math.Ceil(float64(f32(fr.pop())))))
	case uint16(wasm.OpcodeF32Floor):
		fr.pushF32(float32(math.Floor(float64(f32(fr.pop())))))
	case uint16(wasm.OpcodeF32Trunc):
		fr.pushF32(float32(math.Trunc(float64(f32(fr.pop())))))
	case uint16(wasm.OpcodeF32Nearest):
		fr.pushF32(float32(math.RoundToEven(float64(f32(fr.pop())))))
	case uint16(wasm.OpcodeF32Sqrt):
		fr.pushF32(float32(math.Sqrt(float64(f32(fr.pop())))))
	case uint16(wasm.OpcodeF32Add):
		b, a := f32(fr.pop()), f32(fr.pop())
		fr.pushF32(a + b)
	case uint16(wasm.OpcodeF32Sub):
		b, a := f32(fr.pop()), f32(fr.pop())
		fr.pushF32(a - b)
	case uint16(wasm.OpcodeF32Mul):
		b, a := f32(fr.pop()), f32(fr.pop())
		fr.pushF32(a * b)
	case uint16(wasm.OpcodeF32Div):
		b, a := f32(fr.pop()), f32(fr.pop())
		fr.pushF32(a / b)
	case uint16(wasm.OpcodeF32Min):
		b, a := f32(fr.pop()), f32(fr.pop())
		fr.pushF32(float32(math.Min(float64(a), float64(b))))
	case uint16(wasm.OpcodeF32Max):
		b, a := f32(fr.pop()), f32(fr.pop())
		fr.pushF32(float32(math.Max(float64(a), float64(b))))
	case uint16(wasm.OpcodeF32Copysign):
		b, a := f32(fr.pop()), f32(fr.pop())
		fr.pushF32(float32(math.Copysign(float64(a), float64(b))))

	// f64 arithmetic
	case uint16(wasm.OpcodeF64Abs):
		fr.pushF64(math.Abs(f64(fr.pop())))
	case uint16(wasm.OpcodeF64Neg):
		fr.pushF64(-f64(fr.pop()))
	case uint16(wasm.OpcodeF64Ceil):
		fr.pushF64(math.Ceil(f64(fr.pop())))
	case uint16(wasm.OpcodeF64Floor):
		fr.pushF64(math.Floor(f64(fr.pop())))
	case uint16(wasm.OpcodeF64Trunc):
		fr.pushF64(math.Trunc(f64(fr.pop())))
	case uint16(wasm.OpcodeF64Nearest):
		fr.pushF64(math.RoundToEven(f64(fr.pop())))
	case uint16(wasm.OpcodeF64Sqrt):
		fr.pushF64(math.Sqrt(f64(fr.pop())))
	case uint16(wasm.OpcodeF64Add):
		b, a := f64(fr.pop()), f64(fr.pop())
		fr.pushF64(a + b)
	case uint16(wasm.OpcodeF64Sub):
		b, a := f64(fr.pop()), f64(fr.pop())
		fr.pushF64(a - b)
	case uint16(wasm.OpcodeF64Mul):
		b, a := f64(fr.pop()), f64(fr.pop())
		fr.pushF64(a * b)
	case uint16(wasm.OpcodeF64Div):
		b, a := f64(fr.pop()), f64(fr.pop())
		fr.pushF64(a / b)
	case uint16(wasm.OpcodeF64Min):
		b, a := f64(fr.pop()), f64(fr.pop())
		fr.pushF64(math.Min(a, b))
	case uint16(wasm.OpcodeF64Max):
		b, a := f64(fr.pop()), f64(fr.pop())
		fr.pushF64(math.Max(a, b))
	case uint16(wasm.OpcodeF64Copysign):
		b, a := f64(fr.pop()), f64(fr.pop())
		fr.pushF64(math.Copysign(a, b))

	// conversions
	case uint16(wasm.OpcodeI32WrapI64):
		fr.push(uint64(uint32(fr.pop())))
	case uint16(wasm.OpcodeI32TruncF32S):
		f := float64(f32(fr.pop()))
		v, err := truncI32(f)
		if err != nil {
			return err
		}
		fr.push(uint64(uint32(v)))
	case uint16(wasm.OpcodeI32TruncF32U):
		f := float64(f32(fr.pop()))
		v, err := truncU32(f)
		if err != nil {
			return err
		}
		fr.push(uint64(v))
	case uint16(wasm.OpcodeI32TruncF64S):
		v, err := truncI32(f64(fr.pop()))
		if err != nil {
			return err
		}
		fr.push(uint64(uint32(v)))
	case uint16(wasm.OpcodeI32TruncF64U):
		v, err := truncU32(f64(fr.pop()))
		if err != nil {
			return err
		}
		fr.push(uint64(v))
	case uint16(wasm.OpcodeI64ExtendI32S):
		fr.push(uint64(int64(int32(fr.pop()))))
	case uint16(wasm.OpcodeI64ExtendI32U):
		fr.push(uint64(uint32(fr.pop())))
	case uint16(wasm.OpcodeI64TruncF32S):
		v, err := truncI64(float64(f32(fr.pop())))
		if err != nil {
			return err
		}
		fr.push(uint64(v))
	case uint16(wasm.OpcodeI64TruncF32U):
		v, err := truncU64(float64(f32(fr.pop())))
		if err != nil {
			return err
		}
		fr.push(v)
	case uint16(wasm.OpcodeI64TruncF64S):
		v, err := truncI64(f64(fr.pop()))
		if err != nil {
			return err
		}
		fr.push(uint64(v))
	case uint16(wasm.OpcodeI64TruncF64U):
		v, err := truncU64(f64(fr.pop()))
		if err != nil {
			return err
		}
		fr.push(v)
	case uint16(wasm.OpcodeF32ConvertI32S):
		fr.pushF32(float32(int32(fr.pop())))
	case uint16(wasm.OpcodeF32ConvertI32U):
		fr.pushF32(float32(uint32(fr.pop())))
	case uint16(wasm.OpcodeF32ConvertI64S):
		fr.pushF32(float32(int64(fr.pop())))
	case uint16(wasm.OpcodeF32ConvertI64U):
		fr.pushF32(float32(fr.pop()))
	case uint16(wasm.OpcodeF32DemoteF64):
		fr.pushF32(float32(f64(fr.pop())))
	case uint16(wasm.OpcodeF64ConvertI32S):
		fr.pushF64(float64(int32(fr.pop())))
	case uint16(wasm.OpcodeF64ConvertI32U):
		fr.pushF64(float64(uint32(fr.pop())))
	case uint16(wasm.OpcodeF64ConvertI64S):
		fr.pushF64(float64(int64(fr.pop())))
	case uint16(wasm.OpcodeF64ConvertI64U):
		fr.pushF64(float64(fr.pop()))
	case uint16(wasm.OpcodeF64PromoteF32):
		fr.pushF64(float64(f32(fr.pop())))
	case uint16(wasm.OpcodeI32ReinterpretF32):
		fr.push(uint64(uint32(fr.pop())))
	case uint16(wasm.OpcodeI64ReinterpretF64):
		fr.push(fr.pop())
	case uint16(wasm.OpcodeF32ReinterpretI32):
		fr.push(uint64(uint32(fr.pop())))
	case uint16(wasm.OpcodeF64ReinterpretI64):
		fr.push(fr.pop())

	// sign extension
	case uint16(wasm.OpcodeI32Extend8S):
		fr.push(uint64(uint32(int32(int8(fr.pop())))))
	case uint16(wasm.OpcodeI32Extend16S):
		fr.push(uint64(uint32(int32(int16(fr.pop())))))
	case uint16(wasm.OpcodeI64Extend8S):
		fr.push(uint64(int64(int8(fr.pop()))))
	case uint16(wasm.OpcodeI64Extend16S):
		fr.push(uint64(int64(int16(fr.pop()))))
	case uint16(wasm.OpcodeI64Extend32S):
		fr.push(uint64(int64(int32(fr.pop()))))

	default:
		return errors.Errorf("interpreter: unhandled opcode %#x", in.Op)
	}
	fr.pc++
	return nil
}

func f32(bits uint64) float32 { return math.Float32frombits(uint32(bits)) }
func f64(bits uint64) float64 { return math.Float64frombits(bits) }

func (f *vmFrame) pushF32(v float32) { f.push(uint64(math.Float32bits(v))) }
func (f *vmFrame) pushF64(v float64) { f.push(math.Float64bits(v)) }

// truncI32 through truncU64 implement the non-saturating trunc family:
// NaN or a magnitude outside the target range traps IntegerOverflow
// (spec.md §7 has no separate "invalid conversion" code).
func truncI32(f float64) (int32, error) {
	if math.IsNaN(f) || f < math.MinInt32 || f >= math.MaxInt32+1 {
		return 0, wasm.ErrIntegerOverflow
	}
	return int32(f), nil
}

func truncU32(f float64) (uint32, error) {
	if math.IsNaN(f) || f < 0 || f >= math.MaxUint32+1 {
		return 0, wasm.ErrIntegerOverflow
	}
	return uint32(f), nil
}

func truncI64(f float64) (int64, error) {
	if math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, wasm.ErrIntegerOverflow
	}
	return int64(f), nil
}

func truncU64(f float64) (uint64, error) {
	if math.IsNaN(f) || f < 0 || f >= math.MaxUint64 {
		return 0, wasm.ErrIntegerOverflow
	}
	return uint64(f), nil
}
