package wasm

import (
	"context"
	"reflect"

	"github.com/pkg/errors"

	"github.com/wazgo/wazgo/api"
)

var moduleType = reflect.TypeOf((*api.Module)(nil)).Elem()
var ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()

// PopGoFunc reflects over a plain Go function, as accepted by
// HostFunctionBuilder.WithFunc, and produces the equivalent HostFunc. The
// function's first parameter must be context.Context. An optional second
// api.Module parameter grants access to the calling module, most often to
// reach its memory.
//
// All other parameters and every result must be one of uint32, int32,
// uint64, int64, float32 or float64, the only Wasm numeric value types
// (spec.md §4.8).
func PopGoFunc(fn interface{}) (*HostFunc, error) {
	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func {
		return nil, errors.Errorf("expected a function but was %s", ft.Kind())
	}
	if ft.NumIn() == 0 || ft.In(0) != ctxType {
		return nil, errors.New("function must take a context.Context as its first parameter")
	}

	in := 1
	withModule := ft.NumIn() > 1 && ft.In(1) == moduleType
	if withModule {
		in = 2
	}

	paramKinds := make([]reflect.Kind, 0, ft.NumIn()-in)
	paramTypes := make([]ValueType, 0, ft.NumIn()-in)
	for i := in; i < ft.NumIn(); i++ {
		vt, err := kindToValueType(ft.In(i).Kind())
		if err != nil {
			return nil, errors.Wrapf(err, "parameter %d", i)
		}
		paramKinds = append(paramKinds, ft.In(i).Kind())
		paramTypes = append(paramTypes, vt)
	}

	resultKinds := make([]reflect.Kind, 0, ft.NumOut())
	resultTypes := make([]ValueType, 0, ft.NumOut())
	for i := 0; i < ft.NumOut(); i++ {
		vt, err := kindToValueType(ft.Out(i).Kind())
		if err != nil {
			return nil, errors.Wrapf(err, "result %d", i)
		}
		resultKinds = append(resultKinds, ft.Out(i).Kind())
		resultTypes = append(resultTypes, vt)
	}

	hf := &HostFunc{ParamTypes: paramTypes, ResultTypes: resultTypes}
	hf.GoModuleFunc = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
		args := make([]reflect.Value, ft.NumIn())
		args[0] = reflect.ValueOf(ctx)
		if withModule {
			args[1] = reflect.ValueOf(mod)
		}
		for i, k := range paramKinds {
			args[in+i] = decodeArg(k, stack[i])
		}
		results := fv.Call(args)
		for i, rv := range results {
			stack[i] = encodeResult(resultKinds[i], rv)
		}
	})
	return hf, nil
}

func kindToValueType(k reflect.Kind) (ValueType, error) {
	switch k {
	case reflect.Uint32, reflect.Int32:
		return ValueTypeI32, nil
	case reflect.Uint64, reflect.Int64:
		return ValueTypeI64, nil
	case reflect.Float32:
		return ValueTypeF32, nil
	case reflect.Float64:
		return ValueTypeF64, nil
	default:
		return 0, errors.Errorf("unsupported type %s", k)
	}
}

func decodeArg(k reflect.Kind, raw uint64) reflect.Value {
	switch k {
	case reflect.Uint32:
		return reflect.ValueOf(uint32(raw))
	case reflect.Int32:
		return reflect.ValueOf(int32(uint32(raw)))
	case reflect.Uint64:
		return reflect.ValueOf(raw)
	case reflect.Int64:
		return reflect.ValueOf(int64(raw))
	case reflect.Float32:
		return reflect.ValueOf(api.DecodeF32(raw))
	case reflect.Float64:
		return reflect.ValueOf(api.DecodeF64(raw))
	default:
		panic("unreachable: validated by PopGoFunc")
	}
}

func encodeResult(k reflect.Kind, rv reflect.Value) uint64 {
	switch k {
	case reflect.Uint32:
		return uint64(uint32(rv.Uint()))
	case reflect.Int32:
		return api.EncodeI32(int32(rv.Int()))
	case reflect.Uint64:
		return rv.Uint()
	case reflect.Int64:
		return api.EncodeI64(rv.Int())
	case reflect.Float32:
		return api.EncodeF32(float32(rv.Float()))
	case reflect.Float64:
		return api.EncodeF64(rv.Float())
	default:
		panic("unreachable: validated by PopGoFunc")
	}
}
