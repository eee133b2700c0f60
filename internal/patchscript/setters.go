package patchscript

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/cbegin/wtsynth-go/internal/params"
)

type setter func(v lua.LValue) error

type setters map[string]setter

// apply feeds every key of the table at arg through its setter. A missing
// table is allowed.
func apply(L *lua.LState, arg int, set setters) {
	tbl := L.OptTable(arg, nil)
	if tbl == nil {
		return
	}
	tbl.ForEach(func(k, v lua.LValue) {
		key, ok := k.(lua.LString)
		if !ok {
			L.ArgError(arg, fmt.Sprintf("non-string key %s", k))
		}
		fn, ok := set[string(key)]
		if !ok {
			L.ArgError(arg, fmt.Sprintf("unknown key %q", string(key)))
		}
		if err := fn(v); err != nil {
			L.ArgError(arg, fmt.Sprintf("%s: %v", string(key), err))
		}
	})
}

func typeError(want string, v lua.LValue) error {
	return fmt.Errorf("%s expected, got %s", want, v.Type())
}

func num(dst *float64) setter {
	return func(v lua.LValue) error {
		n, ok := v.(lua.LNumber)
		if !ok {
			return typeError("number", v)
		}
		*dst = float64(n)
		return nil
	}
}

func integer(dst *int) setter {
	return func(v lua.LValue) error {
		n, ok := v.(lua.LNumber)
		if !ok {
			return typeError("number", v)
		}
		if float64(n) != float64(int(n)) {
			return fmt.Errorf("integer expected, got %v", float64(n))
		}
		*dst = int(n)
		return nil
	}
}

func flag(dst *bool) setter {
	return func(v lua.LValue) error {
		b, ok := v.(lua.LBool)
		if !ok {
			return typeError("boolean", v)
		}
		*dst = bool(b)
		return nil
	}
}

func enum[T any](dst *T, parse func(string) (T, bool)) setter {
	return func(v lua.LValue) error {
		s, ok := v.(lua.LString)
		if !ok {
			return typeError("string", v)
		}
		val, ok := parse(string(s))
		if !ok {
			return fmt.Errorf("unknown value %q", string(s))
		}
		*dst = val
		return nil
	}
}

func source(dst *params.Source) setter {
	return func(v lua.LValue) error {
		s, ok := v.(lua.LString)
		if !ok {
			return typeError("string", v)
		}
		src, err := params.ParseSource(string(s))
		if err != nil {
			return err
		}
		*dst = src
		return nil
	}
}

func target(dst *params.Target) setter {
	return func(v lua.LValue) error {
		s, ok := v.(lua.LString)
		if !ok {
			return typeError("string", v)
		}
		t, err := params.ParseTarget(string(s))
		if err != nil {
			return err
		}
		*dst = t
		return nil
	}
}
