package script

import (
	lua "github.com/yuin/gopher-lua"
)

const (
	// maxArrayLen bounds sequences read from script tables. The longest
	// light state field is xy with two entries.
	maxArrayLen = 16
	// maxDepth bounds table nesting, which also stops self-referencing tables.
	maxDepth = 8
)

// toGo converts a Lua value to a Go value. Tables holding exactly the keys
// 1..n become slices, other tables become string-keyed maps.
func toGo(v lua.LValue, depth int) any {
	switch val := v.(type) {
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case lua.LBool:
		return bool(val)
	case *lua.LTable:
		if depth >= maxDepth {
			return nil
		}
		if arr, ok := toSlice(val, depth+1); ok {
			return arr
		}
		return toMap(val, depth+1)
	case *lua.LNilType:
		return nil
	default:
		return v.String()
	}
}

// toSlice converts a table whose only keys are 1..n, n <= maxArrayLen.
func toSlice(tbl *lua.LTable, depth int) ([]any, bool) {
	n := tbl.MaxN()
	if n == 0 || n > maxArrayLen {
		return nil, false
	}

	keys := 0
	tbl.ForEach(func(_, _ lua.LValue) { keys++ })
	if keys != n {
		return nil, false
	}

	arr := make([]any, n)
	for i := 1; i <= n; i++ {
		arr[i-1] = toGo(tbl.RawGetInt(i), depth)
	}
	return arr, true
}

// tableToMap converts the string-keyed entries of a Lua table to a Go map
func tableToMap(tbl *lua.LTable) map[string]any {
	return toMap(tbl, 0)
}

func toMap(tbl *lua.LTable, depth int) map[string]any {
	m := make(map[string]any)
	tbl.ForEach(func(k, v lua.LValue) {
		if ks, ok := k.(lua.LString); ok {
			m[string(ks)] = toGo(v, depth)
		}
	})
	return m
}
