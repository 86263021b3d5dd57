package guards

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// visitFunc is called for every string leaf; returning false stops the walk.
type visitFunc func(path, value string) bool

// walkStrings visits every string leaf reachable from v in a deterministic
// order: mapping keys sorted, sequences by index. Depth is unbounded.
// It reports false if visit stopped the walk.
func walkStrings(v any, path string, visit visitFunc) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return visit(path, x)
	case map[string]any:
		for _, k := range sortedKeys(x) {
			if !walkStrings(x[k], joinKey(path, k), visit) {
				return false
			}
		}
		return true
	case []any:
		for i, item := range x {
			if !walkStrings(item, joinIndex(path, i), visit) {
				return false
			}
		}
		return true
	case []string:
		for i, s := range x {
			if !visit(joinIndex(path, i), s) {
				return false
			}
		}
		return true
	case map[string]string:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !visit(joinKey(path, k), x[k]) {
				return false
			}
		}
		return true
	}
	return walkReflect(reflect.ValueOf(v), path, visit)
}

// walkReflect covers typed maps, slices, arrays and pointers that the fast
// path above does not.
func walkReflect(rv reflect.Value, path string, visit visitFunc) bool {
	switch rv.Kind() {
	case reflect.String:
		return visit(path, rv.String())
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return true
		}
		return walkStrings(rv.Elem().Interface(), path, visit)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return true // raw bytes are not text leaves
		}
		for i := 0; i < rv.Len(); i++ {
			if !walkStrings(rv.Index(i).Interface(), joinIndex(path, i), visit) {
				return false
			}
		}
		return true
	case reflect.Map:
		keys := rv.MapKeys()
		names := make([]string, len(keys))
		byName := make(map[string]reflect.Value, len(keys))
		for i, k := range keys {
			names[i] = fmt.Sprint(k.Interface())
			byName[names[i]] = k
		}
		sort.Strings(names)
		for _, name := range names {
			if !walkStrings(rv.MapIndex(byName[name]).Interface(), joinKey(path, name), visit) {
				return false
			}
		}
		return true
	}
	return true
}

// decodeArguments turns JSON-encoded argument strings into structured
// values. Anything else, including non-JSON strings, is returned as is.
func decodeArguments(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return v
	}
	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return v
	}
	return decoded
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func joinKey(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func joinIndex(path string, i int) string {
	return fmt.Sprintf("%s[%d]", path, i)
}
