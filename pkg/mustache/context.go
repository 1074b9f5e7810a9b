package mustache

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

// Lookuper is implemented by view values that resolve names themselves. It
// takes precedence over reflection.
type Lookuper interface {
	Lookup(name string) (any, bool)
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// contextStack is the stack of view frames consulted during a render. The
// innermost frame is last.
type contextStack []any

func (s *contextStack) push(v any) { *s = append(*s, v) }

func (s *contextStack) pop() { *s = (*s)[:len(*s)-1] }

// resolve looks up a dotted path. "." names the innermost frame. The first
// segment is searched innermost-first and the first frame that has the
// property wins, even when its value is falsy. Remaining segments are looked
// up strictly within the previous result.
func (s contextStack) resolve(path string) (any, bool, error) {
	if path == "." {
		if len(s) == 0 {
			return nil, false, nil
		}
		return s[len(s)-1], true, nil
	}

	head, rest, dotted := strings.Cut(path, ".")
	var (
		v     any
		found bool
		err   error
	)
	for i := len(s) - 1; i >= 0; i-- {
		v, found, err = property(s[i], head)
		if err != nil {
			return nil, false, err
		}
		if found {
			break
		}
	}
	for found && dotted {
		var seg string
		seg, rest, dotted = strings.Cut(rest, ".")
		v, found, err = property(v, seg)
		if err != nil {
			return nil, false, err
		}
	}
	if !found {
		return nil, false, nil
	}
	return v, true, nil
}

// property resolves a single name against one frame. Zero-argument callables
// found along the way are invoked and their result is used instead.
func property(frame any, name string) (any, bool, error) {
	switch f := frame.(type) {
	case nil:
		return nil, false, nil
	case Lookuper:
		v, ok := f.Lookup(name)
		if !ok {
			return nil, false, nil
		}
		return call(v)
	case map[string]any:
		v, ok := f[name]
		if !ok {
			return nil, false, nil
		}
		return call(v)
	case map[string]string:
		v, ok := f[name]
		return v, ok, nil
	}

	rv := reflect.ValueOf(frame)
	base := indirect(rv)
	if !base.IsValid() {
		return nil, false, nil
	}
	switch base.Kind() {
	case reflect.Map:
		kt := base.Type().Key()
		if kt.Kind() != reflect.String {
			break
		}
		mv := base.MapIndex(reflect.ValueOf(name).Convert(kt))
		if !mv.IsValid() {
			return nil, false, nil
		}
		return call(mv.Interface())
	case reflect.Struct:
		if idx := fieldIndex(base.Type(), name); idx != nil {
			fv, err := base.FieldByIndexErr(idx)
			if err != nil {
				// nil embedded pointer
				return nil, false, nil
			}
			return call(fv.Interface())
		}
	case reflect.Slice, reflect.Array:
		if i, err := strconv.Atoi(name); err == nil && i >= 0 && i < base.Len() {
			return call(base.Index(i).Interface())
		}
		return nil, false, nil
	}

	if m := method(rv, name); m.IsValid() {
		v, err := invoke(m)
		return v, true, err
	}
	return nil, false, nil
}

// indirect follows pointers and interfaces. It returns the zero Value for nil.
func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

type fieldKey struct {
	typ  reflect.Type
	name string
}

var fieldCache sync.Map // fieldKey -> []int

// fieldIndex finds the exported field of t matching name: the exact field
// name first, then a `mustache:"name"` tag, then a case-insensitive match.
func fieldIndex(t reflect.Type, name string) []int {
	k := fieldKey{typ: t, name: name}
	if v, ok := fieldCache.Load(k); ok {
		return v.([]int)
	}
	idx := findField(t, name)
	fieldCache.Store(k, idx)
	return idx
}

func findField(t reflect.Type, name string) []int {
	if f, ok := t.FieldByName(name); ok && f.IsExported() {
		return f.Index
	}
	fields := reflect.VisibleFields(t)
	for _, f := range fields {
		if f.IsExported() && f.Tag.Get("mustache") == name {
			return f.Index
		}
	}
	for _, f := range fields {
		if f.IsExported() && !f.Anonymous && strings.EqualFold(f.Name, name) {
			return f.Index
		}
	}
	return nil
}

// method finds a zero-argument method on v by exact or case-insensitive name.
func method(v reflect.Value, name string) reflect.Value {
	if !v.IsValid() || name == "" {
		return reflect.Value{}
	}
	if m := v.MethodByName(name); m.IsValid() {
		if nullary(m.Type()) {
			return m
		}
		return reflect.Value{}
	}
	t := v.Type()
	for i := 0; i < t.NumMethod(); i++ {
		if strings.EqualFold(t.Method(i).Name, name) {
			if m := v.Method(i); nullary(m.Type()) {
				return m
			}
		}
	}
	return reflect.Value{}
}

// nullary reports whether t is a func taking no arguments and returning one
// value, optionally followed by an error.
func nullary(t reflect.Type) bool {
	if t.Kind() != reflect.Func || t.NumIn() != 0 {
		return false
	}
	switch t.NumOut() {
	case 1:
		return true
	case 2:
		return t.Out(1) == errorType
	}
	return false
}

func invoke(fn reflect.Value) (any, error) {
	out := fn.Call(nil)
	if len(out) == 2 && !out[1].IsNil() {
		return nil, out[1].Interface().(error)
	}
	return out[0].Interface(), nil
}

// call replaces zero-argument callables with their result. Lambdas taking
// the section text are returned unchanged.
func call(v any) (any, bool, error) {
	switch f := v.(type) {
	case nil:
		return nil, true, nil
	case func() any:
		return f(), true, nil
	case func() string:
		return f(), true, nil
	case func() (any, error):
		r, err := f()
		return r, true, err
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Func && !rv.IsNil() && nullary(rv.Type()) {
		r, err := invoke(rv)
		return r, true, err
	}
	return v, true, nil
}

// truthy decides whether a section renders. Missing values, nil, false, the
// empty string and empty lists are falsy. Numeric zero, empty maps and
// structs are truthy.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return false
		}
		return truthy(rv.Elem().Interface())
	case reflect.Map, reflect.Func, reflect.Chan:
		return !rv.IsNil()
	case reflect.Slice, reflect.Array, reflect.String:
		return rv.Len() > 0
	case reflect.Bool:
		return rv.Bool()
	}
	return true
}

// list returns v as an iterable list. Byte slices are values, not lists.
func list(v any) (reflect.Value, bool) {
	if _, ok := v.([]byte); ok {
		return reflect.Value{}, false
	}
	rv := indirect(reflect.ValueOf(v))
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return rv, true
	}
	return reflect.Value{}, false
}

// stringify converts an interpolated value to text.
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint8:
		return strconv.FormatUint(uint64(x), 10)
	case uint16:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case fmt.Stringer:
		return x.String()
	case error:
		return x.Error()
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return ""
		}
		return stringify(rv.Elem().Interface())
	case reflect.Func:
		return ""
	}
	return fmt.Sprint(v)
}
