package mustache

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type person struct {
	Name    string
	Age     int
	Tagged  string `mustache:"nick"`
	Friend  *person
	private string
}

func (p person) Greeting() string { return "hi " + p.Name }

func (p *person) Shout() string { return p.Name + "!" }

func (p person) Fail() (string, error) { return "", errors.New("boom") }

type lookupMap struct{ calls int }

func (l *lookupMap) Lookup(name string) (any, bool) {
	l.calls++
	if name == "dynamic" {
		return "value", true
	}
	return nil, false
}

type named map[string]int

func TestResolveDot(t *testing.T) {
	var s contextStack
	_, ok, err := s.resolve(".")
	require.NoError(t, err)
	assert.False(t, ok)

	s.push("outer")
	s.push("inner")
	v, ok, err := s.resolve(".")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "inner", v)
}

func TestResolveInnermostFirst(t *testing.T) {
	asrt := assert.New(t)

	s := contextStack{
		map[string]any{"a": map[string]any{"b": "outer-b", "c": "outer-c"}, "x": "outer-x"},
		map[string]any{"a": map[string]any{"b": "inner-b"}},
	}

	v, ok, _ := s.resolve("a.b")
	asrt.True(ok)
	asrt.Equal("inner-b", v)

	// a was found in the inner frame, so a.c does not fall back outward.
	_, ok, _ = s.resolve("a.c")
	asrt.False(ok)

	v, ok, _ = s.resolve("x")
	asrt.True(ok)
	asrt.Equal("outer-x", v)
}

func TestResolveFalsyShadows(t *testing.T) {
	s := contextStack{
		map[string]any{"flag": true},
		map[string]any{"flag": false},
	}
	v, ok, err := s.resolve("flag")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, false, v)

	s = contextStack{
		map[string]any{"v": "outer"},
		map[string]any{"v": nil},
	}
	v, ok, _ = s.resolve("v")
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestResolveStruct(t *testing.T) {
	asrt := assert.New(t)

	p := &person{Name: "Ann", Age: 0, Tagged: "annie", Friend: &person{Name: "Bob"}, private: "secret"}
	s := contextStack{p}

	cases := map[string]any{
		"Name":        "Ann",
		"name":        "Ann",
		"Age":         0,
		"nick":        "annie",
		"Friend.Name": "Bob",
		"Greeting":    "hi Ann",
		"greeting":    "hi Ann",
		"Shout":       "Ann!",
		"friend.name": "Bob",
	}
	for path, want := range cases {
		v, ok, err := s.resolve(path)
		asrt.NoError(err, path)
		asrt.True(ok, path)
		asrt.Equal(want, v, path)
	}

	_, ok, _ := s.resolve("private")
	asrt.False(ok)
	_, ok, _ = s.resolve("Missing")
	asrt.False(ok)

	// pointer-receiver methods are not visible on a struct value
	_, ok, _ = contextStack{person{Name: "Ann"}}.resolve("Shout")
	asrt.False(ok)
}

func TestResolveNilPointer(t *testing.T) {
	s := contextStack{&person{Name: "Ann"}}
	_, ok, err := s.resolve("Friend.Name")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveCallableError(t *testing.T) {
	s := contextStack{person{Name: "Ann"}}
	_, _, err := s.resolve("Fail")
	assert.EqualError(t, err, "boom")

	s = contextStack{map[string]any{"f": func() (any, error) { return nil, errors.New("nope") }}}
	_, _, err = s.resolve("f")
	assert.EqualError(t, err, "nope")
}

func TestResolveCallables(t *testing.T) {
	asrt := assert.New(t)

	s := contextStack{map[string]any{
		"any":    func() any { return map[string]any{"inner": 1} },
		"str":    func() string { return "s" },
		"num":    func() int { return 7 },
		"lambda": func(text string) string { return text },
	}}

	v, ok, _ := s.resolve("any.inner")
	asrt.True(ok)
	asrt.Equal(1, v)

	v, _, _ = s.resolve("str")
	asrt.Equal("s", v)

	v, _, _ = s.resolve("num")
	asrt.Equal(7, v)

	v, _, _ = s.resolve("lambda")
	_, isLambda := v.(func(string) string)
	asrt.True(isLambda)
}

func TestResolveLookuper(t *testing.T) {
	l := &lookupMap{}
	s := contextStack{map[string]any{"dynamic": "shadowed", "other": "o"}, l}

	v, ok, _ := s.resolve("dynamic")
	assert.True(t, ok)
	assert.Equal(t, "value", v)

	v, ok, _ = s.resolve("other")
	assert.True(t, ok)
	assert.Equal(t, "o", v)
	assert.Equal(t, 2, l.calls)
}

func TestResolveMapsAndSlices(t *testing.T) {
	asrt := assert.New(t)

	s := contextStack{map[string]any{
		"strs":  map[string]string{"k": "v"},
		"named": named{"n": 3},
		"ints":  map[int]string{1: "one"},
		"list":  []string{"a", "b"},
		"arr":   [2]int{5, 6},
	}}

	v, ok, _ := s.resolve("strs.k")
	asrt.True(ok)
	asrt.Equal("v", v)

	v, _, _ = s.resolve("named.n")
	asrt.Equal(3, v)

	_, ok, _ = s.resolve("ints.1")
	asrt.False(ok)

	v, _, _ = s.resolve("list.1")
	asrt.Equal("b", v)

	_, ok, _ = s.resolve("list.2")
	asrt.False(ok)

	v, _, _ = s.resolve("arr.0")
	asrt.Equal(5, v)
}

func TestTruthy(t *testing.T) {
	var nilMap map[string]any
	var nilPtr *person
	falseVal := false

	truthyValues := []any{true, "x", 0, 0.0, []int{1}, map[string]any{}, struct{}{}, &person{}}
	falsyValues := []any{nil, false, "", []any{}, []int{}, [0]int{}, nilMap, nilPtr, &falseVal}

	for _, v := range truthyValues {
		assert.True(t, truthy(v), "%#v", v)
	}
	for _, v := range falsyValues {
		assert.False(t, truthy(v), "%#v", v)
	}
}

type stringer struct{}

func (stringer) String() string { return "stringer" }

func TestStringify(t *testing.T) {
	n := 42
	cases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"s", "s"},
		{[]byte("b"), "b"},
		{true, "true"},
		{-3, "-3"},
		{uint8(7), "7"},
		{int64(1 << 40), "1099511627776"},
		{1.5, "1.5"},
		{1.210, "1.21"},
		{float32(0.25), "0.25"},
		{stringer{}, "stringer"},
		{errors.New("e"), "e"},
		{&n, "42"},
		{time.Duration(0), "0s"},
		{[]int{1, 2}, "[1 2]"},
		{func(string) string { return "" }, ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, stringify(c.in), fmt.Sprintf("%#v", c.in))
	}
}
