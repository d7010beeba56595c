package expr

import "fmt"

// Kind identifies which variant of Value is populated, mirroring the CEL
// value kinds the expression layer can produce or consume.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindUint
	KindFloat
	KindBool
	KindBytes
	KindTimestamp
	KindMap
	KindList
)

// Value is the result type of expression evaluation: a string, int, uint,
// float, bool, null, bytes, timestamp, map, or list.
type Value struct {
	kind  Kind
	str   string
	i64   int64
	u64   uint64
	f64   float64
	b     bool
	bytes []byte
	ts    int64
	list  []Value
	m     map[string]Value
}

func Null() Value                  { return Value{kind: KindNull} }
func String(s string) Value        { return Value{kind: KindString, str: s} }
func Int(v int64) Value            { return Value{kind: KindInt, i64: v} }
func Uint(v uint64) Value          { return Value{kind: KindUint, u64: v} }
func Float(v float64) Value        { return Value{kind: KindFloat, f64: v} }
func Bool(v bool) Value            { return Value{kind: KindBool, b: v} }
func Bytes(v []byte) Value         { return Value{kind: KindBytes, bytes: v} }
func Timestamp(nanos int64) Value  { return Value{kind: KindTimestamp, ts: nanos} }
func List(items []Value) Value     { return Value{kind: KindList, list: items} }
func Map(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

func (v Value) AsInt() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i64, true
}

func (v Value) AsUint() (uint64, bool) {
	if v.kind != KindUint {
		return 0, false
	}
	return v.u64, true
}

func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindFloat {
		return 0, false
	}
	return v.f64, true
}

func (v Value) AsBytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return v.bytes, true
}

// Native converts Value into the closest Go native representation accepted
// by a cel-go Activation (map[string]any), so it can be re-fed as input to
// another expression evaluation (e.g. nested attribute maps).
func (v Value) Native() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindString:
		return v.str
	case KindInt:
		return v.i64
	case KindUint:
		return v.u64
	case KindFloat:
		return v.f64
	case KindBool:
		return v.b
	case KindBytes:
		return v.bytes
	case KindTimestamp:
		return v.ts
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.Native()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			out[k] = e.Native()
		}
		return out
	default:
		return nil
	}
}

// Stringify renders a scalar Value the way a rate-limit descriptor entry
// value is encoded: Int/UInt/Float as decimal digits, String raw, Bool as
// true/false, Null as "null". Non-scalar values are an error.
func (v Value) Stringify() (string, error) {
	switch v.kind {
	case KindInt:
		return fmt.Sprintf("%d", v.i64), nil
	case KindUint:
		return fmt.Sprintf("%d", v.u64), nil
	case KindFloat:
		return fmt.Sprintf("%v", v.f64), nil
	case KindString:
		return v.str, nil
	case KindBool:
		if v.b {
			return "true", nil
		}
		return "false", nil
	case KindNull:
		return "null", nil
	default:
		return "", fmt.Errorf("expr: only scalar values can be sent as data (got kind %d)", v.kind)
	}
}
