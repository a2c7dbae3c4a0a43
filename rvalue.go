package ox

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// RValue is the runtime result of evaluating an expression: a plain Go
// union mirroring the AST's Literal kinds, used internally by the
// evaluator so arithmetic/comparison/truthiness logic (spec.md §4.3) stays
// in one place independent of how the value will ultimately be written
// back (a property Literal, a loop variable, a data-source result...).
//
// Modeled on the teacher's reflect-backed Value (_examples/flosch-pongo2/
// value.go), simplified to OX's closed literal kind set (no arbitrary host
// types to reflect over) per spec.md §9 "tagged unions + exhaustive match
// over open polymorphism".
type RValue struct {
	kind LiteralType
	str  string
	num  float64
	b    bool
	arr  []*RValue
	// block is set when this value resolves a reference that terminates at
	// a block context rather than a property (spec.md §4.8 "terminal
	// access fails IncompleteReference" unless further member access
	// follows); it lets the evaluator defer that check to the caller.
	block *BlockContext
	// obj backs a host-constructed object value (spec.md §4.6 `$error`:
	// message/code?/timestamp), addressed by member access like a block
	// reference but with no backing Block.
	obj map[string]*RValue
}

func RNull() *RValue                            { return &RValue{kind: LitNull} }
func RString(s string) *RValue                  { return &RValue{kind: LitString, str: s} }
func RNumber(n float64) *RValue                 { return &RValue{kind: LitNumber, num: n} }
func RBool(b bool) *RValue                      { return &RValue{kind: LitBool, b: b} }
func RArray(items []*RValue) *RValue            { return &RValue{kind: -1, arr: items} }
func RBlockRef(bc *BlockContext) *RValue        { return &RValue{kind: -2, block: bc} }
func RObject(fields map[string]*RValue) *RValue { return &RValue{kind: -3, obj: fields} }

func (v *RValue) IsNull() bool     { return v != nil && v.kind == LitNull }
func (v *RValue) IsString() bool   { return v != nil && v.kind == LitString }
func (v *RValue) IsNumber() bool   { return v != nil && v.kind == LitNumber }
func (v *RValue) IsBool() bool     { return v != nil && v.kind == LitBool }
func (v *RValue) IsArray() bool    { return v != nil && v.kind == -1 }
func (v *RValue) IsBlockRef() bool { return v != nil && v.kind == -2 }
func (v *RValue) IsObject() bool   { return v != nil && v.kind == -3 }

func (v *RValue) Str() string                { return v.str }
func (v *RValue) Num() float64               { return v.num }
func (v *RValue) Bool() bool                 { return v.b }
func (v *RValue) Items() []*RValue           { return v.arr }
func (v *RValue) Block() *BlockContext       { return v.block }
func (v *RValue) Fields() map[string]*RValue { return v.obj }

// Truthy implements OX truthiness (spec.md §4.3): null, false, 0, and "" are
// falsy; everything else (including empty arrays, per spec's silence on
// arrays we treat analogously to non-empty-length semantics) is true.
func (v *RValue) Truthy() bool {
	switch {
	case v == nil || v.IsNull():
		return false
	case v.IsBool():
		return v.b
	case v.IsNumber():
		return v.num != 0
	case v.IsString():
		return v.str != ""
	case v.IsArray():
		return len(v.arr) > 0
	default:
		return true
	}
}

// Equal implements structural equality for `==`/`!=`.
func (v *RValue) Equal(o *RValue) bool {
	if v.IsNull() || o.IsNull() {
		return v.IsNull() && o.IsNull()
	}
	if v.kind != o.kind {
		// Allow cross comparison between number/string representations to fail
		// rather than silently coerce, matching "structural equality".
		return false
	}
	switch v.kind {
	case LitString:
		return v.str == o.str
	case LitNumber:
		return v.num == o.num
	case LitBool:
		return v.b == o.b
	case -1:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (v *RValue) String() string {
	if v == nil || v.IsNull() {
		return ""
	}
	switch v.kind {
	case LitString:
		return v.str
	case LitNumber:
		if v.num == float64(int64(v.num)) {
			return strconv.FormatInt(int64(v.num), 10)
		}
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case LitBool:
		return strconv.FormatBool(v.b)
	case -1:
		return fmt.Sprintf("%v", v.arr)
	case -3:
		b, _ := json.Marshal(rvalueToJSON(v))
		return string(b)
	default:
		return ""
	}
}

// ToValue converts an evaluated RValue into an AST Literal/Array Value,
// the form a Block's properties must hold after preprocessing (spec.md
// §3 invariant).
func (v *RValue) ToValue() *Value {
	if v == nil || v.IsNull() {
		return NewNullLiteral()
	}
	switch v.kind {
	case LitString:
		return NewStringLiteral(v.str)
	case LitNumber:
		return NewNumberLiteral(v.num)
	case LitBool:
		return NewBoolLiteral(v.b)
	case -1:
		items := make([]*Value, len(v.arr))
		for i, it := range v.arr {
			items[i] = it.ToValue()
		}
		return &Value{Kind: ValueArray, Items: items}
	case -3:
		b, err := json.Marshal(rvalueToJSON(v))
		if err != nil {
			return NewNullLiteral()
		}
		return NewObjectLiteral(string(b))
	default:
		return NewNullLiteral()
	}
}

// rvalueToJSON converts an RValue tree into plain Go values suitable for
// encoding/json, used to canonicalize an object RValue into the JSON text a
// LitObject property stores (ast.go's NewObjectLiteral).
func rvalueToJSON(v *RValue) interface{} {
	if v == nil || v.IsNull() {
		return nil
	}
	switch {
	case v.IsString():
		return v.str
	case v.IsNumber():
		return v.num
	case v.IsBool():
		return v.b
	case v.IsArray():
		out := make([]interface{}, len(v.arr))
		for i, it := range v.arr {
			out[i] = rvalueToJSON(it)
		}
		return out
	case v.IsObject():
		out := make(map[string]interface{}, len(v.obj))
		for k, fv := range v.obj {
			out[k] = rvalueToJSON(fv)
		}
		return out
	default:
		return nil
	}
}

// jsonToRValue converts decoded JSON (from encoding/json's interface{}
// representation) back into an RValue tree, the inverse of rvalueToJSON.
func jsonToRValue(x interface{}) *RValue {
	switch v := x.(type) {
	case nil:
		return RNull()
	case string:
		return RString(v)
	case float64:
		return RNumber(v)
	case bool:
		return RBool(v)
	case []interface{}:
		items := make([]*RValue, len(v))
		for i, it := range v {
			items[i] = jsonToRValue(it)
		}
		return RArray(items)
	case map[string]interface{}:
		fields := make(map[string]*RValue, len(v))
		for k, fv := range v {
			fields[k] = jsonToRValue(fv)
		}
		return RObject(fields)
	default:
		return RNull()
	}
}

// valueToRValue converts a literalised AST Value back into an RValue so the
// evaluator can operate uniformly, used when a reference resolves to an
// already-evaluated property (spec.md §4.8 Pass 2).
func valueToRValue(v *Value) *RValue {
	if v == nil {
		return RNull()
	}
	switch v.Kind {
	case ValueLiteral:
		switch v.LitType {
		case LitString:
			return RString(v.Str)
		case LitObject:
			var decoded interface{}
			if err := json.Unmarshal([]byte(v.Str), &decoded); err != nil {
				return RNull()
			}
			return jsonToRValue(decoded)
		case LitNumber:
			return RNumber(v.Num)
		case LitBool:
			return RBool(v.Bool)
		default:
			return RNull()
		}
	case ValueArray:
		items := make([]*RValue, len(v.Items))
		for i, it := range v.Items {
			items[i] = valueToRValue(it)
		}
		return RArray(items)
	default:
		return RNull()
	}
}
