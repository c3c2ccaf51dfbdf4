package ir

import "strconv"

type (
	Const interface {
		Value

		isConst()
	}

	ConstInt struct {
		value

		V int64
	}

	// ConstArray is a nested constant-array literal; its shape matches
	// the declared array type.
	ConstArray struct {
		value

		Elems []Const
	}
)

func NewConstInt(t Type, v int64) *ConstInt {
	return &ConstInt{
		value: value{typ: t, name: strconv.FormatInt(v, 10)},
		V:     v,
	}
}

// Int32 is a fresh i32 constant.
func Int32(v int64) *ConstInt {
	return NewConstInt(I32, v)
}

func NewConstArray(t Type, elems []Const) *ConstArray {
	return &ConstArray{
		value: value{typ: t, name: "array"},
		Elems: elems,
	}
}

func (*ConstInt) isConst()   {}
func (*ConstArray) isConst() {}
