package serde

import (
	"reflect"

	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

// TypeDelegates 是一个类型注册到 Registry 的全部函数。
//
// GetSizeFromBuffer 与 ConstantSize 可为空：前者缺省时由 Deserialize + GetSizeFromValue 推导，
// 后者缺省表示长度不定。
type TypeDelegates struct {
	Serialize         SerializeFunc
	Deserialize       DeserializeFunc
	GetSizeFromValue  GetSizeFunc
	GetSizeFromBuffer BufferSizeFunc
	ConstantSize      func() (uint16, bool)
}

// delegateBuilder 是三个委托构建器共享的部分：按顺序排列的成员操作、值区间，
// 以及把调用方传入的值装载为可读写对象的逻辑。
type delegateBuilder struct {
	typ    reflect.Type
	ops    []SerializationOp
	values []*SerializeValueOp
	ranges ObjectSerializationValueRanges
	// needsAddr 表示存在属性成员，读取时需要可寻址的对象。
	needsAddr bool
}

func newDelegateBuilder(t reflect.Type, ops []SerializationOp, ranges ObjectSerializationValueRanges) (*delegateBuilder, error) {
	b := &delegateBuilder{typ: t, ops: ops, ranges: ranges}
	for _, op := range ops {
		switch op := op.(type) {
		case *SerializeValueOp:
			if op.Serializer == nil || op.Value == nil {
				return nil, merr.WrapErrSerdeBuild(t, merr.WrapErrSerdeConfiguration(t, "value op without serializer"))
			}
			if op.Value.Kind == ValueKindProperty {
				b.needsAddr = true
			}
			b.values = append(b.values, op)
		case *ActivationOp:
		default:
			return nil, merr.WrapErrSerdeBuild(t, merr.WrapErrSerdeConfiguration(t, "unknown op"))
		}
	}
	if len(b.values) != ranges.TotalValues {
		return nil, merr.WrapErrSerdeBuild(t, merr.WrapErrSerdeOpCountMismatch(len(b.values), ranges.TotalValues))
	}
	return b, nil
}

// load 接受 T 或 *T，返回类型为 T 的对象值。
func (b *delegateBuilder) load(v reflect.Value) (reflect.Value, error) {
	if !v.IsValid() {
		return reflect.Value{}, merr.WrapErrSerdeNilValue(b.typ)
	}
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}, merr.WrapErrSerdeNilValue(b.typ)
		}
		v = v.Elem()
	}
	if v.Kind() == reflect.Ptr && v.Type().Elem() == b.typ {
		if v.IsNil() {
			return reflect.Value{}, merr.WrapErrSerdeNilValue(b.typ)
		}
		v = v.Elem()
	}
	if v.Type() != b.typ {
		return reflect.Value{}, merr.WrapErrSerdeInvalidData(b.typ, "value of type "+v.Type().String())
	}
	if b.needsAddr && !v.CanAddr() {
		tmp := reflect.New(b.typ).Elem()
		tmp.Set(v)
		v = tmp
	}
	return v, nil
}

// absent 报告 op 对应的成员是否为空值。
func absent(op *SerializeValueOp, member reflect.Value) bool {
	return op.NullableIndex >= 0 && isNullValue(member)
}

// constantSize 计算全部成员均为定长且不可空时的总长度。
func (b *delegateBuilder) constantSize() (uint16, bool) {
	if b.ranges.HasNullable() {
		return 0, false
	}
	total := 0
	for _, op := range b.values {
		size, ok := constantSize(op.Serializer)
		if !ok {
			return 0, false
		}
		total += int(size)
	}
	if total > MaxSize {
		return 0, false
	}
	return uint16(total), true
}

// BuildDelegates 由程序与值区间构建一个类型的全部委托。
func BuildDelegates(t reflect.Type, program *SerializationProgram, ranges ObjectSerializationValueRanges) (d TypeDelegates, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = merr.WrapErrSerdeBuild(t, panicToError(r))
		}
	}()
	if program == nil {
		return TypeDelegates{}, merr.WrapErrSerdeBuild(t, merr.WrapErrSerdeConfiguration(t, "nil program"))
	}

	ser, err := newDelegateBuilder(t, program.Serialize, ranges)
	if err != nil {
		return TypeDelegates{}, err
	}
	de, err := newDelegateBuilder(t, program.Deserialize, ranges)
	if err != nil {
		return TypeDelegates{}, err
	}

	size := newSizeBuilder(ser)
	d = TypeDelegates{
		Serialize:         buildSerialize(ser),
		Deserialize:       buildDeserialize(de),
		GetSizeFromValue:  size.buildFromValue(),
		GetSizeFromBuffer: size.buildFromBuffer(),
		ConstantSize:      size.constant,
	}
	return d, nil
}
