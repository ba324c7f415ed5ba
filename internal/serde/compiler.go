package serde

import (
	"reflect"
	"slices"

	"github.com/samber/lo"

	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

// SerializationOp 是编译后程序中的一步，取值只有 *SerializeValueOp 与 *ActivationOp。
type SerializationOp interface {
	serializationOp()
}

// SerializeValueOp 表示用 Serializer 处理第 Index 个成员。
// NullableIndex 为该成员在空值掩码中的位号，不可空时为 -1。
type SerializeValueOp struct {
	Index         int
	NullableIndex int
	Value         *SerializationValue
	Serializer    Serializer
}

// ActivationOp 表示用已读出的成员调用构造函数。Args[i] 为第 i 个参数对应的成员下标。
type ActivationOp struct {
	Activation *Activation
	Args       []int
}

func (*SerializeValueOp) serializationOp() {}
func (*ActivationOp) serializationOp()     {}

func compileValueOps(m *ObjectSerializationMapping) ([]SerializationOp, error) {
	if m == nil || m.resolver == nil {
		return nil, merr.WrapErrSerdeConfiguration(nil, "mapping is not built by MappingBuilder.Map")
	}
	ops := make([]SerializationOp, 0, len(m.Values)+1)
	nullable := 0
	for i, v := range m.Values {
		s, err := m.resolver.resolve(v.Type, m.Type)
		if err != nil {
			return nil, merr.WrapErrSerdeUnsupportedMember(m.Type, v.Name, v.Type, err.Error())
		}
		op := &SerializeValueOp{Index: i, NullableIndex: -1, Value: v, Serializer: s}
		if v.Nullable {
			op.NullableIndex = nullable
			nullable++
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// CompileSerializationOps 为每个成员生成一个 SerializeValueOp，顺序与映射一致。
func CompileSerializationOps(m *ObjectSerializationMapping) ([]SerializationOp, error) {
	return compileValueOps(m)
}

// CompileDeserializationOps 在成员操作之外，于最后一个构造参数之后插入 ActivationOp。
func CompileDeserializationOps(m *ObjectSerializationMapping) ([]SerializationOp, error) {
	ops, err := compileValueOps(m)
	if err != nil || m.Activation == nil {
		return ops, err
	}
	act, err := compileActivation(m)
	if err != nil {
		return nil, err
	}
	pos := 0
	if len(act.Args) > 0 {
		pos = lo.Max(act.Args) + 1
	}
	return append(ops[:pos], append([]SerializationOp{act}, ops[pos:]...)...), nil
}

func compileActivation(m *ObjectSerializationMapping) (*ActivationOp, error) {
	a := m.Activation
	ft := a.Constructor.Type()
	if ft.IsVariadic() {
		return nil, merr.WrapErrSerdeActivation(m.Type, "variadic constructor is not supported")
	}
	if ft.NumIn() != len(a.Parameters) {
		return nil, merr.WrapErrSerdeActivation(m.Type, "constructor parameter names do not match its arity")
	}
	params := make(map[string]int, len(a.Parameters))
	for i, p := range a.Parameters {
		if _, ok := params[p]; ok {
			return nil, merr.WrapErrSerdeActivation(m.Type, "duplicate constructor parameter "+p)
		}
		params[p] = i
	}

	args := lo.Times(len(a.Parameters), func(int) int { return -1 })
	for _, h := range a.Hints {
		pi, ok := params[h.Parameter]
		if !ok {
			return nil, merr.WrapErrSerdeActivation(m.Type, "hint parameter "+h.Parameter+" is not a constructor parameter")
		}
		if args[pi] >= 0 {
			return nil, merr.WrapErrSerdeActivation(m.Type, "constructor parameter "+h.Parameter+" is hinted twice")
		}
		vi := m.valueIndex(h.Member)
		if vi < 0 {
			return nil, merr.WrapErrSerdeActivation(m.Type, "hint "+h.Parameter+" references unknown member "+h.Member)
		}
		if pt := ft.In(pi); !m.Values[vi].Type.AssignableTo(pt) {
			return nil, merr.WrapErrSerdeActivation(m.Type,
				"member "+h.Member+" of type "+m.Values[vi].Type.String()+" cannot be passed as "+pt.String())
		}
		args[pi] = vi
	}
	if missing, ok := lo.Find(lo.Range(len(args)), func(i int) bool { return args[i] < 0 }); ok {
		return nil, merr.WrapErrSerdeActivation(m.Type, "constructor parameter "+a.Parameters[missing]+" has no hint")
	}
	return &ActivationOp{Activation: a, Args: args}, nil
}

// SerializationProgram 是一个类型的序列化与反序列化程序。
type SerializationProgram struct {
	Type        reflect.Type
	Serialize   []SerializationOp
	Deserialize []SerializationOp
}

func valueOrder(ops []SerializationOp) []int {
	return lo.FilterMap(ops, func(op SerializationOp, _ int) (int, bool) {
		v, ok := op.(*SerializeValueOp)
		if !ok {
			return 0, false
		}
		return v.Index, true
	})
}

func countValueOps(ops []SerializationOp) int {
	return lo.CountBy(ops, func(op SerializationOp) bool {
		_, ok := op.(*SerializeValueOp)
		return ok
	})
}

// NewSerializationProgram 组合两段程序，两者的成员操作数量必须相同，ActivationOp 只能出现在反序列化程序中。
func NewSerializationProgram(t reflect.Type, ser, deser []SerializationOp) (*SerializationProgram, error) {
	sc, dc := countValueOps(ser), countValueOps(deser)
	if sc != dc {
		return nil, merr.WrapErrSerdeOpCountMismatch(sc, dc)
	}
	if sc != len(ser) {
		return nil, merr.WrapErrSerdeConfiguration(t, "serialization program must not contain activation")
	}
	if len(deser)-dc > 1 {
		return nil, merr.WrapErrSerdeConfiguration(t, "deserialization program has more than one activation")
	}
	if !slices.Equal(valueOrder(ser), valueOrder(deser)) {
		return nil, merr.WrapErrSerdeConfiguration(t, "serialization and deserialization programs disagree on value order")
	}
	return &SerializationProgram{Type: t, Serialize: ser, Deserialize: deser}, nil
}

// CompileProgram 编译映射得到完整程序。
func CompileProgram(m *ObjectSerializationMapping) (*SerializationProgram, error) {
	ser, err := CompileSerializationOps(m)
	if err != nil {
		return nil, err
	}
	deser, err := CompileDeserializationOps(m)
	if err != nil {
		return nil, err
	}
	return NewSerializationProgram(m.Type, ser, deser)
}
