package serde

import (
	"encoding/binary"
	"reflect"
	"strings"

	"github.com/samber/lo"
	"github.com/spaolacci/murmur3"

	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/typeutil"
)

// ValueKind 区分成员来自字段还是属性方法。
type ValueKind int

const (
	ValueKindField ValueKind = iota
	ValueKindProperty
)

func (k ValueKind) String() string {
	switch k {
	case ValueKindField:
		return "field"
	case ValueKindProperty:
		return "property"
	default:
		return "unknown"
	}
}

// SerializationValue 描述一个参与序列化的成员，构建完成后不可变。
type SerializationValue struct {
	Name        string
	Type        reflect.Type
	Kind        ValueKind
	IsValueType bool
	Nullable    bool

	index  []int
	getter func(obj reflect.Value) reflect.Value
	setter func(obj reflect.Value, v reflect.Value)
}

func newSerializationValue(name string, t reflect.Type, kind ValueKind) *SerializationValue {
	return &SerializationValue{
		Name:        name,
		Type:        t,
		Kind:        kind,
		IsValueType: IsValueType(t),
		Nullable:    IsNullableType(t),
	}
}

// Get 读取 obj 上该成员的值。属性成员要求 obj 可寻址。
func (v *SerializationValue) Get(obj reflect.Value) reflect.Value {
	if v.Kind == ValueKindField {
		return obj.FieldByIndex(v.index)
	}
	return v.getter(obj)
}

// Set 将 val 写入 obj 上的该成员。
func (v *SerializationValue) Set(obj reflect.Value, val reflect.Value) {
	if v.Kind == ValueKindField {
		obj.FieldByIndex(v.index).Set(val)
		return
	}
	v.setter(obj, val)
}

// CanSet 报告该成员能否在构造后直接写入。只读属性只能经由构造函数激活。
func (v *SerializationValue) CanSet() bool {
	return v.Kind == ValueKindField || v.setter != nil
}

// ValueSpec 是显式成员列表中的一项，见 Field 与 Property。
type ValueSpec struct {
	name  string
	build func(t reflect.Type) (*SerializationValue, error)
}

// Field 按名字选取一个导出字段。
func Field(name string) ValueSpec {
	return ValueSpec{
		name: name,
		build: func(t reflect.Type) (*SerializationValue, error) {
			f, ok := t.FieldByName(name)
			if !ok {
				return nil, merr.WrapErrSerdeConfiguration(t, "no field named "+name)
			}
			if !f.IsExported() {
				return nil, merr.WrapErrSerdeUnsupportedMember(t, name, f.Type, "field is not exported")
			}
			sv := newSerializationValue(name, f.Type, ValueKindField)
			sv.index = f.Index
			return sv, nil
		},
	}
}

// Property 以一对访问函数声明一个属性成员。set 为 nil 时成员只读，必须由构造函数激活。
func Property[T any, V any](name string, get func(*T) V, set func(*T, V)) ValueSpec {
	owner := reflect.TypeOf((*T)(nil)).Elem()
	vt := reflect.TypeOf((*V)(nil)).Elem()
	return ValueSpec{
		name: name,
		build: func(t reflect.Type) (*SerializationValue, error) {
			if t != owner {
				return nil, merr.WrapErrSerdeConfiguration(t, "property "+name+" is declared on "+owner.String())
			}
			if get == nil {
				return nil, merr.WrapErrSerdeConfiguration(t, "property "+name+" has no getter")
			}
			sv := newSerializationValue(name, vt, ValueKindProperty)
			sv.getter = func(obj reflect.Value) reflect.Value {
				out := get(obj.Addr().Interface().(*T))
				return reflect.ValueOf(&out).Elem()
			}
			if set != nil {
				sv.setter = func(obj reflect.Value, val reflect.Value) {
					var in V
					if val.IsValid() {
						reflect.ValueOf(&in).Elem().Set(val)
					}
					set(obj.Addr().Interface().(*T), in)
				}
			}
			return sv, nil
		},
	}
}

// ActivationHint 将构造函数参数名对应到一个成员名。
type ActivationHint struct {
	Parameter string
	Member    string
}

// Hint 构造一个 ActivationHint。
func Hint(parameter, member string) ActivationHint {
	return ActivationHint{Parameter: parameter, Member: member}
}

// ConstructorSpec 为构造函数补充参数名。Go 在运行时不保留参数名。
type ConstructorSpec struct {
	Fn    any
	Names []string
}

// Constructor 声明构造函数及其参数名（按参数顺序）。
func Constructor(fn any, names ...string) ConstructorSpec {
	return ConstructorSpec{Fn: fn, Names: names}
}

// Activation 描述通过构造函数创建对象的方式。
type Activation struct {
	Constructor reflect.Value
	Parameters  []string
	Hints       []ActivationHint

	returnsPtr bool
	returnsErr bool
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func newActivation(t reflect.Type, ctor any, hints []ActivationHint) (*Activation, error) {
	var names []string
	if spec, ok := ctor.(ConstructorSpec); ok {
		ctor, names = spec.Fn, spec.Names
	} else {
		names = lo.Map(hints, func(h ActivationHint, _ int) string { return h.Parameter })
	}
	fn := reflect.ValueOf(ctor)
	if !fn.IsValid() || fn.Kind() != reflect.Func || fn.IsNil() {
		return nil, merr.WrapErrSerdeActivation(t, "constructor must be a non-nil func")
	}
	ft := fn.Type()
	a := &Activation{Constructor: fn, Parameters: names, Hints: hints}
	switch ft.NumOut() {
	case 2:
		if ft.Out(1) != errorType {
			return nil, merr.WrapErrSerdeActivation(t, "second constructor result must be error")
		}
		a.returnsErr = true
		fallthrough
	case 1:
		switch ft.Out(0) {
		case t:
		case reflect.PointerTo(t):
			a.returnsPtr = true
		default:
			return nil, merr.WrapErrSerdeActivation(t, "constructor returns "+ft.Out(0).String())
		}
	default:
		return nil, merr.WrapErrSerdeActivation(t, "constructor must return the mapped type")
	}
	return a, nil
}

// Invoke 调用构造函数，返回可寻址的对象值。
func (a *Activation) Invoke(t reflect.Type, args []reflect.Value) (reflect.Value, error) {
	out := a.Constructor.Call(args)
	if a.returnsErr && !out[1].IsNil() {
		return reflect.Value{}, out[1].Interface().(error)
	}
	if a.returnsPtr {
		if out[0].IsNil() {
			return reflect.Value{}, merr.WrapErrSerdeActivation(t, "constructor returned nil")
		}
		return out[0].Elem(), nil
	}
	obj := reflect.New(t).Elem()
	obj.Set(out[0])
	return obj, nil
}

// ObjectSerializationMapping 是一个类型的映射结果。
type ObjectSerializationMapping struct {
	Type        reflect.Type
	Name        string
	Values      []*SerializationValue
	Activation  *Activation
	Fingerprint uint64

	resolver *Registry
}

// NullableCount 返回可空成员的数量。
func (m *ObjectSerializationMapping) NullableCount() int {
	return lo.CountBy(m.Values, func(v *SerializationValue) bool { return v.Nullable })
}

func (m *ObjectSerializationMapping) valueIndex(name string) int {
	_, idx, ok := lo.FindIndexOf(m.Values, func(v *SerializationValue) bool { return v.Name == name })
	if !ok {
		return -1
	}
	return idx
}

type memberStrategy int

const (
	strategyFields memberStrategy = iota
	strategyProperties
	strategyExplicit
)

// MappingBuilder 以链式调用描述一个类型的映射。
type MappingBuilder struct {
	typ      reflect.Type
	name     string
	strategy memberStrategy
	specs    []ValueSpec
	ctor     any
	hints    []ActivationHint
}

// FromType 开始描述 T 的映射。未选择成员策略时默认使用 PublicFields。
func FromType[T any]() *MappingBuilder {
	return FromReflectType(reflect.TypeOf((*T)(nil)).Elem())
}

// FromReflectType 同 FromType。
func FromReflectType(t reflect.Type) *MappingBuilder {
	return &MappingBuilder{typ: t}
}

// PublicFields 选取全部导出字段，按声明顺序。
//
// 标签 serde:"-" 跳过字段，serde:"name" 重命名；内嵌的导出结构体字段就地展开。
func (b *MappingBuilder) PublicFields() *MappingBuilder {
	b.strategy = strategyFields
	return b
}

// PublicProperties 选取 *T 方法集中成对的 X() V / SetX(V)，按方法名排序。
// 只有 getter 的方法仅在被构造函数激活引用时参与。
func (b *MappingBuilder) PublicProperties() *MappingBuilder {
	b.strategy = strategyProperties
	return b
}

// Values 显式给出有序成员列表。
func (b *MappingBuilder) Values(specs ...ValueSpec) *MappingBuilder {
	b.strategy = strategyExplicit
	b.specs = specs
	return b
}

// Named 设置线上类型名，默认为 reflect.Type.String()。
func (b *MappingBuilder) Named(name string) *MappingBuilder {
	b.name = name
	return b
}

// ParametrizedActivation 声明通过构造函数创建对象。ctor 可以是函数或 Constructor 的结果。
func (b *MappingBuilder) ParametrizedActivation(ctor any, hints ...ActivationHint) *MappingBuilder {
	b.ctor = ctor
	b.hints = hints
	return b
}

// Map 校验并生成映射。只读取 reg，不修改它。
func (b *MappingBuilder) Map(reg *Registry) (*ObjectSerializationMapping, error) {
	t := b.typ
	if t == nil || t.Kind() != reflect.Struct {
		return nil, merr.WrapErrSerdeConfiguration(t, "mapped type must be a struct")
	}
	if reg == nil {
		return nil, merr.WrapErrSerdeConfiguration(t, "registry is required")
	}

	hinted := typeutil.NewSet(lo.Map(b.hints, func(h ActivationHint, _ int) string { return h.Member })...)

	var (
		values []*SerializationValue
		err    error
	)
	switch b.strategy {
	case strategyFields:
		values, err = publicFields(t, nil)
	case strategyProperties:
		values, err = publicProperties(t, hinted)
	case strategyExplicit:
		values = make([]*SerializationValue, 0, len(b.specs))
		for _, spec := range b.specs {
			sv, serr := spec.build(t)
			if serr != nil {
				return nil, serr
			}
			values = append(values, sv)
		}
	}
	if err != nil {
		return nil, err
	}

	names := typeutil.NewSet[string]()
	for _, v := range values {
		if names.Contain(v.Name) {
			return nil, merr.WrapErrSerdeConfiguration(t, "duplicate member name "+v.Name)
		}
		names.Insert(v.Name)
		if _, rerr := reg.resolve(v.Type, t); rerr != nil {
			return nil, merr.WrapErrSerdeUnsupportedMember(t, v.Name, v.Type, rerr.Error())
		}
	}

	m := &ObjectSerializationMapping{
		Type:     t,
		Name:     lo.Ternary(b.name != "", b.name, t.String()),
		Values:   values,
		resolver: reg,
	}

	if b.ctor != nil {
		if m.Activation, err = newActivation(t, b.ctor, b.hints); err != nil {
			return nil, err
		}
		used := typeutil.NewSet[string]()
		for _, h := range b.hints {
			if m.valueIndex(h.Member) < 0 {
				return nil, merr.WrapErrSerdeActivation(t, "hint "+h.Parameter+" references unknown member "+h.Member)
			}
			if used.Contain(h.Member) {
				return nil, merr.WrapErrSerdeActivation(t, "member "+h.Member+" is referenced by more than one hint")
			}
			used.Insert(h.Member)
		}
	} else if len(b.hints) > 0 {
		return nil, merr.WrapErrSerdeActivation(t, "activation hints without constructor")
	}

	readOnly := typeutil.NewSet[string]()
	for _, v := range values {
		if !v.CanSet() && !hinted.Contain(v.Name) {
			readOnly.Insert(v.Name)
		}
	}
	if readOnly.Len() > 0 {
		return nil, merr.WrapErrSerdeConfiguration(t,
			"members "+strings.Join(typeutil.Sorted(readOnly), ",")+" are read-only and not activated")
	}

	m.Fingerprint = fingerprint(m)
	return m, nil
}

func publicFields(t reflect.Type, prefix []int) ([]*SerializationValue, error) {
	var values []*SerializationValue
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("serde")
		if tag == "-" {
			continue
		}
		index := append(append([]int{}, prefix...), i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct && tag == "" && !isNullableWrapper(f.Type) && f.Type != timeType {
			inner, err := publicFields(f.Type, index)
			if err != nil {
				return nil, err
			}
			values = append(values, inner...)
			continue
		}
		name := f.Name
		if tag != "" {
			name = tag
		}
		sv := newSerializationValue(name, f.Type, ValueKindField)
		sv.index = index
		values = append(values, sv)
	}
	return values, nil
}

func publicProperties(t reflect.Type, hinted typeutil.Set[string]) ([]*SerializationValue, error) {
	pt := reflect.PointerTo(t)
	var values []*SerializationValue
	for i := 0; i < pt.NumMethod(); i++ {
		m := pt.Method(i)
		if strings.HasPrefix(m.Name, "Set") || m.Type.NumIn() != 1 || m.Type.NumOut() != 1 {
			continue
		}
		vt := m.Type.Out(0)
		getIdx := m.Index
		setIdx := -1
		if s, ok := pt.MethodByName("Set" + m.Name); ok &&
			s.Type.NumIn() == 2 && s.Type.NumOut() == 0 && s.Type.In(1) == vt {
			setIdx = s.Index
		}
		if setIdx < 0 && !hinted.Contain(m.Name) {
			continue
		}
		sv := newSerializationValue(m.Name, vt, ValueKindProperty)
		sv.getter = func(obj reflect.Value) reflect.Value {
			return obj.Addr().Method(getIdx).Call(nil)[0]
		}
		if setIdx >= 0 {
			sv.setter = func(obj reflect.Value, val reflect.Value) {
				obj.Addr().Method(setIdx).Call([]reflect.Value{val})
			}
		}
		values = append(values, sv)
	}
	return values, nil
}

// fingerprint 对成员布局做 murmur3 摘要，布局相同的两端指纹一致。
func fingerprint(m *ObjectSerializationMapping) uint64 {
	h := murmur3.New64()
	write := func(s string) {
		var l [4]byte
		binary.LittleEndian.PutUint32(l[:], uint32(len(s)))
		_, _ = h.Write(l[:])
		_, _ = h.Write([]byte(s))
	}
	write(m.Name)
	for _, v := range m.Values {
		write(v.Name)
		write(v.Type.String())
		_, _ = h.Write([]byte{lo.Ternary[byte](v.Nullable, 1, 0)})
	}
	if m.Activation != nil {
		for _, p := range m.Activation.Parameters {
			write(p)
		}
	}
	return h.Sum64()
}
