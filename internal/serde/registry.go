package serde

import (
	"reflect"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-serde/pkg/log"
	"github.com/lk2023060901/danmu-garden-serde/pkg/metrics"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/typeutil"
)

// typeSerializer 是 Registry 中每个类型的记录，创建后不可变。
type typeSerializer struct {
	typ       reflect.Type
	name      string
	delegates TypeDelegates
	mapping   *ObjectSerializationMapping
	ser       Serializer
}

// delegateSerializer 将 TypeDelegates 适配为 Serializer。
type delegateSerializer struct {
	ts *typeSerializer
}

func (s delegateSerializer) Type() reflect.Type { return s.ts.typ }

func (s delegateSerializer) ConstantSize() (uint16, bool) {
	if s.ts.delegates.ConstantSize == nil {
		return 0, false
	}
	return s.ts.delegates.ConstantSize()
}

func (s delegateSerializer) Serialize(v reflect.Value, buf []byte, offset int) error {
	return s.ts.delegates.Serialize(v, buf, offset)
}

func (s delegateSerializer) Deserialize(buf []byte, offset int, dst reflect.Value) error {
	v, err := s.ts.delegates.Deserialize(buf, offset)
	if err != nil {
		return err
	}
	dst.Set(v)
	return nil
}

func (s delegateSerializer) GetSizeFromValue(v reflect.Value) (uint16, error) {
	return s.ts.delegates.GetSizeFromValue(v)
}

func (s delegateSerializer) GetSizeFromBuffer(buf []byte, offset int) (uint16, error) {
	return s.ts.delegates.GetSizeFromBuffer(buf, offset)
}

// structRef 是对结构体序列化器的延迟引用，调用时才到 Registry 中查找，用于自引用类型。
type structRef struct {
	typ reflect.Type
	reg *Registry
}

func (s structRef) target() (Serializer, error) {
	if v, ok := s.reg.types.Load(s.typ); ok {
		return v.(*typeSerializer).ser, nil
	}
	return nil, merr.WrapErrSerdeTypeNotRegistered(s.typ)
}

func (s structRef) Type() reflect.Type { return s.typ }

func (s structRef) ConstantSize() (uint16, bool) {
	t, err := s.target()
	if err != nil {
		return 0, false
	}
	return constantSize(t)
}

func (s structRef) Serialize(v reflect.Value, buf []byte, offset int) error {
	t, err := s.target()
	if err != nil {
		return err
	}
	return t.Serialize(v, buf, offset)
}

func (s structRef) Deserialize(buf []byte, offset int, dst reflect.Value) error {
	t, err := s.target()
	if err != nil {
		return err
	}
	return t.Deserialize(buf, offset, dst)
}

func (s structRef) GetSizeFromValue(v reflect.Value) (uint16, error) {
	t, err := s.target()
	if err != nil {
		return 0, err
	}
	return t.GetSizeFromValue(v)
}

func (s structRef) GetSizeFromBuffer(buf []byte, offset int) (uint16, error) {
	t, err := s.target()
	if err != nil {
		return 0, err
	}
	return t.GetSizeFromBuffer(buf, offset)
}

// Registry 持有所有已注册类型的序列化器，按 reflect.Type 分发。
//
// 注册通常在启动阶段完成；注册完成后的读写调用可以并发进行。
type Registry struct {
	log.Binder

	types      sync.Map // reflect.Type -> *typeSerializer
	names      sync.Map // string -> reflect.Type
	composites sync.Map // reflect.Type -> Serializer
	pending    *typeutil.ConcurrentSet[reflect.Type]

	metrics bool
}

// Option 配置 Registry。
type Option func(*Registry)

// WithLogger 为 Registry 绑定 Logger。
func WithLogger(logger *log.MLogger) Option {
	return func(r *Registry) {
		r.SetLogger(logger)
	}
}

// WithMetrics 开启 Prometheus 指标记录。
func WithMetrics(enabled bool) Option {
	return func(r *Registry) {
		r.metrics = enabled
	}
}

// NewRegistry 创建一个带有内置叶子序列化器的 Registry。
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		pending: typeutil.NewConcurrentSet[reflect.Type](),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, s := range builtinLeaves() {
		r.mustStoreLeaf(s)
	}
	r.mustStoreLeaf(typeNameSerializer{reg: r})
	return r
}

func (r *Registry) mustStoreLeaf(s Serializer) {
	if err := r.store(leafRecord(s)); err != nil {
		panic(err)
	}
}

func leafRecord(s Serializer) *typeSerializer {
	return &typeSerializer{typ: s.Type(), name: s.Type().String(), ser: s}
}

func (r *Registry) acquire(t reflect.Type) (func(), error) {
	if !r.pending.Insert(t) {
		return nil, merr.WrapErrSerdeDuplicateType(t, "registration in progress")
	}
	if _, ok := r.types.Load(t); ok {
		r.pending.Remove(t)
		return nil, merr.WrapErrSerdeDuplicateType(t)
	}
	return func() { r.pending.Remove(t) }, nil
}

func (r *Registry) store(ts *typeSerializer) error {
	if _, loaded := r.types.LoadOrStore(ts.typ, ts); loaded {
		return merr.WrapErrSerdeDuplicateType(ts.typ)
	}
	if prev, loaded := r.names.LoadOrStore(ts.name, ts.typ); loaded && prev.(reflect.Type) != ts.typ {
		r.types.Delete(ts.typ)
		return merr.WrapErrSerdeDuplicateType(ts.typ, "name "+ts.name+" is used by "+prev.(reflect.Type).String())
	}
	if r.metrics {
		metrics.SerdeRegisteredTypes.Inc()
	}
	return nil
}

// MapStruct 编译映射、构建委托并注册。同一类型只能注册一次。
func (r *Registry) MapStruct(m *ObjectSerializationMapping) error {
	if m == nil {
		return merr.WrapErrSerdeConfiguration(nil, "nil mapping")
	}
	t := m.Type
	if m.resolver != r {
		return merr.WrapErrSerdeConfiguration(t, "mapping was built against another registry")
	}
	release, err := r.acquire(t)
	if err != nil {
		return err
	}
	defer release()

	program, err := CompileProgram(m)
	if err != nil {
		return err
	}
	serRanges, err := InterpretObjectSerializationValueRanges(t, program.Serialize)
	if err != nil {
		return err
	}
	deRanges, err := InterpretObjectSerializationValueRanges(t, program.Deserialize)
	if err != nil {
		return err
	}
	if serRanges != deRanges {
		return merr.WrapErrSerdeConfiguration(t, "value ranges differ between programs")
	}

	d, err := BuildDelegates(t, program, serRanges)
	if err != nil {
		r.Logger().Error("build serializer failed", log.FieldType(t), zap.Error(err))
		return err
	}

	ts := &typeSerializer{typ: t, name: m.Name, delegates: d, mapping: m}
	ts.ser = delegateSerializer{ts: ts}
	if err := r.store(ts); err != nil {
		return err
	}

	size, constant := d.ConstantSize()
	r.Logger().Info("serializer registered",
		log.FieldType(t),
		zap.String("name", m.Name),
		zap.Int("values", serRanges.TotalValues),
		zap.Int("nullable", serRanges.NullableValues),
		zap.Bool("constant", constant),
		zap.Uint16("size", size),
		zap.Uint64("fingerprint", m.Fingerprint),
	)
	return nil
}

// MustMapStruct 同 MapStruct，出错时 panic，用于启动阶段。
func (r *Registry) MustMapStruct(m *ObjectSerializationMapping, err error) {
	if err == nil {
		err = r.MapStruct(m)
	}
	if err != nil {
		panic(err)
	}
}

// RegisterStructureTypeSerializer 以手写的三个函数注册结构体类型。
func (r *Registry) RegisterStructureTypeSerializer(t reflect.Type, ser SerializeFunc, de DeserializeFunc, size GetSizeFunc) error {
	if t == nil || t.Kind() != reflect.Struct {
		return merr.WrapErrSerdeConfiguration(t, "structure serializer requires a struct type")
	}
	return r.RegisterTypeSerializer(t, TypeDelegates{Serialize: ser, Deserialize: de, GetSizeFromValue: size})
}

// RegisterTypeSerializer 注册任意类型的委托。未提供 GetSizeFromBuffer 时通过反序列化后计算长度得到。
func (r *Registry) RegisterTypeSerializer(t reflect.Type, d TypeDelegates) error {
	if t == nil {
		return merr.WrapErrSerdeConfiguration(nil, "nil type")
	}
	if d.Serialize == nil || d.Deserialize == nil || d.GetSizeFromValue == nil {
		return merr.WrapErrSerdeConfiguration(t, "serialize, deserialize and size delegates are required")
	}
	if d.GetSizeFromBuffer == nil {
		de, size := d.Deserialize, d.GetSizeFromValue
		d.GetSizeFromBuffer = func(buf []byte, offset int) (uint16, error) {
			v, err := de(buf, offset)
			if err != nil {
				return 0, err
			}
			return size(v)
		}
	}
	release, err := r.acquire(t)
	if err != nil {
		return err
	}
	defer release()

	ts := &typeSerializer{typ: t, name: t.String(), delegates: d}
	ts.ser = delegateSerializer{ts: ts}
	if err := r.store(ts); err != nil {
		return err
	}
	r.Logger().Info("type serializer registered", log.FieldType(t))
	return nil
}

// RegisterSerializer 注册一个自定义叶子序列化器。
func (r *Registry) RegisterSerializer(s Serializer) error {
	if s == nil || s.Type() == nil {
		return merr.WrapErrSerdeConfiguration(nil, "nil serializer")
	}
	release, err := r.acquire(s.Type())
	if err != nil {
		return err
	}
	defer release()
	if err := r.store(leafRecord(s)); err != nil {
		return err
	}
	r.Logger().Info("leaf serializer registered", log.FieldType(s.Type()))
	return nil
}

// Lookup 返回 t 的序列化器。
func (r *Registry) Lookup(t reflect.Type) (Serializer, error) {
	return r.resolve(t, nil)
}

// resolve 查找或组合 t 的序列化器。self 为正在映射的类型，对它的引用以 structRef 延迟解析。
func (r *Registry) resolve(t, self reflect.Type) (Serializer, error) {
	s, _, err := r.resolveRef(t, self)
	return s, err
}

// resolveRef 与 resolve 相同，另外报告结果是否经过了 structRef。
// 经过 structRef 的组合依赖尚未注册的类型，不写入 composites 缓存。
func (r *Registry) resolveRef(t, self reflect.Type) (Serializer, bool, error) {
	if t == nil {
		return nil, false, merr.WrapErrSerdeConfiguration(nil, "nil type")
	}
	if v, ok := r.types.Load(t); ok {
		return v.(*typeSerializer).ser, false, nil
	}
	if self != nil && t == self {
		return structRef{typ: t, reg: r}, true, nil
	}
	if v, ok := r.composites.Load(t); ok {
		return v.(Serializer), false, nil
	}
	s, lazy, err := r.compose(t, self)
	if err != nil {
		return nil, false, err
	}
	if lazy {
		return s, true, nil
	}
	actual, _ := r.composites.LoadOrStore(t, s)
	return actual.(Serializer), false, nil
}

func (r *Registry) compose(t, self reflect.Type) (Serializer, bool, error) {
	switch {
	case isNullableWrapper(t):
		elem, lazy, err := r.resolveRef(t.Field(nullableValueField).Type, self)
		if err != nil {
			return nil, false, err
		}
		return newNullableSerializer(t, elem), lazy, nil
	case isKeyValuePair(t):
		k, kl, err := r.resolveRef(t.Field(0).Type, self)
		if err != nil {
			return nil, false, err
		}
		v, vl, err := r.resolveRef(t.Field(1).Type, self)
		if err != nil {
			return nil, false, err
		}
		return newKeyValuePairSerializer(t, k, v), kl || vl, nil
	}

	switch t.Kind() {
	case reflect.Ptr:
		elem, lazy, err := r.resolveRef(t.Elem(), self)
		if err != nil {
			return nil, false, err
		}
		return newPointerSerializer(t, elem), lazy, nil
	case reflect.Slice, reflect.Array:
		elem, lazy, err := r.resolveRef(t.Elem(), self)
		if err != nil {
			return nil, false, err
		}
		return newSequenceSerializer(t, elem), lazy, nil
	case reflect.Map:
		k, kl, err := r.resolveRef(t.Key(), self)
		if err != nil {
			return nil, false, err
		}
		v, vl, err := r.resolveRef(t.Elem(), self)
		if err != nil {
			return nil, false, err
		}
		return newDictionarySerializer(t, k, v), kl || vl, nil
	case reflect.Struct:
		return nil, false, merr.WrapErrSerdeTypeNotRegistered(t)
	}
	if s, ok := newKindSerializer(t); ok {
		return s, false, nil
	}
	return nil, false, merr.WrapErrSerdeConfiguration(t, "unsupported type")
}

// NameOf 返回已注册类型的线上名字。
func (r *Registry) NameOf(t reflect.Type) (string, error) {
	if v, ok := r.types.Load(t); ok {
		return v.(*typeSerializer).name, nil
	}
	return "", merr.WrapErrSerdeTypeNotRegistered(t)
}

// TypeByName 按线上名字查找类型。
func (r *Registry) TypeByName(name string) (reflect.Type, bool) {
	v, ok := r.names.Load(name)
	if !ok {
		return nil, false
	}
	return v.(reflect.Type), true
}

// Fingerprint 返回映射类型的布局指纹，未通过 MapStruct 注册的类型返回 false。
func (r *Registry) Fingerprint(t reflect.Type) (uint64, bool) {
	v, ok := r.types.Load(t)
	if !ok || v.(*typeSerializer).mapping == nil {
		return 0, false
	}
	return v.(*typeSerializer).mapping.Fingerprint, true
}

// Mapping 返回类型注册时使用的映射。
func (r *Registry) Mapping(t reflect.Type) (*ObjectSerializationMapping, bool) {
	v, ok := r.types.Load(t)
	if !ok || v.(*typeSerializer).mapping == nil {
		return nil, false
	}
	return v.(*typeSerializer).mapping, true
}

// Types 按名字排序返回所有已注册类型。
func (r *Registry) Types() []reflect.Type {
	var records []*typeSerializer
	r.types.Range(func(_, v any) bool {
		records = append(records, v.(*typeSerializer))
		return true
	})
	slices.SortFunc(records, func(a, b *typeSerializer) int { return strings.Compare(a.name, b.name) })
	types := make([]reflect.Type, 0, len(records))
	for _, ts := range records {
		types = append(types, ts.typ)
	}
	return types
}
