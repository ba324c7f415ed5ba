package serde

import (
	"context"
	"reflect"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lk2023060901/danmu-garden-serde/pkg/log"
	"github.com/lk2023060901/danmu-garden-serde/pkg/metrics"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

// typeOf 返回值的分发类型，reflect.Type 的各种实现统一归为 reflect.Type。
func typeOf(v any) reflect.Type {
	if _, ok := v.(reflect.Type); ok {
		return typeType
	}
	return reflect.TypeOf(v)
}

func (r *Registry) valueOf(v any) (Serializer, reflect.Value, error) {
	if v == nil {
		return nil, reflect.Value{}, merr.WrapErrSerdeNilValue(nil)
	}
	t := typeOf(v)
	rv := reflect.ValueOf(v)
	if t.Kind() == reflect.Ptr && rv.IsNil() {
		return nil, reflect.Value{}, merr.WrapErrSerdeNilValue(t)
	}
	if t == typeType {
		rv = reflect.New(typeType).Elem()
		rv.Set(reflect.ValueOf(v))
	}
	s, err := r.Lookup(t)
	if err != nil {
		return nil, reflect.Value{}, err
	}
	return s, rv, nil
}

func (r *Registry) record(op string, t reflect.Type, size int, err error) {
	if err != nil {
		r.Logger().RatedWarn(1, "serde operation failed", zap.String("op", op), log.FieldType(t), zap.Error(err))
	}
	if !r.metrics {
		return
	}
	result := metrics.SuccessLabel
	if err != nil {
		result = metrics.FailLabel
	}
	metrics.SerdeOperations.WithLabelValues(op, t.String(), result).Inc()
	if err == nil && size > 0 {
		metrics.SerdePayloadBytes.WithLabelValues(op).Observe(float64(size))
	}
}

// Serialize 按 v 的动态类型将其写入 buf 的 offset 处。
func (r *Registry) Serialize(v any, buf []byte, offset int) error {
	s, rv, err := r.valueOf(v)
	if err != nil {
		return err
	}
	err = s.Serialize(rv, buf, offset)
	r.record(metrics.SerializeLabel, s.Type(), 0, err)
	return err
}

// Deserialize 从 buf 的 offset 处读取一个 t 类型的值。
func (r *Registry) Deserialize(t reflect.Type, buf []byte, offset int) (any, error) {
	s, err := r.Lookup(t)
	if err != nil {
		return nil, err
	}
	dst := reflect.New(t).Elem()
	err = s.Deserialize(buf, offset, dst)
	r.record(metrics.DeserializeLabel, t, 0, err)
	if err != nil {
		return nil, err
	}
	return dst.Interface(), nil
}

// GetSizeFromValue 返回 v 序列化后的字节数。
func (r *Registry) GetSizeFromValue(v any) (uint16, error) {
	s, rv, err := r.valueOf(v)
	if err != nil {
		return 0, err
	}
	return s.GetSizeFromValue(rv)
}

// GetSizeFromBuffer 返回 buf 的 offset 处已编码的 t 类型值的字节数。
func (r *Registry) GetSizeFromBuffer(t reflect.Type, buf []byte, offset int) (uint16, error) {
	s, err := r.Lookup(t)
	if err != nil {
		return 0, err
	}
	return s.GetSizeFromBuffer(buf, offset)
}

// MapStructs 批量映射并注册，不要求调用方按依赖顺序排列。
//
// 每一轮并发尝试所有剩余类型，因成员类型尚未注册而失败的留到下一轮；
// 某一轮没有任何类型注册成功时返回该轮的错误。
func (r *Registry) MapStructs(builders ...*MappingBuilder) error {
	ctx, span := log.NewIntentContext(log.WithLogger(context.Background(), r.Logger()), "serde", "MapStructs")
	defer span.End()
	logger := log.Ctx(ctx)

	pending := builders
	for wave := 1; len(pending) > 0; wave++ {
		var (
			mu       sync.Mutex
			deferred []*MappingBuilder
			errs     []error
		)
		g := new(errgroup.Group)
		for _, b := range pending {
			g.Go(func() error {
				m, err := b.Map(r)
				if err == nil {
					err = r.MapStruct(m)
				}
				if err == nil {
					return nil
				}
				if !errors.Is(err, merr.ErrSerdeUnsupportedMember) {
					return err
				}
				mu.Lock()
				deferred = append(deferred, b)
				errs = append(errs, err)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			span.RecordError(err)
			return err
		}
		logger.Debug("registration wave finished",
			zap.Int("wave", wave),
			zap.Int("registered", len(pending)-len(deferred)),
			zap.Int("deferred", len(deferred)))
		if len(deferred) == len(pending) {
			err := merr.Combine(errs...)
			span.RecordError(err)
			logger.Warn("types left unmapped", zap.Int("count", len(deferred)), zap.Error(err))
			return err
		}
		pending = deferred
	}
	logger.Info("types mapped", zap.Int("count", len(builders)))
	return nil
}

// Serialize 将 v 写入 buf 的 offset 处。
func Serialize[T any](r *Registry, v T, buf []byte, offset int) error {
	s, err := r.Lookup(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return err
	}
	return s.Serialize(reflect.ValueOf(&v).Elem(), buf, offset)
}

// Deserialize 从 buf 的 offset 处读取一个 T。
func Deserialize[T any](r *Registry, buf []byte, offset int) (T, error) {
	var out T
	s, err := r.Lookup(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return out, err
	}
	if err := s.Deserialize(buf, offset, reflect.ValueOf(&out).Elem()); err != nil {
		return out, err
	}
	return out, nil
}

// GetSizeFromValue 返回 v 序列化后的字节数。
func GetSizeFromValue[T any](r *Registry, v T) (uint16, error) {
	s, err := r.Lookup(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return 0, err
	}
	return s.GetSizeFromValue(reflect.ValueOf(&v).Elem())
}

// GetSizeFromBuffer 返回 buf 的 offset 处已编码的 T 的字节数。
func GetSizeFromBuffer[T any](r *Registry, buf []byte, offset int) (uint16, error) {
	s, err := r.Lookup(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return 0, err
	}
	return s.GetSizeFromBuffer(buf, offset)
}

// Marshal 分配恰好大小的缓冲区并写入 v。
func Marshal[T any](r *Registry, v T) ([]byte, error) {
	s, err := r.Lookup(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return nil, err
	}
	rv := reflect.ValueOf(&v).Elem()
	size, err := s.GetSizeFromValue(rv)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if err := s.Serialize(rv, buf, 0); err != nil {
		return nil, err
	}
	r.record(metrics.SerializeLabel, s.Type(), int(size), nil)
	return buf, nil
}

// Unmarshal 从 data 的起始处读取一个 T。
func Unmarshal[T any](r *Registry, data []byte) (T, error) {
	out, err := Deserialize[T](r, data, 0)
	if err == nil {
		r.record(metrics.DeserializeLabel, reflect.TypeOf((*T)(nil)).Elem(), len(data), nil)
	}
	return out, err
}
