package serde

import (
	"encoding/binary"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

type Color int16

const (
	ColorRed Color = iota - 1
	ColorNone
	ColorBlue
)

type PrimitiveSuite struct {
	suite.Suite

	reg *Registry
}

func (s *PrimitiveSuite) SetupTest() {
	s.reg = NewRegistry()
}

// roundTrip 检查编码字节、两种长度计算与解码结果。
func roundTrip[T any](s *PrimitiveSuite, v T, want []byte) {
	data, err := Marshal(s.reg, v)
	s.Require().NoError(err)
	if want != nil {
		s.Equal(want, data, "%T(%v)", v, v)
	}

	size, err := GetSizeFromValue(s.reg, v)
	s.Require().NoError(err)
	s.Equal(len(data), int(size))

	size, err = GetSizeFromBuffer[T](s.reg, data, 0)
	s.Require().NoError(err)
	s.Equal(len(data), int(size))

	out, err := Unmarshal[T](s.reg, data)
	s.Require().NoError(err)
	s.Equal(v, out)
}

func (s *PrimitiveSuite) TestIntegerBounds() {
	roundTrip(s, int8(math.MinInt8), []byte{0x80})
	roundTrip(s, int8(math.MaxInt8), []byte{0x7F})
	roundTrip(s, uint8(math.MaxUint8), []byte{0xFF})
	roundTrip(s, int16(math.MinInt16), []byte{0x00, 0x80})
	roundTrip(s, int16(math.MaxInt16), []byte{0xFF, 0x7F})
	roundTrip(s, uint16(math.MaxUint16), []byte{0xFF, 0xFF})
	roundTrip(s, int32(math.MinInt32), []byte{0, 0, 0, 0x80})
	roundTrip(s, int32(math.MaxInt32), []byte{0xFF, 0xFF, 0xFF, 0x7F})
	roundTrip(s, uint32(math.MaxUint32), []byte{0xFF, 0xFF, 0xFF, 0xFF})
	roundTrip(s, int64(math.MinInt64), []byte{0, 0, 0, 0, 0, 0, 0, 0x80})
	roundTrip(s, int64(math.MaxInt64), []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x7F})
	roundTrip(s, uint64(math.MaxUint64), []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	roundTrip(s, int(math.MinInt64), nil)
	roundTrip(s, uint(math.MaxUint64), nil)
	roundTrip(s, int32(-1), []byte{0xFF, 0xFF, 0xFF, 0xFF})
}

func (s *PrimitiveSuite) TestFloatAndBool() {
	roundTrip(s, true, []byte{1})
	roundTrip(s, false, []byte{0})
	roundTrip(s, float32(1.5), []byte{0, 0, 0xC0, 0x3F})
	roundTrip(s, float32(math.MaxFloat32), nil)
	roundTrip(s, float32(-math.SmallestNonzeroFloat32), nil)
	roundTrip(s, math.MaxFloat64, nil)
	roundTrip(s, -math.SmallestNonzeroFloat64, nil)
	roundTrip(s, math.Inf(-1), nil)

	data, err := Marshal(s.reg, math.NaN())
	s.Require().NoError(err)
	out, err := Unmarshal[float64](s.reg, data)
	s.Require().NoError(err)
	s.True(math.IsNaN(out))
}

func (s *PrimitiveSuite) TestCharDurationTime() {
	roundTrip(s, Char('A'), []byte{0x41, 0})
	roundTrip(s, Char(math.MaxUint16), []byte{0xFF, 0xFF})
	roundTrip(s, time.Duration(math.MinInt64), nil)
	roundTrip(s, time.Duration(math.MaxInt64), nil)
	roundTrip(s, 1500*time.Millisecond, nil)

	roundTrip(s, time.Time{}, []byte{0, 0, 0, 0, 0, 0, 0, 0x80})
	roundTrip(s, time.Date(2024, 2, 29, 23, 59, 59, 999999999, time.UTC), nil)
	roundTrip(s, time.Unix(0, 0).UTC(), []byte{0, 0, 0, 0, 0, 0, 0, 0})

	local := time.Date(2020, 1, 1, 8, 0, 0, 1, time.FixedZone("UTC+8", 8*3600))
	data, err := Marshal(s.reg, local)
	s.Require().NoError(err)
	out, err := Unmarshal[time.Time](s.reg, data)
	s.Require().NoError(err)
	s.True(local.Equal(out))
	s.Equal(time.UTC, out.Location())
}

func (s *PrimitiveSuite) TestEnum() {
	roundTrip(s, ColorRed, []byte{0xFF, 0xFF})
	roundTrip(s, ColorNone, []byte{0, 0})
	roundTrip(s, ColorBlue, []byte{1, 0})

	ser, err := s.reg.Lookup(reflect.TypeOf(ColorRed))
	s.Require().NoError(err)
	size, ok := constantSize(ser)
	s.True(ok)
	s.Equal(uint16(2), size)
}

func (s *PrimitiveSuite) TestLeafBounds() {
	samples := map[reflect.Type]reflect.Value{
		reflect.TypeFor[string]():   reflect.ValueOf("ab"),
		reflect.TypeFor[BitField](): reflect.ValueOf(NewBitField(16)),
	}
	for _, leaf := range builtinLeaves() {
		t := leaf.Type()
		s.Run(t.String(), func() {
			v, ok := samples[t]
			if !ok {
				v = reflect.New(t).Elem()
			}
			size, err := leaf.GetSizeFromValue(v)
			s.Require().NoError(err)
			buf := make([]byte, size)
			s.Require().NoError(leaf.Serialize(v, buf, 0))

			for _, offset := range []int{len(buf), -1, 1} {
				s.ErrorIs(leaf.Serialize(v, buf, offset), merr.ErrSerdeOutOfRange, "serialize at %d", offset)
			}
			for _, offset := range []int{len(buf), -1} {
				dst := reflect.New(t).Elem()
				s.ErrorIs(leaf.Deserialize(buf, offset, dst), merr.ErrSerdeOutOfRange, "deserialize at %d", offset)
				_, err := leaf.GetSizeFromBuffer(buf, offset)
				s.ErrorIs(err, merr.ErrSerdeOutOfRange, "size at %d", offset)
			}
			dst := reflect.New(t).Elem()
			s.ErrorIs(leaf.Deserialize(buf[:len(buf)-1], 0, dst), merr.ErrSerdeOutOfRange)
		})
	}
}

func (s *PrimitiveSuite) TestOutOfRange() {
	s.ErrorIs(s.reg.Serialize(int32(1), make([]byte, 3), 0), merr.ErrSerdeOutOfRange)
	s.ErrorIs(s.reg.Serialize(int32(1), make([]byte, 8), 5), merr.ErrSerdeOutOfRange)
	s.ErrorIs(s.reg.Serialize(int32(1), make([]byte, 8), -1), merr.ErrSerdeOutOfRange)
	s.NoError(s.reg.Serialize(int32(1), make([]byte, 8), 4))

	_, err := s.reg.Deserialize(reflect.TypeOf(int64(0)), make([]byte, 7), 0)
	s.ErrorIs(err, merr.ErrSerdeOutOfRange)
	_, err = s.reg.GetSizeFromBuffer(reflect.TypeOf(uint16(0)), []byte{1}, 0)
	s.ErrorIs(err, merr.ErrSerdeOutOfRange)
	_, err = Unmarshal[time.Time](s.reg, []byte{1, 2, 3})
	s.ErrorIs(err, merr.ErrSerdeOutOfRange)
}

func (s *PrimitiveSuite) TestOffset() {
	buf := make([]byte, 10)
	s.Require().NoError(Serialize(s.reg, uint32(0xAABBCCDD), buf, 3))
	s.Equal([]byte{0, 0, 0, 0xDD, 0xCC, 0xBB, 0xAA, 0, 0, 0}, buf)
	out, err := Deserialize[uint32](s.reg, buf, 3)
	s.Require().NoError(err)
	s.Equal(uint32(0xAABBCCDD), out)
}

func (s *PrimitiveSuite) TestString() {
	roundTrip(s, "", []byte{0, 0, 0, 0})
	roundTrip(s, "ab", []byte{4, 0, 0, 0, 'a', 0, 'b', 0})
	roundTrip(s, "弹", []byte{2, 0, 0, 0, 0x39, 0x5F})
	// 补充平面字符编码为代理对。
	roundTrip(s, "😀", []byte{4, 0, 0, 0, 0x3D, 0xD8, 0x00, 0xDE})
	roundTrip(s, strings.Repeat("x", (MaxSize-4)/2), nil)

	// 非法 UTF-8 以替换字符编码。
	data, err := Marshal(s.reg, "a\xffb")
	s.Require().NoError(err)
	out, err := Unmarshal[string](s.reg, data)
	s.Require().NoError(err)
	s.Equal("a�b", out)
}

func (s *PrimitiveSuite) TestStringErrors() {
	_, err := GetSizeFromValue(s.reg, strings.Repeat("x", (MaxSize-4)/2+1))
	s.ErrorIs(err, merr.ErrSerdeSizeOverflow)
	_, err = Marshal(s.reg, strings.Repeat("x", MaxSize))
	s.ErrorIs(err, merr.ErrSerdeSizeOverflow)

	_, err = Unmarshal[string](s.reg, []byte{3, 0, 0, 0, 'a', 0, 'b'})
	s.ErrorIs(err, merr.ErrSerdeInvalidData)
	_, err = Unmarshal[string](s.reg, []byte{4, 0, 0, 0, 'a', 0})
	s.ErrorIs(err, merr.ErrSerdeOutOfRange)
	_, err = GetSizeFromBuffer[string](s.reg, []byte{0xFF, 0xFF, 0, 0}, 0)
	s.ErrorIs(err, merr.ErrSerdeSizeOverflow)

	long := make([]byte, 4+MaxSize-3)
	binary.LittleEndian.PutUint32(long, MaxSize-3)
	_, err = Unmarshal[string](s.reg, long)
	s.ErrorIs(err, merr.ErrSerdeSizeOverflow)
	_, err = GetSizeFromBuffer[string](s.reg, long, 0)
	s.ErrorIs(err, merr.ErrSerdeSizeOverflow)

	// 孤立的代理码元解码为替换字符。
	out, err := Unmarshal[string](s.reg, []byte{2, 0, 0, 0, 0x3D, 0xD8})
	s.Require().NoError(err)
	s.Equal("�", out)
}

func (s *PrimitiveSuite) TestNamedString() {
	type Label string
	roundTrip(s, Label("hi"), []byte{4, 0, 0, 0, 'h', 0, 'i', 0})
}

func (s *PrimitiveSuite) TestTypeName() {
	t := reflect.TypeOf(int32(0))
	data, err := Marshal(s.reg, t)
	s.Require().NoError(err)
	s.Equal([]byte{10, 0, 0, 0, 'i', 0, 'n', 0, 't', 0, '3', 0, '2', 0}, data)

	out, err := Unmarshal[reflect.Type](s.reg, data)
	s.Require().NoError(err)
	s.Equal(t, out)

	// 非泛型入口同样识别 reflect.Type。
	size, err := s.reg.GetSizeFromValue(t)
	s.Require().NoError(err)
	s.Equal(uint16(len(data)), size)
	buf := make([]byte, size)
	s.Require().NoError(s.reg.Serialize(t, buf, 0))
	s.Equal(data, buf)

	_, err = Marshal(s.reg, reflect.TypeOf(struct{ A int }{}))
	s.ErrorIs(err, merr.ErrSerdeTypeNotRegistered)

	unknown, err := Marshal(s.reg, "no.Such")
	s.Require().NoError(err)
	_, err = Unmarshal[reflect.Type](s.reg, unknown)
	s.ErrorIs(err, merr.ErrSerdeTypeNotRegistered)

	var nilType reflect.Type
	_, err = Marshal(s.reg, nilType)
	s.ErrorIs(err, merr.ErrSerdeNilValue)
}

func (s *PrimitiveSuite) TestUnsupported() {
	_, err := s.reg.Lookup(reflect.TypeOf(make(chan int)))
	s.ErrorIs(err, merr.ErrSerdeConfiguration)
	_, err = s.reg.Lookup(reflect.TypeOf(complex64(0)))
	s.ErrorIs(err, merr.ErrSerdeConfiguration)
	s.ErrorIs(s.reg.Serialize(nil, make([]byte, 8), 0), merr.ErrSerdeNilValue)
	s.ErrorIs(s.reg.Serialize((*int32)(nil), make([]byte, 8), 0), merr.ErrSerdeNilValue)
}

func TestPrimitive(t *testing.T) {
	suite.Run(t, new(PrimitiveSuite))
}
