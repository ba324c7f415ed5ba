package serde

import (
	"encoding/binary"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"

	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

type Celsius float32

// countingSerializer 记录 GetSizeFromValue 的调用次数。
type countingSerializer struct {
	sizeCalls *atomic.Int32
}

func (countingSerializer) Type() reflect.Type { return reflect.TypeFor[Celsius]() }

func (countingSerializer) ConstantSize() (uint16, bool) { return 4, true }

func (countingSerializer) Serialize(v reflect.Value, buf []byte, offset int) error {
	if err := checkBounds(buf, offset, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(buf[offset:], math.Float32bits(float32(v.Float())))
	return nil
}

func (countingSerializer) Deserialize(buf []byte, offset int, dst reflect.Value) error {
	if err := checkBounds(buf, offset, 4); err != nil {
		return err
	}
	dst.SetFloat(float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[offset:]))))
	return nil
}

func (c countingSerializer) GetSizeFromValue(reflect.Value) (uint16, error) {
	c.sizeCalls.Inc()
	return 4, nil
}

func (countingSerializer) GetSizeFromBuffer(buf []byte, offset int) (uint16, error) {
	return 4, checkBounds(buf, offset, 4)
}

type Reading struct {
	Temp Celsius
	At   int64
}

type Transcript struct {
	Head string
	Body string
}

type Fuse uint8

type panickingSerializer struct{}

func (panickingSerializer) Type() reflect.Type { return reflect.TypeFor[Fuse]() }

func (panickingSerializer) Serialize(reflect.Value, []byte, int) error { panic("boom") }

func (panickingSerializer) Deserialize([]byte, int, reflect.Value) error { panic("boom") }

func (panickingSerializer) GetSizeFromValue(reflect.Value) (uint16, error) { panic("boom") }

func (panickingSerializer) GetSizeFromBuffer([]byte, int) (uint16, error) { panic("boom") }

type Bomb struct {
	Wire Fuse
	Tail int8
}

type DelegateSuite struct {
	suite.Suite

	reg *Registry
}

func (s *DelegateSuite) SetupTest() {
	s.reg = NewRegistry()
	s.reg.MustMapStruct(vec2Mapping().Map(s.reg))
	s.reg.MustMapStruct(FromType[Player]().Map(s.reg))
}

func (s *DelegateSuite) TestConstantStruct() {
	v := NewVec2(1, 2)
	data, err := Marshal(s.reg, v)
	s.Require().NoError(err)
	s.Equal([]byte{0, 0, 0x80, 0x3F, 0, 0, 0, 0x40}, data)

	ser, err := s.reg.Lookup(reflect.TypeFor[Vec2]())
	s.Require().NoError(err)
	size, ok := constantSize(ser)
	s.True(ok)
	s.Equal(uint16(8), size)

	out, err := Unmarshal[Vec2](s.reg, data)
	s.Require().NoError(err)
	s.Equal(v, out)

	_, err = GetSizeFromBuffer[Vec2](s.reg, data[:7], 0)
	s.ErrorIs(err, merr.ErrSerdeOutOfRange)
	s.ErrorIs(err, merr.ErrSerdeSize)
}

func (s *DelegateSuite) TestNullMaskAtOffset() {
	in := Player{
		ID:       1,
		Name:     "a",
		Position: NewVec2(1, 2),
		Score:    Some[int32](5),
	}
	want := []byte{
		1, 0, 0, 0, 0xA0,
		1, 0, 0, 0, 0, 0, 0, 0,
		2, 0, 0, 0, 'a', 0,
		0, 0, 0x80, 0x3F, 0, 0, 0, 0x40,
		5, 0, 0, 0,
	}

	buf := make([]byte, 128)
	const offset = 17
	s.Require().NoError(Serialize(s.reg, in, buf, offset))
	s.Equal(want, buf[offset:offset+len(want)])
	s.Equal(make([]byte, offset), buf[:offset])

	size, err := GetSizeFromValue(s.reg, in)
	s.Require().NoError(err)
	s.Equal(uint16(len(want)), size)
	size, err = GetSizeFromBuffer[Player](s.reg, buf, offset)
	s.Require().NoError(err)
	s.Equal(uint16(len(want)), size)

	out, err := Deserialize[Player](s.reg, buf, offset)
	s.Require().NoError(err)
	s.Equal(in, out)
}

func (s *DelegateSuite) TestAllPresent() {
	in := Player{
		ID:       -7,
		Name:     "弹幕",
		Nick:     lo.ToPtr("n"),
		Position: NewVec2(-1, 0.5),
		Score:    Some[int32](0),
		Tags:     []string{"vip", ""},
		secret:   3,
		Ignored:  4,
	}
	data, err := Marshal(s.reg, in)
	s.Require().NoError(err)
	s.Equal([]byte{1, 0, 0, 0, 0x00}, data[:5])

	out, err := Unmarshal[Player](s.reg, data)
	s.Require().NoError(err)
	in.secret, in.Ignored = 0, 0
	s.Equal(in, out)

	// 空切片与 nil 切片不同：前者写出长度 0，后者只占一个掩码位。
	in.Tags = []string{}
	data, err = Marshal(s.reg, in)
	s.Require().NoError(err)
	s.Equal(byte(0x00), data[4])
	out, err = Unmarshal[Player](s.reg, data)
	s.Require().NoError(err)
	s.NotNil(out.Tags)
	s.Empty(out.Tags)
}

func (s *DelegateSuite) TestNonGenericAPI() {
	in := Player{ID: 2, Name: "b", Position: NewVec2(0, 0), Score: Null[int32]()}
	size, err := s.reg.GetSizeFromValue(in)
	s.Require().NoError(err)
	buf := make([]byte, size)
	s.Require().NoError(s.reg.Serialize(in, buf, 0))

	ptrSize, err := s.reg.GetSizeFromValue(&in)
	s.Require().NoError(err)
	s.Equal(size, ptrSize)

	bufSize, err := s.reg.GetSizeFromBuffer(reflect.TypeFor[Player](), buf, 0)
	s.Require().NoError(err)
	s.Equal(size, bufSize)

	out, err := s.reg.Deserialize(reflect.TypeFor[Player](), buf, 0)
	s.Require().NoError(err)
	s.Equal(in, out)

	s.ErrorIs(s.reg.Serialize(nil, buf, 0), merr.ErrSerdeNilValue)
	s.ErrorIs(s.reg.Serialize((*Player)(nil), buf, 0), merr.ErrSerdeNilValue)
	_, err = s.reg.GetSizeFromValue(nil)
	s.ErrorIs(err, merr.ErrSerdeNilValue)
	_, err = s.reg.Deserialize(reflect.TypeFor[Reading](), buf, 0)
	s.ErrorIs(err, merr.ErrSerdeTypeNotRegistered)

	ser, err := s.reg.Lookup(reflect.TypeFor[Player]())
	s.Require().NoError(err)
	err = ser.Serialize(reflect.ValueOf(42), buf, 0)
	s.ErrorIs(err, merr.ErrSerdeInvalidData)
	s.ErrorIs(err, merr.ErrSerdeSerialize)
}

func (s *DelegateSuite) TestRuntimeErrors() {
	in := Player{Name: "long enough", Position: NewVec2(1, 1)}
	data, err := Marshal(s.reg, in)
	s.Require().NoError(err)

	err = Serialize(s.reg, in, make([]byte, len(data)-1), 0)
	s.ErrorIs(err, merr.ErrSerdeOutOfRange)
	s.ErrorIs(err, merr.ErrSerdeSerialize)
	s.False(merr.IsConfigurationErr(err))

	_, err = Deserialize[Player](s.reg, data[:len(data)-1], 0)
	s.ErrorIs(err, merr.ErrSerdeOutOfRange)
	s.ErrorIs(err, merr.ErrSerdeDeserialize)

	corrupt := append([]byte{}, data...)
	corrupt[0] = 9
	_, err = Unmarshal[Player](s.reg, corrupt)
	s.ErrorIs(err, merr.ErrSerdeInvalidData)

	_, err = GetSizeFromBuffer[Player](s.reg, corrupt, 0)
	s.ErrorIs(err, merr.ErrSerdeInvalidData)
	s.ErrorIs(err, merr.ErrSerdeSize)

	_, err = Deserialize[Player](s.reg, data, -1)
	s.ErrorIs(err, merr.ErrSerdeOutOfRange)
}

func (s *DelegateSuite) TestConstantSizeMemoized() {
	calls := atomic.NewInt32(0)
	s.Require().NoError(s.reg.RegisterSerializer(countingSerializer{sizeCalls: calls}))
	s.reg.MustMapStruct(FromType[Reading]().Map(s.reg))

	for i := 0; i < 5; i++ {
		size, err := GetSizeFromValue(s.reg, Reading{Temp: Celsius(i) * 1.5, At: int64(i) << 40})
		s.Require().NoError(err)
		s.Equal(uint16(12), size)
	}
	s.Equal(int32(1), calls.Load())

	in := Reading{Temp: 21.5, At: 1700000000}

	data, err := Marshal(s.reg, in)
	s.Require().NoError(err)
	out, err := Unmarshal[Reading](s.reg, data)
	s.Require().NoError(err)
	s.Equal(in, out)
}

func (s *DelegateSuite) TestSerializeSizeLimit() {
	s.reg.MustMapStruct(FromType[Transcript]().Map(s.reg))

	head := strings.Repeat("a", 30000)
	in := Transcript{Head: head, Body: strings.Repeat("b", 30000)}
	buf := make([]byte, 200000)
	err := Serialize(s.reg, in, buf, 0)
	s.ErrorIs(err, merr.ErrSerdeSizeOverflow)
	s.ErrorIs(err, merr.ErrSerdeSerialize)
	s.Equal(make([]byte, len(buf)-60004), buf[60004:])

	_, err = GetSizeFromValue(s.reg, in)
	s.ErrorIs(err, merr.ErrSerdeSizeOverflow)

	fits := Transcript{Head: head, Body: strings.Repeat("b", 2763)}
	size, err := GetSizeFromValue(s.reg, fits)
	s.Require().NoError(err)
	s.Equal(uint16(65534), size)
	data, err := Marshal(s.reg, fits)
	s.Require().NoError(err)
	s.Len(data, 65534)
	out, err := Unmarshal[Transcript](s.reg, data)
	s.Require().NoError(err)
	s.Equal(fits, out)

	bigger := Transcript{Head: head, Body: strings.Repeat("b", 2765)}
	err = Serialize(s.reg, bigger, buf, 0)
	s.ErrorIs(err, merr.ErrSerdeSizeOverflow)
}

func (s *DelegateSuite) TestPanicsRecovered() {
	s.Require().NoError(s.reg.RegisterSerializer(panickingSerializer{}))
	s.reg.MustMapStruct(FromType[Bomb]().Map(s.reg))

	buf := make([]byte, 16)
	err := Serialize(s.reg, Bomb{}, buf, 0)
	s.ErrorIs(err, merr.ErrSerdeSerialize)
	s.Contains(err.Error(), "boom")

	_, err = Deserialize[Bomb](s.reg, buf, 0)
	s.ErrorIs(err, merr.ErrSerdeDeserialize)

	_, err = GetSizeFromValue(s.reg, Bomb{})
	s.ErrorIs(err, merr.ErrSerdeSize)

	_, err = GetSizeFromBuffer[Bomb](s.reg, buf, 0)
	s.ErrorIs(err, merr.ErrSerdeSize)
}

func (s *DelegateSuite) TestBuildDelegates() {
	t := reflect.TypeFor[Wallet]()
	m, err := FromType[Wallet]().Map(s.reg)
	s.Require().NoError(err)
	program, err := CompileProgram(m)
	s.Require().NoError(err)
	ranges, err := InterpretObjectSerializationValueRanges(t, program.Serialize)
	s.Require().NoError(err)

	d, err := BuildDelegates(t, program, ranges)
	s.Require().NoError(err)
	s.NotNil(d.GetSizeFromBuffer)
	_, constant := d.ConstantSize()
	s.False(constant)

	// 手工构建的委托同样可以注册，但没有映射信息。
	s.Require().NoError(s.reg.RegisterTypeSerializer(t, d))
	data, err := Marshal(s.reg, Wallet{Owner: "kit"})
	s.Require().NoError(err)
	s.Equal([]byte{6, 0, 0, 0, 'k', 0, 'i', 0, 't', 0}, data)
	_, ok := s.reg.Fingerprint(t)
	s.False(ok)

	_, err = BuildDelegates(t, nil, ranges)
	s.ErrorIs(err, merr.ErrSerdeBuild)

	wrong := ranges
	wrong.TotalValues = 2
	_, err = BuildDelegates(t, program, wrong)
	s.ErrorIs(err, merr.ErrSerdeBuild)
	s.ErrorIs(err, merr.ErrSerdeOpCountMismatch)
	s.True(merr.IsConfigurationErr(err))

	broken := &SerializationProgram{
		Type:        t,
		Serialize:   []SerializationOp{&SerializeValueOp{Index: 0, NullableIndex: -1}},
		Deserialize: program.Deserialize,
	}
	_, err = BuildDelegates(t, broken, ranges)
	s.ErrorIs(err, merr.ErrSerdeBuild)
}

func TestDelegate(t *testing.T) {
	suite.Run(t, new(DelegateSuite))
}
