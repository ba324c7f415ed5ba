package serializer

import (
	"testing"

	"github.com/stretchr/testify/suite"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/lk2023060901/danmu-garden-serde/internal/serde"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

type ping struct {
	ID   int32
	Name string
	Tags []string
}

type SerializerSuite struct {
	suite.Suite

	reg *serde.Registry
}

func (s *SerializerSuite) SetupTest() {
	s.reg = serde.NewRegistry()
	s.reg.MustMapStruct(serde.FromType[ping]().Map(s.reg))
}

func (s *SerializerSuite) TestBinary() {
	ser := NewBinarySerializer(s.reg)
	in := ping{ID: 3, Name: "弹幕", Tags: []string{"a", "b"}}

	data, err := ser.Marshal(in)
	s.Require().NoError(err)
	fromPtr, err := ser.Marshal(&in)
	s.Require().NoError(err)
	s.Equal(data, fromPtr)

	var out ping
	s.Require().NoError(ser.Unmarshal(data, &out))
	s.Equal(in, out)

	s.Error(ser.Unmarshal(data, out))
	s.Error(ser.Unmarshal(data, (*ping)(nil)))

	_, err = ser.Marshal(struct{ X int }{})
	s.ErrorIs(err, merr.ErrSerdeTypeNotRegistered)
}

func (s *SerializerSuite) TestBinaryFingerprint() {
	ser := NewBinarySerializer(s.reg)
	fp := ser.Fingerprint(&ping{})
	s.NotZero(fp)
	s.Equal(fp, ser.Fingerprint(ping{}))
	s.Zero(ser.Fingerprint(int32(1)))
	s.Zero(ser.Fingerprint(nil))
}

func (s *SerializerSuite) TestJSON() {
	ser := JSONSerializer{}
	in := ping{ID: 1, Name: "x"}
	data, err := ser.Marshal(in)
	s.Require().NoError(err)

	var out ping
	s.Require().NoError(ser.Unmarshal(data, &out))
	s.Equal(in, out)
}

func (s *SerializerSuite) TestProto() {
	ser := ProtoSerializer{}
	data, err := ser.Marshal(wrapperspb.String("hello"))
	s.Require().NoError(err)

	out := &wrapperspb.StringValue{}
	s.Require().NoError(ser.Unmarshal(data, out))
	s.Equal("hello", out.GetValue())

	_, err = ser.Marshal(ping{})
	s.ErrorIs(err, ErrNotProtoMessage)
	s.ErrorIs(ser.Unmarshal(data, &ping{}), ErrNotProtoMessage)

	// 追加字段号 2 的 varint（tag 0x10），StringValue 不认识该字段。
	unknown := append(append([]byte{}, data...), 0x10, 0x01)
	strict := &wrapperspb.StringValue{}
	s.Require().NoError(ser.Unmarshal(unknown, strict))
	s.NotEmpty(strict.ProtoReflect().GetUnknown())
	lenient := &wrapperspb.StringValue{}
	s.Require().NoError(ProtoSerializer{DiscardUnknown: true}.Unmarshal(unknown, lenient))
	s.Empty(lenient.ProtoReflect().GetUnknown())
	s.Equal("hello", lenient.GetValue())
}

func (s *SerializerSuite) TestNew() {
	ser, err := New("", s.reg)
	s.Require().NoError(err)
	s.IsType(&BinarySerializer{}, ser)
	ser, err = New(NameProto, nil)
	s.Require().NoError(err)
	s.IsType(ProtoSerializer{}, ser)
	ser, err = New(NameJSON, nil)
	s.Require().NoError(err)
	s.IsType(JSONSerializer{}, ser)

	_, err = New(NameBinary, nil)
	s.Error(err)
	_, err = New("xml", s.reg)
	s.ErrorIs(err, ErrUnknownSerializer)
}

func TestSerializer(t *testing.T) {
	suite.Run(t, new(SerializerSuite))
}
