package router

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lk2023060901/danmu-garden-serde/internal/network"
	"github.com/lk2023060901/danmu-garden-serde/internal/network/codec"
	"github.com/lk2023060901/danmu-garden-serde/internal/network/framer"
	"github.com/lk2023060901/danmu-garden-serde/internal/network/message"
	"github.com/lk2023060901/danmu-garden-serde/internal/network/serializer"
	"github.com/lk2023060901/danmu-garden-serde/internal/serde"
	"github.com/lk2023060901/danmu-garden-serde/pkg/log"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/conc"
)

type echoRequest struct {
	Text string
}

type echoResponse struct {
	Text  string
	Count int32
}

const (
	opEcho     uint32 = 1
	opEchoResp uint32 = 2
	opSilent   uint32 = 3
	opFail     uint32 = 4
	opPanic    uint32 = 5
)

// bufferPeer 记录每次 Send 的内容。
type bufferPeer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	sends int
}

func (p *bufferPeer) Send(buf []byte, offset, length int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sends++
	p.buf.Write(buf[offset : offset+length])
	return nil
}

type RouterSuite struct {
	suite.Suite

	codec  codec.Codec
	router Router
	errFn  error
}

func (s *RouterSuite) SetupTest() {
	reg := serde.NewRegistry()
	s.Require().NoError(message.Register(reg))
	s.Require().NoError(reg.MapStructs(
		serde.FromType[echoRequest](),
		serde.FromType[echoResponse](),
	))

	var err error
	s.codec, err = codec.New(codec.Options{
		Framer:     framer.NewLengthPrefixedFramer(reg, 0),
		Serializer: serializer.NewBinarySerializer(reg),
	})
	s.Require().NoError(err)

	s.errFn = errors.New("boom")
	s.router = New(s.codec, WithPool(conc.NewPool[struct{}](2)))
	s.Require().NoError(s.router.Register(opEcho, Route{
		NewRequest: func() any { return &echoRequest{} },
		Handler: func(_ network.Peer, req any) (any, error) {
			r := req.(*echoRequest)
			return &echoResponse{Text: r.Text, Count: int32(len(r.Text))}, nil
		},
		RespOp: opEchoResp,
	}))
	s.Require().NoError(s.router.Register(opSilent, Route{
		NewRequest: func() any { return &echoRequest{} },
		Handler:    func(network.Peer, any) (any, error) { return &echoResponse{}, nil },
	}))
	s.Require().NoError(s.router.Register(opFail, Route{
		NewRequest: func() any { return &echoRequest{} },
		Handler:    func(network.Peer, any) (any, error) { return nil, s.errFn },
	}))
	s.Require().NoError(s.router.Register(opPanic, Route{
		NewRequest: func() any { return &echoRequest{} },
		Handler:    func(network.Peer, any) (any, error) { panic("handler") },
	}))
}

func (s *RouterSuite) TearDownTest() {
	s.router.Close()
}

func (s *RouterSuite) payload(v any) []byte {
	var buf bytes.Buffer
	s.Require().NoError(s.codec.Encode(&buf, &message.MessageHeader{}, v))
	_, data, err := s.codec.DecodeRaw(&buf)
	s.Require().NoError(err)
	return data
}

func (s *RouterSuite) TestRegisterValidation() {
	route := Route{NewRequest: func() any { return &echoRequest{} }, Handler: func(network.Peer, any) (any, error) { return nil, nil }}
	s.Error(s.router.Register(0, route))
	s.Error(s.router.Register(9, Route{Handler: route.Handler}))
	s.Error(s.router.Register(9, Route{NewRequest: route.NewRequest}))
	s.Error(s.router.Register(opEcho, route))
	s.NoError(s.router.Register(9, route))
}

func (s *RouterSuite) TestHandleWithResponse() {
	peer := &bufferPeer{}
	err := s.router.Handle(peer, &message.MessageHeader{Op: opEcho, Seq: 77}, s.payload(echoRequest{Text: "hello"}))
	s.Require().NoError(err)
	s.Equal(1, peer.sends)

	var resp echoResponse
	header, err := s.codec.Decode(&peer.buf, &resp)
	s.Require().NoError(err)
	s.Equal(opEchoResp, header.Op)
	s.Equal(uint64(77), header.Seq)
	s.NotZero(header.Timestamp)
	s.Equal(echoResponse{Text: "hello", Count: 5}, resp)
}

func (s *RouterSuite) TestHandleWithoutResponse() {
	peer := &bufferPeer{}
	s.NoError(s.router.Handle(peer, &message.MessageHeader{Op: opSilent}, nil))
	s.Zero(peer.sends)
}

func (s *RouterSuite) TestHandleErrors() {
	peer := &bufferPeer{}
	s.ErrorIs(s.router.Handle(nil, &message.MessageHeader{Op: opEcho}, nil), network.ErrDispatchFailed)
	s.ErrorIs(s.router.Handle(peer, nil, nil), network.ErrDispatchFailed)
	s.ErrorIs(s.router.Handle(peer, &message.MessageHeader{Op: 100}, nil), network.ErrDispatchFailed)

	err := s.router.Handle(peer, &message.MessageHeader{Op: opFail}, nil)
	s.ErrorIs(err, network.ErrDispatchFailed)
	s.ErrorIs(err, s.errFn)

	s.ErrorIs(s.router.Handle(peer, &message.MessageHeader{Op: opPanic}, nil), network.ErrDispatchFailed)

	err = s.router.Handle(peer, &message.MessageHeader{Op: opEcho}, []byte{0xFF})
	s.ErrorIs(err, network.ErrDecodeFailed)
	s.Equal(network.StageDecode, network.StageOf(err))
	s.Zero(peer.sends)
}

func (s *RouterSuite) TestHandleAsync() {
	peer := &bufferPeer{}
	futures := make([]*conc.Future[struct{}], 0, 8)
	for i := 0; i < 8; i++ {
		futures = append(futures, s.router.HandleAsync(peer, &message.MessageHeader{Op: opEcho, Seq: uint64(i)}, s.payload(echoRequest{Text: "x"})))
	}
	s.Require().NoError(conc.AwaitAll(futures...))
	s.Equal(8, peer.sends)

	seen := make(map[uint64]bool)
	for i := 0; i < 8; i++ {
		header, err := s.codec.Decode(&peer.buf, &echoResponse{})
		s.Require().NoError(err)
		seen[header.Seq] = true
	}
	s.Len(seen, 8)

	_, err := s.router.HandleAsync(peer, &message.MessageHeader{Op: opFail}, nil).Await()
	s.ErrorIs(err, s.errFn)
}

func (s *RouterSuite) TestHandleAsyncLogsMessageContext() {
	core, logs := observer.New(zap.WarnLevel)
	r := New(s.codec, WithLogger(&log.MLogger{Logger: zap.New(core)}))
	defer r.Close()
	s.Require().NoError(r.Register(opFail, Route{
		NewRequest: func() any { return &echoRequest{} },
		Handler:    func(network.Peer, any) (any, error) { return nil, s.errFn },
	}))

	_, err := r.HandleAsync(&bufferPeer{}, &message.MessageHeader{Op: opFail, Seq: 42}, nil).Await()
	s.ErrorIs(err, s.errFn)

	entries := logs.FilterMessage("handle message failed").All()
	s.Require().Len(entries, 1)
	fields := entries[0].ContextMap()
	s.Equal(opFail, fields["op"])
	s.Equal(uint64(42), fields["seq"])
	s.Equal("router", fields["role"])
	s.Equal("HandleAsync", fields["intent"])
	s.Equal(string(network.StageDispatch), fields["stage"])
}

func TestRouter(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}
