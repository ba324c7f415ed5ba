package application

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/danmu-garden-serde/internal/network"
	"github.com/lk2023060901/danmu-garden-serde/internal/network/message"
	"github.com/lk2023060901/danmu-garden-serde/internal/network/router"
	"github.com/lk2023060901/danmu-garden-serde/internal/serde"
)

type greeting struct {
	Name string
	Tags []string
}

type ApplicationSuite struct {
	suite.Suite

	dir string
}

func (s *ApplicationSuite) SetupTest() {
	s.dir = s.T().TempDir()
}

func (s *ApplicationSuite) writeConfig(content string) string {
	path := filepath.Join(s.dir, "serde.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (s *ApplicationSuite) TestDefaultsWithoutFile() {
	app := New()
	s.Require().NoError(app.RunWithArgs(nil))
	defer app.Close()

	conf := app.Settings()
	s.True(conf.Serde.Metrics)
	s.True(conf.Serde.StrictRegistration)
	s.True(conf.Codec.Compression)
	s.Equal(256, conf.Codec.MinCompressSize)
	s.Equal(uint32(serde.MaxSize), conf.Codec.MaxFrameSize)
	s.Equal("1.0.0", conf.Codec.ProtocolVersion)
	s.Equal("binary", conf.Codec.Serializer)
	s.NotNil(app.Registry())

	_, err := app.Registry().Lookup(reflect.TypeOf(message.Envelope{}))
	s.NoError(err)
}

func (s *ApplicationSuite) TestExplicitMissingFile() {
	app := New()
	s.Error(app.RunWithArgs([]string{"--config", filepath.Join(s.dir, "missing.yaml")}))
	s.Error(app.RunWithArgs([]string{"--config"}))
}

func (s *ApplicationSuite) TestFileAndEnvOverride() {
	path := s.writeConfig(`
serde:
  metrics: false
  strict-registration: false
codec:
  compression: false
  protocol-version: "2.1.0"
router:
  async-pool-size: 3
logging:
  serde:
    level: debug
`)
	s.T().Setenv("SERDE_CODEC_MIN_COMPRESS_SIZE", "128")

	app := New()
	s.Require().NoError(app.RunWithArgs([]string{"--config=" + path}))
	defer app.Close()

	conf := app.Settings()
	s.False(conf.Serde.Metrics)
	s.False(conf.Serde.StrictRegistration)
	s.False(conf.Codec.Compression)
	s.Equal(128, conf.Codec.MinCompressSize)
	s.Equal("2.1.0", conf.Codec.ProtocolVersion)
	s.Equal(3, conf.Router.AsyncPoolSize)
	s.NotNil(app.Logger("serde"))
	s.NotNil(app.Logger("unknown"))

	s.Error(app.MapStructs(serde.FromType[int]()))
}

func (s *ApplicationSuite) TestConfigPathFromEnv() {
	path := s.writeConfig("codec:\n  protocol-version: \"3.0.0\"\n")
	s.T().Setenv("SERDE_CONFIG_FILE_PATH", path)

	app := New()
	s.Require().NoError(app.RunWithArgs(nil))
	defer app.Close()
	s.Equal("3.0.0", app.Settings().Codec.ProtocolVersion)
}

func (s *ApplicationSuite) TestStrictRegistration() {
	app := New()
	s.Require().NoError(app.RunWithArgs(nil))
	defer app.Close()

	s.NoError(app.MapStructs(serde.FromType[greeting]()))
	s.Panics(func() {
		_ = app.MapStructs(serde.FromType[greeting]())
	})
}

func (s *ApplicationSuite) TestPipeline() {
	app := New()
	s.Require().NoError(app.RunWithArgs(nil))
	defer app.Close()
	s.Require().NoError(app.MapStructs(serde.FromType[greeting]()))

	c, err := app.NewCodec()
	s.Require().NoError(err)
	r := app.NewRouter(c)
	defer r.Close()
	s.Require().NoError(r.Register(1, router.Route{
		NewRequest: func() any { return &greeting{} },
		Handler: func(_ network.Peer, req any) (any, error) {
			g := req.(*greeting)
			return &greeting{Name: "hello " + g.Name, Tags: g.Tags}, nil
		},
		RespOp: 2,
	}))

	var in bytes.Buffer
	s.Require().NoError(c.Encode(&in, &message.MessageHeader{Op: 1, Seq: 9}, greeting{Name: "serde", Tags: []string{"a"}}))
	header, payload, err := c.DecodeRaw(&in)
	s.Require().NoError(err)

	var out bytes.Buffer
	_, err = r.HandleAsync(&network.WriterPeer{W: &out}, header, payload).Await()
	s.Require().NoError(err)

	var resp greeting
	respHeader, err := c.Decode(&out, &resp)
	s.Require().NoError(err)
	s.Equal(uint32(2), respHeader.Op)
	s.Equal(uint64(9), respHeader.Seq)
	s.Equal(greeting{Name: "hello serde", Tags: []string{"a"}}, resp)
}

func (s *ApplicationSuite) TestSerializerSelection() {
	path := s.writeConfig("codec:\n  serializer: json\n")
	app := New()
	s.Require().NoError(app.RunWithArgs([]string{"--config", path}))
	defer app.Close()

	c, err := app.NewCodec()
	s.Require().NoError(err)
	var buf bytes.Buffer
	in := greeting{Name: "json", Tags: []string{"x", "y"}}
	s.Require().NoError(c.Encode(&buf, &message.MessageHeader{Op: 3}, in))
	s.Contains(buf.String(), `"Name":"json"`)

	var out greeting
	_, err = c.Decode(&buf, &out)
	s.Require().NoError(err)
	s.Equal(in, out)

	s.T().Setenv("SERDE_CODEC_SERIALIZER", "xml")
	bad := New()
	s.Require().NoError(bad.RunWithArgs(nil))
	defer bad.Close()
	_, err = bad.NewCodec()
	s.Error(err)
}

func TestApplication(t *testing.T) {
	suite.Run(t, new(ApplicationSuite))
}
