package viper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serdeConf struct {
	Codec codecConf `mapstructure:"codec"`
}

type codecConf struct {
	Compression     bool   `mapstructure:"compression"`
	MaxFrameSize    uint32 `mapstructure:"max-frame-size"`
	ProtocolVersion string `mapstructure:"protocol-version"`
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "serde.yaml")
	require.NoError(t, os.WriteFile(path, []byte("codec:\n  compression: true\n  max-frame-size: 1024\n"), 0o600))

	c := New()
	c.SetDefault("codec.protocol-version", "1.0.0")
	require.NoError(t, c.LoadFile(path))
	assert.True(t, c.IsSet("codec.compression"))

	var conf serdeConf
	require.NoError(t, c.Unmarshal(&conf))
	assert.Equal(t, codecConf{Compression: true, MaxFrameSize: 1024, ProtocolVersion: "1.0.0"}, conf.Codec)

	var codec codecConf
	require.NoError(t, c.UnmarshalKey("codec", &codec))
	assert.Equal(t, uint32(1024), codec.MaxFrameSize)

	assert.Error(t, New().LoadFile(filepath.Join(dir, "missing.yaml")))
}

func TestBindEnv(t *testing.T) {
	t.Setenv("SERDE_CODEC_MAX_FRAME_SIZE", "2048")

	c := New()
	c.SetDefault("codec.max-frame-size", 65535)
	c.BindEnv("SERDE")
	assert.Equal(t, "2048", c.GetString("codec.max-frame-size"))

	var conf serdeConf
	require.NoError(t, c.Unmarshal(&conf))
	assert.Equal(t, uint32(2048), conf.Codec.MaxFrameSize)

	var zero Config
	assert.NoError(t, zero.Unmarshal(&conf))
	assert.Empty(t, zero.GetString("codec"))
	assert.False(t, zero.IsSet("codec"))
}
