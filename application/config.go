package application

import (
	"github.com/lk2023060901/danmu-garden-serde/internal/network/codec"
	"github.com/lk2023060901/danmu-garden-serde/internal/network/framer"
	"github.com/lk2023060901/danmu-garden-serde/internal/network/serializer"
	zviper "github.com/lk2023060901/danmu-garden-serde/pkg/util/viper"
)

// envPrefix is the prefix of every environment override, e.g. SERDE_CODEC_COMPRESSION.
const envPrefix = "SERDE"

// Config is the typed view of the process configuration file.
type Config struct {
	Serde  SerdeConfig  `mapstructure:"serde"`
	Codec  CodecConfig  `mapstructure:"codec"`
	Router RouterConfig `mapstructure:"router"`
}

// SerdeConfig controls the serialization registry.
type SerdeConfig struct {
	// Metrics enables prometheus instrumentation of registry calls.
	Metrics bool `mapstructure:"metrics"`
	// StrictRegistration panics when bootstrap registration fails.
	StrictRegistration bool `mapstructure:"strict-registration"`
}

// CodecConfig controls the frame codec built by Application.NewCodec.
type CodecConfig struct {
	// Serializer selects the payload format: binary (default), proto or json.
	Serializer      string `mapstructure:"serializer"`
	Compression     bool   `mapstructure:"compression"`
	MinCompressSize int    `mapstructure:"min-compress-size"`
	MaxFrameSize    uint32 `mapstructure:"max-frame-size"`
	ProtocolVersion string `mapstructure:"protocol-version"`
}

// RouterConfig controls the router built by Application.NewRouter.
type RouterConfig struct {
	// AsyncPoolSize is the worker count of HandleAsync, 0 means the CPU count.
	AsyncPoolSize int `mapstructure:"async-pool-size"`
}

// setDefaults registers every known key so that env overrides are picked up by Unmarshal.
func setDefaults(cfg *zviper.Config) {
	cfg.SetDefault("serde.metrics", true)
	cfg.SetDefault("serde.strict-registration", true)
	cfg.SetDefault("codec.serializer", serializer.NameBinary)
	cfg.SetDefault("codec.compression", true)
	cfg.SetDefault("codec.min-compress-size", codec.DefaultMinCompressSize)
	cfg.SetDefault("codec.max-frame-size", framer.DefaultMaxFrameSize)
	cfg.SetDefault("codec.protocol-version", "1.0.0")
	cfg.SetDefault("router.async-pool-size", 0)
}
