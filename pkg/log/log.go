// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/uber/jaeger-client-go/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"gopkg.in/natefinch/lumberjack.v2"
)

var _globalL, _globalP, _globalR atomic.Value

// _namedRateLimiters 保存 WithRateGroup 创建的分组限流器，同名分组共享额度。
var _namedRateLimiters sync.Map

// RateLimiter 是限流日志使用的最小接口。
type RateLimiter interface {
	CheckCredit(delta float64) bool
}

type nopRateLimiter struct{}

func (nopRateLimiter) CheckCredit(float64) bool { return true }

func init() {
	l, p := newStdLogger()
	_globalL.Store(l)
	_globalP.Store(p)
	_globalR.Store(rateLimiterFromEnv())
}

// InitLogger 按配置创建 Logger，输出为文件与标准输出的组合。
func InitLogger(cfg *Config, opts ...zap.Option) (*zap.Logger, *ZapProperties, error) {
	var outputs []zapcore.WriteSyncer
	if cfg.File.Filename != "" {
		lg, err := initFileLog(&cfg.File)
		if err != nil {
			return nil, nil, err
		}
		outputs = append(outputs, zapcore.AddSync(lg))
	}
	if cfg.Stdout {
		stdOut, _, err := zap.Open("stdout")
		if err != nil {
			return nil, nil, err
		}
		outputs = append(outputs, stdOut)
	}
	return InitLoggerWithWriteSyncer(cfg, zap.CombineWriteSyncers(outputs...), opts...)
}

// InitTestLogger 创建写入 t.Log 的 Logger，zap 内部错误会让测试失败。
func InitTestLogger(t zaptest.TestingT, cfg *Config, opts ...zap.Option) (*zap.Logger, *ZapProperties, error) {
	w := testingWriter{t: t}
	opts = append([]zap.Option{zap.ErrorOutput(testingWriter{t: t, markFailed: true})}, opts...)
	return InitLoggerWithWriteSyncer(cfg, w, opts...)
}

// InitLoggerWithWriteSyncer 创建输出到 output 的 Logger。级别 "trace" 视为 debug。
func InitLoggerWithWriteSyncer(cfg *Config, output zapcore.WriteSyncer, opts ...zap.Option) (*zap.Logger, *ZapProperties, error) {
	text := cfg.Level
	if strings.EqualFold(text, "trace") || text == "" {
		text = "debug"
	}
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(text)); err != nil {
		return nil, nil, fmt.Errorf("log: parse level %q: %w", cfg.Level, err)
	}
	core := zapcore.NewCore(newZapEncoder(cfg), output, level)
	opts = append(cfg.buildOptions(output), opts...)
	return zap.New(core, opts...), &ZapProperties{Core: core, Syncer: output, Level: level}, nil
}

func initFileLog(cfg *FileLogConfig) (*lumberjack.Logger, error) {
	logPath := filepath.Join(cfg.RootPath, cfg.Filename)
	if st, err := os.Stat(logPath); err == nil && st.IsDir() {
		return nil, errors.Newf("log: %s is a directory", logPath)
	}
	maxSize := cfg.MaxSize
	if maxSize == 0 {
		maxSize = defaultLogMaxSize
	}
	return &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    maxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxDays,
		LocalTime:  true,
	}, nil
}

func newStdLogger() (*zap.Logger, *ZapProperties) {
	conf := &Config{Level: "info", Stdout: true, DisableErrorVerbose: true}
	lg, p, _ := InitLogger(conf, zap.OnFatal(zapcore.WriteThenPanic))
	return lg, p
}

// L 返回全局 Logger，可通过 ReplaceGlobals 替换。
func L() *zap.Logger {
	return _globalL.Load().(*zap.Logger)
}

// R 返回全局限流器，未开启限流时返回不丢弃任何日志的实现。
func R() RateLimiter {
	if rl, ok := _globalR.Load().(RateLimiter); ok && rl != nil {
		return rl
	}
	return nopRateLimiter{}
}

// ReplaceGlobals 替换全局 Logger 及其属性。
func ReplaceGlobals(logger *zap.Logger, props *ZapProperties) {
	_globalL.Store(logger)
	_globalP.Store(props)
}

// Sync 刷新全局 Logger 的缓冲。
func Sync() error {
	return L().Sync()
}

// Level 返回全局日志级别，可在运行时修改。
func Level() zap.AtomicLevel {
	return _globalP.Load().(*ZapProperties).Level
}

// rateLimiterFromEnv 读取 SERDE_LOG_RATE_* 环境变量：
// SERDE_LOG_RATE_ENABLE 开启限流（默认关闭），
// SERDE_LOG_RATE_CREDIT_PER_SECOND 与 SERDE_LOG_RATE_MAX_BALANCE 分别默认 1 与 60。
func rateLimiterFromEnv() RateLimiter {
	if !envBool("SERDE_LOG_RATE_ENABLE") {
		return nopRateLimiter{}
	}
	return utils.NewRateLimiter(
		envFloat("SERDE_LOG_RATE_CREDIT_PER_SECOND", 1),
		envFloat("SERDE_LOG_RATE_MAX_BALANCE", 60),
	)
}

func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func envFloat(key string, def float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return def
	}
	return f
}

// testingWriter 把日志转发到 t.Logf。
type testingWriter struct {
	t          zaptest.TestingT
	markFailed bool
}

func (w testingWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", strings.TrimRight(string(p), "\n"))
	if w.markFailed {
		w.t.Fail()
	}
	return len(p), nil
}

func (testingWriter) Sync() error { return nil }
