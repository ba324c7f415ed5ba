// Copyright 2019 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ctxLogKeyType struct{}

// CtxLogKey 是上下文中保存 *MLogger 的键。
var CtxLogKey = ctxLogKeyType{}

// Info 使用全局 Logger 输出 Info 日志。
func Info(msg string, fields ...zap.Field) {
	L().Info(msg, fields...)
}

// Warn 使用全局 Logger 输出 Warn 日志。
func Warn(msg string, fields ...zap.Field) {
	L().Warn(msg, fields...)
}

// Error 使用全局 Logger 输出 Error 日志。
func Error(msg string, fields ...zap.Field) {
	L().Error(msg, fields...)
}

// With 基于全局 Logger 创建携带 fields 的子 Logger，字段在首次使用时才编码。
func With(fields ...zap.Field) *MLogger {
	return (&MLogger{Logger: L()}).With(fields...)
}

// WithLogger 返回携带 logger 的上下文，之后的 WithFields 与 Ctx 都基于它。
func WithLogger(ctx context.Context, logger *MLogger) context.Context {
	return context.WithValue(ctx, CtxLogKey, logger)
}

// WithFields 返回在上下文 Logger 上追加 fields 的上下文。
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	return WithLogger(ctx, Ctx(ctx).With(fields...))
}

// WithModule 为上下文 Logger 添加模块名。
func WithModule(ctx context.Context, module string) context.Context {
	return WithFields(ctx, FieldModule(module))
}

// NewIntentContext 在 ctx 上开启一个名为 intent 的 span，
// 并让上下文 Logger 带上 role、intent 与 traceID。
func NewIntentContext(ctx context.Context, role, intent string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(role).Start(ctx, intent)
	ctx = WithFields(ctx,
		zap.String("role", role),
		zap.String("intent", intent),
		zap.String("traceID", span.SpanContext().TraceID().String()))
	return ctx, span
}

// Ctx 返回上下文中的 Logger，没有时返回全局 Logger。
func Ctx(ctx context.Context) *MLogger {
	if ctx != nil {
		if l, ok := ctx.Value(CtxLogKey).(*MLogger); ok && l != nil {
			return l
		}
	}
	return &MLogger{Logger: L()}
}
