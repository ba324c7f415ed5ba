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

package merr

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

const InputErrorFlagKey string = "is_input_error"

// Code 返回给定错误对应的错误码。
// 对于运行期包装错误，返回的是最内层原因的错误码。
func Code(err error) int32 {
	if err == nil {
		return 0
	}

	cause := errors.Cause(err)
	switch specificErr := cause.(type) {
	case serdeError:
		return specificErr.code()

	default:
		if errors.Is(specificErr, context.Canceled) {
			return CanceledCode
		} else if errors.Is(specificErr, context.DeadlineExceeded) {
			return TimeoutCode
		} else {
			return errUnexpected.code()
		}
	}
}

func IsRetryableErr(err error) bool {
	if err, ok := err.(serdeError); ok {
		return err.retriable
	}

	return false
}

func IsCanceledOrTimeout(err error) bool {
	return errors.IsAny(err, context.Canceled, context.DeadlineExceeded)
}

// KindOf 返回错误最外层的分类。
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindGeneral
	}
	if me, ok := err.(multiErrors); ok {
		return KindOf(me.errs[0])
	}
	if se, ok := errors.Cause(err).(serdeError); ok {
		return se.kind
	}
	return KindGeneral
}

// IsConfigurationErr 判断错误是否属于 schema 构建期错误（配置错误或构建错误）。
// 这类错误应在启动阶段暴露，不应重试。
func IsConfigurationErr(err error) bool {
	switch KindOf(err) {
	case KindConfiguration, KindBuild:
		return true
	default:
		return false
	}
}

// IsRangeErr 判断错误链中是否包含越界或大小溢出错误。
func IsRangeErr(err error) bool {
	return errors.IsAny(err, ErrSerdeOutOfRange, ErrSerdeSizeOverflow)
}

func WrapErrAsInputError(err error) error {
	if merr, ok := err.(serdeError); ok {
		WithErrorType(InputError)(&merr)
		return merr
	}
	return err
}

func GetErrorType(err error) ErrorType {
	if merr, ok := err.(serdeError); ok {
		return merr.errType
	}

	return SystemError
}

// Service related
func WrapErrServiceInternal(reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrServiceInternal, reason)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// IO related
func WrapErrIoFailed(key string, err error) error {
	if err == nil {
		return nil
	}
	return wrapFieldsWithDesc(ErrIoFailed, err.Error(), value("key", key))
}

func WrapErrIoUnexpectEOF(key string, err error) error {
	if err == nil {
		return nil
	}
	return wrapFieldsWithDesc(ErrIoUnexpectEOF, err.Error(), value("key", key))
}

// Parameter related
func WrapErrParameterInvalid[T any](expected, actual T, msg ...string) error {
	err := wrapFields(ErrParameterInvalid,
		value("expected", expected),
		value("actual", actual),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrParameterInvalidRange[T any](lower, upper, actual T, msg ...string) error {
	err := wrapFields(ErrParameterInvalid,
		bound("value", actual, lower, upper),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrParameterInvalidMsg(fmt string, args ...any) error {
	return errors.Wrapf(ErrParameterInvalid, fmt, args...)
}

func WrapErrParameterMissing[T any](param T, msg ...string) error {
	err := wrapFields(ErrParameterMissing,
		value("missing_param", param),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrParameterTooLarge(name string, msg ...string) error {
	err := wrapFields(ErrParameterTooLarge, value("message", name))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Metrics related
func WrapErrMetricNotFound(name string, msg ...string) error {
	err := wrapFields(ErrMetricNotFound, value("metric", name))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrOperationNotSupported(operation string, msg ...string) error {
	err := wrapFields(ErrOperationNotSupported, value("operation", operation))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Serde configuration related
func WrapErrSerdeConfiguration(typ any, msg ...string) error {
	err := wrapFields(ErrSerdeConfiguration, value("type", typ))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrSerdeDuplicateType(typ any, msg ...string) error {
	err := wrapFields(ErrSerdeDuplicateType, value("type", typ))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrSerdeUnsupportedMember(typ any, member string, memberType any, msg ...string) error {
	err := wrapFields(ErrSerdeUnsupportedMember,
		value("type", typ),
		value("member", member),
		value("memberType", memberType),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrSerdeActivation(typ any, reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrSerdeActivation, reason, value("type", typ))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrSerdeOpCountMismatch(serializeCount, deserializeCount int, msg ...string) error {
	err := wrapFields(ErrSerdeOpCountMismatch,
		value("serialize", serializeCount),
		value("deserialize", deserializeCount),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Serde build related
func WrapErrSerdeBuild(typ any, cause error) error {
	return Combine(wrapFields(ErrSerdeBuild, value("type", typ)), cause)
}

// Serde runtime related
//
// 运行期包装错误同时保留包装层与原因：errors.Is 对两者均成立，
// Code 返回原因的错误码。
func WrapErrSerdeSerialize(typ any, offset, bufLen int, cause error) error {
	return Combine(wrapFields(ErrSerdeSerialize,
		value("type", typ),
		value("offset", offset),
		value("bufferLength", bufLen),
	), cause)
}

func WrapErrSerdeDeserialize(typ any, offset, bufLen int, cause error) error {
	return Combine(wrapFields(ErrSerdeDeserialize,
		value("type", typ),
		value("offset", offset),
		value("bufferLength", bufLen),
	), cause)
}

func WrapErrSerdeSize(typ any, cause error) error {
	return Combine(wrapFields(ErrSerdeSize, value("type", typ)), cause)
}

func WrapErrSerdeOutOfRange(offset, size, bufLen int, msg ...string) error {
	err := wrapFields(ErrSerdeOutOfRange,
		bound("offset", offset, 0, bufLen-size),
		value("size", size),
		value("bufferLength", bufLen),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrSerdeSizeOverflow(typ any, size int, msg ...string) error {
	err := wrapFields(ErrSerdeSizeOverflow,
		value("type", typ),
		bound("size", size, 0, 1<<16-1),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrSerdeInvalidData(typ any, reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrSerdeInvalidData, reason, value("type", typ))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrSerdeTypeNotRegistered(typ any, msg ...string) error {
	err := wrapFields(ErrSerdeTypeNotRegistered, value("type", typ))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrSerdeNilValue(typ any, msg ...string) error {
	err := wrapFields(ErrSerdeNilValue, value("type", typ))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func wrapFields(err serdeError, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.detail = err.msg
	return err
}

func wrapFieldsWithDesc(err serdeError, desc string, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.msg += ": " + desc
	err.detail = err.msg
	return err
}

type errorField interface {
	String() string
}

type valueField struct {
	name  string
	value any
}

func value(name string, value any) valueField {
	return valueField{
		name,
		value,
	}
}

func (f valueField) String() string {
	return fmt.Sprintf("%s=%v", f.name, f.value)
}

type boundField struct {
	name  string
	value any
	lower any
	upper any
}

func bound(name string, value, lower, upper any) boundField {
	return boundField{
		name,
		value,
		lower,
		upper,
	}
}

func (f boundField) String() string {
	return fmt.Sprintf("%v out of range %v <= %s <= %v", f.value, f.lower, f.name, f.upper)
}
