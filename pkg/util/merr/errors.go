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
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

const (
	CanceledCode int32 = 10000
	TimeoutCode  int32 = 10001
)

type ErrorType int32

const (
	SystemError ErrorType = 0
	InputError  ErrorType = 1
)

var ErrorTypeName = map[ErrorType]string{
	SystemError: "system_error",
	InputError:  "input_error",
}

func (err ErrorType) String() string {
	return ErrorTypeName[err]
}

// ErrorKind 描述错误在序列化框架中的大类。
type ErrorKind int32

const (
	KindGeneral ErrorKind = iota
	// KindConfiguration 表示 schema 构建期的配置错误，不可重试。
	KindConfiguration
	// KindBuild 表示委托构建失败。
	KindBuild
	// KindRuntime 表示序列化/反序列化/计算大小时的运行期错误。
	KindRuntime
	// KindRange 表示缓冲区越界或大小溢出。
	KindRange
)

// Define leaf errors here,
// WARN: take care to add new error,
// check whether you can use the errors below before adding a new one.
// Name: Err + related prefix + error name
var (
	// Service related
	ErrServiceInternal = newSerdeError("service internal error", 5, false)

	// IO related
	ErrIoFailed      = newSerdeError("IO failed", 1001, false)
	ErrIoUnexpectEOF = newSerdeError("unexpected EOF", 1002, true)

	// Parameter related
	ErrParameterInvalid  = newSerdeError("invalid parameter", 1100, false)
	ErrParameterMissing  = newSerdeError("missing parameter", 1101, false)
	ErrParameterTooLarge = newSerdeError("parameter too large", 1102, false)

	// Metrics related
	ErrMetricNotFound = newSerdeError("metric not found", 1200, false)

	// General
	ErrOperationNotSupported = newSerdeError("unsupported operation", 3000, false)

	// Serde configuration related
	ErrSerdeConfiguration     = newSerdeError("serde configuration error", 4000, false, withKind(KindConfiguration))
	ErrSerdeDuplicateType     = newSerdeError("type serializer already registered", 4001, false, withKind(KindConfiguration))
	ErrSerdeUnsupportedMember = newSerdeError("unsupported member type", 4002, false, withKind(KindConfiguration))
	ErrSerdeActivation        = newSerdeError("invalid parametrized activation", 4003, false, withKind(KindConfiguration))
	ErrSerdeOpCountMismatch   = newSerdeError("different count of value serializers", 4004, false, withKind(KindConfiguration))

	// Serde build related
	ErrSerdeBuild = newSerdeError("failed to build serializer delegate", 4010, false, withKind(KindBuild))

	// Serde runtime related
	ErrSerdeSerialize   = newSerdeError("serialize failed", 4020, false, withKind(KindRuntime))
	ErrSerdeDeserialize = newSerdeError("deserialize failed", 4021, false, withKind(KindRuntime))
	ErrSerdeSize        = newSerdeError("get size failed", 4022, false, withKind(KindRuntime))

	ErrSerdeOutOfRange        = newSerdeError("buffer access out of range", 4030, false, withKind(KindRange))
	ErrSerdeSizeOverflow      = newSerdeError("serialized size overflow", 4031, false, withKind(KindRange))
	ErrSerdeInvalidData       = newSerdeError("invalid serialized data", 4032, false, withKind(KindRuntime))
	ErrSerdeTypeNotRegistered = newSerdeError("type not registered", 4033, false, withKind(KindRuntime))
	ErrSerdeNilValue          = newSerdeError("nil value", 4034, false, withKind(KindRuntime))

	// Do NOT export this,
	// never allow programmer using this, keep only for converting unknown error to serdeError
	errUnexpected = newSerdeError("unexpected error", (1<<16)-1, false)
)

type errorOption func(*serdeError)

func WithDetail(detail string) errorOption {
	return func(err *serdeError) {
		err.detail = detail
	}
}

func WithErrorType(etype ErrorType) errorOption {
	return func(err *serdeError) {
		err.errType = etype
	}
}

func withKind(kind ErrorKind) errorOption {
	return func(err *serdeError) {
		err.kind = kind
	}
}

type serdeError struct {
	msg       string
	detail    string
	retriable bool
	errCode   int32
	errType   ErrorType
	kind      ErrorKind
}

func newSerdeError(msg string, code int32, retriable bool, options ...errorOption) serdeError {
	err := serdeError{
		msg:       msg,
		detail:    msg,
		retriable: retriable,
		errCode:   code,
	}

	for _, option := range options {
		option(&err)
	}
	return err
}

func (e serdeError) code() int32 {
	return e.errCode
}

func (e serdeError) Error() string {
	return e.msg
}

func (e serdeError) Detail() string {
	return e.detail
}

func (e serdeError) Is(err error) bool {
	cause := errors.Cause(err)
	if cause, ok := cause.(serdeError); ok {
		return e.errCode == cause.errCode
	}
	return false
}

type multiErrors struct {
	errs []error
}

func (e multiErrors) Unwrap() error {
	if len(e.errs) <= 1 {
		return nil
	}
	// To make merr work for multi errors,
	// we need cause of multi errors, which defined as the last error
	if len(e.errs) == 2 {
		return e.errs[1]
	}

	return multiErrors{
		errs: e.errs[1:],
	}
}

func (e multiErrors) Error() string {
	final := e.errs[0]
	for i := 1; i < len(e.errs); i++ {
		final = errors.Wrap(e.errs[i], final.Error())
	}
	return final.Error()
}

func (e multiErrors) Is(err error) bool {
	for _, item := range e.errs {
		if errors.Is(item, err) {
			return true
		}
	}
	return false
}

func Combine(errs ...error) error {
	errs = lo.Filter(errs, func(err error, _ int) bool { return err != nil })
	if len(errs) == 0 {
		return nil
	}
	return multiErrors{
		errs,
	}
}
