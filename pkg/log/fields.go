package log

import (
	"reflect"

	"go.uber.org/zap"
)

const (
	FieldNameModule = "module"
	FieldNameType   = "type"
	FieldNameOp     = "op"
	FieldNameSeq    = "seq"
)

func FieldModule(module string) zap.Field {
	return zap.String(FieldNameModule, module)
}

// FieldType 记录 Go 类型，nil 输出为 "<nil>"。
func FieldType(t reflect.Type) zap.Field {
	if t == nil {
		return zap.String(FieldNameType, "<nil>")
	}
	return zap.Stringer(FieldNameType, t)
}

func FieldOp(op uint32) zap.Field {
	return zap.Uint32(FieldNameOp, op)
}

func FieldSeq(seq uint64) zap.Field {
	return zap.Uint64(FieldNameSeq, seq)
}
