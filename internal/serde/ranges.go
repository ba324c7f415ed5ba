package serde

import (
	"fmt"
	"reflect"

	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

// ObjectSerializationValueRanges 是由操作序列得到的值区间统计。
//
// 可空值在空值掩码中按可空下标 0..NullableValues-1 连续编号，与其在全部成员中的位置无关；
// NullableOffset 为第一个可空值的成员下标，没有可空值时等于 TotalValues。
type ObjectSerializationValueRanges struct {
	TotalValues    int
	NullableValues int
	NullableOffset int
}

// NullMaskSize 返回空值掩码（含长度前缀）占用的字节数。
func (r ObjectSerializationValueRanges) NullMaskSize() int {
	return nullMaskSize(r.NullableValues)
}

// HasNullable 报告是否需要空值掩码。
func (r ObjectSerializationValueRanges) HasNullable() bool {
	return r.NullableValues > 0
}

// IsLast 报告第 i 个值是否为最后一个值，最后一个值之后无需推进偏移。
func (r ObjectSerializationValueRanges) IsLast(i int) bool {
	return i == r.TotalValues-1
}

// InterpretObjectSerializationValueRanges 扫描一次操作序列并计算值区间。ActivationOp 被忽略。
func InterpretObjectSerializationValueRanges(t reflect.Type, ops []SerializationOp) (ObjectSerializationValueRanges, error) {
	r := ObjectSerializationValueRanges{NullableOffset: -1}
	for _, op := range ops {
		v, ok := op.(*SerializeValueOp)
		if !ok {
			continue
		}
		if v.Index != r.TotalValues {
			return ObjectSerializationValueRanges{}, merr.WrapErrSerdeConfiguration(t,
				fmt.Sprintf("value op %d out of order, expected %d", v.Index, r.TotalValues))
		}
		if v.Value != nil && v.Value.Nullable != (v.NullableIndex >= 0) {
			return ObjectSerializationValueRanges{}, merr.WrapErrSerdeConfiguration(t,
				"nullable flag of "+v.Value.Name+" disagrees with its null mask index")
		}
		if v.NullableIndex >= 0 {
			if v.NullableIndex != r.NullableValues {
				return ObjectSerializationValueRanges{}, merr.WrapErrSerdeConfiguration(t,
					fmt.Sprintf("nullable index %d out of order, expected %d", v.NullableIndex, r.NullableValues))
			}
			if r.NullableOffset < 0 {
				r.NullableOffset = r.TotalValues
			}
			r.NullableValues++
		}
		r.TotalValues++
	}
	if r.NullableOffset < 0 {
		r.NullableOffset = r.TotalValues
	}
	return r, nil
}
