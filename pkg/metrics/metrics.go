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

package metrics

import (
	// #nosec
	_ "net/http/pprof"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// serdeNamespace 是当前项目所有 Prometheus 指标使用的命名空间。
	serdeNamespace = "serde"

	opLabelName     = "op"
	typeLabelName   = "type"
	resultLabelName = "result"

	SerializeLabel   = "serialize"
	DeserializeLabel = "deserialize"
	EncodeLabel      = "encode"
	DecodeLabel      = "decode"

	SuccessLabel = "success"
	FailLabel    = "fail"
)

var (
	// payloadBuckets 为载荷大小的桶划分，单位为字节，上限为单个对象的最大长度。
	payloadBuckets = prometheus.LinearBuckets(0, 4096, 17)

	SerdeRegisteredTypes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: serdeNamespace,
			Name:      "registered_types",
			Help:      "number of types registered in serde registries",
		})

	SerdeOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: serdeNamespace,
			Name:      "operations_total",
			Help:      "count of serialize/deserialize operations",
		}, []string{opLabelName, typeLabelName, resultLabelName})

	SerdePayloadBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: serdeNamespace,
			Name:      "payload_bytes",
			Help:      "size of serialized payloads in bytes",
			Buckets:   payloadBuckets,
		}, []string{opLabelName})

	metricRegisterer prometheus.Registerer
	registerOnce     sync.Once
)

// GetRegisterer 返回全局 Prometheus Registerer。
// 如果尚未通过 Register 显式设置，则返回 prometheus.DefaultRegisterer。
func GetRegisterer() prometheus.Registerer {
	if metricRegisterer == nil {
		return prometheus.DefaultRegisterer
	}
	return metricRegisterer
}

// Register 注册当前定义的所有指标，只在第一次调用时生效。
func Register(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(SerdeRegisteredTypes)
		r.MustRegister(SerdeOperations)
		r.MustRegister(SerdePayloadBytes)
		metricRegisterer = r
	})
}
