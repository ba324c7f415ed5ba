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
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegister(t *testing.T) {
	r := prometheus.NewRegistry()
	Register(r)
	Register(prometheus.NewRegistry())
	assert.Equal(t, prometheus.Registerer(r), GetRegisterer())

	SerdeOperations.WithLabelValues(SerializeLabel, "serde.Vec2", SuccessLabel).Inc()
	SerdePayloadBytes.WithLabelValues(SerializeLabel).Observe(8)
	assert.Equal(t, 1, testutil.CollectAndCount(SerdeOperations))
	assert.Equal(t, float64(1), testutil.ToFloat64(SerdeOperations.WithLabelValues(SerializeLabel, "serde.Vec2", SuccessLabel)))

	families, err := r.Gather()
	assert.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "serde_operations_total")
	assert.Contains(t, names, "serde_payload_bytes")
}
