// Copyright 2025 Keepsake AI
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"time"
)

// NoopMetrics discards every recording; used when metrics are disabled
// and in tests.
type NoopMetrics struct{}

func (NoopMetrics) RecordRun(ctx context.Context, duration time.Duration, tokens int, costCents float64, halted bool, err error) {
}

func (NoopMetrics) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error) {
}

func (NoopMetrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
}

func (NoopMetrics) RecordWellbeingAlert(ctx context.Context, risk string) {}

var _ Metrics = NoopMetrics{}
