// Copyright 2024 Google Inc. All Rights Reserved.
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

package battery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatTimeRemainingReproducesUpstreamQuirk(t *testing.T) {
	// 3725s = 1h02m05s conventionally, but the retained formatting takes
	// minutes as secs%60 rather than (secs/60)%60, so the minutes slot
	// here is 3725%60 == 5, not 2.
	assert.Equal(t, "01h05m", formatTimeRemaining(3725))
}

func TestFormatTimeRemainingZero(t *testing.T) {
	assert.Equal(t, "00h00m", formatTimeRemaining(0))
}
