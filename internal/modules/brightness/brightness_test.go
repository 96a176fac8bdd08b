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

package brightness

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mathieuhardy/cerebro/internal/modules/common"
)

func TestSameDevicesIgnoresOrder(t *testing.T) {
	assert.True(t, sameDevices([]string{"a", "b"}, []string{"b", "a"}))
	assert.False(t, sameDevices([]string{"a"}, []string{"a", "b"}))
	assert.False(t, sameDevices([]string{"a", "c"}, []string{"a", "b"}))
}

func TestShellConcatenatesDevicesWithoutSeparator(t *testing.T) {
	tracker := common.NewTracker(Name)
	tracker.Set(nil, fieldValue("intel_backlight"), "100")
	tracker.Set(nil, fieldCurrentValue("intel_backlight"), "100")
	tracker.Set(nil, fieldMaxValue("intel_backlight"), "255")
	tracker.Set(nil, fieldValue("acpi_video0"), "50")
	tracker.Set(nil, fieldCurrentValue("acpi_video0"), "50")
	tracker.Set(nil, fieldMaxValue("acpi_video0"), "100")

	m := &Module{backend: &backend{
		tracker:    tracker,
		devices:    []string{"intel_backlight", "acpi_video0"},
		devicesSet: true,
	}}

	got := string(m.Shell())

	assert.Equal(t,
		"intel_backlight_brightness=100 intel_backlight_actual_brightness=100 intel_backlight_max_brightness=255"+
			"acpi_video0_brightness=50 acpi_video0_actual_brightness=50 acpi_video0_max_brightness=100",
		got)
}
