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

// Package common holds the small per-field change-detection helper
// shared by every sampler backend: each tick, only the fields whose
// string-formatted value actually changed fire a trigger lookup, and the
// very first tick fires Create-kind triggers while every later tick
// fires Update-kind triggers. A field a sampler stops reporting (a CPU
// core or backlight device that disappeared) fires a Delete-kind
// trigger via Delete and is forgotten.
package common

import (
	"github.com/mathieuhardy/cerebro/internal/logger"
	"github.com/mathieuhardy/cerebro/internal/trigger"
)

// Tracker remembers the last string value reported for each field name
// and reports whether this is the module's first successful tick.
type Tracker struct {
	values     map[string]string
	firstTick  bool
	moduleName string
}

// NewTracker creates a tracker for the given module name. The first call
// to Set for each field is always treated as a change (there is no prior
// value to compare against).
func NewTracker(moduleName string) *Tracker {
	return &Tracker{
		values:     map[string]string{},
		firstTick:  true,
		moduleName: moduleName,
	}
}

// Kind returns Create on the module's first tick, Update thereafter.
func (tr *Tracker) Kind() trigger.Kind {
	if tr.firstTick {
		return trigger.Create
	}

	return trigger.Update
}

// Set records newValue for field, firing matching triggers and logging
// at debug level when it differs from the previously recorded value (or
// when no value has been recorded yet).
func (tr *Tracker) Set(triggers *trigger.Set, field, newValue string) {
	old, known := tr.values[field]

	if known && old == newValue {
		return
	}

	tr.values[field] = newValue

	logger.Debugf("%s: %s=%s", tr.moduleName, field, newValue)

	if triggers != nil {
		triggers.FindAllAndExecute(tr.Kind(), tr.moduleName, field, old, newValue)
	}
}

// Delete fires a Delete-kind trigger for field, using its last recorded
// value as the "old" side and forgets it. A no-op if field was never
// recorded, so callers can call it speculatively for entries that may
// or may not have existed. Used when a dynamically discovered entry (a
// CPU core, a sensor, a backlight device) disappears between ticks.
func (tr *Tracker) Delete(triggers *trigger.Set, field string) {
	old, known := tr.values[field]
	if !known {
		return
	}

	delete(tr.values, field)

	logger.Debugf("%s: %s removed", tr.moduleName, field)

	if triggers != nil {
		triggers.FindAllAndExecute(trigger.Delete, tr.moduleName, field, old, "")
	}
}

// Get returns the last recorded value for field, or the placeholder "?"
// if none has been recorded.
func (tr *Tracker) Get(field string) string {
	v, ok := tr.values[field]
	if !ok {
		return Unknown
	}

	return v
}

// Done marks the first tick as complete; subsequent Set calls fire
// Update-kind triggers instead of Create-kind ones.
func (tr *Tracker) Done() {
	tr.firstTick = false
}

// Unknown is the placeholder value returned on any read failure.
const Unknown = "?"
