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

package trigger

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLineAcceptsGrammar(t *testing.T) {
	tr, ok := parseLine(`U /battery/percent < 20 notify-send "Battery low"`)

	require.True(t, ok)
	assert.Equal(t, Update, tr.Kind)
	assert.Equal(t, OpLessThan, tr.Operator)
	assert.Equal(t, "20", tr.Value)
	assert.Equal(t, `notify-send "Battery low"`, tr.Command)
}

func TestParseLineRejectsGarbage(t *testing.T) {
	_, ok := parseLine("this is not a trigger line")
	assert.False(t, ok)
}

func TestLoadSkipsUnparseableLinesAndCollectsValid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.triggers")

	contents := "garbage line\n" +
		"U /battery/percent < 20 /bin/true\n" +
		"C /brightness/.* * * logger hello\n"

	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	set, err := Load(dir)

	require.NoError(t, err)
	assert.Len(t, set.Triggers, 2)
}

func TestBidirectionalPathMatch(t *testing.T) {
	rule := &Trigger{PathRegex: regexp.MustCompile("^/battery/.*$")}

	assert.True(t, rule.matchesPath("/battery/percent"))

	// The rule's regex does not match the candidate text, but the
	// candidate compiled as a regex matches the rule's source text
	// "/battery/percent$": this should also match, per the bidirectional
	// matching design.
	loose := &Trigger{PathRegex: regexp.MustCompile("/battery/percent$")}
	assert.True(t, loose.matchesPath("^/battery/perc.*$"))
}

func TestThresholdRuleFiresExactlyOnceOnCrossing(t *testing.T) {
	rule := &Trigger{
		Kind:      Update,
		PathRegex: regexp.MustCompile("^/battery/percent$"),
		Operator:  OpLessThan,
		Value:     "20",
	}

	transitions := []struct{ old, new string }{
		{"25", "22"},
		{"22", "18"},
		{"18", "15"},
		{"15", "22"},
	}

	fired := 0
	for _, tr := range transitions {
		if rule.fires(tr.old, tr.new) {
			fired++
		}
	}

	assert.Equal(t, 1, fired)
}

func TestEqualAndNotEqualOperators(t *testing.T) {
	eq := &Trigger{Operator: OpEqual, Value: "true"}
	assert.True(t, eq.fires("false", "true"))
	assert.False(t, eq.fires("false", "false"))

	neq := &Trigger{Operator: OpNotEqual, Value: "true"}
	assert.True(t, neq.fires("true", "false"))
	assert.False(t, neq.fires("true", "true"))
}
