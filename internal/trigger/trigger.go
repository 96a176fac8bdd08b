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

// Package trigger implements the change-trigger engine: rules loaded
// from *.triggers files, matched bidirectionally against value
// transitions, and executed as shell commands outside any lock.
package trigger

import (
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/mathieuhardy/cerebro/internal/logger"
)

// Kind tags the class of transition a rule matches.
type Kind int

const (
	Create Kind = iota
	Delete
	Update
)

func (k Kind) String() string {
	switch k {
	case Create:
		return "C"
	case Delete:
		return "D"
	case Update:
		return "U"
	default:
		return "?"
	}
}

func parseKind(s string) (Kind, bool) {
	switch s {
	case "C":
		return Create, true
	case "D":
		return Delete, true
	case "U":
		return Update, true
	default:
		return 0, false
	}
}

// Operator is the edge-trigger comparison applied to a value transition.
type Operator int

const (
	OpNone Operator = iota
	OpLessThan
	OpGreaterThan
	OpEqual
	OpNotEqual
)

func parseOperator(s string) (Operator, bool) {
	switch s {
	case "*":
		return OpNone, true
	case "<":
		return OpLessThan, true
	case ">":
		return OpGreaterThan, true
	case "==":
		return OpEqual, true
	case "!=":
		return OpNotEqual, true
	default:
		return 0, false
	}
}

// Trigger is a single parsed rule.
type Trigger struct {
	Kind      Kind
	PathRegex *regexp.Regexp
	Operator  Operator
	Value     string
	Command   string
}

// matchesPath tests bidirectional regex membership: the rule's own
// regex against the candidate path, or the candidate path compiled as a
// regex against the rule's source text, succeeding if either holds. This
// is deliberate: rule authors may specify either a prefix regex or a
// regex that is itself a superset of the literal path.
func (t *Trigger) matchesPath(path string) bool {
	if t.PathRegex.MatchString(path) {
		return true
	}

	candidateRegex, err := regexp.Compile(path)
	if err != nil {
		return false
	}

	return candidateRegex.MatchString(t.PathRegex.String())
}

// fires applies the edge-triggered operator semantics from the
// component design: LessThan/GreaterThan compare old and new numerically
// and only fire on the instant the threshold is crossed, never while the
// value remains past it; Equal/NotEqual compare the new value literally.
func (t *Trigger) fires(oldValue, newValue string) bool {
	switch t.Operator {
	case OpNone:
		return true

	case OpEqual:
		return newValue == t.Value

	case OpNotEqual:
		return newValue != t.Value

	case OpLessThan:
		o, n, thr, ok := numericTriple(oldValue, newValue, t.Value)
		if !ok {
			return false
		}

		return o >= thr && n < thr

	case OpGreaterThan:
		o, n, thr, ok := numericTriple(oldValue, newValue, t.Value)
		if !ok {
			return false
		}

		return o <= thr && n > thr

	default:
		return false
	}
}

func numericTriple(oldValue, newValue, literal string) (o, n, thr int64, ok bool) {
	var err error

	if o, err = strconv.ParseInt(oldValue, 10, 64); err != nil {
		return 0, 0, 0, false
	}

	if n, err = strconv.ParseInt(newValue, 10, 64); err != nil {
		return 0, 0, 0, false
	}

	if thr, err = strconv.ParseInt(literal, 10, 64); err != nil {
		return 0, 0, 0, false
	}

	return o, n, thr, true
}

// Execute runs the trigger's command string, best-effort: failures are
// logged and never propagate to the caller (a probe tick must never be
// blocked or aborted by a misbehaving command). The command string is
// split on ';'; each piece is tokenised with shell-style quoting and run
// synchronously. A non-zero exit stops the remaining pieces.
func (t *Trigger) Execute() {
	for _, piece := range strings.Split(t.Command, ";") {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}

		args, err := shellwords.Parse(piece)
		if err != nil || len(args) == 0 {
			logger.Errorf("trigger: cannot tokenise command %q: %v", piece, err)
			return
		}

		cmd := exec.Command(args[0], args[1:]...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			logger.Errorf("trigger: command %q failed: %v", piece, err)
			return
		}
	}
}

// Set is an immutable collection of triggers loaded once at startup.
type Set struct {
	Triggers []*Trigger
}

// FindAllAndExecute composes the canonical path /<module>/<field> and
// executes every rule whose kind matches and whose path test (§4.1)
// succeeds and whose operator fires for this old->new transition.
// Execution always happens outside any caller-held lock: this function
// itself never takes one.
func (s *Set) FindAllAndExecute(kind Kind, module, field, oldValue, newValue string) {
	path := fmt.Sprintf("/%s/%s", module, field)

	for _, t := range s.Triggers {
		if t.Kind != kind {
			continue
		}

		if !t.matchesPath(path) {
			continue
		}

		if !t.fires(oldValue, newValue) {
			continue
		}

		t.Execute()
	}
}
