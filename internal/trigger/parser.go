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
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mathieuhardy/cerebro/internal/logger"
)

// lineRegex matches one grammar line:
// <KIND> <PATH_REGEX> <OP> <VALUE> <COMMAND...>
var lineRegex = regexp.MustCompile(`^(C|D|U)\s+(\S+)\s+(\*|<|>|==|!=)\s+(\S+)\s+(.+)$`)

// Load reads every file matching *.triggers in dir and concatenates
// their parsed rules into one Set. Unparseable lines are skipped with a
// debug log rather than failing the load; trigger parsing is non-fatal
// per the error taxonomy.
func Load(dir string) (*Set, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.triggers"))
	if err != nil {
		return nil, err
	}

	set := &Set{}

	for _, path := range paths {
		triggers, err := loadFile(path)
		if err != nil {
			logger.Warnf("trigger: cannot read %q: %v", path, err)
			continue
		}

		set.Triggers = append(set.Triggers, triggers...)
	}

	return set, nil
}

func loadFile(path string) ([]*Trigger, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var triggers []*Trigger

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		t, ok := parseLine(line)
		if !ok {
			logger.Debugf("trigger: skipping unparseable line in %q: %q", path, line)
			continue
		}

		triggers = append(triggers, t)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return triggers, nil
}

func parseLine(line string) (*Trigger, bool) {
	m := lineRegex.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}

	kind, ok := parseKind(m[1])
	if !ok {
		return nil, false
	}

	pathRegex, err := regexp.Compile(m[2])
	if err != nil {
		return nil, false
	}

	op, ok := parseOperator(m[3])
	if !ok {
		return nil, false
	}

	return &Trigger{
		Kind:      kind,
		PathRegex: pathRegex,
		Operator:  op,
		Value:     m[4],
		Command:   m[5],
	}, true
}
