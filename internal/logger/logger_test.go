// Copyright 2023 Google Inc. All Rights Reserved.
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

package logger

import (
	"bytes"
	"log/slog"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

const (
	textTraceString = "^time=\"[0-9/:. ]{26}\" severity=TRACE message=\"www.traceExample.com\""
	textErrorString = "^time=\"[0-9/:. ]{26}\" severity=ERROR message=\"www.errorExample.com\""

	jsonTraceString = "^{\"timestamp\":{\"seconds\":\\d{10},\"nanos\":\\d{0,9}},\"severity\":\"TRACE\",\"message\":\"www.traceExample.com\"}"
	jsonErrorString = "^{\"timestamp\":{\"seconds\":\\d{10},\"nanos\":\\d{0,9}},\"severity\":\"ERROR\",\"message\":\"www.errorExample.com\"}"
)

type LoggerTest struct {
	suite.Suite
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerTest))
}

func redirectLogsToGivenBuffer(buf *bytes.Buffer, level string) {
	var programLevel = new(slog.LevelVar)
	setLoggingLevel(level, programLevel)
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(buf, programLevel, ""))
}

func (t *LoggerTest) TestTextFormatTraceVisibleAtTraceLevel() {
	defaultLoggerFactory.format = "text"

	var buf bytes.Buffer
	redirectLogsToGivenBuffer(&buf, Trace)
	Tracef("www.traceExample.com")

	assert.Regexp(t.T(), regexp.MustCompile(textTraceString), buf.String())
}

func (t *LoggerTest) TestTextFormatTraceHiddenAtInfoLevel() {
	defaultLoggerFactory.format = "text"

	var buf bytes.Buffer
	redirectLogsToGivenBuffer(&buf, Info)
	Tracef("www.traceExample.com")

	assert.Equal(t.T(), "", buf.String())
}

func (t *LoggerTest) TestTextFormatErrorAlwaysVisible() {
	defaultLoggerFactory.format = "text"

	var buf bytes.Buffer
	redirectLogsToGivenBuffer(&buf, Error)
	Errorf("www.errorExample.com")

	assert.Regexp(t.T(), regexp.MustCompile(textErrorString), buf.String())
}

func (t *LoggerTest) TestJSONFormatTrace() {
	defaultLoggerFactory.format = "json"

	var buf bytes.Buffer
	redirectLogsToGivenBuffer(&buf, Trace)
	Tracef("www.traceExample.com")

	assert.Regexp(t.T(), regexp.MustCompile(jsonTraceString), buf.String())
}

func (t *LoggerTest) TestJSONFormatError() {
	defaultLoggerFactory.format = "json"

	var buf bytes.Buffer
	redirectLogsToGivenBuffer(&buf, Error)
	Errorf("www.errorExample.com")

	assert.Regexp(t.T(), regexp.MustCompile(jsonErrorString), buf.String())
}

func (t *LoggerTest) TestOffLevelSuppressesEverything() {
	defaultLoggerFactory.format = "json"

	var buf bytes.Buffer
	redirectLogsToGivenBuffer(&buf, Off)
	Errorf("www.errorExample.com")

	assert.Equal(t.T(), "", buf.String())
}

func (t *LoggerTest) TestSetLoggingLevel() {
	testData := []struct {
		inputLevel    string
		expectedLevel slog.Level
	}{
		{Trace, LevelTrace},
		{Debug, LevelDebug},
		{Info, LevelInfo},
		{Warning, LevelWarn},
		{Error, LevelError},
		{Off, LevelOff},
	}

	for _, test := range testData {
		v := new(slog.LevelVar)
		setLoggingLevel(test.inputLevel, v)
		assert.Equal(t.T(), test.expectedLevel, v.Level())
	}
}
