package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input   string
		want    Level
		wantErr bool
	}{
		{"trace", LevelTrace, false},
		{"DEBUG", LevelDebug, false},
		{"Info", LevelInfo, false},
		{"warn", LevelWarning, false},
		{"WARNING", LevelWarning, false},
		{"error", LevelError, false},
		{"fatal", LevelFatal, false},
		{"loud", LevelInfo, true},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseLevel(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

// TestWarnCountsWhenSampledOut verifies counters ignore sampling
func TestWarnCountsWhenSampledOut(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "json")
	SetSampleRate(1 << 30)
	t.Cleanup(func() { SetSampleRate(1) })

	before := TotalWarnings.Load()
	for i := 0; i < 10; i++ {
		Sampled{}.Warn("condition failed", "rule", "r1")
	}

	assert.Equal(t, before+10, TotalWarnings.Load())
}

// TestJSONOutput verifies structured fields reach the handler
func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "json")
	SetLevel(LevelDebug)
	t.Cleanup(func() { SetLevel(LevelInfo) })

	Sampled{}.Debug("rule fired", "rule", "locked_door")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "rule fired", entry["msg"])
	assert.Equal(t, "locked_door", entry["rule"])
	assert.Equal(t, "DEBUG", entry["level"])
}

// TestLevelFiltersOutput verifies messages below the level are dropped
func TestLevelFiltersOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "text")
	SetLevel(LevelWarning)
	t.Cleanup(func() { SetLevel(LevelInfo) })

	Info("hidden")
	assert.Empty(t, buf.String())
	assert.Equal(t, LevelWarning, GetLevel())
}
