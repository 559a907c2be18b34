package logger

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// stripANSI removes ANSI color codes from a string for testing
func stripANSI(str string) string {
	ansiRegex := regexp.MustCompile(`\x1b\[[0-9;]*m`)
	return ansiRegex.ReplaceAllString(str, "")
}

// TestMinimalEncoderNeverDiscardsFields ensures the minimal encoder never
// silently drops log fields. Unknown keys must still render as key=value.
func TestMinimalEncoderNeverDiscardsFields(t *testing.T) {
	encoder := newMinimalEncoder()

	entry := zapcore.Entry{
		Level:      zapcore.InfoLevel,
		Time:       time.Now(),
		LoggerName: "test",
		Message:    "Testing field preservation",
	}

	testFields := []struct {
		field    zapcore.Field
		mustFind string // What we must find in the output
	}{
		// Arbitrary field names that should never be dropped
		{zap.String("backend", "vlm-http-client"), "backend=vlm-http-client"},
		{zap.String("parse_method", "auto"), "parse_method=auto"},
		{zap.Bool("enabled", true), "enabled=true"},
		{zap.Bool("success", false), "success=false"},
		{zap.Float64("opacity", 0.8), "opacity=0.8"},
		{zap.Strings("backends", []string{"pipeline", "vlm"}), "backends"},

		{zap.String("random_field_xyz", "important_data"), "random_field_xyz=important_data"},
		{zap.Int("critical_count", 999), "critical_count=999"},
		{zap.String("user_action", "cancel_job"), "user_action=cancel_job"},

		// Fields with underscores and dots (edge cases)
		{zap.String("field_with_underscores", "test"), "field_with_underscores=test"},
		{zap.String("field.with.dots", "test2"), "field.with.dots=test2"},

		// Numeric widths
		{zap.Int32("int32_field", 42), "int32_field=42"},
		{zap.Int64("int64_field", 9999999), "int64_field=9999999"},

		// Error fields
		{zap.Error(nil), ""}, // nil error shouldn't crash
		{zap.String("error", "something went wrong"), "something went wrong"},
	}

	var allFields []zapcore.Field
	for _, tf := range testFields {
		allFields = append(allFields, tf.field)
	}

	buf, err := encoder.EncodeEntry(entry, allFields)
	if err != nil {
		t.Fatalf("Failed to encode entry: %v", err)
	}

	output := buf.String()
	cleanOutput := stripANSI(output)

	missingFields := []string{}
	for _, tf := range testFields {
		if tf.mustFind != "" && !strings.Contains(cleanOutput, tf.mustFind) {
			missingFields = append(missingFields, tf.mustFind)
			t.Errorf("Field was silently discarded from log output: %s", tf.mustFind)
		}
	}

	if len(missingFields) > 0 {
		t.Fatalf("Logger is silently discarding %d fields! Missing: %v\nClean output was: %s\nRaw output was: %s",
			len(missingFields), missingFields, cleanOutput, output)
	}
}

// TestMinimalEncoderSpecialKeys verifies the compact formatting for
// well-known dispatch field names.
func TestMinimalEncoderSpecialKeys(t *testing.T) {
	encoder := newMinimalEncoder()

	entry := zapcore.Entry{
		Level:      zapcore.InfoLevel,
		Time:       time.Now(),
		LoggerName: "dispatch.engine",
		Message:    "job completed",
	}

	fields := []zapcore.Field{
		zap.String(FieldJobID, "3f8a1c2e-9b4d-4e6f-8a7b-1c2d3e4f5a6b"),
		zap.String(FieldWorkerID, "77aa55bb-0c1d-2e3f-4a5b-6c7d8e9f0a1b"),
		zap.Int64(FieldDurationMS, 1532),
		zap.Int(FieldCount, 3),
		zap.Int("queued", 7),
		zap.String(FieldError, "boom"),
	}

	buf, err := encoder.EncodeEntry(entry, fields)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}

	clean := stripANSI(buf.String())

	// IDs are shortened to their first UUID segment, without a key= prefix
	if !strings.Contains(clean, "3f8a1c2e") {
		t.Errorf("job id missing from output: %s", clean)
	}
	if strings.Contains(clean, "3f8a1c2e-9b4d") {
		t.Errorf("job id was not shortened: %s", clean)
	}
	if !strings.Contains(clean, "77aa55bb") {
		t.Errorf("worker id missing from output: %s", clean)
	}

	// Durations get an ms suffix
	if !strings.Contains(clean, "1532ms") {
		t.Errorf("duration formatting missing: %s", clean)
	}

	// Counters keep their key
	if !strings.Contains(clean, "count=3") {
		t.Errorf("count field missing: %s", clean)
	}
	if !strings.Contains(clean, "queued=7") {
		t.Errorf("queued field missing: %s", clean)
	}

	// Errors render raw
	if !strings.Contains(clean, "boom") {
		t.Errorf("error field missing: %s", clean)
	}
}

// TestMinimalEncoderLevelDisplay verifies INFO lines stay quiet while
// WARN/ERROR lines carry a badge.
func TestMinimalEncoderLevelDisplay(t *testing.T) {
	encoder := newMinimalEncoder()

	tests := []struct {
		level    zapcore.Level
		wantTag  string
		wantBare bool
	}{
		{zapcore.InfoLevel, "", true},
		{zapcore.WarnLevel, "WARN", false},
		{zapcore.ErrorLevel, "ERROR", false},
	}

	for _, tt := range tests {
		entry := zapcore.Entry{
			Level:      tt.level,
			Time:       time.Now(),
			LoggerName: "server",
			Message:    "level display test",
		}

		buf, err := encoder.EncodeEntry(entry, nil)
		if err != nil {
			t.Fatalf("Failed to encode %v entry: %v", tt.level, err)
		}

		clean := stripANSI(buf.String())
		if tt.wantBare {
			if strings.Contains(clean, "INFO") {
				t.Errorf("info line should not carry a level badge: %s", clean)
			}
		} else if !strings.Contains(clean, tt.wantTag) {
			t.Errorf("expected %q badge in output: %s", tt.wantTag, clean)
		}
	}
}

func TestAbbreviateName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"server", "server"},
		{"dispatch.engine", "d.engine"},
		{"dispatch.pool", "d.pool"},
		{"config.watcher", "c.watcher"},
	}

	for _, tt := range tests {
		if got := abbreviateName(tt.name); got != tt.want {
			t.Errorf("abbreviateName(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestShortID(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"3f8a1c2e-9b4d-4e6f-8a7b-1c2d3e4f5a6b", "3f8a1c2e"},
		{"plain", "plain"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := shortID(tt.id); got != tt.want {
			t.Errorf("shortID(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

// TestUnknownFieldTypes tests that the encoder handles all possible field types
// without crashing or silently dropping them
func TestUnknownFieldTypes(t *testing.T) {
	encoder := newMinimalEncoder()

	entry := zapcore.Entry{
		Level:      zapcore.InfoLevel,
		Time:       time.Now(),
		LoggerName: "test",
		Message:    "Testing unknown field types",
	}

	fields := []zapcore.Field{
		zap.Duration("duration", 5*time.Second),
		zap.Time("timestamp", time.Now()),
		zap.Uint("uint", 100),
		zap.Uint8("uint8", 200),
		zap.Uint16("uint16", 30000),
		zap.Uint32("uint32", 4000000),
		zap.Uint64("uint64", 5000000000),
		zap.ByteString("bytes", []byte("hello world")),
	}

	buf, err := encoder.EncodeEntry(entry, fields)
	if err != nil {
		t.Fatalf("Failed to encode mixed types: %v", err)
	}

	output := buf.String()
	cleanOutput := stripANSI(output)

	// Verify that SOME representation of each field appears
	// We don't care about exact formatting, just that it's not silently dropped
	expectedSubstrings := []string{
		"duration=5s",
		"timestamp",
		"uint",
		"bytes",
	}

	for _, expected := range expectedSubstrings {
		if !strings.Contains(cleanOutput, expected) {
			t.Errorf("Field with key '%s' was completely dropped from output: %s", expected, cleanOutput)
		}
	}
}
