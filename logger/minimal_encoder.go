package logger

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// Gruvbox Dark color palette (warm, muted, easy on eyes)
const (
	colorReset = "\x1b[0m"
	colorBold  = "\x1b[1m"

	colorFg     = "\x1b[38;5;223m" // Soft cream (#ebdbb2)
	colorAqua   = "\x1b[38;5;108m" // Muted cyan-green (#8ec07c)
	colorOrange = "\x1b[38;5;208m" // Warm orange (#fe8019)
	colorYellow = "\x1b[38;5;214m" // Soft yellow (#fabd2f)
	colorGreen  = "\x1b[38;5;142m" // Muted green (#b8bb26)
	colorBlue   = "\x1b[38;5;109m" // Soft blue (#83a598)
	colorPurple = "\x1b[38;5;175m" // Muted purple (#d3869b)
	colorRed    = "\x1b[38;5;167m" // Warm red (#fb4934)
	colorRedBg  = "\x1b[48;5;88m"  // Dark red background
	colorYelBg  = "\x1b[48;5;58m"  // Dark yellow background
)

// colorComponent picks a stable color per component name so related lines
// group visually.
func colorComponent(name string) string {
	hash := 0
	for _, c := range name {
		hash += int(c)
	}
	if hash%2 == 0 {
		return colorOrange
	}
	return colorYellow
}

// colorMessage picks a message color from its dominant topic.
func colorMessage(msg string) string {
	lower := strings.ToLower(msg)

	if strings.Contains(lower, "client") || strings.Contains(lower, "connected") ||
		strings.Contains(lower, "websocket") {
		return colorBlue
	}
	if strings.Contains(lower, "dispatch") || strings.Contains(lower, "completed") ||
		strings.Contains(lower, "worker") {
		return colorGreen
	}
	if strings.Contains(lower, "starting") || strings.Contains(lower, "started") ||
		strings.Contains(lower, "config") {
		return colorOrange
	}
	return colorFg
}

// minimalEncoder implements a calm, compact console encoder.
// Format: "13:04:35  dispatch  Job completed  3f2a91  412ms"
type minimalEncoder struct {
	zapcore.Encoder // Embed a base encoder for field serialization
	buf             *buffer.Buffer
}

func newMinimalEncoder() *minimalEncoder {
	// Create a base JSON encoder for field serialization (internal use only)
	baseEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())

	return &minimalEncoder{
		Encoder: baseEncoder,
		buf:     buffer.NewPool().Get(),
	}
}

func (enc *minimalEncoder) Clone() zapcore.Encoder {
	return &minimalEncoder{
		Encoder: enc.Encoder.Clone(),
		buf:     buffer.NewPool().Get(),
	}
}

func (enc *minimalEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	final := buffer.NewPool().Get()

	final.AppendString(colorAqua)
	final.AppendString(ent.Time.Format("15:04:05"))
	final.AppendString(colorReset)

	// Level: only show for WARN/ERROR with bold + background
	if ent.Level != zapcore.InfoLevel {
		final.AppendString("  ")
		final.AppendString(levelColorString(ent.Level))
	}

	// Component name (abbreviated) for visual grouping
	if ent.LoggerName != "" {
		final.AppendString("  ")
		final.AppendString(colorComponent(ent.LoggerName))
		final.AppendString(abbreviateName(ent.LoggerName))
		final.AppendString(colorReset)
	}

	final.AppendString("  ")
	final.AppendString(colorMessage(ent.Message))
	final.AppendString(ent.Message)
	final.AppendString(colorReset)

	if len(fields) > 0 {
		final.AppendString("  ")
		final.AppendString(formatFields(fields))
	}

	final.AppendString("\n")
	return final, nil
}

// levelColorString returns bold + colored + background for WARN/ERROR
func levelColorString(level zapcore.Level) string {
	switch level {
	case zapcore.WarnLevel:
		return colorBold + colorYelBg + colorYellow + "WARN" + colorReset
	case zapcore.ErrorLevel:
		return colorBold + colorRedBg + colorRed + "ERROR" + colorReset
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return colorBold + colorRedBg + colorRed + level.CapitalString() + colorReset
	default:
		return ""
	}
}

// abbreviateName shortens component names: server -> server, dispatch.pool -> d.pool
func abbreviateName(name string) string {
	parts := strings.Split(name, ".")
	if len(parts) > 1 {
		return string(parts[0][0]) + "." + strings.Join(parts[1:], ".")
	}
	return name
}

// getFieldValue extracts the value from a zap field, handling different field types
func getFieldValue(field zapcore.Field) string {
	if field.Type == zapcore.StringType {
		return field.String
	}

	if field.Type == zapcore.Int64Type || field.Type == zapcore.Int32Type ||
		field.Type == zapcore.Int16Type || field.Type == zapcore.Int8Type ||
		field.Type == zapcore.Uint64Type || field.Type == zapcore.Uint32Type ||
		field.Type == zapcore.Uint16Type || field.Type == zapcore.Uint8Type {
		return fmt.Sprintf("%d", field.Integer)
	}

	if field.Type == zapcore.BoolType {
		if field.Integer == 1 {
			return "true"
		}
		return "false"
	}

	if field.Type == zapcore.Float64Type {
		return strconv.FormatFloat(math.Float64frombits(uint64(field.Integer)), 'g', -1, 64)
	}

	if field.Type == zapcore.Float32Type {
		return strconv.FormatFloat(float64(math.Float32frombits(uint32(field.Integer))), 'g', -1, 32)
	}

	if field.Type == zapcore.DurationType {
		return time.Duration(field.Integer).String()
	}

	if field.Type == zapcore.TimeType {
		t := time.Unix(0, field.Integer)
		if loc, ok := field.Interface.(*time.Location); ok {
			t = t.In(loc)
		}
		return t.Format(time.RFC3339)
	}

	if field.Interface != nil {
		return fmt.Sprintf("%v", field.Interface)
	}

	return ""
}

// formatFields renders structured fields compactly. Well-known keys get
// dedicated colors (ids blue, durations purple, errors red); everything else
// is a dim key=value pair.
func formatFields(fields []zapcore.Field) string {
	var values []string

	for _, field := range fields {
		val := getFieldValue(field)
		if val == "" {
			continue
		}

		switch field.Key {
		case FieldJobID, FieldWorkerID, "client_id":
			values = append(values, colorBlue+shortID(val)+colorReset)
		case FieldDurationMS:
			values = append(values, colorPurple+val+colorReset+"ms")
		case FieldCount, "queued", "running", "position", "priority":
			values = append(values, colorFg+field.Key+"="+colorPurple+val+colorReset)
		case FieldError:
			values = append(values, colorRed+val+colorReset)
		default:
			values = append(values, colorFg+field.Key+"="+val+colorReset)
		}
	}

	if len(values) == 0 {
		return ""
	}

	return strings.Join(values, " ")
}

// shortID trims UUIDs to their first segment for calm console lines.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
