package classify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Record is a parsed log line: either Structured (a JSON object) or Plain.
type Record struct {
	raw    string
	fields map[string]any
	pretty string
}

// Parse never fails; anything that is not a JSON object is a Plain record.
func Parse(line string) Record {
	rec := Record{raw: line}
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return rec
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil || fields == nil || dec.More() {
		return rec
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(trimmed), "", "  "); err != nil {
		return rec
	}
	rec.fields = fields
	rec.pretty = string(unescapeStrings(buf.Bytes()))
	return rec
}

// unescapeStrings rewrites string literals holding \u escapes so non-ASCII
// text reads as itself. Only the literals change; keys keep their order.
func unescapeStrings(src []byte) []byte {
	if !bytes.Contains(src, []byte(`\u`)) {
		return src
	}
	out := make([]byte, 0, len(src))
	for i := 0; i < len(src); {
		if src[i] != '"' {
			out = append(out, src[i])
			i++
			continue
		}
		end := i + 1
		for end < len(src) && src[end] != '"' {
			if src[end] == '\\' {
				end++
			}
			end++
		}
		end++
		if end > len(src) {
			return append(out, src[i:]...)
		}
		out = append(out, reencode(src[i:end])...)
		i = end
	}
	return out
}

func reencode(lit []byte) []byte {
	if !bytes.Contains(lit, []byte(`\u`)) {
		return lit
	}
	var s string
	if err := json.Unmarshal(lit, &s); err != nil {
		return lit
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return lit
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

func (r Record) Structured() bool { return r.fields != nil }

// Time returns the record's "time" field read as Unix milliseconds, or
// fallback when it is absent or not a number.
func (r Record) Time(fallback time.Time) time.Time {
	n, ok := r.fields["time"].(json.Number)
	if !ok {
		return fallback
	}
	if ms, err := n.Int64(); err == nil {
		return time.UnixMilli(ms)
	}
	f, err := n.Float64()
	if err != nil {
		return fallback
	}
	return time.UnixMilli(int64(f))
}

// Level returns the upper-cased "level" field, INFO when absent.
func (r Record) Level() string {
	v, ok := r.fields["level"]
	if !ok || v == nil {
		return "INFO"
	}
	if s, ok := v.(string); ok {
		return strings.ToUpper(s)
	}
	return strings.ToUpper(fmt.Sprint(v))
}

const timeLayout = "2006-01-02 15:04:05"

// Formatter renders records into chat messages. Now and Location may be nil.
type Formatter struct {
	Now      func() time.Time
	Location *time.Location
}

func (f Formatter) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

func (f Formatter) stamp(t time.Time) string {
	if f.Location != nil {
		t = t.In(f.Location)
	}
	return t.Format(timeLayout)
}

// Format renders a line from container into its notification text. It is
// total: every input yields a non-empty message.
func (f Formatter) Format(line, container string) string {
	return f.FormatRecord(Parse(line), container)
}

func (f Formatter) FormatRecord(rec Record, container string) string {
	var b strings.Builder
	if rec.Structured() {
		fmt.Fprintf(&b, "📅 %s\n", f.stamp(rec.Time(f.now())))
		fmt.Fprintf(&b, "📌 Level: %s\n", rec.Level())
		fmt.Fprintf(&b, "📦 %s\n\n", container)
		b.WriteString(rec.pretty)
		return b.String()
	}
	fmt.Fprintf(&b, "📅 %s\n", f.stamp(f.now()))
	fmt.Fprintf(&b, "📦 %s\n\n", container)
	b.WriteString(rec.raw)
	return b.String()
}
