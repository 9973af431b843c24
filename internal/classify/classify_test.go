package classify

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassifyKeywordsIgnoreCase(t *testing.T) {
	r := NewRules([]string{"ERROR", "WARNING"}, nil)
	cases := []struct {
		line string
		want MatchKind
		rule string
	}{
		{"ERROR disk full", KeywordMatch, "ERROR"},
		{"an error occurred", KeywordMatch, "ERROR"},
		{"Warning: low memory", KeywordMatch, "WARNING"},
		{"all good", NoMatch, ""},
		{"", NoMatch, ""},
	}
	for _, tc := range cases {
		got := r.Classify(tc.line)
		require.Equal(t, tc.want, got.Kind, tc.line)
		require.Equal(t, tc.rule, got.Rule, tc.line)
	}
}

func TestClassifySuccessPatternsAreCaseSensitive(t *testing.T) {
	r := NewRules(nil, []string{"Deploy finished"})
	require.True(t, r.Classify("2024 Deploy finished in 3s").Notify())
	require.False(t, r.Classify("deploy finished in 3s").Notify())
	require.Equal(t, SuccessMatch, r.Classify("Deploy finished").Kind)
}

func TestClassifyKeywordWinsOverPattern(t *testing.T) {
	r := NewRules([]string{"fail"}, []string{"FAIL"})
	got := r.Classify("FAIL")
	require.Equal(t, KeywordMatch, got.Kind)
	require.Equal(t, "fail", got.Rule)
}

func TestClassifyNonASCII(t *testing.T) {
	r := NewRules([]string{"ОШИБКА"}, nil)
	require.True(t, r.Classify("произошла ошибка записи").Notify())
}

func TestNewRulesDropsBlanks(t *testing.T) {
	r := NewRules([]string{""}, []string{""})
	require.True(t, r.Empty())
	require.False(t, r.Classify("anything").Notify())
}

func TestFormatStructuredUnescapesNonASCII(t *testing.T) {
	f := Formatter{Now: func() time.Time { return time.Unix(0, 0) }, Location: time.UTC}
	msg := f.Format(`{"level":"warn","msg":"caf\u00e9","who":"\u0418\u0432\u0430\u043d","path":"C:\\tmp","q":"say \"hi\""}`, "web-1")
	require.Contains(t, msg, `"msg": "café"`)
	require.Contains(t, msg, `"who": "Иван"`)
	require.Contains(t, msg, `"path": "C:\\tmp"`)
	require.Contains(t, msg, `"q": "say \"hi\""`)
	require.Less(t, strings.Index(msg, `"level"`), strings.Index(msg, `"msg"`))
	require.Less(t, strings.Index(msg, `"msg"`), strings.Index(msg, `"who"`))
}

func TestMatchKindString(t *testing.T) {
	require.Equal(t, "keyword", KeywordMatch.String())
	require.Equal(t, "success", SuccessMatch.String())
	require.Equal(t, "none", NoMatch.String())
}

func fixedFormatter() Formatter {
	now := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
	return Formatter{Now: func() time.Time { return now }, Location: time.UTC}
}

func TestFormatStructured(t *testing.T) {
	f := fixedFormatter()
	msg := f.Format(`{"time":1700000000000,"level":"error","msg":"x"}`, "web-1")
	require.Contains(t, msg, "ERROR")
	require.Contains(t, msg, "web-1")
	require.Contains(t, msg, "2023-11-14 22:13:20")
	require.Contains(t, msg, `"msg": "x"`)
}

func TestFormatStructuredWarn(t *testing.T) {
	f := fixedFormatter()
	msg := f.Format(`{"time":1700000000000,"level":"warn","msg":"retry"}`, "api")
	require.Contains(t, msg, "📌 Level: WARN\n")
	require.Contains(t, msg, "\"msg\": \"retry\"")
	require.True(t, strings.HasPrefix(msg, "📅 2023-11-14 22:13:20\n"), msg)
}

func TestFormatStructuredDefaults(t *testing.T) {
	f := fixedFormatter()
	msg := f.Format(`{"msg":"ünïcode ✓","n":[1,2]}`, "svc")
	require.Contains(t, msg, "📅 2024-03-01 08:30:00")
	require.Contains(t, msg, "Level: INFO")
	require.Contains(t, msg, `"msg": "ünïcode ✓"`)
	require.Less(t, strings.Index(msg, `"msg"`), strings.Index(msg, `"n"`), "field order kept")
}

func TestFormatPlainFallback(t *testing.T) {
	f := fixedFormatter()
	for _, line := range []string{"ERROR disk full", "{not json", `{"a":1} tail`, "[1,2]", "", "žluťoučký kůň"} {
		msg := f.Format(line, "web-1")
		require.NotEmpty(t, msg)
		require.Equal(t, "📅 2024-03-01 08:30:00\n📦 web-1\n\n"+line, msg)
	}
}

func TestRecordAccessors(t *testing.T) {
	fallback := time.Unix(42, 0)
	rec := Parse(`{"time":"yesterday","level":3}`)
	require.True(t, rec.Structured())
	require.Equal(t, fallback, rec.Time(fallback))
	require.Equal(t, "3", rec.Level())

	rec = Parse(`{"time":1700000000000.9}`)
	require.Equal(t, int64(1700000000000), rec.Time(fallback).UnixMilli())

	plain := Parse("text")
	require.False(t, plain.Structured())
	require.Equal(t, "INFO", plain.Level())
}
