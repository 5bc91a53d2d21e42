package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestSummarize(t *testing.T) {
	blocks := []ContentBlock{
		{Type: "text", Text: "  checking invoice  "},
		{Type: "toolCall", Name: "lookup_invoice"},
		{Type: "text", Text: ""},
		{Type: "image"},
	}
	got := Summarize(blocks)
	want := "checking invoice [tool: lookup_invoice]"
	if got != want {
		t.Errorf("Summarize = %q, want %q", got, want)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	if got := Summarize(nil); got != "" {
		t.Errorf("Summarize(nil) = %q, want empty", got)
	}
}

func TestTruncate(t *testing.T) {
	short := "brief"
	if got := Truncate(short); got != short {
		t.Errorf("Truncate(%q) = %q", short, got)
	}

	long := strings.Repeat("x", SummaryBudget+50)
	got := Truncate(long)
	runes := []rune(got)
	if len(runes) != SummaryBudget+1 {
		t.Errorf("truncated length = %d runes, want %d", len(runes), SummaryBudget+1)
	}
	if runes[len(runes)-1] != '…' {
		t.Errorf("missing ellipsis: %q", string(runes[len(runes)-10:]))
	}
}

func TestTruncateMultibyte(t *testing.T) {
	// Rune budget, not byte budget.
	long := strings.Repeat("日", SummaryBudget+10)
	got := Truncate(long)
	if runes := []rune(got); len(runes) != SummaryBudget+1 {
		t.Errorf("truncated length = %d runes, want %d", len(runes), SummaryBudget+1)
	}
}

func TestFlexTimeFormats(t *testing.T) {
	ref := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	cases := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"rfc3339", `"2026-03-01T12:30:00Z"`, ref},
		{"unix seconds", "1772368200", ref},
		{"unix millis", "1772368200000", ref},
		{"null", "null", time.Time{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var ft FlexTime
			if err := json.Unmarshal([]byte(tc.raw), &ft); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if !ft.Time.Equal(tc.want) {
				t.Errorf("parsed = %v, want %v", ft.Time, tc.want)
			}
		})
	}
}

func TestFlexTimeInvalid(t *testing.T) {
	var ft FlexTime
	if err := json.Unmarshal([]byte(`"not a time"`), &ft); err == nil {
		t.Error("invalid string accepted")
	}
}

func TestFlexTimeOrNow(t *testing.T) {
	now := time.Now()
	var zero FlexTime
	if got := zero.OrNow(now); !got.Equal(now) {
		t.Errorf("zero OrNow = %v, want %v", got, now)
	}

	set := FlexTime{Time: now.Add(-time.Hour)}
	if got := set.OrNow(now); !got.Equal(now.Add(-time.Hour)) {
		t.Errorf("set OrNow = %v", got)
	}
}
