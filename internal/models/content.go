package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// ContentBlock is one typed block of message content. Both gateway event
// payloads and transcript records carry these.
type ContentBlock struct {
	Type  string          `json:"type"` // "text" or "toolCall"
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"` // tool name for toolCall blocks
	Input json.RawMessage `json:"input,omitempty"`
}

// Usage is the token/price accounting object attached to model-turn
// messages. Cost is nil when the upstream did not price the call.
type Usage struct {
	InputTokens      int64      `json:"inputTokens"`
	OutputTokens     int64      `json:"outputTokens"`
	CacheReadTokens  int64      `json:"cacheReadTokens"`
	CacheWriteTokens int64      `json:"cacheWriteTokens"`
	Cost             *UsageCost `json:"cost,omitempty"`
}

// UsageCost carries the priced total for one model call.
type UsageCost struct {
	Total float64 `json:"total"`
}

// SummaryBudget is the character budget for derived activity summaries.
const SummaryBudget = 240

// Summarize derives display text from content blocks: text blocks are
// concatenated, toolCall blocks contribute a short invocation marker, and
// the result is truncated to SummaryBudget runes with an ellipsis.
func Summarize(blocks []ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if t := strings.TrimSpace(b.Text); t != "" {
				parts = append(parts, t)
			}
		case "toolCall":
			if b.Name != "" {
				parts = append(parts, "[tool: "+b.Name+"]")
			}
		}
	}
	return Truncate(strings.Join(parts, " "))
}

// Truncate caps s at SummaryBudget runes, appending an ellipsis marker.
func Truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= SummaryBudget {
		return s
	}
	return string(runes[:SummaryBudget]) + "…"
}

// FlexTime parses the inconsistent timestamp encodings seen in gateway
// payloads and transcripts: RFC3339 strings, unix seconds, or unix
// milliseconds. Absent timestamps unmarshal to the zero value.
type FlexTime struct {
	time.Time
}

func (t *FlexTime) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339, str)
		if err != nil {
			return err
		}
		t.Time = parsed
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	// Heuristic: values past the year 33658 in seconds are milliseconds.
	if n > 1e12 {
		t.Time = time.UnixMilli(int64(n)).UTC()
	} else {
		t.Time = time.Unix(int64(n), 0).UTC()
	}
	return nil
}

// OrNow returns the parsed time, or now when the payload had none.
func (t FlexTime) OrNow(now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t.Time
}
