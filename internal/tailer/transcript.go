package tailer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/good-yellow-bee/agentwatch/internal/models"
)

// transcriptLine is one newline-delimited record in a session transcript.
// Only "message" records with a nested usage object are cost-bearing.
type transcriptLine struct {
	Type      string             `json:"type"`
	Timestamp models.FlexTime    `json:"timestamp"`
	Message   *transcriptMessage `json:"message"`
}

type transcriptMessage struct {
	Role     string                `json:"role"`
	Provider string                `json:"provider"`
	Model    string                `json:"model"`
	Content  []models.ContentBlock `json:"content"`
	Usage    *models.Usage         `json:"usage"`
}

func parseTranscriptLine(data []byte) (*transcriptLine, error) {
	var line transcriptLine
	if err := json.Unmarshal(data, &line); err != nil {
		return nil, err
	}
	if line.Type == "" {
		return nil, fmt.Errorf("record has no type")
	}
	return &line, nil
}

// costBearing reports whether the record is a model-turn message carrying
// usage accounting.
func (l *transcriptLine) costBearing() bool {
	return l.Type == "message" && l.Message != nil && l.Message.Usage != nil
}

// activities derives zero or more activity records from the message's
// content blocks: one per tool-call block, one per free-text block.
func (l *transcriptLine) activities(agent, sessionKey string, ts time.Time) []models.ActivityRecord {
	if l.Type != "message" || l.Message == nil {
		return nil
	}
	var out []models.ActivityRecord
	for _, block := range l.Message.Content {
		switch block.Type {
		case "text":
			if block.Text == "" {
				continue
			}
			out = append(out, models.ActivityRecord{
				Agent:      agent,
				Type:       models.ActivityMessageSent,
				Summary:    models.Truncate(block.Text),
				SessionKey: sessionKey,
				Timestamp:  ts,
			})
		case "toolCall":
			summary := "tool call"
			if block.Name != "" {
				summary = "invoked " + block.Name
			}
			out = append(out, models.ActivityRecord{
				Agent:      agent,
				Type:       models.ActivityToolCall,
				Summary:    models.Truncate(summary),
				SessionKey: sessionKey,
				Timestamp:  ts,
			})
		}
	}
	return out
}
