package hierarchy

import (
	"fmt"
	"strings"

	"github.com/megaagent/memcore/pkg/models"
)

// maxSummaryLen caps the one-line summary a reflected record carries.
const maxSummaryLen = 200

// Reflector turns an episodic event into zero or more memory records. The
// default is a cheap heuristic; an LLM-backed extractor can be substituted
// without changing the facade.
type Reflector interface {
	Reflect(event *models.AuditEvent) []*models.MemoryRecord
}

// milestone actions always tag the reflected record.
var milestoneActions = map[string]bool{
	"handle_command": true,
	"node_complete":  true,
}

// HeuristicReflector summarizes an event into a single semantic record
// without calling a model.
type HeuristicReflector struct{}

// Reflect produces one record summarizing the event.
func (HeuristicReflector) Reflect(event *models.AuditEvent) []*models.MemoryRecord {
	if event == nil || event.Source == "" || event.Action == "" {
		return nil
	}

	rec := &models.MemoryRecord{
		ID:         "reflect_" + event.EventID,
		UserID:     event.UserID,
		ThreadID:   event.ThreadID,
		Type:       models.MemorySemantic,
		Text:       summarize(event),
		Salience:   models.DefaultSalience,
		Confidence: models.DefaultConfidence,
		Source:     "reflection",
		Metadata:   map[string]any{"event_id": event.EventID},
		CreatedAt:  event.Timestamp,
		UpdatedAt:  event.Timestamp,
	}

	if milestoneActions[event.Action] || event.HasTag("milestone") {
		rec.AddTag("milestone")
	}
	if event.HasTag("preference") {
		rec.AddTag("preference")
	}
	return []*models.MemoryRecord{rec}
}

func summarize(event *models.AuditEvent) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", event.Source, event.Action)
	if event.UserID != "" {
		fmt.Fprintf(&sb, " u=%s", event.UserID)
	}
	if detail := payloadText(event.Payload); detail != "" {
		sb.WriteString(" ")
		sb.WriteString(detail)
	}
	return truncateRunes(sb.String(), maxSummaryLen)
}

func payloadText(payload map[string]any) string {
	for _, key := range []string{"summary", "text"} {
		if v, ok := payload[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
