package model

import (
	"strings"
	"time"
)

// InterventionKind classifies a user message arriving while a turn is active.
type InterventionKind string

const (
	InterventionCancel   InterventionKind = "cancel"
	InterventionGuide    InterventionKind = "guide"
	InterventionRedirect InterventionKind = "redirect"
)

// Intervention is a single queued, user-originated mid-turn message.
type Intervention struct {
	ID         string           `json:"id"`
	SessionID  string           `json:"session_id"`
	TurnID     int64            `json:"turn_id"`
	Kind       InterventionKind `json:"kind"`
	Text       string           `json:"text"`
	ReceivedAt time.Time        `json:"received_at"`
	Consumed   bool             `json:"consumed"`
}

// GuidanceAdjustment is a structured form a `guide` intervention is parsed
// into for attaching to the next stage's input (§4.1).
type GuidanceAdjustment struct {
	Kind string `json:"kind"` // skip_vendor | focus_query | add_vendor | guidance
	Text string `json:"text"`
}

// cancelPhrases are matched case-insensitively, whole-phrase, against incoming text.
var cancelPhrases = []string{"cancel", "stop", "nevermind", "never mind", "abort", "forget it"}

// ClassifyIntervention classifies raw injected text per §4.5.
func ClassifyIntervention(text string) InterventionKind {
	normalized := strings.ToLower(strings.TrimSpace(text))
	for _, phrase := range cancelPhrases {
		if normalized == phrase {
			return InterventionCancel
		}
	}
	if isGuideForm(normalized) {
		return InterventionGuide
	}
	return InterventionRedirect
}

func isGuideForm(normalized string) bool {
	for _, prefix := range []string{"skip ", "focus on ", "also check "} {
		if strings.HasPrefix(normalized, prefix) {
			return true
		}
	}
	return false
}
