package models

// MessageStatus tracks a message through the moderation lifecycle.
// pending is the only non-terminal state.
type MessageStatus string

const (
	StatusPending  MessageStatus = "pending"
	StatusApproved MessageStatus = "approved"
	StatusFlagged  MessageStatus = "flagged"
)

// Terminal reports whether the status can no longer change.
func (s MessageStatus) Terminal() bool {
	return s == StatusApproved || s == StatusFlagged
}

type Message struct {
	ID         string        `json:"id"`
	Room       string        `json:"room"`
	AuthorID   string        `json:"author_id"`
	AuthorName string        `json:"author_name,omitempty"`
	Content    string        `json:"content"`
	Status     MessageStatus `json:"status"`
	// Created timestamp (ns)
	CreatedTS int64 `json:"created_ts"`
	// Moderation holds the result that drove the terminal transition;
	// nil while the message is pending.
	Moderation *ModerationResult `json:"moderation,omitempty"`
}

// ResultSource records which analysis tier produced a result.
type ResultSource string

const (
	SourcePrimary   ResultSource = "primary"
	SourceFallback  ResultSource = "fallback"
	SourceHeuristic ResultSource = "heuristic"
)

// ModerationResult is produced once per message by the analysis client
// and is immutable once attached to a Message.
type ModerationResult struct {
	IsToxic    bool     `json:"is_toxic"`
	Confidence float64  `json:"confidence"`
	Categories []string `json:"categories"`
	Message    string   `json:"message"`
	// Source and Degraded tag which tier produced the result so the UI
	// can distinguish a heuristic verdict from a model-backed one.
	Source   ResultSource `json:"source,omitempty"`
	Degraded bool         `json:"degraded,omitempty"`
}
