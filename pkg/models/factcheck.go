package models

// Verdict is the outcome of a fact-check.
type Verdict string

const (
	VerdictTrue       Verdict = "true"
	VerdictFalse      Verdict = "false"
	VerdictMixed      Verdict = "mixed"
	VerdictUnverified Verdict = "unverified"
)

// FactCheck is a verdict for one normalized claim. The registry holds
// at most one current FactCheck per normalized claim and room.
type FactCheck struct {
	ID    string `json:"id"`
	Room  string `json:"room,omitempty"`
	Claim string `json:"claim"`
	// Sources is ordered by relevance, most relevant first.
	Verdict     Verdict  `json:"verdict"`
	Sources     []string `json:"sources"`
	Confidence  float64  `json:"confidence"`
	Explanation string   `json:"explanation,omitempty"`
	// Created timestamp (ns), set by the registry at upsert time.
	CreatedTS int64 `json:"created_ts"`

	Source   ResultSource `json:"source,omitempty"`
	Degraded bool         `json:"degraded,omitempty"`
}
