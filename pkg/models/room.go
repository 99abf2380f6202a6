package models

type Room struct {
	ID    string `json:"id"`
	Topic string `json:"topic"`
	// Participants is an observational counter maintained from realtime
	// join/leave, not part of any correctness invariant.
	Participants int `json:"participants"`
	// Created timestamp (ns)
	CreatedTS int64 `json:"created_ts"`
	// Closed marks a room as ended; ClosedTS records when (ns). Closed
	// rooms are archived by the sweeper after the configured period.
	Closed   bool  `json:"closed,omitempty"`
	ClosedTS int64 `json:"closed_ts,omitempty"`
}
