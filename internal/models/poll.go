package models

import "time"

// Session is the single in-flight poll held by the session store.
type Session struct {
	ID          string         `json:"id"`
	Question    string         `json:"question"`
	Options     []string       `json:"options"`
	Responses   []Response     `json:"responses"`
	OptionStats map[string]int `json:"option_stats,omitempty"`
	Total       int            `json:"total_responses"`
	Submissions int            `json:"submissions"`
	CreatedAt   time.Time      `json:"created_at"`
	IsActive    bool           `json:"is_active"`
}

// Response is one participant's answer. Participant name is the identity key (case-sensitive).
type Response struct {
	StudentName string    `json:"student_name"`
	Answer      string    `json:"answer"`
	Timestamp   time.Time `json:"timestamp"`
}

// Stats is the tally of a poll: per-option counts plus the number of responses.
type Stats struct {
	OptionStats map[string]int `json:"option_stats"`
	Total       int            `json:"total_responses"`
}

// PollUpdate is broadcast after every accepted answer.
type PollUpdate struct {
	StudentName string         `json:"student_name"`
	Answer      string         `json:"answer"`
	Total       int            `json:"total_responses"`
	OptionStats map[string]int `json:"option_stats"`
	Submissions int            `json:"submissions"`
}

// PollResult is the final snapshot of an ended session. PollID is the archive id; empty when the archive write failed.
type PollResult struct {
	PollID      string         `json:"poll_id,omitempty"`
	Question    string         `json:"question"`
	Options     []string       `json:"options"`
	Responses   []Response     `json:"responses"`
	OptionStats map[string]int `json:"option_stats"`
	Total       int            `json:"total_responses"`
	Submissions int            `json:"submissions"`
	CreatedAt   time.Time      `json:"created_at"`
	EndedAt     time.Time      `json:"ended_at"`
}

// ArchivedPoll is an immutable record of a completed session.
type ArchivedPoll struct {
	ID        string     `json:"id"`
	Question  string     `json:"question"`
	Options   []string   `json:"options"`
	Responses []Response `json:"responses"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	IsActive  bool       `json:"is_active"`
}

// ArchivedPollWithStats is the read-side shape returned by the history API.
type ArchivedPollWithStats struct {
	ArchivedPoll
	OptionStats map[string]int `json:"option_stats"`
	Total       int            `json:"total_responses"`
}
