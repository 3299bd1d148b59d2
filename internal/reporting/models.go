package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics over a time range.

type CallsSummaryRequest struct {
	Range TimeRange `json:"range"`
}

type CallsSummary struct {
	Range TimeRange `json:"range"`

	TotalCalls   int `json:"total_calls"`
	OngoingCalls int `json:"ongoing_calls"`
	EndedCalls   int `json:"ended_calls"`
	FlaggedCalls int `json:"flagged_calls"`

	TotalMessages int `json:"total_messages"`

	// UniqueSpeakers counts distinct users who sent at least one relayed
	// message inside the range.
	UniqueSpeakers int `json:"unique_speakers"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`
}

// ActivityRequest captures per-guild call activity, used by moderators to
// spot servers dominating the matching pool.

type ActivityRequest struct {
	Range TimeRange `json:"range"`
	Top   int       `json:"top,omitempty"`
}

type GuildActivity struct {
	GuildID  string `json:"guild_id"`
	Calls    int    `json:"calls"`
	Messages int    `json:"messages"`
}

type ActivityReport struct {
	Range  TimeRange       `json:"range"`
	Guilds []GuildActivity `json:"guilds"`
}
