// Package ftmeta holds the wire-level intake metadata shared by the server
// and the chat client SDK: the ft_meta body of a chat turn and the profile
// fields the conversation extracts.
package ftmeta

// Signals instruct the client which special UI mode to enter.
const (
	SignalContinue         = "CONTINUE"
	SignalReadyToPay       = "READY_TO_PAY"
	SignalShowTrending     = "SHOW_TRENDING"
	SignalShowQuickPreview = "SHOW_QUICK_PREVIEW"
)

// Input hint types for NextQuestion.
const (
	QuestionText    = "text"
	QuestionSelect  = "select"
	QuestionConfirm = "confirm"
)

// NextQuestion describes how the client should render the next input.
type NextQuestion struct {
	Type    string   `json:"type"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options,omitempty"`
}

// Meta is the structured snapshot an assistant message carries on the wire
// (the ft_meta body field) and in the message row. Extracted is a cache of
// a subset of the session's collected_data at write time; the session row
// always wins when the two disagree.
type Meta struct {
	Extracted    CollectedData `json:"extracted"`
	Progress     int           `json:"progress"`
	NextQuestion *NextQuestion `json:"next_question,omitempty"`
	Signal       string        `json:"signal"`
}

// CollectedData is the incrementally-filled profile extracted from the
// conversation. Every field is optional until the exchange fills it in.
type CollectedData struct {
	City                string   `json:"city,omitempty"`
	Province            string   `json:"province,omitempty"`
	Skills              string   `json:"skills,omitempty"`
	BudgetRange         string   `json:"budget_range,omitempty"`
	TimeCommitment      string   `json:"time_commitment,omitempty"`
	IncomeGoal          string   `json:"income_goal,omitempty"`
	Constraints         string   `json:"constraints,omitempty"`
	PreferredIndustries []string `json:"preferred_industries,omitempty"`
	UserConfirmed       bool     `json:"user_confirmed,omitempty"`
}

// IsZero reports whether nothing has been collected yet.
func (cd CollectedData) IsZero() bool {
	return cd.City == "" && cd.Province == "" && cd.Skills == "" &&
		cd.BudgetRange == "" && cd.TimeCommitment == "" && cd.IncomeGoal == "" &&
		cd.Constraints == "" && len(cd.PreferredIndustries) == 0 && !cd.UserConfirmed
}

// Merge overlays newly extracted fields on top of the authoritative data.
// Empty incoming fields never erase fields the server already knows.
func (cd CollectedData) Merge(in CollectedData) CollectedData {
	out := cd
	if in.City != "" {
		out.City = in.City
	}
	if in.Province != "" {
		out.Province = in.Province
	}
	if in.Skills != "" {
		out.Skills = in.Skills
	}
	if in.BudgetRange != "" {
		out.BudgetRange = in.BudgetRange
	}
	if in.TimeCommitment != "" {
		out.TimeCommitment = in.TimeCommitment
	}
	if in.IncomeGoal != "" {
		out.IncomeGoal = in.IncomeGoal
	}
	if in.Constraints != "" {
		out.Constraints = in.Constraints
	}
	if len(in.PreferredIndustries) > 0 {
		out.PreferredIndustries = in.PreferredIndustries
	}
	if in.UserConfirmed {
		out.UserConfirmed = true
	}
	return out
}
