package model

// RolloverResult counts what one month-end rollover pass changed.
type RolloverResult struct {
	Closed        int `json:"closed"`
	Opened        int `json:"opened"`
	InterestLines int `json:"interest_lines"`
	Skipped       int `json:"skipped"`
	Failed        int `json:"failed"`
}

// FinalizeResult counts what one due-window finalization pass changed.
type FinalizeResult struct {
	ClosedNoPenalty   int `json:"closed_no_penalty"`
	ClosedWithPenalty int `json:"closed_with_penalty"`
	PenaltyLines      int `json:"penalty_lines"`
	Skipped           int `json:"skipped"`
	Failed            int `json:"failed"`
}

// PenaltyRunResult counts what one daily penalty pass posted.
type PenaltyRunResult struct {
	Checked      int `json:"checked"`
	PenaltyLines int `json:"penalty_lines"`
	Skipped      int `json:"skipped"`
	Failed       int `json:"failed"`
}

// Items returns the processed-item counters keyed by outcome.
func (r RolloverResult) Items() map[string]int {
	return map[string]int{"closed": r.Closed, "opened": r.Opened, "interest": r.InterestLines, "skipped": r.Skipped, "failed": r.Failed}
}

func (r FinalizeResult) Items() map[string]int {
	return map[string]int{
		"closed_no_penalty":   r.ClosedNoPenalty,
		"closed_with_penalty": r.ClosedWithPenalty,
		"penalty":             r.PenaltyLines,
		"skipped":             r.Skipped,
		"failed":              r.Failed,
	}
}

func (r PenaltyRunResult) Items() map[string]int {
	return map[string]int{"checked": r.Checked, "penalty": r.PenaltyLines, "skipped": r.Skipped, "failed": r.Failed}
}

// ReverseLineRequest asks for a compensating entry against an existing line.
type ReverseLineRequest struct {
	Description string `json:"description"`
}
