package models

import (
	"encoding/json"
	"time"
)

// AnswerRevision is one historical value of a StudentAnswer, kept in the
// answer's History column so overwrites are traceable.
type AnswerRevision struct {
	SelectedOptionID *uint     `json:"selected_option_id,omitempty"`
	TextResponse     *string   `json:"text_response,omitempty"`
	RecordedAt       time.Time `json:"recorded_at"`
}

// AppendRevision snapshots the answer's current value into its history.
// Unanswered answers produce no revision.
func (sa *StudentAnswer) AppendRevision(at time.Time) error {
	if !sa.IsAnswered() {
		return nil
	}

	var history []AnswerRevision
	if len(sa.History) > 0 {
		if err := json.Unmarshal(sa.History, &history); err != nil {
			return err
		}
	}

	history = append(history, AnswerRevision{
		SelectedOptionID: sa.SelectedOptionID,
		TextResponse:     sa.TextResponse,
		RecordedAt:       at,
	})

	raw, err := json.Marshal(history)
	if err != nil {
		return err
	}
	sa.History = raw
	return nil
}

// Revisions decodes the answer's history column.
func (sa *StudentAnswer) Revisions() ([]AnswerRevision, error) {
	if len(sa.History) == 0 {
		return nil, nil
	}
	var history []AnswerRevision
	if err := json.Unmarshal(sa.History, &history); err != nil {
		return nil, err
	}
	return history, nil
}
