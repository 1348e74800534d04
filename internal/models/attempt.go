package models

import (
	"time"

	"gorm.io/datatypes"
)

type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptSubmitted  AttemptStatus = "submitted"
	AttemptTimedOut   AttemptStatus = "timed_out"
)

const (
	AttemptEndReasonManual  = "submitted"
	AttemptEndReasonTimeout = "time_out"
)

// IsTerminal reports whether the status admits no further transitions.
func (s AttemptStatus) IsTerminal() bool {
	return s == AttemptSubmitted || s == AttemptTimedOut
}

type AssessmentAttempt struct {
	ID            uint          `json:"id" gorm:"primaryKey"`
	AssessmentID  uint          `json:"assessment_id" gorm:"not null;index:idx_attempt_student_assessment"`
	StudentID     string        `json:"student_id" gorm:"not null;index:idx_attempt_student_assessment;size:255"`
	AttemptNumber int           `json:"attempt_number" gorm:"not null"`
	Status        AttemptStatus `json:"status" gorm:"default:in_progress;index"`

	// Timing. EndTime is the deadline fixed at creation from StartedAt plus
	// the assessment duration; it is never recomputed on resume.
	StartedAt   time.Time  `json:"started_at" gorm:"not null"`
	EndTime     time.Time  `json:"end_time" gorm:"not null;index"`
	SubmittedAt *time.Time `json:"submitted_at"`
	TimeSpent   int        `json:"time_spent"` // seconds

	// Progress
	CurrentQuestionIndex int `json:"current_question_index"`
	TotalQuestions       int `json:"total_questions"`

	// Scoring
	Score      float64 `json:"score"`
	MaxScore   int     `json:"max_score"`
	Percentage float64 `json:"percentage"`
	Passed     bool    `json:"passed"`
	IsGraded   bool    `json:"is_graded"`

	// Metadata
	EndReason   *string        `json:"end_reason" gorm:"type:text"`
	SessionData datatypes.JSON `json:"session_data,omitempty" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Assessment Assessment      `json:"assessment,omitempty" gorm:"foreignKey:AssessmentID"`
	Answers    []StudentAnswer `json:"answers,omitempty" gorm:"foreignKey:AttemptID"`
}

func (AssessmentAttempt) TableName() string {
	return "assessment_attempts"
}

// Deadline returns the fixed submission deadline of the attempt.
func (a *AssessmentAttempt) Deadline() time.Time {
	return a.EndTime
}

// IsExpired reports whether the deadline has passed at the given instant.
func (a *AssessmentAttempt) IsExpired(now time.Time) bool {
	return !now.Before(a.EndTime)
}

// StudentAnswer is the persisted answer of one question within an attempt.
// Exactly one of SelectedOptionID and TextResponse is populated; the setters
// below maintain that exclusivity.
type StudentAnswer struct {
	ID         uint `json:"id" gorm:"primaryKey"`
	AttemptID  uint `json:"attempt_id" gorm:"not null;index:idx_answer_attempt_question,unique"`
	QuestionID uint `json:"question_id" gorm:"not null;index:idx_answer_attempt_question,unique"`

	SelectedOptionID *uint   `json:"selected_option_id,omitempty"`
	TextResponse     *string `json:"text_response,omitempty" gorm:"type:text"`

	// SavedAt is set when the backend acknowledged persisting the answer.
	SavedAt   *time.Time `json:"saved_at"`
	TimeSpent int        `json:"time_spent"` // seconds

	// Grading
	Score     float64    `json:"score"`
	MaxScore  int        `json:"max_score"`
	IsCorrect *bool      `json:"is_correct,omitempty"` // nil until graded, and for essays
	IsGraded  bool       `json:"is_graded"`
	GradedAt  *time.Time `json:"graded_at"`

	// Prior values of this answer, newest last.
	History datatypes.JSON `json:"-" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (StudentAnswer) TableName() string {
	return "student_answers"
}

// SetSelectedOption records a choice answer, clearing any free-text form.
func (sa *StudentAnswer) SetSelectedOption(optionID uint) {
	sa.SelectedOptionID = &optionID
	sa.TextResponse = nil
}

// SetTextResponse records a free-text answer, clearing any selected option.
func (sa *StudentAnswer) SetTextResponse(text string) {
	sa.TextResponse = &text
	sa.SelectedOptionID = nil
}

// MarkSaved stamps the answer as acknowledged by the backend.
func (sa *StudentAnswer) MarkSaved(at time.Time) {
	sa.SavedAt = &at
}

// IsSaved reports whether the answer has been acknowledged since its last change.
func (sa *StudentAnswer) IsSaved() bool {
	return sa.SavedAt != nil
}

// IsAnswered reports whether either answer form is populated.
func (sa *StudentAnswer) IsAnswered() bool {
	return sa.SelectedOptionID != nil || sa.TextResponse != nil
}
