package models

import (
	"time"

	"gorm.io/gorm"
)

type AssessmentStatus string

const (
	StatusDraft    AssessmentStatus = "Draft"
	StatusActive   AssessmentStatus = "Active"
	StatusExpired  AssessmentStatus = "Expired"
	StatusArchived AssessmentStatus = "Archived"
)

type Assessment struct {
	ID           uint             `json:"id" gorm:"primaryKey"`
	Title        string           `json:"title" gorm:"not null;size:200;index" validate:"required,min=1,max=200"`
	Description  *string          `json:"description" gorm:"type:text" validate:"omitempty,max=1000"`
	Duration     int              `json:"duration" gorm:"not null" validate:"required,min=5,max=300"` // minutes
	Status       AssessmentStatus `json:"status" gorm:"default:Draft;index" validate:"omitempty,oneof=Draft Active Expired Archived"`
	PassingScore int              `json:"passing_score" gorm:"not null" validate:"required,min=0,max=100"`
	MaxAttempts  int              `json:"max_attempts" gorm:"default:1" validate:"min=1,max=10"`
	TimeWarning  int              `json:"time_warning" gorm:"default:300"` // Warning time in seconds
	DueDate      *time.Time       `json:"due_date"`

	// Metadata
	CreatedBy string         `json:"created_by" gorm:"not null;index;size:255"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	Questions []Question          `json:"questions" gorm:"foreignKey:AssessmentID"`
	Attempts  []AssessmentAttempt `json:"attempts,omitempty" gorm:"foreignKey:AssessmentID"`

	// Computed fields (not stored)
	QuestionsCount int `json:"questions_count" gorm:"-"`
	TotalPoints    int `json:"total_points" gorm:"-"`
}

func (Assessment) TableName() string {
	return "assessments"
}

// TimeLimit returns the assessment duration in seconds.
func (a *Assessment) TimeLimit() int {
	return a.Duration * 60
}

type QuestionType string

const (
	MultipleChoice QuestionType = "multiple_choice"
	TrueFalse      QuestionType = "true_false"
	ShortAnswer    QuestionType = "short_answer"
	Essay          QuestionType = "essay"
)

type Question struct {
	ID           uint         `json:"id" gorm:"primaryKey"`
	AssessmentID uint         `json:"assessment_id" gorm:"not null;index"`
	Text         string       `json:"text" gorm:"type:text;not null" validate:"required"`
	Type         QuestionType `json:"type" gorm:"not null;size:30" validate:"required,question_type"`
	Points       int          `json:"points" gorm:"default:1" validate:"min=1,max=100"`
	MediaURL     *string      `json:"media_url" gorm:"size:500" validate:"omitempty,url"`
	WordLimit    *int         `json:"word_limit" validate:"omitempty,min=1,max=5000"` // essay questions only
	// ExpectedAnswer is the accepted response for short answer questions,
	// grading-side only and never serialized to learners.
	ExpectedAnswer *string `json:"-" gorm:"size:500"`
	DisplayOrder   int     `json:"display_order" gorm:"not null;index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Options []QuestionOption `json:"options" gorm:"foreignKey:QuestionID"`
}

func (Question) TableName() string {
	return "questions"
}

// IsChoice reports whether answers to this question select an option
// rather than carry free text.
func (q *Question) IsChoice() bool {
	return q.Type == MultipleChoice || q.Type == TrueFalse
}

// HasOption reports whether the given option belongs to this question.
func (q *Question) HasOption(optionID uint) bool {
	for _, opt := range q.Options {
		if opt.ID == optionID {
			return true
		}
	}
	return false
}

type QuestionOption struct {
	ID         uint   `json:"id" gorm:"primaryKey"`
	QuestionID uint   `json:"question_id" gorm:"not null;index"`
	Text       string `json:"text" gorm:"type:text;not null" validate:"required"`
	// Correctness is grading-side only and must never reach the learner client.
	IsCorrect    bool `json:"-" gorm:"not null;default:false"`
	DisplayOrder int  `json:"display_order" gorm:"not null"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (QuestionOption) TableName() string {
	return "question_options"
}
