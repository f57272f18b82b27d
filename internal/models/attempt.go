package models

import (
	"time"

	"gorm.io/datatypes"
)

type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptCompleted  AttemptStatus = "completed"
)

// Attempt is the record of one user taking one exam. While in progress it
// carries a draft progress snapshot; on finalization the snapshot is cleared
// and the graded answers plus the score are persisted.
type Attempt struct {
	ID     uint          `json:"id" gorm:"primaryKey"`
	ExamID uint          `json:"exam_id" gorm:"not null;index:idx_user_exam"`
	UserID string        `json:"user_id" gorm:"not null;size:255;index:idx_user_exam"`
	Status AttemptStatus `json:"status" gorm:"size:20;default:in_progress;index"`

	// Timing
	StartedAt   time.Time  `json:"started_at"`
	SubmittedAt *time.Time `json:"submitted_at"`
	TimeTaken   int        `json:"time_taken"` // seconds

	// Grading. Answers holds []AnswerRecord after finalization.
	Answers       datatypes.JSON `json:"answers" gorm:"type:jsonb"`
	MarksObtained float64        `json:"total_marks_obtained"`
	Percentage    float64        `json:"percentage"`
	Passed        bool           `json:"passed"`

	// Progress holds a ProgressSnapshot while in progress, NULL once finalized.
	Progress datatypes.JSON `json:"progress" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Exam Exam `json:"-" gorm:"foreignKey:ExamID"`
}

func (Attempt) TableName() string {
	return "attempts"
}

func (a *Attempt) IsFinalized() bool {
	return a.Status == AttemptCompleted
}

// AnswerRecord is one graded answer inside Attempt.Answers.
type AnswerRecord struct {
	QuestionID    uint     `json:"question_id"`
	Selected      []string `json:"selected"`
	IsCorrect     bool     `json:"is_correct"`
	MarksAwarded  float64  `json:"marks_awarded"`
	MarksPossible int      `json:"marks_possible"`
}

// ProgressSnapshot is the client-driven draft state of an in-progress attempt.
// Answer keys are question IDs in decimal string form, values the selected
// options (a single element for mcq, the raw text for text questions).
type ProgressSnapshot struct {
	CurrentQuestion int                 `json:"current_question"`
	Answers         map[string][]string `json:"answers"`
	MarkedQuestions []uint              `json:"marked_questions"`
	TimeRemaining   int                 `json:"time_remaining"` // seconds
}

// NewProgressSnapshot returns an empty snapshot with the clock set.
func NewProgressSnapshot(timeRemaining int) *ProgressSnapshot {
	return &ProgressSnapshot{
		Answers:         make(map[string][]string),
		MarkedQuestions: []uint{},
		TimeRemaining:   timeRemaining,
	}
}
