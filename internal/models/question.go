package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ===== ENUMS =====

type QuestionType string

const (
	QuestionMCQ      QuestionType = "mcq"      // single selection, graded by membership in the correct set
	QuestionCheckbox QuestionType = "checkbox" // multi selection, graded by set equality
	QuestionText     QuestionType = "text"     // free text, never auto-graded
)

func (t QuestionType) IsValid() bool {
	switch t {
	case QuestionMCQ, QuestionCheckbox, QuestionText:
		return true
	}
	return false
}

type QuestionDifficulty string

const (
	DifficultyEasy   QuestionDifficulty = "easy"
	DifficultyMedium QuestionDifficulty = "medium"
	DifficultyHard   QuestionDifficulty = "hard"
)

// ===== MAIN MODEL =====

type Question struct {
	ID     uint `json:"id" gorm:"primaryKey"`
	ExamID uint `json:"exam_id" gorm:"not null;index"`

	Text string       `json:"text" gorm:"type:text;not null" validate:"required,min=3"`
	Type QuestionType `json:"type" gorm:"size:20;not null;default:'mcq'" validate:"question_type"`

	// Options and CorrectAnswers are JSON arrays of strings. Text questions
	// carry neither.
	Options        datatypes.JSON `json:"options" gorm:"type:jsonb"`
	CorrectAnswers datatypes.JSON `json:"correct_answers,omitempty" gorm:"type:jsonb"`

	Marks       int                `json:"marks" gorm:"not null;default:1" validate:"marks_range"`
	Explanation string             `json:"explanation,omitempty" gorm:"type:text"`
	Difficulty  QuestionDifficulty `json:"difficulty" gorm:"size:10;default:'medium'"`
	Order       int                `json:"order" gorm:"column:display_order;not null;default:0"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

func (Question) TableName() string {
	return "questions"
}

// Sanitized returns a copy safe to hand to an exam taker: the correct answer
// set and the explanation are stripped.
func (q Question) Sanitized() Question {
	q.CorrectAnswers = nil
	q.Explanation = ""
	return q
}
