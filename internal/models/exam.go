package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ===== ENUMS =====

type ExamStatus string

const (
	ExamDraft    ExamStatus = "draft"
	ExamActive   ExamStatus = "active"
	ExamArchived ExamStatus = "archived"
)

func (s ExamStatus) IsValid() bool {
	switch s {
	case ExamDraft, ExamActive, ExamArchived:
		return true
	}
	return false
}

// ===== MAIN MODEL =====

type Exam struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	Title       string `json:"title" gorm:"size:255;not null" validate:"required,min=3,max=255"`
	Description string `json:"description" gorm:"type:text"`

	// Exam configuration
	Duration     int    `json:"duration" gorm:"not null;default:30" validate:"required,min=1,max=480"` // minutes
	TotalMarks   int    `json:"total_marks" gorm:"not null;default:100" validate:"min=0"`
	PassingMarks int    `json:"passing_marks" gorm:"not null;default:40" validate:"passing_marks"` // percentage threshold
	MaxAttempts  int    `json:"max_attempts" gorm:"default:1" validate:"max_attempts"`
	Instructions string `json:"instructions" gorm:"type:text"`

	// Availability window
	Status    ExamStatus `json:"status" gorm:"size:20;default:'draft';index"`
	StartDate time.Time  `json:"start_date"`
	EndDate   time.Time  `json:"end_date"`

	// Access control: JSON array of user IDs. Empty array means open to everyone.
	AllowedUsers datatypes.JSON `json:"allowed_users" gorm:"type:jsonb"`

	CreatedBy string `json:"created_by" gorm:"size:100;not null;index"`

	// Metadata
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Questions []Question `json:"questions,omitempty" gorm:"foreignKey:ExamID"`
	Attempts  []Attempt  `json:"-" gorm:"foreignKey:ExamID"`
}

func (Exam) TableName() string {
	return "exams"
}

// IsOpenAt reports whether the exam window contains t.
func (e *Exam) IsOpenAt(t time.Time) bool {
	return !t.Before(e.StartDate) && !t.After(e.EndDate)
}
