package services

import (
	"context"
	"time"

	"github.com/SAP-F-2025/exam-service/internal/models"
)

// ===== EXAM DTOs =====

type CreateExamRequest struct {
	Title        string     `json:"title" validate:"required,min=3,max=255"`
	Description  string     `json:"description" validate:"max=2000"`
	Duration     int        `json:"duration" validate:"required,exam_duration"`
	PassingMarks int        `json:"passing_marks" validate:"passing_marks"`
	MaxAttempts  int        `json:"max_attempts" validate:"max_attempts"`
	Instructions string     `json:"instructions" validate:"max=5000"`
	StartDate    *time.Time `json:"start_date"`
	EndDate      *time.Time `json:"end_date"`
	AllowedUsers []string   `json:"allowed_users"`

	Questions []CreateQuestionRequest `json:"questions" validate:"dive"`
}

type UpdateExamRequest struct {
	Title        *string            `json:"title" validate:"omitempty,min=3,max=255"`
	Description  *string            `json:"description" validate:"omitempty,max=2000"`
	Duration     *int               `json:"duration" validate:"omitempty,exam_duration"`
	PassingMarks *int               `json:"passing_marks" validate:"omitempty,passing_marks"`
	MaxAttempts  *int               `json:"max_attempts" validate:"omitempty,max_attempts"`
	Instructions *string            `json:"instructions" validate:"omitempty,max=5000"`
	StartDate    *time.Time         `json:"start_date"`
	EndDate      *time.Time         `json:"end_date"`
	AllowedUsers []string           `json:"allowed_users"`
	Status       *models.ExamStatus `json:"status"`
}

type CreateQuestionRequest struct {
	Text           string                    `json:"text" validate:"required,min=3"`
	Type           models.QuestionType       `json:"type" validate:"required,question_type"`
	Options        []string                  `json:"options"`
	CorrectAnswers []string                  `json:"correct_answers"`
	Marks          int                       `json:"marks" validate:"marks_range"`
	Explanation    string                    `json:"explanation" validate:"max=2000"`
	Difficulty     models.QuestionDifficulty `json:"difficulty"`
	Order          int                       `json:"order"`
}

type ExamResponse struct {
	*models.Exam
	QuestionCount int   `json:"question_count"`
	MarksTotal    int64 `json:"marks_total"`
}

type ExamListResponse struct {
	Exams  []*models.Exam `json:"exams"`
	Total  int64          `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// ExamTakingView is the sanitized exam handed to a taker: questions keep
// their options and marks but never the correct answers or explanations.
type ExamTakingView struct {
	ID           uint              `json:"id"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	Duration     int               `json:"duration"`
	TotalMarks   int               `json:"total_marks"`
	PassingMarks int               `json:"passing_marks"`
	Instructions string            `json:"instructions"`
	EndDate      time.Time         `json:"end_date"`
	Questions    []models.Question `json:"questions"`
}

type ExamSummary struct {
	ExamID        uint           `json:"exam_id"`
	Title         string         `json:"title"`
	Duration      int            `json:"duration"`
	QuestionCount int64          `json:"question_count"`
	TotalMarks    int64          `json:"total_marks"`
	CountsByType  map[string]int `json:"counts_by_type"`
}

// ===== ATTEMPT DTOs =====

type AttemptResponse struct {
	AttemptID     uint                     `json:"attempt_id"`
	ExamID        uint                     `json:"exam_id"`
	Status        models.AttemptStatus     `json:"status"`
	StartedAt     time.Time                `json:"started_at"`
	TimeRemaining int                      `json:"time_remaining"`
	Resumed       bool                     `json:"resumed"`
	Progress      *models.ProgressSnapshot `json:"progress,omitempty"`
	Exam          *ExamTakingView          `json:"exam,omitempty"`
}

type SaveProgressRequest struct {
	CurrentQuestion int                 `json:"current_question" validate:"min=0"`
	Answers         map[string][]string `json:"answers"`
	MarkedQuestions []uint              `json:"marked_questions"`
	TimeRemaining   int                 `json:"time_remaining" validate:"min=0"`
}

type SubmitAttemptRequest struct {
	// Answers override the drafted progress when present; a nil map submits
	// whatever was drafted.
	Answers   map[string][]string `json:"answers"`
	TimeTaken *int                `json:"time_taken" validate:"omitempty,min=0"`
}

type MarkToggleResponse struct {
	QuestionID uint `json:"question_id"`
	Marked     bool `json:"marked"`
}

type ResultSummary struct {
	AttemptID     uint                 `json:"attempt_id"`
	ExamID        uint                 `json:"exam_id"`
	ExamTitle     string               `json:"exam_title,omitempty"`
	Status        models.AttemptStatus `json:"status"`
	MarksObtained float64              `json:"marks_obtained"`
	TotalMarks    int                  `json:"total_marks"`
	Percentage    float64              `json:"percentage"`
	Passed        bool                 `json:"passed"`
	SubmittedAt   *time.Time           `json:"submitted_at"`
	TimeTaken     int                  `json:"time_taken"`

	CorrectCount     int `json:"correct_count"`
	IncorrectCount   int `json:"incorrect_count"`
	UnattemptedCount int `json:"unattempted_count"`
}

type QuestionResult struct {
	QuestionID     uint                `json:"question_id"`
	Text           string              `json:"text"`
	Type           models.QuestionType `json:"type"`
	Options        []string            `json:"options"`
	Selected       []string            `json:"selected"`
	CorrectAnswers []string            `json:"correct_answers"`
	Explanation    string              `json:"explanation"`
	IsCorrect      bool                `json:"is_correct"`
	MarksAwarded   float64             `json:"marks_awarded"`
	MarksPossible  int                 `json:"marks_possible"`
}

type ResultDetail struct {
	ResultSummary
	Breakdown []QuestionResult `json:"breakdown"`
}

type HistoryEntry struct {
	AttemptID   uint       `json:"attempt_id"`
	ExamID      uint       `json:"exam_id"`
	ExamTitle   string     `json:"exam_title"`
	Percentage  float64    `json:"percentage"`
	Passed      bool       `json:"passed"`
	SubmittedAt *time.Time `json:"submitted_at"`
	TimeTaken   int        `json:"time_taken"`
}

// ===== SCORING DTOs =====

// ScoreResult is the scoring engine's verdict for one answer sheet.
type ScoreResult struct {
	Records       []models.AnswerRecord `json:"records"`
	MarksObtained float64               `json:"marks_obtained"`
	TotalMarks    int                   `json:"total_marks"`
	Percentage    float64               `json:"percentage"`
	Passed        bool                  `json:"passed"`

	Correct     int `json:"correct"`
	Incorrect   int `json:"incorrect"`
	Unattempted int `json:"unattempted"`
}

// ===== DASHBOARD DTOs =====

type DashboardStats struct {
	TotalExams     int64   `json:"total_exams"`
	CompletedExams int64   `json:"completed_exams"`
	PendingExams   int64   `json:"pending_exams"`
	AverageScore   float64 `json:"average_score"`
}

type ActiveExamView struct {
	ExamID        uint                  `json:"exam_id"`
	Title         string                `json:"title"`
	Description   string                `json:"description"`
	Duration      int                   `json:"duration"`
	TotalMarks    int                   `json:"total_marks"`
	EndDate       time.Time             `json:"end_date"`
	Attempted     bool                  `json:"attempted"`
	AttemptStatus *models.AttemptStatus `json:"attempt_status,omitempty"`
	Score         *float64              `json:"score,omitempty"`
}

// ===== SERVICE INTERFACES =====

// ExamService owns the exam catalog: admin CRUD plus the sanitized taking
// view served to students.
type ExamService interface {
	Create(ctx context.Context, req *CreateExamRequest, creatorID string) (*ExamResponse, error)
	Update(ctx context.Context, examID uint, req *UpdateExamRequest, requesterID string) (*ExamResponse, error)
	Delete(ctx context.Context, examID uint, requesterID string) error
	GetByID(ctx context.Context, examID uint) (*ExamResponse, error)
	List(ctx context.Context, status *models.ExamStatus, query string, limit, offset int) (*ExamListResponse, error)

	// GetForTaking enforces eligibility and returns the sanitized view.
	GetForTaking(ctx context.Context, examID uint, userID string) (*ExamTakingView, error)
	GetSummary(ctx context.Context, examID uint, userID string) (*ExamSummary, error)

	AddQuestion(ctx context.Context, examID uint, req *CreateQuestionRequest, requesterID string) (*models.Question, error)
	DeleteQuestion(ctx context.Context, examID, questionID uint, requesterID string) error
}

// AttemptService is the attempt lifecycle manager. Every mutating operation
// is serialized per (user, exam).
type AttemptService interface {
	Start(ctx context.Context, userID string, examID uint) (*AttemptResponse, error)
	SaveProgress(ctx context.Context, userID string, examID uint, req *SaveProgressRequest) error
	GetProgress(ctx context.Context, userID string, examID uint) (*models.ProgressSnapshot, error)
	ToggleMark(ctx context.Context, userID string, examID uint, questionID uint) (*MarkToggleResponse, error)
	ClearAnswer(ctx context.Context, userID string, examID uint, questionID uint) error
	Submit(ctx context.Context, userID string, examID uint, req *SubmitAttemptRequest) (*ResultSummary, error)
	AutoSubmit(ctx context.Context, userID string, examID uint) (*ResultSummary, error)
	GetResults(ctx context.Context, userID string, examID uint) (*ResultDetail, error)
	GetHistory(ctx context.Context, userID string, limit int) ([]HistoryEntry, error)
}

// ScoringService is the pure scoring engine. It performs no I/O and is
// deterministic for a given input.
type ScoringService interface {
	Score(questions []*models.Question, answers map[string][]string, passingMarks int) (*ScoreResult, error)
}

type DashboardService interface {
	GetStats(ctx context.Context, userID string) (*DashboardStats, error)
	GetActiveExams(ctx context.Context, userID string) ([]ActiveExamView, error)
}

// ReportService exports exam results for teachers and admins.
type ReportService interface {
	ExportExamResults(ctx context.Context, examID uint, requesterID string) ([]byte, error)
}

// ServiceManager wires all services with shared lifecycle management.
type ServiceManager interface {
	Exam() ExamService
	Attempt() AttemptService
	Scoring() ScoringService
	Dashboard() DashboardService
	Report() ReportService

	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
