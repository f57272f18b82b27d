package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-service/internal/models"
)

// ===== FILTERS =====

type ExamFilters struct {
	Status    *models.ExamStatus
	CreatedBy *string
	Query     string // matches title
	DateFrom  *time.Time
	DateTo    *time.Time
	Limit     int
	Offset    int
	SortBy    string
	SortOrder string
}

type AttemptFilters struct {
	Status    *models.AttemptStatus
	UserID    *string
	DateFrom  *time.Time
	DateTo    *time.Time
	Limit     int
	Offset    int
	SortBy    string
	SortOrder string
}

// ===== EXAM =====

// ExamRepository persists exams. All methods accept an optional transaction
// handle; a nil tx uses the repository's own connection.
type ExamRepository interface {
	Create(ctx context.Context, tx *gorm.DB, exam *models.Exam) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error)
	GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error)
	Update(ctx context.Context, tx *gorm.DB, exam *models.Exam) error
	UpdateStatus(ctx context.Context, tx *gorm.DB, id uint, status models.ExamStatus) error
	Delete(ctx context.Context, tx *gorm.DB, id uint) error

	List(ctx context.Context, tx *gorm.DB, filters ExamFilters) ([]*models.Exam, int64, error)
	// GetActiveVisibleTo returns active exams whose window contains now and
	// whose whitelist is either empty or contains userID.
	GetActiveVisibleTo(ctx context.Context, tx *gorm.DB, userID string, now time.Time) ([]*models.Exam, error)

	ExistsByID(ctx context.Context, tx *gorm.DB, id uint) (bool, error)
}

// ===== QUESTION =====

type QuestionRepository interface {
	Create(ctx context.Context, tx *gorm.DB, question *models.Question) error
	CreateBatch(ctx context.Context, tx *gorm.DB, questions []*models.Question) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error)
	// GetByExam returns the exam's questions sorted by display order.
	GetByExam(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.Question, error)
	Update(ctx context.Context, tx *gorm.DB, question *models.Question) error
	Delete(ctx context.Context, tx *gorm.DB, id uint) error

	CountByExam(ctx context.Context, tx *gorm.DB, examID uint) (int64, error)
	SumMarksByExam(ctx context.Context, tx *gorm.DB, examID uint) (int64, error)
}

// ===== ATTEMPT =====

// AttemptRepository is the attempt store. At most one open (in_progress)
// attempt may exist per (user, exam); Create enforces this inside the
// surrounding transaction.
type AttemptRepository interface {
	Create(ctx context.Context, tx *gorm.DB, attempt *models.Attempt) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Attempt, error)
	Update(ctx context.Context, tx *gorm.DB, attempt *models.Attempt) error

	// GetOpenAttempt returns the in-progress attempt for (user, exam), or a
	// not-found error when there is none.
	GetOpenAttempt(ctx context.Context, tx *gorm.DB, userID string, examID uint) (*models.Attempt, error)
	GetLatestCompleted(ctx context.Context, tx *gorm.DB, userID string, examID uint) (*models.Attempt, error)
	GetByUserAndExam(ctx context.Context, tx *gorm.DB, userID string, examID uint) ([]*models.Attempt, error)

	CountCompleted(ctx context.Context, tx *gorm.DB, userID string, examID uint) (int64, error)
	HasCompletedForExam(ctx context.Context, tx *gorm.DB, examID uint) (bool, error)

	// GetHistory returns completed attempts for a user, newest submission
	// first, capped at limit.
	GetHistory(ctx context.Context, tx *gorm.DB, userID string, limit int) ([]*models.Attempt, error)
	ListByExam(ctx context.Context, tx *gorm.DB, examID uint, filters AttemptFilters) ([]*models.Attempt, int64, error)
}

// ===== DASHBOARD =====

// DashboardRepository answers the aggregate queries behind the student
// dashboard.
type DashboardRepository interface {
	// CountVisibleActiveExams counts active, in-window exams the user may take.
	CountVisibleActiveExams(ctx context.Context, tx *gorm.DB, userID string, now time.Time) (int64, error)
	// CountCompletedExams counts distinct exams the user has completed.
	CountCompletedExams(ctx context.Context, tx *gorm.DB, userID string) (int64, error)
	// GetAveragePercentage averages the percentage over completed attempts,
	// 0 when there are none.
	GetAveragePercentage(ctx context.Context, tx *gorm.DB, userID string) (float64, error)
}
