package postgres

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SAP-F-2025/exam-service/internal/cache"
	"github.com/SAP-F-2025/exam-service/internal/models"
	"github.com/SAP-F-2025/exam-service/internal/repositories"
)

type AttemptPostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

func NewAttemptPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.AttemptRepository {
	return &AttemptPostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (a *AttemptPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return a.db
}

// Create inserts an attempt after re-checking, inside the caller's
// transaction, that no open attempt exists for the pair. Together with the
// per-key lock in the service layer this keeps the single-open-attempt
// invariant even under concurrent starts.
func (a *AttemptPostgreSQL) Create(ctx context.Context, tx *gorm.DB, attempt *models.Attempt) error {
	db := a.getDB(tx)

	var openCount int64
	if err := db.WithContext(ctx).
		Model(&models.Attempt{}).
		Where("user_id = ? AND exam_id = ? AND status = ?",
			attempt.UserID, attempt.ExamID, models.AttemptInProgress).
		Count(&openCount).Error; err != nil {
		return fmt.Errorf("failed to check open attempts: %w", err)
	}
	if openCount > 0 {
		return repositories.ErrDuplicateOpen
	}

	if err := db.WithContext(ctx).Create(attempt).Error; err != nil {
		return fmt.Errorf("failed to create attempt: %w", err)
	}
	return nil
}

func (a *AttemptPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Attempt, error) {
	db := a.getDB(tx)
	cacheKey := fmt.Sprintf("id:%d", id)
	var attempt models.Attempt

	err := a.cacheManager.Fast.CacheOrExecute(ctx, cacheKey, &attempt, cache.FastCacheConfig.TTL, func() (interface{}, error) {
		var dbAttempt models.Attempt
		if err := db.WithContext(ctx).First(&dbAttempt, id).Error; err != nil {
			return nil, err
		}
		return &dbAttempt, nil
	})
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) Update(ctx context.Context, tx *gorm.DB, attempt *models.Attempt) error {
	db := a.getDB(tx)
	if err := db.WithContext(ctx).Save(attempt).Error; err != nil {
		return fmt.Errorf("failed to update attempt: %w", err)
	}
	cache.InvalidateAttemptCache(ctx, a.cacheManager, attempt.ID)
	return nil
}

// GetOpenAttempt fetches the in-progress attempt for (user, exam) with a row
// lock so a concurrent finalize in another transaction waits its turn.
func (a *AttemptPostgreSQL) GetOpenAttempt(ctx context.Context, tx *gorm.DB, userID string, examID uint) (*models.Attempt, error) {
	db := a.getDB(tx)
	query := db.WithContext(ctx).
		Where("user_id = ? AND exam_id = ? AND status = ?", userID, examID, models.AttemptInProgress)
	if tx != nil {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var attempt models.Attempt
	if err := query.First(&attempt).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) GetLatestCompleted(ctx context.Context, tx *gorm.DB, userID string, examID uint) (*models.Attempt, error) {
	db := a.getDB(tx)
	var attempt models.Attempt
	if err := db.WithContext(ctx).
		Where("user_id = ? AND exam_id = ? AND status = ?", userID, examID, models.AttemptCompleted).
		Order("submitted_at DESC").
		First(&attempt).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) GetByUserAndExam(ctx context.Context, tx *gorm.DB, userID string, examID uint) ([]*models.Attempt, error) {
	db := a.getDB(tx)
	var attempts []*models.Attempt
	if err := db.WithContext(ctx).
		Where("user_id = ? AND exam_id = ?", userID, examID).
		Order("created_at DESC").
		Find(&attempts).Error; err != nil {
		return nil, fmt.Errorf("failed to get attempts by user and exam: %w", err)
	}
	return attempts, nil
}

func (a *AttemptPostgreSQL) CountCompleted(ctx context.Context, tx *gorm.DB, userID string, examID uint) (int64, error) {
	db := a.getDB(tx)
	var count int64
	err := db.WithContext(ctx).
		Model(&models.Attempt{}).
		Where("user_id = ? AND exam_id = ? AND status = ?", userID, examID, models.AttemptCompleted).
		Count(&count).Error
	return count, err
}

func (a *AttemptPostgreSQL) HasCompletedForExam(ctx context.Context, tx *gorm.DB, examID uint) (bool, error) {
	db := a.getDB(tx)
	var count int64
	err := db.WithContext(ctx).
		Model(&models.Attempt{}).
		Where("exam_id = ? AND status = ?", examID, models.AttemptCompleted).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (a *AttemptPostgreSQL) GetHistory(ctx context.Context, tx *gorm.DB, userID string, limit int) ([]*models.Attempt, error) {
	db := a.getDB(tx)
	if limit <= 0 {
		limit = 20
	}
	var attempts []*models.Attempt
	if err := db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.AttemptCompleted).
		Order("submitted_at DESC").
		Limit(limit).
		Preload("Exam").
		Find(&attempts).Error; err != nil {
		return nil, fmt.Errorf("failed to get attempt history: %w", err)
	}
	return attempts, nil
}

func (a *AttemptPostgreSQL) ListByExam(ctx context.Context, tx *gorm.DB, examID uint, filters repositories.AttemptFilters) ([]*models.Attempt, int64, error) {
	db := a.getDB(tx)
	var attempts []*models.Attempt
	var total int64

	query := db.WithContext(ctx).Model(&models.Attempt{}).Where("exam_id = ?", examID)
	query = a.helpers.ApplyAttemptFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = a.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)
	if err := query.Find(&attempts).Error; err != nil {
		return nil, 0, err
	}

	return attempts, total, nil
}
