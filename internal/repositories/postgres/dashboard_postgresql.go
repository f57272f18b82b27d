package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-service/internal/models"
	"github.com/SAP-F-2025/exam-service/internal/repositories"
)

type DashboardPostgreSQL struct {
	db *gorm.DB
}

func NewDashboardRepository(db *gorm.DB) repositories.DashboardRepository {
	return &DashboardPostgreSQL{db: db}
}

func (d *DashboardPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return d.db
}

func (d *DashboardPostgreSQL) CountVisibleActiveExams(ctx context.Context, tx *gorm.DB, userID string, now time.Time) (int64, error) {
	db := d.getDB(tx)
	var count int64
	err := db.WithContext(ctx).
		Model(&models.Exam{}).
		Where("status = ? AND start_date <= ? AND end_date >= ?", models.ExamActive, now, now).
		Where("allowed_users IS NULL OR jsonb_array_length(allowed_users) = 0 OR allowed_users @> ?", fmt.Sprintf("%q", userID)).
		Count(&count).Error
	return count, err
}

func (d *DashboardPostgreSQL) CountCompletedExams(ctx context.Context, tx *gorm.DB, userID string) (int64, error) {
	db := d.getDB(tx)
	var count int64
	err := db.WithContext(ctx).
		Model(&models.Attempt{}).
		Where("user_id = ? AND status = ?", userID, models.AttemptCompleted).
		Distinct("exam_id").
		Count(&count).Error
	return count, err
}

func (d *DashboardPostgreSQL) GetAveragePercentage(ctx context.Context, tx *gorm.DB, userID string) (float64, error) {
	db := d.getDB(tx)
	var avg *float64
	err := db.WithContext(ctx).
		Model(&models.Attempt{}).
		Where("user_id = ? AND status = ?", userID, models.AttemptCompleted).
		Select("AVG(percentage)").
		Scan(&avg).Error
	if err != nil {
		return 0, err
	}
	if avg == nil {
		return 0, nil
	}
	return *avg, nil
}
