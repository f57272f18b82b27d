package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SAP-F-2025/exam-service/internal/repositories"
)

// dashboardService aggregates a student's standing across the catalog.
type dashboardService struct {
	repo   repositories.Repository
	logger *slog.Logger
}

func NewDashboardService(repo repositories.Repository, logger *slog.Logger) DashboardService {
	return &dashboardService{repo: repo, logger: logger}
}

func (s *dashboardService) GetStats(ctx context.Context, userID string) (*DashboardStats, error) {
	now := time.Now()

	total, err := s.repo.Dashboard().CountVisibleActiveExams(ctx, nil, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to count visible exams: %w", err)
	}

	completed, err := s.repo.Dashboard().CountCompletedExams(ctx, nil, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count completed exams: %w", err)
	}

	average, err := s.repo.Dashboard().GetAveragePercentage(ctx, nil, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to average scores: %w", err)
	}

	pending := total - completed
	if pending < 0 {
		pending = 0
	}

	return &DashboardStats{
		TotalExams:     total,
		CompletedExams: completed,
		PendingExams:   pending,
		AverageScore:   average,
	}, nil
}

// GetActiveExams lists the exams the user can take right now, each decorated
// with the user's own attempt state.
func (s *dashboardService) GetActiveExams(ctx context.Context, userID string) ([]ActiveExamView, error) {
	exams, err := s.repo.Exam().GetActiveVisibleTo(ctx, nil, userID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to list active exams: %w", err)
	}

	views := make([]ActiveExamView, 0, len(exams))
	for _, exam := range exams {
		view := ActiveExamView{
			ExamID:      exam.ID,
			Title:       exam.Title,
			Description: exam.Description,
			Duration:    exam.Duration,
			TotalMarks:  exam.TotalMarks,
			EndDate:     exam.EndDate,
		}

		if open, err := s.repo.Attempt().GetOpenAttempt(ctx, nil, userID, exam.ID); err == nil {
			view.Attempted = true
			status := open.Status
			view.AttemptStatus = &status
		} else if !repositories.IsNotFoundError(err) {
			return nil, fmt.Errorf("failed to check open attempt: %w", err)
		}

		if latest, err := s.repo.Attempt().GetLatestCompleted(ctx, nil, userID, exam.ID); err == nil {
			view.Attempted = true
			if view.AttemptStatus == nil {
				status := latest.Status
				view.AttemptStatus = &status
			}
			score := latest.Percentage
			view.Score = &score
		} else if !repositories.IsNotFoundError(err) {
			return nil, fmt.Errorf("failed to load latest result: %w", err)
		}

		views = append(views, view)
	}

	return views, nil
}
