package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xuri/excelize/v2"

	"github.com/SAP-F-2025/exam-service/internal/models"
	"github.com/SAP-F-2025/exam-service/internal/repositories"
)

const exportPageSize = 500

// reportService builds XLSX exports of exam results for teachers and admins.
type reportService struct {
	repo   repositories.Repository
	logger *slog.Logger
}

func NewReportService(repo repositories.Repository, logger *slog.Logger) ReportService {
	return &reportService{repo: repo, logger: logger}
}

func (s *reportService) ExportExamResults(ctx context.Context, examID uint, requesterID string) ([]byte, error) {
	exam, err := s.repo.Exam().GetByID(ctx, nil, examID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to load exam: %w", err)
	}

	if err := s.requireExporter(ctx, exam, requesterID); err != nil {
		return nil, err
	}

	attempts, err := s.collectCompletedAttempts(ctx, examID)
	if err != nil {
		return nil, err
	}

	users, err := s.lookupUsers(ctx, attempts)
	if err != nil {
		return nil, err
	}

	data, err := s.renderWorkbook(exam, attempts, users)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Exam results exported",
		"exam_id", examID,
		"rows", len(attempts),
		"requested_by", requesterID)

	return data, nil
}

func (s *reportService) requireExporter(ctx context.Context, exam *models.Exam, requesterID string) error {
	if exam.CreatedBy == requesterID {
		return nil
	}
	isAdmin, err := s.repo.User().HasRole(ctx, requesterID, models.RoleAdmin)
	if err != nil {
		return fmt.Errorf("failed to check role: %w", err)
	}
	if !isAdmin {
		return NewPermissionError("exam results", "export")
	}
	return nil
}

func (s *reportService) collectCompletedAttempts(ctx context.Context, examID uint) ([]*models.Attempt, error) {
	status := models.AttemptCompleted
	var attempts []*models.Attempt

	for offset := 0; ; offset += exportPageSize {
		page, _, err := s.repo.Attempt().ListByExam(ctx, nil, examID, repositories.AttemptFilters{
			Status:    &status,
			Limit:     exportPageSize,
			Offset:    offset,
			SortBy:    "submitted_at",
			SortOrder: "desc",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list attempts: %w", err)
		}
		attempts = append(attempts, page...)
		if len(page) < exportPageSize {
			return attempts, nil
		}
	}
}

func (s *reportService) lookupUsers(ctx context.Context, attempts []*models.Attempt) (map[string]*models.User, error) {
	seen := make(map[string]struct{}, len(attempts))
	ids := make([]string, 0, len(attempts))
	for _, a := range attempts {
		if _, ok := seen[a.UserID]; ok {
			continue
		}
		seen[a.UserID] = struct{}{}
		ids = append(ids, a.UserID)
	}
	if len(ids) == 0 {
		return map[string]*models.User{}, nil
	}

	users, err := s.repo.User().GetByIDs(ctx, ids)
	if err != nil {
		// The export stays useful without the directory; rows fall back to IDs.
		s.logger.Warn("Failed to resolve user names for export", "error", err)
		return map[string]*models.User{}, nil
	}

	byID := make(map[string]*models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	return byID, nil
}

func (s *reportService) renderWorkbook(exam *models.Exam, attempts []*models.Attempt, users map[string]*models.User) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Results"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"User ID", "Name", "Email", "Marks Obtained", "Total Marks", "Percentage", "Passed", "Time Taken (s)", "Submitted At"}
	for col, h := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to build header cell: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}

	for row, attempt := range attempts {
		name, email := "", ""
		if u, ok := users[attempt.UserID]; ok {
			name, email = u.FullName, u.Email
		}

		submittedAt := ""
		if attempt.SubmittedAt != nil {
			submittedAt = attempt.SubmittedAt.Format("2006-01-02 15:04:05")
		}

		values := []interface{}{
			attempt.UserID,
			name,
			email,
			attempt.MarksObtained,
			exam.TotalMarks,
			attempt.Percentage,
			attempt.Passed,
			attempt.TimeTaken,
			submittedAt,
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				return nil, fmt.Errorf("failed to build cell name: %w", err)
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, fmt.Errorf("failed to write row %d: %w", row+2, err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to render workbook: %w", err)
	}
	return buf.Bytes(), nil
}
