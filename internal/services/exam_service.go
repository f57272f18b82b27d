package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-service/internal/models"
	"github.com/SAP-F-2025/exam-service/internal/repositories"
	"github.com/SAP-F-2025/exam-service/internal/validator"
)

// examService implements ExamService: catalog CRUD for teachers and admins
// plus the sanitized views served to takers.
type examService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
}

func NewExamService(
	repo repositories.Repository,
	db *gorm.DB,
	logger *slog.Logger,
	validator *validator.Validator,
) ExamService {
	return &examService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
	}
}

// ===== CREATE =====

func (s *examService) Create(ctx context.Context, req *CreateExamRequest, creatorID string) (*ExamResponse, error) {
	if errs := s.validator.Validate(req); errs.HasErrors() {
		return nil, NewValidationError(errs)
	}
	for i := range req.Questions {
		if err := validateQuestionPayload(&req.Questions[i]); err != nil {
			return nil, err
		}
	}

	allowedUsers, err := encodeAllowedUsers(req.AllowedUsers)
	if err != nil {
		return nil, err
	}

	// A window defaulting to four weeks keeps a fresh exam schedulable
	// without the client supplying dates.
	startDate := time.Now()
	if req.StartDate != nil {
		startDate = *req.StartDate
	}
	endDate := startDate.Add(28 * 24 * time.Hour)
	if req.EndDate != nil {
		endDate = *req.EndDate
	}
	if !endDate.After(startDate) {
		return nil, NewValidationError(validator.ValidationErrors{{
			Field:   "end_date",
			Message: "end date must be after start date",
			Rule:    "window",
		}})
	}

	totalMarks := 0
	for _, q := range req.Questions {
		totalMarks += q.Marks
	}

	exam := &models.Exam{
		Title:        req.Title,
		Description:  req.Description,
		Duration:     req.Duration,
		TotalMarks:   totalMarks,
		PassingMarks: req.PassingMarks,
		MaxAttempts:  req.MaxAttempts,
		Instructions: req.Instructions,
		Status:       models.ExamDraft,
		StartDate:    startDate,
		EndDate:      endDate,
		AllowedUsers: allowedUsers,
		CreatedBy:    creatorID,
	}
	if exam.MaxAttempts == 0 {
		exam.MaxAttempts = 1
	}

	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		if err := txRepo.Exam().Create(ctx, nil, exam); err != nil {
			return fmt.Errorf("failed to create exam: %w", err)
		}

		if len(req.Questions) == 0 {
			return nil
		}

		questions := make([]*models.Question, 0, len(req.Questions))
		for i := range req.Questions {
			question, err := buildQuestion(&req.Questions[i], exam.ID, i+1)
			if err != nil {
				return err
			}
			questions = append(questions, question)
		}
		return txRepo.Question().CreateBatch(ctx, nil, questions)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Exam created",
		"exam_id", exam.ID,
		"created_by", creatorID,
		"question_count", len(req.Questions))

	return &ExamResponse{
		Exam:          exam,
		QuestionCount: len(req.Questions),
		MarksTotal:    int64(totalMarks),
	}, nil
}

// ===== UPDATE =====

func (s *examService) Update(ctx context.Context, examID uint, req *UpdateExamRequest, requesterID string) (*ExamResponse, error) {
	if errs := s.validator.Validate(req); errs.HasErrors() {
		return nil, NewValidationError(errs)
	}

	exam, err := s.loadExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	if err := s.requireManager(ctx, exam, requesterID, "update"); err != nil {
		return nil, err
	}

	if req.Title != nil {
		exam.Title = *req.Title
	}
	if req.Description != nil {
		exam.Description = *req.Description
	}
	if req.Duration != nil {
		exam.Duration = *req.Duration
	}
	if req.PassingMarks != nil {
		exam.PassingMarks = *req.PassingMarks
	}
	if req.MaxAttempts != nil {
		exam.MaxAttempts = *req.MaxAttempts
	}
	if req.Instructions != nil {
		exam.Instructions = *req.Instructions
	}
	if req.StartDate != nil {
		exam.StartDate = *req.StartDate
	}
	if req.EndDate != nil {
		exam.EndDate = *req.EndDate
	}
	if req.AllowedUsers != nil {
		allowedUsers, err := encodeAllowedUsers(req.AllowedUsers)
		if err != nil {
			return nil, err
		}
		exam.AllowedUsers = allowedUsers
	}
	if req.Status != nil {
		if !req.Status.IsValid() {
			return nil, NewValidationError(validator.ValidationErrors{{
				Field:   "status",
				Message: "status must be one of: draft, active, archived",
				Rule:    "exam_status",
			}})
		}
		exam.Status = *req.Status
	}

	if !exam.EndDate.After(exam.StartDate) {
		return nil, NewValidationError(validator.ValidationErrors{{
			Field:   "end_date",
			Message: "end date must be after start date",
			Rule:    "window",
		}})
	}

	if err := s.repo.Exam().Update(ctx, nil, exam); err != nil {
		return nil, fmt.Errorf("failed to update exam: %w", err)
	}

	s.logger.Info("Exam updated", "exam_id", exam.ID, "updated_by", requesterID)

	return s.buildExamResponse(ctx, exam)
}

// ===== DELETE =====

func (s *examService) Delete(ctx context.Context, examID uint, requesterID string) error {
	exam, err := s.loadExam(ctx, examID)
	if err != nil {
		return err
	}
	if err := s.requireManager(ctx, exam, requesterID, "delete"); err != nil {
		return err
	}

	hasResults, err := s.repo.Attempt().HasCompletedForExam(ctx, nil, examID)
	if err != nil {
		return fmt.Errorf("failed to check completed attempts: %w", err)
	}
	if hasResults {
		return ErrExamHasResults
	}

	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		questions, err := txRepo.Question().GetByExam(ctx, nil, examID)
		if err != nil {
			return fmt.Errorf("failed to load questions: %w", err)
		}
		for _, q := range questions {
			if err := txRepo.Question().Delete(ctx, nil, q.ID); err != nil {
				return fmt.Errorf("failed to delete question %d: %w", q.ID, err)
			}
		}
		return txRepo.Exam().Delete(ctx, nil, examID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Exam deleted", "exam_id", examID, "deleted_by", requesterID)
	return nil
}

// ===== READS =====

func (s *examService) GetByID(ctx context.Context, examID uint) (*ExamResponse, error) {
	exam, err := s.loadExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	return s.buildExamResponse(ctx, exam)
}

func (s *examService) List(ctx context.Context, status *models.ExamStatus, query string, limit, offset int) (*ExamListResponse, error) {
	filters := repositories.ExamFilters{
		Status: status,
		Query:  query,
		Limit:  limit,
		Offset: offset,
	}

	exams, total, err := s.repo.Exam().List(ctx, nil, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list exams: %w", err)
	}

	return &ExamListResponse{
		Exams:  exams,
		Total:  total,
		Limit:  filters.Limit,
		Offset: filters.Offset,
	}, nil
}

func (s *examService) GetForTaking(ctx context.Context, examID uint, userID string) (*ExamTakingView, error) {
	exam, err := s.repo.Exam().GetByIDWithQuestions(ctx, nil, examID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to load exam: %w", err)
	}

	if err := checkEligibility(ctx, s.repo, exam, userID); err != nil {
		return nil, err
	}

	return buildTakingView(exam), nil
}

func (s *examService) GetSummary(ctx context.Context, examID uint, userID string) (*ExamSummary, error) {
	exam, err := s.loadExam(ctx, examID)
	if err != nil {
		return nil, err
	}

	// Drafts are visible only to whoever can manage them.
	if exam.Status != models.ExamActive {
		if err := s.requireManager(ctx, exam, userID, "view"); err != nil {
			return nil, ErrExamNotFound
		}
	}

	questions, err := s.repo.Question().GetByExam(ctx, nil, examID)
	if err != nil {
		return nil, fmt.Errorf("failed to load questions: %w", err)
	}

	countsByType := make(map[string]int)
	var totalMarks int64
	for _, q := range questions {
		countsByType[string(q.Type)]++
		totalMarks += int64(q.Marks)
	}

	return &ExamSummary{
		ExamID:        exam.ID,
		Title:         exam.Title,
		Duration:      exam.Duration,
		QuestionCount: int64(len(questions)),
		TotalMarks:    totalMarks,
		CountsByType:  countsByType,
	}, nil
}

// ===== QUESTIONS =====

func (s *examService) AddQuestion(ctx context.Context, examID uint, req *CreateQuestionRequest, requesterID string) (*models.Question, error) {
	if errs := s.validator.Validate(req); errs.HasErrors() {
		return nil, NewValidationError(errs)
	}
	if err := validateQuestionPayload(req); err != nil {
		return nil, err
	}

	exam, err := s.loadExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	if err := s.requireManager(ctx, exam, requesterID, "update"); err != nil {
		return nil, err
	}

	var question *models.Question
	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		order := req.Order
		if order == 0 {
			count, err := txRepo.Question().CountByExam(ctx, nil, examID)
			if err != nil {
				return fmt.Errorf("failed to count questions: %w", err)
			}
			order = int(count) + 1
		}

		question, err = buildQuestion(req, examID, order)
		if err != nil {
			return err
		}
		if err := txRepo.Question().Create(ctx, nil, question); err != nil {
			return fmt.Errorf("failed to create question: %w", err)
		}

		return s.syncTotalMarks(ctx, txRepo, exam)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Question added",
		"exam_id", examID,
		"question_id", question.ID,
		"type", question.Type)

	return question, nil
}

func (s *examService) DeleteQuestion(ctx context.Context, examID, questionID uint, requesterID string) error {
	exam, err := s.loadExam(ctx, examID)
	if err != nil {
		return err
	}
	if err := s.requireManager(ctx, exam, requesterID, "update"); err != nil {
		return err
	}

	question, err := s.repo.Question().GetByID(ctx, nil, questionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrQuestionNotFound
		}
		return fmt.Errorf("failed to load question: %w", err)
	}
	if question.ExamID != examID {
		return ErrQuestionNotInExam
	}

	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		if err := txRepo.Question().Delete(ctx, nil, questionID); err != nil {
			return fmt.Errorf("failed to delete question: %w", err)
		}
		return s.syncTotalMarks(ctx, txRepo, exam)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Question deleted", "exam_id", examID, "question_id", questionID)
	return nil
}

// ===== HELPERS =====

func (s *examService) loadExam(ctx context.Context, examID uint) (*models.Exam, error) {
	exam, err := s.repo.Exam().GetByID(ctx, nil, examID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to load exam: %w", err)
	}
	return exam, nil
}

// requireManager allows the exam's creator and admins through.
func (s *examService) requireManager(ctx context.Context, exam *models.Exam, requesterID, action string) error {
	if exam.CreatedBy == requesterID {
		return nil
	}
	isAdmin, err := s.repo.User().HasRole(ctx, requesterID, models.RoleAdmin)
	if err != nil {
		return fmt.Errorf("failed to check role: %w", err)
	}
	if !isAdmin {
		return NewPermissionError("exam", action)
	}
	return nil
}

func (s *examService) buildExamResponse(ctx context.Context, exam *models.Exam) (*ExamResponse, error) {
	count, err := s.repo.Question().CountByExam(ctx, nil, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count questions: %w", err)
	}
	marks, err := s.repo.Question().SumMarksByExam(ctx, nil, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum marks: %w", err)
	}

	return &ExamResponse{
		Exam:          exam,
		QuestionCount: int(count),
		MarksTotal:    marks,
	}, nil
}

// syncTotalMarks keeps the exam's stored total in step with its questions.
func (s *examService) syncTotalMarks(ctx context.Context, txRepo repositories.Repository, exam *models.Exam) error {
	marks, err := txRepo.Question().SumMarksByExam(ctx, nil, exam.ID)
	if err != nil {
		return fmt.Errorf("failed to sum marks: %w", err)
	}
	exam.TotalMarks = int(marks)
	if err := txRepo.Exam().Update(ctx, nil, exam); err != nil {
		return fmt.Errorf("failed to update total marks: %w", err)
	}
	return nil
}

func buildQuestion(req *CreateQuestionRequest, examID uint, order int) (*models.Question, error) {
	options, err := encodeStringSet(req.Options)
	if err != nil {
		return nil, fmt.Errorf("failed to encode options: %w", err)
	}
	correct, err := encodeStringSet(req.CorrectAnswers)
	if err != nil {
		return nil, fmt.Errorf("failed to encode correct answers: %w", err)
	}

	difficulty := req.Difficulty
	if difficulty == "" {
		difficulty = models.DifficultyMedium
	}

	return &models.Question{
		ExamID:         examID,
		Text:           req.Text,
		Type:           req.Type,
		Options:        options,
		CorrectAnswers: correct,
		Marks:          req.Marks,
		Explanation:    req.Explanation,
		Difficulty:     difficulty,
		Order:          order,
	}, nil
}

// validateQuestionPayload checks the cross-field rules struct tags cannot
// express: choice questions need options and an answer key drawn from them.
func validateQuestionPayload(req *CreateQuestionRequest) error {
	if req.Type == models.QuestionText {
		return nil
	}

	var errs validator.ValidationErrors
	if len(req.Options) < 2 {
		errs = append(errs, validator.ValidationError{
			Field:   "options",
			Message: "choice questions need at least two options",
			Rule:    "options",
		})
	}
	if len(req.CorrectAnswers) == 0 {
		errs = append(errs, validator.ValidationError{
			Field:   "correct_answers",
			Message: "choice questions need at least one correct answer",
			Rule:    "correct_answers",
		})
	}

	optionSet := make(map[string]struct{}, len(req.Options))
	for _, o := range req.Options {
		optionSet[o] = struct{}{}
	}
	for _, c := range req.CorrectAnswers {
		if _, ok := optionSet[c]; !ok {
			errs = append(errs, validator.ValidationError{
				Field:   "correct_answers",
				Message: fmt.Sprintf("correct answer %q is not among the options", c),
				Rule:    "correct_answers",
			})
		}
	}

	if errs.HasErrors() {
		return NewValidationError(errs)
	}
	return nil
}

func encodeAllowedUsers(users []string) (datatypes.JSON, error) {
	if users == nil {
		return nil, nil
	}
	data, err := json.Marshal(users)
	if err != nil {
		return nil, fmt.Errorf("failed to encode allowed users: %w", err)
	}
	return datatypes.JSON(data), nil
}

func encodeStringSet(set []string) (datatypes.JSON, error) {
	if set == nil {
		return nil, nil
	}
	data, err := json.Marshal(set)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(data), nil
}
