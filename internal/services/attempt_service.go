package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-service/internal/cache"
	"github.com/SAP-F-2025/exam-service/internal/events"
	"github.com/SAP-F-2025/exam-service/internal/models"
	"github.com/SAP-F-2025/exam-service/internal/repositories"
	"github.com/SAP-F-2025/exam-service/internal/validator"
)

// attemptService implements AttemptService. Every mutating operation runs
// under the per-(user, exam) lock, so starts, saves and submits for the same
// pair never interleave across goroutines or instances.
type attemptService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
	scoring   ScoringService
	locker    cache.AttemptLocker
	publisher events.EventPublisher
}

func NewAttemptService(
	repo repositories.Repository,
	db *gorm.DB,
	logger *slog.Logger,
	validator *validator.Validator,
	scoring ScoringService,
	locker cache.AttemptLocker,
	publisher events.EventPublisher,
) AttemptService {
	return &attemptService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
		scoring:   scoring,
		locker:    locker,
		publisher: publisher,
	}
}

// ===== START =====

func (s *attemptService) Start(ctx context.Context, userID string, examID uint) (*AttemptResponse, error) {
	release, err := s.locker.Acquire(ctx, userID, examID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire attempt lock: %w", err)
	}
	defer release()

	exam, err := s.repo.Exam().GetByIDWithQuestions(ctx, nil, examID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to load exam: %w", err)
	}

	// An open attempt is always resumed, never duplicated. Repeated starts
	// return the same attempt ID.
	if open, err := s.repo.Attempt().GetOpenAttempt(ctx, nil, userID, examID); err == nil {
		s.logger.Info("Resuming open attempt",
			"attempt_id", open.ID,
			"user_id", userID,
			"exam_id", examID)
		return s.buildAttemptResponse(open, exam, true)
	} else if !repositories.IsNotFoundError(err) {
		return nil, fmt.Errorf("failed to check open attempt: %w", err)
	}

	if err := checkEligibility(ctx, s.repo, exam, userID); err != nil {
		return nil, err
	}

	snapshot := models.NewProgressSnapshot(exam.Duration * 60)
	progress, err := encodeSnapshot(snapshot)
	if err != nil {
		return nil, err
	}

	attempt := &models.Attempt{
		ExamID:    examID,
		UserID:    userID,
		Status:    models.AttemptInProgress,
		StartedAt: time.Now(),
		Progress:  progress,
	}

	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		return txRepo.Attempt().Create(ctx, nil, attempt)
	})
	if err != nil {
		// Lost a race with another instance: fall back to resuming.
		if errors.Is(err, repositories.ErrDuplicateOpen) {
			open, getErr := s.repo.Attempt().GetOpenAttempt(ctx, nil, userID, examID)
			if getErr != nil {
				return nil, fmt.Errorf("failed to resume after duplicate open: %w", getErr)
			}
			return s.buildAttemptResponse(open, exam, true)
		}
		return nil, fmt.Errorf("failed to create attempt: %w", err)
	}

	s.logger.Info("Attempt started",
		"attempt_id", attempt.ID,
		"user_id", userID,
		"exam_id", examID)

	s.publishStarted(ctx, attempt)

	return s.buildAttemptResponse(attempt, exam, false)
}

// ===== PROGRESS =====

func (s *attemptService) SaveProgress(ctx context.Context, userID string, examID uint, req *SaveProgressRequest) error {
	if errs := s.validator.Validate(req); errs.HasErrors() {
		return NewValidationError(errs)
	}

	release, err := s.locker.Acquire(ctx, userID, examID)
	if err != nil {
		return fmt.Errorf("failed to acquire attempt lock: %w", err)
	}
	defer release()

	snapshot := &models.ProgressSnapshot{
		CurrentQuestion: req.CurrentQuestion,
		Answers:         req.Answers,
		MarkedQuestions: req.MarkedQuestions,
		TimeRemaining:   req.TimeRemaining,
	}
	if snapshot.Answers == nil {
		snapshot.Answers = make(map[string][]string)
	}
	if snapshot.MarkedQuestions == nil {
		snapshot.MarkedQuestions = []uint{}
	}

	progress, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}

	// Saves never start an attempt. A stale autosave arriving after submit
	// must not reopen the exam with old draft state.
	attempt, err := s.requireOpenAttempt(ctx, userID, examID)
	if err != nil {
		return err
	}

	attempt.Progress = progress
	if err := s.repo.Attempt().Update(ctx, nil, attempt); err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	return nil
}

func (s *attemptService) GetProgress(ctx context.Context, userID string, examID uint) (*models.ProgressSnapshot, error) {
	attempt, err := s.repo.Attempt().GetOpenAttempt(ctx, nil, userID, examID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load open attempt: %w", err)
	}
	return decodeSnapshot(attempt.Progress)
}

// ===== MARK / CLEAR =====

func (s *attemptService) ToggleMark(ctx context.Context, userID string, examID uint, questionID uint) (*MarkToggleResponse, error) {
	release, err := s.locker.Acquire(ctx, userID, examID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire attempt lock: %w", err)
	}
	defer release()

	attempt, err := s.requireOpenAttempt(ctx, userID, examID)
	if err != nil {
		return nil, err
	}

	snapshot, err := decodeSnapshot(attempt.Progress)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		snapshot = models.NewProgressSnapshot(0)
	}

	marked := false
	idx := -1
	for i, id := range snapshot.MarkedQuestions {
		if id == questionID {
			idx = i
			break
		}
	}
	if idx == -1 {
		snapshot.MarkedQuestions = append(snapshot.MarkedQuestions, questionID)
		marked = true
	} else {
		snapshot.MarkedQuestions = append(snapshot.MarkedQuestions[:idx], snapshot.MarkedQuestions[idx+1:]...)
	}

	progress, err := encodeSnapshot(snapshot)
	if err != nil {
		return nil, err
	}
	attempt.Progress = progress
	if err := s.repo.Attempt().Update(ctx, nil, attempt); err != nil {
		return nil, fmt.Errorf("failed to persist mark toggle: %w", err)
	}

	return &MarkToggleResponse{QuestionID: questionID, Marked: marked}, nil
}

func (s *attemptService) ClearAnswer(ctx context.Context, userID string, examID uint, questionID uint) error {
	release, err := s.locker.Acquire(ctx, userID, examID)
	if err != nil {
		return fmt.Errorf("failed to acquire attempt lock: %w", err)
	}
	defer release()

	attempt, err := s.requireOpenAttempt(ctx, userID, examID)
	if err != nil {
		return err
	}

	snapshot, err := decodeSnapshot(attempt.Progress)
	if err != nil {
		return err
	}
	if snapshot == nil || snapshot.Answers == nil {
		return nil
	}

	key := questionKey(questionID)
	if _, ok := snapshot.Answers[key]; !ok {
		return nil
	}
	delete(snapshot.Answers, key)

	progress, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	attempt.Progress = progress
	if err := s.repo.Attempt().Update(ctx, nil, attempt); err != nil {
		return fmt.Errorf("failed to clear answer: %w", err)
	}
	return nil
}

// ===== SUBMIT =====

func (s *attemptService) Submit(ctx context.Context, userID string, examID uint, req *SubmitAttemptRequest) (*ResultSummary, error) {
	if req == nil {
		req = &SubmitAttemptRequest{}
	}
	if errs := s.validator.Validate(req); errs.HasErrors() {
		return nil, NewValidationError(errs)
	}

	release, err := s.locker.Acquire(ctx, userID, examID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire attempt lock: %w", err)
	}
	defer release()

	attempt, err := s.repo.Attempt().GetOpenAttempt(ctx, nil, userID, examID)
	if err != nil {
		if !repositories.IsNotFoundError(err) {
			return nil, fmt.Errorf("failed to load open attempt: %w", err)
		}
		// No open attempt. A completed one makes the submit idempotent: the
		// stored result comes back unchanged and nothing is re-scored.
		if done, doneErr := s.repo.Attempt().GetLatestCompleted(ctx, nil, userID, examID); doneErr == nil {
			s.logger.Info("Duplicate submit returned stored result",
				"attempt_id", done.ID,
				"user_id", userID,
				"exam_id", examID)
			return s.buildStoredSummary(ctx, done)
		}
		return nil, ErrNoActiveAttempt
	}

	answers := req.Answers
	if answers == nil {
		snapshot, err := decodeSnapshot(attempt.Progress)
		if err != nil {
			return nil, err
		}
		if snapshot != nil {
			answers = snapshot.Answers
		}
	}

	timeTaken := int(time.Since(attempt.StartedAt).Seconds())
	if req.TimeTaken != nil {
		timeTaken = *req.TimeTaken
	}

	summary, err := s.finalizeAttempt(ctx, attempt, answers, timeTaken, false)
	if err != nil {
		return nil, err
	}
	return summary, nil
}

func (s *attemptService) AutoSubmit(ctx context.Context, userID string, examID uint) (*ResultSummary, error) {
	release, err := s.locker.Acquire(ctx, userID, examID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire attempt lock: %w", err)
	}
	defer release()

	// Auto submission only ever fires on an in-progress attempt. A completed
	// attempt means the timer raced an explicit submit; that is not an error
	// worth retrying, but it is not this call's success either.
	attempt, err := s.requireOpenAttempt(ctx, userID, examID)
	if err != nil {
		return nil, err
	}

	var answers map[string][]string
	snapshot, err := decodeSnapshot(attempt.Progress)
	if err != nil {
		return nil, err
	}
	if snapshot != nil {
		answers = snapshot.Answers
	}

	timeTaken := int(time.Since(attempt.StartedAt).Seconds())

	return s.finalizeAttempt(ctx, attempt, answers, timeTaken, true)
}

// finalizeAttempt scores the sheet and completes the attempt in one
// transaction. The open row is re-read under FOR UPDATE so a concurrent
// finalize on another connection cannot double-complete.
func (s *attemptService) finalizeAttempt(ctx context.Context, attempt *models.Attempt, answers map[string][]string, timeTaken int, auto bool) (*ResultSummary, error) {
	exam, err := s.repo.Exam().GetByID(ctx, nil, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("failed to load exam for grading: %w", err)
	}

	questions, err := s.repo.Question().GetByExam(ctx, nil, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("failed to load questions for grading: %w", err)
	}

	score, err := s.scoring.Score(questions, answers, exam.PassingMarks)
	if err != nil {
		return nil, fmt.Errorf("failed to score attempt: %w", err)
	}

	records, err := encodeRecords(score.Records)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		current, err := txRepo.Attempt().GetOpenAttempt(ctx, nil, attempt.UserID, attempt.ExamID)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return ErrAttemptFinalized
			}
			return err
		}

		current.Status = models.AttemptCompleted
		current.SubmittedAt = &now
		current.TimeTaken = timeTaken
		current.Answers = records
		current.MarksObtained = score.MarksObtained
		current.Percentage = score.Percentage
		current.Passed = score.Passed
		current.Progress = nil

		if err := txRepo.Attempt().Update(ctx, nil, current); err != nil {
			return err
		}
		attempt = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Attempt finalized",
		"attempt_id", attempt.ID,
		"user_id", attempt.UserID,
		"exam_id", attempt.ExamID,
		"percentage", score.Percentage,
		"passed", score.Passed,
		"auto", auto)

	s.publishCompleted(ctx, attempt, auto)

	summary := buildSummary(attempt, exam, score)
	return summary, nil
}

// ===== RESULTS =====

func (s *attemptService) GetResults(ctx context.Context, userID string, examID uint) (*ResultDetail, error) {
	attempt, err := s.repo.Attempt().GetLatestCompleted(ctx, nil, userID, examID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrResultNotFound
		}
		return nil, fmt.Errorf("failed to load result: %w", err)
	}

	exam, err := s.repo.Exam().GetByID(ctx, nil, examID)
	if err != nil {
		return nil, fmt.Errorf("failed to load exam: %w", err)
	}

	questions, err := s.repo.Question().GetByExam(ctx, nil, examID)
	if err != nil {
		return nil, fmt.Errorf("failed to load questions: %w", err)
	}

	records, err := decodeRecords(attempt.Answers)
	if err != nil {
		return nil, err
	}

	return buildResultDetail(attempt, exam, questions, records)
}

func (s *attemptService) GetHistory(ctx context.Context, userID string, limit int) ([]HistoryEntry, error) {
	attempts, err := s.repo.Attempt().GetHistory(ctx, nil, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	entries := make([]HistoryEntry, 0, len(attempts))
	for _, a := range attempts {
		entries = append(entries, HistoryEntry{
			AttemptID:   a.ID,
			ExamID:      a.ExamID,
			ExamTitle:   a.Exam.Title,
			Percentage:  a.Percentage,
			Passed:      a.Passed,
			SubmittedAt: a.SubmittedAt,
			TimeTaken:   a.TimeTaken,
		})
	}
	return entries, nil
}

// ===== EVENTS =====

func (s *attemptService) publishStarted(ctx context.Context, attempt *models.Attempt) {
	if s.publisher == nil {
		return
	}
	event := events.AttemptStartedEvent{
		EventID:   uuid.New().String(),
		AttemptID: attempt.ID,
		ExamID:    attempt.ExamID,
		UserID:    attempt.UserID,
		StartedAt: attempt.StartedAt,
	}
	if err := s.publisher.PublishAttemptStarted(ctx, event); err != nil {
		s.logger.Error("Failed to publish attempt started event",
			"attempt_id", attempt.ID,
			"error", err)
	}
}

func (s *attemptService) publishCompleted(ctx context.Context, attempt *models.Attempt, auto bool) {
	if s.publisher == nil {
		return
	}
	submittedAt := time.Now()
	if attempt.SubmittedAt != nil {
		submittedAt = *attempt.SubmittedAt
	}
	event := events.AttemptCompletedEvent{
		EventID:       uuid.New().String(),
		AttemptID:     attempt.ID,
		ExamID:        attempt.ExamID,
		UserID:        attempt.UserID,
		MarksObtained: attempt.MarksObtained,
		Percentage:    attempt.Percentage,
		Passed:        attempt.Passed,
		AutoSubmitted: auto,
		SubmittedAt:   submittedAt,
	}
	if err := s.publisher.PublishAttemptCompleted(ctx, event); err != nil {
		s.logger.Error("Failed to publish attempt completed event",
			"attempt_id", attempt.ID,
			"error", err)
	}
}
