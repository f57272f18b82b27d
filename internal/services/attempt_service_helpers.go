package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gorm.io/datatypes"

	"github.com/SAP-F-2025/exam-service/internal/models"
	"github.com/SAP-F-2025/exam-service/internal/repositories"
)

// ===== LOOKUPS =====

func (s *attemptService) requireOpenAttempt(ctx context.Context, userID string, examID uint) (*models.Attempt, error) {
	attempt, err := s.repo.Attempt().GetOpenAttempt(ctx, nil, userID, examID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrNoActiveAttempt
		}
		return nil, fmt.Errorf("failed to load open attempt: %w", err)
	}
	return attempt, nil
}

// checkEligibility enforces every start precondition: exam active, window
// open, whitelist membership, attempt budget. Only completed attempts burn
// the budget. A non-active exam reads as not found so that drafts and
// archived exams are indistinguishable from missing ones.
func checkEligibility(ctx context.Context, repo repositories.Repository, exam *models.Exam, userID string) error {
	if exam.Status != models.ExamActive {
		return ErrExamNotFound
	}

	if !exam.IsOpenAt(time.Now()) {
		return NewEligibilityError("exam is outside its availability window")
	}

	allowed, err := userAllowed(exam.AllowedUsers, userID)
	if err != nil {
		return fmt.Errorf("failed to check allowed users: %w", err)
	}
	if !allowed {
		return NewEligibilityError("user is not on the exam's allowed list")
	}

	if exam.MaxAttempts > 0 {
		completed, err := repo.Attempt().CountCompleted(ctx, nil, userID, exam.ID)
		if err != nil {
			return fmt.Errorf("failed to count attempts: %w", err)
		}
		if completed >= int64(exam.MaxAttempts) {
			return NewEligibilityError("maximum attempts reached")
		}
	}

	return nil
}

// userAllowed checks whitelist membership. An empty or absent list means the
// exam is open to everyone.
func userAllowed(allowedUsers datatypes.JSON, userID string) (bool, error) {
	if len(allowedUsers) == 0 {
		return true, nil
	}
	var ids []string
	if err := json.Unmarshal(allowedUsers, &ids); err != nil {
		return false, fmt.Errorf("failed to decode allowed users: %w", err)
	}
	if len(ids) == 0 {
		return true, nil
	}
	for _, id := range ids {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

// ===== RESPONSE BUILDERS =====

func (s *attemptService) buildAttemptResponse(attempt *models.Attempt, exam *models.Exam, resumed bool) (*AttemptResponse, error) {
	snapshot, err := decodeSnapshot(attempt.Progress)
	if err != nil {
		return nil, err
	}

	timeRemaining := exam.Duration * 60
	if snapshot != nil {
		timeRemaining = snapshot.TimeRemaining
	}

	return &AttemptResponse{
		AttemptID:     attempt.ID,
		ExamID:        attempt.ExamID,
		Status:        attempt.Status,
		StartedAt:     attempt.StartedAt,
		TimeRemaining: timeRemaining,
		Resumed:       resumed,
		Progress:      snapshot,
		Exam:          buildTakingView(exam),
	}, nil
}

// buildTakingView strips everything a taker must not see.
func buildTakingView(exam *models.Exam) *ExamTakingView {
	questions := make([]models.Question, 0, len(exam.Questions))
	for _, q := range exam.Questions {
		questions = append(questions, q.Sanitized())
	}

	return &ExamTakingView{
		ID:           exam.ID,
		Title:        exam.Title,
		Description:  exam.Description,
		Duration:     exam.Duration,
		TotalMarks:   exam.TotalMarks,
		PassingMarks: exam.PassingMarks,
		Instructions: exam.Instructions,
		EndDate:      exam.EndDate,
		Questions:    questions,
	}
}

func buildSummary(attempt *models.Attempt, exam *models.Exam, score *ScoreResult) *ResultSummary {
	return &ResultSummary{
		AttemptID:        attempt.ID,
		ExamID:           attempt.ExamID,
		ExamTitle:        exam.Title,
		Status:           attempt.Status,
		MarksObtained:    score.MarksObtained,
		TotalMarks:       score.TotalMarks,
		Percentage:       score.Percentage,
		Passed:           score.Passed,
		SubmittedAt:      attempt.SubmittedAt,
		TimeTaken:        attempt.TimeTaken,
		CorrectCount:     score.Correct,
		IncorrectCount:   score.Incorrect,
		UnattemptedCount: score.Unattempted,
	}
}

// buildStoredSummary rebuilds a summary from a finalized attempt without
// re-scoring anything.
func (s *attemptService) buildStoredSummary(ctx context.Context, attempt *models.Attempt) (*ResultSummary, error) {
	exam, err := s.repo.Exam().GetByID(ctx, nil, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("failed to load exam: %w", err)
	}

	records, err := decodeRecords(attempt.Answers)
	if err != nil {
		return nil, err
	}

	correct, incorrect, unattempted, totalMarks := tallyRecords(records)

	return &ResultSummary{
		AttemptID:        attempt.ID,
		ExamID:           attempt.ExamID,
		ExamTitle:        exam.Title,
		Status:           attempt.Status,
		MarksObtained:    attempt.MarksObtained,
		TotalMarks:       totalMarks,
		Percentage:       attempt.Percentage,
		Passed:           attempt.Passed,
		SubmittedAt:      attempt.SubmittedAt,
		TimeTaken:        attempt.TimeTaken,
		CorrectCount:     correct,
		IncorrectCount:   incorrect,
		UnattemptedCount: unattempted,
	}, nil
}

func buildResultDetail(attempt *models.Attempt, exam *models.Exam, questions []*models.Question, records []models.AnswerRecord) (*ResultDetail, error) {
	recordsByQuestion := make(map[uint]models.AnswerRecord, len(records))
	for _, r := range records {
		recordsByQuestion[r.QuestionID] = r
	}

	breakdown := make([]QuestionResult, 0, len(questions))
	for _, q := range questions {
		record := recordsByQuestion[q.ID]

		options, err := decodeStringSet(q.Options)
		if err != nil {
			return nil, fmt.Errorf("failed to decode options for question %d: %w", q.ID, err)
		}
		correctSet, err := decodeStringSet(q.CorrectAnswers)
		if err != nil {
			return nil, fmt.Errorf("failed to decode correct answers for question %d: %w", q.ID, err)
		}

		breakdown = append(breakdown, QuestionResult{
			QuestionID:     q.ID,
			Text:           q.Text,
			Type:           q.Type,
			Options:        options,
			Selected:       record.Selected,
			CorrectAnswers: correctSet,
			Explanation:    q.Explanation,
			IsCorrect:      record.IsCorrect,
			MarksAwarded:   record.MarksAwarded,
			MarksPossible:  q.Marks,
		})
	}

	correct, incorrect, unattempted, totalMarks := tallyRecords(records)

	return &ResultDetail{
		ResultSummary: ResultSummary{
			AttemptID:        attempt.ID,
			ExamID:           attempt.ExamID,
			ExamTitle:        exam.Title,
			Status:           attempt.Status,
			MarksObtained:    attempt.MarksObtained,
			TotalMarks:       totalMarks,
			Percentage:       attempt.Percentage,
			Passed:           attempt.Passed,
			SubmittedAt:      attempt.SubmittedAt,
			TimeTaken:        attempt.TimeTaken,
			CorrectCount:     correct,
			IncorrectCount:   incorrect,
			UnattemptedCount: unattempted,
		},
		Breakdown: breakdown,
	}, nil
}

func tallyRecords(records []models.AnswerRecord) (correct, incorrect, unattempted, totalMarks int) {
	for _, r := range records {
		totalMarks += r.MarksPossible
		switch {
		case len(r.Selected) == 0:
			unattempted++
		case r.IsCorrect:
			correct++
		default:
			incorrect++
		}
	}
	return
}

// ===== JSON CODECS =====

func questionKey(questionID uint) string {
	return strconv.FormatUint(uint64(questionID), 10)
}

func encodeSnapshot(snapshot *models.ProgressSnapshot) (datatypes.JSON, error) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to encode progress snapshot: %w", err)
	}
	return datatypes.JSON(data), nil
}

func decodeSnapshot(raw datatypes.JSON) (*models.ProgressSnapshot, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var snapshot models.ProgressSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode progress snapshot: %w", err)
	}
	return &snapshot, nil
}

func encodeRecords(records []models.AnswerRecord) (datatypes.JSON, error) {
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("failed to encode answer records: %w", err)
	}
	return datatypes.JSON(data), nil
}

func decodeRecords(raw datatypes.JSON) ([]models.AnswerRecord, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var records []models.AnswerRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("failed to decode answer records: %w", err)
	}
	return records, nil
}

func decodeStringSet(raw datatypes.JSON) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var set []string
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, err
	}
	return set, nil
}
