package services

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/SAP-F-2025/exam-service/internal/models"
)

// scoringService implements ScoringService. It is pure: the same questions
// and answers always produce the same result, and nothing is read or written
// outside the arguments.
type scoringService struct {
	logger *slog.Logger
}

func NewScoringService(logger *slog.Logger) ScoringService {
	return &scoringService{logger: logger}
}

// Score grades one answer sheet against the exam's questions.
//
// Answer keys are question IDs in decimal string form. Grading is
// all-or-nothing per question: full marks when correct, zero otherwise.
// An unanswered question is incorrect and counts as unattempted.
func (s *scoringService) Score(questions []*models.Question, answers map[string][]string, passingMarks int) (*ScoreResult, error) {
	result := &ScoreResult{
		Records: make([]models.AnswerRecord, 0, len(questions)),
	}

	for _, question := range questions {
		result.TotalMarks += question.Marks

		selected := answers[strconv.FormatUint(uint64(question.ID), 10)]

		record := models.AnswerRecord{
			QuestionID:    question.ID,
			Selected:      selected,
			MarksPossible: question.Marks,
		}

		if len(selected) == 0 {
			result.Unattempted++
			result.Records = append(result.Records, record)
			continue
		}

		correct, err := s.gradeQuestion(question, selected)
		if err != nil {
			return nil, fmt.Errorf("failed to grade question %d: %w", question.ID, err)
		}

		record.IsCorrect = correct
		if correct {
			record.MarksAwarded = float64(question.Marks)
			result.MarksObtained += float64(question.Marks)
			result.Correct++
		} else {
			result.Incorrect++
		}

		result.Records = append(result.Records, record)
	}

	if result.TotalMarks > 0 {
		result.Percentage = result.MarksObtained / float64(result.TotalMarks) * 100
	}
	result.Passed = result.Percentage >= float64(passingMarks)

	return result, nil
}

func (s *scoringService) gradeQuestion(question *models.Question, selected []string) (bool, error) {
	correctSet, err := decodeAnswerSet(question.CorrectAnswers)
	if err != nil {
		return false, err
	}

	switch question.Type {
	case models.QuestionMCQ:
		return s.gradeMCQ(correctSet, selected), nil
	case models.QuestionCheckbox:
		return s.gradeCheckbox(correctSet, selected), nil
	case models.QuestionText:
		// Free text waits for a human; it never earns marks automatically.
		return false, nil
	default:
		return false, fmt.Errorf("unknown question type %q", question.Type)
	}
}

// gradeMCQ: the single selected option must be a member of the correct set.
func (s *scoringService) gradeMCQ(correctSet, selected []string) bool {
	if len(selected) != 1 {
		return false
	}
	for _, c := range correctSet {
		if c == selected[0] {
			return true
		}
	}
	return false
}

// gradeCheckbox: selected set must equal the correct set, order independent.
func (s *scoringService) gradeCheckbox(correctSet, selected []string) bool {
	if len(selected) != len(correctSet) {
		return false
	}

	a := sortedCopy(selected)
	b := sortedCopy(correctSet)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

func decodeAnswerSet(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var set []string
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("failed to decode correct answers: %w", err)
	}
	return set, nil
}
