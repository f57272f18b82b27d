package services

import (
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"gorm.io/datatypes"

	"github.com/SAP-F-2025/exam-service/internal/models"
)

func newTestScoringService() ScoringService {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	return NewScoringService(logger)
}

func mustJSON(t *testing.T, v interface{}) datatypes.JSON {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return datatypes.JSON(data)
}

func testQuestion(t *testing.T, id uint, qType models.QuestionType, correct []string, marks int) *models.Question {
	t.Helper()
	q := &models.Question{
		ID:    id,
		Text:  "question",
		Type:  qType,
		Marks: marks,
	}
	if correct != nil {
		q.CorrectAnswers = mustJSON(t, correct)
	}
	return q
}

func TestScore_AllCorrectIsFullMarks(t *testing.T) {
	svc := newTestScoringService()

	questions := []*models.Question{
		testQuestion(t, 1, models.QuestionMCQ, []string{"b"}, 2),
		testQuestion(t, 2, models.QuestionCheckbox, []string{"a", "c"}, 3),
	}
	answers := map[string][]string{
		"1": {"b"},
		"2": {"a", "c"},
	}

	result, err := svc.Score(questions, answers, 40)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	if result.MarksObtained != 5 {
		t.Errorf("marks obtained = %v, want 5", result.MarksObtained)
	}
	if result.Percentage != 100 {
		t.Errorf("percentage = %v, want 100", result.Percentage)
	}
	if !result.Passed {
		t.Error("expected passed")
	}
	if result.Correct != 2 || result.Incorrect != 0 || result.Unattempted != 0 {
		t.Errorf("counts = %d/%d/%d, want 2/0/0", result.Correct, result.Incorrect, result.Unattempted)
	}
}

func TestScore_EmptySheetIsZero(t *testing.T) {
	svc := newTestScoringService()

	questions := []*models.Question{
		testQuestion(t, 1, models.QuestionMCQ, []string{"a"}, 2),
		testQuestion(t, 2, models.QuestionCheckbox, []string{"a", "b"}, 3),
		testQuestion(t, 3, models.QuestionText, nil, 5),
	}

	result, err := svc.Score(questions, map[string][]string{}, 40)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	if result.MarksObtained != 0 {
		t.Errorf("marks obtained = %v, want 0", result.MarksObtained)
	}
	if result.Percentage != 0 {
		t.Errorf("percentage = %v, want 0", result.Percentage)
	}
	if result.Passed {
		t.Error("expected not passed")
	}
	if result.Unattempted != 3 {
		t.Errorf("unattempted = %d, want 3", result.Unattempted)
	}
}

func TestScore_MixedSheet(t *testing.T) {
	svc := newTestScoringService()

	// mcq worth 2 answered correctly, checkbox worth 3 missing one selection:
	// 2 of 5 marks is exactly 40 percent.
	questions := []*models.Question{
		testQuestion(t, 1, models.QuestionMCQ, []string{"b"}, 2),
		testQuestion(t, 2, models.QuestionCheckbox, []string{"a", "c"}, 3),
	}
	answers := map[string][]string{
		"1": {"b"},
		"2": {"a"},
	}

	result, err := svc.Score(questions, answers, 40)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	if result.MarksObtained != 2 {
		t.Errorf("marks obtained = %v, want 2", result.MarksObtained)
	}
	if result.Percentage != 40 {
		t.Errorf("percentage = %v, want 40", result.Percentage)
	}
	if !result.Passed {
		t.Error("40 percent with threshold 40 should pass")
	}

	strict, err := svc.Score(questions, answers, 41)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if strict.Passed {
		t.Error("40 percent with threshold 41 should fail")
	}
}

func TestScore_CheckboxOrderIndependent(t *testing.T) {
	svc := newTestScoringService()

	questions := []*models.Question{
		testQuestion(t, 1, models.QuestionCheckbox, []string{"a", "b", "c"}, 3),
	}

	cases := []struct {
		name     string
		selected []string
		correct  bool
	}{
		{"same order", []string{"a", "b", "c"}, true},
		{"reversed", []string{"c", "b", "a"}, true},
		{"shuffled", []string{"b", "c", "a"}, true},
		{"missing one", []string{"a", "b"}, false},
		{"extra one", []string{"a", "b", "c", "d"}, false},
		{"disjoint", []string{"x", "y", "z"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := svc.Score(questions, map[string][]string{"1": tc.selected}, 50)
			if err != nil {
				t.Fatalf("Score: %v", err)
			}
			got := result.Records[0].IsCorrect
			if got != tc.correct {
				t.Errorf("is_correct = %v, want %v", got, tc.correct)
			}
		})
	}
}

func TestScore_MCQMembership(t *testing.T) {
	svc := newTestScoringService()

	// Two acceptable answers; either one earns the marks.
	questions := []*models.Question{
		testQuestion(t, 1, models.QuestionMCQ, []string{"a", "b"}, 4),
	}

	cases := []struct {
		name     string
		selected []string
		correct  bool
	}{
		{"first member", []string{"a"}, true},
		{"second member", []string{"b"}, true},
		{"non member", []string{"c"}, false},
		{"multiple selections rejected", []string{"a", "b"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := svc.Score(questions, map[string][]string{"1": tc.selected}, 50)
			if err != nil {
				t.Fatalf("Score: %v", err)
			}
			if result.Records[0].IsCorrect != tc.correct {
				t.Errorf("is_correct = %v, want %v", result.Records[0].IsCorrect, tc.correct)
			}
		})
	}
}

func TestScore_TextNeverAutoGraded(t *testing.T) {
	svc := newTestScoringService()

	questions := []*models.Question{
		testQuestion(t, 1, models.QuestionText, nil, 10),
	}
	answers := map[string][]string{"1": {"a thorough essay"}}

	result, err := svc.Score(questions, answers, 10)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	if result.Records[0].IsCorrect {
		t.Error("text answers must not be auto-graded correct")
	}
	if result.MarksObtained != 0 {
		t.Errorf("marks obtained = %v, want 0", result.MarksObtained)
	}
	// Answered, so it counts as incorrect rather than unattempted.
	if result.Incorrect != 1 || result.Unattempted != 0 {
		t.Errorf("counts = incorrect %d unattempted %d, want 1/0", result.Incorrect, result.Unattempted)
	}
}

func TestScore_NoQuestionsGuardsDivisionByZero(t *testing.T) {
	svc := newTestScoringService()

	result, err := svc.Score(nil, map[string][]string{}, 40)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	if result.Percentage != 0 {
		t.Errorf("percentage = %v, want 0", result.Percentage)
	}
	if result.Passed {
		t.Error("zero total marks must not pass a positive threshold")
	}
}

func TestScore_Deterministic(t *testing.T) {
	svc := newTestScoringService()

	questions := []*models.Question{
		testQuestion(t, 1, models.QuestionMCQ, []string{"a"}, 2),
		testQuestion(t, 2, models.QuestionCheckbox, []string{"x", "y"}, 3),
	}
	answers := map[string][]string{"1": {"a"}, "2": {"y", "x"}}

	first, err := svc.Score(questions, answers, 40)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := svc.Score(questions, answers, 40)
		if err != nil {
			t.Fatalf("Score: %v", err)
		}
		if again.MarksObtained != first.MarksObtained || again.Percentage != first.Percentage {
			t.Fatalf("run %d differs: %v vs %v", i, again, first)
		}
	}
}

func BenchmarkScore(b *testing.B) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := NewScoringService(logger)

	correct, _ := json.Marshal([]string{"a", "b"})
	questions := make([]*models.Question, 50)
	answers := make(map[string][]string, 50)
	for i := range questions {
		questions[i] = &models.Question{
			ID:             uint(i + 1),
			Type:           models.QuestionCheckbox,
			CorrectAnswers: datatypes.JSON(correct),
			Marks:          2,
		}
		answers[string(rune('0'+i%10))] = []string{"b", "a"}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := svc.Score(questions, answers, 50); err != nil {
			b.Fatal(err)
		}
	}
}
