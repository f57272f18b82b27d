package services

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/SAP-F-2025/exam-service/internal/models"
	"github.com/SAP-F-2025/exam-service/internal/validator"
)

const (
	teacherID = "teacher-1"
	adminID   = "admin-1"
)

func newExamFixture(t *testing.T) (ExamService, *fakeStore) {
	t.Helper()

	store := newFakeStore()
	store.roles[adminID] = models.RoleAdmin
	store.roles[teacherID] = models.RoleTeacher

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	service := NewExamService(newFakeRepo(store), nil, logger, validator.New())
	return service, store
}

func validCreateRequest() *CreateExamRequest {
	return &CreateExamRequest{
		Title:        "go fundamentals",
		Duration:     30,
		PassingMarks: 40,
		MaxAttempts:  2,
		Questions: []CreateQuestionRequest{
			{
				Text:           "pick b",
				Type:           models.QuestionMCQ,
				Options:        []string{"a", "b", "c"},
				CorrectAnswers: []string{"b"},
				Marks:          2,
			},
			{
				Text:           "pick a and c",
				Type:           models.QuestionCheckbox,
				Options:        []string{"a", "b", "c"},
				CorrectAnswers: []string{"a", "c"},
				Marks:          3,
			},
		},
	}
}

func TestCreateExam_ComputesTotalMarks(t *testing.T) {
	service, store := newExamFixture(t)

	resp, err := service.Create(context.Background(), validCreateRequest(), teacherID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if resp.TotalMarks != 5 {
		t.Errorf("total marks = %d, want 5", resp.TotalMarks)
	}
	if resp.Status != models.ExamDraft {
		t.Errorf("status = %v, want draft", resp.Status)
	}
	if resp.QuestionCount != 2 {
		t.Errorf("question count = %d, want 2", resp.QuestionCount)
	}
	if resp.CreatedBy != teacherID {
		t.Errorf("created by = %q, want %q", resp.CreatedBy, teacherID)
	}

	// Question order follows the request when none is given.
	questions, err := newFakeRepo(store).Question().GetByExam(context.Background(), nil, resp.Exam.ID)
	if err != nil {
		t.Fatalf("GetByExam: %v", err)
	}
	if len(questions) != 2 || questions[0].Order != 1 || questions[1].Order != 2 {
		t.Errorf("question orders = %v", []int{questions[0].Order, questions[1].Order})
	}
}

func TestCreateExam_RejectsInvertedWindow(t *testing.T) {
	service, _ := newExamFixture(t)

	start := time.Now().Add(24 * time.Hour)
	end := start.Add(-time.Hour)
	req := validCreateRequest()
	req.StartDate = &start
	req.EndDate = &end

	_, err := service.Create(context.Background(), req, teacherID)
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateExam_RejectsChoiceQuestionWithoutKey(t *testing.T) {
	service, _ := newExamFixture(t)

	req := validCreateRequest()
	req.Questions[0].CorrectAnswers = nil

	_, err := service.Create(context.Background(), req, teacherID)
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateExam_RejectsCorrectAnswerOutsideOptions(t *testing.T) {
	service, _ := newExamFixture(t)

	req := validCreateRequest()
	req.Questions[1].CorrectAnswers = []string{"a", "d"}

	_, err := service.Create(context.Background(), req, teacherID)
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUpdateExam_RequiresManager(t *testing.T) {
	service, _ := newExamFixture(t)
	ctx := context.Background()

	resp, err := service.Create(ctx, validCreateRequest(), teacherID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	title := "renamed"
	req := &UpdateExamRequest{Title: &title}

	if _, err := service.Update(ctx, resp.Exam.ID, req, "student-1"); !IsPermissionError(err) {
		t.Fatalf("expected permission error, got %v", err)
	}

	// The creator and any admin both pass.
	if _, err := service.Update(ctx, resp.Exam.ID, req, teacherID); err != nil {
		t.Fatalf("Update as creator: %v", err)
	}
	if _, err := service.Update(ctx, resp.Exam.ID, req, adminID); err != nil {
		t.Fatalf("Update as admin: %v", err)
	}
}

func TestDeleteExam_RefusedWhenResultsExist(t *testing.T) {
	service, store := newExamFixture(t)
	ctx := context.Background()

	resp, err := service.Create(ctx, validCreateRequest(), teacherID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	now := time.Now()
	if err := newFakeRepo(store).Attempt().Create(ctx, nil, &models.Attempt{
		ExamID:      resp.Exam.ID,
		UserID:      "student-1",
		Status:      models.AttemptCompleted,
		StartedAt:   now.Add(-time.Hour),
		SubmittedAt: &now,
	}); err != nil {
		t.Fatalf("seed attempt: %v", err)
	}

	if err := service.Delete(ctx, resp.Exam.ID, teacherID); !errors.Is(err, ErrExamHasResults) {
		t.Fatalf("expected ErrExamHasResults, got %v", err)
	}
}

func TestDeleteExam_RemovesExamAndQuestions(t *testing.T) {
	service, store := newExamFixture(t)
	ctx := context.Background()

	resp, err := service.Create(ctx, validCreateRequest(), teacherID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := service.Delete(ctx, resp.Exam.ID, teacherID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := service.GetByID(ctx, resp.Exam.ID); !errors.Is(err, ErrExamNotFound) {
		t.Fatalf("expected ErrExamNotFound after delete, got %v", err)
	}
	count, err := newFakeRepo(store).Question().CountByExam(ctx, nil, resp.Exam.ID)
	if err != nil {
		t.Fatalf("CountByExam: %v", err)
	}
	if count != 0 {
		t.Errorf("questions left after delete = %d, want 0", count)
	}
}

func TestAddQuestion_SyncsTotalMarks(t *testing.T) {
	service, _ := newExamFixture(t)
	ctx := context.Background()

	resp, err := service.Create(ctx, validCreateRequest(), teacherID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	question, err := service.AddQuestion(ctx, resp.Exam.ID, &CreateQuestionRequest{
		Text:           "pick c",
		Type:           models.QuestionMCQ,
		Options:        []string{"a", "b", "c"},
		CorrectAnswers: []string{"c"},
		Marks:          4,
	}, teacherID)
	if err != nil {
		t.Fatalf("AddQuestion: %v", err)
	}
	if question.Order != 3 {
		t.Errorf("order = %d, want 3", question.Order)
	}

	updated, err := service.GetByID(ctx, resp.Exam.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.TotalMarks != 9 {
		t.Errorf("total marks = %d, want 9", updated.TotalMarks)
	}
}

func TestDeleteQuestion_WrongExam(t *testing.T) {
	service, _ := newExamFixture(t)
	ctx := context.Background()

	first, err := service.Create(ctx, validCreateRequest(), teacherID)
	if err != nil {
		t.Fatalf("Create first: %v", err)
	}
	second, err := service.Create(ctx, validCreateRequest(), teacherID)
	if err != nil {
		t.Fatalf("Create second: %v", err)
	}

	// The question belongs to the first exam, so deleting it through the
	// second must fail.
	question, err := service.AddQuestion(ctx, first.Exam.ID, &CreateQuestionRequest{
		Text:           "stray",
		Type:           models.QuestionMCQ,
		Options:        []string{"a", "b"},
		CorrectAnswers: []string{"a"},
		Marks:          1,
	}, teacherID)
	if err != nil {
		t.Fatalf("AddQuestion: %v", err)
	}

	err = service.DeleteQuestion(ctx, second.Exam.ID, question.ID, teacherID)
	if !errors.Is(err, ErrQuestionNotInExam) {
		t.Fatalf("expected ErrQuestionNotInExam, got %v", err)
	}
}

func TestGetSummary_HidesInactiveFromStudents(t *testing.T) {
	service, store := newExamFixture(t)
	ctx := context.Background()

	resp, err := service.Create(ctx, validCreateRequest(), teacherID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Draft exams are invisible to anyone but their managers.
	if _, err := service.GetSummary(ctx, resp.Exam.ID, "student-1"); !errors.Is(err, ErrExamNotFound) {
		t.Fatalf("expected ErrExamNotFound for student, got %v", err)
	}
	summary, err := service.GetSummary(ctx, resp.Exam.ID, teacherID)
	if err != nil {
		t.Fatalf("GetSummary as creator: %v", err)
	}
	if summary.QuestionCount != 2 || summary.TotalMarks != 5 {
		t.Errorf("summary = %+v", summary)
	}
	if summary.CountsByType["mcq"] != 1 || summary.CountsByType["checkbox"] != 1 {
		t.Errorf("counts by type = %v", summary.CountsByType)
	}

	// Once active it is public.
	store.mu.Lock()
	store.exams[resp.Exam.ID].Status = models.ExamActive
	store.mu.Unlock()

	if _, err := service.GetSummary(ctx, resp.Exam.ID, "student-1"); err != nil {
		t.Fatalf("GetSummary on active exam: %v", err)
	}
}

func TestGetForTaking_SanitizesQuestions(t *testing.T) {
	service, store := newExamFixture(t)
	ctx := context.Background()

	resp, err := service.Create(ctx, validCreateRequest(), teacherID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Still a draft, so takers cannot see it at all.
	if _, err := service.GetForTaking(ctx, resp.Exam.ID, "student-1"); !errors.Is(err, ErrExamNotFound) {
		t.Fatalf("expected ErrExamNotFound for draft, got %v", err)
	}

	store.mu.Lock()
	exam := store.exams[resp.Exam.ID]
	exam.Status = models.ExamActive
	exam.StartDate = time.Now().Add(-time.Hour)
	exam.EndDate = time.Now().Add(time.Hour)
	store.mu.Unlock()

	view, err := service.GetForTaking(ctx, resp.Exam.ID, "student-1")
	if err != nil {
		t.Fatalf("GetForTaking: %v", err)
	}
	if len(view.Questions) != 2 {
		t.Fatalf("questions = %d, want 2", len(view.Questions))
	}
	for _, q := range view.Questions {
		if q.CorrectAnswers != nil {
			t.Errorf("question %d leaked correct answers", q.ID)
		}
	}
}
