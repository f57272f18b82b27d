package services

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/SAP-F-2025/exam-service/internal/cache"
	"github.com/SAP-F-2025/exam-service/internal/events"
	"github.com/SAP-F-2025/exam-service/internal/models"
	"github.com/SAP-F-2025/exam-service/internal/validator"
)

type attemptFixture struct {
	service   AttemptService
	store     *fakeStore
	publisher *events.MockEventPublisher
	examID    uint
}

// newAttemptFixture seeds one active exam with an mcq worth 2 marks
// (question 1, answer "b") and a checkbox worth 3 marks (question 2,
// answers "a" and "c").
func newAttemptFixture(t *testing.T, maxAttempts int) *attemptFixture {
	t.Helper()

	store := newFakeStore()
	repo := newFakeRepo(store)
	ctx := context.Background()

	exam := &models.Exam{
		Title:        "networking basics",
		Duration:     30,
		TotalMarks:   5,
		PassingMarks: 40,
		MaxAttempts:  maxAttempts,
		Status:       models.ExamActive,
		StartDate:    time.Now().Add(-time.Hour),
		EndDate:      time.Now().Add(time.Hour),
		CreatedBy:    "teacher-1",
	}
	if err := repo.Exam().Create(ctx, nil, exam); err != nil {
		t.Fatalf("seed exam: %v", err)
	}

	questions := []*models.Question{
		{
			ExamID:         exam.ID,
			Text:           "pick b",
			Type:           models.QuestionMCQ,
			Options:        mustJSON(t, []string{"a", "b", "c"}),
			CorrectAnswers: mustJSON(t, []string{"b"}),
			Marks:          2,
			Order:          1,
		},
		{
			ExamID:         exam.ID,
			Text:           "pick a and c",
			Type:           models.QuestionCheckbox,
			Options:        mustJSON(t, []string{"a", "b", "c"}),
			CorrectAnswers: mustJSON(t, []string{"a", "c"}),
			Marks:          3,
			Order:          2,
		},
	}
	if err := repo.Question().CreateBatch(ctx, nil, questions); err != nil {
		t.Fatalf("seed questions: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	publisher := events.NewMockEventPublisher()

	service := NewAttemptService(
		repo,
		nil,
		logger,
		validator.New(),
		NewScoringService(logger),
		cache.NewLocalAttemptLocker(),
		publisher,
	)

	return &attemptFixture{
		service:   service,
		store:     store,
		publisher: publisher,
		examID:    exam.ID,
	}
}

const testUser = "student-1"

func TestStart_CreatesAttempt(t *testing.T) {
	f := newAttemptFixture(t, 2)
	ctx := context.Background()

	resp, err := f.service.Start(ctx, testUser, f.examID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if resp.Status != models.AttemptInProgress {
		t.Errorf("status = %v, want in_progress", resp.Status)
	}
	if resp.Resumed {
		t.Error("fresh start must not report resumed")
	}
	if resp.TimeRemaining != 30*60 {
		t.Errorf("time remaining = %d, want %d", resp.TimeRemaining, 30*60)
	}
	if resp.Exam == nil || len(resp.Exam.Questions) != 2 {
		t.Fatal("expected sanitized exam with both questions")
	}
	for _, q := range resp.Exam.Questions {
		if q.CorrectAnswers != nil {
			t.Errorf("question %d leaked correct answers", q.ID)
		}
		if q.Explanation != "" {
			t.Errorf("question %d leaked explanation", q.ID)
		}
	}

	started := f.publisher.GetPublishedEventsForTopic(events.TopicAttemptStarted)
	if len(started) != 1 {
		t.Errorf("started events = %d, want 1", len(started))
	}
}

func TestStart_ResumesOpenAttempt(t *testing.T) {
	f := newAttemptFixture(t, 2)
	ctx := context.Background()

	first, err := f.service.Start(ctx, testUser, f.examID)
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	second, err := f.service.Start(ctx, testUser, f.examID)
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}

	if second.AttemptID != first.AttemptID {
		t.Errorf("resumed attempt ID = %d, want %d", second.AttemptID, first.AttemptID)
	}
	if !second.Resumed {
		t.Error("second start must report resumed")
	}

	// A resume is not a new attempt, so no second event.
	started := f.publisher.GetPublishedEventsForTopic(events.TopicAttemptStarted)
	if len(started) != 1 {
		t.Errorf("started events = %d, want 1", len(started))
	}
}

func TestStart_ConcurrentStartsShareOneAttempt(t *testing.T) {
	f := newAttemptFixture(t, 2)
	ctx := context.Background()

	const workers = 10
	ids := make([]uint, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := f.service.Start(ctx, testUser, f.examID)
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = resp.AttemptID
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: %v", i, err)
		}
	}
	for i := 1; i < workers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("worker %d got attempt %d, worker 0 got %d", i, ids[i], ids[0])
		}
	}

	f.store.mu.Lock()
	total := len(f.store.attempts)
	f.store.mu.Unlock()
	if total != 1 {
		t.Errorf("stored attempts = %d, want 1", total)
	}
}

func TestStart_MaxAttemptsReached(t *testing.T) {
	f := newAttemptFixture(t, 1)
	ctx := context.Background()

	if _, err := f.service.Start(ctx, testUser, f.examID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := f.service.Submit(ctx, testUser, f.examID, &SubmitAttemptRequest{
		Answers: map[string][]string{"1": {"b"}},
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	_, err := f.service.Start(ctx, testUser, f.examID)
	if !IsEligibilityError(err) {
		t.Fatalf("expected eligibility error, got %v", err)
	}
}

func TestStart_WhitelistEnforced(t *testing.T) {
	f := newAttemptFixture(t, 2)
	ctx := context.Background()

	f.store.mu.Lock()
	f.store.exams[f.examID].AllowedUsers = mustJSON(t, []string{"someone-else"})
	f.store.mu.Unlock()

	if _, err := f.service.Start(ctx, testUser, f.examID); !IsEligibilityError(err) {
		t.Fatalf("expected eligibility error, got %v", err)
	}

	// An empty whitelist leaves the exam open to everyone.
	f.store.mu.Lock()
	f.store.exams[f.examID].AllowedUsers = mustJSON(t, []string{})
	f.store.mu.Unlock()

	if _, err := f.service.Start(ctx, testUser, f.examID); err != nil {
		t.Fatalf("Start with empty whitelist: %v", err)
	}
}

func TestStart_ExamNotFound(t *testing.T) {
	f := newAttemptFixture(t, 2)

	_, err := f.service.Start(context.Background(), testUser, 999)
	if err != ErrExamNotFound {
		t.Fatalf("expected ErrExamNotFound, got %v", err)
	}
}

func TestStart_InactiveExamReadsAsNotFound(t *testing.T) {
	f := newAttemptFixture(t, 2)
	ctx := context.Background()

	// A draft or archived exam is indistinguishable from a missing one.
	for _, status := range []models.ExamStatus{models.ExamDraft, models.ExamArchived} {
		f.store.mu.Lock()
		f.store.exams[f.examID].Status = status
		f.store.mu.Unlock()

		if _, err := f.service.Start(ctx, testUser, f.examID); err != ErrExamNotFound {
			t.Fatalf("status %s: expected ErrExamNotFound, got %v", status, err)
		}
	}
}

func TestSaveProgress_RoundTrip(t *testing.T) {
	f := newAttemptFixture(t, 2)
	ctx := context.Background()

	if _, err := f.service.Start(ctx, testUser, f.examID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	req := &SaveProgressRequest{
		CurrentQuestion: 1,
		Answers:         map[string][]string{"1": {"b"}},
		MarkedQuestions: []uint{2},
		TimeRemaining:   1200,
	}
	if err := f.service.SaveProgress(ctx, testUser, f.examID, req); err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}

	progress, err := f.service.GetProgress(ctx, testUser, f.examID)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if progress == nil {
		t.Fatal("expected a progress snapshot")
	}
	if progress.CurrentQuestion != 1 || progress.TimeRemaining != 1200 {
		t.Errorf("snapshot = %+v", progress)
	}
	if got := progress.Answers["1"]; len(got) != 1 || got[0] != "b" {
		t.Errorf("answers[1] = %v, want [b]", got)
	}
	if len(progress.MarkedQuestions) != 1 || progress.MarkedQuestions[0] != 2 {
		t.Errorf("marked = %v, want [2]", progress.MarkedQuestions)
	}
}

func TestSaveProgress_RequiresOpenAttempt(t *testing.T) {
	f := newAttemptFixture(t, 2)
	ctx := context.Background()

	req := &SaveProgressRequest{
		CurrentQuestion: 0,
		Answers:         map[string][]string{"1": {"a"}},
		TimeRemaining:   1700,
	}
	if err := f.service.SaveProgress(ctx, testUser, f.examID, req); err != ErrNoActiveAttempt {
		t.Fatalf("expected ErrNoActiveAttempt, got %v", err)
	}

	f.store.mu.Lock()
	total := len(f.store.attempts)
	f.store.mu.Unlock()
	if total != 0 {
		t.Errorf("stored attempts = %d, want 0", total)
	}
}

func TestSaveProgress_StaleSaveAfterSubmit(t *testing.T) {
	f := newAttemptFixture(t, 5)
	ctx := context.Background()

	if _, err := f.service.Start(ctx, testUser, f.examID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := f.service.Submit(ctx, testUser, f.examID, &SubmitAttemptRequest{
		Answers: map[string][]string{"1": {"b"}},
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// An autosave racing the submit must not reopen the exam.
	err := f.service.SaveProgress(ctx, testUser, f.examID, &SaveProgressRequest{
		Answers:       map[string][]string{"1": {"a"}},
		TimeRemaining: 300,
	})
	if err != ErrNoActiveAttempt {
		t.Fatalf("expected ErrNoActiveAttempt, got %v", err)
	}

	f.store.mu.Lock()
	var open int
	for _, a := range f.store.attempts {
		if a.Status == models.AttemptInProgress {
			open++
		}
	}
	f.store.mu.Unlock()
	if open != 0 {
		t.Errorf("open attempts after stale save = %d, want 0", open)
	}
}

func TestGetProgress_NoAttemptIsNil(t *testing.T) {
	f := newAttemptFixture(t, 2)

	progress, err := f.service.GetProgress(context.Background(), testUser, f.examID)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if progress != nil {
		t.Errorf("progress = %+v, want nil", progress)
	}
}

func TestToggleMark_Cycle(t *testing.T) {
	f := newAttemptFixture(t, 2)
	ctx := context.Background()

	if _, err := f.service.Start(ctx, testUser, f.examID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	marked, err := f.service.ToggleMark(ctx, testUser, f.examID, 1)
	if err != nil {
		t.Fatalf("ToggleMark: %v", err)
	}
	if !marked.Marked {
		t.Error("first toggle should mark the question")
	}

	unmarked, err := f.service.ToggleMark(ctx, testUser, f.examID, 1)
	if err != nil {
		t.Fatalf("ToggleMark: %v", err)
	}
	if unmarked.Marked {
		t.Error("second toggle should unmark the question")
	}
}

func TestToggleMark_NoAttempt(t *testing.T) {
	f := newAttemptFixture(t, 2)

	_, err := f.service.ToggleMark(context.Background(), testUser, f.examID, 1)
	if err != ErrNoActiveAttempt {
		t.Fatalf("expected ErrNoActiveAttempt, got %v", err)
	}
}

func TestClearAnswer_RemovesDraft(t *testing.T) {
	f := newAttemptFixture(t, 2)
	ctx := context.Background()

	if _, err := f.service.Start(ctx, testUser, f.examID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.service.SaveProgress(ctx, testUser, f.examID, &SaveProgressRequest{
		Answers:       map[string][]string{"1": {"b"}, "2": {"a", "c"}},
		TimeRemaining: 900,
	}); err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}

	if err := f.service.ClearAnswer(ctx, testUser, f.examID, 1); err != nil {
		t.Fatalf("ClearAnswer: %v", err)
	}

	progress, err := f.service.GetProgress(ctx, testUser, f.examID)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if _, ok := progress.Answers["1"]; ok {
		t.Error("answer for question 1 should be gone")
	}
	if _, ok := progress.Answers["2"]; !ok {
		t.Error("answer for question 2 should survive")
	}

	// Clearing a question with no draft is a no-op.
	if err := f.service.ClearAnswer(ctx, testUser, f.examID, 1); err != nil {
		t.Fatalf("ClearAnswer repeat: %v", err)
	}
}

func TestSubmit_ScoresAndFinalizes(t *testing.T) {
	f := newAttemptFixture(t, 2)
	ctx := context.Background()

	resp, err := f.service.Start(ctx, testUser, f.examID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	summary, err := f.service.Submit(ctx, testUser, f.examID, &SubmitAttemptRequest{
		Answers: map[string][]string{
			"1": {"b"},
			"2": {"c", "a"},
		},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if summary.AttemptID != resp.AttemptID {
		t.Errorf("attempt ID = %d, want %d", summary.AttemptID, resp.AttemptID)
	}
	if summary.MarksObtained != 5 || summary.Percentage != 100 || !summary.Passed {
		t.Errorf("summary = %+v, want full marks", summary)
	}
	if summary.Status != models.AttemptCompleted {
		t.Errorf("status = %v, want completed", summary.Status)
	}
	if summary.SubmittedAt == nil {
		t.Error("submitted_at must be set")
	}

	// Finalization clears the draft.
	f.store.mu.Lock()
	stored := f.store.attempts[summary.AttemptID]
	f.store.mu.Unlock()
	if stored.Progress != nil {
		t.Error("progress must be cleared on finalization")
	}

	completed := f.publisher.GetPublishedEventsForTopic(events.TopicAttemptCompleted)
	if len(completed) != 1 {
		t.Fatalf("completed events = %d, want 1", len(completed))
	}
	event := completed[0].Payload.(events.AttemptCompletedEvent)
	if event.AutoSubmitted {
		t.Error("explicit submit must not be flagged auto")
	}
}

func TestSubmit_UsesDraftWhenAnswersOmitted(t *testing.T) {
	f := newAttemptFixture(t, 2)
	ctx := context.Background()

	if _, err := f.service.Start(ctx, testUser, f.examID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.service.SaveProgress(ctx, testUser, f.examID, &SaveProgressRequest{
		Answers:       map[string][]string{"1": {"b"}},
		TimeRemaining: 600,
	}); err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}

	summary, err := f.service.Submit(ctx, testUser, f.examID, &SubmitAttemptRequest{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Draft had only the mcq right: 2 of 5 marks.
	if summary.MarksObtained != 2 {
		t.Errorf("marks obtained = %v, want 2", summary.MarksObtained)
	}
	if summary.CorrectCount != 1 || summary.UnattemptedCount != 1 {
		t.Errorf("counts = %d correct %d unattempted, want 1/1",
			summary.CorrectCount, summary.UnattemptedCount)
	}
}

func TestSubmit_Idempotent(t *testing.T) {
	f := newAttemptFixture(t, 5)
	ctx := context.Background()

	if _, err := f.service.Start(ctx, testUser, f.examID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	first, err := f.service.Submit(ctx, testUser, f.examID, &SubmitAttemptRequest{
		Answers: map[string][]string{"1": {"b"}},
	})
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}

	// Same answers, attempt already finalized: stored result, no re-score.
	second, err := f.service.Submit(ctx, testUser, f.examID, &SubmitAttemptRequest{
		Answers: map[string][]string{"1": {"b"}},
	})
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}

	if second.AttemptID != first.AttemptID {
		t.Errorf("attempt ID = %d, want %d", second.AttemptID, first.AttemptID)
	}
	if second.MarksObtained != first.MarksObtained || second.Percentage != first.Percentage {
		t.Errorf("stored result changed: %+v vs %+v", second, first)
	}

	// The duplicate must not burn another attempt or emit another event.
	count, err := newFakeRepo(f.store).Attempt().CountCompleted(ctx, nil, testUser, f.examID)
	if err != nil {
		t.Fatalf("CountCompleted: %v", err)
	}
	if count != 1 {
		t.Errorf("completed attempts = %d, want 1", count)
	}
	completed := f.publisher.GetPublishedEventsForTopic(events.TopicAttemptCompleted)
	if len(completed) != 1 {
		t.Errorf("completed events = %d, want 1", len(completed))
	}
}

func TestSubmit_NoAttempt(t *testing.T) {
	f := newAttemptFixture(t, 2)

	_, err := f.service.Submit(context.Background(), testUser, f.examID, &SubmitAttemptRequest{
		Answers: map[string][]string{"1": {"b"}},
	})
	if err != ErrNoActiveAttempt {
		t.Fatalf("expected ErrNoActiveAttempt, got %v", err)
	}
}

func TestAutoSubmit_UsesDraft(t *testing.T) {
	f := newAttemptFixture(t, 2)
	ctx := context.Background()

	if _, err := f.service.Start(ctx, testUser, f.examID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.service.SaveProgress(ctx, testUser, f.examID, &SaveProgressRequest{
		Answers:       map[string][]string{"2": {"a", "c"}},
		TimeRemaining: 0,
	}); err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}

	summary, err := f.service.AutoSubmit(ctx, testUser, f.examID)
	if err != nil {
		t.Fatalf("AutoSubmit: %v", err)
	}

	if summary.MarksObtained != 3 {
		t.Errorf("marks obtained = %v, want 3", summary.MarksObtained)
	}

	completed := f.publisher.GetPublishedEventsForTopic(events.TopicAttemptCompleted)
	if len(completed) != 1 {
		t.Fatalf("completed events = %d, want 1", len(completed))
	}
	event := completed[0].Payload.(events.AttemptCompletedEvent)
	if !event.AutoSubmitted {
		t.Error("auto submit must be flagged auto")
	}
}

func TestAutoSubmit_RequiresOpenAttempt(t *testing.T) {
	f := newAttemptFixture(t, 2)
	ctx := context.Background()

	if _, err := f.service.AutoSubmit(ctx, testUser, f.examID); err != ErrNoActiveAttempt {
		t.Fatalf("expected ErrNoActiveAttempt, got %v", err)
	}

	// The timer racing an explicit submit lands here too.
	if _, err := f.service.Start(ctx, testUser, f.examID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := f.service.Submit(ctx, testUser, f.examID, &SubmitAttemptRequest{
		Answers: map[string][]string{"1": {"b"}},
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := f.service.AutoSubmit(ctx, testUser, f.examID); err != ErrNoActiveAttempt {
		t.Fatalf("expected ErrNoActiveAttempt after submit, got %v", err)
	}
}

func TestGetResults_Breakdown(t *testing.T) {
	f := newAttemptFixture(t, 2)
	ctx := context.Background()

	if _, err := f.service.GetResults(ctx, testUser, f.examID); err != ErrResultNotFound {
		t.Fatalf("expected ErrResultNotFound, got %v", err)
	}

	if _, err := f.service.Start(ctx, testUser, f.examID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := f.service.Submit(ctx, testUser, f.examID, &SubmitAttemptRequest{
		Answers: map[string][]string{"1": {"b"}, "2": {"b"}},
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	detail, err := f.service.GetResults(ctx, testUser, f.examID)
	if err != nil {
		t.Fatalf("GetResults: %v", err)
	}

	if len(detail.Breakdown) != 2 {
		t.Fatalf("breakdown rows = %d, want 2", len(detail.Breakdown))
	}
	if !detail.Breakdown[0].IsCorrect {
		t.Error("question 1 should be correct")
	}
	if detail.Breakdown[1].IsCorrect {
		t.Error("question 2 should be incorrect")
	}
	// Results reveal the key; the taking view never does.
	if len(detail.Breakdown[1].CorrectAnswers) != 2 {
		t.Errorf("correct answers = %v, want both", detail.Breakdown[1].CorrectAnswers)
	}
	if detail.MarksObtained != 2 {
		t.Errorf("marks obtained = %v, want 2", detail.MarksObtained)
	}
}

func TestGetHistory_CompletedOnly(t *testing.T) {
	f := newAttemptFixture(t, 5)
	ctx := context.Background()

	history, err := f.service.GetHistory(ctx, testUser, 20)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("history = %d entries, want 0", len(history))
	}

	if _, err := f.service.Start(ctx, testUser, f.examID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := f.service.Submit(ctx, testUser, f.examID, &SubmitAttemptRequest{
		Answers: map[string][]string{"1": {"b"}},
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// A second attempt left open must not show up.
	if _, err := f.service.Start(ctx, testUser, f.examID); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	history, err = f.service.GetHistory(ctx, testUser, 20)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history = %d entries, want 1", len(history))
	}
	if history[0].ExamTitle != "networking basics" {
		t.Errorf("exam title = %q", history[0].ExamTitle)
	}
	if !history[0].Passed {
		t.Error("2 of 5 marks meets the 40 percent threshold")
	}
}
