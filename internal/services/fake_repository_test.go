package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-service/internal/models"
	"github.com/SAP-F-2025/exam-service/internal/repositories"
)

// fakeStore is a mutex-guarded in-memory stand-in for Postgres. The attempt
// repository reproduces the single-open-attempt check that the real Create
// runs inside its transaction.
type fakeStore struct {
	mu sync.Mutex

	exams     map[uint]*models.Exam
	questions map[uint]*models.Question
	attempts  map[uint]*models.Attempt
	roles     map[string]models.UserRole

	nextExamID     uint
	nextQuestionID uint
	nextAttemptID  uint
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		exams:     make(map[uint]*models.Exam),
		questions: make(map[uint]*models.Question),
		attempts:  make(map[uint]*models.Attempt),
		roles:     make(map[string]models.UserRole),
	}
}

type fakeRepo struct {
	store *fakeStore
}

func newFakeRepo(store *fakeStore) repositories.Repository {
	return &fakeRepo{store: store}
}

func (r *fakeRepo) Exam() repositories.ExamRepository {
	return &fakeExamRepo{store: r.store}
}

func (r *fakeRepo) Question() repositories.QuestionRepository {
	return &fakeQuestionRepo{store: r.store}
}

func (r *fakeRepo) Attempt() repositories.AttemptRepository {
	return &fakeAttemptRepo{store: r.store}
}

func (r *fakeRepo) User() repositories.UserRepository {
	return &fakeUserRepo{store: r.store}
}

func (r *fakeRepo) Dashboard() repositories.DashboardRepository {
	return &fakeDashboardRepo{store: r.store}
}

func (r *fakeRepo) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	return fn(r)
}

func (r *fakeRepo) Ping(ctx context.Context) error { return nil }
func (r *fakeRepo) Close() error                   { return nil }

// ===== EXAMS =====

type fakeExamRepo struct {
	store *fakeStore
}

func (r *fakeExamRepo) Create(ctx context.Context, tx *gorm.DB, exam *models.Exam) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.nextExamID++
	exam.ID = r.store.nextExamID
	stored := *exam
	r.store.exams[exam.ID] = &stored
	return nil
}

func (r *fakeExamRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	exam, ok := r.store.exams[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	out := *exam
	return &out, nil
}

func (r *fakeExamRepo) GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error) {
	exam, err := r.GetByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	questions, err := (&fakeQuestionRepo{store: r.store}).GetByExam(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	exam.Questions = make([]models.Question, 0, len(questions))
	for _, q := range questions {
		exam.Questions = append(exam.Questions, *q)
	}
	return exam, nil
}

func (r *fakeExamRepo) Update(ctx context.Context, tx *gorm.DB, exam *models.Exam) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.exams[exam.ID]; !ok {
		return repositories.ErrNotFound
	}
	stored := *exam
	r.store.exams[exam.ID] = &stored
	return nil
}

func (r *fakeExamRepo) UpdateStatus(ctx context.Context, tx *gorm.DB, id uint, status models.ExamStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	exam, ok := r.store.exams[id]
	if !ok {
		return repositories.ErrNotFound
	}
	exam.Status = status
	return nil
}

func (r *fakeExamRepo) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.exams, id)
	return nil
}

func (r *fakeExamRepo) List(ctx context.Context, tx *gorm.DB, filters repositories.ExamFilters) ([]*models.Exam, int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*models.Exam
	for _, exam := range r.store.exams {
		if filters.Status != nil && exam.Status != *filters.Status {
			continue
		}
		copied := *exam
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (r *fakeExamRepo) GetActiveVisibleTo(ctx context.Context, tx *gorm.DB, userID string, now time.Time) ([]*models.Exam, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*models.Exam
	for _, exam := range r.store.exams {
		if exam.Status != models.ExamActive || !exam.IsOpenAt(now) {
			continue
		}
		allowed, err := userAllowed(exam.AllowedUsers, userID)
		if err != nil {
			return nil, err
		}
		if !allowed {
			continue
		}
		copied := *exam
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeExamRepo) ExistsByID(ctx context.Context, tx *gorm.DB, id uint) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	_, ok := r.store.exams[id]
	return ok, nil
}

// ===== QUESTIONS =====

type fakeQuestionRepo struct {
	store *fakeStore
}

func (r *fakeQuestionRepo) Create(ctx context.Context, tx *gorm.DB, question *models.Question) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.nextQuestionID++
	question.ID = r.store.nextQuestionID
	stored := *question
	r.store.questions[question.ID] = &stored
	return nil
}

func (r *fakeQuestionRepo) CreateBatch(ctx context.Context, tx *gorm.DB, questions []*models.Question) error {
	for _, q := range questions {
		if err := r.Create(ctx, tx, q); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeQuestionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	question, ok := r.store.questions[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	out := *question
	return &out, nil
}

func (r *fakeQuestionRepo) GetByExam(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.Question, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*models.Question
	for _, q := range r.store.questions {
		if q.ExamID != examID {
			continue
		}
		copied := *q
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (r *fakeQuestionRepo) Update(ctx context.Context, tx *gorm.DB, question *models.Question) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.questions[question.ID]; !ok {
		return repositories.ErrNotFound
	}
	stored := *question
	r.store.questions[question.ID] = &stored
	return nil
}

func (r *fakeQuestionRepo) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.questions, id)
	return nil
}

func (r *fakeQuestionRepo) CountByExam(ctx context.Context, tx *gorm.DB, examID uint) (int64, error) {
	questions, err := r.GetByExam(ctx, tx, examID)
	if err != nil {
		return 0, err
	}
	return int64(len(questions)), nil
}

func (r *fakeQuestionRepo) SumMarksByExam(ctx context.Context, tx *gorm.DB, examID uint) (int64, error) {
	questions, err := r.GetByExam(ctx, tx, examID)
	if err != nil {
		return 0, err
	}
	var sum int64
	for _, q := range questions {
		sum += int64(q.Marks)
	}
	return sum, nil
}

// ===== ATTEMPTS =====

type fakeAttemptRepo struct {
	store *fakeStore
}

func (r *fakeAttemptRepo) Create(ctx context.Context, tx *gorm.DB, attempt *models.Attempt) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, a := range r.store.attempts {
		if a.UserID == attempt.UserID && a.ExamID == attempt.ExamID && a.Status == models.AttemptInProgress {
			return repositories.ErrDuplicateOpen
		}
	}
	r.store.nextAttemptID++
	attempt.ID = r.store.nextAttemptID
	stored := *attempt
	r.store.attempts[attempt.ID] = &stored
	return nil
}

func (r *fakeAttemptRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Attempt, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	attempt, ok := r.store.attempts[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	out := *attempt
	return &out, nil
}

func (r *fakeAttemptRepo) Update(ctx context.Context, tx *gorm.DB, attempt *models.Attempt) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.attempts[attempt.ID]; !ok {
		return repositories.ErrNotFound
	}
	stored := *attempt
	r.store.attempts[attempt.ID] = &stored
	return nil
}

func (r *fakeAttemptRepo) GetOpenAttempt(ctx context.Context, tx *gorm.DB, userID string, examID uint) (*models.Attempt, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, a := range r.store.attempts {
		if a.UserID == userID && a.ExamID == examID && a.Status == models.AttemptInProgress {
			out := *a
			return &out, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *fakeAttemptRepo) GetLatestCompleted(ctx context.Context, tx *gorm.DB, userID string, examID uint) (*models.Attempt, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var latest *models.Attempt
	for _, a := range r.store.attempts {
		if a.UserID != userID || a.ExamID != examID || a.Status != models.AttemptCompleted {
			continue
		}
		if latest == nil || (a.SubmittedAt != nil && latest.SubmittedAt != nil && a.SubmittedAt.After(*latest.SubmittedAt)) {
			latest = a
		}
	}
	if latest == nil {
		return nil, repositories.ErrNotFound
	}
	out := *latest
	return &out, nil
}

func (r *fakeAttemptRepo) GetByUserAndExam(ctx context.Context, tx *gorm.DB, userID string, examID uint) ([]*models.Attempt, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*models.Attempt
	for _, a := range r.store.attempts {
		if a.UserID == userID && a.ExamID == examID {
			copied := *a
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeAttemptRepo) CountCompleted(ctx context.Context, tx *gorm.DB, userID string, examID uint) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var count int64
	for _, a := range r.store.attempts {
		if a.UserID == userID && a.ExamID == examID && a.Status == models.AttemptCompleted {
			count++
		}
	}
	return count, nil
}

func (r *fakeAttemptRepo) HasCompletedForExam(ctx context.Context, tx *gorm.DB, examID uint) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, a := range r.store.attempts {
		if a.ExamID == examID && a.Status == models.AttemptCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeAttemptRepo) GetHistory(ctx context.Context, tx *gorm.DB, userID string, limit int) ([]*models.Attempt, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*models.Attempt
	for _, a := range r.store.attempts {
		if a.UserID != userID || a.Status != models.AttemptCompleted {
			continue
		}
		copied := *a
		if exam, ok := r.store.exams[a.ExamID]; ok {
			copied.Exam = *exam
		}
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt == nil || out[j].SubmittedAt == nil {
			return out[i].ID > out[j].ID
		}
		return out[i].SubmittedAt.After(*out[j].SubmittedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeAttemptRepo) ListByExam(ctx context.Context, tx *gorm.DB, examID uint, filters repositories.AttemptFilters) ([]*models.Attempt, int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*models.Attempt
	for _, a := range r.store.attempts {
		if a.ExamID != examID {
			continue
		}
		if filters.Status != nil && a.Status != *filters.Status {
			continue
		}
		copied := *a
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := int64(len(out))
	if filters.Offset > 0 {
		if filters.Offset >= len(out) {
			return nil, total, nil
		}
		out = out[filters.Offset:]
	}
	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, total, nil
}

// ===== USERS =====

type fakeUserRepo struct {
	store *fakeStore
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	role, ok := r.store.roles[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &models.User{ID: id, Role: role}, nil
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return nil, repositories.ErrNotFound
}

func (r *fakeUserRepo) GetByIDs(ctx context.Context, ids []string) ([]*models.User, error) {
	var out []*models.User
	for _, id := range ids {
		if user, err := r.GetByID(ctx, id); err == nil {
			out = append(out, user)
		}
	}
	return out, nil
}

func (r *fakeUserRepo) List(ctx context.Context, filters repositories.UserFilters) ([]*models.User, int64, error) {
	return nil, 0, nil
}

func (r *fakeUserRepo) Search(ctx context.Context, query string, filters repositories.UserFilters) ([]*models.User, int64, error) {
	return nil, 0, nil
}

func (r *fakeUserRepo) ExistsByID(ctx context.Context, id string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	_, ok := r.store.roles[id]
	return ok, nil
}

func (r *fakeUserRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return false, nil
}

func (r *fakeUserRepo) HasRole(ctx context.Context, id string, role models.UserRole) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.store.roles[id] == role, nil
}

// ===== DASHBOARD =====

type fakeDashboardRepo struct {
	store *fakeStore
}

func (r *fakeDashboardRepo) CountVisibleActiveExams(ctx context.Context, tx *gorm.DB, userID string, now time.Time) (int64, error) {
	exams, err := (&fakeExamRepo{store: r.store}).GetActiveVisibleTo(ctx, tx, userID, now)
	if err != nil {
		return 0, err
	}
	return int64(len(exams)), nil
}

func (r *fakeDashboardRepo) CountCompletedExams(ctx context.Context, tx *gorm.DB, userID string) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	seen := make(map[uint]struct{})
	for _, a := range r.store.attempts {
		if a.UserID == userID && a.Status == models.AttemptCompleted {
			seen[a.ExamID] = struct{}{}
		}
	}
	return int64(len(seen)), nil
}

func (r *fakeDashboardRepo) GetAveragePercentage(ctx context.Context, tx *gorm.DB, userID string) (float64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var sum float64
	var count int
	for _, a := range r.store.attempts {
		if a.UserID == userID && a.Status == models.AttemptCompleted {
			sum += a.Percentage
			count++
		}
	}
	if count == 0 {
		return 0, nil
	}
	return sum / float64(count), nil
}
