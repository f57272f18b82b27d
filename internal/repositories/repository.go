package repositories

import "context"

// Repository aggregates all repository interfaces behind one entry point.
type Repository interface {
	// Exam domain
	Exam() ExamRepository
	Question() QuestionRepository

	// Attempt domain
	Attempt() AttemptRepository

	// User domain (read-only, identity lives in the provider)
	User() UserRepository

	// Dashboard domain
	Dashboard() DashboardRepository

	// Transaction support
	WithTransaction(ctx context.Context, fn func(Repository) error) error

	// Health check
	Ping(ctx context.Context) error

	// Close connections
	Close() error
}

// RepositoryManager interface for managing repository lifecycle
type RepositoryManager interface {
	// Initialize repositories with database connections
	Initialize() error

	// Get repository instance
	GetRepository() Repository

	// Health check for all repositories
	HealthCheck(ctx context.Context) error

	// Graceful shutdown
	Shutdown(ctx context.Context) error
}
