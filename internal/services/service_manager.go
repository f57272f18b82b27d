package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-service/internal/cache"
	"github.com/SAP-F-2025/exam-service/internal/events"
	"github.com/SAP-F-2025/exam-service/internal/repositories"
	"github.com/SAP-F-2025/exam-service/internal/validator"
)

// ServiceManagerConfig holds configuration for the service manager
type ServiceManagerConfig struct {
	// Logging configuration
	EnableDebugLogging bool
	EnableMetrics      bool
	LogLevel           slog.Level

	// Service-specific configurations
	Exam      ServiceConfig
	Attempt   ServiceConfig
	Scoring   ServiceConfig
	Dashboard ServiceConfig
	Report    ServiceConfig

	// Global settings
	DefaultTimeout    time.Duration
	MaxRetries        int
	CircuitBreaker    bool
	RateLimitingRules map[string]RateLimit
}

type ServiceConfig struct {
	Enabled         bool
	CacheEnabled    bool
	CacheTTL        time.Duration
	ValidationLevel ValidationLevel
	AuditingEnabled bool
	MetricsEnabled  bool
}

type ValidationLevel int

const (
	ValidationBasic ValidationLevel = iota
	ValidationStrict
	ValidationFull
)

type RateLimit struct {
	RequestsPerMinute int
	BurstSize         int
}

// serviceManager implements ServiceManager interface
type serviceManager struct {
	// Dependencies
	db        *gorm.DB
	repo      repositories.Repository
	logger    *slog.Logger
	validator *validator.Validator
	locker    cache.AttemptLocker
	publisher events.EventPublisher
	config    ServiceManagerConfig

	// Service instances
	examService      ExamService
	attemptService   AttemptService
	scoringService   ScoringService
	dashboardService DashboardService
	reportService    ReportService

	// Lifecycle management
	initialized bool
	shutdown    bool
	mu          sync.RWMutex
}

// NewServiceManager creates a new service manager with all dependencies
func NewServiceManager(
	db *gorm.DB,
	repo repositories.Repository,
	logger *slog.Logger,
	validator *validator.Validator,
	locker cache.AttemptLocker,
	publisher events.EventPublisher,
	config ServiceManagerConfig,
) ServiceManager {
	return &serviceManager{
		db:        db,
		repo:      repo,
		logger:    logger,
		validator: validator,
		locker:    locker,
		publisher: publisher,
		config:    config,
	}
}

// NewDefaultServiceManager creates a service manager with default configuration
func NewDefaultServiceManager(
	db *gorm.DB,
	repo repositories.Repository,
	logger *slog.Logger,
	validator *validator.Validator,
	locker cache.AttemptLocker,
	publisher events.EventPublisher,
) ServiceManager {
	config := ServiceManagerConfig{
		EnableDebugLogging: false,
		EnableMetrics:      true,
		LogLevel:           slog.LevelInfo,

		Exam: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    true,
			CacheTTL:        10 * time.Minute,
			ValidationLevel: ValidationStrict,
			AuditingEnabled: true,
			MetricsEnabled:  true,
		},
		Attempt: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    false,
			CacheTTL:        0,
			ValidationLevel: ValidationStrict,
			AuditingEnabled: true,
			MetricsEnabled:  true,
		},
		Scoring: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    false,
			CacheTTL:        0,
			ValidationLevel: ValidationBasic,
			AuditingEnabled: true,
			MetricsEnabled:  true,
		},
		Dashboard: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    true,
			CacheTTL:        1 * time.Minute,
			ValidationLevel: ValidationBasic,
			AuditingEnabled: false,
			MetricsEnabled:  true,
		},
		Report: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    false,
			CacheTTL:        0,
			ValidationLevel: ValidationBasic,
			AuditingEnabled: true,
			MetricsEnabled:  false,
		},

		DefaultTimeout:    30 * time.Second,
		MaxRetries:        3,
		CircuitBreaker:    true,
		RateLimitingRules: make(map[string]RateLimit),
	}

	return NewServiceManager(db, repo, logger, validator, locker, publisher, config)
}

// Initialize sets up all services and their dependencies
func (sm *serviceManager) Initialize(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.initialized {
		return nil
	}

	sm.logger.Info("Initializing service manager")

	if err := sm.initializeServices(ctx); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := sm.validateServicesHealth(ctx); err != nil {
		return fmt.Errorf("service health check failed: %w", err)
	}

	sm.initialized = true
	sm.logger.Info("Service manager initialized successfully")

	return nil
}

func (sm *serviceManager) initializeServices(ctx context.Context) error {
	// Scoring carries no dependencies beyond the logger and is required by
	// the attempt lifecycle, so it always comes up first.
	sm.scoringService = NewScoringService(sm.logger)
	sm.logger.Info("Scoring service initialized")

	if sm.config.Exam.Enabled {
		sm.examService = NewExamService(sm.repo, sm.db, sm.logger, sm.validator)
		sm.logger.Info("Exam service initialized")
	}

	if sm.config.Attempt.Enabled {
		sm.attemptService = NewAttemptService(sm.repo, sm.db, sm.logger, sm.validator, sm.scoringService, sm.locker, sm.publisher)
		sm.logger.Info("Attempt service initialized")
	}

	if sm.config.Dashboard.Enabled {
		sm.dashboardService = NewDashboardService(sm.repo, sm.logger)
		sm.logger.Info("Dashboard service initialized")
	}

	if sm.config.Report.Enabled {
		sm.reportService = NewReportService(sm.repo, sm.logger)
		sm.logger.Info("Report service initialized")
	}

	return nil
}

func (sm *serviceManager) validateServicesHealth(ctx context.Context) error {
	if repoManager, ok := sm.repo.(repositories.RepositoryManager); ok {
		if err := repoManager.HealthCheck(ctx); err != nil {
			return fmt.Errorf("repository health check failed: %w", err)
		}
	}
	return nil
}

// Service getters
func (sm *serviceManager) Exam() ExamService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}

	if sm.config.Exam.Enabled && sm.examService != nil {
		return sm.examService
	}

	panic("exam service not enabled or not initialized")
}

func (sm *serviceManager) Attempt() AttemptService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}

	if sm.config.Attempt.Enabled && sm.attemptService != nil {
		return sm.attemptService
	}

	panic("attempt service not enabled or not initialized")
}

func (sm *serviceManager) Scoring() ScoringService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}

	if sm.scoringService != nil {
		return sm.scoringService
	}

	panic("scoring service not initialized")
}

func (sm *serviceManager) Dashboard() DashboardService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}

	if sm.config.Dashboard.Enabled && sm.dashboardService != nil {
		return sm.dashboardService
	}

	panic("dashboard service not enabled or not initialized")
}

func (sm *serviceManager) Report() ReportService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}

	if sm.config.Report.Enabled && sm.reportService != nil {
		return sm.reportService
	}

	panic("report service not enabled or not initialized")
}

// Health and lifecycle
func (sm *serviceManager) HealthCheck(ctx context.Context) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		return fmt.Errorf("service manager not initialized")
	}

	if sm.shutdown {
		return fmt.Errorf("service manager is shut down")
	}

	if repoManager, ok := sm.repo.(repositories.RepositoryManager); ok {
		if err := repoManager.HealthCheck(ctx); err != nil {
			return fmt.Errorf("repository health check failed: %w", err)
		}
	}

	return nil
}

func (sm *serviceManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.shutdown {
		return nil
	}

	sm.logger.Info("Shutting down service manager")

	if sm.publisher != nil {
		if err := sm.publisher.Close(); err != nil {
			sm.logger.Error("Failed to close event publisher", "error", err)
		}
	}

	if repoManager, ok := sm.repo.(repositories.RepositoryManager); ok {
		if err := repoManager.Shutdown(ctx); err != nil {
			sm.logger.Error("Failed to shutdown repository manager", "error", err)
		}
	}

	sm.shutdown = true
	sm.logger.Info("Service manager shut down completed")

	return nil
}

// ===== UTILITY METHODS =====

// GetConfig returns the service manager configuration
func (sm *serviceManager) GetConfig() ServiceManagerConfig {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return sm.config
}

// IsInitialized returns whether the service manager has been initialized
func (sm *serviceManager) IsInitialized() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return sm.initialized
}

// IsShutdown returns whether the service manager has been shut down
func (sm *serviceManager) IsShutdown() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return sm.shutdown
}

// WithTimeout creates a context with the default timeout
func (sm *serviceManager) WithTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, sm.config.DefaultTimeout)
}

// ===== CONFIGURATION VALIDATION =====

// Validate validates the service manager configuration
func (config *ServiceManagerConfig) Validate() error {
	var errors []string

	if config.DefaultTimeout <= 0 {
		errors = append(errors, "default timeout must be positive")
	}

	if config.MaxRetries < 0 {
		errors = append(errors, "max retries cannot be negative")
	}

	if err := config.Exam.validate("exam"); err != nil {
		errors = append(errors, err.Error())
	}

	if err := config.Attempt.validate("attempt"); err != nil {
		errors = append(errors, err.Error())
	}

	if err := config.Scoring.validate("scoring"); err != nil {
		errors = append(errors, err.Error())
	}

	if err := config.Dashboard.validate("dashboard"); err != nil {
		errors = append(errors, err.Error())
	}

	if err := config.Report.validate("report"); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func (sc *ServiceConfig) validate(serviceName string) error {
	var errors []string

	if sc.CacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("%s: cache TTL cannot be negative", serviceName))
	}

	if sc.ValidationLevel < ValidationBasic || sc.ValidationLevel > ValidationFull {
		errors = append(errors, fmt.Sprintf("%s: invalid validation level", serviceName))
	}

	if len(errors) > 0 {
		return fmt.Errorf("%s", errors[0])
	}

	return nil
}

// ===== FACTORY FUNCTIONS =====

// CreateProductionServiceManager creates a service manager configured for production
func CreateProductionServiceManager(
	db *gorm.DB,
	repo repositories.Repository,
	logger *slog.Logger,
	validator *validator.Validator,
	locker cache.AttemptLocker,
	publisher events.EventPublisher,
) ServiceManager {
	config := ServiceManagerConfig{
		EnableDebugLogging: false,
		EnableMetrics:      true,
		LogLevel:           slog.LevelInfo,

		Exam: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    true,
			CacheTTL:        30 * time.Minute,
			ValidationLevel: ValidationFull,
			AuditingEnabled: true,
			MetricsEnabled:  true,
		},
		Attempt: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    false, // Real-time data
			CacheTTL:        0,
			ValidationLevel: ValidationStrict,
			AuditingEnabled: true,
			MetricsEnabled:  true,
		},
		Scoring: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    false,
			CacheTTL:        0,
			ValidationLevel: ValidationStrict,
			AuditingEnabled: true,
			MetricsEnabled:  true,
		},
		Dashboard: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    true,
			CacheTTL:        1 * time.Minute,
			ValidationLevel: ValidationBasic,
			AuditingEnabled: false,
			MetricsEnabled:  true,
		},
		Report: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    false,
			CacheTTL:        0,
			ValidationLevel: ValidationBasic,
			AuditingEnabled: true,
			MetricsEnabled:  false,
		},

		DefaultTimeout: 60 * time.Second,
		MaxRetries:     3,
		CircuitBreaker: true,
		RateLimitingRules: map[string]RateLimit{
			"exam_create":    {RequestsPerMinute: 60, BurstSize: 10},
			"attempt_start":  {RequestsPerMinute: 100, BurstSize: 20},
			"attempt_submit": {RequestsPerMinute: 200, BurstSize: 50},
		},
	}

	return NewServiceManager(db, repo, logger, validator, locker, publisher, config)
}

// CreateDevelopmentServiceManager creates a service manager configured for development
func CreateDevelopmentServiceManager(
	db *gorm.DB,
	repo repositories.Repository,
	logger *slog.Logger,
	validator *validator.Validator,
	locker cache.AttemptLocker,
	publisher events.EventPublisher,
) ServiceManager {
	config := ServiceManagerConfig{
		EnableDebugLogging: true,
		EnableMetrics:      false,
		LogLevel:           slog.LevelDebug,

		Exam: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    false,
			CacheTTL:        0,
			ValidationLevel: ValidationBasic,
			AuditingEnabled: false,
			MetricsEnabled:  false,
		},
		Attempt: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    false,
			CacheTTL:        0,
			ValidationLevel: ValidationBasic,
			AuditingEnabled: false,
			MetricsEnabled:  false,
		},
		Scoring: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    false,
			CacheTTL:        0,
			ValidationLevel: ValidationBasic,
			AuditingEnabled: false,
			MetricsEnabled:  false,
		},
		Dashboard: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    false,
			CacheTTL:        0,
			ValidationLevel: ValidationBasic,
			AuditingEnabled: false,
			MetricsEnabled:  false,
		},
		Report: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    false,
			CacheTTL:        0,
			ValidationLevel: ValidationBasic,
			AuditingEnabled: false,
			MetricsEnabled:  false,
		},

		DefaultTimeout:    10 * time.Second,
		MaxRetries:        1,
		CircuitBreaker:    false,
		RateLimitingRules: make(map[string]RateLimit),
	}

	return NewServiceManager(db, repo, logger, validator, locker, publisher, config)
}
