package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-service/internal/config"
	"github.com/SAP-F-2025/exam-service/internal/models"
	"github.com/SAP-F-2025/exam-service/internal/repositories"
	"github.com/SAP-F-2025/exam-service/internal/services"
	"github.com/SAP-F-2025/exam-service/internal/utils"
	"github.com/SAP-F-2025/exam-service/internal/validator"
)

type HandlerManager struct {
	examHandler      *ExamHandler
	attemptHandler   *AttemptHandler
	dashboardHandler *DashboardHandler
	userHandler      *UserHandler
	authMiddleware   *CasdoorAuthMiddleware
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	validator *validator.Validator,
	logger utils.Logger,
	casdoorConfig config.CasdoorConfig,
	userRepo repositories.UserRepository,
) *HandlerManager {
	authMiddleware := NewCasdoorAuthMiddleware(casdoorConfig, userRepo)

	return &HandlerManager{
		examHandler:      NewExamHandler(serviceManager.Exam(), serviceManager.Report(), validator, logger),
		attemptHandler:   NewAttemptHandler(serviceManager.Attempt(), validator, logger),
		dashboardHandler: NewDashboardHandler(serviceManager.Dashboard(), logger),
		userHandler:      NewUserHandler(userRepo, logger),
		authMiddleware:   authMiddleware,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	// API v1 routes with authentication
	v1 := router.Group("/api/v1")
	v1.Use(hm.authMiddleware.AuthMiddleware()) // Apply authentication to all API routes
	{
		// Exam routes
		exams := v1.Group("/exams")
		{
			// Create/modify exams - Teachers and Admins only
			exams.POST("", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.examHandler.CreateExam)
			exams.PUT("/:id", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.examHandler.UpdateExam)
			exams.DELETE("/:id", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.examHandler.DeleteExam)

			// Question management - Teachers and Admins only
			exams.POST("/:id/questions", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.examHandler.AddQuestion)
			exams.DELETE("/:id/questions/:question_id", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.examHandler.DeleteQuestion)

			// Result export - Teachers and Admins only
			exams.GET("/:id/results/export", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.examHandler.ExportResults)

			// View exams - All authenticated users
			exams.GET("", hm.examHandler.ListExams)
			exams.GET("/:id", hm.examHandler.GetExam)
			exams.GET("/:id/summary", hm.examHandler.GetExamSummary)
			exams.GET("/:id/take", hm.examHandler.GetExamForTaking)

			// Attempt lifecycle - scoped to the exam being taken
			exams.POST("/:id/attempts/start", hm.attemptHandler.StartAttempt)
			exams.PUT("/:id/attempts/progress", hm.attemptHandler.SaveProgress)
			exams.GET("/:id/attempts/progress", hm.attemptHandler.GetProgress)
			exams.POST("/:id/attempts/questions/:question_id/mark", hm.attemptHandler.ToggleMark)
			exams.DELETE("/:id/attempts/questions/:question_id/answer", hm.attemptHandler.ClearAnswer)
			exams.POST("/:id/attempts/submit", hm.attemptHandler.SubmitAttempt)
			exams.POST("/:id/attempts/auto-submit", hm.attemptHandler.AutoSubmitAttempt)
			exams.GET("/:id/attempts/results", hm.attemptHandler.GetResults)
		}

		// Attempt routes not scoped to a single exam
		attempts := v1.Group("/attempts")
		{
			attempts.GET("/history", hm.attemptHandler.GetHistory)
		}

		// Dashboard routes
		dashboard := v1.Group("/dashboard")
		{
			dashboard.GET("/stats", hm.dashboardHandler.GetDashboardStats)
			dashboard.GET("/active-exams", hm.dashboardHandler.GetActiveExams)
		}

		// User routes (directory lookups)
		users := v1.Group("/users")
		{
			users.GET("", hm.userHandler.ListUsers)
			users.GET("/search", hm.userHandler.SearchUsers)
			users.GET("/:id", hm.userHandler.GetUser)
		}
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "exam-service",
		})
	})
}
