package casdoor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/casdoor/casdoor-go-sdk/casdoorsdk"
	"github.com/redis/go-redis/v9"

	"github.com/SAP-F-2025/exam-service/internal/models"
	"github.com/SAP-F-2025/exam-service/internal/repositories"
)

// CasdoorConfig holds the connection settings for the Casdoor organization.
type CasdoorConfig struct {
	Endpoint         string
	ClientID         string
	ClientSecret     string
	Certificate      string
	OrganizationName string
	ApplicationName  string
}

// UserCasdoor backs the user repository with the Casdoor directory. Profiles
// are cached in Redis because directory round trips are slow relative to how
// often handlers resolve the same user.
type UserCasdoor struct {
	client *casdoorsdk.Client
	redis  *redis.Client

	cachePrefix string
	cacheTTL    time.Duration
}

func NewUserCasdoor(config CasdoorConfig, redisClient *redis.Client) repositories.UserRepository {
	client := casdoorsdk.NewClient(
		config.Endpoint,
		config.ClientID,
		config.ClientSecret,
		config.Certificate,
		config.OrganizationName,
		config.ApplicationName,
	)

	return &UserCasdoor{
		client:      client,
		redis:       redisClient,
		cachePrefix: "user:",
		cacheTTL:    15 * time.Minute,
	}
}

// ===== READ OPERATIONS =====

func (u *UserCasdoor) GetByID(ctx context.Context, id string) (*models.User, error) {
	cacheKey := fmt.Sprintf("id:%s", id)
	if cached, err := u.cachedUser(ctx, cacheKey); err == nil && cached != nil {
		return cached, nil
	}

	casdoorUser, err := u.client.GetUserByUserId(id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user from Casdoor: %w", err)
	}
	if casdoorUser == nil {
		return nil, fmt.Errorf("user not found with ID %s", id)
	}

	user := u.toModel(casdoorUser)
	u.cacheUser(ctx, cacheKey, user)
	u.cacheUser(ctx, fmt.Sprintf("email:%s", user.Email), user)
	return user, nil
}

func (u *UserCasdoor) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	cacheKey := fmt.Sprintf("email:%s", email)
	if cached, err := u.cachedUser(ctx, cacheKey); err == nil && cached != nil {
		return cached, nil
	}

	casdoorUser, err := u.client.GetUserByEmail(email)
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email from Casdoor: %w", err)
	}
	if casdoorUser == nil {
		return nil, fmt.Errorf("user not found with email %s", email)
	}

	user := u.toModel(casdoorUser)
	u.cacheUser(ctx, cacheKey, user)
	u.cacheUser(ctx, fmt.Sprintf("id:%s", user.ID), user)
	return user, nil
}

// GetByIDs resolves a batch of IDs, skipping the ones that cannot be found.
// Report rows fall back to the bare ID in that case, so one deleted account
// never fails a whole export.
func (u *UserCasdoor) GetByIDs(ctx context.Context, ids []string) ([]*models.User, error) {
	if len(ids) == 0 {
		return []*models.User{}, nil
	}

	users := make([]*models.User, 0, len(ids))
	for _, id := range ids {
		user, err := u.GetByID(ctx, id)
		if err != nil {
			continue
		}
		users = append(users, user)
	}
	return users, nil
}

// ===== EXISTENCE AND ROLES =====

func (u *UserCasdoor) ExistsByID(ctx context.Context, id string) (bool, error) {
	return u.exists(ctx, fmt.Sprintf("exists:id:%s", id), func() (*casdoorsdk.User, error) {
		return u.client.GetUser(id)
	})
}

func (u *UserCasdoor) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return u.exists(ctx, fmt.Sprintf("exists:email:%s", email), func() (*casdoorsdk.User, error) {
		return u.client.GetUserByEmail(email)
	})
}

func (u *UserCasdoor) HasRole(ctx context.Context, id string, role models.UserRole) (bool, error) {
	user, err := u.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return user.Role == role, nil
}

func (u *UserCasdoor) exists(ctx context.Context, cacheKey string, fetch func() (*casdoorsdk.User, error)) (bool, error) {
	if u.redis != nil {
		if value, err := u.redis.Get(ctx, u.cachePrefix+cacheKey).Result(); err == nil {
			return value == "true", nil
		}
	}

	user, err := fetch()
	if err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	exists := user != nil

	if u.redis != nil {
		u.redis.Set(ctx, u.cachePrefix+cacheKey, fmt.Sprintf("%t", exists), time.Minute)
	}
	return exists, nil
}

// ===== LIST AND SEARCH =====

func (u *UserCasdoor) List(ctx context.Context, filters repositories.UserFilters) ([]*models.User, int64, error) {
	if filters.Limit <= 0 {
		filters.Limit = 10
	}
	if filters.Limit > 100 {
		filters.Limit = 100
	}

	// Casdoor pages are 1-indexed.
	page := (filters.Offset / filters.Limit) + 1
	if page < 1 {
		page = 1
	}

	queryMap := make(map[string]string)
	if filters.Query != "" {
		queryMap["field"] = "email"
		queryMap["value"] = filters.Query
	}

	casdoorUsers, count, err := u.client.GetPaginationUsers(page, filters.Limit, queryMap)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get users from Casdoor: %w", err)
	}

	users := make([]*models.User, 0, len(casdoorUsers))
	for _, casdoorUser := range casdoorUsers {
		user := u.toModel(casdoorUser)
		if user == nil {
			continue
		}
		users = append(users, user)
		u.cacheUser(ctx, fmt.Sprintf("id:%s", user.ID), user)
		u.cacheUser(ctx, fmt.Sprintf("email:%s", user.Email), user)
	}

	return users, int64(count), nil
}

func (u *UserCasdoor) Search(ctx context.Context, query string, filters repositories.UserFilters) ([]*models.User, int64, error) {
	filters.Query = query
	return u.List(ctx, filters)
}

// ===== CACHE =====

func (u *UserCasdoor) cachedUser(ctx context.Context, key string) (*models.User, error) {
	if u.redis == nil {
		return nil, nil
	}

	data, err := u.redis.Get(ctx, u.cachePrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get from cache: %w", err)
	}

	var user models.User
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached user: %w", err)
	}
	return &user, nil
}

func (u *UserCasdoor) cacheUser(ctx context.Context, key string, user *models.User) {
	if u.redis == nil || user == nil {
		return
	}

	data, err := json.Marshal(user)
	if err != nil {
		return
	}
	u.redis.Set(ctx, u.cachePrefix+key, data, u.cacheTTL)
}

// ===== CONVERSION =====

func (u *UserCasdoor) toModel(casdoorUser *casdoorsdk.User) *models.User {
	if casdoorUser == nil {
		return nil
	}

	var createdAt, updatedAt time.Time
	if casdoorUser.CreatedTime != "" {
		createdAt, _ = time.Parse(time.RFC3339, casdoorUser.CreatedTime)
	}
	if casdoorUser.UpdatedTime != "" {
		updatedAt, _ = time.Parse(time.RFC3339, casdoorUser.UpdatedTime)
	}

	return &models.User{
		ID:            casdoorUser.Id,
		FullName:      casdoorUser.DisplayName,
		Email:         casdoorUser.Email,
		Role:          u.primaryRole(casdoorUser),
		AvatarURL:     &casdoorUser.Avatar,
		EmailVerified: casdoorUser.EmailVerified,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}
}

// primaryRole collapses the Casdoor role list to one role: admin wins, then
// the first mapped role, student as the default.
func (u *UserCasdoor) primaryRole(casdoorUser *casdoorsdk.User) models.UserRole {
	var roles []models.UserRole
	seen := make(map[models.UserRole]bool)
	for _, casdoorRole := range casdoorUser.Roles {
		mapped := mapRoleName(casdoorRole.Name)
		if !seen[mapped] {
			roles = append(roles, mapped)
			seen[mapped] = true
		}
	}

	if slices.Contains(roles, models.RoleAdmin) || casdoorUser.IsAdmin {
		return models.RoleAdmin
	}
	if len(roles) == 0 {
		return models.RoleStudent
	}
	return roles[0]
}

func mapRoleName(name string) models.UserRole {
	switch strings.ToLower(name) {
	case "admin", "administrator":
		return models.RoleAdmin
	case "teacher", "instructor":
		return models.RoleTeacher
	default:
		return models.RoleStudent
	}
}
