package service

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/apperr"
	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/auth"
	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/model"
	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/repository"
)

// DTOs for Request validation
type CreateUserDTO struct {
	Username     string `json:"username" binding:"required"`
	Email        string `json:"email" binding:"required,email"`
	Password     string `json:"password" binding:"required,min=6"`
	Role         string `json:"role" binding:"required"`
	DepartmentID string `json:"department_id"`
}

type UpdateUserDTO struct {
	Username     string `json:"username"`
	Email        string `json:"email" binding:"omitempty,email"`
	Role         string `json:"role"`
	DepartmentID string `json:"department_id"`
}

type CreateDepartmentDTO struct {
	Name string `json:"name" binding:"required"`
}

type DepartmentResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type LoginDTO struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

// DTO for returning User without exposing sensitive data (e.g. password)
type UserResponse struct {
	ID             string            `json:"id"`
	Username       string            `json:"username"`
	Email          string            `json:"email"`
	Role           string            `json:"role"`
	DepartmentID   *string           `json:"department_id"`
	DepartmentName string            `json:"department_name,omitempty"`
	Capabilities   []auth.Capability `json:"capabilities,omitempty"`
	CreatedAt      string            `json:"created_at"`
	UpdatedAt      string            `json:"updated_at"`
}

// UserService defines the interface for business logic related to User
type UserService interface {
	Login(ctx context.Context, req LoginDTO) (*TokenResponse, error)
	Me(ctx context.Context, p auth.Principal) (*UserResponse, error)
	CreateUser(ctx context.Context, p auth.Principal, req CreateUserDTO) (*UserResponse, error)
	ListUsers(ctx context.Context, p auth.Principal, page, limit int) ([]UserResponse, int64, error)
	UpdateUser(ctx context.Context, p auth.Principal, id string, req UpdateUserDTO) (*UserResponse, error)
	DeleteUser(ctx context.Context, p auth.Principal, id string) error
	CreateDepartment(ctx context.Context, p auth.Principal, req CreateDepartmentDTO) (*DepartmentResponse, error)
	ListDepartments(ctx context.Context, p auth.Principal) ([]DepartmentResponse, error)
}

type userService struct {
	users       repository.UserRepository
	departments repository.DepartmentRepository
	audits      repository.AuditRepository
}

// NewUserService returns a new instance of UserService
func NewUserService(users repository.UserRepository, departments repository.DepartmentRepository, audits repository.AuditRepository) UserService {
	return &userService{users: users, departments: departments, audits: audits}
}

var emailRegex = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,4}$`)

func (s *userService) Login(ctx context.Context, req LoginDTO) (*TokenResponse, error) {
	user, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		return nil, apperr.New(apperr.KindUnauthenticated, "invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, apperr.New(apperr.KindUnauthenticated, "invalid credentials")
	}

	claims := jwt.MapClaims{
		"sub":  user.ID.String(),
		"role": user.Role,
		"exp":  time.Now().Add(24 * time.Hour).Unix(),
	}
	if user.DepartmentID != nil {
		claims["department"] = user.DepartmentID.String()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(auth.JWTSecret())
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to sign token", err)
	}

	return &TokenResponse{Token: signed}, nil
}

func (s *userService) Me(ctx context.Context, p auth.Principal) (*UserResponse, error) {
	if !p.Authenticated() {
		return nil, apperr.New(apperr.KindUnauthenticated, "authentication required")
	}
	user, err := s.users.GetByID(ctx, p.ID.String())
	if err != nil {
		return nil, notFoundOr(err, "user")
	}
	resp := toUserResponse(user)
	resp.Capabilities = auth.Capabilities(user.Role)
	return resp, nil
}

func (s *userService) CreateUser(ctx context.Context, p auth.Principal, req CreateUserDTO) (*UserResponse, error) {
	if err := requireCapability(p, auth.CapManageUsers); err != nil {
		return nil, err
	}
	if !model.ValidRole(req.Role) {
		return nil, apperr.Newf(apperr.KindValidation, "invalid role %q", req.Role)
	}
	if !emailRegex.MatchString(req.Email) {
		return nil, apperr.New(apperr.KindValidation, "invalid email format")
	}

	// Double check username/email uniqueness via repo directly
	if _, err := s.users.GetByUsername(ctx, req.Username); err == nil {
		return nil, apperr.New(apperr.KindValidation, "username already exists")
	}
	if _, err := s.users.GetByEmail(ctx, req.Email); err == nil {
		return nil, apperr.New(apperr.KindValidation, "email already exists")
	}

	var departmentID *uuid.UUID
	if req.DepartmentID != "" {
		parsed, err := parseID(req.DepartmentID, "department id")
		if err != nil {
			return nil, err
		}
		if _, err := s.departments.FindByID(ctx, parsed); err != nil {
			return nil, notFoundOr(err, "department")
		}
		departmentID = &parsed
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to hash password", err)
	}

	user := &model.User{
		Username:     req.Username,
		Email:        req.Email,
		Password:     string(hashedPassword),
		Role:         req.Role,
		DepartmentID: departmentID,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to create user", err)
	}

	actorID := p.ID
	_ = s.audits.Log(ctx, &model.AuditLog{
		UserID:     &actorID,
		Action:     model.ActionCreateUser,
		EntityType: model.EntityUser,
		EntityID:   user.ID.String(),
		EntityName: user.Username,
	})

	return toUserResponse(user), nil
}

func (s *userService) ListUsers(ctx context.Context, p auth.Principal, page, limit int) ([]UserResponse, int64, error) {
	if err := requireCapability(p, auth.CapManageUsers); err != nil {
		return nil, 0, err
	}
	users, total, err := s.users.List(ctx, page, limit)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.KindInternal, "failed to list users", err)
	}

	result := make([]UserResponse, 0, len(users))
	for i := range users {
		result = append(result, *toUserResponse(&users[i]))
	}
	return result, total, nil
}

func (s *userService) UpdateUser(ctx context.Context, p auth.Principal, id string, req UpdateUserDTO) (*UserResponse, error) {
	if err := requireCapability(p, auth.CapManageUsers); err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "user")
	}

	if req.Username != "" {
		user.Username = req.Username
	}
	if req.Email != "" {
		if !emailRegex.MatchString(req.Email) {
			return nil, apperr.New(apperr.KindValidation, "invalid email format")
		}
		user.Email = req.Email
	}
	if req.Role != "" {
		if !model.ValidRole(req.Role) {
			return nil, apperr.Newf(apperr.KindValidation, "invalid role %q", req.Role)
		}
		user.Role = req.Role
	}
	if req.DepartmentID != "" {
		parsed, err := parseID(req.DepartmentID, "department id")
		if err != nil {
			return nil, err
		}
		if _, err := s.departments.FindByID(ctx, parsed); err != nil {
			return nil, notFoundOr(err, "department")
		}
		user.DepartmentID = &parsed
	}

	if err := s.users.Update(ctx, user); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to update user", err)
	}

	actorID := p.ID
	_ = s.audits.Log(ctx, &model.AuditLog{
		UserID:     &actorID,
		Action:     model.ActionUpdateUser,
		EntityType: model.EntityUser,
		EntityID:   user.ID.String(),
		EntityName: user.Username,
	})

	return toUserResponse(user), nil
}

func (s *userService) DeleteUser(ctx context.Context, p auth.Principal, id string) error {
	if err := requireCapability(p, auth.CapManageUsers); err != nil {
		return err
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return notFoundOr(err, "user")
	}
	if err := s.users.Delete(ctx, id); err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to delete user", err)
	}

	actorID := p.ID
	_ = s.audits.Log(ctx, &model.AuditLog{
		UserID:     &actorID,
		Action:     model.ActionDeleteUser,
		EntityType: model.EntityUser,
		EntityID:   user.ID.String(),
		EntityName: user.Username,
	})
	return nil
}

func toUserResponse(user *model.User) *UserResponse {
	resp := &UserResponse{
		ID:        user.ID.String(),
		Username:  user.Username,
		Email:     user.Email,
		Role:      user.Role,
		CreatedAt: user.CreatedAt.Format(time.RFC3339),
		UpdatedAt: user.UpdatedAt.Format(time.RFC3339),
	}
	if user.DepartmentID != nil {
		v := user.DepartmentID.String()
		resp.DepartmentID = &v
	}
	if user.Department != nil {
		resp.DepartmentName = user.Department.Name
	}
	return resp
}

func (s *userService) CreateDepartment(ctx context.Context, p auth.Principal, req CreateDepartmentDTO) (*DepartmentResponse, error) {
	if err := requireCapability(p, auth.CapManageUsers); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.New(apperr.KindValidation, "department name is required")
	}

	dep := &model.Department{Name: name}
	if err := s.departments.Create(ctx, dep); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to create department", err)
	}
	return &DepartmentResponse{ID: dep.ID.String(), Name: dep.Name}, nil
}

func (s *userService) ListDepartments(ctx context.Context, p auth.Principal) ([]DepartmentResponse, error) {
	if !p.Authenticated() {
		return nil, apperr.New(apperr.KindUnauthenticated, "authentication required")
	}
	deps, err := s.departments.List(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to list departments", err)
	}

	result := make([]DepartmentResponse, 0, len(deps))
	for _, d := range deps {
		result = append(result, DepartmentResponse{ID: d.ID.String(), Name: d.Name})
	}
	return result, nil
}
