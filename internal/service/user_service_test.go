package service

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/apperr"
	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/auth"
	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/model"
)

type MockDepartmentRepository struct {
	mu          sync.Mutex
	departments map[uuid.UUID]*model.Department
}

func NewMockDepartmentRepository() *MockDepartmentRepository {
	return &MockDepartmentRepository{departments: make(map[uuid.UUID]*model.Department)}
}

func (m *MockDepartmentRepository) Create(ctx context.Context, dep *model.Department) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if dep.ID == uuid.Nil {
		dep.ID = uuid.New()
	}
	m.departments[dep.ID] = dep
	return nil
}

func (m *MockDepartmentRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Department, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dep, ok := m.departments[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return dep, nil
}

func (m *MockDepartmentRepository) List(ctx context.Context) ([]model.Department, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.Department
	for _, dep := range m.departments {
		result = append(result, *dep)
	}
	return result, nil
}

type userFixture struct {
	service     UserService
	users       *MockUserRepository
	departments *MockDepartmentRepository
	audits      *MockAuditRepository

	admin auth.Principal
}

func newUserFixture(t *testing.T) *userFixture {
	t.Helper()
	users := NewMockUserRepository()
	departments := NewMockDepartmentRepository()
	audits := &MockAuditRepository{}

	adminUser := users.addUser(model.RoleAdmin, "admin@waouh.test")

	return &userFixture{
		service:     NewUserService(users, departments, audits),
		users:       users,
		departments: departments,
		audits:      audits,
		admin:       auth.Principal{ID: adminUser.ID, Role: model.RoleAdmin},
	}
}

func (f *userFixture) seedAccount(t *testing.T, role, email, password string) *model.User {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	u := f.users.addUser(role, email)
	u.Password = string(hashed)
	return u
}

func TestLogin(t *testing.T) {
	f := newUserFixture(t)
	f.seedAccount(t, model.RoleAchat, "achat@waouh.test", "sup3rsecret")

	resp, err := f.service.Login(context.Background(), LoginDTO{
		Email:    "achat@waouh.test",
		Password: "sup3rsecret",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)

	_, err = f.service.Login(context.Background(), LoginDTO{
		Email:    "achat@waouh.test",
		Password: "wrong",
	})
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))

	// Unknown accounts fail the same way as bad passwords
	_, err = f.service.Login(context.Background(), LoginDTO{
		Email:    "nobody@waouh.test",
		Password: "sup3rsecret",
	})
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}

func TestMeReturnsCapabilities(t *testing.T) {
	f := newUserFixture(t)
	u := f.seedAccount(t, model.RoleDirecteur, "direction@waouh.test", "sup3rsecret")

	resp, err := f.service.Me(context.Background(), auth.Principal{ID: u.ID, Role: u.Role})
	require.NoError(t, err)
	assert.Equal(t, model.RoleDirecteur, resp.Role)
	assert.Contains(t, resp.Capabilities, auth.CapValidateRequest)
	assert.Contains(t, resp.Capabilities, auth.CapAddQuote)
	assert.NotContains(t, resp.Capabilities, auth.CapManageUsers)
}

func TestCreateUserRequiresAdmin(t *testing.T) {
	f := newUserFixture(t)
	buyer := auth.Principal{ID: uuid.New(), Role: model.RoleAchat}

	_, err := f.service.CreateUser(context.Background(), buyer, CreateUserDTO{
		Username: "nouveau",
		Email:    "nouveau@waouh.test",
		Password: "sup3rsecret",
		Role:     model.RoleUser,
	})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestCreateUserValidation(t *testing.T) {
	f := newUserFixture(t)

	_, err := f.service.CreateUser(context.Background(), f.admin, CreateUserDTO{
		Username: "nouveau",
		Email:    "nouveau@waouh.test",
		Password: "sup3rsecret",
		Role:     "SUPERADMIN",
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.service.CreateUser(context.Background(), f.admin, CreateUserDTO{
		Username: "nouveau",
		Email:    "pas-un-email",
		Password: "sup3rsecret",
		Role:     model.RoleUser,
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	// Duplicate email
	f.seedAccount(t, model.RoleUser, "alice@waouh.test", "sup3rsecret")
	_, err = f.service.CreateUser(context.Background(), f.admin, CreateUserDTO{
		Username: "alice2",
		Email:    "alice@waouh.test",
		Password: "sup3rsecret",
		Role:     model.RoleUser,
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestCreateUserWithDepartment(t *testing.T) {
	f := newUserFixture(t)
	dep, err := f.service.CreateDepartment(context.Background(), f.admin, CreateDepartmentDTO{Name: "Informatique"})
	require.NoError(t, err)

	resp, err := f.service.CreateUser(context.Background(), f.admin, CreateUserDTO{
		Username:     "bob",
		Email:        "bob@waouh.test",
		Password:     "sup3rsecret",
		Role:         model.RoleUser,
		DepartmentID: dep.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.DepartmentID)
	assert.Equal(t, dep.ID, *resp.DepartmentID)
	assert.Contains(t, f.audits.actions(), model.ActionCreateUser)
}

func TestCreateUserUnknownDepartment(t *testing.T) {
	f := newUserFixture(t)

	_, err := f.service.CreateUser(context.Background(), f.admin, CreateUserDTO{
		Username:     "bob",
		Email:        "bob@waouh.test",
		Password:     "sup3rsecret",
		Role:         model.RoleUser,
		DepartmentID: uuid.NewString(),
	})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestDeleteUserWritesAuditRow(t *testing.T) {
	f := newUserFixture(t)
	u := f.seedAccount(t, model.RoleUser, "alice@waouh.test", "sup3rsecret")

	require.NoError(t, f.service.DeleteUser(context.Background(), f.admin, u.ID.String()))
	assert.Contains(t, f.audits.actions(), model.ActionDeleteUser)

	err := f.service.DeleteUser(context.Background(), f.admin, u.ID.String())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestListDepartmentsNeedsAuthentication(t *testing.T) {
	f := newUserFixture(t)

	_, err := f.service.ListDepartments(context.Background(), auth.Principal{})
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))

	deps, err := f.service.ListDepartments(context.Background(), f.admin)
	require.NoError(t, err)
	assert.Empty(t, deps)
}
