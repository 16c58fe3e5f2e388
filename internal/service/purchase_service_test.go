package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/apperr"
	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/auth"
	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/model"
	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/repository"
)

// MockPurchaseRepository keeps requests in memory and honours the
// status-guarded transition contract of the real repository.
type MockPurchaseRepository struct {
	mu        sync.Mutex
	requests  map[uuid.UUID]*model.PurchaseRequest
	quotes    map[uuid.UUID]*model.Quote
	documents map[uuid.UUID]*model.Document

	transitionCalls int
	// forceStaleStatus makes TransitionStatus report zero matched rows,
	// simulating a concurrent actor winning the update.
	forceStaleStatus bool
}

func NewMockPurchaseRepository() *MockPurchaseRepository {
	return &MockPurchaseRepository{
		requests:  make(map[uuid.UUID]*model.PurchaseRequest),
		quotes:    make(map[uuid.UUID]*model.Quote),
		documents: make(map[uuid.UUID]*model.Document),
	}
}

func (m *MockPurchaseRepository) Create(ctx context.Context, req *model.PurchaseRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	for i := range req.Items {
		if req.Items[i].ID == uuid.Nil {
			req.Items[i].ID = uuid.New()
		}
		req.Items[i].RequestID = req.ID
	}
	m.requests[req.ID] = req
	return nil
}

func (m *MockPurchaseRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.PurchaseRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return req, nil
}

func (m *MockPurchaseRepository) List(ctx context.Context, filter repository.PurchaseFilter) ([]model.PurchaseRequest, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.PurchaseRequest
	for _, req := range m.requests {
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if filter.RequesterID != nil && req.RequesterID != *filter.RequesterID {
			continue
		}
		result = append(result, *req)
	}
	return result, int64(len(result)), nil
}

func (m *MockPurchaseRepository) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	applyRequestFields(req, fields)
	return nil
}

func (m *MockPurchaseRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to string, extra map[string]interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitionCalls++
	req, ok := m.requests[id]
	if !ok || req.Status != from || m.forceStaleStatus {
		return false, nil
	}
	req.Status = to
	applyRequestFields(req, extra)
	return true, nil
}

func applyRequestFields(req *model.PurchaseRequest, fields map[string]interface{}) {
	for key, value := range fields {
		switch key {
		case "title":
			req.Title = value.(string)
		case "description":
			req.Description = value.(string)
		case "total_estimated":
			req.TotalEstimated = value.(decimal.Decimal)
		case "total_final":
			v := value.(decimal.Decimal)
			req.TotalFinal = &v
		case "selected_quote_id":
			v := value.(uuid.UUID)
			req.SelectedQuoteID = &v
		}
	}
}

func (m *MockPurchaseRepository) ReplaceItems(ctx context.Context, requestID uuid.UUID, items []model.PurchaseItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[requestID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for i := range items {
		items[i].ID = uuid.New()
		items[i].RequestID = requestID
	}
	req.Items = items
	return nil
}

func (m *MockPurchaseRepository) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.requests, id)
	return nil
}

func (m *MockPurchaseRepository) ExistsByReference(ctx context.Context, reference string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, req := range m.requests {
		if req.Reference == reference {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockPurchaseRepository) AddQuote(ctx context.Context, quote *model.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if quote.ID == uuid.Nil {
		quote.ID = uuid.New()
	}
	m.quotes[quote.ID] = quote
	if req, ok := m.requests[quote.RequestID]; ok {
		req.Quotes = append(req.Quotes, *quote)
	}
	return nil
}

func (m *MockPurchaseRepository) FindQuoteByID(ctx context.Context, id uuid.UUID) (*model.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	quote, ok := m.quotes[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return quote, nil
}

func (m *MockPurchaseRepository) DeleteQuote(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	quote, ok := m.quotes[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	delete(m.quotes, id)
	if req, ok := m.requests[quote.RequestID]; ok {
		kept := req.Quotes[:0]
		for _, q := range req.Quotes {
			if q.ID != id {
				kept = append(kept, q)
			}
		}
		req.Quotes = kept
	}
	return nil
}

func (m *MockPurchaseRepository) AddApproval(ctx context.Context, approval *model.Approval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if approval.ID == uuid.Nil {
		approval.ID = uuid.New()
	}
	if req, ok := m.requests[approval.RequestID]; ok {
		req.Approvals = append(req.Approvals, *approval)
	}
	return nil
}

func (m *MockPurchaseRepository) AddDocument(ctx context.Context, doc *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	m.documents[doc.ID] = doc
	if req, ok := m.requests[doc.RequestID]; ok {
		req.Documents = append(req.Documents, *doc)
	}
	return nil
}

func (m *MockPurchaseRepository) FindDocumentByID(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return doc, nil
}

func (m *MockPurchaseRepository) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	delete(m.documents, id)
	if req, ok := m.requests[doc.RequestID]; ok {
		kept := req.Documents[:0]
		for _, d := range req.Documents {
			if d.ID != id {
				kept = append(kept, d)
			}
		}
		req.Documents = kept
	}
	return nil
}

// MockUserRepository maps roles to users for notification recipient lookups.
type MockUserRepository struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func NewMockUserRepository() *MockUserRepository {
	return &MockUserRepository{users: make(map[string]*model.User)}
}

func (m *MockUserRepository) addUser(role, email string) *model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := &model.User{ID: uuid.New(), Username: email, Email: email, Role: role}
	m.users[u.ID.String()] = u
	return u
}

func (m *MockUserRepository) Create(ctx context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	m.users[user.ID.String()] = user
	return nil
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return u, nil
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockUserRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockUserRepository) ListByRole(ctx context.Context, role string) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.User
	for _, u := range m.users {
		if u.Role == role {
			result = append(result, *u)
		}
	}
	return result, nil
}

func (m *MockUserRepository) List(ctx context.Context, page, limit int) ([]model.User, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.User
	for _, u := range m.users {
		result = append(result, *u)
	}
	return result, int64(len(result)), nil
}

func (m *MockUserRepository) Update(ctx context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID.String()] = user
	return nil
}

func (m *MockUserRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	return nil
}

// MockAuditRepository records every audit row for assertions.
type MockAuditRepository struct {
	mu      sync.Mutex
	entries []*model.AuditLog
}

func (m *MockAuditRepository) Log(ctx context.Context, entry *model.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MockAuditRepository) List(ctx context.Context, page, limit int) ([]model.AuditLog, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]model.AuditLog, 0, len(m.entries))
	for _, e := range m.entries {
		result = append(result, *e)
	}
	return result, int64(len(result)), nil
}

func (m *MockAuditRepository) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []string
	for _, e := range m.entries {
		result = append(result, e.Action)
	}
	return result
}

// mockTxManager runs the callback directly; the mocks have no real
// transactions to join.
type mockTxManager struct{}

func (mockTxManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return fn(ctx)
}

// MockNotifier records sent mail and can be told to fail or panic.
type MockNotifier struct {
	mu       sync.Mutex
	subjects []string
	sendErr  error
	panics   bool
}

func (m *MockNotifier) Send(to []string, subject, body string) error {
	if m.panics {
		panic("smtp dial blew up")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects = append(m.subjects, subject)
	return m.sendErr
}

type MockBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (m *MockBroadcaster) BroadcastEvent(event string, payload interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

type purchaseFixture struct {
	service     PurchaseService
	repo        *MockPurchaseRepository
	users       *MockUserRepository
	audits      *MockAuditRepository
	notifier    *MockNotifier
	broadcaster *MockBroadcaster

	requester auth.Principal
	buyer     auth.Principal
	director  auth.Principal
	account   auth.Principal
}

func newPurchaseFixture(t *testing.T) *purchaseFixture {
	t.Helper()
	repo := NewMockPurchaseRepository()
	users := NewMockUserRepository()
	audits := &MockAuditRepository{}
	notifier := &MockNotifier{}
	broadcaster := &MockBroadcaster{}

	users.addUser(model.RoleAchat, "achat@waouh.test")
	users.addUser(model.RoleDirecteur, "direction@waouh.test")
	users.addUser(model.RoleComptable, "compta@waouh.test")

	refs := NewReferenceService(repo, NewMockInternalRepository())
	svc := NewPurchaseService(repo, users, audits, mockTxManager{}, refs, notifier, broadcaster, zap.NewNop())

	dept := uuid.New()
	requesterUser := users.addUser(model.RoleUser, "alice@waouh.test")

	return &purchaseFixture{
		service:     svc,
		repo:        repo,
		users:       users,
		audits:      audits,
		notifier:    notifier,
		broadcaster: broadcaster,
		requester:   auth.Principal{ID: requesterUser.ID, Role: model.RoleUser, DepartmentID: &dept},
		buyer:       auth.Principal{ID: uuid.New(), Role: model.RoleAchat},
		director:    auth.Principal{ID: uuid.New(), Role: model.RoleDirecteur},
		account:     auth.Principal{ID: uuid.New(), Role: model.RoleComptable},
	}
}

func (f *purchaseFixture) createDraft(t *testing.T) *PurchaseDetailResponse {
	t.Helper()
	detail, err := f.service.Create(context.Background(), f.requester, CreatePurchaseDTO{
		Title: "Laptops équipe dev",
		Items: []PurchaseItemInput{
			{Name: "Laptop", Quantity: 2, UnitPrice: "1500.50"},
			{Name: "Dock", Quantity: 1, UnitPrice: "99.99"},
		},
	})
	require.NoError(t, err)
	return detail
}

// createPending drives a fresh request to PENDING through the engine.
func (f *purchaseFixture) createPending(t *testing.T) uuid.UUID {
	t.Helper()
	detail := f.createDraft(t)
	id := uuid.MustParse(detail.ID)
	_, err := f.service.Submit(context.Background(), f.requester, detail.ID)
	require.NoError(t, err)
	return id
}

func (f *purchaseFixture) addQuote(t *testing.T, id uuid.UUID, supplier, amount string) *QuoteResponse {
	t.Helper()
	quote, err := f.service.AddQuote(context.Background(), f.buyer, id.String(), AddQuoteDTO{
		SupplierName: supplier,
		Amount:       amount,
		ValidUntil:   time.Now().AddDate(0, 1, 0).Format("2006-01-02"),
	})
	require.NoError(t, err)
	return quote
}

// createApproved drives a request to APPROVED with two quotes, first selected.
func (f *purchaseFixture) createApproved(t *testing.T) (uuid.UUID, uuid.UUID) {
	t.Helper()
	id := f.createPending(t)
	q1 := f.addQuote(t, id, "Fournisseur A", "2800.00")
	f.addQuote(t, id, "Fournisseur B", "3050.00")
	quoteID := uuid.MustParse(q1.ID)
	_, err := f.service.SelectQuote(context.Background(), f.buyer, id.String(), q1.ID)
	require.NoError(t, err)
	_, err = f.service.Approve(context.Background(), f.buyer, id.String(), "ok pour moi")
	require.NoError(t, err)
	return id, quoteID
}

func (f *purchaseFixture) createValidated(t *testing.T) (uuid.UUID, uuid.UUID) {
	t.Helper()
	id, quoteID := f.createApproved(t)
	_, err := f.service.Validate(context.Background(), f.director, id.String(), "")
	require.NoError(t, err)
	return id, quoteID
}

func TestCreateComputesEstimatedTotal(t *testing.T) {
	f := newPurchaseFixture(t)

	detail := f.createDraft(t)

	assert.Equal(t, model.PurchaseStatusDraft, detail.Status)
	assert.Equal(t, "3100.99", detail.TotalEstimated)
	assert.Len(t, detail.Items, 2)
	assert.True(t, strings.HasPrefix(detail.Reference, "DA-"+time.Now().Format("200601")+"-"),
		"unexpected reference %s", detail.Reference)
	assert.Equal(t, []string{model.ActionCreateRequest}, f.audits.actions())
}

func TestCreateRequiresDepartment(t *testing.T) {
	f := newPurchaseFixture(t)
	noDept := auth.Principal{ID: uuid.New(), Role: model.RoleUser}

	_, err := f.service.Create(context.Background(), noDept, CreatePurchaseDTO{
		Title: "Sans département",
		Items: []PurchaseItemInput{{Name: "Stylo", Quantity: 1, UnitPrice: "2.00"}},
	})

	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestCreateRejectsInvalidItems(t *testing.T) {
	f := newPurchaseFixture(t)

	cases := []struct {
		name string
		item PurchaseItemInput
	}{
		{"zero quantity", PurchaseItemInput{Name: "Stylo", Quantity: 0, UnitPrice: "2.00"}},
		{"negative quantity", PurchaseItemInput{Name: "Stylo", Quantity: -3, UnitPrice: "2.00"}},
		{"negative price", PurchaseItemInput{Name: "Stylo", Quantity: 1, UnitPrice: "-2.00"}},
		{"garbage price", PurchaseItemInput{Name: "Stylo", Quantity: 1, UnitPrice: "cher"}},
		{"blank name", PurchaseItemInput{Name: "  ", Quantity: 1, UnitPrice: "2.00"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.service.Create(context.Background(), f.requester, CreatePurchaseDTO{
				Title: "Fournitures",
				Items: []PurchaseItemInput{tc.item},
			})
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}

func TestUpdateReplacesItemsAndRecomputesTotal(t *testing.T) {
	f := newPurchaseFixture(t)
	detail := f.createDraft(t)

	updated, err := f.service.Update(context.Background(), f.requester, detail.ID, UpdatePurchaseDTO{
		Title: "Laptops équipe dev (révisé)",
		Items: []PurchaseItemInput{{Name: "Laptop", Quantity: 1, UnitPrice: "1999.99"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "1999.99", updated.TotalEstimated)
	assert.Len(t, updated.Items, 1)
}

func TestUpdateOnlyOwnerAndOnlyDraft(t *testing.T) {
	f := newPurchaseFixture(t)
	detail := f.createDraft(t)
	other := auth.Principal{ID: uuid.New(), Role: model.RoleUser}

	_, err := f.service.Update(context.Background(), other, detail.ID, UpdatePurchaseDTO{
		Title: "Pas à moi",
		Items: []PurchaseItemInput{{Name: "Stylo", Quantity: 1, UnitPrice: "2.00"}},
	})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = f.service.Submit(context.Background(), f.requester, detail.ID)
	require.NoError(t, err)

	_, err = f.service.Update(context.Background(), f.requester, detail.ID, UpdatePurchaseDTO{
		Title: "Trop tard",
		Items: []PurchaseItemInput{{Name: "Stylo", Quantity: 1, UnitPrice: "2.00"}},
	})
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
}

func TestDeleteOnlyDraft(t *testing.T) {
	f := newPurchaseFixture(t)
	detail := f.createDraft(t)

	require.NoError(t, f.service.Delete(context.Background(), f.requester, detail.ID))
	_, err := f.service.Get(context.Background(), f.requester, detail.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	id := f.createPending(t)
	err = f.service.Delete(context.Background(), f.requester, id.String())
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
}

func TestSubmitNotifiesBuyers(t *testing.T) {
	f := newPurchaseFixture(t)

	id := f.createPending(t)

	req, err := f.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.PurchaseStatusPending, req.Status)
	assert.Contains(t, f.notifier.subjects, "Nouvelle demande d'achat à traiter")
	assert.Contains(t, f.broadcaster.events, "purchase_request.submitted")
}

func TestApprovePreconditions(t *testing.T) {
	f := newPurchaseFixture(t)
	id := f.createPending(t)

	// No quotes at all
	_, err := f.service.Approve(context.Background(), f.buyer, id.String(), "")
	require.Equal(t, apperr.KindPreconditionFailed, apperr.KindOf(err))
	details := apperr.DetailsOf(err)
	assert.Equal(t, 0, details["quote_count"])
	assert.Equal(t, false, details["has_selected_quote"])

	// One quote, selected: still below the minimum of two
	q1 := f.addQuote(t, id, "Fournisseur A", "2800.00")
	_, err = f.service.SelectQuote(context.Background(), f.buyer, id.String(), q1.ID)
	require.NoError(t, err)
	_, err = f.service.Approve(context.Background(), f.buyer, id.String(), "")
	require.Equal(t, apperr.KindPreconditionFailed, apperr.KindOf(err))
	assert.Equal(t, 1, apperr.DetailsOf(err)["quote_count"])

	// Two quotes, none selected
	f2 := newPurchaseFixture(t)
	id2 := f2.createPending(t)
	f2.addQuote(t, id2, "Fournisseur A", "2800.00")
	f2.addQuote(t, id2, "Fournisseur B", "3050.00")
	_, err = f2.service.Approve(context.Background(), f2.buyer, id2.String(), "")
	require.Equal(t, apperr.KindPreconditionFailed, apperr.KindOf(err))
	assert.Equal(t, false, apperr.DetailsOf(err)["has_selected_quote"])

	// Both preconditions met
	f.addQuote(t, id, "Fournisseur B", "3050.00")
	resp, err := f.service.Approve(context.Background(), f.buyer, id.String(), "ok")
	require.NoError(t, err)
	assert.Equal(t, model.PurchaseStatusApproved, resp.Status)
}

func TestApproveRecordsApprovalRow(t *testing.T) {
	f := newPurchaseFixture(t)
	id, _ := f.createApproved(t)

	req, err := f.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, req.Approvals, 1)
	assert.Equal(t, model.ApprovalActionApprove, req.Approvals[0].Action)
	assert.Equal(t, model.RoleAchat, req.Approvals[0].Role)
	assert.Equal(t, f.buyer.ID, req.Approvals[0].UserID)
}

func TestApproveForbiddenForRequester(t *testing.T) {
	f := newPurchaseFixture(t)
	id := f.createPending(t)

	_, err := f.service.Approve(context.Background(), f.requester, id.String(), "")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestApproveLosesConcurrentRace(t *testing.T) {
	f := newPurchaseFixture(t)
	id := f.createPending(t)
	q1 := f.addQuote(t, id, "Fournisseur A", "2800.00")
	f.addQuote(t, id, "Fournisseur B", "3050.00")
	_, err := f.service.SelectQuote(context.Background(), f.buyer, id.String(), q1.ID)
	require.NoError(t, err)

	// Another actor wins the guarded update between load and transition
	f.repo.forceStaleStatus = true
	_, err = f.service.Approve(context.Background(), f.buyer, id.String(), "")
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))

	// The losing transition must not leave an approval row behind
	f.repo.forceStaleStatus = false
	req, err := f.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, req.Approvals)
}

func TestRejectCommentLength(t *testing.T) {
	f := newPurchaseFixture(t)
	id := f.createPending(t)

	// 9 characters: one short of the minimum
	_, err := f.service.Reject(context.Background(), f.buyer, id.String(), "trop cher")
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Equal(t, 10, apperr.DetailsOf(err)["min_length"])

	resp, err := f.service.Reject(context.Background(), f.buyer, id.String(), "Budget dépassé cette année")
	require.NoError(t, err)
	assert.Equal(t, model.PurchaseStatusRejected, resp.Status)
	assert.Contains(t, f.notifier.subjects, "Demande d'achat rejetée")
}

func TestDirectorRejectsFromApprovedOnly(t *testing.T) {
	f := newPurchaseFixture(t)
	id, _ := f.createApproved(t)

	// The first-stage reject path expects PENDING
	_, err := f.service.Reject(context.Background(), f.buyer, id.String(), "Pas dans le budget trimestriel")
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))

	resp, err := f.service.RejectAsDirector(context.Background(), f.director, id.String(), "Pas dans le budget trimestriel")
	require.NoError(t, err)
	assert.Equal(t, model.PurchaseStatusRejected, resp.Status)
}

func TestValidateFixesFinalTotalFromSelectedQuote(t *testing.T) {
	f := newPurchaseFixture(t)
	id, _ := f.createApproved(t)

	resp, err := f.service.Validate(context.Background(), f.director, id.String(), "")
	require.NoError(t, err)
	assert.Equal(t, model.PurchaseStatusValidated, resp.Status)
	require.NotNil(t, resp.TotalFinal)
	assert.Equal(t, "2800", *resp.TotalFinal)
}

func TestValidateForbiddenForBuyer(t *testing.T) {
	f := newPurchaseFixture(t)
	id, _ := f.createApproved(t)

	_, err := f.service.Validate(context.Background(), f.buyer, id.String(), "")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestFinalizeRequiresDocument(t *testing.T) {
	f := newPurchaseFixture(t)
	id, _ := f.createValidated(t)

	_, err := f.service.Finalize(context.Background(), f.account, id.String())
	require.Equal(t, apperr.KindPreconditionFailed, apperr.KindOf(err))
	assert.Equal(t, 0, apperr.DetailsOf(err)["document_count"])

	_, err = f.service.AddDocument(context.Background(), f.account, id.String(), AddDocumentDTO{
		Type:    model.DocTypeInvoice,
		Name:    "facture.pdf",
		FileURL: "http://localhost:8080/uploads/facture.pdf",
	})
	require.NoError(t, err)

	resp, err := f.service.Finalize(context.Background(), f.account, id.String())
	require.NoError(t, err)
	assert.Equal(t, model.PurchaseStatusCompleted, resp.Status)
	assert.Contains(t, f.broadcaster.events, "purchase_request.completed")
}

func TestCompletedRequestIsImmutable(t *testing.T) {
	f := newPurchaseFixture(t)
	id, _ := f.createValidated(t)
	doc, err := f.service.AddDocument(context.Background(), f.account, id.String(), AddDocumentDTO{
		Type:    model.DocTypeInvoice,
		Name:    "facture.pdf",
		FileURL: "http://localhost:8080/uploads/facture.pdf",
	})
	require.NoError(t, err)
	_, err = f.service.Finalize(context.Background(), f.account, id.String())
	require.NoError(t, err)

	_, err = f.service.AddDocument(context.Background(), f.account, id.String(), AddDocumentDTO{
		Type:    model.DocTypeReceipt,
		Name:    "bon.pdf",
		FileURL: "http://localhost:8080/uploads/bon.pdf",
	})
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))

	err = f.service.DeleteDocument(context.Background(), f.account, doc.ID)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))

	_, err = f.service.Approve(context.Background(), f.buyer, id.String(), "")
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
}

func TestDocumentsOnlyWhileValidated(t *testing.T) {
	f := newPurchaseFixture(t)
	id := f.createPending(t)

	_, err := f.service.AddDocument(context.Background(), f.account, id.String(), AddDocumentDTO{
		Type:    model.DocTypeInvoice,
		Name:    "facture.pdf",
		FileURL: "http://localhost:8080/uploads/facture.pdf",
	})
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
}

func TestAddDocumentRejectsUnknownType(t *testing.T) {
	f := newPurchaseFixture(t)
	id, _ := f.createValidated(t)

	_, err := f.service.AddDocument(context.Background(), f.account, id.String(), AddDocumentDTO{
		Type:    "SELFIE",
		Name:    "photo.jpg",
		FileURL: "http://localhost:8080/uploads/photo.jpg",
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestSelectedQuoteIsNeverDeletable(t *testing.T) {
	f := newPurchaseFixture(t)
	id := f.createPending(t)
	q1 := f.addQuote(t, id, "Fournisseur A", "2800.00")
	q2 := f.addQuote(t, id, "Fournisseur B", "3050.00")
	_, err := f.service.SelectQuote(context.Background(), f.buyer, id.String(), q1.ID)
	require.NoError(t, err)

	// While PENDING
	err = f.service.DeleteQuote(context.Background(), f.buyer, q1.ID)
	assert.Equal(t, apperr.KindPreconditionFailed, apperr.KindOf(err))

	// The non-selected quote goes away fine
	require.NoError(t, f.service.DeleteQuote(context.Background(), f.buyer, q2.ID))

	// After the request left PENDING the selected-quote guard still fires
	// first, so the error stays PreconditionFailed rather than InvalidState
	f.addQuote(t, id, "Fournisseur C", "2990.00")
	_, err = f.service.Approve(context.Background(), f.buyer, id.String(), "")
	require.NoError(t, err)
	err = f.service.DeleteQuote(context.Background(), f.buyer, q1.ID)
	assert.Equal(t, apperr.KindPreconditionFailed, apperr.KindOf(err))
}

func TestQuotesOnlyWhilePending(t *testing.T) {
	f := newPurchaseFixture(t)
	detail := f.createDraft(t)

	_, err := f.service.AddQuote(context.Background(), f.buyer, detail.ID, AddQuoteDTO{
		SupplierName: "Fournisseur A",
		Amount:       "2800.00",
		ValidUntil:   "2026-12-31",
	})
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
}

func TestDirectorMayAddQuotes(t *testing.T) {
	f := newPurchaseFixture(t)
	id := f.createPending(t)

	_, err := f.service.AddQuote(context.Background(), f.director, id.String(), AddQuoteDTO{
		SupplierName: "Fournisseur A",
		Amount:       "2800.00",
		ValidUntil:   "2026-12-31",
	})
	assert.NoError(t, err)
}

func TestListScopesRequestersToOwnRequests(t *testing.T) {
	f := newPurchaseFixture(t)
	f.createDraft(t)

	dept := uuid.New()
	otherUser := f.users.addUser(model.RoleUser, "bob@waouh.test")
	other := auth.Principal{ID: otherUser.ID, Role: model.RoleUser, DepartmentID: &dept}
	_, err := f.service.Create(context.Background(), other, CreatePurchaseDTO{
		Title: "Écrans salle réunion",
		Items: []PurchaseItemInput{{Name: "Écran", Quantity: 2, UnitPrice: "250.00"}},
	})
	require.NoError(t, err)

	mine, total, err := f.service.List(context.Background(), f.requester, "", 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, mine, 1)
	assert.Equal(t, "Laptops équipe dev", mine[0].Title)

	all, total, err := f.service.List(context.Background(), f.buyer, "", 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, all, 2)
}

func TestGetExposesCheapestQuoteHint(t *testing.T) {
	f := newPurchaseFixture(t)
	id := f.createPending(t)
	f.addQuote(t, id, "Fournisseur A", "3050.00")
	q2 := f.addQuote(t, id, "Fournisseur B", "2800.00")

	detail, err := f.service.Get(context.Background(), f.buyer, id.String())
	require.NoError(t, err)
	require.NotNil(t, detail.CheapestQuoteID)
	assert.Equal(t, q2.ID, *detail.CheapestQuoteID)
}

func TestGetForbiddenForOtherRequester(t *testing.T) {
	f := newPurchaseFixture(t)
	detail := f.createDraft(t)
	other := auth.Principal{ID: uuid.New(), Role: model.RoleUser}

	_, err := f.service.Get(context.Background(), other, detail.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestNotificationFailureDoesNotFailTransition(t *testing.T) {
	f := newPurchaseFixture(t)
	f.notifier.sendErr = fmt.Errorf("smtp: connection refused")

	id := f.createPending(t)
	req, err := f.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.PurchaseStatusPending, req.Status)
}

func TestNotificationPanicDoesNotFailTransition(t *testing.T) {
	f := newPurchaseFixture(t)
	f.notifier.panics = true

	id := f.createPending(t)
	req, err := f.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.PurchaseStatusPending, req.Status)
}

func TestAuditTrailCoversFullLifecycle(t *testing.T) {
	f := newPurchaseFixture(t)
	id, _ := f.createValidated(t)
	_, err := f.service.AddDocument(context.Background(), f.account, id.String(), AddDocumentDTO{
		Type:    model.DocTypeInvoice,
		Name:    "facture.pdf",
		FileURL: "http://localhost:8080/uploads/facture.pdf",
	})
	require.NoError(t, err)
	_, err = f.service.Finalize(context.Background(), f.account, id.String())
	require.NoError(t, err)

	assert.Equal(t, []string{
		model.ActionCreateRequest,
		model.ActionSubmitRequest,
		model.ActionAddQuote,
		model.ActionAddQuote,
		model.ActionSelectQuote,
		model.ActionApproveRequest,
		model.ActionValidateRequest,
		model.ActionAddDocument,
		model.ActionFinalizeRequest,
	}, f.audits.actions())
}

func TestFullLifecycleEndsCompletedWithSelectedQuoteTotal(t *testing.T) {
	f := newPurchaseFixture(t)
	detail, err := f.service.Create(context.Background(), f.requester, CreatePurchaseDTO{
		Title: "Renouvellement serveurs",
		Items: []PurchaseItemInput{
			{Name: "Serveur rack", Quantity: 2, UnitPrice: "500000.00"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, model.PurchaseStatusDraft, detail.Status)

	resp, err := f.service.Submit(context.Background(), f.requester, detail.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PurchaseStatusPending, resp.Status)

	id := uuid.MustParse(detail.ID)
	q1 := f.addQuote(t, id, "Fournisseur A", "950000.00")
	f.addQuote(t, id, "Fournisseur B", "1020000.00")
	_, err = f.service.SelectQuote(context.Background(), f.buyer, detail.ID, q1.ID)
	require.NoError(t, err)

	resp, err = f.service.Approve(context.Background(), f.buyer, detail.ID, "")
	require.NoError(t, err)
	assert.Equal(t, model.PurchaseStatusApproved, resp.Status)

	resp, err = f.service.Validate(context.Background(), f.director, detail.ID, "")
	require.NoError(t, err)
	assert.Equal(t, model.PurchaseStatusValidated, resp.Status)
	require.NotNil(t, resp.TotalFinal)
	assert.Equal(t, "950000", *resp.TotalFinal)

	_, err = f.service.AddDocument(context.Background(), f.account, detail.ID, AddDocumentDTO{
		Type:    model.DocTypeInvoice,
		Name:    "facture-serveurs.pdf",
		FileURL: "http://localhost:8080/uploads/facture-serveurs.pdf",
	})
	require.NoError(t, err)

	resp, err = f.service.Finalize(context.Background(), f.account, detail.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PurchaseStatusCompleted, resp.Status)
	require.NotNil(t, resp.TotalFinal)
	assert.Equal(t, "950000", *resp.TotalFinal)
}

func TestUnauthenticatedPrincipalIsRejected(t *testing.T) {
	f := newPurchaseFixture(t)
	anonymous := auth.Principal{}

	_, _, err := f.service.List(context.Background(), anonymous, "", 1, 20)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))

	_, err = f.service.Create(context.Background(), anonymous, CreatePurchaseDTO{
		Title: "Anonyme",
		Items: []PurchaseItemInput{{Name: "Stylo", Quantity: 1, UnitPrice: "2.00"}},
	})
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}
