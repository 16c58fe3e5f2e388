package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PurchaseRequest status enum constants.
// Terminal states (COMPLETED, REJECTED) have no outgoing transitions.
const (
	PurchaseStatusDraft     = "DRAFT"
	PurchaseStatusPending   = "PENDING"
	PurchaseStatusQuoted    = "QUOTED" // reserved, never assigned
	PurchaseStatusApproved  = "APPROVED"
	PurchaseStatusValidated = "VALIDATED"
	PurchaseStatusCompleted = "COMPLETED"
	PurchaseStatusRejected  = "REJECTED"
)

// Approval action enum constants
const (
	ApprovalActionApprove = "APPROVE"
	ApprovalActionReject  = "REJECT"
)

// Document type enum constants
const (
	DocTypeInvoice      = "INVOICE"
	DocTypeReceipt      = "RECEIPT"
	DocTypeDeliveryNote = "DELIVERY_NOTE"
	DocTypeOther        = "OTHER"
)

// PurchaseRequest is the aggregate root of the purchase flow: the request row
// plus its items, supplier quotes, approval history and supporting documents.
// Status moves only through the engine's transition operations.
type PurchaseRequest struct {
	ID              uuid.UUID        `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Reference       string           `gorm:"type:varchar(30);uniqueIndex;not null" json:"reference"` // DA-YYYYMM-XXXXXX
	Title           string           `gorm:"type:varchar(255);not null" json:"title"`
	Description     string           `gorm:"type:text" json:"description"`
	Status          string           `gorm:"type:varchar(20);not null;default:'DRAFT';index" json:"status"`
	TotalEstimated  decimal.Decimal  `gorm:"type:decimal(18,2);not null;default:0" json:"total_estimated"` // sum of item quantity * unit price
	TotalFinal      *decimal.Decimal `gorm:"type:decimal(18,2)" json:"total_final"`                        // set once at validation, from the selected quote
	RequesterID     uuid.UUID        `gorm:"type:uuid;not null;index" json:"requester_id"`
	Requester       *User            `gorm:"foreignKey:RequesterID" json:"requester,omitempty"`
	DepartmentID    uuid.UUID        `gorm:"type:uuid;not null;index" json:"department_id"` // snapshot of the requester's department at creation
	Department      *Department      `gorm:"foreignKey:DepartmentID" json:"department,omitempty"`
	SelectedQuoteID *uuid.UUID       `gorm:"type:uuid" json:"selected_quote_id"`

	Items     []PurchaseItem `gorm:"foreignKey:RequestID" json:"items,omitempty"`
	Quotes    []Quote        `gorm:"foreignKey:RequestID" json:"quotes,omitempty"`
	Approvals []Approval     `gorm:"foreignKey:RequestID" json:"approvals,omitempty"`
	Documents []Document     `gorm:"foreignKey:RequestID" json:"documents,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PurchaseItem is a line of a purchase request. Items are replaced as a whole
// set while the parent is DRAFT, never patched individually.
type PurchaseItem struct {
	ID          uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequestID   uuid.UUID       `gorm:"type:uuid;not null;index" json:"request_id"`
	Name        string          `gorm:"type:varchar(255);not null" json:"name"`
	Description string          `gorm:"type:text" json:"description"`
	Quantity    int             `gorm:"not null" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"unit_price"` // estimated
	CreatedAt   time.Time       `json:"created_at"`
}

// Quote is a supplier offer collected while the parent request is PENDING.
type Quote struct {
	ID              uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequestID       uuid.UUID       `gorm:"type:uuid;not null;index" json:"request_id"`
	SupplierName    string          `gorm:"type:varchar(255);not null" json:"supplier_name"`
	SupplierContact string          `gorm:"type:varchar(255)" json:"supplier_contact"`
	Amount          decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"amount"`
	ValidUntil      time.Time       `gorm:"not null" json:"valid_until"`
	Notes           string          `gorm:"type:text" json:"notes"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Approval is an append-only history entry: one row per transition decision.
// Rows are never mutated or deleted.
type Approval struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequestID uuid.UUID `gorm:"type:uuid;not null;index" json:"request_id"`
	Action    string    `gorm:"type:varchar(10);not null" json:"action"` // APPROVE or REJECT
	Comment   string    `gorm:"type:text" json:"comment"`
	Role      string    `gorm:"type:varchar(50);not null" json:"role"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	User      *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Document is a supporting file attached while the parent is VALIDATED and
// frozen once the parent reaches COMPLETED.
type Document struct {
	ID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequestID  uuid.UUID `gorm:"type:uuid;not null;index" json:"request_id"`
	Type       string    `gorm:"type:varchar(20);not null" json:"type"` // INVOICE, RECEIPT, DELIVERY_NOTE, OTHER
	Name       string    `gorm:"type:varchar(255);not null" json:"name"`
	FileURL    string    `gorm:"type:text;not null" json:"file_url"`
	UploadedBy uuid.UUID `gorm:"type:uuid;not null" json:"uploaded_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// ValidDocumentType reports whether t is one of the declared document types.
func ValidDocumentType(t string) bool {
	switch t {
	case DocTypeInvoice, DocTypeReceipt, DocTypeDeliveryNote, DocTypeOther:
		return true
	}
	return false
}

// CheapestQuote returns the quote with the lowest amount, or nil if there are
// no quotes. Presentation hint only, selection stays the buyer's judgment.
func (r *PurchaseRequest) CheapestQuote() *Quote {
	var cheapest *Quote
	for i := range r.Quotes {
		if cheapest == nil || r.Quotes[i].Amount.LessThan(cheapest.Amount) {
			cheapest = &r.Quotes[i]
		}
	}
	return cheapest
}

// SelectedQuote returns the currently selected quote, or nil if none is
// selected or the referenced quote is not loaded.
func (r *PurchaseRequest) SelectedQuote() *Quote {
	if r.SelectedQuoteID == nil {
		return nil
	}
	for i := range r.Quotes {
		if r.Quotes[i].ID == *r.SelectedQuoteID {
			return &r.Quotes[i]
		}
	}
	return nil
}
