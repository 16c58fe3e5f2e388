package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InternalRequest status enum constants
const (
	InternalStatusPending   = "PENDING"
	InternalStatusApproved  = "APPROVED"
	InternalStatusRejected  = "REJECTED"
	InternalStatusCompleted = "COMPLETED"
)

// Internal expense category enum constants
const (
	CategoryInternet    = "INTERNET"
	CategoryElectricity = "ELECTRICITE"
	CategoryWater       = "EAU"
	CategoryRent        = "LOYER"
	CategoryFuel        = "CARBURANT"
	CategoryMaintenance = "MAINTENANCE"
	CategoryOther       = "AUTRE"
)

// InternalRequest covers recurring operational expenses (internet,
// electricity, ...) with a simpler two-step approval: the buying department
// creates it, the director decides, the buying department finalizes.
type InternalRequest struct {
	ID          uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Reference   string          `gorm:"type:varchar(20);uniqueIndex;not null" json:"reference"` // INT-YYYY-NNNN
	Title       string          `gorm:"type:varchar(255);not null" json:"title"`
	Description string          `gorm:"type:text" json:"description"`
	Category    string          `gorm:"type:varchar(20);not null" json:"category"`
	Amount      decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"amount"`
	Status      string          `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	RequesterID uuid.UUID       `gorm:"type:uuid;not null;index" json:"requester_id"`
	Requester   *User           `gorm:"foreignKey:RequesterID" json:"requester,omitempty"`

	Approvals []InternalApproval `gorm:"foreignKey:RequestID" json:"approvals,omitempty"`
	Documents []InternalDocument `gorm:"foreignKey:RequestID" json:"documents,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InternalApproval is the append-only decision history of an internal request.
type InternalApproval struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequestID uuid.UUID `gorm:"type:uuid;not null;index" json:"request_id"`
	Action    string    `gorm:"type:varchar(10);not null" json:"action"` // APPROVE or REJECT
	Comment   string    `gorm:"type:text" json:"comment"`
	Role      string    `gorm:"type:varchar(50);not null" json:"role"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	User      *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// InternalDocument is optional supporting paperwork, addable while the parent
// is APPROVED and frozen once it reaches COMPLETED.
type InternalDocument struct {
	ID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequestID  uuid.UUID `gorm:"type:uuid;not null;index" json:"request_id"`
	Type       string    `gorm:"type:varchar(20);not null" json:"type"`
	Name       string    `gorm:"type:varchar(255);not null" json:"name"`
	FileURL    string    `gorm:"type:text;not null" json:"file_url"`
	UploadedBy uuid.UUID `gorm:"type:uuid;not null" json:"uploaded_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// ValidCategory reports whether c is one of the declared expense categories.
func ValidCategory(c string) bool {
	switch c {
	case CategoryInternet, CategoryElectricity, CategoryWater, CategoryRent,
		CategoryFuel, CategoryMaintenance, CategoryOther:
		return true
	}
	return false
}
