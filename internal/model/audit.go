package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	ActionCreateRequest   = "CREATE_REQUEST"
	ActionUpdateRequest   = "UPDATE_REQUEST"
	ActionSubmitRequest   = "SUBMIT_REQUEST"
	ActionDeleteRequest   = "DELETE_REQUEST"
	ActionAddQuote        = "ADD_QUOTE"
	ActionSelectQuote     = "SELECT_QUOTE"
	ActionDeleteQuote     = "DELETE_QUOTE"
	ActionApproveRequest  = "APPROVE_REQUEST"
	ActionRejectRequest   = "REJECT_REQUEST"
	ActionValidateRequest = "VALIDATE_REQUEST"
	ActionFinalizeRequest = "FINALIZE_REQUEST"
	ActionAddDocument     = "ADD_DOCUMENT"
	ActionDeleteDocument  = "DELETE_DOCUMENT"

	// Internal request workflow actions
	ActionCreateInternal   = "CREATE_INTERNAL_REQUEST"
	ActionApproveInternal  = "APPROVE_INTERNAL_REQUEST"
	ActionRejectInternal   = "REJECT_INTERNAL_REQUEST"
	ActionFinalizeInternal = "FINALIZE_INTERNAL_REQUEST"

	ActionCreateUser = "CREATE_USER"
	ActionUpdateUser = "UPDATE_USER"
	ActionDeleteUser = "DELETE_USER"
)

// Audited entity types
const (
	EntityPurchaseRequest = "purchase_request"
	EntityInternalRequest = "internal_request"
	EntityUser            = "user"
)

// AuditLog tracks Who, What, and When for critical system changes
type AuditLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID     *uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	User       *User      `gorm:"foreignKey:UserID" json:"user"`
	Action     string     `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityType string     `gorm:"type:varchar(30);not null;index" json:"entity_type"`
	EntityID   string     `gorm:"type:varchar(50);index" json:"entity_id"`
	EntityName string     `gorm:"type:varchar(255)" json:"entity_name,omitempty"` // Human readable name (reference or title)
	Details    string     `gorm:"type:jsonb" json:"details"`                      // Serialized JSON payload of the action
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}
