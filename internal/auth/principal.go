// Package auth defines the acting principal and the capability set of each
// role. The engine never authenticates; it authorizes a principal handed in
// by the transport layer.
package auth

import (
	"github.com/google/uuid"

	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/model"
)

// Principal is the authenticated actor performing an operation.
type Principal struct {
	ID           uuid.UUID
	Role         string
	DepartmentID *uuid.UUID
}

// Authenticated reports whether a principal is present.
func (p Principal) Authenticated() bool {
	return p.ID != uuid.Nil
}

// Can reports whether the principal's role grants the capability.
func (p Principal) Can(c Capability) bool {
	return roleCapabilities[p.Role][c]
}

type Capability string

const (
	CapCreateRequest   Capability = "request.create"
	CapEditOwnDraft    Capability = "request.edit_own_draft"
	CapAddQuote        Capability = "quote.add"
	CapSelectQuote     Capability = "quote.select"
	CapDeleteQuote     Capability = "quote.delete"
	CapReviewRequest   Capability = "request.review"   // approve/reject at the PENDING stage
	CapValidateRequest Capability = "request.validate" // validate/reject at the APPROVED stage
	CapManageDocuments Capability = "document.manage"
	CapFinalizeRequest Capability = "request.finalize"

	CapCreateInternal     Capability = "internal.create"
	CapDecideInternal     Capability = "internal.decide"
	CapFinalizeInternal   Capability = "internal.finalize"
	CapManageInternalDocs Capability = "internal.documents"

	CapManageUsers Capability = "users.manage"
	CapViewAudit   Capability = "audit.view"
)

// roleCapabilities declares every role's capability set in one place. The
// director shares the buying department's quote-add capability; overlaps are
// visible here rather than scattered through the engine.
var roleCapabilities = map[string]map[Capability]bool{
	model.RoleUser: {
		CapCreateRequest: true,
		CapEditOwnDraft:  true,
	},
	model.RoleAchat: {
		CapAddQuote:           true,
		CapSelectQuote:        true,
		CapDeleteQuote:        true,
		CapReviewRequest:      true,
		CapCreateInternal:     true,
		CapFinalizeInternal:   true,
		CapManageInternalDocs: true,
	},
	model.RoleDirecteur: {
		CapAddQuote:        true,
		CapValidateRequest: true,
		CapDecideInternal:  true,
		CapViewAudit:       true,
	},
	model.RoleComptable: {
		CapManageDocuments: true,
		CapFinalizeRequest: true,
	},
	model.RoleAdmin: {
		CapManageUsers: true,
		CapViewAudit:   true,
	},
}

// Capabilities returns the declared capability set of a role. Used by the
// /me endpoint so the UI can enable and disable actions.
func Capabilities(role string) []Capability {
	set := roleCapabilities[role]
	caps := make([]Capability, 0, len(set))
	for c := range set {
		caps = append(caps, c)
	}
	return caps
}
