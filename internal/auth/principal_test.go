package auth

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/model"
)

func TestZeroPrincipalIsUnauthenticated(t *testing.T) {
	assert.False(t, Principal{}.Authenticated())
	assert.False(t, Principal{}.Can(CapCreateRequest))
	assert.True(t, Principal{ID: uuid.New(), Role: model.RoleUser}.Authenticated())
}

func TestRoleCapabilities(t *testing.T) {
	cases := []struct {
		role       string
		capability Capability
		allowed    bool
	}{
		{model.RoleUser, CapCreateRequest, true},
		{model.RoleUser, CapReviewRequest, false},
		{model.RoleUser, CapManageUsers, false},

		{model.RoleAchat, CapAddQuote, true},
		{model.RoleAchat, CapReviewRequest, true},
		{model.RoleAchat, CapValidateRequest, false},
		{model.RoleAchat, CapCreateRequest, false},

		// The director shares the quote-add capability with the buyers
		{model.RoleDirecteur, CapAddQuote, true},
		{model.RoleDirecteur, CapValidateRequest, true},
		{model.RoleDirecteur, CapDecideInternal, true},
		{model.RoleDirecteur, CapReviewRequest, false},
		{model.RoleDirecteur, CapFinalizeRequest, false},

		{model.RoleComptable, CapManageDocuments, true},
		{model.RoleComptable, CapFinalizeRequest, true},
		{model.RoleComptable, CapValidateRequest, false},

		// Admin manages accounts, never the workflow
		{model.RoleAdmin, CapManageUsers, true},
		{model.RoleAdmin, CapViewAudit, true},
		{model.RoleAdmin, CapCreateRequest, false},
		{model.RoleAdmin, CapReviewRequest, false},

		{"UNKNOWN_ROLE", CapCreateRequest, false},
	}

	for _, tc := range cases {
		p := Principal{ID: uuid.New(), Role: tc.role}
		assert.Equal(t, tc.allowed, p.Can(tc.capability),
			"role %s capability %s", tc.role, tc.capability)
	}
}

func TestCapabilitiesListsRoleSet(t *testing.T) {
	caps := Capabilities(model.RoleAdmin)
	assert.ElementsMatch(t, []Capability{CapManageUsers, CapViewAudit}, caps)

	assert.Empty(t, Capabilities("UNKNOWN_ROLE"))
}
