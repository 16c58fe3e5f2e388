package service

import (
	"context"
	"time"

	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/apperr"
	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/auth"
	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/repository"
)

type AuditLogResponse struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id,omitempty"`
	UserName   string `json:"user_name,omitempty"`
	Action     string `json:"action"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	EntityName string `json:"entity_name,omitempty"`
	Details    string `json:"details"`
	CreatedAt  string `json:"created_at"`
}

// AuditService exposes the read side of the audit trail.
type AuditService interface {
	List(ctx context.Context, p auth.Principal, page, limit int) ([]AuditLogResponse, int64, error)
}

type auditService struct {
	audits repository.AuditRepository
}

func NewAuditService(audits repository.AuditRepository) AuditService {
	return &auditService{audits: audits}
}

func (s *auditService) List(ctx context.Context, p auth.Principal, page, limit int) ([]AuditLogResponse, int64, error) {
	if err := requireCapability(p, auth.CapViewAudit); err != nil {
		return nil, 0, err
	}

	logs, total, err := s.audits.List(ctx, page, limit)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.KindInternal, "failed to list audit logs", err)
	}

	result := make([]AuditLogResponse, 0, len(logs))
	for _, l := range logs {
		entry := AuditLogResponse{
			ID:         l.ID.String(),
			Action:     l.Action,
			EntityType: l.EntityType,
			EntityID:   l.EntityID,
			EntityName: l.EntityName,
			Details:    l.Details,
			CreatedAt:  l.CreatedAt.Format(time.RFC3339),
		}
		if l.UserID != nil {
			entry.UserID = l.UserID.String()
		}
		if l.User != nil {
			entry.UserName = l.User.Username
		}
		result = append(result, entry)
	}
	return result, total, nil
}
