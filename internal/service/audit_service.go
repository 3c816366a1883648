package service

import (
	"context"
	"time"

	"pharmstock/internal/model"
	"pharmstock/internal/repository"
)

type AuditLogResponse struct {
	ID         string  `json:"id"`
	ActorID    *string `json:"actor_id"`
	Action     string  `json:"action"`
	EntityID   string  `json:"entity_id"`
	EntityName string  `json:"entity_name,omitempty"`
	Details    string  `json:"details"`
	CreatedAt  string  `json:"created_at"`
}

type AuditService interface {
	GetAuditLogs(ctx context.Context, action string, page, limit int) ([]AuditLogResponse, int64, error)
}

type auditService struct {
	auditRepo repository.AuditRepository
}

func NewAuditService(auditRepo repository.AuditRepository) AuditService {
	return &auditService{auditRepo: auditRepo}
}

func (s *auditService) GetAuditLogs(ctx context.Context, action string, page, limit int) ([]AuditLogResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	logs, total, err := s.auditRepo.List(ctx, action, page, limit)
	if err != nil {
		return nil, 0, err
	}

	res := make([]AuditLogResponse, 0, len(logs))
	for _, l := range logs {
		res = append(res, toAuditLogResponse(l))
	}
	return res, total, nil
}

func toAuditLogResponse(l model.AuditLog) AuditLogResponse {
	var actor *string
	if l.ActorID != nil {
		id := l.ActorID.String()
		actor = &id
	}
	return AuditLogResponse{
		ID:         l.ID.String(),
		ActorID:    actor,
		Action:     l.Action,
		EntityID:   l.EntityID,
		EntityName: l.EntityName,
		Details:    l.Details,
		CreatedAt:  l.CreatedAt.Format(time.RFC3339),
	}
}
