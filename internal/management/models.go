package management

import (
	"connector/internal/routing"
	"connector/pkg/models"
)

type CreateRoutingRuleRequest struct {
	ID          string          `json:"id" binding:"required"`
	MatchClause string          `json:"match_clause" binding:"required"`
	LinkName    string          `json:"link_name" binding:"required"`
	Priority    int             `json:"priority"`
	Description string          `json:"description"`
	Enabled     *bool           `json:"enabled"`
	Dialect     routing.Dialect `json:"dialect"`
}

// MessageView is a stored message with the last transport attempt per partner.
type MessageView struct {
	Message    *models.Message         `json:"message"`
	State      models.MessageState     `json:"state"`
	Transports []*models.TransportStep `json:"transports"`
}

type ReplayResponse struct {
	Queue    string `json:"queue"`
	Replayed int    `json:"replayed"`
}
