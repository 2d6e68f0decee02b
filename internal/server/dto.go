package server

import (
	"ouvidoria/internal/domain"
)

// Request payloads

// Required-field and vocabulary checks live in the engine, which owns all
// intake validation; the schema does not duplicate them.
type CreateManifestationRequest struct {
	Kind        string  `json:"kind" required:"false" example:"complaint"`
	Category    string  `json:"category" required:"false"`
	Subject     string  `json:"subject" required:"false"`
	Description string  `json:"description" required:"false"`
	CitizenName string  `json:"citizen_name" required:"false"`
	Email       *string `json:"email,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	Channel     string  `json:"channel" required:"false"`
	Priority    *string `json:"priority,omitempty" example:"medium"`
	WindowDays  *int    `json:"legal_window_days,omitempty"`
}

type UpdateManifestationRequest struct {
	Status     *string `json:"status,omitempty" example:"under_review"`
	Response   *string `json:"response,omitempty"`
	AssignedTo *string `json:"assigned_to,omitempty"`
	Priority   *string `json:"priority,omitempty" example:"high"`
}

// Response payloads

type ManifestationResponse struct {
	ID              int64   `json:"id"`
	Protocol        string  `json:"protocol"`
	Kind            string  `json:"kind"`
	Category        string  `json:"category"`
	Subject         string  `json:"subject"`
	Description     string  `json:"description"`
	CitizenName     string  `json:"citizen_name"`
	Email           *string `json:"email,omitempty"`
	Phone           *string `json:"phone,omitempty"`
	Channel         string  `json:"channel"`
	Status          string  `json:"status"`
	Priority        string  `json:"priority"`
	AssignedTo      *string `json:"assigned_to,omitempty"`
	Response        *string `json:"response,omitempty"`
	RespondedAt     *string `json:"responded_at,omitempty" format:"date-time"`
	LegalWindowDays int     `json:"legal_window_days"`
	RemainingDays   int     `json:"remaining_days"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

type HistoryEntryResponse struct {
	ID              int64  `json:"id"`
	ManifestationID int64  `json:"manifestation_id"`
	Event           string `json:"event"`
	Actor           string `json:"actor"`
	Timestamp       string `json:"timestamp" format:"date-time"`
}

type StatsResponse struct {
	Total      int            `json:"total"`
	Overdue    int            `json:"overdue"`
	ByStatus   map[string]int `json:"by_status"`
	ByKind     map[string]int `json:"by_kind"`
	ByCategory map[string]int `json:"by_category"`
	ByChannel  map[string]int `json:"by_channel"`
}

type paginatedManifestations struct {
	Items      []ManifestationResponse `json:"items"`
	NextCursor string                  `json:"next_cursor,omitempty"`
}

func manifestationResponse(m domain.Manifestation) ManifestationResponse {
	return ManifestationResponse{
		ID:              m.ID,
		Protocol:        m.Protocol,
		Kind:            m.Kind,
		Category:        m.Category,
		Subject:         m.Subject,
		Description:     m.Description,
		CitizenName:     m.CitizenName,
		Email:           m.Email,
		Phone:           m.Phone,
		Channel:         m.Channel,
		Status:          m.Status,
		Priority:        m.Priority,
		AssignedTo:      m.AssignedTo,
		Response:        m.Response,
		RespondedAt:     m.RespondedAt,
		LegalWindowDays: m.LegalWindowDays,
		RemainingDays:   m.RemainingDays,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func mapManifestations(items []domain.Manifestation) []ManifestationResponse {
	res := make([]ManifestationResponse, 0, len(items))
	for _, m := range items {
		res = append(res, manifestationResponse(m))
	}
	return res
}

func mapHistory(items []domain.HistoryEntry) []HistoryEntryResponse {
	res := make([]HistoryEntryResponse, 0, len(items))
	for _, h := range items {
		res = append(res, HistoryEntryResponse(h))
	}
	return res
}

func statsResponse(s domain.Stats) StatsResponse {
	return StatsResponse(s)
}
