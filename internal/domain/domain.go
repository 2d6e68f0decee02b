package domain

// Manifestation is a single citizen-submitted case: a complaint, request,
// compliment, suggestion or denunciation handled by the ombudsman office.
type Manifestation struct {
	ID          int64   `json:"id"`
	Protocol    string  `json:"protocol"`
	Kind        string  `json:"kind" enum:"complaint,request,compliment,suggestion,denunciation"`
	Category    string  `json:"category"`
	Subject     string  `json:"subject"`
	Description string  `json:"description"`
	CitizenName string  `json:"citizen_name"`
	Email       *string `json:"email,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	Channel     string  `json:"channel"`
	Status      string  `json:"status" enum:"new,under_review,responded,closed,canceled"`
	Priority    string  `json:"priority" enum:"low,medium,high"`
	AssignedTo  *string `json:"assigned_to,omitempty"`
	Response    *string `json:"response,omitempty"`
	RespondedAt *string `json:"responded_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`

	// LegalWindowDays is fixed at intake. RemainingDays is projected from it
	// on every read and never stored.
	LegalWindowDays int `json:"legal_window_days"`
	RemainingDays   int `json:"remaining_days"`
}

type HistoryEntry struct {
	ID              int64  `json:"id"`
	ManifestationID int64  `json:"manifestation_id"`
	Event           string `json:"event"`
	Actor           string `json:"actor"`
	Timestamp       string `json:"timestamp" format:"date-time"`
}

type Stats struct {
	Total      int            `json:"total"`
	Overdue    int            `json:"overdue"`
	ByStatus   map[string]int `json:"by_status"`
	ByKind     map[string]int `json:"by_kind"`
	ByCategory map[string]int `json:"by_category"`
	ByChannel  map[string]int `json:"by_channel"`
}
