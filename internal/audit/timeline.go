package audit

import "time"

// TimelineFilters holds the filters of the audit log listing.
type TimelineFilters struct {
	From        time.Time
	To          time.Time
	Module      string
	PerformedBy *int64
	Target      *int64
	Page        int
	PageSize    int
}

// TimelineRow is one decrypted audit entry. Action and Description fall back
// to the stored text when it cannot be decrypted; Undecrypted names those
// columns.
type TimelineRow struct {
	ID           int64     `json:"id"`
	At           time.Time `json:"performed_at"`
	Module       string    `json:"module"`
	Action       string    `json:"action"`
	Description  string    `json:"description"`
	PerformedBy  *int64    `json:"performed_by"`
	TargetUserID *int64    `json:"target_user_id"`
	Undecrypted  []string  `json:"undecrypted,omitempty"`
}

// PagingInfo carries simple page metadata.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}
