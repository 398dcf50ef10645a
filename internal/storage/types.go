package storage

import "time"

// DailyUsage is the ledger record for one calendar day. One record per local
// date, created lazily on first write and retained for history queries.
type DailyUsage struct {
	Date            string    `json:"date"` // local date, "2006-01-02"
	EarnedSeconds   int64     `json:"earned_seconds"`
	ConsumedSeconds int64     `json:"consumed_seconds"`
	PlanTier        string    `json:"plan_tier"`
	LastUpdated     time.Time `json:"last_updated"`
}

// EmergencyState tracks the per-day emergency unlock quota.
type EmergencyState struct {
	UsedToday     int        `json:"used_today"`
	ResetDate     string     `json:"reset_date"` // local date the counter was last zeroed
	CurrentExpiry *time.Time `json:"current_expiry,omitempty"`
}

// EmergencySettings holds the user-configurable emergency unlock options.
type EmergencySettings struct {
	Enabled       bool `json:"enabled"`
	MaxPerDay     int  `json:"max_per_day"`
	MinutesPerUse int  `json:"minutes_per_use"`
}

// TargetList holds the blocked-app identifiers together with the opaque
// platform selection tokens (e.g. Screen Time FamilyActivitySelection data).
type TargetList struct {
	IDs             []string  `json:"ids"`
	SelectionTokens []string  `json:"selection_tokens,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// PlanStatus is the cached subscription status for this user.
type PlanStatus struct {
	Tier      string    `json:"tier"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updated_at"`
}
