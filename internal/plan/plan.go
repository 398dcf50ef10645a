package plan

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Tier represents a subscription plan tier.
type Tier string

const (
	TierFree     Tier = "free"
	TierPro      Tier = "pro"
	TierAdvanced Tier = "advanced"
)

// UnmarshalJSON implements json.Unmarshaler to normalize tier to lowercase.
func (t *Tier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	normalized := Tier(strings.ToLower(s))

	switch normalized {
	case TierFree, TierPro, TierAdvanced:
		*t = normalized
		return nil
	default:
		return fmt.Errorf("invalid plan tier: %s (must be free, pro, or advanced)", s)
	}
}

// MarshalJSON implements json.Marshaler to ensure lowercase output.
func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(t))
}

// Parse parses a tier string, defaulting unknown values to free.
func Parse(s string) Tier {
	switch Tier(strings.ToLower(s)) {
	case TierPro:
		return TierPro
	case TierAdvanced:
		return TierAdvanced
	default:
		return TierFree
	}
}

// AllowsEmergencyUnlock reports whether the tier has emergency unlock access.
func (t Tier) AllowsEmergencyUnlock() bool {
	return t == TierPro || t == TierAdvanced
}

// Caps maps each tier to its daily unlock-time cap. Zero means unlimited.
type Caps struct {
	Free     time.Duration
	Pro      time.Duration
	Advanced time.Duration
}

// DailyCap returns the cap for a tier. Zero means unlimited.
func (c Caps) DailyCap(t Tier) time.Duration {
	switch t {
	case TierPro:
		return c.Pro
	case TierAdvanced:
		return c.Advanced
	default:
		return c.Free
	}
}
