package domain

import "time"

// Remaining is a countdown split into whole days, hours and minutes.
type Remaining struct {
	Days    int `json:"days"`
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
}

func RemainingUntil(now, at time.Time) Remaining {
	d := at.Sub(now)
	if d <= 0 {
		return Remaining{}
	}
	return Remaining{
		Days:    int(d / (24 * time.Hour)),
		Hours:   int(d % (24 * time.Hour) / time.Hour),
		Minutes: int(d % time.Hour / time.Minute),
	}
}

type BotPhase string

const (
	BotNotLoggedIn BotPhase = "not_logged_in"
	BotAwaiting    BotPhase = "awaiting_code"
	BotInactive    BotPhase = "inactive"
	BotExpired     BotPhase = "expired"
	BotConnected   BotPhase = "connected"
)

type BotStatus struct {
	Phase     BotPhase   `json:"phase"`
	Identity  string     `json:"identity,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Remaining *Remaining `json:"remaining,omitempty"`
	// Connected is whether this process holds a registry entry for it.
	Connected bool `json:"connected"`
}

type TenantStatus struct {
	Destination  string    `json:"destination"`
	TotalClaimed Satang    `json:"total_claimed_satang"`
	KeyExpiresAt time.Time `json:"key_expires_at"`
	Remaining    Remaining `json:"remaining"`
	Bot          BotStatus `json:"bot"`
}

// StatusOf projects t at now. connected reports registry presence.
func StatusOf(t *Tenant, now time.Time, connected bool) TenantStatus {
	st := TenantStatus{
		Destination:  t.Destination,
		TotalClaimed: t.TotalClaimed,
		KeyExpiresAt: t.KeyExpiresAt,
		Remaining:    RemainingUntil(now, t.KeyExpiresAt),
		Bot:          BotStatus{Phase: BotNotLoggedIn, Connected: connected},
	}

	b := t.Bot
	if b == nil {
		return st
	}
	st.Bot.Identity = b.Identity

	switch {
	case b.Pending():
		st.Bot.Phase = BotAwaiting
	case b.State != SessionAuthenticated:
		st.Bot.Phase = BotNotLoggedIn
	case b.Expired(now):
		st.Bot.Phase = BotExpired
	case !b.Active:
		st.Bot.Phase = BotInactive
	default:
		st.Bot.Phase = BotConnected
		expires := b.ExpiresAt
		remaining := RemainingUntil(now, expires)
		st.Bot.ExpiresAt = &expires
		st.Bot.Remaining = &remaining
	}
	return st
}

// Counts are aggregate session numbers.
type Counts struct {
	ActiveSessions    int `json:"active_sessions"`
	ConnectedSessions int `json:"connected_sessions"`
}
