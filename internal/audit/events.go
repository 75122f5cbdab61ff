package audit

import "time"

// Nama event audit yang dipancarkan subsistem otorisasi.
const (
	EventConfirmationPassed   = "security_confirmation_passed"
	EventConfirmationFailed   = "security_confirmation_failed"
	EventLogin                = "auth.login"
	EventLoginFailed          = "auth.login_failed"
	EventLogout               = "auth.logout"
	EventRefresh              = "auth.refresh"
	EventPrincipalSynthesized = "auth.principal_synthesized"
	EventStoreRoleAssigned    = "admin.store_role_assigned"
	EventGrantStatusChanged   = "admin.store_grant_status_changed"
	EventUserRoleChanged      = "admin.user_role_changed"
)

// Kategori event audit.
const (
	CategorySecurity = "security"
	CategoryAuth     = "auth"
	CategoryAdmin    = "admin"
)

// DetailActorID adalah kunci detail yang membawa ID pelaku.
const DetailActorID = "actor_id"

// Entry adalah satu catatan audit yang siap dipersistenkan.
type Entry struct {
	Event      string         `json:"event"`
	Category   string         `json:"category"`
	ActorID    string         `json:"actor_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewEntry menyusun Entry dan mengambil actor_id dari detail bila ada.
func NewEntry(event, category string, details map[string]any, at time.Time) Entry {
	entry := Entry{Event: event, Category: category, OccurredAt: at.UTC()}
	if len(details) > 0 {
		entry.Details = make(map[string]any, len(details))
		for k, v := range details {
			entry.Details[k] = v
		}
		if actor, ok := details[DetailActorID].(string); ok {
			entry.ActorID = actor
		}
	}
	return entry
}
