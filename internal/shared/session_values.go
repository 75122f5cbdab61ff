package shared

import (
	"encoding/json"
	"strings"
	"time"
)

const stepUpGrantPrefix = "stepup_grant:"

// SetJSON stores v encoded as JSON under key. The whole value is replaced in
// one write, so readers see either the previous or the new document.
func (s *Session) SetJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.Set(key, string(data))
	return nil
}

// GetJSON decodes the JSON value stored under key into dst. It reports false
// when the key is absent.
func (s *Session) GetJSON(key string, dst any) (bool, error) {
	raw := s.Get(key)
	if raw == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return true, err
	}
	return true, nil
}

// IssueStepUpGrant records a one-time step-up proof for permission until ttl elapses.
func (s *Session) IssueStepUpGrant(permission string, ttl time.Duration, now time.Time) {
	key := stepUpGrantPrefix + strings.ToLower(permission)
	s.Set(key, now.Add(ttl).UTC().Format(time.RFC3339Nano))
}

// HasStepUpGrant reports whether the grant for permission is still valid at
// now. The grant stays in place.
func (s *Session) HasStepUpGrant(permission string, now time.Time) bool {
	if s == nil {
		return false
	}
	raw := s.Get(stepUpGrantPrefix + strings.ToLower(permission))
	if raw == "" {
		return false
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return false
	}
	return now.Before(expiresAt)
}

// ConsumeStepUpGrant removes the grant for permission and reports whether it
// was still valid at now.
func (s *Session) ConsumeStepUpGrant(permission string, now time.Time) bool {
	if s == nil {
		return false
	}
	valid := s.HasStepUpGrant(permission, now)
	s.Delete(stepUpGrantPrefix + strings.ToLower(permission))
	return valid
}

// ClearStepUpGrants drops every outstanding step-up grant.
func (s *Session) ClearStepUpGrants() {
	for key := range s.values {
		if strings.HasPrefix(key, stepUpGrantPrefix) {
			s.Delete(key)
		}
	}
}
