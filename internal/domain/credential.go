package domain

import "time"

// CredentialRecord is the cached cookie/crumb pair needed to call the
// external quote source, with an absolute expiry. There is a single logical
// slot per service.
type CredentialRecord struct {
	Cookie    string
	Crumb     string
	ExpiresAt time.Time
}

// Valid reports whether the record is usable at the given instant.
// Expiry comparison always happens against a caller-supplied clock; an
// expired or incomplete record must never be reused.
func (c *CredentialRecord) Valid(now time.Time) bool {
	return c != nil && c.Cookie != "" && c.Crumb != "" && now.Before(c.ExpiresAt)
}
