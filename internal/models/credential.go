package models

import "time"

// Credential is the bearer-token snapshot held by the drive token source.
// It is replaced as a whole on refresh; the pair of token and expiry is never
// updated piecemeal.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Valid reports whether the access token may still be used at the given time.
func (c Credential) Valid(now time.Time) bool {
	return c.AccessToken != "" && now.Before(c.ExpiresAt)
}
