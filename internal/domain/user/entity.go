package user

import "time"

// Profile is the part of a user record the chat needs: a display name and the
// identity verification outcome.
type Profile struct {
	ID               string    `json:"id"`
	DisplayName      string    `json:"display_name"`
	IdentityVerified bool      `json:"identity_verified"`
	CreatedAt        time.Time `json:"created_at"`
}
