package models

import "time"

// User is the account projection the storefront cares about: currency
// balance, VIP entitlement, and the link to an in-game identity. A user may
// not yet be linked to a game character (GameIdentity nil).
type User struct {
	ID           int        `json:"id" example:"1"`
	Email        string     `json:"email" example:"player@example.com"`
	Username     string     `json:"username" example:"steve"`
	Role         string     `json:"role" example:"user"`
	Balance      int64      `json:"balance"` // in-game currency, non-negative
	VIPTier      string     `json:"vipTier,omitempty"`
	VIPExpiresAt *time.Time `json:"vipExpiresAt,omitempty"`
	GameIdentity *string    `json:"gameIdentity,omitempty"` // namespaced, e.g. "mc:069a79f4-..."
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}
