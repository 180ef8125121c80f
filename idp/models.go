package idp

import "time"

// Account is the provider-side credential record. It is distinct from the
// marketplace user record: accounts hold credentials and profile basics, user
// records hold the application role.
type Account struct {
	ID            string
	Email         string
	DisplayName   string
	PasswordHash  string
	Provider      string
	EmailVerified bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreateAccountParams contains write parameters for password accounts.
type CreateAccountParams struct {
	Email        string
	DisplayName  string
	PasswordHash string
}

// EnsureExternalParams contains the profile reported by an interactive
// (OAuth) sign-in. The account is created on first sign-in and reused after.
type EnsureExternalParams struct {
	Email         string
	DisplayName   string
	EmailVerified bool
	Provider      string
}

// ExternalProfile is what the interactive exchange hook yields after the
// user completes the consent flow.
type ExternalProfile struct {
	Email         string
	DisplayName   string
	EmailVerified bool
}
