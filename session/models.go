package session

import "time"

type Role string

const (
	RoleRenter Role = "renter"
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
)

// ParseRole validates a raw role value. Unknown or empty values report false so
// callers can fall back to RoleRenter.
func ParseRole(raw string) (Role, bool) {
	switch Role(raw) {
	case RoleRenter, RoleOwner, RoleAdmin:
		return Role(raw), true
	default:
		return "", false
	}
}

// ProviderKind names an interactive sign-in flow offered by the identity provider.
type ProviderKind string

const ProviderGoogle ProviderKind = "google"

// Identity is the authenticated principal as reported by the identity provider.
// The coordinator never mutates its fields, only replaces the whole value.
type Identity struct {
	UID           string
	Email         string
	DisplayName   string
	EmailVerified bool
}

// Record is the per-identity user document persisted in the record store.
// It is created at most once per UID and never updated by this subsystem.
type Record struct {
	UID         string
	DisplayName string
	Email       string
	Role        Role
	CreatedAt   time.Time
	Extras      map[string]string
}

// CreateRecordParams enumerates the fields written by the conditional create
// path. CreatedAt is assigned server-side by the store.
type CreateRecordParams struct {
	UID         string
	DisplayName string
	Email       string
	Role        Role
	Extras      map[string]string
}

// Snapshot is the published session state. Identity and Role always belong to
// the same resolution; readers must replace their view wholesale.
type Snapshot struct {
	Identity     *Identity
	Role         Role
	Initializing bool
	Ready        bool
}

// Phase tracks where the coordinator's state machine currently is.
type Phase int

const (
	PhaseUnstarted Phase = iota
	PhaseResolving
	PhaseResolved
)

func (p Phase) String() string {
	switch p {
	case PhaseUnstarted:
		return "unstarted"
	case PhaseResolving:
		return "resolving"
	case PhaseResolved:
		return "resolved"
	default:
		return "unknown"
	}
}
