package domain

import (
	"time"
)

type Paste struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Content       string     `json:"content"`
	Language      string     `json:"language"`
	IsPublic      bool       `json:"is_public"`
	PasswordHash  string     `json:"-"`
	BurnAfterRead bool       `json:"burn_after_read"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Views         int64      `json:"views"`
	CreatedAt     time.Time  `json:"created_at"`
	FolderID      string     `json:"folder_id,omitempty"`
}

// Expired reports whether the paste has passed its expiration timestamp.
// Pastes without a timestamp never expire.
func (p *Paste) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && p.ExpiresAt.Before(now)
}

type PasteSummary struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Language      string     `json:"language"`
	Views         int64      `json:"views"`
	IsPublic      bool       `json:"is_public"`
	BurnAfterRead bool       `json:"burn_after_read"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type CreateParams struct {
	Title         string
	Content       string
	Language      string
	Password      string
	IsPublic      bool
	BurnAfterRead bool
	ExpiresAt     *time.Time
	FolderID      string
}

type UpdateParams struct {
	Title         *string
	Content       *string
	Language      *string
	Password      *string
	IsPublic      *bool
	BurnAfterRead *bool
	ExpiresAt     *time.Time
}

// Credentials is everything the access gate knows about a requester.
// IsAdmin comes from the session layer; Origin is the resolved client
// network address.
type Credentials struct {
	IsAdmin    bool
	AccessKey  string
	Password   string
	Origin     string
	EditIntent bool
}

type StatsSummary struct {
	TotalPastes int64            `json:"total_pastes"`
	TotalViews  int64            `json:"total_views"`
	Languages   map[string]int64 `json:"language_breakdown"`
}
