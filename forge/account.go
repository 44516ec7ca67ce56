package forge

import (
	"fmt"
	"time"
)

// Account is a user record as returned by the forge admin API. It is an immutable snapshot of
// the account at fetch time.
type Account struct {
	// Incremental integer id, assigned by the forge
	ID        int64     `json:"id"`
	Username  string    `json:"login"`
	FullName  string    `json:"full_name"`
	Biography string    `json:"description"`
	Email     string    `json:"email"`
	Website   string    `json:"website"`
	Location  string    `json:"location"`
	AvatarURL string    `json:"avatar_url"`
	HTMLURL   string    `json:"html_url"`
	IsAdmin   bool      `json:"is_admin"`
	SourceID  int64     `json:"source_id"`
	Created   time.Time `json:"created"`
}

// Sort order for listing accounts.
type Sort string

const (
	SortNewest       Sort = "newest"
	SortRecentUpdate Sort = "recentupdate"
	SortOldest       Sort = "oldest"
)

// BanAction is what happens to a banned account.
type BanAction string

const (
	// Forcibly delete the account and everything it owns (repositories, organizations, packages,
	// comments and issues).
	BanPurge BanAction = "purge"
	// Block the account from signing in.
	BanSuspend BanAction = "suspend"
)

func ParseBanAction(s string) (BanAction, error) {
	switch BanAction(s) {
	case BanPurge, BanSuspend:
		return BanAction(s), nil
	default:
		return "", fmt.Errorf("unknown ban action %q, expected %q or %q", s, BanPurge, BanSuspend)
	}
}

func (a BanAction) IsPurge() bool {
	return a == BanPurge
}

func (a BanAction) String() string {
	return string(a)
}
