package models

import "time"

// ProfileTTL is how long a cached user profile stays fresh before the next
// message from that user triggers a refresh from the host.
const ProfileTTL = 60 * time.Second

// UserProfile holds host-provided user details used to personalize the
// private chatter's system prompt.
type UserProfile struct {
	UserID      int64
	Nickname    string
	Sex         string
	Age         int
	Bio         string
	Location    string
	RefreshedAt time.Time
}

// Stale reports whether the profile is older than ProfileTTL.
func (p *UserProfile) Stale(now time.Time) bool {
	return now.Sub(p.RefreshedAt) >= ProfileTTL
}
