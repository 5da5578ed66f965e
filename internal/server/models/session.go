package models

import "time"

// Session is the proof of an active login from one user agent. At most one
// session exists per (UserID, UserAgentHash).
type Session struct {
	UserID        int64     `json:"userId"`
	Token         string    `json:"token"`
	UserAgentHash string    `json:"userAgentHash"`
	Rights        Rights    `json:"rights"`
	CreatedAt     time.Time `json:"createdAt"`
}
