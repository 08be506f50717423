package domain

import (
	"time"
)

type KeyStatus string

const (
	KeyActive  KeyStatus = "active"
	KeyRevoked KeyStatus = "revoked"
)

// AccessKey is a bearer token granting read access to private pastes.
// ClaimedOrigin is set exactly once, by the first successful verification;
// after that only requests from the same address may use the key.
type AccessKey struct {
	ID            int64      `json:"id"`
	Key           string     `json:"key"`
	Status        KeyStatus  `json:"status"`
	BoundIdentity string     `json:"bound_identity,omitempty"`
	ClaimedOrigin string     `json:"claimed_origin,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
}

type VerifyResult int

const (
	KeyValid VerifyResult = iota
	KeyInvalid
	KeyIsRevoked
	KeyOriginMismatch
)

func (v VerifyResult) String() string {
	switch v {
	case KeyValid:
		return "valid"
	case KeyInvalid:
		return "invalid"
	case KeyIsRevoked:
		return "revoked"
	case KeyOriginMismatch:
		return "origin_mismatch"
	default:
		return "unknown"
	}
}

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestDenied   RequestStatus = "denied"
)

type AccessRequest struct {
	ID        int64         `json:"id"`
	Identity  string        `json:"identity"`
	Reason    string        `json:"reason"`
	Status    RequestStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	GrantedAt *time.Time    `json:"granted_at,omitempty"`
}
