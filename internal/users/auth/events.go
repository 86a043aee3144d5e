// Copyright (c) 2026 Schedula. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"time"
)

// Security event kinds.
const (
	EventFingerprintMismatch = "refresh_fingerprint_mismatch"
	EventSessionsRevoked     = "sessions_revoked_by_admin"
)

// SecurityEvent is published when sessions are revoked for security reasons.
type SecurityEvent struct {
	Type          string    `json:"type"`
	UserID        string    `json:"userId"`
	ActorID       string    `json:"actorId,omitempty"`
	RevokedTokens int64     `json:"revokedTokens"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// EventPublisher delivers security events. The AMQP publisher satisfies it;
// a nil publisher disables publication.
type EventPublisher interface {
	Publish(ctx context.Context, queue string, event any) error
}
