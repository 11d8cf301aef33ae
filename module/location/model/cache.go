package model

import "time"

// CachedSnapshot is a local fallback copy of remote state.
type CachedSnapshot[T any] struct {
	Payload    T      `json:"payload"`
	CapturedAt string `json:"capturedAt"`
}

func NewSnapshot[T any](payload T, at time.Time) CachedSnapshot[T] {
	return CachedSnapshot[T]{Payload: payload, CapturedAt: at.UTC().Format(time.RFC3339Nano)}
}

func (s CachedSnapshot[T]) Captured() time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s.CapturedAt)
	return t
}

// Kind names a pending operation type; appliers are registered per kind.
type Kind string

const KindUpdateUserLocation Kind = "updateUserLocation"

// PendingOperation is a write intent that could not reach the remote store.
type PendingOperation struct {
	ID         string         `json:"id"`
	Kind       Kind           `json:"kind"`
	Payload    map[string]any `json:"payload"`
	EnqueuedAt uint64         `json:"enqueuedAt"`
}
