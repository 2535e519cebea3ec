package core

import (
	"context"
	"time"
)

// StartResult is the transport connection data extracted from a session
// start response.
type StartResult struct {
	TransportURL   string
	TransportToken string
}

// SessionControl is the session control service consumed by the
// negotiator. Token and Start failures carry the service-provided details
// as domain.TokenError / domain.StartError.
type SessionControl interface {
	Token(ctx context.Context, language, callContext string) (sessionID, sessionToken string, err error)
	Start(ctx context.Context, sessionToken string) (StartResult, error)
	Stop(ctx context.Context, sessionID, sessionToken string) error

	// CreateRecord and EndRecord are best-effort accounting calls. Losing
	// accounting data must never block or corrupt the call.
	CreateRecord(ctx context.Context, sessionID, callContext string) error
	EndRecord(ctx context.Context, sessionID string, duration time.Duration) error
}
