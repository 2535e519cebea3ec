package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/goodwinteam/avatarcall/internal/core"
	"github.com/goodwinteam/avatarcall/internal/domain"
)

const recordTimeout = 10 * time.Second

// Negotiator performs the three-step handshake against the session
// control service. Each step is strictly ordered; a failure aborts the
// remaining steps. No state is retained after returning credentials.
type Negotiator struct {
	control core.SessionControl
	log     zerolog.Logger
}

func NewNegotiator(control core.SessionControl) *Negotiator {
	return &Negotiator{
		control: control,
		log:     log.With().Str("module", "app.negotiator").Logger(),
	}
}

// Negotiate acquires a session token, starts the remote session, and
// extracts the transport connection data. The accounting record between
// the two steps is fire-and-forget.
func (n *Negotiator) Negotiate(ctx context.Context, language, callContext string) (domain.Credentials, error) {
	sessionID, sessionToken, err := n.control.Token(ctx, language, callContext)
	if err != nil {
		return domain.Credentials{}, err
	}
	n.log.Info().Str("session_id", sessionID).Msg("session token acquired")

	// Best-effort: losing the record must never abort the call. Detached
	// from ctx so an early hangup does not cancel it mid-flight.
	go func() {
		recCtx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := n.control.CreateRecord(recCtx, sessionID, callContext); err != nil {
			n.log.Warn().Err(err).Str("session_id", sessionID).Msg("session record not persisted")
		}
	}()

	start, err := n.control.Start(ctx, sessionToken)
	if err != nil {
		return domain.Credentials{}, err
	}

	creds := domain.Credentials{
		SessionID:      sessionID,
		SessionToken:   sessionToken,
		TransportURL:   start.TransportURL,
		TransportToken: start.TransportToken,
	}
	if !creds.Complete() {
		return domain.Credentials{}, domain.ErrMissingTransportCredentials
	}
	n.log.Info().Str("session_id", sessionID).Msg("negotiation complete")
	return creds, nil
}
