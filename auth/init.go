// Package auth lets a student register a platform authenticator and use it
// as the secondary factor after a scan.
package auth

import (
	"context"
	"log/slog"
	"sync"

	"github.com/anuragrao04/qr-attendance-core/models"
	"github.com/go-webauthn/webauthn/webauthn"
)

type UserStore interface {
	GetUser(ctx context.Context, srn string) (models.User, error)
	GetOrCreateUser(ctx context.Context, srn string) (models.User, error)
	AddCredential(ctx context.Context, srn string, credential *webauthn.Credential) error
	UpdateCredential(ctx context.Context, srn string, credential *webauthn.Credential) error
}

// Confirmer is the secondary-factor gate.
type Confirmer interface {
	Confirm(sessionID, studentID string) bool
}

type Config struct {
	RPID          string
	RPDisplayName string
	RPOrigins     []string
}

type Service struct {
	webAuthn *webauthn.WebAuthn
	users    UserStore
	gate     Confirmer
	logger   *slog.Logger

	registrations sync.Map // srn -> *webauthn.SessionData
	verifications sync.Map // sessionID + "/" + srn -> *webauthn.SessionData
}

func NewService(cfg Config, users UserStore, gate Confirmer) (*Service, error) {
	w, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPDisplayName,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, err
	}
	return &Service{
		webAuthn: w,
		users:    users,
		gate:     gate,
		logger:   slog.Default().With("module", "auth"),
	}, nil
}
