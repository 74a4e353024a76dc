package database

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/anuragrao04/qr-attendance-core/models"
	"github.com/go-webauthn/webauthn/webauthn"
	"gorm.io/gorm"
)

var ErrCredentialNotFound = errors.New("credential not found")

// Users stores the WebAuthn credentials students register for the
// secondary verification step.
type Users struct {
	db *gorm.DB
	// SQLite allows one writer; serialize read-modify-write of the
	// credential list.
	mu sync.Mutex
}

func NewUsers(db *gorm.DB) *Users {
	return &Users{db: db}
}

func (u *Users) CreateUser(ctx context.Context, srn string) (models.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	user := models.User{SRN: srn}
	err := u.db.WithContext(ctx).Create(&user).Error
	return user, err
}

func (u *Users) GetUser(ctx context.Context, srn string) (models.User, error) {
	var user models.User
	err := u.db.WithContext(ctx).Where("srn = ?", srn).First(&user).Error
	return user, err
}

// GetOrCreateUser returns the user for srn, creating an empty one on first
// registration.
func (u *Users) GetOrCreateUser(ctx context.Context, srn string) (models.User, error) {
	user, err := u.GetUser(ctx, srn)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return u.CreateUser(ctx, srn)
	}
	return user, err
}

func (u *Users) AddCredential(ctx context.Context, srn string, credential *webauthn.Credential) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	user, err := u.GetUser(ctx, srn)
	if err != nil {
		return err
	}
	user.Credentials = append(user.Credentials, *credential)
	return u.db.WithContext(ctx).Save(&user).Error
}

// UpdateCredential replaces the stored credential with the same ID, which
// keeps the authenticator's sign counter current.
func (u *Users) UpdateCredential(ctx context.Context, srn string, credential *webauthn.Credential) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	user, err := u.GetUser(ctx, srn)
	if err != nil {
		return err
	}
	updated := false
	for i, existing := range user.Credentials {
		if bytes.Equal(existing.ID, credential.ID) {
			user.Credentials[i] = *credential
			updated = true
			break
		}
	}
	if !updated {
		return ErrCredentialNotFound
	}
	return u.db.WithContext(ctx).Save(&user).Error
}
