package models

import (
	"github.com/go-webauthn/webauthn/webauthn"
	"gorm.io/gorm"
)

// Student is a roster row. The table is owned by the portal; this service
// only reads it.
type Student struct {
	gorm.Model
	SRN        string `json:"SRN" gorm:"uniqueIndex"`
	Name       string `json:"name"`
	Department string `json:"department" gorm:"index:idx_students_scope,priority:1"`
	Year       string `json:"year" gorm:"index:idx_students_scope,priority:2"`
}

// User holds the WebAuthn credentials a student registered for the
// secondary verification step.
type User struct {
	gorm.Model
	SRN         string                `json:"SRN" gorm:"uniqueIndex"`
	Credentials []webauthn.Credential `json:"-" gorm:"serializer:json"`
}

func (u User) WebAuthnID() []byte { return []byte(u.SRN) }

func (u User) WebAuthnName() string { return u.SRN }

func (u User) WebAuthnDisplayName() string { return u.SRN }

func (u User) WebAuthnCredentials() []webauthn.Credential { return u.Credentials }
