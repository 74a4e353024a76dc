package tokens

import (
	"strings"

	"github.com/anuragrao04/qr-attendance-core/models"
)

type Form int

const (
	FormShort Form = iota + 1
	FormSigned
)

func (f Form) String() string {
	switch f {
	case FormShort:
		return "short"
	case FormSigned:
		return "signed"
	default:
		return "unknown"
	}
}

// signedSeparator appears in every compact JWS and never in a short code.
const signedSeparator = "."

// Presented is a token as submitted by a scanner. Its Form is decided once
// by Parse and is never re-sniffed afterwards.
type Presented struct {
	Form  Form
	Value string
}

// Parse normalises a raw submission. Signed tokens are case-sensitive and
// kept verbatim; short codes are case-insensitive and uppercased.
func Parse(raw string) (Presented, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return Presented{}, models.ErrInvalidFormat
	}
	if strings.Contains(v, signedSeparator) {
		return Presented{Form: FormSigned, Value: v}, nil
	}
	return Presented{Form: FormShort, Value: strings.ToUpper(v)}, nil
}
