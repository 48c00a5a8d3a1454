// Package identity models the customer side of a conversation key.
//
// A customer is reached either through a phone number (website widget and SMS) or
// through an Instagram handle. Callers build a CustomerIdentity once, at the edge
// where the raw value enters the system, and internal code switches on Kind.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Kind discriminates the CustomerIdentity union.
type Kind string

const (
	KindPhone     Kind = "phone"
	KindInstagram Kind = "instagram"
)

// Channel is the sales channel derived from a customer identity.
type Channel string

const (
	ChannelWebsite   Channel = "website"
	ChannelInstagram Channel = "instagram"
)

// LegacyInstagramPrefix marks a synthetic phone-number placeholder that actually
// carries an Instagram handle. It is only understood by FromLegacyPhone.
const LegacyInstagramPrefix = "ig:"

var (
	ErrEmptyIdentity = errors.New("identity: empty value")
	ErrInvalidPhone  = errors.New("identity: invalid phone number")
	ErrInvalidHandle = errors.New("identity: invalid instagram handle")
)

// CustomerIdentity is either a phone identity or an Instagram identity. The zero
// value is invalid.
type CustomerIdentity struct {
	kind  Kind
	value string
}

// Phone returns a phone identity for an already normalised E.164 number.
func Phone(e164 string) CustomerIdentity {
	return CustomerIdentity{kind: KindPhone, value: e164}
}

// Instagram returns an Instagram identity for an already normalised handle.
func Instagram(handle string) CustomerIdentity {
	return CustomerIdentity{kind: KindInstagram, value: handle}
}

// FromPhone normalises raw and returns a phone identity.
func FromPhone(raw string) (CustomerIdentity, error) {
	p, err := NormalizePhone(raw)
	if err != nil {
		return CustomerIdentity{}, err
	}
	return Phone(p), nil
}

// FromInstagram normalises an Instagram handle ("@Name" and "name" are equal).
func FromInstagram(raw string) (CustomerIdentity, error) {
	h := strings.ToLower(strings.TrimSpace(raw))
	h = strings.TrimPrefix(h, "@")
	if h == "" {
		return CustomerIdentity{}, ErrEmptyIdentity
	}
	for _, r := range h {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '_') {
			return CustomerIdentity{}, fmt.Errorf("%w: %q", ErrInvalidHandle, raw)
		}
	}
	return Instagram(h), nil
}

// FromLegacyPhone accepts the historical phone-number field, which may hold a
// synthetic Instagram placeholder.
func FromLegacyPhone(raw string) (CustomerIdentity, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(strings.ToLower(trimmed), LegacyInstagramPrefix) {
		return FromInstagram(trimmed[len(LegacyInstagramPrefix):])
	}
	return FromPhone(trimmed)
}

// FromKey parses the value produced by Key.
func FromKey(key string) (CustomerIdentity, error) {
	kind, value, ok := strings.Cut(key, ":")
	if !ok || value == "" {
		return CustomerIdentity{}, fmt.Errorf("identity: malformed key %q", key)
	}
	switch Kind(kind) {
	case KindPhone:
		return Phone(value), nil
	case KindInstagram:
		return Instagram(value), nil
	default:
		return CustomerIdentity{}, fmt.Errorf("identity: unknown kind %q", kind)
	}
}

func (c CustomerIdentity) Kind() Kind     { return c.kind }
func (c CustomerIdentity) Value() string  { return c.value }
func (c CustomerIdentity) IsZero() bool   { return c.kind == "" }
func (c CustomerIdentity) String() string { return c.Key() }

// Key is the stable storage and grouping key.
func (c CustomerIdentity) Key() string {
	if c.IsZero() {
		return ""
	}
	return string(c.kind) + ":" + c.value
}

// Channel derives the sales channel.
func (c CustomerIdentity) Channel() Channel {
	if c.kind == KindInstagram {
		return ChannelInstagram
	}
	return ChannelWebsite
}

// PhoneNumber returns the number for phone identities.
func (c CustomerIdentity) PhoneNumber() (string, bool) {
	if c.kind != KindPhone {
		return "", false
	}
	return c.value, true
}

// NormalizePhone reduces a user-typed number to E.164 form. Ten-digit numbers are
// treated as North American.
func NormalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmptyIdentity
	}
	var digits strings.Builder
	for i, r := range raw {
		switch {
		case unicode.IsDigit(r):
			digits.WriteRune(r)
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
		}
	}
	d := digits.String()
	if len(d) == 10 && !strings.HasPrefix(raw, "+") {
		d = "1" + d
	}
	if len(d) < 8 || len(d) > 15 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
	}
	return "+" + d, nil
}

type wireIdentity struct {
	Kind  Kind   `json:"kind"`
	Value string `json:"value"`
}

func (c CustomerIdentity) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireIdentity{Kind: c.kind, Value: c.value})
}

func (c *CustomerIdentity) UnmarshalJSON(b []byte) error {
	var w wireIdentity
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	id, err := FromKey(string(w.Kind) + ":" + w.Value)
	if err != nil {
		return err
	}
	*c = id
	return nil
}
