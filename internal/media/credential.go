package media

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the media participant role a credential grants.
type Role string

const (
	RolePublisher  Role = "publisher"
	RoleSubscriber Role = "subscriber"
)

// Both parties join anonymously with the same numeric participant id.
const ParticipantUID = 0

type Credential struct {
	Token     string
	Channel   string
	ExpiresAt time.Time
}

// Issuer produces joinable credentials for a media channel. It is a pure
// function of its inputs and the clock.
type Issuer interface {
	Issue(channel string, role Role) (Credential, error)
}

type claims struct {
	jwt.RegisteredClaims
	AppID   string `json:"app_id"`
	Channel string `json:"channel"`
	UID     int    `json:"uid"`
	Role    Role   `json:"role"`
}

// TokenIssuer signs HS256 credentials with the media provider's app certificate.
type TokenIssuer struct {
	appID       string
	certificate []byte
	ttl         time.Duration
	now         func() time.Time
}

func NewTokenIssuer(appID, certificate string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{
		appID:       appID,
		certificate: []byte(certificate),
		ttl:         ttl,
		now:         time.Now,
	}
}

func (i *TokenIssuer) Issue(channel string, role Role) (Credential, error) {
	if channel == "" {
		return Credential{}, fmt.Errorf("channel name is required")
	}

	now := i.now()
	expiresAt := now.Add(i.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.appID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		AppID:   i.appID,
		Channel: channel,
		UID:     ParticipantUID,
		Role:    role,
	})

	signed, err := token.SignedString(i.certificate)
	if err != nil {
		return Credential{}, fmt.Errorf("sign media credential: %w", err)
	}

	return Credential{Token: signed, Channel: channel, ExpiresAt: expiresAt}, nil
}

// ChannelName derives the per-call channel.
func ChannelName(callID string) string {
	return "call_" + callID
}
