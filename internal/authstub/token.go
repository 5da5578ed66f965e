package authstub

import (
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"time"

	"github.com/dmitrijs2005/mmarket/internal/server/credentials"
	"github.com/golang-jwt/jwt/v5"
)

type claims struct {
	ID int64 `json:"id"`
	jwt.RegisteredClaims
}

type signer struct {
	key    *rsa.PrivateKey
	issuer string
	now    func() time.Time
}

func (s *signer) sign(id int64, ttl time.Duration) (string, error) {
	now := s.now()
	c := claims{
		ID: id,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, c).SignedString(s.key)
}

// parse validates token and returns its user id. The returned message is
// the authority's error string for a rejected token.
func (s *signer) parse(token string) (int64, string) {
	c := &claims{}
	_, err := jwt.ParseWithClaims(token, c,
		func(*jwt.Token) (any, error) { return &s.key.PublicKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	switch {
	case err == nil:
		return c.ID, ""
	case errors.Is(err, jwt.ErrTokenExpired):
		return c.ID, credentials.PrefixTokenExpired + ": jwt expired"
	default:
		return 0, credentials.PrefixTokenInvalid + ": " + err.Error()
	}
}

func (s *signer) publicKeyDER() ([]byte, error) {
	return x509.MarshalPKIXPublicKey(&s.key.PublicKey)
}
