package credentials

import (
	"errors"

	"github.com/dmitrijs2005/mmarket/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

type tokenClaims struct {
	ID *float64 `json:"id,omitempty"`
	jwt.RegisteredClaims
}

// invalidTokenErrors are reported as FailureTokenInvalid rather than
// returned.
var invalidTokenErrors = []error{
	jwt.ErrTokenMalformed,
	jwt.ErrTokenSignatureInvalid,
	jwt.ErrTokenUnverifiable,
	jwt.ErrTokenInvalidIssuer,
	jwt.ErrTokenNotValidYet,
	jwt.ErrTokenUsedBeforeIssued,
	jwt.ErrTokenInvalidClaims,
	jwt.ErrTokenRequiredClaimMissing,
}

// VerifyTokenLocal validates token against the cached public key without a
// round trip. Only RS256 with the configured issuer is accepted. An expired
// token still yields the id it was issued for so the caller can drop the
// matching session.
func (c *Client) VerifyTokenLocal(token string) (Result, error) {
	key := c.publicKey()
	if key == nil {
		return Result{}, common.NewApplicationError("token public key was not initialized")
	}

	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(c.issuer),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			var id int64
			if claims.ID != nil {
				id = int64(*claims.ID)
			}
			return Result{ID: id, Failure: FailureTokenExpired, Message: PrefixTokenExpired + ": " + err.Error()}, nil
		}
		for _, target := range invalidTokenErrors {
			if errors.Is(err, target) {
				return Result{Failure: FailureTokenInvalid, Message: PrefixTokenInvalid + ": " + err.Error()}, nil
			}
		}
		return Result{}, err
	}

	if claims.ID == nil || *claims.ID <= 0 {
		return Result{}, common.NewAuthorizationError("Malformed token")
	}

	return Result{ID: int64(*claims.ID), Token: token}, nil
}
