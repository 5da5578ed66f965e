package services

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/dmitrijs2005/mmarket/internal/common"
	"github.com/dmitrijs2005/mmarket/internal/logging"
	"github.com/dmitrijs2005/mmarket/internal/server/credentials"
	"github.com/dmitrijs2005/mmarket/internal/server/metrics"
	"github.com/dmitrijs2005/mmarket/internal/server/models"
	"github.com/dmitrijs2005/mmarket/internal/server/repositories/users"
)

// maxLookupRetries bounds how many times a colliding lookup hash is
// re-randomized before provisioning gives up.
const maxLookupRetries = 5

const msgAuthUserNotFound = "User not found on auth server. Please, contact the admins to resolve this problem"

// CredentialStore is the part of the credential authority client the
// services depend on. *credentials.Client implements it.
type CredentialStore interface {
	CreateCredential(ctx context.Context, id int64, lookupHash, password string, ttl time.Duration) (credentials.Result, error)
	UpdateCredential(ctx context.Context, id int64, lookupHash, oldPassword, newPassword string, ttl time.Duration) (credentials.Result, error)
	GrantCredential(ctx context.Context, id int64, lookupHash, password string, ttl time.Duration) (credentials.Result, error)
	VerifyCredential(ctx context.Context, lookupHash, password string) (credentials.Verification, error)
	RefreshCredential(ctx context.Context, token string, ttl time.Duration) (credentials.Result, error)
	RemoveCredential(ctx context.Context, lookupHash string) (credentials.Result, error)
	VerifyTokenLocal(token string) (credentials.Result, error)
}

// AuthCoordinator keeps local users and their external credentials in
// step. It owns the lookup hash collision loop and turns authority
// sentinels into typed errors.
type AuthCoordinator struct {
	store   CredentialStore
	ttl     time.Duration
	noise   func() (int64, error)
	metrics *metrics.Metrics
	log     logging.Logger
}

func NewAuthCoordinator(store CredentialStore, ttl time.Duration, m *metrics.Metrics, l logging.Logger) *AuthCoordinator {
	return &AuthCoordinator{
		store:   store,
		ttl:     ttl,
		noise:   common.RandomInt63,
		metrics: m,
		log:     l.With("module", "auth"),
	}
}

// LookupHash is the hex SHA-1 of phonenumber, username, email and the
// decimal lookup noise concatenated. Absent identifiers contribute "".
func LookupHash(u *models.User) string {
	src := models.StringValue(u.Phonenumber) +
		models.StringValue(u.Username) +
		models.StringValue(u.Email) +
		strconv.FormatInt(u.LookupNoise, 10)
	sum := sha1.Sum([]byte(src))
	return hex.EncodeToString(sum[:])
}

// Provision creates the credential of a freshly stored user. When the
// authority reports the lookup hash as taken, a new noise is drawn, the
// hash recomputed and persisted through repo, and creation retried. repo
// must be bound to the transaction that created the user.
func (a *AuthCoordinator) Provision(ctx context.Context, repo users.Repository, user *models.User, password string) (credentials.Result, error) {
	for attempt := 0; ; attempt++ {
		res, err := a.store.CreateCredential(ctx, user.ID, user.LookupHash, password, a.ttl)
		if err != nil {
			return credentials.Result{}, err
		}

		switch res.Failure {
		case credentials.FailureNone:
			if res.ID != user.ID || res.Token == "" {
				return credentials.Result{}, common.NewApplicationError("Auth service returned a token for the wrong user")
			}
			return res, nil

		case credentials.FailureLookupHashTaken:
			if attempt >= maxLookupRetries {
				return credentials.Result{}, common.NewTooManyRetriesError("Too many retries while creating credentials, try again later")
			}
			a.metrics.Collision()
			a.log.Warn(ctx, "lookup hash collision", "user_id", user.ID, "attempt", attempt+1)

			noise, err := a.noise()
			if err != nil {
				return credentials.Result{}, common.NewApplicationError("Cannot generate lookup noise")
			}
			user.LookupNoise = noise
			user.LookupHash = LookupHash(user)
			if err := repo.UpdateLookupHash(ctx, user.ID, user.LookupHash, user.LookupNoise); err != nil {
				return credentials.Result{}, err
			}

		default:
			return credentials.Result{}, common.NewAuthServiceError(res.Message)
		}
	}
}

// credentialError maps password-check failures of the authority.
func credentialError(f credentials.Failure, msg string) error {
	switch f {
	case credentials.FailureInvalidPassword:
		return common.NewCredentialsError("Invalid password")
	case credentials.FailureLookupHashNotFound:
		return common.NewCredentialsError(msgAuthUserNotFound)
	default:
		return common.NewAuthServiceError(msg)
	}
}

// Grant checks password and issues a token for user.
func (a *AuthCoordinator) Grant(ctx context.Context, user *models.User, password string) (credentials.Result, error) {
	res, err := a.store.GrantCredential(ctx, user.ID, user.LookupHash, password, a.ttl)
	if err != nil {
		return credentials.Result{}, err
	}
	if !res.OK() {
		return credentials.Result{}, credentialError(res.Failure, res.Message)
	}
	return res, nil
}

// Verify checks password without issuing anything.
func (a *AuthCoordinator) Verify(ctx context.Context, user *models.User, password string) error {
	v, err := a.store.VerifyCredential(ctx, user.LookupHash, password)
	if err != nil {
		return err
	}
	if v.Success {
		return nil
	}
	if v.Failure == credentials.FailureNone {
		return common.NewCredentialsError("Invalid password")
	}
	return credentialError(v.Failure, v.Message)
}

// Rotate replaces the verifier of user and issues a new token.
func (a *AuthCoordinator) Rotate(ctx context.Context, user *models.User, oldPassword, newPassword string) (credentials.Result, error) {
	res, err := a.store.UpdateCredential(ctx, user.ID, user.LookupHash, oldPassword, newPassword, a.ttl)
	if err != nil {
		return credentials.Result{}, err
	}
	if !res.OK() {
		return credentials.Result{}, credentialError(res.Failure, res.Message)
	}
	return res, nil
}

// Refresh exchanges a still valid token for a new one.
func (a *AuthCoordinator) Refresh(ctx context.Context, token string) (credentials.Result, error) {
	res, err := a.store.RefreshCredential(ctx, token, a.ttl)
	if err != nil {
		return credentials.Result{}, err
	}
	switch res.Failure {
	case credentials.FailureNone:
		return res, nil
	case credentials.FailureTokenExpired:
		return credentials.Result{}, common.NewTokenExpiredError("Token expired")
	case credentials.FailureTokenInvalid:
		return credentials.Result{}, common.NewAuthorizationError(res.Message)
	default:
		return credentials.Result{}, common.NewAuthServiceError(res.Message)
	}
}

// Revoke erases the credential stored under lookupHash. A credential that
// is already gone is not an error.
func (a *AuthCoordinator) Revoke(ctx context.Context, lookupHash string) error {
	res, err := a.store.RemoveCredential(ctx, lookupHash)
	if err != nil {
		return err
	}
	switch res.Failure {
	case credentials.FailureNone:
		return nil
	case credentials.FailureLookupHashNotFound:
		a.log.Warn(ctx, "credential already absent", "lookup_hash", lookupHash)
		return nil
	default:
		return common.NewAuthServiceError(res.Message)
	}
}

// VerifyLocal validates token with the cached public key.
func (a *AuthCoordinator) VerifyLocal(token string) (credentials.Result, error) {
	return a.store.VerifyTokenLocal(token)
}

// ValidateToken reports whether token is still usable. It is the
// validator of the session cleanup sweep.
func (a *AuthCoordinator) ValidateToken(_ context.Context, token string) (bool, error) {
	res, err := a.store.VerifyTokenLocal(token)
	if err != nil {
		if errors.Is(err, common.ErrAuthorization) {
			return false, nil
		}
		return false, err
	}
	return res.OK(), nil
}
