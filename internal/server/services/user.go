// Package services contains the server-side business logic. This file
// implements UserService: registration, login, profile updates, token
// refresh, logout, administration, soft and hard deletion, listings,
// superadmin bootstrap, session cleanup and address management.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/mmarket/internal/common"
	"github.com/dmitrijs2005/mmarket/internal/dbx"
	"github.com/dmitrijs2005/mmarket/internal/logging"
	"github.com/dmitrijs2005/mmarket/internal/server/config"
	"github.com/dmitrijs2005/mmarket/internal/server/credentials"
	"github.com/dmitrijs2005/mmarket/internal/server/metrics"
	"github.com/dmitrijs2005/mmarket/internal/server/models"
	"github.com/dmitrijs2005/mmarket/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/mmarket/internal/server/repositories/sessions"
)

// NewUser is the registration input.
type NewUser struct {
	Username    *string    `json:"username,omitempty"`
	Email       *string    `json:"email,omitempty"`
	Phonenumber *string    `json:"phonenumber,omitempty"`
	Name        *string    `json:"name,omitempty"`
	Birthdate   *time.Time `json:"birthdate,omitempty"`
	Password    string     `json:"password"`
}

// UpdateUser is a self-service profile change. Password is the current
// password; NewPassword, when set, replaces it.
type UpdateUser struct {
	models.UserPatch
	Password    string  `json:"password"`
	NewPassword *string `json:"newPassword,omitempty"`
}

// AdministrateUser is an admin-side change of rights or deletion state.
type AdministrateUser struct {
	Rights  *models.Rights `json:"rights,omitempty"`
	Restore bool           `json:"restore,omitempty"`
}

// AuthResult is returned by every operation that issues a token. User is
// nil when only the token changed.
type AuthResult struct {
	ID    int64
	Token string
	User  *models.User
}

type UserService struct {
	db              *sql.DB
	repomanager     repomanager.RepositoryManager
	sessions        sessions.Repository
	auth            *AuthCoordinator
	metrics         *metrics.Metrics
	log             logging.Logger
	env             string
	superAdminPhone string
	minPasswordLen  int
	maxPasswordLen  int
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager, s sessions.Repository, a *AuthCoordinator, cfg *config.Config, mt *metrics.Metrics, l logging.Logger) *UserService {
	return &UserService{
		db:              db,
		repomanager:     m,
		sessions:        s,
		auth:            a,
		metrics:         mt,
		log:             l.With("module", "users"),
		env:             cfg.Env,
		superAdminPhone: cfg.SuperAdminPhonenumber,
		minPasswordLen:  cfg.MinPasswordLen,
		maxPasswordLen:  cfg.MaxPasswordLen,
	}
}

func (s *UserService) isSuperAdmin(u *models.User) bool {
	return s.isReservedPhone(u.Phonenumber)
}

// isReservedPhone reports whether phone is the superadmin's phonenumber,
// which nobody else may claim.
func (s *UserService) isReservedPhone(phone *string) bool {
	return phone != nil && *phone == s.superAdminPhone
}

// checkPassword enforces min < len < max.
func (s *UserService) checkPassword(p string) error {
	if len(p) <= s.minPasswordLen || len(p) >= s.maxPasswordLen {
		return common.NewPasswordLengthError(fmt.Sprintf(
			"Password must be longer than %d and shorter than %d symbols", s.minPasswordLen, s.maxPasswordLen))
	}
	return nil
}

// Create registers a user, provisions its credential and opens a session
// for userAgent. The row and the lookup hash fixes live in one transaction.
func (s *UserService) Create(ctx context.Context, in NewUser, userAgent string) (*AuthResult, error) {
	if err := s.checkPassword(in.Password); err != nil {
		return nil, err
	}
	props := models.UniqueProperties{Username: in.Username, Phonenumber: in.Phonenumber, Email: in.Email}
	if props.Empty() {
		return nil, common.NewValidationError("One of username, phonenumber or email is required")
	}
	if s.isReservedPhone(in.Phonenumber) {
		return nil, common.NewProhibitedError("Phonenumber is reserved")
	}

	user := &models.User{
		Username:    in.Username,
		Email:       in.Email,
		Phonenumber: in.Phonenumber,
		Name:        in.Name,
		Birthdate:   in.Birthdate,
		Rights:      models.RightsCustomer,
	}
	user.LookupHash = LookupHash(user)

	res, err := s.createWithCredential(ctx, user, in.Password)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Create(ctx, user.ID, res.Token, userAgent, user.Rights); err != nil {
		return nil, err
	}

	s.log.Info(ctx, "user registered", "user_id", user.ID)
	return &AuthResult{ID: user.ID, Token: res.Token, User: user}, nil
}

func (s *UserService) createWithCredential(ctx context.Context, user *models.User, password string) (credentials.Result, error) {
	var res credentials.Result
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Users(tx)
		if _, err := repo.Create(ctx, user); err != nil {
			return err
		}
		var err error
		res, err = s.auth.Provision(ctx, repo, user, password)
		return err
	})
	return res, err
}

// Authenticate logs a user in by one of its unique identifiers. An
// existing session for the same user agent is replaced.
func (s *UserService) Authenticate(ctx context.Context, password string, props models.UniqueProperties, userAgent string) (res *AuthResult, err error) {
	defer func() { s.metrics.Login(outcome(err)) }()

	if props.Empty() {
		return nil, common.NewValidationError("One of username, phonenumber or email is required")
	}

	user, err := s.repomanager.Users(s.db).GetByUniqueProperties(ctx, props)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.NewCredentialsError("User not found")
		}
		return nil, err
	}

	if s.isSuperAdmin(user) && props.Username == nil {
		return nil, common.NewProhibitedError("Superadmin must login only with a username")
	}
	if user.LookupHash == "" || user.Rights == "" {
		return nil, common.NewApplicationError("User data corrupt: lookupHash or rights are missing")
	}
	if user.IsDisabled() {
		return nil, common.NewBannedError("Your account have been banned. Contact admin to unblock account")
	}
	if user.IsDeleted() {
		return nil, common.NewProhibitedError("You have deleted your own account. To delete it permanently or restore it, contact admin")
	}

	granted, err := s.auth.Grant(ctx, user, password)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Create(ctx, user.ID, granted.Token, userAgent, user.Rights); err != nil {
		return nil, err
	}

	return &AuthResult{ID: user.ID, Token: granted.Token, User: user}, nil
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if de, ok := common.AsDomainError(err); ok {
		return de.Name()
	}
	return "error"
}

// Update changes the profile and optionally the password of user id after
// checking its current password. The lookup hash is kept, so the
// credential stays reachable.
func (s *UserService) Update(ctx context.Context, id int64, in UpdateUser, userAgent string) (*AuthResult, error) {
	repo := s.repomanager.Users(s.db)

	user, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.isSuperAdmin(user) {
		return nil, common.NewProhibitedError("Attempt to alter superadmin")
	}
	if user.IsDisabled() {
		return nil, common.NewProhibitedError("Attempt to alter disabled user")
	}
	if s.isReservedPhone(in.Phonenumber) {
		return nil, common.NewProhibitedError("Phonenumber is reserved")
	}

	if err := s.auth.Verify(ctx, user, in.Password); err != nil {
		return nil, err
	}

	newPassword := in.Password
	if in.NewPassword != nil {
		if err := s.checkPassword(*in.NewPassword); err != nil {
			return nil, err
		}
		newPassword = *in.NewPassword
	}

	updated, err := repo.Update(ctx, id, in.UserPatch)
	if err != nil {
		return nil, err
	}

	rotated, err := s.auth.Rotate(ctx, updated, in.Password, newPassword)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Create(ctx, updated.ID, rotated.Token, userAgent, updated.Rights); err != nil {
		return nil, err
	}

	return &AuthResult{ID: updated.ID, Token: rotated.Token, User: updated}, nil
}

// RefreshToken swaps token for a new one and stores it in the session of
// userAgent, keeping the cached rights.
func (s *UserService) RefreshToken(ctx context.Context, token, userAgent string) (*AuthResult, error) {
	res, err := s.auth.Refresh(ctx, token)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Refresh(ctx, res.ID, res.Token, userAgent); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.NewSessionError("Session not found")
		}
		return nil, err
	}

	return &AuthResult{ID: res.ID, Token: res.Token}, nil
}

// Logout removes the session of userAgent only.
func (s *UserService) Logout(ctx context.Context, id int64, userAgent string) error {
	return s.sessions.Remove(ctx, sessions.RemoveFilter{UserID: id, UserAgentRaw: &userAgent})
}

// ResolveSession authenticates a request: token must verify locally and
// match the stored session of (token owner, userAgent). An expired token
// drops that session.
func (s *UserService) ResolveSession(ctx context.Context, token, userAgent string) (*models.Session, error) {
	res, err := s.auth.VerifyLocal(token)
	if err != nil {
		return nil, err
	}

	switch res.Failure {
	case credentials.FailureNone:
	case credentials.FailureTokenExpired:
		if res.ID != 0 {
			if err := s.Logout(ctx, res.ID, userAgent); err != nil {
				s.log.Warn(ctx, "cannot drop expired session", "user_id", res.ID, "error", err)
			}
		}
		return nil, common.NewTokenExpiredError("Token expired")
	default:
		return nil, common.NewAuthorizationError(res.Message)
	}

	sess, err := s.sessions.GetOne(ctx, res.ID, userAgent)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.NewSessionError("Session not found")
		}
		return nil, err
	}
	if sess.Token != token {
		return nil, common.NewSessionError("Session not found")
	}
	return sess, nil
}

// Administrate changes rights of user id or restores it after a soft
// delete. Cached rights in live sessions follow; disabling a user drops
// all of its sessions.
func (s *UserService) Administrate(ctx context.Context, id int64, in AdministrateUser) (*models.User, error) {
	repo := s.repomanager.Users(s.db)

	user, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.isSuperAdmin(user) {
		return nil, common.NewProhibitedError("Attempt to alter superadmin")
	}

	if in.Rights != nil && !in.Rights.Valid() {
		return nil, common.NewValidationError(fmt.Sprintf("Unknown rights %q", *in.Rights))
	}

	if in.Restore && user.IsDeleted() {
		if err := repo.Restore(ctx, id); err != nil {
			return nil, err
		}
	}

	if in.Rights != nil && *in.Rights != user.Rights {
		if err := repo.UpdateRights(ctx, id, *in.Rights); err != nil {
			return nil, err
		}

		if *in.Rights == models.RightsDisabled {
			err = s.sessions.Remove(ctx, sessions.RemoveFilter{UserID: id})
		} else {
			err = s.sessions.UpdateAllByUserID(ctx, id, *in.Rights)
		}
		if err != nil {
			return nil, err
		}
	}

	return repo.GetByID(ctx, id)
}

// Remove soft-deletes user id: sessions are dropped and its credential is
// erased, the row stays.
func (s *UserService) Remove(ctx context.Context, id int64) error {
	repo := s.repomanager.Users(s.db)

	user, err := repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if s.isSuperAdmin(user) {
		return common.NewProhibitedError("Attempt to remove superadmin")
	}
	if user.IsDeleted() {
		return common.NewProhibitedError("User is already removed")
	}

	if err := s.sessions.Remove(ctx, sessions.RemoveFilter{UserID: id}); err != nil {
		return err
	}
	if err := repo.Remove(ctx, id); err != nil {
		return err
	}
	return s.auth.Revoke(ctx, user.LookupHash)
}

// Delete removes user id permanently together with its sessions,
// credential and addresses. Sessions go first, so a failure there leaves
// the row and the credential in place; the database work is atomic.
func (s *UserService) Delete(ctx context.Context, id int64) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Users(tx)

		user, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if s.isSuperAdmin(user) {
			return common.NewProhibitedError("Attempt to delete superadmin")
		}

		if err := s.sessions.Remove(ctx, sessions.RemoveFilter{UserID: id}); err != nil {
			return err
		}

		if err := s.auth.Revoke(ctx, user.LookupHash); err != nil {
			return err
		}
		if err := s.repomanager.Addresses(tx).RemoveForUser(ctx, id); err != nil {
			return err
		}
		return repo.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	s.log.Info(ctx, "user deleted", "user_id", id)
	return nil
}

func (s *UserService) GetAll(ctx context.Context) ([]*models.User, error) {
	return s.repomanager.Users(s.db).GetAll(ctx)
}

func (s *UserService) GetSome(ctx context.Context, limit, offset int) ([]*models.User, error) {
	if limit <= 0 || offset < 0 {
		return nil, common.NewValidationError("limit must be positive and offset not negative")
	}
	return s.repomanager.Users(s.db).GetSome(ctx, limit, offset)
}

func (s *UserService) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return s.repomanager.Users(s.db).GetByID(ctx, id)
}

func (s *UserService) GetByScope(ctx context.Context, scope models.Scope) ([]*models.User, error) {
	if !scope.Valid() {
		return nil, common.NewValidationError(fmt.Sprintf("Unknown scope %q", scope))
	}
	return s.repomanager.Users(s.db).GetByScope(ctx, scope)
}

// InitSuperAdmin makes sure the protected admin identified by the
// configured phonenumber exists, creating and provisioning it if needed.
// A row holding that phonenumber without admin rights is an impostor: it
// is purged and the superadmin is created in its place.
func (s *UserService) InitSuperAdmin(ctx context.Context, username, password string) (*models.User, error) {
	phone := s.superAdminPhone
	user, err := s.repomanager.Users(s.db).GetByUniqueProperties(ctx, models.UniqueProperties{Phonenumber: &phone})
	if err == nil && user.Rights == models.RightsAdmin {
		return user, nil
	}
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}
	impostor := user

	if username == "" {
		return nil, common.NewValidationError("Superadmin username is required")
	}
	if err := s.checkPassword(password); err != nil {
		return nil, err
	}

	if impostor != nil {
		s.log.Warn(ctx, "superadmin phonenumber held by non-admin, purging", "user_id", impostor.ID, "rights", string(impostor.Rights))
		if err := s.purge(ctx, impostor); err != nil {
			return nil, err
		}
	}

	name := "Superadmin"
	user = &models.User{
		Username:    &username,
		Phonenumber: &phone,
		Name:        &name,
		Rights:      models.RightsAdmin,
	}
	user.LookupHash = LookupHash(user)

	if _, err := s.createWithCredential(ctx, user, password); err != nil {
		return nil, err
	}

	s.log.Info(ctx, "superadmin created", "user_id", user.ID)
	return user, nil
}

// purge drops every trace of u: sessions, credential, addresses and row.
func (s *UserService) purge(ctx context.Context, u *models.User) error {
	if err := s.sessions.Remove(ctx, sessions.RemoveFilter{UserID: u.ID}); err != nil {
		return err
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if u.LookupHash != "" {
			if err := s.auth.Revoke(ctx, u.LookupHash); err != nil {
				return err
			}
		}
		if err := s.repomanager.Addresses(tx).RemoveForUser(ctx, u.ID); err != nil {
			return err
		}
		return s.repomanager.Users(tx).Delete(ctx, u.ID)
	})
}

// CleanSessions removes sessions whose tokens no longer verify.
func (s *UserService) CleanSessions(ctx context.Context) (int, error) {
	n, err := s.sessions.Cleanup(ctx, s.auth.ValidateToken)
	s.metrics.Cleaned(n)
	return n, err
}

// RemoveAll wipes every user but the superadmin, and every session. It is
// only allowed in the test environment.
func (s *UserService) RemoveAll(ctx context.Context) error {
	if s.env != config.EnvTest {
		return common.NewProhibitedError("Attempt to remove all users outside of test environment")
	}
	if err := s.repomanager.Users(s.db).RemoveAll(ctx, s.superAdminPhone); err != nil {
		return err
	}
	return s.sessions.RemoveAll(ctx)
}

// CreateAddress stores a and links it to user id.
func (s *UserService) CreateAddress(ctx context.Context, userID int64, a *models.Address) (*models.Address, error) {
	var created *models.Address
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.repomanager.Users(tx).GetByID(ctx, userID); err != nil {
			return err
		}
		repo := s.repomanager.Addresses(tx)
		var err error
		if created, err = repo.Create(ctx, a); err != nil {
			return err
		}
		return repo.Link(ctx, userID, created.ID)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateAddress changes an address owned by user id.
func (s *UserService) UpdateAddress(ctx context.Context, userID int64, a *models.Address) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Addresses(tx)
		linked, err := repo.IsLinked(ctx, userID, a.ID)
		if err != nil {
			return err
		}
		if !linked {
			return common.ErrorNotFound
		}
		return repo.Update(ctx, a)
	})
}

// RemoveAddress unlinks and deletes an address owned by user id.
func (s *UserService) RemoveAddress(ctx context.Context, userID, addressID int64) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Addresses(tx)
		linked, err := repo.IsLinked(ctx, userID, addressID)
		if err != nil {
			return err
		}
		if !linked {
			return common.ErrorNotFound
		}
		if err := repo.Unlink(ctx, userID, addressID); err != nil {
			return err
		}
		return repo.Delete(ctx, addressID)
	})
}

func (s *UserService) GetAddresses(ctx context.Context, userID int64) ([]*models.Address, error) {
	return s.repomanager.Addresses(s.db).GetForUser(ctx, userID)
}
