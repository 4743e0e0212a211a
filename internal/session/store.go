// Package session owns the cockpit identity: who is signed in, for which
// region and role, and with which bearer token. The Store mirrors the
// persisted entries in memory and reconciles them with the server.
package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/koracockpit/internal/client/api"
	"github.com/atinyakov/koracockpit/internal/client/storage"
	"github.com/atinyakov/koracockpit/internal/models"
)

var (
	// ErrInvalidRole is returned by LoginPilot for anything but operator or anchor.
	ErrInvalidRole = errors.New("session: role must be operator or anchor")
	// ErrMissingUser is returned when a login response carries no user id.
	ErrMissingUser = errors.New("session: login response has no user id")
)

// Session is the identity persisted across restarts.
type Session struct {
	UserID   string
	RegionID string
	Role     models.Role
	Token    string
}

// Anonymous returns the signed-out session.
func Anonymous() Session {
	return Session{RegionID: models.DefaultRegion}
}

// IsAnonymous reports whether there is neither a user id nor a token.
func (s Session) IsAnonymous() bool {
	return s.UserID == "" && s.Token == ""
}

// credential is what the API client authenticates with.
func (s Session) credential() string {
	if s.Token != "" {
		return "token:" + s.Token
	}
	return "user:" + s.UserID
}

// Status describes the outcome of the most recent Refresh.
type Status struct {
	LastError   error
	LastAttempt time.Time
	LastSuccess time.Time
}

// Store holds the current session and the user data fetched for it.
type Store struct {
	storage storage.Storage
	api     *api.Factory
	log     *zap.Logger
	now     func() time.Time

	// persistMu serializes writes of the session keys. Logout holds it
	// across the clear and the epoch bump.
	persistMu sync.Mutex

	mu     sync.RWMutex
	sess   Session
	user   *models.User
	wallet *models.Wallet
	epoch  uint64
	status Status
}

// Open hydrates a Store from the persisted entries.
func Open(ctx context.Context, st storage.Storage, factory *api.Factory, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{storage: st, api: factory, log: log, now: time.Now, sess: Anonymous()}

	read := func(key string) (string, error) {
		v, _, err := st.Get(ctx, key)
		if err != nil {
			return "", fmt.Errorf("load %s: %w", key, err)
		}
		return v, nil
	}

	var err error
	if s.sess.UserID, err = read(storage.KeyUserID); err != nil {
		return nil, err
	}
	region, err := read(storage.KeyRegionID)
	if err != nil {
		return nil, err
	}
	s.sess.RegionID = cmp.Or(region, models.DefaultRegion)
	role, err := read(storage.KeyPilotRole)
	if err != nil {
		return nil, err
	}
	s.sess.Role = models.Role(role)
	if s.sess.Token, err = read(storage.KeyAuthToken); err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot returns the current session.
func (s *Store) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sess
}

// User returns a copy of the last fetched user, or nil.
func (s *Store) User() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Wallet returns a copy of the last fetched wallet, or nil.
func (s *Store) Wallet() *models.Wallet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.wallet == nil {
		return nil
	}
	w := *s.wallet
	return &w
}

// Epoch changes on every login and logout.
func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// Status reports the result of the last refresh.
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Client returns the API client for the current credentials.
func (s *Store) Client() *api.Client {
	sess := s.Snapshot()
	return s.api.For(sess.Token, sess.UserID)
}

// LoginPilot signs in with a pilot role and its shared secret.
func (s *Store) LoginPilot(ctx context.Context, role models.Role, password string) error {
	if !role.Valid() {
		return ErrInvalidRole
	}
	resp, err := s.api.Anonymous().PilotLogin(ctx, role, password)
	if err != nil {
		return fmt.Errorf("pilot login: %w", err)
	}
	return s.establish(ctx, resp, role)
}

// LoginEmail signs in an email account. The role stays unset.
func (s *Store) LoginEmail(ctx context.Context, email, password string) error {
	resp, err := s.api.Anonymous().Login(ctx, email, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return s.establish(ctx, resp, models.RoleUnset)
}

// Register creates an email account and signs it in. The role stays unset.
func (s *Store) Register(ctx context.Context, email, password, name string) error {
	resp, err := s.api.Anonymous().Register(ctx, email, password, name)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	return s.establish(ctx, resp, models.RoleUnset)
}

// establish persists the new identity first and only then swaps the
// in-memory session, so a restart never observes memory ahead of storage.
func (s *Store) establish(ctx context.Context, resp models.AuthResponse, role models.Role) error {
	if resp.User.ID == "" {
		return ErrMissingUser
	}
	next := Session{
		UserID:   resp.User.ID,
		RegionID: cmp.Or(resp.User.RegionID, models.DefaultRegion),
		Role:     role,
		Token:    resp.Token,
	}
	s.persistMu.Lock()
	if err := s.persist(ctx, next); err != nil {
		s.persistMu.Unlock()
		return err
	}

	user := resp.User
	user.RegionID = next.RegionID

	s.mu.Lock()
	s.sess = next
	s.user = &user
	s.wallet = nil
	s.epoch++
	s.status = Status{}
	s.mu.Unlock()
	s.persistMu.Unlock()

	s.log.Info("signed in",
		zap.String("user_id", next.UserID),
		zap.String("region_id", next.RegionID),
		zap.String("role", string(next.Role)),
		zap.Bool("token", next.Token != ""),
	)
	return nil
}

func (s *Store) persist(ctx context.Context, next Session) error {
	set := func(key, value string) error {
		if value == "" {
			return s.storage.Remove(ctx, key)
		}
		return s.storage.Set(ctx, key, value)
	}
	for _, e := range []struct{ key, value string }{
		{storage.KeyUserID, next.UserID},
		{storage.KeyRegionID, next.RegionID},
		{storage.KeyPilotRole, string(next.Role)},
		{storage.KeyAuthToken, next.Token},
	} {
		if err := set(e.key, e.value); err != nil {
			return fmt.Errorf("persist %s: %w", e.key, err)
		}
	}
	return nil
}

// Logout clears the persisted entries and resets to the anonymous session.
// The in-memory reset happens even when storage fails.
func (s *Store) Logout(ctx context.Context) error {
	s.persistMu.Lock()
	err := s.storage.Remove(ctx, storage.SessionKeys...)

	s.mu.Lock()
	s.sess = Anonymous()
	s.user = nil
	s.wallet = nil
	s.epoch++
	s.status = Status{}
	s.mu.Unlock()
	s.persistMu.Unlock()

	s.log.Info("signed out")
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Refresh fetches /me for the current identity. Failures are logged and
// kept in Status; the previous user and wallet stay in place. A response
// that arrives after a login, logout or credential change is dropped.
func (s *Store) Refresh(ctx context.Context) {
	s.mu.RLock()
	sess, epoch := s.sess, s.epoch
	s.mu.RUnlock()

	if sess.IsAnonymous() {
		return
	}

	me, err := s.api.For(sess.Token, sess.UserID).Me(ctx)

	s.mu.Lock()
	if s.epoch != epoch || s.sess.credential() != sess.credential() {
		s.mu.Unlock()
		s.log.Debug("dropping stale refresh", zap.Uint64("epoch", epoch))
		return
	}
	now := s.now()
	s.status.LastAttempt = now
	if err != nil {
		s.status.LastError = err
		s.mu.Unlock()
		s.log.Warn("refresh failed", zap.String("user_id", sess.UserID), zap.Error(err))
		return
	}

	s.status.LastError = nil
	s.status.LastSuccess = now
	s.user = me.User
	s.wallet = me.Wallet

	var region string
	if me.User != nil && me.User.RegionID != "" && me.User.RegionID != s.sess.RegionID {
		region = me.User.RegionID
		s.sess.RegionID = region
	}
	s.mu.Unlock()

	if region == "" {
		return
	}
	s.log.Info("region corrected by server", zap.String("region_id", region))
	if err := s.persistRegion(ctx, epoch, region); err != nil {
		s.log.Warn("persist region failed", zap.Error(err))
		s.mu.Lock()
		if s.epoch == epoch {
			s.status.LastError = err
		}
		s.mu.Unlock()
	}
}

// persistRegion stores region unless a login or logout happened since
// epoch was read.
func (s *Store) persistRegion(ctx context.Context, epoch uint64, region string) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	current := s.epoch
	s.mu.RUnlock()
	if current != epoch {
		s.log.Debug("dropping stale region write", zap.Uint64("epoch", epoch))
		return nil
	}
	if err := s.storage.Set(ctx, storage.KeyRegionID, region); err != nil {
		return fmt.Errorf("persist region: %w", err)
	}
	return nil
}
