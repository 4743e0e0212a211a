package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atinyakov/koracockpit/internal/client/api"
	"github.com/atinyakov/koracockpit/internal/client/storage"
	"github.com/atinyakov/koracockpit/internal/models"
)

// fakeAPI serves the identity endpoints from canned values and records
// the credential headers it saw.
type fakeAPI struct {
	mu         sync.Mutex
	auth       models.AuthResponse
	authStatus int
	me         models.Me
	meStatus   int
	meBlock    chan struct{}
	meEntered  chan struct{}
	headers    []http.Header
	bodies     []map[string]any
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.headers = append(f.headers, r.Header.Clone())
	block, entered := f.meBlock, f.meEntered
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/me":
		if entered != nil {
			entered <- struct{}{}
		}
		if block != nil {
			<-block
		}
		f.mu.Lock()
		status, me := f.meStatus, f.me
		f.mu.Unlock()
		if status != 0 {
			http.Error(w, "unavailable", status)
			return
		}
		_ = json.NewEncoder(w).Encode(me)
	default:
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.bodies = append(f.bodies, body)
		status, auth := f.authStatus, f.auth
		f.mu.Unlock()
		if status != 0 {
			http.Error(w, "invalid credentials", status)
			return
		}
		_ = json.NewEncoder(w).Encode(auth)
	}
}

func (f *fakeAPI) body(i int) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[i]
}

func (f *fakeAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.headers)
}

func (f *fakeAPI) lastHeader() http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.headers[len(f.headers)-1]
}

// failingStorage wraps MemoryStorage and fails writes on demand.
type failingStorage struct {
	*storage.MemoryStorage
	failSet    bool
	failRemove bool
}

func (f *failingStorage) Set(ctx context.Context, key, value string) error {
	if f.failSet {
		return errors.New("disk full")
	}
	return f.MemoryStorage.Set(ctx, key, value)
}

func (f *failingStorage) Remove(ctx context.Context, keys ...string) error {
	if f.failRemove {
		return errors.New("disk full")
	}
	return f.MemoryStorage.Remove(ctx, keys...)
}

// gatedStorage wraps MemoryStorage and holds Set of one key until released.
type gatedStorage struct {
	*storage.MemoryStorage
	key     string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStorage) Set(ctx context.Context, key, value string) error {
	if key == g.key {
		g.entered <- struct{}{}
		<-g.release
	}
	return g.MemoryStorage.Set(ctx, key, value)
}

func newTestStore(t *testing.T, fake *fakeAPI, st storage.Storage) *Store {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := Open(context.Background(), st, api.NewFactory(srv.URL, srv.Client()), zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestOpen_Defaults(t *testing.T) {
	s := newTestStore(t, &fakeAPI{}, storage.NewMemory(nil))

	assert.Equal(t, Anonymous(), s.Snapshot())
	assert.True(t, s.Snapshot().IsAnonymous())
	assert.Equal(t, models.DefaultRegion, s.Snapshot().RegionID)
}

func TestOpen_Hydrates(t *testing.T) {
	st := storage.NewMemory(map[string]string{
		storage.KeyUserID:    "u1",
		storage.KeyRegionID:  "region-2",
		storage.KeyPilotRole: "operator",
		storage.KeyAuthToken: "tok",
	})
	s := newTestStore(t, &fakeAPI{}, st)

	assert.Equal(t, Session{UserID: "u1", RegionID: "region-2", Role: models.RoleOperator, Token: "tok"}, s.Snapshot())
}

func TestLoginPilot(t *testing.T) {
	fake := &fakeAPI{auth: models.AuthResponse{
		User:  models.User{ID: "a1", RegionID: "region-2"},
		Token: "h.e.s",
	}}
	st := storage.NewMemory(nil)
	s := newTestStore(t, fake, st)
	before := s.Epoch()

	require.NoError(t, s.LoginPilot(context.Background(), models.RoleAnchor, "x"))

	assert.Equal(t, map[string]string{
		storage.KeyUserID:    "a1",
		storage.KeyRegionID:  "region-2",
		storage.KeyPilotRole: "anchor",
		storage.KeyAuthToken: "h.e.s",
	}, st.Snapshot())
	assert.Equal(t, Session{UserID: "a1", RegionID: "region-2", Role: models.RoleAnchor, Token: "h.e.s"}, s.Snapshot())
	require.NotNil(t, s.User())
	assert.Equal(t, "a1", s.User().ID)
	assert.Nil(t, s.Wallet())
	assert.Greater(t, s.Epoch(), before)
	assert.Equal(t, map[string]any{"role": "anchor", "password": "x"}, fake.body(0))
	assert.Empty(t, fake.lastHeader().Get("Authorization"))
}

func TestLoginPilot_NoTokenDefaultsRegion(t *testing.T) {
	fake := &fakeAPI{auth: models.AuthResponse{User: models.User{ID: "op1"}}}
	st := storage.NewMemory(map[string]string{storage.KeyAuthToken: "stale"})
	s := newTestStore(t, fake, st)

	require.NoError(t, s.LoginPilot(context.Background(), models.RoleOperator, "x"))

	snap := s.Snapshot()
	assert.Equal(t, models.DefaultRegion, snap.RegionID)
	assert.Empty(t, snap.Token)
	_, ok, _ := st.Get(context.Background(), storage.KeyAuthToken)
	assert.False(t, ok)
}

func TestLoginPilot_InvalidRole(t *testing.T) {
	fake := &fakeAPI{}
	s := newTestStore(t, fake, storage.NewMemory(nil))

	err := s.LoginPilot(context.Background(), models.Role("admin"), "x")
	assert.ErrorIs(t, err, ErrInvalidRole)
	assert.Zero(t, fake.calls())
}

func TestLoginPilot_Rejected(t *testing.T) {
	fake := &fakeAPI{authStatus: http.StatusUnauthorized}
	st := storage.NewMemory(nil)
	s := newTestStore(t, fake, st)

	err := s.LoginPilot(context.Background(), models.RoleAnchor, "bad")
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrUnauthorized)
	assert.True(t, s.Snapshot().IsAnonymous())
	assert.Empty(t, st.Snapshot())
}

func TestLogin_PersistFailureLeavesMemory(t *testing.T) {
	fake := &fakeAPI{auth: models.AuthResponse{User: models.User{ID: "a1"}, Token: "t"}}
	st := &failingStorage{MemoryStorage: storage.NewMemory(nil), failSet: true}
	s := newTestStore(t, fake, st)

	err := s.LoginPilot(context.Background(), models.RoleAnchor, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist USER_ID")
	assert.True(t, s.Snapshot().IsAnonymous())
	assert.Nil(t, s.User())
}

func TestLogin_MissingUserID(t *testing.T) {
	fake := &fakeAPI{auth: models.AuthResponse{Token: "t"}}
	s := newTestStore(t, fake, storage.NewMemory(nil))

	err := s.LoginEmail(context.Background(), "a@b.c", "pw")
	assert.ErrorIs(t, err, ErrMissingUser)
}

func TestLoginEmail_NeverSetsRole(t *testing.T) {
	fake := &fakeAPI{auth: models.AuthResponse{User: models.User{ID: "e1", Email: "a@b.c"}, Token: "tok"}}
	st := storage.NewMemory(map[string]string{storage.KeyPilotRole: "operator"})
	s := newTestStore(t, fake, st)

	require.NoError(t, s.LoginEmail(context.Background(), "a@b.c", "pw"))

	snap := s.Snapshot()
	assert.Equal(t, models.RoleUnset, snap.Role)
	assert.Equal(t, "tok", snap.Token)
	assert.Equal(t, models.DefaultRegion, snap.RegionID)
	assert.Equal(t, map[string]string{
		storage.KeyUserID:    "e1",
		storage.KeyRegionID:  models.DefaultRegion,
		storage.KeyAuthToken: "tok",
	}, st.Snapshot())
}

func TestRegister(t *testing.T) {
	fake := &fakeAPI{auth: models.AuthResponse{User: models.User{ID: "n1", RegionID: "region-2"}, Token: "tok"}}
	s := newTestStore(t, fake, storage.NewMemory(nil))

	require.NoError(t, s.Register(context.Background(), "n@b.c", "pw", "Nia"))
	assert.Equal(t, "n1", s.Snapshot().UserID)
	assert.Equal(t, models.RoleUnset, s.Snapshot().Role)
	assert.Equal(t, "Nia", fake.body(0)["name"])
}

func TestLogout(t *testing.T) {
	st := storage.NewMemory(map[string]string{
		storage.KeyUserID:    "u1",
		storage.KeyRegionID:  "region-2",
		storage.KeyPilotRole: "anchor",
		storage.KeyAuthToken: "tok",
		storage.KeyAPIURL:    "http://override",
	})
	s := newTestStore(t, &fakeAPI{}, st)
	before := s.Epoch()

	require.NoError(t, s.Logout(context.Background()))

	assert.Equal(t, map[string]string{storage.KeyAPIURL: "http://override"}, st.Snapshot())
	assert.Equal(t, Anonymous(), s.Snapshot())
	assert.Nil(t, s.User())
	assert.Nil(t, s.Wallet())
	assert.Greater(t, s.Epoch(), before)
}

func TestLogout_StorageFailureStillResets(t *testing.T) {
	st := &failingStorage{
		MemoryStorage: storage.NewMemory(map[string]string{storage.KeyUserID: "u1"}),
		failRemove:    true,
	}
	s := newTestStore(t, &fakeAPI{}, st)

	err := s.Logout(context.Background())
	require.Error(t, err)
	assert.True(t, s.Snapshot().IsAnonymous())
}

func TestRefresh_AnonymousIsNoop(t *testing.T) {
	fake := &fakeAPI{}
	s := newTestStore(t, fake, storage.NewMemory(nil))

	s.Refresh(context.Background())
	assert.Zero(t, fake.calls())
	assert.True(t, s.Status().LastAttempt.IsZero())
}

func TestRefresh_AppliesAndCorrectsRegion(t *testing.T) {
	fake := &fakeAPI{me: models.Me{
		User:   &models.User{ID: "u1", RegionID: "region-2", Name: "Ada"},
		Wallet: &models.Wallet{BalanceCents: 1200},
	}}
	st := storage.NewMemory(map[string]string{storage.KeyUserID: "u1"})
	s := newTestStore(t, fake, st)

	s.Refresh(context.Background())

	assert.Equal(t, "u1", fake.lastHeader().Get("x-user-id"))
	require.NotNil(t, s.User())
	assert.Equal(t, "Ada", s.User().Name)
	require.NotNil(t, s.Wallet())
	assert.EqualValues(t, 1200, s.Wallet().BalanceCents)
	assert.Equal(t, "region-2", s.Snapshot().RegionID)
	v, _, _ := st.Get(context.Background(), storage.KeyRegionID)
	assert.Equal(t, "region-2", v)
	assert.NoError(t, s.Status().LastError)
	assert.False(t, s.Status().LastSuccess.IsZero())
}

func TestRefresh_FailureKeepsStateAndIsVisible(t *testing.T) {
	fake := &fakeAPI{me: models.Me{User: &models.User{ID: "u1"}, Wallet: &models.Wallet{BalanceCents: 500}}}
	s := newTestStore(t, fake, storage.NewMemory(map[string]string{storage.KeyAuthToken: "tok", storage.KeyUserID: "u1"}))

	s.Refresh(context.Background())
	require.NotNil(t, s.Wallet())

	fake.mu.Lock()
	fake.meStatus = http.StatusBadGateway
	fake.mu.Unlock()

	s.Refresh(context.Background())

	assert.Equal(t, "Bearer tok", fake.lastHeader().Get("Authorization"))
	require.NotNil(t, s.Wallet())
	assert.EqualValues(t, 500, s.Wallet().BalanceCents)
	require.Error(t, s.Status().LastError)

	var se *api.StatusError
	require.ErrorAs(t, s.Status().LastError, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
}

func TestRefresh_StaleResultDroppedAfterLogout(t *testing.T) {
	fake := &fakeAPI{
		me:        models.Me{User: &models.User{ID: "u1"}, Wallet: &models.Wallet{BalanceCents: 100}},
		meBlock:   make(chan struct{}),
		meEntered: make(chan struct{}, 1),
	}
	s := newTestStore(t, fake, storage.NewMemory(map[string]string{storage.KeyUserID: "u1"}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Refresh(context.Background())
	}()

	<-fake.meEntered
	require.NoError(t, s.Logout(context.Background()))
	close(fake.meBlock)
	<-done

	assert.Nil(t, s.User())
	assert.Nil(t, s.Wallet())
	assert.Equal(t, Anonymous(), s.Snapshot())
	assert.True(t, s.Status().LastAttempt.IsZero())
}

func TestRefresh_RegionWriteDoesNotOutliveLogout(t *testing.T) {
	fake := &fakeAPI{me: models.Me{User: &models.User{ID: "u1", RegionID: "region-2"}}}
	st := &gatedStorage{
		MemoryStorage: storage.NewMemory(map[string]string{
			storage.KeyUserID:   "u1",
			storage.KeyRegionID: "region-1",
		}),
		key:     storage.KeyRegionID,
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s := newTestStore(t, fake, st)

	refreshed := make(chan struct{})
	go func() {
		defer close(refreshed)
		s.Refresh(context.Background())
	}()
	<-st.entered

	loggedOut := make(chan error, 1)
	go func() {
		loggedOut <- s.Logout(context.Background())
	}()
	time.Sleep(50 * time.Millisecond)
	close(st.release)

	<-refreshed
	require.NoError(t, <-loggedOut)

	assert.Empty(t, st.Snapshot())
	assert.Equal(t, Anonymous(), s.Snapshot())
}

func TestPersistRegion_StaleEpochSkipsWrite(t *testing.T) {
	st := storage.NewMemory(map[string]string{storage.KeyUserID: "u1"})
	s := newTestStore(t, &fakeAPI{}, st)
	epoch := s.Epoch()

	require.NoError(t, s.Logout(context.Background()))
	require.NoError(t, s.persistRegion(context.Background(), epoch, "region-2"))

	_, ok, _ := st.Get(context.Background(), storage.KeyRegionID)
	assert.False(t, ok)
}

func TestBootstrap_FromClaims(t *testing.T) {
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"u1","regionId":"region-2"}`))
	st := storage.NewMemory(map[string]string{storage.KeyAuthToken: "h." + payload + ".s"})
	s := newTestStore(t, &fakeAPI{}, st)

	assert.True(t, s.Bootstrap(context.Background()))

	snap := s.Snapshot()
	assert.Equal(t, "u1", snap.UserID)
	assert.Equal(t, "region-2", snap.RegionID)
	v, _, _ := st.Get(context.Background(), storage.KeyRegionID)
	assert.Equal(t, "region-2", v)
	_, ok, _ := st.Get(context.Background(), storage.KeyUserID)
	assert.False(t, ok)

	assert.False(t, s.Bootstrap(context.Background()))
}

func TestBootstrap_BadTokenLeavesSession(t *testing.T) {
	st := storage.NewMemory(map[string]string{storage.KeyAuthToken: "not-a-jwt"})
	s := newTestStore(t, &fakeAPI{}, st)

	assert.False(t, s.Bootstrap(context.Background()))
	assert.Equal(t, Session{RegionID: models.DefaultRegion, Token: "not-a-jwt"}, s.Snapshot())
}

func TestBootstrap_KnownUserSkipsDecode(t *testing.T) {
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"other"}`))
	st := storage.NewMemory(map[string]string{storage.KeyAuthToken: "h." + payload + ".s", storage.KeyUserID: "u1"})
	s := newTestStore(t, &fakeAPI{}, st)

	assert.False(t, s.Bootstrap(context.Background()))
	assert.Equal(t, "u1", s.Snapshot().UserID)
}

func TestClient_FollowsSession(t *testing.T) {
	fake := &fakeAPI{auth: models.AuthResponse{User: models.User{ID: "a1"}, Token: "t1"}}
	s := newTestStore(t, fake, storage.NewMemory(nil))

	anon := s.Client()
	assert.Same(t, anon, s.Client())

	require.NoError(t, s.LoginPilot(context.Background(), models.RoleAnchor, "x"))
	authed := s.Client()
	assert.NotSame(t, anon, authed)
	assert.Equal(t, "Bearer t1", authed.AuthHeaders().Get("Authorization"))
}
