// Package cockpit ties the session store, the view router and the refresh
// coordinator together into the controller driven by the shell.
package cockpit

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/atinyakov/koracockpit/internal/client/api"
	"github.com/atinyakov/koracockpit/internal/models"
	"github.com/atinyakov/koracockpit/internal/session"
	"github.com/atinyakov/koracockpit/internal/view"
)

// ErrSignedOut is returned by operations that need a signed-in user.
var ErrSignedOut = errors.New("cockpit: not signed in")

// Options configures an App.
type Options struct {
	ExplorerBase string
	PanelPaths   map[view.View]string
	Logger       *zap.Logger
}

// Account is the snapshot shown above the active panel.
type Account struct {
	Name    string
	Region  string
	Balance string
}

// App is the cockpit controller. It is meant to be driven from a single
// goroutine, like the shell loop.
type App struct {
	store    *session.Store
	router   *view.Router
	refresh  Coordinator
	panels   map[view.View]Panel
	explorer string
	log      *zap.Logger

	synced  bool
	authKey string
}

// New builds an App around store. Call Start before rendering.
func New(store *session.Store, opts Options) *App {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &App{
		store:    store,
		router:   view.NewRouter(store.Snapshot().Role),
		panels:   newPanels(opts.PanelPaths),
		explorer: cmp.Or(opts.ExplorerBase, DefaultExplorerBase),
		log:      log,
	}
}

// Start runs the first effects pass: bootstrap from a stored token, fetch
// the user and settle the view.
func (a *App) Start(ctx context.Context) {
	a.settle(ctx)
}

func authKey(s session.Session) string {
	return s.Token + "\x00" + s.UserID
}

// settle reacts to session changes. Bootstrap and refresh run once per
// distinct (token, user id) pair; the role gate and refresh key follow
// the session on every pass.
func (a *App) settle(ctx context.Context) {
	s := a.store.Snapshot()
	if !a.synced || authKey(s) != a.authKey {
		if a.store.Bootstrap(ctx) {
			s = a.store.Snapshot()
		}
		a.synced = true
		a.authKey = authKey(s)
		a.store.Refresh(ctx)
		s = a.store.Snapshot()
	}

	prev := a.router.Current()
	if next := a.router.SetRole(s.Role); next != prev {
		a.log.Debug("view corrected for role",
			zap.String("role", string(s.Role)),
			zap.String("from", string(prev)),
			zap.String("to", string(next)),
		)
	}
	if a.refresh.Observe(s.UserID, s.RegionID, s.Role) {
		a.log.Debug("identity changed", zap.Uint64("refresh_key", a.refresh.Key()))
	}
}

// LoginPilot signs in with a pilot role.
func (a *App) LoginPilot(ctx context.Context, role models.Role, password string) error {
	if err := a.store.LoginPilot(ctx, role, password); err != nil {
		return err
	}
	a.settle(ctx)
	return nil
}

// LoginEmail signs in an email account.
func (a *App) LoginEmail(ctx context.Context, email, password string) error {
	if err := a.store.LoginEmail(ctx, email, password); err != nil {
		return err
	}
	a.settle(ctx)
	return nil
}

// Register creates an email account and signs it in.
func (a *App) Register(ctx context.Context, email, password, name string) error {
	if err := a.store.Register(ctx, email, password, name); err != nil {
		return err
	}
	a.settle(ctx)
	return nil
}

// Logout signs out. The controller is reset even if storage fails.
func (a *App) Logout(ctx context.Context) error {
	err := a.store.Logout(ctx)
	a.settle(ctx)
	return err
}

// Navigate selects a view, subject to the role gate, and returns the view
// actually shown.
func (a *App) Navigate(v view.View) view.View {
	return a.router.Select(v)
}

// GlobalRefresh refetches the user and wallet and invalidates every panel.
func (a *App) GlobalRefresh(ctx context.Context) {
	a.store.Refresh(ctx)
	a.refresh.Bump()
	a.settle(ctx)
}

// Post sends an authenticated POST and refreshes everything afterwards.
func (a *App) Post(ctx context.Context, path string, body json.RawMessage) (json.RawMessage, error) {
	if a.store.Snapshot().IsAnonymous() {
		return nil, ErrSignedOut
	}
	var out json.RawMessage
	if err := a.store.Client().Post(ctx, path, body, &out); err != nil {
		return nil, err
	}
	a.GlobalRefresh(ctx)
	return out, nil
}

// Screen returns the active view, or false when the landing screen is shown.
func (a *App) Screen() (view.View, bool) {
	if a.store.Snapshot().UserID == "" {
		return "", false
	}
	return a.router.Current(), true
}

// Nav returns the navigation items for the current role.
func (a *App) Nav() []view.NavItem {
	return view.Nav(a.router.Role())
}

// Account returns the account snapshot once a user has been fetched.
func (a *App) Account() (Account, bool) {
	u := a.store.User()
	if u == nil {
		return Account{}, false
	}
	s := a.store.Snapshot()
	return Account{
		Name:    cmp.Or(u.DisplayName(), u.ID),
		Region:  RegionLabel(s.RegionID),
		Balance: BalanceLabel(s.Role, a.store.Wallet()),
	}, true
}

// Client returns the API client for the current credentials.
func (a *App) Client() *api.Client {
	return a.store.Client()
}

// RefreshKey returns the current refresh key.
func (a *App) RefreshKey() uint64 {
	return a.refresh.Key()
}

// Session returns the current session.
func (a *App) Session() session.Session {
	return a.store.Snapshot()
}

// Status reports the outcome of the last user refresh.
func (a *App) Status() session.Status {
	return a.store.Status()
}

const landingText = `KORA pilot cockpit

  Not signed in.

  login <operator|anchor> <password>      pilot sign-in
  signin <email> <password>               email sign-in
  register <email> <password> [name]      create an account
`

// Render writes the current screen to w.
func (a *App) Render(ctx context.Context, w io.Writer) error {
	current, ok := a.Screen()
	if !ok {
		_, err := io.WriteString(w, landingText)
		return err
	}

	s := a.store.Snapshot()
	var b strings.Builder
	b.WriteString("KORA pilot cockpit")
	if s.Role != models.RoleUnset {
		b.WriteString("  ·  " + string(s.Role))
	}
	b.WriteString("\n")

	if items := a.Nav(); len(items) > 0 {
		labels := make([]string, len(items))
		for i, it := range items {
			labels[i] = it.Label
			if it.View == current {
				labels[i] = "[" + it.Label + "]"
			}
		}
		b.WriteString(strings.Join(labels, "  ") + "\n")
	}

	if acc, ok := a.Account(); ok {
		fmt.Fprintf(&b, "%s  |  %s  |  %s\n", acc.Name, acc.Region, acc.Balance)
	}
	if st := a.store.Status(); st.LastError != nil {
		fmt.Fprintf(&b, "last refresh failed: %v\n", st.LastError)
	}
	b.WriteString("\n")
	if _, err := io.WriteString(w, b.String()); err != nil {
		return err
	}

	p, ok := a.panels[current]
	if !ok {
		_, err := fmt.Fprintf(w, "%s\n", current)
		return err
	}
	return p.Render(ctx, w, Env{
		Client:       a.store.Client(),
		RefreshKey:   a.refresh.Key(),
		ExplorerBase: a.explorer,
	})
}
