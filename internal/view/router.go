// Package view defines the cockpit's named views and the role gate that
// keeps each role on its own views.
package view

import (
	"errors"
	"fmt"

	"github.com/atinyakov/koracockpit/internal/models"
)

// View identifies one screen of the cockpit.
type View string

const (
	OperatorDashboard  View = "operator-dashboard"
	Ledger             View = "ledger"
	Settlement         View = "settlement"
	OperatorHelp       View = "operator-help"
	AnchorDashboard    View = "anchor-dashboard"
	AnchorMeter        View = "anchor-meter"
	AnchorBalance      View = "anchor-balance"
	AnchorInstructions View = "anchor-instructions"
)

// ErrUnknownView is returned by Parse for names outside the view set.
var ErrUnknownView = errors.New("unknown view")

// NavItem is one entry of a role's navigation bar.
type NavItem struct {
	View  View
	Label string
}

var nav = map[models.Role][]NavItem{
	models.RoleOperator: {
		{OperatorDashboard, "Dashboard"},
		{Ledger, "View Ledger"},
		{Settlement, "Settlement"},
		{OperatorHelp, "Help / Instructions"},
	},
	models.RoleAnchor: {
		{AnchorDashboard, "Dashboard"},
		{AnchorMeter, "Enter Meter Reading"},
		{Ledger, "View Ledger"},
		{AnchorBalance, "Weekly Balance Due"},
		{AnchorInstructions, "Instructions"},
	},
}

// All lists every view in a stable order.
var All = []View{
	OperatorDashboard, Ledger, Settlement, OperatorHelp,
	AnchorDashboard, AnchorMeter, AnchorBalance, AnchorInstructions,
}

// Parse converts a name into a View.
func Parse(name string) (View, error) {
	for _, v := range All {
		if string(v) == name {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownView, name)
}

// Nav returns the navigation items for role; none for an unset role.
func Nav(role models.Role) []NavItem {
	items := nav[role]
	out := make([]NavItem, len(items))
	copy(out, items)
	return out
}

// Default is the landing view for role.
func Default(role models.Role) View {
	if role == models.RoleAnchor {
		return AnchorDashboard
	}
	return OperatorDashboard
}

// Allowed reports whether role may show v. An unset role is not gated.
func Allowed(role models.Role, v View) bool {
	items, gated := nav[role]
	if !gated {
		return true
	}
	for _, it := range items {
		if it.View == v {
			return true
		}
	}
	return false
}

// Effective maps a requested view to the one actually shown for role.
func Effective(role models.Role, requested View) View {
	if Allowed(role, requested) {
		return requested
	}
	return Default(role)
}

// Router tracks the active view for the signed-in role.
type Router struct {
	role    models.Role
	current View
}

// NewRouter starts at the role's default view.
func NewRouter(role models.Role) *Router {
	return &Router{role: role, current: Default(role)}
}

// Current returns the active view.
func (r *Router) Current() View { return r.current }

// Role returns the role the router gates for.
func (r *Router) Role() models.Role { return r.role }

// Select makes v active, subject to the role gate.
func (r *Router) Select(v View) View {
	r.current = Effective(r.role, v)
	return r.current
}

// SetRole switches role and corrects the active view if needed.
func (r *Router) SetRole(role models.Role) View {
	r.role = role
	r.current = Effective(role, r.current)
	return r.current
}
