package cockpit

import (
	"fmt"

	"github.com/atinyakov/koracockpit/internal/models"
)

// NoBalance is shown while the wallet has not been fetched.
const NoBalance = "—"

var regionLabels = map[string]string{
	"region-1": "Denver Metro",
	"region-2": "region-2",
}

// RegionLabel returns the display name of a region, or the id itself.
func RegionLabel(id string) string {
	if label, ok := regionLabels[id]; ok {
		return label
	}
	return id
}

// BalanceLabel formats a wallet balance for the account snapshot. Anchors
// see a negative balance as an amount owed.
func BalanceLabel(role models.Role, w *models.Wallet) string {
	if w == nil {
		return NoBalance
	}
	if role == models.RoleAnchor && w.BalanceCents < 0 {
		return "Owes $" + formatCents(-w.BalanceCents)
	}
	suffix := "available"
	if role == models.RoleAnchor {
		suffix = "balance"
	}
	return fmt.Sprintf("$%s %s", formatCents(w.BalanceCents), suffix)
}

func formatCents(c int64) string {
	sign := ""
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}
