package cockpit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/atinyakov/koracockpit/internal/client/api"
	"github.com/atinyakov/koracockpit/internal/view"
)

// DefaultExplorerBase prefixes transaction hashes to form explorer links.
const DefaultExplorerBase = "https://amoy.polygonscan.com/tx/"

const (
	txHashField   = "txHash"
	explorerField = "explorer"
	emptyCell     = "-"
)

// DefaultPanelPaths maps data-backed views to the API path they fetch.
var DefaultPanelPaths = map[view.View]string{
	view.OperatorDashboard: "/dashboard/operator",
	view.Ledger:            "/ledger",
	view.Settlement:        "/settlement",
	view.AnchorDashboard:   "/dashboard/anchor",
	view.AnchorMeter:       "/meter-readings",
	view.AnchorBalance:     "/balance/weekly",
}

var panelTitles = map[view.View]string{
	view.OperatorDashboard:  "Operator dashboard",
	view.Ledger:             "Ledger",
	view.Settlement:         "Settlement",
	view.OperatorHelp:       "Help / Instructions",
	view.AnchorDashboard:    "Anchor dashboard",
	view.AnchorMeter:        "Meter readings",
	view.AnchorBalance:      "Weekly balance due",
	view.AnchorInstructions: "Instructions",
}

var staticBodies = map[view.View][]string{
	view.OperatorHelp: {
		"Meter readings arrive from anchors and are posted to the ledger.",
		"Settlement nets each anchor's weekly balance against the pool.",
		"Every settled entry carries a transaction hash; follow the link to audit it.",
		"Use 'refresh' after an external change to reload every panel.",
	},
	view.AnchorInstructions: {
		"Enter one meter reading per delivery point and billing period.",
		"Submit with: post /meter-readings {\"kwh\": 120.5}",
		"Your weekly balance is due at the end of each settlement week.",
		"A negative balance means you owe the pool.",
	},
}

// Env is what a panel needs to draw itself.
type Env struct {
	Client       *api.Client
	RefreshKey   uint64
	ExplorerBase string
}

// Panel renders the body of one view.
type Panel interface {
	Render(ctx context.Context, w io.Writer, env Env) error
}

type staticPanel struct {
	title string
	lines []string
}

func (p *staticPanel) Render(_ context.Context, w io.Writer, _ Env) error {
	var b strings.Builder
	b.WriteString(p.title + "\n\n")
	for _, l := range p.lines {
		b.WriteString("  " + l + "\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// remotePanel caches the decoded response together with the refresh key
// and client it was fetched with.
type remotePanel struct {
	title string
	path  string

	loaded bool
	key    uint64
	client *api.Client
	data   any
	err    error
}

func (p *remotePanel) stale(env Env) bool {
	return !p.loaded || p.key != env.RefreshKey || p.client != env.Client
}

func (p *remotePanel) fetch(ctx context.Context, env Env) {
	var raw json.RawMessage
	p.loaded, p.key, p.client = true, env.RefreshKey, env.Client
	p.data, p.err = nil, nil

	if err := env.Client.Get(ctx, p.path, &raw); err != nil {
		p.err = err
		return
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&p.data); err != nil {
		p.err = fmt.Errorf("decode %s: %w", p.path, err)
	}
}

func (p *remotePanel) Render(ctx context.Context, w io.Writer, env Env) error {
	if p.stale(env) {
		p.fetch(ctx, env)
	}
	if _, err := fmt.Fprintf(w, "%s\n\n", p.title); err != nil {
		return err
	}
	if p.err != nil {
		_, err := fmt.Fprintf(w, "  unavailable: %v\n", p.err)
		return err
	}
	return writeValue(w, p.data, env.ExplorerBase)
}

func newPanels(paths map[view.View]string) map[view.View]Panel {
	panels := make(map[view.View]Panel, len(view.All))
	for v, lines := range staticBodies {
		panels[v] = &staticPanel{title: panelTitles[v], lines: lines}
	}
	for v, path := range DefaultPanelPaths {
		if p, ok := paths[v]; ok && p != "" {
			path = p
		}
		panels[v] = &remotePanel{title: panelTitles[v], path: path}
	}
	return panels
}

func writeValue(w io.Writer, v any, explorer string) error {
	switch t := v.(type) {
	case []any:
		return writeTable(w, t, explorer)
	case map[string]any:
		return writeObject(w, t, explorer)
	case nil:
		_, err := io.WriteString(w, "  (no data)\n")
		return err
	default:
		_, err := fmt.Fprintf(w, "  %s\n", cell(t))
		return err
	}
}

func writeObject(w io.Writer, obj map[string]any, explorer string) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	var nested []string
	for _, k := range keys {
		switch obj[k].(type) {
		case []any, map[string]any:
			nested = append(nested, k)
			continue
		}
		fmt.Fprintf(tw, "  %s:\t%s\n", k, cell(obj[k]))
		if k == txHashField {
			fmt.Fprintf(tw, "  %s:\t%s\n", explorerField, explorerLink(explorer, obj[k]))
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, k := range nested {
		if _, err := fmt.Fprintf(w, "\n  %s\n", k); err != nil {
			return err
		}
		if err := writeValue(w, obj[k], explorer); err != nil {
			return err
		}
	}
	return nil
}

func writeTable(w io.Writer, rows []any, explorer string) error {
	if len(rows) == 0 {
		_, err := io.WriteString(w, "  (no rows)\n")
		return err
	}

	var cols []string
	seen := map[string]bool{}
	hasTx := false
	for _, r := range rows {
		obj, ok := r.(map[string]any)
		if !ok {
			continue
		}
		for k := range obj {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
		if _, ok := obj[txHashField]; ok {
			hasTx = true
		}
	}
	slices.Sort(cols)
	addLink := hasTx && !seen[explorerField]
	if addLink {
		cols = append(cols, explorerField)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if len(cols) > 0 {
		fmt.Fprintf(tw, "  %s\n", strings.Join(cols, "\t"))
	}
	for _, r := range rows {
		obj, ok := r.(map[string]any)
		if !ok {
			fmt.Fprintf(tw, "  %s\n", cell(r))
			continue
		}
		cells := make([]string, len(cols))
		for i, c := range cols {
			if addLink && c == explorerField {
				cells[i] = explorerLink(explorer, obj[txHashField])
				continue
			}
			cells[i] = cell(obj[c])
		}
		fmt.Fprintf(tw, "  %s\n", strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func explorerLink(base string, hash any) string {
	h, ok := hash.(string)
	if !ok || h == "" {
		return emptyCell
	}
	return base + h
}

func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return emptyCell
	case string:
		if t == "" {
			return emptyCell
		}
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "yes"
		}
		return "no"
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
