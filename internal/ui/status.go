// Package ui renders the terminal status dashboard: a live table of
// sessions and host headroom, polled from a running loopdeck server.
package ui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const pollInterval = 2 * time.Second

type sessionRow struct {
	ID         string `json:"id"`
	TaskName   string `json:"task_name"`
	Hat        string `json:"hat"`
	StartedAt  string `json:"started_at"`
	Running    bool   `json:"running"`
	PID        int    `json:"pid"`
	Streamable bool   `json:"streamable"`
}

type sessionsResponse struct {
	Sessions []sessionRow `json:"sessions"`
	Total    int          `json:"total"`
}

type hostMetrics struct {
	Current struct {
		CPUPercent     float64 `json:"cpu_percent"`
		MemTotal       uint64  `json:"mem_total"`
		MemUsed        uint64  `json:"mem_used"`
		MemUsedPercent float64 `json:"mem_used_percent"`
		Load1          float64 `json:"load1"`
	} `json:"current"`
}

// StatusApp is the `loopdeck status` dashboard.
type StatusApp struct {
	tapp    *tview.Application
	table   *tview.Table
	footer  *tview.TextView
	baseURL string
	client  *http.Client
	stop    chan struct{}
}

func NewStatusApp(baseURL string) *StatusApp {
	a := &StatusApp{
		tapp:    tview.NewApplication(),
		table:   tview.NewTable(),
		footer:  tview.NewTextView().SetDynamicColors(true),
		baseURL: baseURL,
		client:  &http.Client{Timeout: 3 * time.Second},
		stop:    make(chan struct{}),
	}

	a.table.SetBorders(false).
		SetSelectable(true, false).
		SetBackgroundColor(ColorBackground)
	a.table.SetBorder(true).
		SetTitle(" sessions ").
		SetBorderColor(ColorBorder).
		SetTitleColor(ColorPrimary)
	a.footer.SetBackgroundColor(ColorBackground)

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.table, 0, 1, true).
		AddItem(a.footer, 1, 0, false)

	a.tapp.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch {
		case event.Rune() == 'q', event.Key() == tcell.KeyEscape:
			a.tapp.Stop()
			return nil
		case event.Rune() == 'r':
			go a.refresh()
			return nil
		}
		return event
	})
	a.tapp.SetRoot(layout, true)
	return a
}

// Run polls until the user quits.
func (a *StatusApp) Run() error {
	go func() {
		a.refresh()
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.refresh()
			case <-a.stop:
				return
			}
		}
	}()
	defer close(a.stop)
	return a.tapp.Run()
}

func (a *StatusApp) refresh() {
	var sessions sessionsResponse
	sessErr := a.fetch("/api/sessions", &sessions)

	var host hostMetrics
	hostErr := a.fetch("/api/host/metrics", &host)

	a.tapp.QueueUpdateDraw(func() {
		if sessErr != nil {
			a.renderError(sessErr)
			return
		}
		a.renderSessions(sessions.Sessions)
		if hostErr == nil {
			a.renderFooter(host)
		}
	})
}

func (a *StatusApp) fetch(path string, out any) error {
	resp, err := a.client.Get(a.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (a *StatusApp) renderSessions(sessions []sessionRow) {
	a.table.Clear()
	headers := []string{"", "ID", "TASK", "HAT", "PID", "STARTED"}
	for col, h := range headers {
		a.table.SetCell(0, col, tview.NewTableCell(h).
			SetTextColor(ColorTextMuted).
			SetSelectable(false))
	}

	for i, s := range sessions {
		row := i + 1
		icon, color := StatusIcon(s.Running, s.Streamable)

		id := s.ID
		if len(id) > 8 {
			id = id[:8]
		}
		task := s.TaskName
		if task == "" {
			task = "-"
		}
		hat := s.Hat
		if hat == "" {
			hat = "-"
		}
		pid := "-"
		if s.PID > 0 {
			pid = fmt.Sprintf("%d", s.PID)
		}
		started := "-"
		if t, err := time.Parse(time.RFC3339, s.StartedAt); err == nil {
			started = humanize.Time(t)
		}

		a.table.SetCell(row, 0, tview.NewTableCell(icon).SetTextColor(color))
		a.table.SetCell(row, 1, tview.NewTableCell(id).SetTextColor(ColorText))
		a.table.SetCell(row, 2, tview.NewTableCell(task).SetTextColor(ColorText).SetExpansion(1))
		a.table.SetCell(row, 3, tview.NewTableCell(hat).SetTextColor(ColorAccent))
		a.table.SetCell(row, 4, tview.NewTableCell(pid).SetTextColor(ColorTextMuted))
		a.table.SetCell(row, 5, tview.NewTableCell(started).SetTextColor(ColorTextMuted))
	}

	if len(sessions) == 0 {
		a.table.SetCell(1, 0, tview.NewTableCell("no sessions").
			SetTextColor(ColorTextMuted).
			SetSelectable(false))
	}
}

func (a *StatusApp) renderFooter(host hostMetrics) {
	c := host.Current
	a.footer.SetText(fmt.Sprintf(
		" cpu %.0f%%  ·  mem %s / %s (%.0f%%)  ·  load %.2f  ·  q quit · r refresh",
		c.CPUPercent,
		humanize.IBytes(c.MemUsed), humanize.IBytes(c.MemTotal), c.MemUsedPercent,
		c.Load1,
	))
}

func (a *StatusApp) renderError(err error) {
	a.table.Clear()
	a.table.SetCell(0, 0, tview.NewTableCell(fmt.Sprintf("server unreachable: %v", err)).
		SetTextColor(ColorError).
		SetSelectable(false))
}
