package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/septivank/water-flow-monitor/internal/db"
	"github.com/septivank/water-flow-monitor/internal/events"
	"github.com/septivank/water-flow-monitor/internal/liveclient"
)

// Sender is the outbound half of the live channel
type Sender interface {
	Send(msgType string, payload any) bool
}

type statusMsg liveclient.Status

type envelopeMsg events.RawEnvelope

type model struct {
	live     Sender
	status   liveclient.Status
	readings map[int64]db.Reading
	valve    *bool
	leaks    map[int64]events.LeakDetected
	notice   string
	width    int
}

func newModel(live Sender) model {
	return model{
		live:     live,
		status:   liveclient.StatusConnecting,
		readings: make(map[int64]db.Reading),
		leaks:    make(map[int64]events.LeakDetected),
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case statusMsg:
		m.status = liveclient.Status(msg)
	case envelopeMsg:
		m.apply(events.RawEnvelope(msg))
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "o":
			m.send(events.TypeToggleValve, events.ToggleValve{IsOpen: true}, "open valve")
		case "c":
			m.send(events.TypeToggleValve, events.ToggleValve{IsOpen: false}, "close valve")
		case "e":
			m.send(events.TypeEmergencyShutdown, struct{}{}, "emergency shutdown")
		case "r":
			if id, ok := m.newestLeak(); ok {
				m.send(events.TypeResolveLeakEvent, events.ResolveLeak{LeakID: id}, fmt.Sprintf("resolve leak #%d", id))
			} else {
				m.notice = "no pending leak to resolve"
			}
		}
	}
	return m, nil
}

func (m *model) send(msgType string, payload any, label string) {
	if m.live.Send(msgType, payload) {
		m.notice = "sent: " + label
		return
	}
	m.notice = "not connected, " + label + " dropped"
}

func (m *model) apply(env events.RawEnvelope) {
	switch env.Type {
	case events.TypeSensorReading:
		var r db.Reading
		if json.Unmarshal(env.Data, &r) == nil {
			m.readings[r.SensorID] = r
		}
	case events.TypeValveStatusChanged:
		var v db.ValveState
		if json.Unmarshal(env.Data, &v) == nil {
			open := v.IsOpen
			m.valve = &open
		}
	case events.TypeLeakDetected:
		var l events.LeakDetected
		if json.Unmarshal(env.Data, &l) == nil {
			m.leaks[l.ID] = l
		}
	case events.TypeLeakResolved:
		var l db.LeakEvent
		if json.Unmarshal(env.Data, &l) == nil {
			delete(m.leaks, l.ID)
		}
	}
}

func (m model) newestLeak() (int64, bool) {
	var newest *events.LeakDetected
	for id := range m.leaks {
		l := m.leaks[id]
		if newest == nil || l.DetectedAt.After(newest.DetectedAt) {
			newest = &l
		}
	}
	if newest == nil {
		return 0, false
	}
	return newest.ID, true
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("flowwatch"))
	b.WriteString("  ")
	b.WriteString(m.statusLine())
	b.WriteString("\n\n")

	valve := labelStyle.Render("unknown")
	if m.valve != nil {
		if *m.valve {
			valve = okStyle.Render("OPEN")
		} else {
			valve = critStyle.Render("CLOSED")
		}
	}
	b.WriteString(labelStyle.Render("valve: ") + valve + "\n\n")

	ids := make([]int64, 0, len(m.readings))
	for id := range m.readings {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var rows []string
	for _, id := range ids {
		r := m.readings[id]
		rows = append(rows, fmt.Sprintf("%s %s %s",
			labelStyle.Render(fmt.Sprintf("sensor %d", id)),
			valueStyle.Render(fmt.Sprintf("%6.2f L/min", r.FlowRate)),
			labelStyle.Render(r.Timestamp.Local().Format(time.TimeOnly)),
		))
	}
	if len(rows) == 0 {
		rows = append(rows, labelStyle.Render("waiting for readings..."))
	}
	b.WriteString(panelStyle.Render(strings.Join(rows, "\n")))
	b.WriteString("\n")

	if len(m.leaks) > 0 {
		var leaks []string
		for _, l := range m.leaks {
			leaks = append(leaks, severityStyle(l.Severity).Render(
				fmt.Sprintf("#%d %s %.2f L/min (%s)", l.ID, l.Location, l.FlowRate, l.Severity),
			))
		}
		sort.Strings(leaks)
		b.WriteString(panelStyle.Render(critStyle.Render("LEAKS") + "\n" + strings.Join(leaks, "\n")))
		b.WriteString("\n")
	}

	if m.notice != "" {
		b.WriteString(m.notice + "\n")
	}
	b.WriteString(helpStyle.Render("o open  c close  e emergency  r resolve  q quit"))
	return b.String()
}

func (m model) statusLine() string {
	switch m.status {
	case liveclient.StatusOpen:
		return okStyle.Render("● connected")
	case liveclient.StatusConnecting:
		return warnStyle.Render("● connecting")
	case liveclient.StatusError:
		return critStyle.Render("● error")
	}
	return labelStyle.Render("● disconnected, retrying")
}
