package main

import (
	"encoding/json"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/septivank/water-flow-monitor/internal/db"
	"github.com/septivank/water-flow-monitor/internal/events"
	"github.com/septivank/water-flow-monitor/internal/liveclient"
)

type fakeSender struct {
	open bool
	sent []string
}

func (f *fakeSender) Send(msgType string, payload any) bool {
	if !f.open {
		return false
	}
	f.sent = append(f.sent, msgType)
	return true
}

func envelope(t *testing.T, msgType string, data any) envelopeMsg {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return envelopeMsg(events.RawEnvelope{Type: msgType, Data: raw})
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func step(m tea.Model, msg tea.Msg) model {
	next, _ := m.Update(msg)
	return next.(model)
}

func TestModel_AppliesLiveEvents(t *testing.T) {
	m := newModel(&fakeSender{open: true})
	m = step(m, statusMsg(liveclient.StatusOpen))
	m = step(m, envelope(t, events.TypeSensorReading, db.Reading{ID: 1, SensorID: 2, FlowRate: 1.4}))
	m = step(m, envelope(t, events.TypeValveStatusChanged, db.ValveState{IsOpen: false}))
	m = step(m, envelope(t, events.TypeLeakDetected, events.LeakDetected{
		LeakEvent: db.LeakEvent{ID: 7, SensorID: 1, Severity: db.SeverityHigh, FlowRate: 13.5},
		Location:  "Main Inlet",
	}))

	if m.readings[2].FlowRate != 1.4 {
		t.Errorf("Expected sensor 2 at 1.4, got %f", m.readings[2].FlowRate)
	}
	if m.valve == nil || *m.valve {
		t.Error("Expected valve closed")
	}
	if _, ok := m.leaks[7]; !ok {
		t.Fatal("Expected leak 7 to be tracked")
	}
	if !strings.Contains(m.View(), "Main Inlet") {
		t.Error("Expected view to show the leak location")
	}

	m = step(m, envelope(t, events.TypeLeakResolved, db.LeakEvent{ID: 7}))
	if len(m.leaks) != 0 {
		t.Errorf("Expected resolved leak to be removed, got %d", len(m.leaks))
	}
}

func TestModel_KeysSendCommands(t *testing.T) {
	sender := &fakeSender{open: true}
	m := newModel(sender)
	m = step(m, envelope(t, events.TypeLeakDetected, events.LeakDetected{LeakEvent: db.LeakEvent{ID: 3}}))

	for _, k := range []string{"c", "o", "e", "r"} {
		m = step(m, key(k))
	}

	expected := "toggleValve,toggleValve,emergencyShutdown,resolveLeakEvent"
	if got := strings.Join(sender.sent, ","); got != expected {
		t.Errorf("Expected %s, got %s", expected, got)
	}
}

func TestModel_SendWhileDisconnected(t *testing.T) {
	m := newModel(&fakeSender{})
	m = step(m, key("e"))
	if !strings.Contains(m.notice, "not connected") {
		t.Errorf("Expected a not connected notice, got %q", m.notice)
	}
}
