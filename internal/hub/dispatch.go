package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/septivank/water-flow-monitor/internal/apperr"
	"github.com/septivank/water-flow-monitor/internal/db"
	"github.com/septivank/water-flow-monitor/internal/events"
	"github.com/septivank/water-flow-monitor/internal/metrics"
	"go.uber.org/zap"
)

// Commands executes operator commands received on the live channel
type Commands interface {
	ToggleValve(ctx context.Context, isOpen bool, actor *string) (*db.ValveState, error)
	EmergencyShutdown(ctx context.Context, actor *string) (*db.ValveState, error)
	ResolveLeak(ctx context.Context, id int64, actor *string) (*db.LeakEvent, error)
	UpdateThresholds(ctx context.Context, cmd events.UpdateThresholds, actor *string) ([]db.Sensor, *db.SystemSettings, error)
}

// Dispatcher decodes inbound envelopes and routes them to Commands.
// Nothing is ever written back to the sender.
type Dispatcher struct {
	commands     Commands
	requireActor bool
	logger       *zap.Logger
}

// NewDispatcher creates a dispatcher. With requireActor set, commands from
// anonymous connections fail with apperr.ErrUnauthorized.
func NewDispatcher(commands Commands, requireActor bool, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{commands: commands, requireActor: requireActor, logger: logger}
}

// Dispatch handles one inbound frame. Unknown types are logged and ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, actor *string, msg []byte) error {
	var env events.RawEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		metrics.IncCommand(commandUnknown, metrics.ResultError)
		return fmt.Errorf("failed to decode message: %v: %w", err, apperr.ErrValidation)
	}

	label := commandLabel(env.Type)
	err := d.route(ctx, actor, env)
	switch {
	case errors.Is(err, errUnknownType):
		metrics.IncCommand(label, "ignored")
		d.logger.Info("unknown message type", zap.String("type", env.Type))
		return nil
	case err != nil:
		metrics.IncCommand(label, metrics.ResultError)
		return fmt.Errorf("%s: %w", env.Type, err)
	}
	metrics.IncCommand(label, metrics.ResultSuccess)
	return nil
}

var errUnknownType = errors.New("unknown message type")

const commandUnknown = "unknown"

// commandLabel bounds the metric label to the known command types
func commandLabel(t string) string {
	switch t {
	case events.TypeToggleValve, events.TypeEmergencyShutdown, events.TypeResolveLeakEvent, events.TypeUpdateThresholds:
		return t
	}
	return commandUnknown
}

func (d *Dispatcher) route(ctx context.Context, actor *string, env events.RawEnvelope) error {
	switch env.Type {
	case events.TypeToggleValve, events.TypeEmergencyShutdown, events.TypeResolveLeakEvent, events.TypeUpdateThresholds:
	default:
		return errUnknownType
	}
	if d.requireActor && actor == nil {
		return apperr.ErrUnauthorized
	}

	switch env.Type {
	case events.TypeToggleValve:
		var p events.ToggleValve
		if err := decodePayload(env.Data, &p); err != nil {
			return err
		}
		_, err := d.commands.ToggleValve(ctx, p.IsOpen, actor)
		return err

	case events.TypeEmergencyShutdown:
		_, err := d.commands.EmergencyShutdown(ctx, actor)
		return err

	case events.TypeResolveLeakEvent:
		var p events.ResolveLeak
		if err := decodePayload(env.Data, &p); err != nil {
			return err
		}
		_, err := d.commands.ResolveLeak(ctx, p.LeakID, actor)
		return err

	default:
		var p events.UpdateThresholds
		if err := decodePayload(env.Data, &p); err != nil {
			return err
		}
		_, _, err := d.commands.UpdateThresholds(ctx, p, actor)
		return err
	}
}

func decodePayload(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("missing payload: %w", apperr.ErrValidation)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, apperr.ErrValidation)
	}
	return nil
}
