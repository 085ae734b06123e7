package autonomy

import (
	"context"

	"github.com/cklxx/autonomy/internal/eventbus"
	"github.com/cklxx/autonomy/internal/hook"
	"github.com/cklxx/autonomy/internal/trigger"
)

// ActionFunc is the engine-provided behavior a fixed action name
// resolves to (spec.md §6.5). Concrete action bodies are an engine
// responsibility, not something a trigger definition supplies; a host
// process overrides one via WithAction to plug in real diagnostics,
// paging, or remediation.
type ActionFunc func(ctx context.Context, t trigger.Trigger, evt eventbus.Event) error

// defaultActions builds the fixed action registry's built-in entries.
// Each is a thin default that announces the action over the bus so a
// plugin's onTrigger hook (or an external subscriber) can react; a host
// process is expected to override the ones it cares about via
// WithAction.
func defaultActions(e *Engine) map[string]ActionFunc {
	return map[string]ActionFunc{
		"runSecuritySweep": e.announceAction("autonomy:action:security-sweep"),
		"runSecurityScan":  e.announceAction("autonomy:action:security-scan"),
		"alertAndDiagnose": e.announceAction("autonomy:action:alert-and-diagnose"),
		"financialAlert":   e.announceAction("autonomy:action:financial-alert"),
	}
}

// announceAction returns an ActionFunc that emits name on the bus
// carrying the firing trigger's identity and the event that triggered
// it, then dispatches the onTrigger plugin hook so enabled plugins can
// observe and react to the fire.
func (e *Engine) announceAction(name string) ActionFunc {
	return func(ctx context.Context, t trigger.Trigger, evt eventbus.Event) error {
		if err := e.bus.Emit(ctx, name, map[string]any{
			"triggerId": t.ID, "triggerName": t.Name, "sourceEvent": evt.Name,
		}); err != nil {
			return err
		}
		e.plugins.Dispatch(hook.OnTrigger, hook.Context{
			Extra: map[string]any{"triggerId": t.ID, "action": t.Action, "sourceEvent": evt.Name},
		})
		return nil
	}
}
