package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/homenetio/bridge/internal/checksum"
	"github.com/homenetio/bridge/internal/codec"
	"github.com/homenetio/bridge/internal/config"
)

// runActions executes one action sequence in order, short-circuiting
// on context cancellation (restart-mode preemption) or a stop action.
func (e *Engine) runActions(ctx context.Context, cr *compiledRule, actions []config.Action, bindings codec.Bindings) error {
	for _, a := range actions {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.runOne(ctx, cr, a, bindings); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) runOne(ctx context.Context, cr *compiledRule, a config.Action, bindings codec.Bindings) error {
	switch a.Do {
	case "publish":
		return e.doPublish(ctx, a)
	case "send_packet":
		return e.doSendPacket(ctx, a, bindings)
	case "command":
		return e.doCommand(ctx, a, bindings)
	case "delay":
		return e.doDelay(ctx, a)
	case "log":
		e.log.Info("automation log action", "rule", cr.rule.ID, "message", a.Message)
		return nil
	case "if":
		return e.doIf(ctx, cr, a, bindings)
	case "choose":
		return e.doChoose(ctx, cr, a, bindings)
	case "stop":
		return &stopInvocation{reason: a.Reason}
	case "repeat":
		return e.doRepeat(ctx, cr, a, bindings)
	default:
		return fmt.Errorf("automation: unknown action %q", a.Do)
	}
}

func (e *Engine) doPublish(ctx context.Context, a config.Action) error {
	if e.publisher == nil {
		return fmt.Errorf("automation: publish action but no publisher wired")
	}
	return e.publisher.Publish(ctx, a.Topic, []byte(a.Payload), a.Retain)
}

func (e *Engine) doSendPacket(ctx context.Context, a config.Action, bindings codec.Bindings) error {
	if e.writer == nil {
		return fmt.Errorf("automation: send_packet action but no writer wired")
	}
	payload := []byte(a.Data)
	if a.Expr != "" {
		if e.eval == nil {
			return fmt.Errorf("automation: send_packet expr but no evaluator wired")
		}
		merged := codec.Bindings{"states": e.statesSnapshot()}
		for k, v := range bindings {
			merged[k] = v
		}
		v, err := e.eval.Evaluate(ctx, a.Expr, merged, true)
		if err != nil {
			return fmt.Errorf("automation: send_packet expr: %w", err)
		}
		b, err := toByteSlice(v)
		if err != nil {
			return fmt.Errorf("automation: send_packet expr result: %w", err)
		}
		payload = b
	}

	header := a.Header
	if header == nil {
		header = e.defaults.TxHeader
	}
	footer := a.Footer
	if footer == nil {
		footer = e.defaults.TxFooter
	}
	frame := append([]byte{}, header...)
	frame = append(frame, payload...)

	if a.Checksum != "" {
		kind := config.ChecksumKind(a.Checksum)
		defaults := config.PacketDefaults{TxHeader: header, TxChecksum: kind}
		frame = checksum.AppendTx(defaults, frame)
	}
	frame = append(frame, footer...)
	return e.writer.Write(ctx, frame)
}

// toByteSlice accepts the evaluator's possible return shapes for
// send_packet's expr result.
func toByteSlice(v any) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		return x, nil
	case [][]byte:
		if len(x) == 0 {
			return nil, fmt.Errorf("empty alternative list")
		}
		return x[0], nil
	case []any:
		out := make([]byte, 0, len(x))
		for _, item := range x {
			switch n := item.(type) {
			case int:
				out = append(out, byte(n))
			case int64:
				out = append(out, byte(n))
			case float64:
				out = append(out, byte(n))
			default:
				return nil, fmt.Errorf("non-numeric element %T in byte sequence", item)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported expr result type %T", v)
	}
}

func (e *Engine) doCommand(ctx context.Context, a config.Action, bindings codec.Bindings) error {
	if e.assembler == nil {
		return fmt.Errorf("automation: command action but no assembler wired")
	}
	t, err := parseTarget(a.Target)
	if err != nil {
		return err
	}
	var arg any
	if t.hasArg {
		arg = literalArg(t.argRaw)
	}
	return e.assembler.Send(ctx, t.entityID, t.command, arg)
}

func (e *Engine) doDelay(ctx context.Context, a config.Action) error {
	d, err := config.ParseDuration(a.Delay)
	if err != nil {
		return fmt.Errorf("automation: delay action: %w", err)
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Engine) doIf(ctx context.Context, cr *compiledRule, a config.Action, bindings codec.Bindings) error {
	ok, err := e.evalCondition(ctx, a.Condition, bindings)
	if err != nil {
		return err
	}
	if ok {
		return e.runActions(ctx, cr, a.Then, bindings)
	}
	return e.runActions(ctx, cr, a.Else, bindings)
}

func (e *Engine) doChoose(ctx context.Context, cr *compiledRule, a config.Action, bindings codec.Bindings) error {
	for _, choice := range a.Choices {
		ok, err := e.evalCondition(ctx, choice.Condition, bindings)
		if err != nil {
			return err
		}
		if ok {
			return e.runActions(ctx, cr, choice.Then, bindings)
		}
	}
	return e.runActions(ctx, cr, a.Default, bindings)
}

func (e *Engine) doRepeat(ctx context.Context, cr *compiledRule, a config.Action, bindings codec.Bindings) error {
	if a.Times > 0 {
		for i := 0; i < a.Times; i++ {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := e.runActions(ctx, cr, a.Then, bindings); err != nil {
				return err
			}
		}
		return nil
	}
	if a.While == "" {
		return fmt.Errorf("automation: repeat action needs times or while")
	}
	for {
		ok, err := e.evalCondition(ctx, a.While, bindings)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := e.runActions(ctx, cr, a.Then, bindings); err != nil {
			return err
		}
	}
}

func (e *Engine) evalCondition(ctx context.Context, expr string, bindings codec.Bindings) (bool, error) {
	if expr == "" {
		return true, nil
	}
	if e.eval == nil {
		return false, fmt.Errorf("automation: condition %q needs an evaluator, none wired", expr)
	}
	merged := codec.Bindings{"states": e.statesSnapshot()}
	for k, v := range bindings {
		merged[k] = v
	}
	v, err := e.eval.Evaluate(ctx, expr, merged, true)
	if err != nil {
		e.log.Warn("automation condition evaluation failed", "condition", expr, "err", err)
		return false, nil
	}
	return truthyValue(v), nil
}

func truthyValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	default:
		return true
	}
}

// statesSnapshot exposes a read-only view of every entity's merged
// state to condition/lambda evaluation.
func (e *Engine) statesSnapshot() map[string]any {
	if e.registry == nil || e.store == nil {
		return map[string]any{}
	}
	out := make(map[string]any)
	for _, ent := range e.registry.AllEntityIDs() {
		if snap := e.store.Get(ent); snap != nil {
			out[ent] = snap
		}
	}
	return out
}
