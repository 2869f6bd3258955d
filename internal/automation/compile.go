package automation

import (
	"fmt"
	"time"

	"github.com/homenetio/bridge/internal/config"
	"github.com/homenetio/bridge/internal/cron"
)

// compiledRule pre-resolves everything about a config.Rule that would
// otherwise be re-parsed on every trigger evaluation.
type compiledRule struct {
	rule *config.Rule

	packetTriggers  []*config.StateSchema
	stateTriggers   []stateTrigger
	startupDelays   []time.Duration
	cronSchedules   []*cron.Schedule
	intervalTimers  []time.Duration
}

type stateTrigger struct {
	entityID string
	property string
	match    *config.MatchSpec
}

func compileRule(rule *config.Rule) (*compiledRule, error) {
	cr := &compiledRule{rule: rule}

	for _, t := range rule.Trigger {
		switch t.Platform {
		case "packet":
			schema, err := t.PacketMatch()
			if err != nil {
				return nil, fmt.Errorf("rule %s: packet trigger: %w", rule.ID, err)
			}
			cr.packetTriggers = append(cr.packetTriggers, schema)

		case "state":
			match, err := t.StateMatch()
			if err != nil {
				return nil, fmt.Errorf("rule %s: state trigger: %w", rule.ID, err)
			}
			cr.stateTriggers = append(cr.stateTriggers, stateTrigger{
				entityID: t.EntityID, property: t.Property, match: match,
			})

		case "startup":
			d, err := config.ParseDuration(t.Delay)
			if err != nil {
				return nil, fmt.Errorf("rule %s: startup trigger: %w", rule.ID, err)
			}
			cr.startupDelays = append(cr.startupDelays, d)

		case "time":
			switch {
			case t.Cron != "":
				sched, err := cron.Parse(t.Cron)
				if err != nil {
					return nil, fmt.Errorf("rule %s: time trigger cron: %w", rule.ID, err)
				}
				cr.cronSchedules = append(cr.cronSchedules, sched)
			case t.Interval != "":
				d, err := config.ParseDuration(t.Interval)
				if err != nil {
					return nil, fmt.Errorf("rule %s: time trigger interval: %w", rule.ID, err)
				}
				cr.intervalTimers = append(cr.intervalTimers, d)
			default:
				return nil, fmt.Errorf("rule %s: time trigger needs cron or interval", rule.ID)
			}

		default:
			return nil, fmt.Errorf("rule %s: unknown trigger platform %q", rule.ID, t.Platform)
		}
	}
	return cr, nil
}
