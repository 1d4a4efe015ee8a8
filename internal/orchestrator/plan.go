package orchestrator

import (
	"fmt"

	"github.com/ahrav/go-discover/internal/agents"
	"github.com/ahrav/go-discover/internal/domain"
)

// Dispatch is an agent ready to run.
type Dispatch struct {
	Agent string
	Mode  agents.Mode
	// Degraded is set when a soft prerequisite ended without completing.
	Degraded bool
}

// Skip is an agent that can never run because a hard prerequisite failed.
type Skip struct {
	Agent  string
	Reason string
}

// Plan partitions the agents of an evaluation that have no execution row.
type Plan struct {
	Ready   []Dispatch
	Skipped []Skip
	Blocked []string
}

// Empty reports whether the plan has nothing to act on.
func (p Plan) Empty() bool { return len(p.Ready) == 0 && len(p.Skipped) == 0 }

// BuildPlan decides, for every expected agent without a row, whether it is
// ready, must be skipped, or is still waiting on a prerequisite.
func BuildPlan(reg *agents.Registry, expected []string, execs []domain.AgentExecution) Plan {
	status := make(map[string]domain.ExecutionStatus, len(execs))
	for _, e := range execs {
		status[e.AgentName] = e.Status
	}

	var plan Plan
	for _, name := range expected {
		if _, ok := status[name]; ok {
			continue
		}
		def, ok := reg.Definition(name)
		if !ok {
			continue
		}

		var (
			blocked  bool
			degraded bool
			skip     string
		)
		for _, p := range def.Prerequisites {
			st, ok := status[p.Agent]
			switch {
			case ok && st == domain.ExecutionCompleted:
			case ok && st.IsTerminal() && p.Kind == agents.Soft:
				degraded = true
			case ok && st.IsTerminal():
				skip = fmt.Sprintf("hard prerequisite %s ended %s", p.Agent, st)
			default:
				blocked = true
			}
		}

		switch {
		case skip != "":
			plan.Skipped = append(plan.Skipped, Skip{Agent: name, Reason: skip})
		case blocked:
			plan.Blocked = append(plan.Blocked, name)
		default:
			plan.Ready = append(plan.Ready, Dispatch{Agent: name, Mode: def.Mode, Degraded: degraded})
		}
	}
	return plan
}
