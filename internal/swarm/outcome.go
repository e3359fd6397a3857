package swarm

import (
	"errors"
	"time"
)

// Outcome is one agent's result for one dispatched command.
type Outcome struct {
	Index    int
	AgentID  uint64
	Addr     string
	Value    any
	Err      error
	Duration time.Duration
}

func (o Outcome) OK() bool {
	return o.Err == nil
}

// Results holds outcomes in target order.
type Results []Outcome

// Failed returns the outcomes that carry an error.
func (rs Results) Failed() Results {
	var out Results
	for _, o := range rs {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// OK reports whether every outcome succeeded.
func (rs Results) OK() bool {
	for _, o := range rs {
		if o.Err != nil {
			return false
		}
	}
	return true
}

// Err joins the per-agent errors, or returns nil.
func (rs Results) Err() error {
	var errs []error
	for _, o := range rs {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errors.Join(errs...)
}
