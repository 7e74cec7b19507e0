// Package continuity chains cleanup steps: Run steps execute regardless
// of earlier failures, Then steps only while nothing has failed, and Err
// reports every recorded failure rather than only the first. No other
// package in this module calls it at present.
package continuity

import "strings"

// Chain accumulates errors from a sequence of steps.
type Chain struct {
	failed errList
}

type errList []error

func (e errList) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	parts := make([]string, len(e))
	for i, err := range e {
		parts[i] = err.Error()
	}
	return "multiple cleanup errors: " + strings.Join(parts, "; ")
}

// New starts an empty chain.
func New() *Chain {
	return new(Chain)
}

// Run executes f unconditionally, recording its error if non-nil. Unlike
// Then, a failed step does not stop later Run calls: every cleanup step
// gets a chance to execute.
func (c *Chain) Run(f func() error) *Chain {
	if err := f(); err != nil {
		c.failed = append(c.failed, err)
	}
	return c
}

// Then runs f only if the chain has not yet failed. Use this for
// sequential steps where a later step depends on an earlier one having
// succeeded.
func (c *Chain) Then(f func() error) *Chain {
	if len(c.failed) > 0 {
		return c
	}
	if err := f(); err != nil {
		c.failed = append(c.failed, err)
	}
	return c
}

// Err returns nil if every step succeeded, the single error if exactly
// one failed, or a combined error describing all failures.
func (c *Chain) Err() error {
	if len(c.failed) == 0 {
		return nil
	}
	return c.failed
}
