// Package saga records compensating actions for a multi-step operation and
// unwinds them in reverse order.
package saga

import (
	"context"
	"errors"
	"fmt"
)

// Action undoes one completed step.
type Action func(ctx context.Context) error

// Compensation is a named Action.
type Compensation struct {
	Name string
	Run  Action
}

// Result is the outcome of one compensation.
type Result struct {
	Name string
	Err  error
}

// Stack holds compensations in the order their steps completed.
// It is not safe for concurrent use.
type Stack struct {
	items []Compensation
}

// Push records a compensation for a step that just succeeded.
func (s *Stack) Push(name string, run Action) {
	s.items = append(s.items, Compensation{Name: name, Run: run})
}

// Len returns the number of pending compensations.
func (s *Stack) Len() int {
	return len(s.items)
}

// Names returns the pending compensation names in push order.
func (s *Stack) Names() []string {
	names := make([]string, len(s.items))
	for i, c := range s.items {
		names[i] = c.Name
	}
	return names
}

// Unwind runs every compensation last-in first-out. A failing compensation
// does not stop the ones before it. The stack is empty afterwards.
func (s *Stack) Unwind(ctx context.Context) []Result {
	results := make([]Result, 0, len(s.items))
	for i := len(s.items) - 1; i >= 0; i-- {
		c := s.items[i]
		results = append(results, Result{Name: c.Name, Err: runSafe(ctx, c.Run)})
	}
	s.items = nil
	return results
}

// Errors joins the failed results, or returns nil.
func Errors(results []Result) error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name, r.Err))
		}
	}
	return errors.Join(errs...)
}

func runSafe(ctx context.Context, run Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compensation panicked: %v", r)
		}
	}()
	return run(ctx)
}
