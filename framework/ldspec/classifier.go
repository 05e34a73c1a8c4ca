package ldspec

import (
	"time"

	"github.com/launchdarkly/spec-harness/framework"
)

// Classifier runs user code and turns whatever it does into structured state. A normal return is
// success. A required assertion failure is a normal unwind of the case body. Anything else, a
// returned hook error or a panic, becomes a Failure.
type Classifier struct {
	DebugLogger framework.Logger
}

// RunHook runs one hook for a node. It returns nil if the hook is nil or succeeded.
func (cl Classifier) RunHook(slot Slot, hook Hook, scope *Scope) (failure *Failure) {
	if hook == nil {
		return nil
	}
	logger := framework.OrNullLogger(cl.DebugLogger)
	logger.Printf("Running %s for %s", slot, scope.node.id)
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(requiredFailure); ok {
				failure = nil
				return
			}
			failure = &Failure{Slot: slot, Traceback: tracebackFromPanic(r, nil)}
			logger.Printf("%s failed for %s: %s", slot, scope.node.id, failure.Traceback.Message)
		}
	}()
	if err := hook(scope); err != nil {
		logger.Printf("%s failed for %s: %s", slot, scope.node.id, err)
		return &Failure{Slot: slot, Traceback: tracebackFromError(err, hook)}
	}
	return nil
}

// RunBody runs a case body. It returns false if the body panicked with anything other than a
// required assertion failure, in which case the failure has been attached to the case.
func (cl Classifier) RunBody(t *T, body func(*T)) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			if _, isRequired := r.(requiredFailure); isRequired {
				ok = true
				return
			}
			t.c.attachFailure(Failure{Slot: SlotCase, Traceback: tracebackFromPanic(r, t.helperFns)})
			ok = false
		}
	}()
	body(t)
	return true
}

// ExecuteCase runs one case within its node: before_each, then the body, then after_each.
// Skipped and incomplete cases are left untouched. A before_each failure means the body and
// after_each do not run. In a dry run nothing is executed and the case passes.
//
// ExecuteCase does not mark the case completed; the caller decides when the result is final.
func ExecuteCase(cl Classifier, scope *Scope, c *Case, dryRun bool) Status {
	if c.Skipped() || c.Incomplete() {
		return c.Status()
	}
	if dryRun {
		now := time.Now()
		c.setTimes(now, now)
		return c.Status()
	}
	t := newT(c, scope)
	defer t.finish()
	hooks := scope.node.hooks

	if f := cl.RunHook(SlotBeforeEach, hooks.beforeEach, scope); f != nil {
		c.attachFailure(*f)
		return c.Status()
	}
	start := time.Now()
	cl.RunBody(t, c.template.Body)
	c.setTimes(start, time.Now())
	if f := cl.RunHook(SlotAfterEach, hooks.afterEach, scope); f != nil {
		c.attachFailure(*f)
	}
	return c.Status()
}
