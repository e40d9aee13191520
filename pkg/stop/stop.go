// Package stop implements a pattern for shutting down a group of processes.
package stop

import (
	"sync"
)

// Result is the channel a Stopper reports its shutdown outcome on.
// The channel yields every error encountered and is closed when the
// shutdown is finished; a clean shutdown yields no errors.
type Result <-chan error

// Wait blocks until the shutdown finished and collects all errors.
func (r Result) Wait() []error {
	var errs []error
	for err := range r {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// AlreadyStopped is a closed Result to be returned by components that were
// stopped before.
var AlreadyStopped Result

func init() {
	closeMe := make(chan error)
	close(closeMe)
	AlreadyStopped = closeMe
}

// Stopper is an interface that allows a clean shutdown.
//
// Stop should return immediately and perform the actual shutdown in a
// separate goroutine, reporting through the returned Result.
type Stopper interface {
	Stop() Result
}

// Func is a function that can be used to provide a clean shutdown.
type Func func() Result

// Channel is the producer side of a Result.
type Channel chan error

// Done reports the provided errors (nil errors are ignored) and closes the
// channel, marking the shutdown as finished.
func (ch Channel) Done(errs ...error) {
	for _, err := range errs {
		if err != nil {
			ch <- err
		}
	}
	close(ch)
}

// Result converts the producer side into the consumer side.
// Channels created with a zero buffer must have Done called from another
// goroutine than the one waiting.
func (ch Channel) Result() Result {
	return Result((<-chan error)(ch))
}

// Group is a collection of Stoppers that can be stopped all at once.
type Group struct {
	stoppables []Func
	sync.Mutex
}

// NewGroup allocates a new Group.
func NewGroup() *Group {
	return &Group{}
}

// Add appends a Stopper to the Group.
func (cg *Group) Add(toAdd Stopper) {
	cg.Lock()
	defer cg.Unlock()
	cg.stoppables = append(cg.stoppables, toAdd.Stop)
}

// AddFunc appends a Func to the Group.
func (cg *Group) AddFunc(toAddFunc Func) {
	cg.Lock()
	defer cg.Unlock()
	cg.stoppables = append(cg.stoppables, toAddFunc)
}

// Stop stops all members of the Group concurrently and funnels their
// errors into the returned Result.
func (cg *Group) Stop() Result {
	cg.Lock()
	defer cg.Unlock()

	c := make(Channel)
	results := make([]Result, 0, len(cg.stoppables))
	for _, toStop := range cg.stoppables {
		r := toStop()
		if r == nil {
			panic("received a nil Result from Stop")
		}
		results = append(results, r)
	}

	go func() {
		var errs []error
		for _, r := range results {
			errs = append(errs, r.Wait()...)
		}
		c.Done(errs...)
	}()

	return c.Result()
}
