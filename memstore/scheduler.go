package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"dorm/host"
)

// Handler consumes one scheduled function invocation.
type Handler func(ctx context.Context, args map[string]any) error

// Scheduler queues scheduled function calls in memory. Jobs run when the
// owner pumps the queue with RunDue or Drain; nothing runs spontaneously.
// Delivered args go through a JSON round trip, matching the transport the
// contract assumes (plain JSON that strips undefined values).
type Scheduler struct {
	mu       sync.Mutex
	seq      int64
	jobs     []*job
	handlers map[host.FunctionRef]Handler
}

type job struct {
	id   host.ScheduleID
	due  int64
	ref  host.FunctionRef
	args map[string]any
}

// NewScheduler builds an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{handlers: make(map[host.FunctionRef]Handler)}
}

// Register binds a function reference to its handler.
func (s *Scheduler) Register(ref host.FunctionRef, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[ref] = h
}

// RunAfter enqueues a run of ref at now + delayMs.
func (s *Scheduler) RunAfter(_ context.Context, delayMs int64, ref host.FunctionRef, args map[string]any) (host.ScheduleID, error) {
	return s.enqueue(time.Now().UnixMilli()+delayMs, ref, args)
}

// RunAt enqueues a run of ref at the given wall-clock millisecond.
func (s *Scheduler) RunAt(_ context.Context, timestampMs int64, ref host.FunctionRef, args map[string]any) (host.ScheduleID, error) {
	return s.enqueue(timestampMs, ref, args)
}

func (s *Scheduler) enqueue(due int64, ref host.FunctionRef, args map[string]any) (host.ScheduleID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	j := &job{
		id:   host.ScheduleID(fmt.Sprintf("job-%d", s.seq)),
		due:  due,
		ref:  ref,
		args: args,
	}
	s.jobs = append(s.jobs, j)
	return j.id, nil
}

// Cancel removes a queued job; cancelling an unknown id is a no-op.
func (s *Scheduler) Cancel(_ context.Context, id host.ScheduleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, j := range s.jobs {
		if j.id == id {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			break
		}
	}
	return nil
}

// Pending reports the number of queued jobs.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// RunDue pops every currently queued job (in due order) and runs it once.
// Jobs the handlers enqueue stay queued for the next pump. Returns the
// number of jobs run.
func (s *Scheduler) RunDue(ctx context.Context) (int, error) {
	s.mu.Lock()
	batch := s.jobs
	s.jobs = nil
	s.mu.Unlock()

	sort.SliceStable(batch, func(i, j int) bool { return batch[i].due < batch[j].due })
	for n, j := range batch {
		h := s.handler(j.ref)
		if h == nil {
			return n, fmt.Errorf("memstore: no handler registered for %q", j.ref)
		}
		args, err := transportRoundTrip(j.args)
		if err != nil {
			return n, err
		}
		if err := h(ctx, args); err != nil {
			return n, fmt.Errorf("memstore: scheduled %q: %w", j.ref, err)
		}
	}
	return len(batch), nil
}

// Drain pumps RunDue until the queue is empty, following continuation
// chains. It gives up after maxRounds pumps to bound runaway chains.
func (s *Scheduler) Drain(ctx context.Context, maxRounds int) (int, error) {
	if maxRounds <= 0 {
		maxRounds = 1000
	}
	total := 0
	for round := 0; round < maxRounds; round++ {
		n, err := s.RunDue(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if s.Pending() == 0 {
			return total, nil
		}
	}
	return total, fmt.Errorf("memstore: scheduler did not drain after %d rounds", maxRounds)
}

func (s *Scheduler) handler(ref host.FunctionRef) Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers[ref]
}

// transportRoundTrip pushes args through JSON, the way the real transport
// would deliver them.
func transportRoundTrip(args map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("memstore: marshal scheduled args: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("memstore: unmarshal scheduled args: %w", err)
	}
	return out, nil
}
