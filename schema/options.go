package schema

// ExecutionMode selects how referential fan-out runs.
type ExecutionMode string

const (
	// ModeSync runs all fan-out inside the root mutation's transaction.
	ModeSync ExecutionMode = "sync"
	// ModeAsync runs fan-out in bounded batches continued via scheduled
	// jobs.
	ModeAsync ExecutionMode = "async"
)

// Defaults carries the runtime limits recognized on DefineSchema.
type Defaults struct {
	// DefaultLimit is the hard upper bound on unpaginated findMany result
	// size.
	DefaultLimit int
	// MutationBatchSize is the page size for bounded reads inside
	// mutations, and for recursive cascade fan-out in async mode.
	MutationBatchSize int
	// MutationLeafBatchSize is the async page size for non-recursive
	// fan-out (set null, set default, update cascade).
	MutationLeafBatchSize int
	// MutationMaxRows caps rows touched per root mutation; exceeding it in
	// sync mode fails fast.
	MutationMaxRows int
	// MutationMaxBytesPerBatch is the byte budget per async batch,
	// measured as JSON size times a safety factor.
	MutationMaxBytesPerBatch int
	// MutationScheduleCallCap bounds scheduler.runAfter calls per root
	// mutation in async mode.
	MutationScheduleCallCap int
	// MutationExecutionMode selects the fan-out strategy.
	MutationExecutionMode ExecutionMode
	// MutationAsyncDelayMs is the delay passed when enqueuing a
	// continuation.
	MutationAsyncDelayMs int64
}

// Options configures a schema.
type Options struct {
	// Strict forbids read/write full scans unless allowFullScan is
	// requested; relaxed mode warns and allows.
	Strict   bool
	Defaults Defaults
}

// DefaultOptions returns the baseline configuration: strict mode with
// conservative limits.
func DefaultOptions() Options {
	return Options{
		Strict: true,
		Defaults: Defaults{
			DefaultLimit:             1024,
			MutationBatchSize:        64,
			MutationLeafBatchSize:    64,
			MutationMaxRows:          8192,
			MutationMaxBytesPerBatch: 4 << 20,
			MutationScheduleCallCap:  16,
			MutationExecutionMode:    ModeSync,
			MutationAsyncDelayMs:     0,
		},
	}
}

// fillDefaults replaces zero-valued limits with the baseline values.
func (o *Options) fillDefaults() {
	base := DefaultOptions().Defaults
	d := &o.Defaults
	if d.DefaultLimit == 0 {
		d.DefaultLimit = base.DefaultLimit
	}
	if d.MutationBatchSize == 0 {
		d.MutationBatchSize = base.MutationBatchSize
	}
	if d.MutationLeafBatchSize == 0 {
		d.MutationLeafBatchSize = base.MutationLeafBatchSize
	}
	if d.MutationMaxRows == 0 {
		d.MutationMaxRows = base.MutationMaxRows
	}
	if d.MutationMaxBytesPerBatch == 0 {
		d.MutationMaxBytesPerBatch = base.MutationMaxBytesPerBatch
	}
	if d.MutationScheduleCallCap == 0 {
		d.MutationScheduleCallCap = base.MutationScheduleCallCap
	}
	if d.MutationExecutionMode == "" {
		d.MutationExecutionMode = ModeSync
	}
}
