package orm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dorm/expr"
	"dorm/host"
	"dorm/schema"
)

func asyncOpts(mutate func(*schema.Options)) func(*schema.Options) {
	return func(o *schema.Options) {
		o.Defaults.MutationExecutionMode = schema.ModeAsync
		if mutate != nil {
			mutate(o)
		}
	}
}

func TestAsyncCascadeDeleteContinues(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, cascadeTables(schema.ActionCascade), asyncOpts(func(o *schema.Options) {
		o.Defaults.MutationMaxRows = 2
		o.Defaults.MutationBatchSize = 2
	}))
	userID := seedUserWithMemberships(t, env, 3)

	// The first transaction removes the root plus one bounded batch and
	// enqueues a continuation for the rest.
	require.NoError(t, deleteUser(ctx, env, userID))
	assert.Zero(t, env.store.Len("users"))
	assert.Equal(t, 1, env.store.Len("memberships"), "third child awaits the continuation")
	require.Equal(t, 1, env.sched.Pending())

	_, err := env.sched.Drain(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, env.store.Len("memberships"))
}

func TestAsyncLeafActionUsesLeafBatchSize(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, cascadeTables(schema.ActionSetNull), asyncOpts(func(o *schema.Options) {
		o.Defaults.MutationLeafBatchSize = 2
	}))
	userID := seedUserWithMemberships(t, env, 5)

	require.NoError(t, deleteUser(ctx, env, userID))
	require.NotZero(t, env.sched.Pending())

	_, err := env.sched.Drain(ctx, 0)
	require.NoError(t, err)

	rows, err := env.orm.Query("memberships").AllowFullScan().FindMany(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	for _, row := range rows {
		v, present := row["user_id"]
		assert.True(t, present)
		assert.Nil(t, v)
	}
}

func TestAsyncByteBudgetTrimsBatch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, cascadeTables(schema.ActionCascade), asyncOpts(func(o *schema.Options) {
		o.Defaults.MutationBatchSize = 10
		// Tiny byte budget: one row per batch even though the row budget
		// allows ten. Byte budget precedes row budget.
		o.Defaults.MutationMaxBytesPerBatch = 1
	}))
	userID := seedUserWithMemberships(t, env, 3)

	require.NoError(t, deleteUser(ctx, env, userID))
	assert.Equal(t, 2, env.store.Len("memberships"), "byte budget trimmed the first batch to one row")

	_, err := env.sched.Drain(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, env.store.Len("memberships"))
}

func TestAsyncScheduleCallCap(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, cascadeTables(schema.ActionCascade), asyncOpts(func(o *schema.Options) {
		o.Defaults.MutationBatchSize = 1
		o.Defaults.MutationScheduleCallCap = 1
	}))
	// Two distinct users, each with children, force two continuations in
	// one root mutation.
	u1 := seedUserWithMemberships(t, env, 3)
	u2 := seedUserWithMemberships(t, env, 3)

	_, err := env.orm.Delete("users").
		Where(expr.InArray(expr.Ref(host.FieldID), []any{u1, u2})).
		Execute(ctx)
	require.Error(t, err)
	assert.ErrorContains(t, err, "mutationScheduleCallCap")
}

func TestScheduledDeleteTokenSafety(t *testing.T) {
	ctx := context.Background()

	t.Run("worker deletes when token matches", func(t *testing.T) {
		env := newTestEnv(t, cascadeTables(schema.ActionCascade), nil)
		userID := seedUserWithMemberships(t, env, 2)

		_, err := env.orm.Delete("users").
			Where(expr.Eq(expr.Ref(host.FieldID), userID)).
			Scheduled(500).
			Execute(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, env.store.Len("users"), "root only marked until the worker runs")
		require.Equal(t, 1, env.sched.Pending())

		_, err = env.sched.Drain(ctx, 0)
		require.NoError(t, err)
		assert.Zero(t, env.store.Len("users"))
		assert.Zero(t, env.store.Len("memberships"), "worker drives the fan-out")
	})

	t.Run("token mismatch leaves the row intact", func(t *testing.T) {
		env := newTestEnv(t, cascadeTables(schema.ActionCascade), nil)
		userID := seedUserWithMemberships(t, env, 1)

		_, err := env.orm.Delete("users").
			Where(expr.Eq(expr.Ref(host.FieldID), userID)).
			Scheduled(500).
			Execute(ctx)
		require.NoError(t, err)

		// Clearing deletionTime before the worker runs invalidates the
		// token; the worker must no-op.
		require.NoError(t, env.store.Patch(ctx, userID, host.Document{FieldDeletionTime: host.Unset}))

		_, err = env.sched.Drain(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, env.store.Len("users"), "row left intact")
		assert.Equal(t, 1, env.store.Len("memberships"))
	})

	t.Run("worker is idempotent under redelivery", func(t *testing.T) {
		env := newTestEnv(t, cascadeTables(schema.ActionCascade), nil)
		userID := seedUserWithMemberships(t, env, 1)

		_, err := env.orm.Delete("users").
			Where(expr.Eq(expr.Ref(host.FieldID), userID)).
			Scheduled(0).
			Execute(ctx)
		require.NoError(t, err)

		row, err := env.store.Get(ctx, userID)
		require.NoError(t, err)
		args := (&host.ScheduledDeleteArgs{
			Table:        "users",
			ID:           userID,
			CascadeMode:  "hard",
			DeletionTime: row[FieldDeletionTime].(float64),
		}).ToWire()

		require.NoError(t, env.orm.HandleScheduledDelete(ctx, args))
		require.NoError(t, env.orm.HandleScheduledDelete(ctx, args), "second delivery no-ops")
		assert.Zero(t, env.store.Len("users"))
	})
}

func TestMutationBatchWorkerIdempotence(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, cascadeTables(schema.ActionCascade), asyncOpts(func(o *schema.Options) {
		o.Defaults.MutationBatchSize = 2
	}))
	userID := seedUserWithMemberships(t, env, 5)

	require.NoError(t, deleteUser(ctx, env, userID))

	args := (&host.MutationBatchArgs{
		WorkType:             host.WorkCascadeDelete,
		Operation:            "delete",
		Table:                "memberships",
		ForeignIndexName:     "by_user",
		ForeignSourceColumns: []string{"user_id"},
		TargetValues:         []any{string(userID)},
		ForeignAction:        "cascade",
		CascadeMode:          "hard",
		BatchSize:            2,
		MaxBytesPerBatch:     1 << 20,
	}).ToWire()

	// Each call reads the current state from the cursor, so repeated
	// delivery converges instead of corrupting.
	for i := 0; i < 4; i++ {
		require.NoError(t, env.orm.HandleScheduledMutationBatch(ctx, args))
	}
	assert.Zero(t, env.store.Len("memberships"))
}

func TestAsyncSoftCascadeMode(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, cascadeTables(schema.ActionCascade), asyncOpts(func(o *schema.Options) {
		o.Defaults.MutationBatchSize = 1
	}))
	userID := seedUserWithMemberships(t, env, 3)

	_, err := env.orm.Delete("users").
		Where(expr.Eq(expr.Ref(host.FieldID), userID)).
		Soft().
		Execute(ctx)
	require.NoError(t, err)

	_, err = env.sched.Drain(ctx, 0)
	require.NoError(t, err)

	assert.Equal(t, 3, env.store.Len("memberships"), "soft cascade keeps rows")
	rows, err := env.orm.Query("memberships").AllowFullScan().FindMany(ctx)
	require.NoError(t, err)
	for _, row := range rows {
		assert.NotNil(t, row[FieldDeletionTime], "children marked")
	}
}
