package presence

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOutbox_PutAndPending(t *testing.T) {
	o := NewOutbox(4, zap.NewNop())
	assert.Equal(t, 0, o.Pending())

	require.True(t, o.Put("alice", Update{Name: ptrStr("a")}))
	require.True(t, o.Put("bob", Update{Name: ptrStr("b")}))
	assert.Equal(t, 2, o.Pending())
}

func TestOutbox_MergesSameUser(t *testing.T) {
	o := NewOutbox(4, zap.NewNop())

	require.True(t, o.Put("alice", Update{Name: ptrStr("first")}))
	require.True(t, o.Put("alice", Update{Latitude: ptr(1), Longitude: ptr(2)}))
	assert.Equal(t, 1, o.Pending())

	var got Update
	o.Flush(context.Background(), func(_ context.Context, userID string, u Update) error {
		got = u
		return nil
	})
	// Merge keeps the earlier rename and adds the later fix.
	require.NotNil(t, got.Name)
	assert.Equal(t, "first", *got.Name)
	require.NotNil(t, got.Latitude)
	assert.Equal(t, 1.0, *got.Latitude)
}

func TestOutbox_FullRejectsNewUsers(t *testing.T) {
	o := NewOutbox(1, zap.NewNop())

	require.True(t, o.Put("alice", Update{Name: ptrStr("a")}))
	assert.False(t, o.Put("bob", Update{Name: ptrStr("b")}))
	// Existing users still merge when full.
	assert.True(t, o.Put("alice", Update{Name: ptrStr("a2")}))
	assert.Equal(t, 1, o.Pending())
}

func TestOutbox_FlushRemovesOnSuccess(t *testing.T) {
	o := NewOutbox(4, zap.NewNop())
	o.Put("alice", Update{Name: ptrStr("a")})

	o.Flush(context.Background(), func(_ context.Context, _ string, _ Update) error {
		return nil
	})
	assert.Equal(t, 0, o.Pending())
}

func TestOutbox_KeepsUpdateMergedDuringFlush(t *testing.T) {
	o := NewOutbox(4, zap.NewNop())
	o.Put("alice", Update{Name: ptrStr("a")})

	// A publish lands while the flush is applying the queued update.
	o.Flush(context.Background(), func(_ context.Context, _ string, _ Update) error {
		o.Put("alice", Update{Latitude: ptr(1), Longitude: ptr(2)})
		return nil
	})
	// The mid-flush merge must survive the successful apply.
	require.Equal(t, 1, o.Pending())

	var got Update
	o.Flush(context.Background(), func(_ context.Context, _ string, u Update) error {
		got = u
		return nil
	})
	assert.Equal(t, 0, o.Pending())
	require.NotNil(t, got.Latitude)
	assert.Equal(t, 1.0, *got.Latitude)
}

func TestOutbox_FlushBacksOffOnFailure(t *testing.T) {
	o := NewOutbox(4, zap.NewNop())
	o.Put("alice", Update{Name: ptrStr("a")})

	calls := 0
	fail := func(_ context.Context, _ string, _ Update) error {
		calls++
		return errors.New("db down")
	}

	o.Flush(context.Background(), fail)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, o.Pending())

	// Entry is backing off, so an immediate second flush must not retry it.
	o.Flush(context.Background(), fail)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, o.Pending())
}
