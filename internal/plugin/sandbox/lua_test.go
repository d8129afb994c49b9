package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/plugkit/internal/plugin/security"
)

func newLua(t *testing.T, perms ...security.Permission) *Sandbox {
	t.Helper()
	sb := New("lua-test", security.NewSet(perms...), WithCallTimeout(5*time.Second))
	t.Cleanup(sb.Destroy)
	return sb
}

func TestHookReturnsValue(t *testing.T) {
	ctx := context.Background()
	sb := newLua(t, security.PermReadData)

	require.NoError(t, sb.Execute(ctx, `
		function onConfigChange(ctx)
			return ctx.config.limit * 2
		end
	`, map[string]any{"limit": 3}))

	v, err := sb.ExecuteHook(ctx, "onConfigChange", map[string]any{"limit": 21})
	require.NoError(t, err)
	assert.EqualValues(t, 42, v)

	v, err = sb.ExecuteHook(ctx, "onConfigChange", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 6, v)
}

func TestCapabilityRoundTrip(t *testing.T) {
	ctx := context.Background()
	sb := newLua(t, security.PermReadData)
	sb.RegisterHandler(security.MethodDataRead, func(_ context.Context, args []any) (any, error) {
		return map[string]any{"v": "stored " + args[0].(string)}, nil
	})

	require.NoError(t, sb.Execute(ctx, `
		local M = {}
		function M.get(ctx, key) return ctx.api.data.read(key).v end
		function M.put(ctx) ctx.api.data.write("k", 1) end
		return M
	`, nil))

	v, err := sb.CallFunction(ctx, "get", "report")
	require.NoError(t, err)
	assert.Equal(t, "stored report", v)

	_, err = sb.CallFunction(ctx, "put")
	assert.ErrorIs(t, err, security.ErrPermissionDenied)
	assert.ErrorIs(t, err, ErrExecution)

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "call put", execErr.Op)
}

func TestMissingExport(t *testing.T) {
	ctx := context.Background()
	sb := newLua(t, security.PermReadData)
	require.NoError(t, sb.Execute(ctx, `x = 1`, nil))

	_, err := sb.ExecuteHook(ctx, "onActivate", nil)
	assert.ErrorIs(t, err, ErrExecution)
	assert.Contains(t, err.Error(), "not exported")
}

func TestSyntaxErrorFailsExecute(t *testing.T) {
	sb := newLua(t, security.PermReadData)
	err := sb.Execute(context.Background(), `function (`, nil)
	assert.ErrorIs(t, err, ErrExecution)
}

func TestDestroyStopsRunawayCode(t *testing.T) {
	sb := New("spin", security.NewSet(security.PermReadData), WithCallTimeout(0))

	done := make(chan error, 1)
	go func() {
		done <- sb.Execute(context.Background(), `while true do end`, nil)
	}()

	require.Eventually(t, func() bool { return sb.Pending() == 1 }, time.Second, time.Millisecond)
	// let init finish and the loop start
	time.Sleep(20 * time.Millisecond)
	sb.Destroy()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrDestroyed)
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not return after Destroy")
	}
}

func TestNotifyRunsListener(t *testing.T) {
	ctx := context.Background()
	sb := newLua(t, security.PermReadData)

	subs := make(chan uint64, 1)
	sets := make(chan []any, 1)
	sb.RegisterHandler(security.MethodEventsOn, func(_ context.Context, args []any) (any, error) {
		subs <- args[1].(uint64)
		return nil, nil
	})
	sb.RegisterHandler(security.MethodStorageSet, func(_ context.Context, args []any) (any, error) {
		sets <- args
		return nil, nil
	})

	require.NoError(t, sb.Execute(ctx, `
		local ctx = ...
		ctx.events.on("ping", function(p) ctx.storage.set("got", p) end)
	`, nil))

	var sub uint64
	select {
	case sub = <-subs:
	case <-time.After(time.Second):
		t.Fatal("no events.on host call")
	}

	require.NoError(t, sb.Notify(ctx, sub, "hello", false))
	select {
	case args := <-sets:
		assert.Equal(t, []any{"got", "hello"}, args)
	case <-time.After(time.Second):
		t.Fatal("listener did not run")
	}
}
