package sandbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/plugkit/internal/plugin/rpc"
	"github.com/dshills/plugkit/internal/plugin/security"
)

// fakeUnit builds a Runner that hands every decoded request to fn. fn
// runs on the unit goroutine and answers through reply.
func fakeUnit(fn func(m *rpc.Message, reply func(*rpc.Message))) Runner {
	return func(ctx context.Context, in <-chan []byte, out chan<- []byte) {
		reply := func(m *rpc.Message) {
			raw, err := rpc.Encode(m)
			if err != nil {
				panic(err)
			}
			select {
			case out <- raw:
			case <-ctx.Done():
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-in:
				if !ok {
					return
				}
				m, err := rpc.Decode(raw)
				if err != nil {
					continue
				}
				fn(m, reply)
			}
		}
	}
}

func newFake(t *testing.T, perms security.Set, fn func(*rpc.Message, func(*rpc.Message)), opts ...Option) *Sandbox {
	t.Helper()
	sb := New("fake", perms, append([]Option{WithRunner(fakeUnit(fn))}, opts...)...)
	t.Cleanup(sb.Destroy)
	return sb
}

func TestOutOfOrderReplies(t *testing.T) {
	const n = 8
	var held []*rpc.Message

	sb := newFake(t, 0, func(m *rpc.Message, reply func(*rpc.Message)) {
		held = append(held, m)
		if len(held) < n {
			return
		}
		for i := len(held) - 1; i >= 0; i-- {
			reply(&rpc.Message{ID: held[i].ID, Type: rpc.TypeResult, Result: held[i].Args[0]})
		}
	})

	var wg sync.WaitGroup
	results := make([]any, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = sb.CallFunction(context.Background(), "echo", i+1)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.EqualValues(t, i+1, results[i])
	}
	assert.Zero(t, sb.Pending())
}

func TestDestroyRejectsPending(t *testing.T) {
	const n = 5
	sb := newFake(t, 0, func(*rpc.Message, func(*rpc.Message)) {})

	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := sb.CallFunction(context.Background(), "never")
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return sb.Pending() == n }, time.Second, time.Millisecond)

	sb.Destroy()
	for i := 0; i < n; i++ {
		assert.ErrorIs(t, <-errs, ErrDestroyed)
	}
	assert.True(t, sb.Destroyed())

	_, err := sb.CallFunction(context.Background(), "after")
	assert.ErrorIs(t, err, ErrDestroyed)
	assert.ErrorIs(t, sb.Notify(context.Background(), 1, nil, false), ErrDestroyed)

	sb.Destroy()
}

func TestCallTimeout(t *testing.T) {
	var slowID uint64
	sb := newFake(t, 0, func(m *rpc.Message, reply func(*rpc.Message)) {
		if m.Data[rpc.KeyName] == "slow" {
			slowID = m.ID
			return
		}
		reply(&rpc.Message{ID: m.ID, Type: rpc.TypeResult, Result: "fast"})
		if slowID != 0 {
			reply(&rpc.Message{ID: slowID, Type: rpc.TypeResult, Result: "late"})
		}
	}, WithCallTimeout(50*time.Millisecond))

	_, err := sb.CallFunction(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrCallTimeout)
	assert.Zero(t, sb.Pending())

	v, err := sb.CallFunction(context.Background(), "quick")
	require.NoError(t, err)
	assert.Equal(t, "fast", v)
	assert.False(t, sb.Destroyed())
}

func TestCallerContextCancel(t *testing.T) {
	sb := newFake(t, 0, func(*rpc.Message, func(*rpc.Message)) {}, WithCallTimeout(0))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := sb.CallFunction(ctx, "never")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, sb.Pending())
}

// relayUnit issues a host call named by the first argument of each
// callFunction and reports the host's answer as the call's outcome.
func relayUnit() func(*rpc.Message, func(*rpc.Message)) {
	const hostCallBase = 1000
	waiting := map[uint64]uint64{}
	var next uint64 = hostCallBase

	return func(m *rpc.Message, reply func(*rpc.Message)) {
		switch m.Type {
		case rpc.TypeCallFunction:
			next++
			waiting[next] = m.ID
			reply(&rpc.Message{ID: next, Type: rpc.TypeHostCall, Method: m.Args[0].(string), Args: m.Args[1:]})
		case rpc.TypeHostResponse:
			id := waiting[m.ID]
			delete(waiting, m.ID)
			if m.Error != "" {
				reply(&rpc.Message{ID: id, Type: rpc.TypeError, Error: m.Error})
				return
			}
			reply(&rpc.Message{ID: id, Type: rpc.TypeResult, Result: m.Result})
		}
	}
}

func TestHostEnforcesPermissions(t *testing.T) {
	var writes atomic.Int32
	sb := newFake(t, security.NewSet(security.PermReadData), relayUnit())
	sb.RegisterHandler(security.MethodDataWrite, func(context.Context, []any) (any, error) {
		writes.Add(1)
		return nil, nil
	})
	sb.RegisterHandler(security.MethodDataRead, func(_ context.Context, args []any) (any, error) {
		return "value of " + args[0].(string), nil
	})

	_, err := sb.CallFunction(context.Background(), "relay", "data.write", "k", "v")
	require.Error(t, err)
	assert.ErrorIs(t, err, security.ErrPermissionDenied)
	assert.ErrorIs(t, err, ErrExecution)
	assert.Zero(t, writes.Load())

	v, err := sb.CallFunction(context.Background(), "relay", "data.read", "k")
	require.NoError(t, err)
	assert.Equal(t, "value of k", v)
}

func TestHostCallFailures(t *testing.T) {
	sb := newFake(t, security.NewSet(security.AllPermissions()...), relayUnit())
	sb.RegisterHandler(security.MethodUtilsHash, func(context.Context, []any) (any, error) {
		panic("broken handler")
	})
	sb.RegisterHandler(security.MethodDataRead, func(context.Context, []any) (any, error) {
		return nil, errors.New("backend offline")
	})

	tests := []struct {
		method string
		want   string
	}{
		{"fs.readFile", ErrUnknownMethod.Error()},
		{"ui.showModal", ErrNoHandler.Error()},
		{"utils.hash", "handler panicked"},
		{"data.read", "backend offline"},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			_, err := sb.CallFunction(context.Background(), "relay", tt.method)
			var execErr *ExecutionError
			require.ErrorAs(t, err, &execErr)
			assert.Contains(t, execErr.Message, tt.want)
			assert.Equal(t, "call relay", execErr.Op)
		})
	}
}

func TestHandlerErrorsBecomeHostCallErrors(t *testing.T) {
	errBackend := errors.New("backend offline")
	sb := newFake(t, security.NewSet(security.AllPermissions()...), relayUnit())
	sb.RegisterHandler(security.MethodDataRead, func(context.Context, []any) (any, error) {
		return nil, errBackend
	})
	sb.RegisterHandler(security.MethodDataWrite, func(context.Context, []any) (any, error) {
		return nil, &security.PermissionError{Permission: security.PermWriteData, Method: security.MethodDataWrite}
	})

	_, err := sb.dispatch("data.read", nil)
	var hc *HostCallError
	require.ErrorAs(t, err, &hc)
	assert.Equal(t, "data.read", hc.Method)
	assert.ErrorIs(t, err, errBackend)
	assert.Equal(t, "host call data.read: backend offline", err.Error())

	_, err = sb.dispatch("data.write", nil)
	assert.ErrorIs(t, err, security.ErrPermissionDenied)
	assert.False(t, errors.As(err, &hc), "denials keep their own type")
}

func TestExecutionErrorUnwrap(t *testing.T) {
	plain := &ExecutionError{Plugin: "p", Op: "execute", Message: "boom"}
	assert.ErrorIs(t, plain, ErrExecution)
	assert.NotErrorIs(t, plain, security.ErrPermissionDenied)

	denied := &ExecutionError{Plugin: "p", Op: "call", Message: `p:1: permission denied: data.write requires "write-data"`}
	assert.ErrorIs(t, denied, security.ErrPermissionDenied)

	hc := &HostCallError{Method: "x.y", Err: ErrUnknownMethod}
	assert.ErrorIs(t, hc, ErrUnknownMethod)
}
