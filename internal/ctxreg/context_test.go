package ctxreg_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edged/edged/internal/ctxreg"
)

func TestGetConstructsExactlyOnceUnderConcurrentAccess(t *testing.T) {
	ctx := ctxreg.New(nil)
	key := ctxreg.Key{Tag: "widget"}

	var calls int32
	ctx.Register(key, func(*ctxreg.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "built", nil
	})

	const n = 64
	var wg sync.WaitGroup
	results := make([]any, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = ctx.Get(key)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "constructor must run exactly once across concurrent Gets")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "built", results[i])
	}
}

func TestGetReturnsErrorWhenCellEmptyAndUnregistered(t *testing.T) {
	ctx := ctxreg.New(nil)
	_, err := ctx.Get(ctxreg.Key{Tag: "missing"})
	assert.Error(t, err)
}

func TestPutBypassesConstructor(t *testing.T) {
	ctx := ctxreg.New(nil)
	key := ctxreg.Key{Tag: "widget"}
	ctx.Register(key, func(*ctxreg.Context) (any, error) {
		t.Fatal("constructor should never run when Put already populated the cell")
		return nil, nil
	})
	ctx.Put(key, "preset")

	v, err := ctx.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "preset", v)
}

func TestConstructionErrorLeavesCellEmptyForRetry(t *testing.T) {
	ctx := ctxreg.New(nil)
	key := ctxreg.Key{Tag: "flaky"}

	var calls int32
	ctx.Register(key, func(*ctxreg.Context) (any, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return nil, errors.New("boom")
		}
		return "ok", nil
	})

	_, err := ctx.Get(key)
	assert.Error(t, err)

	v, err := ctx.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

type postInjectRecorder struct {
	injected bool
}

func (p *postInjectRecorder) PostInject(*ctxreg.Context) error {
	p.injected = true
	return nil
}

func TestGetRunsPostInjectBeforePopulatingCell(t *testing.T) {
	ctx := ctxreg.New(nil)
	key := ctxreg.Key{Tag: "pi"}
	rec := &postInjectRecorder{}
	ctx.Register(key, func(*ctxreg.Context) (any, error) {
		return rec, nil
	})

	v, err := ctx.Get(key)
	require.NoError(t, err)
	assert.Same(t, rec, v)
	assert.True(t, rec.injected)
}

type postInjectFailer struct{}

func (postInjectFailer) PostInject(*ctxreg.Context) error {
	return errors.New("post-inject failed")
}

func TestFailedPostInjectLeavesCellEmpty(t *testing.T) {
	ctx := ctxreg.New(nil)
	key := ctxreg.Key{Tag: "pi-fail"}
	ctx.Register(key, func(*ctxreg.Context) (any, error) {
		return postInjectFailer{}, nil
	})

	_, err := ctx.Get(key)
	assert.Error(t, err)

	var found bool
	ctx.ForEach(func(k ctxreg.Key, _ any) {
		if k == key {
			found = true
		}
	})
	assert.False(t, found, "a cell whose PostInject failed must never be considered populated")
}

func TestForEachVisitsOnlyPopulatedCells(t *testing.T) {
	ctx := ctxreg.New(nil)
	ctx.Put(ctxreg.Key{Tag: "a"}, 1)
	ctx.Put(ctxreg.Key{Tag: "b"}, 2)
	ctx.Register(ctxreg.Key{Tag: "c"}, func(*ctxreg.Context) (any, error) { return 3, nil })

	seen := map[string]any{}
	ctx.ForEach(func(k ctxreg.Key, v any) { seen[k.String()] = v })

	assert.Equal(t, map[string]any{"a": 1, "b": 2}, seen)
}
