package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestStoreLifecycle(t *testing.T) {
	stub := &stubAgent{
		generateSpec: goodSpec(),
		generateRaw:  `{}`,
		insights:     "done",
	}
	engine := NewEngine(stub, newTestStore(t), nil, nil, 2)
	store := NewRequestStore(engine)

	id := store.Submit("client-1", "power by brand")
	require.NotEmpty(t, id)

	state, ok := store.Get(id)
	require.True(t, ok)
	assert.Equal(t, id, state.RequestID)

	require.Eventually(t, func() bool {
		state, _ := store.Get(id)
		return state.Status == StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	state, _ = store.Get(id)
	require.NotNil(t, state.Result)
	assert.Equal(t, "done", state.Result.Insights)
}

func TestRequestStoreFailure(t *testing.T) {
	stub := &stubAgent{
		generateSpec:   badSpec(),
		regenerateSpec: badSpec(),
	}
	engine := NewEngine(stub, newTestStore(t), nil, nil, 1)
	store := NewRequestStore(engine)

	id := store.Submit("client-1", "power by region")

	require.Eventually(t, func() bool {
		state, _ := store.Get(id)
		return state.Status == StatusError
	}, 5*time.Second, 10*time.Millisecond)

	state, _ := store.Get(id)
	assert.Contains(t, state.Error, "unknown column")
}

func TestRequestStoreGetDuringCompletion(t *testing.T) {
	stub := &stubAgent{
		generateSpec: goodSpec(),
		generateRaw:  `{}`,
		insights:     "done",
	}
	engine := NewEngine(stub, newTestStore(t), nil, nil, 2)
	store := NewRequestStore(engine)

	id := store.Submit("client-1", "power by brand")

	// Poll continuously while the background goroutine finishes. Status and
	// Result are published together, so a completed state must always carry
	// a result.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		state, ok := store.Get(id)
		require.True(t, ok)
		switch state.Status {
		case StatusProcessing:
			assert.Nil(t, state.Result)
		case StatusCompleted:
			require.NotNil(t, state.Result)
			assert.Equal(t, "done", state.Result.Insights)
			return
		default:
			t.Fatalf("unexpected status %q", state.Status)
		}
	}
	t.Fatal("request never completed")
}

func TestRequestStoreUnknownID(t *testing.T) {
	engine := NewEngine(&stubAgent{}, newTestStore(t), nil, nil, 0)
	store := NewRequestStore(engine)

	_, ok := store.Get("nope")
	assert.False(t, ok)
}

func TestRequestStoreSweep(t *testing.T) {
	engine := NewEngine(&stubAgent{generateSpec: goodSpec(), insights: "x"}, newTestStore(t), nil, nil, 0)
	store := NewRequestStore(engine)

	id := store.Submit("client-1", "power by brand")
	require.Eventually(t, func() bool {
		state, _ := store.Get(id)
		return state.Status != StatusProcessing
	}, 5*time.Second, 10*time.Millisecond)

	// Not yet expired.
	store.sweep(time.Now())
	_, ok := store.Get(id)
	assert.True(t, ok)

	// Past the TTL it goes away.
	store.sweep(time.Now().Add(store.ttl + time.Minute))
	_, ok = store.Get(id)
	assert.False(t, ok)
}
