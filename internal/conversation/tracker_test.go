package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkDeliveredSkipsOwnMessages(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	seed(t, store, "c", StatusActive, t0)
	addMsg(t, store, "c", SenderUser, "cust", "hi", t0)
	addMsg(t, store, "c", SenderAdmin, "rep", "hello", t0.Add(time.Second))

	n, err := NewTracker(store).MarkDelivered(ctx, "c", "rep")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	msgs, _ := store.ListMessages(ctx, "c")
	assert.Equal(t, []string{"rep"}, msgs[0].DeliveredTo)
	assert.Empty(t, msgs[1].DeliveredTo)
}

func TestMarksAreIdempotentAndMonotonic(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	seed(t, store, "c", StatusActive, t0)
	for i := 0; i < 3; i++ {
		addMsg(t, store, "c", SenderUser, "cust", "m", t0.Add(time.Duration(i)*time.Second))
	}
	tr := NewTracker(store)

	sizes := func() (d, r int) {
		msgs, _ := store.ListMessages(ctx, "c")
		for _, m := range msgs {
			d += len(m.DeliveredTo)
			r += len(m.ReadBy)
		}
		return
	}

	steps := []func() (int, error){
		func() (int, error) { return tr.MarkRead(ctx, "c", "rep") },
		func() (int, error) { return tr.MarkDelivered(ctx, "c", "rep") },
		func() (int, error) { return tr.MarkRead(ctx, "c", "rep") },
		func() (int, error) { return tr.MarkDelivered(ctx, "c", "ai") },
		func() (int, error) { return tr.MarkDelivered(ctx, "c", "rep") },
	}
	prevD, prevR := sizes()
	for _, step := range steps {
		_, err := step()
		require.NoError(t, err)
		d, r := sizes()
		assert.GreaterOrEqual(t, d, prevD)
		assert.GreaterOrEqual(t, r, prevR)
		prevD, prevR = d, r
	}
	assert.Equal(t, 6, prevD)
	assert.Equal(t, 3, prevR)

	n, err := tr.MarkRead(ctx, "c", "rep")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConcurrentMarksConverge(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	seed(t, store, "c", StatusActive, t0)
	addMsg(t, store, "c", SenderAI, "ai", "m", t0)
	tr := NewTracker(store)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = tr.MarkRead(ctx, "c", "cust")
		}()
	}
	wg.Wait()
	msgs, _ := store.ListMessages(ctx, "c")
	assert.Equal(t, []string{"cust"}, msgs[0].ReadBy)
}

func TestMarkUnknownConversation(t *testing.T) {
	_, err := NewTracker(NewInMemoryStore()).MarkRead(context.Background(), "nope", "rep")
	assert.Error(t, err)
}

func TestStatusFor(t *testing.T) {
	m := &Message{DeliveredTo: []string{"a", "b"}, ReadBy: []string{"b", "c"}}
	assert.Equal(t, DisplayDelivered, StatusFor(m, "a"))
	assert.Equal(t, DisplayRead, StatusFor(m, "b"))
	assert.Equal(t, DisplayRead, StatusFor(m, "c"))
	assert.Equal(t, DisplaySent, StatusFor(m, "d"))
}
