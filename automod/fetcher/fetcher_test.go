package fetcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/forgeguard/forgeguard/forge"

	"github.com/stretchr/testify/assert"
)

type sleepRecorder struct {
	calls []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return ctx.Err()
}

func accountsByID(ids ...int64) []forge.Account {
	out := make([]forge.Account, len(ids))
	for i, id := range ids {
		out[i] = forge.FakeAccount(id, fmt.Sprintf("user%d", id))
	}
	return out
}

func accountRange(from, to int64) []forge.Account {
	var ids []int64
	for id := from; id <= to; id++ {
		ids = append(ids, id)
	}
	return accountsByID(ids...)
}

func ids(accts []forge.Account) []int64 {
	out := make([]int64, len(accts))
	for i, a := range accts {
		out[i] = a.ID
	}
	return out
}

func testFetcher(client forge.Client, limit int) (*Fetcher, *sleepRecorder) {
	rec := &sleepRecorder{}
	f := NewFetcher(client, limit, nil)
	f.Sleep = rec.sleep
	return f, rec
}

func testBudget(limit int) (*Budget, *sleepRecorder) {
	rec := &sleepRecorder{}
	b := NewBudget("test", limit, time.Minute)
	b.Sleep = rec.sleep
	return b, rec
}

func TestFetchNewestWatermark(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	client := forge.NewMockClient(accountsByID(5, 7, 9)...)
	f, _ := testFetcher(client, 100)
	budget, _ := testBudget(100)

	var wm Watermark
	wm.Advance(7)
	out, err := f.FetchNewest(ctx, budget, &wm)
	assert.NoError(err)
	assert.Equal([]int64{9}, ids(out))
	assert.Equal(int64(9), wm.Load())

	out, err = f.FetchNewest(ctx, budget, &wm)
	assert.NoError(err)
	assert.Empty(out)
	assert.Equal(int64(9), wm.Load())
	assert.Equal(2, budget.Used())
}

func TestFetchNewestPaging(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	client := forge.NewMockClient(accountRange(1, 250)...)
	f, _ := testFetcher(client, 100)
	budget, _ := testBudget(100)

	var wm Watermark
	out, err := f.FetchNewest(ctx, budget, &wm)
	assert.NoError(err)
	assert.Len(out, 250)
	assert.Equal(int64(250), out[0].ID)
	assert.Equal(int64(250), wm.Load())
	assert.Equal(3, client.ListCalls)

	// a page with nothing above the watermark ends the cycle
	client.ListCalls = 0
	var wm2 Watermark
	wm2.Advance(200)
	out, err = f.FetchNewest(ctx, budget, &wm2)
	assert.NoError(err)
	assert.Len(out, 50)
	assert.Equal(2, client.ListCalls)
}

func TestWatermarkNeverDecreases(t *testing.T) {
	assert := assert.New(t)
	var wm Watermark
	assert.True(wm.Advance(9))
	assert.False(wm.Advance(5))
	assert.False(wm.Advance(9))
	assert.Equal(int64(9), wm.Load())
}

func TestFetchUpdatedStopsAtWindow(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	client := forge.NewMockClient()
	client.Updated = accountsByID(10, 3, 8, 1, 2)
	f, _ := testFetcher(client, 100)
	budget, _ := testBudget(100)

	win := NewWindow(7)
	win.Update([]int64{8, 1, 2})
	out, err := f.FetchUpdated(ctx, budget, win)
	assert.NoError(err)
	assert.Equal([]int64{10, 3}, ids(out))
	assert.Equal([]int64{10, 3, 8, 1, 2}, win.IDs())

	// nothing changed since: caught up at the first account
	out, err = f.FetchUpdated(ctx, budget, win)
	assert.NoError(err)
	assert.Empty(out)
}

func TestFetchUpdatedStopsMidPage(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	client := forge.NewMockClient()
	client.Updated = accountRange(1, 100)
	f, _ := testFetcher(client, 10)
	budget, _ := testBudget(100)

	win := NewWindow(7)
	win.Update([]int64{15, 16})
	out, err := f.FetchUpdated(ctx, budget, win)
	assert.NoError(err)
	assert.Len(out, 14)
	assert.Equal(2, client.ListCalls)
	assert.Equal([]int64{1, 2, 3, 4, 5, 6, 7}, win.IDs())
}

func TestWindowUpdate(t *testing.T) {
	assert := assert.New(t)

	win := NewWindow(7)
	win.Update([]int64{1, 2, 3, 4, 5, 6, 7, 8})
	assert.Equal([]int64{1, 2, 3, 4, 5, 6, 7}, win.IDs())

	win.Update([]int64{9, 2})
	assert.Equal([]int64{9, 2, 1, 3, 4, 5, 6}, win.IDs())
	assert.True(win.Contains(6))
	assert.False(win.Contains(7))

	win.Update(nil)
	assert.Equal([]int64{9, 2, 1, 3, 4, 5, 6}, win.IDs())
}

func TestWindowForget(t *testing.T) {
	assert := assert.New(t)

	win := NewWindow(3)
	win.Update([]int64{20, 21})
	win.Update([]int64{1, 2, 3, 4, 5})
	assert.Equal([]int64{1, 2, 3}, win.IDs())

	// the whole window was purged: refill from the rest of the fetch
	win.Forget(1, 2, 3)
	assert.Equal([]int64{4, 5, 20}, win.IDs())

	// then from the previous window
	win.Forget(4, 5)
	assert.Equal([]int64{20, 21}, win.IDs())

	win.Forget()
	assert.Equal([]int64{20, 21}, win.IDs())
}

func TestFetchRetries(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	boom := errors.New("connection reset")
	client := forge.NewMockClient(accountsByID(1, 2)...)
	client.ListErrs = []error{boom, boom, nil}
	f, rec := testFetcher(client, 100)
	f.RetryBase = time.Second
	budget, _ := testBudget(100)

	var wm Watermark
	out, err := f.FetchNewest(ctx, budget, &wm)
	assert.NoError(err)
	assert.Equal([]int64{2, 1}, ids(out))
	assert.Equal([]time.Duration{time.Second, 2 * time.Second}, rec.calls)
	// every attempt costs a request
	assert.Equal(3, budget.Used())
}

func TestFetchRetriesExhausted(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	boom := errors.New("bad gateway")
	client := forge.NewMockClient(accountsByID(1, 2)...)
	client.ListErrs = []error{boom, boom, boom}
	f, rec := testFetcher(client, 100)
	f.MaxRetries = 3
	f.RetryBase = time.Second
	budget, _ := testBudget(100)

	var wm Watermark
	wm.Advance(1)
	out, err := f.FetchNewest(ctx, budget, &wm)
	assert.ErrorIs(err, ErrRetriesExhausted)
	assert.ErrorIs(err, boom)
	assert.Nil(out)
	assert.Equal(int64(1), wm.Load())
	assert.Equal([]time.Duration{time.Second, 2 * time.Second}, rec.calls)

	// next cycle recovers
	out, err = f.FetchNewest(ctx, budget, &wm)
	assert.NoError(err)
	assert.Equal([]int64{2}, ids(out))
}

func TestBudgetWaitsFullWindow(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	budget, rec := testBudget(2)
	assert.NoError(budget.Take(ctx, 1))
	assert.NoError(budget.Take(ctx, 1))
	assert.Empty(rec.calls)
	assert.NoError(budget.Take(ctx, 1))
	assert.Equal([]time.Duration{time.Minute}, rec.calls)
	assert.Equal(1, budget.Used())

	// lookahead: room for 1 but not 2
	assert.NoError(budget.Wait(ctx, 2))
	assert.Len(rec.calls, 2)
	assert.Equal(0, budget.Used())
}

func TestBudgetCancelled(t *testing.T) {
	assert := assert.New(t)
	ctx, cancel := context.WithCancel(context.Background())

	budget := NewBudget("test", 1, time.Hour)
	assert.NoError(budget.Take(ctx, 1))
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := budget.Take(ctx, 1)
	assert.ErrorIs(err, context.Canceled)
	assert.Equal(1, budget.Used())
}

func TestFetchWaitsForBudget(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	client := forge.NewMockClient(accountRange(1, 30)...)
	f, _ := testFetcher(client, 10)
	budget, rec := testBudget(2)

	var wm Watermark
	out, err := f.FetchNewest(ctx, budget, &wm)
	assert.NoError(err)
	assert.Len(out, 30)
	// three full pages plus the empty fourth: one window wait after every two requests
	assert.Equal(4, client.ListCalls)
	assert.Len(rec.calls, 1)
}

func TestSweep(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	client := forge.NewMockClient(accountRange(1, 25)...)
	f, _ := testFetcher(client, 10)
	budget, _ := testBudget(100)

	var pages [][]int64
	err := f.Sweep(ctx, budget, func(ctx context.Context, page []forge.Account) (int, error) {
		pages = append(pages, ids(page))
		return 0, nil
	})
	assert.NoError(err)
	assert.Len(pages, 3)
	assert.Equal(int64(1), pages[0][0])
	assert.Equal([]int64{21, 22, 23, 24, 25}, pages[2])

	stop := errors.New("stop")
	calls := 0
	err = f.Sweep(ctx, budget, func(ctx context.Context, page []forge.Account) (int, error) {
		calls++
		return 0, stop
	})
	assert.ErrorIs(err, stop)
	assert.Equal(1, calls)
}

func TestSweepWithRemovals(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	client := forge.NewMockClient(accountRange(1, 25)...)
	f, _ := testFetcher(client, 10)
	budget, _ := testBudget(100)

	// ban every third account, which drops it from the listing
	var seen []int64
	err := f.Sweep(ctx, budget, func(ctx context.Context, page []forge.Account) (int, error) {
		removed := 0
		for _, a := range page {
			seen = append(seen, a.ID)
			if a.ID%3 == 0 {
				assert.NoError(client.BanAccount(ctx, a.Username, forge.BanPurge))
				removed++
			}
		}
		return removed, nil
	})
	assert.NoError(err)
	assert.Equal(ids(accountRange(1, 25)), seen)
	assert.Equal(8, client.BanCount())
}

func TestPrime(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	client := forge.NewMockClient(accountRange(1, 40)...)
	f, _ := testFetcher(client, 10)
	budget, _ := testBudget(100)

	var wm Watermark
	assert.NoError(f.PrimeNewest(ctx, budget, &wm))
	assert.Equal(int64(40), wm.Load())

	win := NewWindow(7)
	assert.NoError(f.PrimeUpdated(ctx, budget, win))
	assert.Equal([]int64{40, 39, 38, 37, 36, 35, 34}, win.IDs())

	// empty forge leaves the watermark at zero
	var empty Watermark
	ef, _ := testFetcher(forge.NewMockClient(), 10)
	assert.NoError(ef.PrimeNewest(ctx, budget, &empty))
	assert.Equal(int64(0), empty.Load())
}
