package aggtests

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/aggr-go/core/agg"
	"github.com/codewandler/aggr-go/core/agg/aggtests/domain"
)

func newCounterRepo(t *testing.T, opts ...agg.RepositoryOption) (*agg.TestingEnv, *agg.Repository[domain.Counter]) {
	t.Helper()
	te := agg.StartTestEnv(t, agg.WithEnvOpts(domain.CounterDefs()...))
	return te, agg.NewRepositoryIn(te.Env, domain.CounterType, domain.CounterReducer(), opts...)
}

func TestRepository_NotFound(t *testing.T) {
	_, repo := newCounterRepo(t)
	_, err := repo.Load(t.Context(), "nope")
	require.ErrorIs(t, err, agg.ErrAggregateNotFound)
}

func TestRepository_SaveLoad(t *testing.T) {
	_, repo := newCounterRepo(t)
	r := domain.CounterReducer()

	a, err := repo.GetOrNew(t.Context(), "c1")
	require.NoError(t, err)
	require.EqualValues(t, 0, a.Version)

	a, err = r.Fold(a,
		domain.Incremented.New(domain.Delta{Amount: 2}),
		domain.Decremented.New(domain.Delta{Amount: 1}),
	)
	require.NoError(t, err)
	require.True(t, a.Dirty())
	require.EqualValues(t, 2, a.Version)

	saved, err := repo.Save(t.Context(), a)
	require.NoError(t, err)
	require.False(t, saved.Dirty(), "save returns the committed snapshot")
	require.EqualValues(t, 2, saved.Version)

	// the input snapshot still carries its uncommitted changes
	require.True(t, a.Dirty())

	loaded, err := repo.Load(t.Context(), "c1", agg.WithUseCache(false))
	require.NoError(t, err)
	require.EqualValues(t, 2, loaded.Version)
	require.Equal(t, 1, loaded.State.Value)
	require.Equal(t, 2, loaded.State.NumTotalEvents)
	require.False(t, loaded.Dirty())
}

func TestRepository_SaveClean(t *testing.T) {
	_, repo := newCounterRepo(t)

	a := agg.NewAggregate[domain.Counter]("c1")
	saved, err := repo.Save(t.Context(), a)
	require.NoError(t, err)
	require.Equal(t, a, saved, "clean snapshot saves are a no-op")
}

func TestRepository_ConcurrencyConflict(t *testing.T) {
	_, repo := newCounterRepo(t)
	r := domain.CounterReducer()

	a, err := repo.GetOrNew(t.Context(), "c1")
	require.NoError(t, err)

	// two writers fold from the same base snapshot
	w1, err := r.Apply(a, domain.Incremented.New(domain.Delta{Amount: 1}))
	require.NoError(t, err)
	w2, err := r.Apply(a, domain.Incremented.New(domain.Delta{Amount: 2}))
	require.NoError(t, err)

	_, err = repo.Save(t.Context(), w1)
	require.NoError(t, err)

	_, err = repo.Save(t.Context(), w2)
	require.ErrorIs(t, err, agg.ErrConcurrencyConflict)
}

func TestRepository_WithTransaction(t *testing.T) {
	_, repo := newCounterRepo(t, agg.WithRepoCacheLRU(100))
	r := domain.CounterReducer()

	inc := func(a agg.Aggregate[domain.Counter]) (agg.Aggregate[domain.Counter], error) {
		return r.Apply(a, domain.Incremented.New(domain.Delta{Amount: 1}))
	}

	a, err := repo.WithTransaction(t.Context(), "c1", inc)
	require.NoError(t, err)
	require.EqualValues(t, 1, a.Version)
	require.Equal(t, 1, a.State.Value)

	const n = 10
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			// conflicting writers retry until their fold lands
			for {
				_, err := repo.WithTransaction(t.Context(), "c1", inc)
				if err == nil {
					return
				}
				if !assert.ErrorIs(t, err, agg.ErrConcurrencyConflict) {
					return
				}
				time.Sleep(time.Millisecond)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-time.After(5 * time.Second):
		t.Fatal("timeout")
	case <-done:
	}

	a, err = repo.Load(t.Context(), "c1", agg.WithUseCache(false))
	require.NoError(t, err)
	require.Equal(t, n+1, a.State.Value)
	require.EqualValues(t, n+1, a.Version)
}

func TestRepository_AccountCommands(t *testing.T) {
	te := agg.StartTestEnv(t, agg.WithEnvOpts(domain.AccountDefs()...))
	r := domain.AccountReducer()
	repo := agg.NewRepositoryIn(te.Env, domain.AccountType, r)

	a, err := repo.GetOrNew(t.Context(), "acc-1")
	require.NoError(t, err)

	// guards reject commands on an unopened account
	_, err = domain.Deposit(r, a, 100)
	require.Error(t, err)

	a, err = domain.OpenAccount(r, a, "DE-001", "Jane Doe")
	require.NoError(t, err)
	a, err = domain.Deposit(r, a, 100)
	require.NoError(t, err)
	a, err = domain.Withdraw(r, a, 30)
	require.NoError(t, err)

	_, err = domain.Withdraw(r, a, 1000)
	require.Error(t, err, "overdraft is rejected")

	_, err = domain.CloseAccount(r, a)
	require.Error(t, err, "unsettled balance blocks closing")

	a, err = domain.Withdraw(r, a, 70)
	require.NoError(t, err)
	a, err = domain.CloseAccount(r, a)
	require.NoError(t, err)

	saved, err := repo.Save(t.Context(), a)
	require.NoError(t, err)
	require.EqualValues(t, 5, saved.Version)

	loaded, err := repo.Load(t.Context(), "acc-1", agg.WithUseCache(false))
	require.NoError(t, err)
	require.Equal(t, domain.Account{
		Number: "DE-001",
		Owner:  "Jane Doe",
	}, *loaded.State)
	require.False(t, loaded.State.Open)
	require.EqualValues(t, 0, loaded.State.Balance)
}
