package domainctx

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domaincache "github.com/sitepulse/domain-cache"
	"github.com/sitepulse/domain-cache/record"
	"github.com/sitepulse/domain-cache/store"
)

type fakeRecorder struct {
	mu      sync.Mutex
	rows    map[string]*record.Record // keyed by userID + "/" + domain
	inserts int
	updates int
	err     error
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{rows: make(map[string]*record.Record)}
}

func (f *fakeRecorder) GetByUserDomain(_ context.Context, userID, domain string) (*record.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.rows[userID+"/"+domain]
	if !ok {
		return nil, record.ErrNotFound
	}
	return rec, nil
}

func (f *fakeRecorder) Insert(_ context.Context, userID, domain string, dc *domaincache.DomainContext) (*record.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.inserts++
	rec := &record.Record{
		ID:      fmt.Sprintf("rec-%d", len(f.rows)+1),
		UserID:  userID,
		Domain:  domain,
		Context: dc.Clone(),
	}
	f.rows[userID+"/"+domain] = rec
	return rec, nil
}

func (f *fakeRecorder) UpdateByID(_ context.Context, id string, dc *domaincache.DomainContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, rec := range f.rows {
		if rec.ID == id {
			f.updates++
			rec.Context = dc.Clone()
			return nil
		}
	}
	return record.ErrNotFound
}

type fakeRemote struct {
	mu          sync.Mutex
	fetchResult *domaincache.DomainContext
	fetchErr    error
	updateErr   error
	fetches     int
	updates     int
	updated     chan struct{}
}

func (f *fakeRemote) FetchContext(context.Context, string) (*domaincache.DomainContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.fetchResult.Clone(), nil
}

func (f *fakeRemote) UpdateContext(context.Context, string, *domaincache.DomainContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.updated != nil {
		close(f.updated)
		f.updated = nil
	}
	return f.updateErr
}

type fakeExtractor struct {
	result *domaincache.DomainContext
	err    error
}

func (f *fakeExtractor) Extract(context.Context, string) (*domaincache.DomainContext, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result.Clone(), nil
}

type fixture struct {
	manager   *Manager
	store     *store.Store
	kv        *store.Memory
	recorder  *fakeRecorder
	remote    *fakeRemote
	extractor *fakeExtractor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kv := store.NewMemory()
	s := store.NewStore(kv)
	recorder := newFakeRecorder()
	remote := &fakeRemote{}
	extractor := &fakeExtractor{}
	return &fixture{
		manager:   NewManager(s, recorder, remote, extractor),
		store:     s,
		kv:        kv,
		recorder:  recorder,
		remote:    remote,
		extractor: extractor,
	}
}

func TestForDomain_HydratesFromLocalStorage(t *testing.T) {
	f := newFixture(t)

	f.store.Set(domaincache.ContextPrefix+"acme.example",
		&domaincache.DomainContext{BusinessName: "Acme Bakery"}, "")

	c := f.manager.ForDomain("https://www.acme.example")
	require.NotNil(t, c)
	assert.Equal(t, "acme.example", c.Domain())
	assert.Equal(t, StateLocalHydrated, c.State())
	assert.Equal(t, "Acme Bakery", c.Context().BusinessName)
	assert.Equal(t, 1, c.FilledCount())
}

func TestForDomain_NoLocalData(t *testing.T) {
	f := newFixture(t)

	c := f.manager.ForDomain("fresh.example")
	require.NotNil(t, c)
	assert.Equal(t, StateUninitialized, c.State())
	assert.Nil(t, c.Context())
	assert.Zero(t, c.FilledCount())
}

func TestForDomain_SameInstancePerDomain(t *testing.T) {
	f := newFixture(t)

	a := f.manager.ForDomain("acme.example")
	b := f.manager.ForDomain("https://www.acme.example/path")
	assert.Same(t, a, b)

	other := f.manager.ForDomain("other.example")
	assert.NotSame(t, a, other)

	assert.Nil(t, f.manager.ForDomain("  "))
}

func TestDomainsDoNotShareState(t *testing.T) {
	f := newFixture(t)

	a := f.manager.ForDomain("a.com")
	b := f.manager.ForDomain("b.com")

	f.remote.fetchResult = &domaincache.DomainContext{BusinessName: "A Corp"}
	require.NoError(t, a.Fetch(context.Background(), ""))

	// Fetching a.com must not leak into b.com's cache.
	assert.Equal(t, "A Corp", a.Context().BusinessName)
	assert.Equal(t, StateUninitialized, b.State())
	assert.Nil(t, b.Context())
	assert.Equal(t, "a.com", a.Snapshot().Domain)
	assert.Equal(t, "b.com", b.Snapshot().Domain)
}

func TestConcurrentFetchesKeepDomainsIsolated(t *testing.T) {
	f := newFixture(t)
	f.remote.fetchResult = &domaincache.DomainContext{Industry: "retail"}

	domains := []string{"a.com", "b.com", "c.com", "d.com"}
	var wg sync.WaitGroup
	errs := make(chan error, len(domains)*50)

	for _, domain := range domains {
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c := f.manager.ForDomain(domain)
				if err := c.Fetch(context.Background(), ""); err != nil {
					errs <- err
					return
				}
				if snap := c.Snapshot(); snap.Domain != domain {
					errs <- fmt.Errorf("fetched %s, snapshot says %s", domain, snap.Domain)
				}
			}()
		}
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	for _, domain := range domains {
		assert.Equal(t, domain, f.manager.ForDomain(domain).Context().Domain)
	}
}

func TestFetch_RemoteFallbackAndCacheWrite(t *testing.T) {
	f := newFixture(t)
	f.remote.fetchResult = &domaincache.DomainContext{BusinessName: "Acme", Industry: "food"}

	c := f.manager.ForDomain("acme.example")
	require.NoError(t, c.Fetch(context.Background(), ""))

	assert.Equal(t, StateReconciled, c.State())
	assert.Equal(t, 2, c.FilledCount())

	// The reconciled context was persisted for the next hydration.
	dc, ok := store.GetAs[*domaincache.DomainContext](f.store,
		domaincache.ContextPrefix+"acme.example", time.Hour)
	require.True(t, ok)
	assert.Equal(t, "Acme", dc.BusinessName)
}

func TestFetch_PrefersOwnedRecord(t *testing.T) {
	f := newFixture(t)
	_, err := f.recorder.Insert(context.Background(), "user-1", "acme.example",
		&domaincache.DomainContext{BusinessName: "Owned Name"})
	require.NoError(t, err)
	f.remote.fetchResult = &domaincache.DomainContext{BusinessName: "Remote Name"}

	c := f.manager.ForDomain("acme.example")
	require.NoError(t, c.Fetch(context.Background(), "user-1"))

	assert.Equal(t, "Owned Name", c.Context().BusinessName)
	assert.Zero(t, f.remote.fetches)
}

func TestFetch_MergePolicyKeepsPopulatedContext(t *testing.T) {
	f := newFixture(t)

	// In-memory context with five filled fields.
	f.store.Set(domaincache.ContextPrefix+"acme.example", &domaincache.DomainContext{
		BusinessName: "Acme",
		Industry:     "food",
		City:         "Utrecht",
		Email:        "hi@acme.example",
		Phone:        "+31 30 1234567",
	}, "")
	c := f.manager.ForDomain("acme.example")
	require.Equal(t, 5, c.FilledCount())

	// Remote transiently reports an empty profile.
	f.remote.fetchResult = &domaincache.DomainContext{}
	require.NoError(t, c.Fetch(context.Background(), ""))

	assert.Equal(t, 5, c.FilledCount())
	assert.Equal(t, StateReconciled, c.State())
}

func TestFetch_BothEmptyBecomesEmptyContext(t *testing.T) {
	f := newFixture(t)
	f.remote.fetchResult = nil

	c := f.manager.ForDomain("new.example")
	require.NoError(t, c.Fetch(context.Background(), ""))

	assert.Equal(t, StateReconciled, c.State())
	require.NotNil(t, c.Context())
	assert.Zero(t, c.FilledCount())
}

func TestFetch_FailureKeepsCachedData(t *testing.T) {
	f := newFixture(t)
	f.store.Set(domaincache.ContextPrefix+"acme.example",
		&domaincache.DomainContext{BusinessName: "Acme"}, "")
	f.remote.fetchErr = fmt.Errorf("service unavailable")

	c := f.manager.ForDomain("acme.example")
	err := c.Fetch(context.Background(), "")
	require.Error(t, err)

	assert.Equal(t, StateFetchFailed, c.State())
	assert.Contains(t, c.LastError(), "service unavailable")
	// Cached data degrades gracefully instead of clearing.
	assert.Equal(t, "Acme", c.Context().BusinessName)
}

func TestUpdate_RequiresActor(t *testing.T) {
	f := newFixture(t)
	c := f.manager.ForDomain("acme.example")

	err := c.Update(context.Background(), "", &domaincache.DomainContext{BusinessName: "X"})
	require.ErrorIs(t, err, ErrNoActor)
	assert.Zero(t, f.recorder.inserts)
	assert.Zero(t, f.recorder.updates)
}

func TestUpdate_InsertsWhenAbsent(t *testing.T) {
	f := newFixture(t)
	f.remote.updated = make(chan struct{})
	updated := f.remote.updated

	c := f.manager.ForDomain("acme.example")
	require.NoError(t, c.Update(context.Background(), "user-1",
		&domaincache.DomainContext{BusinessName: "Acme"}))

	assert.Equal(t, 1, f.recorder.inserts)
	assert.Equal(t, "Acme", c.Context().BusinessName)
	assert.Equal(t, StateReconciled, c.State())

	// Local cache updated immediately on success.
	dc, ok := store.GetAs[*domaincache.DomainContext](f.store,
		domaincache.ContextPrefix+"acme.example", time.Hour)
	require.True(t, ok)
	assert.Equal(t, "Acme", dc.BusinessName)

	// Best-effort propagation fires in the background.
	select {
	case <-updated:
	case <-time.After(2 * time.Second):
		t.Fatal("remote propagation never fired")
	}
}

func TestUpdate_ReadModifyWriteOverOwnedRecord(t *testing.T) {
	f := newFixture(t)
	_, err := f.recorder.Insert(context.Background(), "user-1", "acme.example",
		&domaincache.DomainContext{BusinessName: "Acme", City: "Utrecht"})
	require.NoError(t, err)

	c := f.manager.ForDomain("acme.example")
	require.NoError(t, c.Update(context.Background(), "user-1",
		&domaincache.DomainContext{Email: "hi@acme.example"}))

	assert.Equal(t, 1, f.recorder.updates)
	got := c.Context()
	assert.Equal(t, "Acme", got.BusinessName)
	assert.Equal(t, "Utrecht", got.City)
	assert.Equal(t, "hi@acme.example", got.Email)
}

func TestUpdate_RemoteFailureNeverSurfaces(t *testing.T) {
	f := newFixture(t)
	f.remote.updated = make(chan struct{})
	updated := f.remote.updated
	f.remote.updateErr = fmt.Errorf("replication down")

	c := f.manager.ForDomain("acme.example")
	require.NoError(t, c.Update(context.Background(), "user-1",
		&domaincache.DomainContext{BusinessName: "Acme"}))

	<-updated
	assert.Empty(t, c.LastError())
}

func TestAutoFill(t *testing.T) {
	t.Run("success replaces context wholesale", func(t *testing.T) {
		f := newFixture(t)
		f.store.Set(domaincache.ContextPrefix+"acme.example",
			&domaincache.DomainContext{BusinessName: "Old", City: "Utrecht"}, "")
		f.extractor.result = &domaincache.DomainContext{
			BusinessName:         "Acme Bakery",
			ExtractionConfidence: map[string]float64{"business_name": 0.95},
		}

		c := f.manager.ForDomain("acme.example")
		require.NoError(t, c.AutoFill(context.Background()))

		assert.True(t, c.HasAutoFilled())
		got := c.Context()
		assert.Equal(t, "Acme Bakery", got.BusinessName)
		// Wholesale replacement, not a merge.
		assert.Empty(t, got.City)
	})

	t.Run("failure leaves prior context untouched", func(t *testing.T) {
		f := newFixture(t)
		f.store.Set(domaincache.ContextPrefix+"acme.example",
			&domaincache.DomainContext{BusinessName: "Acme"}, "")
		f.extractor.err = fmt.Errorf("crawl blocked")

		c := f.manager.ForDomain("acme.example")
		err := c.AutoFill(context.Background())
		require.Error(t, err)

		assert.False(t, c.HasAutoFilled())
		assert.Equal(t, "Acme", c.Context().BusinessName)
		assert.Contains(t, c.LastError(), "crawl blocked")
	})

	t.Run("nil extraction result is an error", func(t *testing.T) {
		f := newFixture(t)
		f.store.Set(domaincache.ContextPrefix+"acme.example",
			&domaincache.DomainContext{BusinessName: "Acme"}, "")
		// result and err both nil: a misbehaving implementation.

		c := f.manager.ForDomain("acme.example")
		err := c.AutoFill(context.Background())
		require.Error(t, err)

		assert.False(t, c.HasAutoFilled())
		assert.Equal(t, "Acme", c.Context().BusinessName)
		assert.Contains(t, c.LastError(), "no data")
	})
}

func TestProgressPercentDerived(t *testing.T) {
	f := newFixture(t)
	c := f.manager.ForDomain("acme.example")
	assert.Zero(t, c.ProgressPercent())

	require.NoError(t, c.Update(context.Background(), "user-1",
		&domaincache.DomainContext{BusinessName: "Acme"}))
	assert.InDelta(t, 100.0/domaincache.ContextFieldCount, c.ProgressPercent(), 0.001)
}
