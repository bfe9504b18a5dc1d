package allocator_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/rmf-intake/internal/allocator"
	"github.com/spec-kit/rmf-intake/internal/clock"
	"github.com/spec-kit/rmf-intake/internal/domain"
	"github.com/spec-kit/rmf-intake/internal/repository"
)

const controlNumberPattern = `^RMF-[A-Z]+-\d{4}-\d{2}-\d{3,}$`

func setup(t *testing.T, now time.Time, codes ...string) (*repository.MemoryStore, *allocator.Allocator, map[string]domain.Category, *clock.FakeClock) {
	t.Helper()
	store := repository.NewMemoryStore()
	repos := store.Repositories()
	categories := map[string]domain.Category{}
	for _, code := range codes {
		c := domain.Category{Name: code, Code: code, IsActive: true}
		require.NoError(t, repos.Categories.Create(context.Background(), &c))
		categories[code] = c
	}
	clk := clock.Fake(now)
	return store, allocator.New(repos.Categories, repos.Sequences, clk, time.UTC), categories, clk
}

func TestAllocate_Format(t *testing.T) {
	_, alloc, categories, _ := setup(t, time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC), "ELEC")

	cn, err := alloc.Allocate(context.Background(), categories["ELEC"].ID)
	require.NoError(t, err)
	assert.Equal(t, "RMF-ELEC-2024-03-001", cn)
	assert.Regexp(t, controlNumberPattern, cn)
}

func TestAllocate_SequenceIsSharedAcrossCategories(t *testing.T) {
	_, alloc, categories, _ := setup(t, time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC), "ELEC", "PLUMB")
	ctx := context.Background()

	first, err := alloc.Allocate(ctx, categories["ELEC"].ID)
	require.NoError(t, err)
	second, err := alloc.Allocate(ctx, categories["PLUMB"].ID)
	require.NoError(t, err)

	assert.Equal(t, "RMF-ELEC-2024-03-001", first)
	assert.Equal(t, "RMF-PLUMB-2024-03-002", second)
}

func TestAllocate_ContinuesAfterExistingNumbers(t *testing.T) {
	store, alloc, categories, _ := setup(t, time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC), "ELEC")
	ctx := context.Background()
	elec := categories["ELEC"]

	for _, cn := range []string{"RMF-ELEC-2024-03-003", "RMF-ELEC-2024-03-004"} {
		ticket := &domain.Ticket{ControlNumber: cn, CategoryID: elec.ID, Status: domain.TicketStatusPending}
		require.NoError(t, store.Repositories().Tickets.Create(ctx, ticket))
	}

	cn, err := alloc.Allocate(ctx, elec.ID)
	require.NoError(t, err)
	assert.Equal(t, "RMF-ELEC-2024-03-005", cn)
}

func TestAllocate_NewMonthResets(t *testing.T) {
	_, alloc, categories, clk := setup(t, time.Date(2024, 3, 31, 23, 59, 0, 0, time.UTC), "ELEC")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := alloc.Allocate(ctx, categories["ELEC"].ID)
		require.NoError(t, err)
	}
	clk.Advance(2 * time.Minute)

	cn, err := alloc.Allocate(ctx, categories["ELEC"].ID)
	require.NoError(t, err)
	assert.Equal(t, "RMF-ELEC-2024-04-001", cn)
}

func TestAllocate_BucketFollowsLocation(t *testing.T) {
	store := repository.NewMemoryStore()
	repos := store.Repositories()
	c := domain.Category{Name: "Electrical", Code: "elec", IsActive: true}
	require.NoError(t, repos.Categories.Create(context.Background(), &c))

	manila := time.FixedZone("UTC+8", 8*3600)
	alloc := allocator.New(repos.Categories, repos.Sequences, clock.Fake(time.Date(2024, 3, 31, 17, 0, 0, 0, time.UTC)), manila)

	cn, err := alloc.Allocate(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "RMF-ELEC-2024-04-001", cn)
}

func TestAllocate_WidensPast999(t *testing.T) {
	_, alloc, categories, _ := setup(t, time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC), "ELEC")
	ctx := context.Background()

	var last string
	for i := 0; i < 1000; i++ {
		cn, err := alloc.Allocate(ctx, categories["ELEC"].ID)
		require.NoError(t, err)
		last = cn
	}
	assert.Equal(t, "RMF-ELEC-2024-03-1000", last)
	assert.Regexp(t, controlNumberPattern, last)
}

func TestAllocate_ConcurrentCallersGetDistinctNumbers(t *testing.T) {
	_, alloc, categories, _ := setup(t, time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC), "ELEC")
	ctx := context.Background()

	const callers = 50
	results := make(chan string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cn, err := alloc.Allocate(ctx, categories["ELEC"].ID)
			assert.NoError(t, err)
			results <- cn
		}()
	}
	wg.Wait()
	close(results)

	seen := map[string]bool{}
	for cn := range results {
		assert.Regexp(t, controlNumberPattern, cn)
		assert.False(t, seen[cn], "duplicate %s", cn)
		seen[cn] = true
	}
	assert.Len(t, seen, callers)
}

func TestAllocate_CategoryNotFound(t *testing.T) {
	store, alloc, _, _ := setup(t, time.Now(), "ELEC")
	ctx := context.Background()

	_, err := alloc.Allocate(ctx, "no-such-category")
	assert.ErrorIs(t, err, allocator.ErrCategoryNotFound)

	inactive := domain.Category{Name: "Retired", Code: "OLD", IsActive: false}
	require.NoError(t, store.Repositories().Categories.Create(ctx, &inactive))
	_, err = alloc.Allocate(ctx, inactive.ID)
	assert.ErrorIs(t, err, allocator.ErrCategoryNotFound)

	badCode := domain.Category{Name: "Numbers", Code: "B2", IsActive: true}
	require.NoError(t, store.Repositories().Categories.Create(ctx, &badCode))
	_, err = alloc.Allocate(ctx, badCode.ID)
	assert.ErrorIs(t, err, allocator.ErrCategoryNotFound)
}

type failingSequence struct{}

func (failingSequence) Next(context.Context, int, int) (int64, error) {
	return 0, errors.New("connection reset")
}

func TestAllocate_SequenceFailureIsNotCategoryError(t *testing.T) {
	store, _, categories, _ := setup(t, time.Now(), "ELEC")
	alloc := allocator.New(store.Repositories().Categories, failingSequence{}, nil, nil)

	_, err := alloc.Allocate(context.Background(), categories["ELEC"].ID)
	require.Error(t, err)
	assert.NotErrorIs(t, err, allocator.ErrCategoryNotFound)
}
