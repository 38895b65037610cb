package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrchestrator(dir *fakeDirectory, sf *fakeStorefront) *Orchestrator {
	return &Orchestrator{
		Directory:  dir,
		Storefront: sf,
		Dispatcher: newDispatcher(sf, dir),
		Guard:      NewCycleGuard(),
		MissingSKU: MissingSkip,
	}
}

func TestRunFullCycle(t *testing.T) {
	dir := newFakeDirectory(map[string]int{"A": 10, "B": 5, "C": 2})
	sf := newFakeStorefront(map[string]int{"A": 10, "B": 3})
	o := newOrchestrator(dir, sf)

	result, err := o.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalItems)
	require.Len(t, result.Updated, 1)
	assert.Equal(t, "B", result.Updated[0].SKU)
	assert.Equal(t, 5, sf.quantity("B"))

	// A unchanged, C absent from Shopify under the skip policy.
	require.Len(t, result.Skipped, 2)
	assert.Empty(t, result.Failed)
	assert.True(t, result.Success())
}

func TestRunIsIdempotentWhenNothingChanged(t *testing.T) {
	dir := newFakeDirectory(map[string]int{"A": 10, "B": 5})
	sf := newFakeStorefront(map[string]int{"A": 10, "B": 3})
	o := newOrchestrator(dir, sf)

	first, err := o.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Len(t, first.Updated, 1)

	second, err := o.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Empty(t, second.Updated, "second run with no external change must be a no-op")
	assert.Len(t, second.Skipped, 2)
}

func TestRunDryRunMatchesRealRunWithZeroWrites(t *testing.T) {
	dir := newFakeDirectory(map[string]int{"A": 10, "B": 5})
	sf := newFakeStorefront(map[string]int{"A": 4, "B": 3})
	o := newOrchestrator(dir, sf)

	preview, err := o.Run(context.Background(), RunOptions{DryRun: true})
	require.NoError(t, err)
	assert.Zero(t, sf.writes())
	require.Len(t, preview.Updated, 2)
	assert.True(t, preview.DryRun)

	real, err := o.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, preview.Updated, real.Updated)
}

func TestRunSingleSKUFilter(t *testing.T) {
	dir := newFakeDirectory(map[string]int{"A": 10, "B": 5})
	sf := newFakeStorefront(map[string]int{"A": 1, "B": 1})
	o := newOrchestrator(dir, sf)

	result, err := o.Run(context.Background(), RunOptions{SKU: "A"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalItems)
	require.Len(t, result.Updated, 1)
	assert.Equal(t, "A", result.Updated[0].SKU)
	assert.Equal(t, 1, sf.quantity("B"), "filtered cycle must not touch other SKUs")
}

func TestRunSingleSKUNotFoundIsPerItemFailure(t *testing.T) {
	dir := newFakeDirectory(map[string]int{"A": 10})
	sf := newFakeStorefront(nil)
	o := newOrchestrator(dir, sf)

	result, err := o.Run(context.Background(), RunOptions{SKU: "ZZZ"})
	require.NoError(t, err)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "SKUNotFoundError", result.Failed[0].Kind)
}

func TestRunAuthFailureAbortsCycle(t *testing.T) {
	dir := newFakeDirectory(map[string]int{"A": 10})
	dir.authErr = &AuthError{System: "filemaker", Message: "bad credentials"}
	sf := newFakeStorefront(nil)
	o := newOrchestrator(dir, sf)

	result, err := o.Run(context.Background(), RunOptions{})
	assert.Nil(t, result, "aborted cycle must not produce a partial result")
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeSyncAborted))
	assert.False(t, o.Guard.Active(), "guard must be released after abort")
}

func TestRunStorefrontUnreachableAbortsCycle(t *testing.T) {
	dir := newFakeDirectory(map[string]int{"A": 10})
	sf := newFakeStorefront(nil)
	sf.fetchErr = &APIError{System: "shopify", Status: 0, Message: "connection refused", Retryable: true}
	o := newOrchestrator(dir, sf)

	_, err := o.Run(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeSyncAborted))
	assert.False(t, o.Guard.Active())
}

func TestRunSnapshotFetchRetriesTransientFailure(t *testing.T) {
	dir := newFakeDirectory(map[string]int{"A": 10})
	sf := newFakeStorefront(map[string]int{"A": 3})
	sf.fetchErrs = []error{
		&APIError{System: "shopify", Status: 503, Message: "overloaded", Retryable: true},
	}
	o := newOrchestrator(dir, sf)
	o.Retry = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	result, err := o.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Len(t, result.Updated, 1)
	assert.Equal(t, 10, sf.quantity("A"))
}

func TestRunRetriesTransientLoginFailure(t *testing.T) {
	dir := newFakeDirectory(map[string]int{"A": 10})
	dir.authErrs = []error{
		&APIError{System: "filemaker", Message: "session request: connection refused", Retryable: true},
	}
	sf := newFakeStorefront(map[string]int{"A": 3})
	o := newOrchestrator(dir, sf)
	o.Retry = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	result, err := o.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Len(t, result.Updated, 1)
	assert.Equal(t, 10, sf.quantity("A"))
}

func TestRunTerminalStorefrontLookupIsPerItemFailure(t *testing.T) {
	dir := newFakeDirectory(map[string]int{"A": 5, "B": 7, "C": 9})
	sf := newFakeStorefront(map[string]int{"A": 5, "C": 1})
	sf.fetchSKUErrs["B"] = &APIError{System: "shopify", Status: 422, Message: "variant query rejected"}
	o := newOrchestrator(dir, sf)

	result, err := o.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	require.Len(t, result.Failed, 1)
	assert.Equal(t, "B", result.Failed[0].SKU)
	assert.Equal(t, "ShopifyAPIError", result.Failed[0].Kind)

	// The other SKUs still sync.
	require.Len(t, result.Updated, 1)
	assert.Equal(t, "C", result.Updated[0].SKU)
	assert.Equal(t, 9, sf.quantity("C"))
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, "A", result.Skipped[0].SKU)
}

func TestRunMissingSKUFailPolicy(t *testing.T) {
	dir := newFakeDirectory(map[string]int{"A": 10})
	sf := newFakeStorefront(nil)
	o := newOrchestrator(dir, sf)
	o.MissingSKU = MissingFail

	result, err := o.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "SKUNotFoundError", result.Failed[0].Kind)
}

func TestRunCycleMutualExclusion(t *testing.T) {
	dir := newFakeDirectory(map[string]int{"A": 10})
	sf := newFakeStorefront(map[string]int{"A": 10})
	o := newOrchestrator(dir, sf)

	release, err := o.Guard.TryAcquire()
	require.NoError(t, err)
	defer release()

	result, err := o.Run(context.Background(), RunOptions{})
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrCycleRunning)
	assert.Zero(t, sf.writes(), "rejected cycle performs zero writes")
}

func TestRunConcurrentCyclesOnlyOneProceeds(t *testing.T) {
	dir := newFakeDirectory(map[string]int{"A": 1})
	sf := newFakeStorefront(map[string]int{"A": 0})
	o := newOrchestrator(dir, sf)
	sf.writeSleep = 20 * time.Millisecond

	var mu sync.Mutex
	var rejections, runs int
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.Run(context.Background(), RunOptions{})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, ErrCycleRunning)
				rejections++
			} else {
				runs++
			}
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, rejections, 1)
	assert.GreaterOrEqual(t, runs, 1)
	assert.Equal(t, 4, rejections+runs)
}
