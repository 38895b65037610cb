package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gaspcr/shopify-filemaker/internal/model"
)

// fakeDirectory is an in-memory DirectoryClient for engine tests.
type fakeDirectory struct {
	mu        sync.Mutex
	stock     map[string]int
	movements []model.MovementRecord

	authErr error
	// authErrs holds errors returned on successive logins; once drained,
	// logins succeed.
	authErrs    []error
	fetchAllErr error
	writeErr    map[string]error
	moveErr     error

	writes int
}

func newFakeDirectory(stock map[string]int) *fakeDirectory {
	cp := make(map[string]int, len(stock))
	for k, v := range stock {
		cp[k] = v
	}
	return &fakeDirectory{stock: cp, writeErr: map[string]error{}}
}

func (f *fakeDirectory) Authenticate(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.authErr != nil {
		return f.authErr
	}
	if len(f.authErrs) > 0 {
		err := f.authErrs[0]
		f.authErrs = f.authErrs[1:]
		return err
	}
	return nil
}

func (f *fakeDirectory) FetchAll(ctx context.Context) ([]model.StockItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchAllErr != nil {
		return nil, f.fetchAllErr
	}
	items := make([]model.StockItem, 0, len(f.stock))
	// Deterministic order for tests.
	for _, sku := range sortedKeys(f.stock) {
		items = append(items, model.StockItem{SKU: sku, Quantity: f.stock[sku], Source: model.SourceFileMaker})
	}
	return items, nil
}

func (f *fakeDirectory) FetchOne(ctx context.Context, sku string) (model.StockItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	qty, ok := f.stock[sku]
	if !ok {
		return model.StockItem{}, &NotFoundError{System: "filemaker", SKU: sku}
	}
	return model.StockItem{SKU: sku, Quantity: qty, Source: model.SourceFileMaker}, nil
}

func (f *fakeDirectory) WriteQuantity(ctx context.Context, sku string, quantity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if err := f.writeErr[sku]; err != nil {
		return err
	}
	f.stock[sku] = quantity
	return nil
}

func (f *fakeDirectory) AppendMovement(ctx context.Context, rec model.MovementRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.moveErr != nil {
		return f.moveErr
	}
	f.movements = append(f.movements, rec)
	return nil
}

func (f *fakeDirectory) quantity(sku string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stock[sku]
}

// fakeStorefront is an in-memory StorefrontClient counting writes.
type fakeStorefront struct {
	mu    sync.Mutex
	stock map[string]int

	fetchErr error
	// fetchErrs holds errors returned on successive fetches; once drained,
	// fetches succeed.
	fetchErrs []error
	// fetchSKUErrs holds terminal per-SKU lookup failures reported through
	// the failed map rather than the batch error.
	fetchSKUErrs map[string]error
	// failWrites[sku] holds errors returned on successive writes; once
	// drained, writes succeed.
	failWrites map[string][]error
	// writeSleep simulates a slow API on every write.
	writeSleep time.Duration

	writeCalls int
}

func newFakeStorefront(stock map[string]int) *fakeStorefront {
	cp := make(map[string]int, len(stock))
	for k, v := range stock {
		cp[k] = v
	}
	return &fakeStorefront{stock: cp, failWrites: map[string][]error{}, fetchSKUErrs: map[string]error{}}
}

func (f *fakeStorefront) FetchQuantity(ctx context.Context, sku string) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextFetchErr(); err != nil {
		return 0, false, err
	}
	qty, ok := f.stock[sku]
	return qty, ok, nil
}

// nextFetchErr must be called with f.mu held.
func (f *fakeStorefront) nextFetchErr() error {
	if f.fetchErr != nil {
		return f.fetchErr
	}
	if len(f.fetchErrs) > 0 {
		err := f.fetchErrs[0]
		f.fetchErrs = f.fetchErrs[1:]
		return err
	}
	return nil
}

func (f *fakeStorefront) FetchQuantities(ctx context.Context, skus []string) (map[string]int, map[string]error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextFetchErr(); err != nil {
		return nil, nil, err
	}
	out := make(map[string]int, len(skus))
	failed := map[string]error{}
	for _, sku := range skus {
		if err := f.fetchSKUErrs[sku]; err != nil {
			failed[sku] = err
			continue
		}
		if qty, ok := f.stock[sku]; ok {
			out[sku] = qty
		}
	}
	return out, failed, nil
}

func (f *fakeStorefront) WriteQuantity(ctx context.Context, sku string, quantity int) error {
	if f.writeSleep > 0 {
		time.Sleep(f.writeSleep)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeCalls++
	if pending := f.failWrites[sku]; len(pending) > 0 {
		err := pending[0]
		f.failWrites[sku] = pending[1:]
		return err
	}
	f.stock[sku] = quantity
	return nil
}

func (f *fakeStorefront) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeCalls
}

func (f *fakeStorefront) quantity(sku string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stock[sku]
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
