package ox

import (
	"context"
	"sync"
	"time"
)

// Transaction is the per-file evaluation scope threaded through expansion:
// loop/set variables, registered data sources, and their fetched results.
// Modeled on pongo2's ExecutionContext Public/Private/Shared split
// (_examples/flosch-pongo2/context.go): "Shared" here is the read-only
// outer environment (data-source results, once fetched), "Private" is the
// lexically-scoped stack of `<set>`/`<foreach>`/`<while>` bindings.
type Transaction struct {
	mu sync.RWMutex

	// scopes is a stack of variable frames; index 0 is the outermost
	// (file-level) frame, the last is innermost. Lookups walk from the end
	// backwards, matching normal lexical shadowing.
	scopes []map[string]*RValue

	dataSources map[string]*DataSourceSpec
	results     map[string]*DataSourceResult

	timeout time.Duration
}

// DataSourceSpec is a registered `<on-data name>` source's fetch plan,
// filled in by the Data-Source Processor (spec.md §4.5) before expansion.
type DataSourceSpec struct {
	Name       string
	Fetch      func(ctx context.Context) (interface{}, error)
	DependsOn  []string // names of sibling/ancestor sources this one nests under
	ParentPath []string // for nested on-data, the chain of enclosing source names
}

// DataSourceResult is the outcome of executing one DataSourceSpec.
type DataSourceResult struct {
	Source    string
	Value     *RValue
	Err       *DataSourceError
	FetchedAt time.Time
}

// DataSourceError is the structured per-source failure surfaced to
// `<on-error>` bodies (spec.md §4.5: "{message, code?, timestamp, source}").
type DataSourceError struct {
	Source    string
	Message   string
	Code      string
	HasCode   bool
	Timestamp time.Time
}

func (e *DataSourceError) Error() string { return e.Message }

func newTransaction(timeout time.Duration) *Transaction {
	return &Transaction{
		scopes:      []map[string]*RValue{make(map[string]*RValue)},
		dataSources: make(map[string]*DataSourceSpec),
		results:     make(map[string]*DataSourceResult),
		timeout:     timeout,
	}
}

// PushScope enters a new lexical frame (loop body, conditional body).
func (tx *Transaction) PushScope() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.scopes = append(tx.scopes, make(map[string]*RValue))
}

// PopScope leaves the innermost lexical frame.
func (tx *Transaction) PopScope() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if len(tx.scopes) > 1 {
		tx.scopes = tx.scopes[:len(tx.scopes)-1]
	}
}

// Set binds name in the innermost scope, per `<set>` and loop-variable
// semantics (spec.md §4.2/§4.4).
func (tx *Transaction) Set(name string, v *RValue) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.scopes[len(tx.scopes)-1][name] = v
}

// Lookup searches innermost-to-outermost scopes, falling back to fetched
// data-source results (treated as read-only top-level variables once
// resolved, matching spec.md §4.5 "`$sourceName` becomes readable after its
// on-data block completes").
func (tx *Transaction) Lookup(name string) (*RValue, bool) {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	for i := len(tx.scopes) - 1; i >= 0; i-- {
		if v, ok := tx.scopes[i][name]; ok {
			return v, true
		}
	}
	if res, ok := tx.results[name]; ok && res.Err == nil {
		return res.Value, true
	}
	return nil, false
}

// KnownVariableNames lists everything currently bound, for "did you mean"
// suggestions on UndefinedVariable.
func (tx *Transaction) KnownVariableNames() []string {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	seen := make(map[string]struct{})
	var names []string
	for _, scope := range tx.scopes {
		for k := range scope {
			if _, dup := seen[k]; !dup {
				seen[k] = struct{}{}
				names = append(names, k)
			}
		}
	}
	for k := range tx.results {
		if _, dup := seen[k]; !dup {
			seen[k] = struct{}{}
			names = append(names, k)
		}
	}
	return names
}

// snapshot/restore let the Foreach/While expander save and roll back the
// innermost scope between iterations without reallocating the whole stack.
func (tx *Transaction) snapshot() map[string]*RValue {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	cp := make(map[string]*RValue, len(tx.scopes[len(tx.scopes)-1]))
	for k, v := range tx.scopes[len(tx.scopes)-1] {
		cp[k] = v
	}
	return cp
}

func (tx *Transaction) restore(snap map[string]*RValue) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.scopes[len(tx.scopes)-1] = snap
}

// addDataSource registers a source spec discovered by the Data-Source
// Processor, rejecting a duplicate name the way spec.md §4.5 requires
// ("DuplicateDataSource").
func (tx *Transaction) addDataSource(spec *DataSourceSpec) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if _, exists := tx.dataSources[spec.Name]; exists {
		return newErrf(KindPreprocessError, "DuplicateDataSource", Location{}, "data source %q already registered", spec.Name)
	}
	tx.dataSources[spec.Name] = spec
	return nil
}

func (tx *Transaction) knownDataSourceNames() []string {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	names := make([]string, 0, len(tx.dataSources))
	for n := range tx.dataSources {
		names = append(names, n)
	}
	return names
}

// storeResult records a fetched (or failed) data source's outcome and
// memoizes it as a lookup-able variable.
func (tx *Transaction) storeResult(res *DataSourceResult) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.results[res.Source] = res
}

func (tx *Transaction) result(name string) (*DataSourceResult, bool) {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	r, ok := tx.results[name]
	return r, ok
}

// fetchTimeout returns the configured per-source fetch deadline, defaulting
// to 30s if unset (SPEC_FULL.md §A config defaults).
func (tx *Transaction) fetchTimeout() time.Duration {
	if tx.timeout > 0 {
		return tx.timeout
	}
	return 30 * time.Second
}
