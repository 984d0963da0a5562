// Package ledger tracks which game IDs are off limits for the current run.
//
// Three disjoint-by-construction sets are kept:
//   - persisted: IDs already in the result store (loaded at startup, grows
//     as this run's flushes succeed)
//   - predicted: IDs this run has successfully predicted
//   - failed: IDs that failed this run (malformed, evaluator timeout/error)
//
// Every ID gets at most one terminal classification per run: once predicted
// it can never become failed, and vice versa.
//
// The ledger is a plain in-memory structure with no locking. It is owned by
// the run controller's single thread of control.
package ledger

// Classification is the terminal state of an ID within a run.
type Classification int

const (
	// Unclassified IDs may still be drawn and processed.
	Unclassified Classification = iota
	// Persisted IDs were recorded by an earlier run (or flushed by this one
	// before they were classified here).
	Persisted
	// Predicted IDs were scored successfully this run.
	Predicted
	// Failed IDs were blacklisted for the remainder of this run.
	Failed
)

// String returns a lowercase label for logs.
func (c Classification) String() string {
	switch c {
	case Persisted:
		return "persisted"
	case Predicted:
		return "predicted"
	case Failed:
		return "failed"
	default:
		return "unclassified"
	}
}

// Ledger holds the exclusion sets.
type Ledger struct {
	persisted map[string]struct{}
	predicted map[string]struct{}
	failed    map[string]struct{}
}

// Stats reports the size of each set.
type Stats struct {
	Persisted int `json:"persisted"`
	Predicted int `json:"predicted"`
	Failed    int `json:"failed"`
}

// New creates a ledger seeded with the IDs already in the result store.
// The map is copied; later changes by the caller are not observed.
func New(persisted map[string]struct{}) *Ledger {
	l := &Ledger{
		persisted: make(map[string]struct{}, len(persisted)),
		predicted: make(map[string]struct{}),
		failed:    make(map[string]struct{}),
	}
	for id := range persisted {
		l.persisted[id] = struct{}{}
	}
	return l
}

// IsExcluded reports whether id is in any of the three sets.
func (l *Ledger) IsExcluded(id string) bool {
	if _, ok := l.persisted[id]; ok {
		return true
	}
	if _, ok := l.predicted[id]; ok {
		return true
	}
	_, ok := l.failed[id]
	return ok
}

// MarkPredicted records a successful prediction.
// Returns false, leaving the ledger unchanged, if id is already excluded.
func (l *Ledger) MarkPredicted(id string) bool {
	if l.IsExcluded(id) {
		return false
	}
	l.predicted[id] = struct{}{}
	return true
}

// MarkFailed blacklists id for the remainder of the run.
// Returns false, leaving the ledger unchanged, if id is already excluded.
func (l *Ledger) MarkFailed(id string) bool {
	if l.IsExcluded(id) {
		return false
	}
	l.failed[id] = struct{}{}
	return true
}

// ClearFailed removes id from the failed set so it may be retried.
// Returns false if id was not failed.
func (l *Ledger) ClearFailed(id string) bool {
	if _, ok := l.failed[id]; !ok {
		return false
	}
	delete(l.failed, id)
	return true
}

// MarkPersisted folds ids into the durable set after a successful flush, so
// the exclusion holds even if a later store read races the write.
// The predicted set is left intact: the session classification stands.
func (l *Ledger) MarkPersisted(ids ...string) {
	for _, id := range ids {
		l.persisted[id] = struct{}{}
	}
}

// Classification returns the terminal state of id for this run.
// Session classifications win over Persisted.
func (l *Ledger) Classification(id string) Classification {
	if _, ok := l.predicted[id]; ok {
		return Predicted
	}
	if _, ok := l.failed[id]; ok {
		return Failed
	}
	if _, ok := l.persisted[id]; ok {
		return Persisted
	}
	return Unclassified
}

// Stats returns the current set sizes.
func (l *Ledger) Stats() Stats {
	return Stats{
		Persisted: len(l.persisted),
		Predicted: len(l.predicted),
		Failed:    len(l.failed),
	}
}

// PersistedView returns a read-only membership view over the persisted set,
// used as the fetch-time filter. The view observes later MarkPersisted calls.
func (l *Ledger) PersistedView() View {
	return View{set: l.persisted}
}

// View is a read-only membership test over one of the ledger's sets.
type View struct {
	set map[string]struct{}
}

// Has reports whether id is in the underlying set.
func (v View) Has(id string) bool {
	_, ok := v.set[id]
	return ok
}

// Len returns the size of the underlying set.
func (v View) Len() int {
	return len(v.set)
}
