package mutation

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrEmptyName is returned for a blank name. No request is issued.
	ErrEmptyName = errors.New("mutation: name is empty")

	// ErrNoChange is returned for a rename to the current name. No request
	// is issued.
	ErrNoChange = errors.New("mutation: name unchanged")

	// ErrNodeBusy is returned when the node already has a mutation in flight.
	ErrNodeBusy = errors.New("mutation: node has a mutation in flight")

	// ErrNotMutable is returned for pending or synthetic nodes that carry
	// no remote ref.
	ErrNotMutable = errors.New("mutation: node cannot be mutated")

	// ErrNoCreator is returned by CreateFile when no document creator is
	// configured.
	ErrNoCreator = errors.New("mutation: no document creator")
)

// IsValidation reports whether err was rejected locally without a request.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyName) || errors.Is(err, ErrNoChange)
}

// BulkError reports a fan-out mutation where at least one request failed.
type BulkError struct {
	Op        Op
	Succeeded int
	Failed    int
	// Errs maps node id (or path for uploads) to its failure.
	Errs map[string]error
}

func (e *BulkError) Error() string {
	return fmt.Sprintf("%s: %d succeeded, %d failed", e.Op, e.Succeeded, e.Failed)
}

// Unwrap returns the individual failures ordered by key.
func (e *BulkError) Unwrap() []error {
	keys := make([]string, 0, len(e.Errs))
	for k := range e.Errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]error, 0, len(keys))
	for _, k := range keys {
		out = append(out, e.Errs[k])
	}
	return out
}
