package graph

import "fmt"

// PermanentIDError reports a failed durable-identifier request. The save that
// triggered it never proceeds past the requesting context.
type PermanentIDError struct {
	Context string
	Err     error
}

func (e PermanentIDError) Error() string {
	return fmt.Sprintf("obtain permanent ids for context %s: %v", e.Context, e.Err)
}

func (e PermanentIDError) Unwrap() error { return e.Err }

// LocalSaveError reports a single context's local save failure before any
// ancestor was touched.
type LocalSaveError struct {
	Context string
	Err     error
}

func (e LocalSaveError) Error() string {
	return fmt.Sprintf("save context %s: %v", e.Context, e.Err)
}

func (e LocalSaveError) Unwrap() error { return e.Err }

// ChainError reports an ancestor failure after one or more descendants had
// already committed locally. The descendants' state remains changed but not
// durable; no automatic rollback is performed.
type ChainError struct {
	FailedAt       string
	CommittedBelow []string
	Err            error
}

func (e ChainError) Error() string {
	return fmt.Sprintf("save chain failed at context %s after %d local commits: %v",
		e.FailedAt, len(e.CommittedBelow), e.Err)
}

func (e ChainError) Unwrap() error { return e.Err }

// FetchError reports a query execution failure at the executing context.
type FetchError struct {
	Context string
	Err     error
}

func (e FetchError) Error() string {
	return fmt.Sprintf("fetch on context %s: %v", e.Context, e.Err)
}

func (e FetchError) Unwrap() error { return e.Err }

// TranslationError reports an identifier that could not be resolved into a
// materialized entity. The whole fetch fails; no partial results.
type TranslationError struct {
	ID  ID
	Err error
}

func (e TranslationError) Error() string {
	return fmt.Sprintf("translate id %s: %v", e.ID, e.Err)
}

func (e TranslationError) Unwrap() error { return e.Err }

// NotFoundError is returned by storage engines when an identifier does not
// resolve to a stored entity.
type NotFoundError struct {
	ID ID
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("entity %s not found", e.ID)
}
