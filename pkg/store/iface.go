// iface.go defines the StoreInterface for dependency injection and testing.
//
// The cmd layer accepts StoreInterface rather than *Store so that run
// persistence can be swapped for a fake in tests.
package store

import "github.com/daviddao/delaynet/pkg/model"

// StoreInterface defines the full set of store operations.
// The concrete *Store type implements this interface.
type StoreInterface interface {
	// Close closes the database connection.
	Close() error

	// --- Runs ---

	// CreateRun inserts a run, assigning its ID if unset.
	CreateRun(r *model.Run) error

	// FinishRun stores a run's outcome.
	FinishRun(r *model.Run) error

	// GetRun retrieves a run by full ID.
	GetRun(id string) (*model.Run, error)

	// ResolveRunID expands a unique ID prefix.
	ResolveRunID(prefix string) (string, error)

	// ListRuns returns the most recent runs first.
	ListRuns(limit int) ([]model.Run, error)

	// LatestRun returns the most recently started run.
	LatestRun() (*model.Run, error)

	// --- Profile ---

	InsertProfile(runID string, entries []model.ProfileEntry) error
	ListProfile(runID string) ([]model.ProfileEntry, error)

	// --- Recordings ---

	InsertSpikes(runID string, recs []model.SpikeRecord) error
	ListSpikes(runID string, limit int) ([]model.SpikeRecord, error)
	CountSpikes(runID string) int64
	InsertTraces(runID string, recs []model.TraceRecord) error
	ListTraces(runID string, limit int) ([]model.TraceRecord, error)
}

// Compile-time check that *Store implements StoreInterface.
var _ StoreInterface = (*Store)(nil)
