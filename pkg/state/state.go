package state

// State is the persisted payload for one (integration, action, source)
// triple. For the pull pipeline this holds a single "updated_at" entry, the
// per-sensor watermark.
type State map[string]string

// Store is our interface for the key-value state store consumed by the
// pipeline. Get and Set are treated as atomic point operations; the pipeline
// does not coordinate concurrent runs for the same source beyond that.
type Store interface {
	// GetState returns the stored state for the triple, or nil when no state
	// has been written yet.
	GetState(integrationID, actionID, sourceID string) (State, error)

	// SetState writes the state for the triple, replacing any previous value.
	SetState(integrationID, actionID, sourceID string, state State) error
}

// BuildKey returns the composite key under which a state entry is stored.
func BuildKey(integrationID, actionID, sourceID string) string {
	return integrationID + ":" + actionID + ":" + sourceID
}
