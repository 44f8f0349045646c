package capture

// sourceState is the coherence record for one capture source.
type sourceState struct {
	activeSessionID string
	activeURL       string
}

// Coherence decides whether an incoming event belongs to the currently
// active recording session of its source or comes from a stale
// instrumentation instance. A page can be re-instrumented multiple times
// (reload, late attach); without this filter a dead instance keeps
// injecting events into a live session.
type Coherence struct {
	sources map[string]sourceState
}

// NewCoherence creates an empty coherence filter.
func NewCoherence() *Coherence {
	return &Coherence{sources: make(map[string]sourceState)}
}

// Admit applies the per-source state machine:
//
//   - no state yet: adopt (sessionID, url), accept
//   - same url, different session: stale instance, reject
//   - different url: the context navigated, adopt the new pair, accept
//   - both match: accept
func (c *Coherence) Admit(sourceID, sessionID, url string) bool {
	st, ok := c.sources[sourceID]
	if !ok {
		c.sources[sourceID] = sourceState{activeSessionID: sessionID, activeURL: url}
		return true
	}

	if st.activeURL == url {
		return st.activeSessionID == sessionID
	}

	c.sources[sourceID] = sourceState{activeSessionID: sessionID, activeURL: url}
	return true
}

// Active returns the session currently adopted for a source, if any.
func (c *Coherence) Active(sourceID string) (sessionID, url string, ok bool) {
	st, found := c.sources[sourceID]
	return st.activeSessionID, st.activeURL, found
}

// RemoveSource drops coherence state for a closed capture source.
func (c *Coherence) RemoveSource(sourceID string) {
	delete(c.sources, sourceID)
}
