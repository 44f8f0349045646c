package trail

// Session is one bounded recording unit spanning one or more navigations
// within a monitored context. At most one Session is active per capture
// source at a time; the event list is appended in arrival order and is
// chronologically sorted before rule derivation.
type Session struct {
	ID          string  `json:"id"`
	StartMS     int64   `json:"start_ms"`
	LastEventMS int64   `json:"last_event_ms"`
	Events      []Event `json:"events,omitempty"`
	ArtifactID  string  `json:"artifact_id,omitempty"` // linked by the correlator, empty until then
}

// Append records an event and advances the session clock. LastEventMS
// never moves backwards: late events with older timestamps still belong
// to the session but must not shrink its correlation window.
func (s *Session) Append(ev Event) {
	if s.StartMS == 0 || ev.TimestampMS < s.StartMS {
		if len(s.Events) == 0 {
			s.StartMS = ev.TimestampMS
		}
	}
	if ev.TimestampMS > s.LastEventMS {
		s.LastEventMS = ev.TimestampMS
	}
	s.Events = append(s.Events, ev)
}

// Window returns the session's time span [start, last] in epoch
// milliseconds, expanded by grace on both ends.
func (s *Session) Window(graceMS int64) (startMS, endMS int64) {
	return s.StartMS - graceMS, s.LastEventMS + graceMS
}
