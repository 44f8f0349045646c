package trail

// Batch is the atomic unit flushed by the capture coordinator. One batch
// = all accepted events queued since the previous flush tick.
type Batch struct {
	ID        string  `json:"id"`
	Events    []Event `json:"events"`
	FlushedMS int64   `json:"flushed_ms"` // epoch milliseconds at flush
}
