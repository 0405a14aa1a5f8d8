package ingest

// FlushFunc receives the records accumulated since the previous flush. It is
// invoked mid-pagination in stagger mode so large result sets reach the store
// incrementally instead of being held in memory until exhaustion.
type FlushFunc func(batch []Record) error

// Accumulator concatenates fetched pages into one ordered sequence. With a
// positive stagger interval it drains through the flush callback every time
// at least that many unflushed records have piled up.
type Accumulator struct {
	records []Record
	flushed int
	every   int
	flush   FlushFunc
}

// NewAccumulator returns an accumulator. staggerEvery <= 0 or a nil flush
// disables staggering; everything is then drained by the final Drain call.
func NewAccumulator(staggerEvery int, flush FlushFunc) *Accumulator {
	return &Accumulator{every: staggerEvery, flush: flush}
}

// Add appends one fetched page, preserving source order, and fires the flush
// callback if the stagger threshold has been crossed. A flush error stops
// staggering for the rest of the run but the records stay accumulated.
func (a *Accumulator) Add(page []Record) error {
	a.records = append(a.records, page...)
	if a.flush == nil || a.every <= 0 {
		return nil
	}
	if len(a.records)-a.flushed < a.every {
		return nil
	}
	return a.drainPending()
}

// Drain flushes whatever has not been flushed yet. Call once after
// pagination is exhausted.
func (a *Accumulator) Drain() error {
	if a.flush == nil {
		return nil
	}
	if len(a.records) == a.flushed {
		return nil
	}
	return a.drainPending()
}

func (a *Accumulator) drainPending() error {
	pending := a.records[a.flushed:]
	if err := a.flush(pending); err != nil {
		return err
	}
	a.flushed = len(a.records)
	return nil
}

// Records returns everything accumulated so far, flushed or not, in fetch order.
func (a *Accumulator) Records() []Record {
	return a.records
}

// Len reports the number of accumulated records.
func (a *Accumulator) Len() int {
	return len(a.records)
}
