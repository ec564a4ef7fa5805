package metrics

// MultiSink fans out cycle records to multiple sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordCycle forwards the record to all sinks, returning the first error encountered.
func (m *MultiSink) RecordCycle(rec CycleRecord) error {
	for _, s := range m.Sinks {
		if err := s.RecordCycle(rec); err != nil {
			return err
		}
	}
	return nil
}

// RecordSignLock forwards sign-lock events when supported by the sink.
func (m *MultiSink) RecordSignLock(ev SignLockEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(SignLockRecorder); ok {
			if err := rec.RecordSignLock(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordWrite forwards write events.
func (m *MultiSink) RecordWrite(ev WriteEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(WriteRecorder); ok {
			if err := rec.RecordWrite(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordCycleError forwards cycle errors.
func (m *MultiSink) RecordCycleError(ev CycleErrorEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(CycleErrorRecorder); ok {
			if err := rec.RecordCycleError(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close closes every sink that holds resources.
func (m *MultiSink) Close() {
	for _, s := range m.Sinks {
		if c, ok := s.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
