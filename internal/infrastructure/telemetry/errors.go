package telemetry

// MetricsError represents an error in metrics operations.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewExportMetrics", Err: "meter cannot be nil"}
