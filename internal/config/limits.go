package config

// Limits bounds the work a single ingestion may perform. The zero value is
// usable; accessors substitute defaults for unset fields.
type Limits struct {
	// SampleRows caps how many records the schema inferencer inspects.
	SampleRows int

	// MaxRows caps how many normalized rows one ingestion may produce.
	// Records beyond the cap are dropped and counted as overflow.
	MaxRows int

	// TopN is the default recommendation list length.
	TopN int

	// PeekBytes bounds how much of a remote source is fetched for format
	// sniffing and profiling.
	PeekBytes int
}

const (
	defaultSampleRows = 500
	defaultMaxRows    = 200_000
	defaultTopN       = 3
	defaultPeekBytes  = 20_000
)

func (l Limits) SampleRowsOrDefault() int {
	if l.SampleRows > 0 {
		return l.SampleRows
	}
	return defaultSampleRows
}

func (l Limits) MaxRowsOrDefault() int {
	if l.MaxRows > 0 {
		return l.MaxRows
	}
	return defaultMaxRows
}

func (l Limits) TopNOrDefault() int {
	if l.TopN > 0 {
		return l.TopN
	}
	return defaultTopN
}

func (l Limits) PeekBytesOrDefault() int {
	if l.PeekBytes > 0 {
		return l.PeekBytes
	}
	return defaultPeekBytes
}
