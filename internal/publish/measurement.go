package publish

// Measurement names one series the Publisher includes in the artifact:
// which store table it lives in, its series key, and the human-facing
// name it's reported under. The Supervisor builds this list from
// config.SourceA.Topics and config.SourceB's device IDs.
type Measurement struct {
	Table     string
	SeriesKey string
	Name      string
	// Target is the value the segmenter's current-segment prediction
	// projects toward (e.g. an empty-tank threshold). Zero disables
	// segment analysis for this measurement.
	Target float64
}
