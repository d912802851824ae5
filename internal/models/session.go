package models

// SourceKind labels one input data source of a session.
type SourceKind string

const (
	SourceBehavior           SourceKind = "behavior"
	SourceRawRecording       SourceKind = "rawRecording"
	SourceSortedUnits        SourceKind = "sortedUnits"
	SourceProcessedRecording SourceKind = "processedRecording"
)

// InputLocation is a filesystem location for one source of a session.
type InputLocation struct {
	Path     string `json:"path"`
	IsDir    bool   `json:"is_dir"`
	Optional bool   `json:"optional"`
}

// SessionDescriptor is one resolved session: its input sources and the
// deterministic location of its output artifact. It is never mutated after
// the catalog builds it.
type SessionDescriptor struct {
	ID         string                       `json:"id"`
	Inputs     map[SourceKind]InputLocation `json:"inputs"`
	OutputPath string                       `json:"output_path"`
}
