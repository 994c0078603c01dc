package pipeline

// Result reports the outcome of one ingestion, for observability. A
// duplicate discard is a normal outcome, not an error.
type Result int

const (
	Ingested Result = iota
	ConversationCreated
	DuplicateDiscarded
	Failed
)

func (r Result) String() string {
	switch r {
	case Ingested:
		return "ingested"
	case ConversationCreated:
		return "conversation_created"
	case DuplicateDiscarded:
		return "duplicate_discarded"
	case Failed:
		return "failed"
	}
	return "unknown"
}
