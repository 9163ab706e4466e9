package domain

// DeadLetter is a structured failure record for an event that could not be
// processed. Written fire-and-forget; may reorder relative to the main stream.
type DeadLetter struct {
	SourceTopic string `json:"source_topic"`
	ErrorKind   string `json:"error_kind"`
	Error       string `json:"error"`
	Excerpt     string `json:"raw_payload_excerpt"`
	Partition   int    `json:"partition"`
	Sequence    int64  `json:"sequence"`
	ReceivedAt  int64  `json:"received_at"` // ms
}
