package conversation

import "time"

// Exchange is one input/output pair of a recorded conversation.
type Exchange struct {
	Index    int               `json:"index"`
	Input    []Message         `json:"input"`
	Output   []Message         `json:"output"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Record is the canonical conversation shape handed to persistence.
type Record struct {
	ID        string     `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	Exchanges []Exchange `json:"exchanges"`
}

// Messages flattens the record back into a single ordered history.
func (r Record) Messages() []Message {
	var out []Message
	for _, ex := range r.Exchanges {
		out = append(out, ex.Input...)
		out = append(out, ex.Output...)
	}
	return out
}
