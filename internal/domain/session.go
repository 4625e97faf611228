package domain

import "encoding/json"

// EmptyDocument is the graph document of a freshly created session.
var EmptyDocument = json.RawMessage(`{}`)

// Session is the persisted, owner-scoped unit holding a graph and its
// derived forked graph. Timestamps are integer epoch seconds;
// CreatedAt is immutable and UpdatedAt bumps on every mutation.
type Session struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Graph       json.RawMessage `json:"graph"`
	ForkedGraph json.RawMessage `json:"forked_graph"`
	CreatedAt   int64           `json:"created_at"`
	UpdatedAt   int64           `json:"updated_at"`
}

// NewSession returns an empty session for the given owner.
func NewSession(id, userID string, now int64) *Session {
	return &Session{
		ID:          id,
		UserID:      userID,
		Graph:       cloneDocument(EmptyDocument),
		ForkedGraph: cloneDocument(EmptyDocument),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy so stores never hand out aliased documents.
func (s *Session) Clone() *Session {
	c := *s
	c.Graph = cloneDocument(s.Graph)
	c.ForkedGraph = cloneDocument(s.ForkedGraph)
	return &c
}

func cloneDocument(doc json.RawMessage) json.RawMessage {
	if doc == nil {
		return nil
	}
	c := make(json.RawMessage, len(doc))
	copy(c, doc)
	return c
}
