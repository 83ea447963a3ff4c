package identity

// MessageIdentity is the identity triple every envelope carries.
//
// A root message starts a flow: its correlation and causation ids both equal
// its own message id. A derived message inherits the correlation id of its
// cause and cites the cause's message id as its causation id.
type MessageIdentity struct {
	MessageID     MessageID `json:"message_id"`
	CorrelationID MessageID `json:"correlation_id"`
	CausationID   MessageID `json:"causation_id"`
}

// NewMessageIdentity allocates an identity. A nil cause starts a new flow.
func NewMessageIdentity(gen Generator, cause *MessageIdentity) MessageIdentity {
	id := gen.NewID()
	if cause == nil {
		return MessageIdentity{MessageID: id, CorrelationID: id, CausationID: id}
	}
	return MessageIdentity{
		MessageID:     id,
		CorrelationID: cause.CorrelationID,
		CausationID:   cause.MessageID,
	}
}

// NewRoot starts a new flow.
func NewRoot(gen Generator) MessageIdentity {
	return NewMessageIdentity(gen, nil)
}

// NewRootInTransaction starts a message that is self-caused but correlated
// with an existing transaction id, so several independent roots can be
// grouped under one flow.
func NewRootInTransaction(gen Generator, transactionID MessageID) MessageIdentity {
	id := gen.NewID()
	return MessageIdentity{MessageID: id, CorrelationID: transactionID, CausationID: id}
}

// Derive allocates an identity caused by m.
func (m MessageIdentity) Derive(gen Generator) MessageIdentity {
	return NewMessageIdentity(gen, &m)
}

// IsRoot reports whether m is self-caused.
func (m MessageIdentity) IsRoot() bool {
	return !m.MessageID.IsZero() && m.CausationID == m.MessageID
}

// CausedBy reports whether m was derived directly from cause.
func (m MessageIdentity) CausedBy(cause MessageIdentity) bool {
	return m.CausationID == cause.MessageID && m.CorrelationID == cause.CorrelationID
}
