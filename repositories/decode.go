package repositories

import (
	"github.com/fxamacker/cbor/v2"

	"helpdesk/domain"
)

// DecodeConversation decodes a raw "conv:" value. Used by operator tooling
// that reads the store directly.
func DecodeConversation(val []byte) (domain.Conversation, error) {
	var rec storedConversation
	if err := cbor.Unmarshal(val, &rec); err != nil {
		return domain.Conversation{}, err
	}
	return toConversation(rec), nil
}

// DecodeMessage decodes a raw "msg:" value.
func DecodeMessage(val []byte) (domain.Message, error) {
	var rec storedMessage
	if err := cbor.Unmarshal(val, &rec); err != nil {
		return domain.Message{}, err
	}
	return toMessage(rec)
}
