package schema

import (
	"fmt"

	"github.com/danmuck/treegrid/internal/logging"
	"github.com/danmuck/treegrid/internal/protocol/frame"
	"github.com/danmuck/treegrid/internal/protocol/tlv"
)

// Field IDs carried in mesh frame payloads.
const (
	FieldRank uint16 = 1
	FieldSize uint16 = 2
	FieldSeq  uint16 = 3
	FieldBody uint16 = 4
	// FieldReason is optional on abort frames.
	FieldReason uint16 = 5
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	frame.TypeHello: {
		{FieldRank, tlv.TypeU32},
		{FieldSize, tlv.TypeU32},
	},
	frame.TypeRound: {
		{FieldRank, tlv.TypeU32},
		{FieldSeq, tlv.TypeU64},
		{FieldBody, tlv.TypeBytes},
	},
	frame.TypeAbort: {
		{FieldRank, tlv.TypeU32},
	},
}

// Validate enforces required fields and their types for a message type.
// Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		logger := logging.For("protocol.schema")
		logger.Error().Uint32("message_type", messageType).Msg("schema.Validate unknown message_type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}

// Decode splits a frame payload into fields and validates them.
func Decode(messageType uint32, payload []byte) ([]tlv.Field, error) {
	fields, err := tlv.DecodeFields(payload)
	if err != nil {
		return nil, err
	}
	if err := Validate(messageType, fields); err != nil {
		return nil, err
	}
	return fields, nil
}
