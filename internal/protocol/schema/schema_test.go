package schema

import (
	"testing"

	"github.com/danmuck/treegrid/internal/protocol/frame"
	"github.com/danmuck/treegrid/internal/protocol/tlv"
	"github.com/danmuck/treegrid/internal/testutil/testlog"
)

func TestValidateHelloRequiredFields(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{tlv.U32(FieldRank, 1), tlv.U32(FieldSize, 4)}
	if err := Validate(frame.TypeHello, fields); err != nil {
		t.Fatalf("validate hello: %v", err)
	}
}

func TestValidateUnknownFieldsIgnored(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		tlv.U32(FieldRank, 0),
		tlv.U64(FieldSeq, 9),
		tlv.Bytes(FieldBody, []byte{1, 2}),
		{ID: 9999, Type: tlv.TypeBytes, Value: []byte{0x01}},
	}
	if err := Validate(frame.TypeRound, fields); err != nil {
		t.Fatalf("validate with unknown field: %v", err)
	}
}

func TestValidateMissingRequiredDeterministic(t *testing.T) {
	testlog.Start(t)
	err := Validate(frame.TypeRound, []tlv.Field{tlv.U32(FieldRank, 0)})
	if err == nil {
		t.Fatalf("expected error")
	}
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.FieldID != FieldSeq || ve.Reason != "missing required field" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateTypeMismatchDeterministic(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{tlv.U32(FieldRank, 0), tlv.U32(FieldSeq, 1), tlv.Bytes(FieldBody, nil)}
	err := Validate(frame.TypeRound, fields)
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.FieldID != FieldSeq || ve.Reason != "type mismatch" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateUnknownMessageType(t *testing.T) {
	testlog.Start(t)
	err := Validate(99, nil)
	ve, ok := err.(ValidationError)
	if !ok || ve.Reason != "unknown message_type" || ve.MessageType != 99 {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Decode(99, tlv.EncodeFields([]tlv.Field{tlv.U32(FieldRank, 0)})); err == nil {
		t.Fatalf("unknown message type decoded")
	}
}

func TestValidateAbortReasonOptional(t *testing.T) {
	testlog.Start(t)
	if err := Validate(frame.TypeAbort, []tlv.Field{tlv.U32(FieldRank, 1)}); err != nil {
		t.Fatalf("abort without reason: %v", err)
	}
	fields := []tlv.Field{tlv.U32(FieldRank, 1), tlv.Bytes(FieldReason, []byte("context canceled"))}
	if err := Validate(frame.TypeAbort, fields); err != nil {
		t.Fatalf("abort with reason: %v", err)
	}
	if err := Validate(frame.TypeAbort, nil); err == nil {
		t.Fatalf("abort without rank accepted")
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	testlog.Start(t)
	payload := tlv.EncodeFields([]tlv.Field{tlv.U32(FieldRank, 2), tlv.U32(FieldSize, 3)})
	fields, err := Decode(frame.TypeHello, payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rank, _ := tlv.GetU32(fields, FieldRank); rank != 2 {
		t.Fatalf("unexpected rank: %d", rank)
	}
	if _, err := Decode(frame.TypeRound, payload); err == nil {
		t.Fatalf("hello payload accepted as round")
	}
}
