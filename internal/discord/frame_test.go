package discord

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := writeFrame(&buf, OpFrame, []byte(`{"cmd":"SET_ACTIVITY"}`)); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	raw := buf.Bytes()
	if got := binary.LittleEndian.Uint32(raw[0:4]); got != uint32(OpFrame) {
		t.Errorf("expected opcode %d, got %d", OpFrame, got)
	}
	if got := binary.LittleEndian.Uint32(raw[4:8]); got != 22 {
		t.Errorf("expected length 22, got %d", got)
	}

	op, body, err := readFrame(&buf)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if op != OpFrame || string(body) != `{"cmd":"SET_ACTIVITY"}` {
		t.Errorf("unexpected frame %s %s", op, body)
	}
}

func TestFrame_TooLarge(t *testing.T) {
	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(OpFrame))
	binary.LittleEndian.PutUint32(header[4:8], maxFrameSize+1)

	if _, _, err := readFrame(bytes.NewReader(header[:])); err == nil {
		t.Fatal("expected error for oversized frame")
	}
}

func TestFrame_Truncated(t *testing.T) {
	var buf bytes.Buffer
	writeFrame(&buf, OpFrame, []byte("0123456789"))
	truncated := buf.Bytes()[:12]

	if _, _, err := readFrame(bytes.NewReader(truncated)); err == nil {
		t.Fatal("expected error for truncated body")
	}
}

func TestOpcode_String(t *testing.T) {
	if OpPong.String() != "PONG" {
		t.Errorf("unexpected %s", OpPong)
	}
	if Opcode(9).String() != "OP(9)" {
		t.Errorf("unexpected %s", Opcode(9))
	}
}
