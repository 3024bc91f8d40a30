package zcl

import (
	"bytes"
	"testing"
)

func TestDecodeValue(t *testing.T) {
	tests := []struct {
		name     string
		typ      uint8
		data     []byte
		want     any
		consumed int
	}{
		{"bool true", TypeBool, []byte{0x01}, true, 1},
		{"bool false", TypeBool, []byte{0x00}, false, 1},
		{"uint8", TypeUint8, []byte{0x42}, uint8(0x42), 1},
		{"enum8", TypeEnum8, []byte{0x03}, uint8(3), 1},
		{"map8", TypeBitmap8, []byte{0x80}, uint8(0x80), 1},
		{"uint16 LE", TypeUint16, []byte{0x34, 0x12}, uint16(0x1234), 2},
		{"int16 negative", TypeInt16, []byte{0x9C, 0xFF}, int16(-100), 2},
		{"int8 negative", TypeInt8, []byte{0xFF}, int8(-1), 1},
		{"uint32", TypeUint32, []byte{0x78, 0x56, 0x34, 0x12}, uint32(0x12345678), 4},
		{"string", TypeCharStr, []byte{5, 'H', 'e', 'l', 'l', 'o', 0xAA}, "Hello", 6},
		{"empty string", TypeCharStr, []byte{0}, "", 1},
		{"invalid string", TypeCharStr, []byte{0xFF}, "", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, n, err := DecodeValue(tt.typ, tt.data)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
			if n != tt.consumed {
				t.Errorf("consumed %d, want %d", n, tt.consumed)
			}
		})
	}
}

func TestDecodeValueErrors(t *testing.T) {
	tests := []struct {
		name string
		typ  uint8
		data []byte
	}{
		{"uint16 short", TypeUint16, []byte{0x01}},
		{"string truncated", TypeCharStr, []byte{4, 'a'}},
		{"string no length", TypeCharStr, nil},
		{"unsupported type", 0xF0, []byte{1, 2, 3, 4, 5, 6, 7, 8}},
	}
	for _, tt := range tests {
		if _, _, err := DecodeValue(tt.typ, tt.data); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestEncodeValue(t *testing.T) {
	tests := []struct {
		name string
		typ  uint8
		val  any
		want []byte
	}{
		{"bool", TypeBool, true, []byte{1}},
		{"bool from uint8", TypeBool, uint8(0), []byte{0}},
		{"uint8 from int", TypeUint8, 100, []byte{100}},
		{"enum8", TypeEnum8, uint8(3), []byte{3}},
		{"uint16", TypeUint16, uint16(0x1234), []byte{0x34, 0x12}},
		{"int16", TypeInt16, int16(-100), []byte{0x9C, 0xFF}},
		{"string", TypeCharStr, "ESP32C6.Valve", append([]byte{13}, "ESP32C6.Valve"...)},
		{"octstr", TypeOctetStr, []byte{0xDE, 0xAD}, []byte{2, 0xDE, 0xAD}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeValue(tt.typ, tt.val)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("got %X, want %X", got, tt.want)
			}
		})
	}
}

func TestEncodeValueOverflow(t *testing.T) {
	tests := []struct {
		name string
		typ  uint8
		val  any
	}{
		{"uint8 overflow", TypeUint8, 256},
		{"uint8 negative", TypeUint8, -1},
		{"uint16 overflow", TypeUint16, 70000},
		{"int8 overflow", TypeInt8, 200},
		{"bool from string", TypeBool, "yes"},
		{"string from int", TypeCharStr, 5},
	}
	for _, tt := range tests {
		if _, err := EncodeValue(tt.typ, tt.val); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestTypeName(t *testing.T) {
	if TypeName(TypeBool) != "bool" || TypeName(TypeCharStr) != "string" {
		t.Error("unexpected type names")
	}
	if TypeName(0xF0) != "0xF0" {
		t.Errorf("unknown type name = %q", TypeName(0xF0))
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	frames := [][]byte{
		{0x10, 0x05, 0x00, 0x21, 0x00},
		{0x05, 0x34, 0x12, 0x07, 0x01},
	}
	for _, f := range frames {
		h, payload, err := ParseHeader(f)
		if err != nil {
			t.Fatal(err)
		}
		got := append(h.AppendTo(nil), payload...)
		if !bytes.Equal(got, f) {
			t.Errorf("round trip %X -> %X", f, got)
		}
	}

	h, _, _ := ParseHeader(frames[1])
	if !h.MfrSpecific() || h.MfrCode != 0x1234 || h.Seq != 0x07 || h.CommandID != 0x01 {
		t.Errorf("mfr header = %+v", h)
	}

	if _, _, err := ParseHeader([]byte{0x04, 0x00, 0x00}); err == nil {
		t.Error("expected error for truncated manufacturer header")
	}
}

func TestDefaultResponse(t *testing.T) {
	req := Header{FrameControl: FrameTypeCluster, Seq: 9, CommandID: CmdOn}
	got := DefaultResponse(req, StatusSuccess)
	want := []byte{FlagServerToClient | FlagDisableDefaultRsp, 9, CmdDefaultResponse, CmdOn, StatusSuccess}
	if !bytes.Equal(got, want) {
		t.Errorf("got %X, want %X", got, want)
	}
}
