package modbus

import (
	"bytes"
	"errors"
	"testing"
)

func TestFreeFramePackager_Pack(t *testing.T) {
	p := NewFreeFramePackager()
	data := []byte{0x01, 0x02, 0x03, 0xFF}

	frame, err := p.Pack(data, false)
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	if !bytes.Equal(frame, data) {
		t.Errorf("Pack returned %v, want %v", frame, data)
	}
	// Ensure it's a copy, not the same slice
	frame[0] = 0x99
	if data[0] == 0x99 {
		t.Error("Pack did not return a copy of the input data")
	}
}

func TestFreeFramePackager_PackWithCRC(t *testing.T) {
	p := NewFreeFramePackager()
	frame, err := p.Pack([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A}, true)
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	if !bytes.Equal(frame[6:], []byte{0xC5, 0xCD}) {
		t.Errorf("Pack appended % X, want C5 CD", frame[6:])
	}
}

func TestFreeFramePackager_Pack_Empty(t *testing.T) {
	p := NewFreeFramePackager()
	if _, err := p.Pack([]byte{}, false); err == nil {
		t.Error("Pack should fail for empty data")
	}
}

func TestParseHex(t *testing.T) {
	testCases := []struct {
		in   string
		want []byte
	}{
		{in: "01 03 00 00 00 0A", want: []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A}},
		{in: "010300", want: []byte{0x01, 0x03, 0x00}},
		{in: "0x01,0xff", want: []byte{0x01, 0xFF}},
		{in: "de:ad-be ef", want: []byte{0xDE, 0xAD, 0xBE, 0xEF}},
	}
	for _, tc := range testCases {
		got, err := ParseHex(tc.in)
		if err != nil {
			t.Errorf("ParseHex(%q) failed: %v", tc.in, err)
			continue
		}
		if !bytes.Equal(got, tc.want) {
			t.Errorf("ParseHex(%q) = % X, want % X", tc.in, got, tc.want)
		}
	}
	for _, bad := range []string{"", "   ", "0", "01 0", "zz", "01 g1", "0x", "01 0x 03", "01,0X"} {
		if out, err := ParseHex(bad); !errors.Is(err, ErrInvalidHex) || out != nil {
			t.Errorf("ParseHex(%q) = % X, %v; want ErrInvalidHex and no bytes", bad, out, err)
		}
	}
}

func TestParseASCII(t *testing.T) {
	got, err := ParseASCII(`AT\r\n\x01\\`)
	if err != nil {
		t.Fatalf("ParseASCII failed: %v", err)
	}
	want := []byte{'A', 'T', '\r', '\n', 0x01, '\\'}
	if !bytes.Equal(got, want) {
		t.Errorf("ParseASCII = % X, want % X", got, want)
	}
	for _, bad := range []string{"", `abc\`, `\q`, `\x1`, `\xzz`, "café"} {
		if _, err := ParseASCII(bad); !errors.Is(err, ErrInvalidASCII) {
			t.Errorf("ParseASCII(%q) error = %v, want ErrInvalidASCII", bad, err)
		}
	}
}

func TestEncodeRaw(t *testing.T) {
	frame, err := EncodeRaw("01 06 00 00 00 40", RawHex, true)
	if err != nil {
		t.Fatalf("EncodeRaw failed: %v", err)
	}
	want := []byte{0x01, 0x06, 0x00, 0x00, 0x00, 0x40, 0x88, 0x3A}
	if !bytes.Equal(frame, want) {
		t.Errorf("EncodeRaw = % X, want % X", frame, want)
	}
	if _, err := EncodeRaw("hello", RawASCII, false); err != nil {
		t.Errorf("EncodeRaw ASCII failed: %v", err)
	}
	if _, err := EncodeRaw("0g", RawHex, false); !errors.Is(err, ErrInvalidHex) {
		t.Errorf("EncodeRaw bad hex error = %v", err)
	}
}
