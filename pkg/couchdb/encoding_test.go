package couchdb

import (
	"bytes"
	"testing"
)

func TestLegacyEncodingRoundTripIsIdentityOnTheWire(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"ascii", `{"name":"plain"}`},
		{"latin accents", `{"name":"héllo wörld"}`},
		{"multibyte", `{"name":"日本語"}`},
		{"mixed", `{"a":"ü","b":"中","c":"z"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := iso88591Bytes(reencodeUTF8ToISO88591(tt.src))
			if !bytes.Equal(got, []byte(tt.src)) {
				t.Errorf("Round trip changed the wire bytes: %q -> %q", tt.src, got)
			}
		})
	}
}

func TestReencodeWidensEachByte(t *testing.T) {
	// "é" is the two UTF-8 bytes 0xC3 0xA9; the reinterpretation reads them
	// as two separate characters.
	got := reencodeUTF8ToISO88591("é")
	runes := []rune(got)
	if len(runes) != 2 {
		t.Fatalf("Expected 2 code points, got %d", len(runes))
	}
	if runes[0] != 0xC3 || runes[1] != 0xA9 {
		t.Errorf("Expected code points C3 A9, got %X %X", runes[0], runes[1])
	}
}

func TestEncodeBody(t *testing.T) {
	src := `{"name":"héllo"}`

	legacy := &Client{legacyEncoding: true}
	modern := &Client{legacyEncoding: false}

	if !bytes.Equal(legacy.encodeBody(src), []byte(src)) {
		t.Error("Legacy encoding must produce the raw UTF-8 bytes")
	}
	if !bytes.Equal(modern.encodeBody(src), []byte(src)) {
		t.Error("Plain encoding must produce the raw UTF-8 bytes")
	}
}
