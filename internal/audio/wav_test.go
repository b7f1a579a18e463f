package audio

import (
	"encoding/binary"
	"testing"
	"time"
)

func TestEncodeWAVPCM16LEHeader(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	wav, err := EncodeWAVPCM16LE(pcm, 8000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("unexpected chunk ids in header: %q", wav[:44])
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 8000 {
		t.Fatalf("sample rate = %d, want 8000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Fatalf("data size = %d, want %d", got, len(pcm))
	}
}

func TestSilentWAV(t *testing.T) {
	wav := SilentWAV(250 * time.Millisecond)
	if want := 44 + 4000*2; len(wav) != want {
		t.Fatalf("len = %d, want %d", len(wav), want)
	}
	if SniffContentType(wav) != ContentTypeWAV {
		t.Fatalf("SniffContentType(SilentWAV) = %q", SniffContentType(wav))
	}
}

func TestSniffContentType(t *testing.T) {
	cases := map[string]struct {
		in   []byte
		want string
	}{
		"webm":  {[]byte{0x1A, 0x45, 0xDF, 0xA3, 0x01}, ContentTypeWebM},
		"ogg":   {[]byte("OggS\x00\x02"), ContentTypeOgg},
		"id3":   {[]byte("ID3\x04"), ContentTypeMPEG},
		"frame": {[]byte{0xFF, 0xFB, 0x90}, ContentTypeMPEG},
		"other": {[]byte("hello"), ContentTypeUnknown},
		"empty": {nil, ContentTypeUnknown},
	}
	for name, tc := range cases {
		if got := SniffContentType(tc.in); got != tc.want {
			t.Fatalf("%s: SniffContentType() = %q, want %q", name, got, tc.want)
		}
	}
	if FileExtension(ContentTypeWebM) != ".webm" || FileExtension("x") != ".bin" {
		t.Fatalf("FileExtension() mapping mismatch")
	}
}
