package audio

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"
)

// Content types reported for captured or synthesized buffers.
const (
	ContentTypeWAV     = "audio/wav"
	ContentTypeWebM    = "audio/webm"
	ContentTypeOgg     = "audio/ogg"
	ContentTypeMPEG    = "audio/mpeg"
	ContentTypeUnknown = "application/octet-stream"
)

const defaultSampleRate = 16000

type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	if err := WriteWAVPCM16LE(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16LE writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVPCM16LE(out io.Writer, pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	const (
		channels      = 1
		bitsPerSample = 16
	)
	h := wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(pcm)),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1, // PCM
		Channels:      channels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * channels * bitsPerSample / 8),
		BlockAlign:    channels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(len(pcm)),
	}
	if err := binary.Write(out, binary.LittleEndian, h); err != nil {
		return err
	}
	_, err := out.Write(pcm)
	return err
}

// SilentWAV returns d of silence as a 16 kHz mono WAV file.
func SilentWAV(d time.Duration) []byte {
	if d < 0 {
		d = 0
	}
	samples := int(d.Seconds() * defaultSampleRate)
	wav, _ := EncodeWAVPCM16LE(make([]byte, samples*2), defaultSampleRate)
	return wav
}

// SniffContentType guesses the container of a captured audio buffer from its
// magic bytes. Browsers usually record webm/opus; telephony bridges send WAV.
func SniffContentType(b []byte) string {
	switch {
	case len(b) >= 12 && bytes.Equal(b[0:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WAVE")):
		return ContentTypeWAV
	case len(b) >= 4 && bytes.Equal(b[0:4], []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return ContentTypeWebM
	case len(b) >= 4 && bytes.Equal(b[0:4], []byte("OggS")):
		return ContentTypeOgg
	case len(b) >= 3 && bytes.Equal(b[0:3], []byte("ID3")):
		return ContentTypeMPEG
	case len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0:
		return ContentTypeMPEG
	default:
		return ContentTypeUnknown
	}
}

// FileExtension maps a content type to the filename suffix upload APIs expect.
func FileExtension(contentType string) string {
	switch contentType {
	case ContentTypeWAV:
		return ".wav"
	case ContentTypeWebM:
		return ".webm"
	case ContentTypeOgg:
		return ".ogg"
	case ContentTypeMPEG:
		return ".mp3"
	default:
		return ".bin"
	}
}
