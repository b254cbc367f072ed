package talker

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

func TestWAVEncoder_HeaderAndData(t *testing.T) {
	enc := NewWAVEncoder(&AudioConfig{SampleRate: 16000, Channels: 1})
	if enc.MIMEType() != "audio/wav" {
		t.Fatalf("MIMEType() = %q", enc.MIMEType())
	}

	a, err := enc.EncodeChunk([]float32{0, 0.5, -0.5})
	if err != nil {
		t.Fatalf("EncodeChunk() error = %v", err)
	}
	b, err := enc.EncodeChunk([]float32{1})
	if err != nil {
		t.Fatalf("EncodeChunk() error = %v", err)
	}
	out, err := enc.Finalize([][]byte{a, b})
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	if len(out) != wavHeaderSize+8 {
		t.Fatalf("len = %d, want %d", len(out), wavHeaderSize+8)
	}
	le := binary.LittleEndian
	if string(out[0:4]) != "RIFF" || string(out[8:12]) != "WAVE" || string(out[36:40]) != "data" {
		t.Fatalf("malformed header % x", out[:wavHeaderSize])
	}
	if got := le.Uint32(out[4:8]); got != 36+8 {
		t.Fatalf("RIFF size = %d, want %d", got, 36+8)
	}
	if got := le.Uint32(out[24:28]); got != 16000 {
		t.Fatalf("sample rate = %d, want 16000", got)
	}
	if got := le.Uint32(out[40:44]); got != 8 {
		t.Fatalf("data size = %d, want 8", got)
	}
}

func TestWAVEncoder_RejectsMisalignedBlock(t *testing.T) {
	enc := NewWAVEncoder(&AudioConfig{SampleRate: 44100, Channels: 2})
	_, err := enc.EncodeChunk([]float32{0.1, 0.2, 0.3})
	if !errors.Is(err, ErrEncode) {
		t.Fatalf("EncodeChunk() error = %v, want ENCODE_ERROR", err)
	}
}

func TestDecodeAudio_RoundTripsWAV(t *testing.T) {
	enc := NewWAVEncoder(NewAudioConfig())
	chunk, err := enc.EncodeChunk(constantBlock(441, 0.25))
	if err != nil {
		t.Fatalf("EncodeChunk() error = %v", err)
	}
	data, err := enc.Finalize([][]byte{chunk})
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	if got := SniffFormat(data); got != "wav" {
		t.Fatalf("SniffFormat() = %q, want wav", got)
	}
	streamer, format, err := DecodeAudio(data)
	if err != nil {
		t.Fatalf("DecodeAudio() error = %v", err)
	}
	defer streamer.Close()
	if format.SampleRate != 44100 || format.NumChannels != 1 {
		t.Fatalf("format = %+v, want 44100 Hz mono", format)
	}
	if streamer.Len() != 441 {
		t.Fatalf("Len() = %d, want 441", streamer.Len())
	}

	d, err := TrackDuration(data)
	if err != nil {
		t.Fatalf("TrackDuration() error = %v", err)
	}
	if d != 10*time.Millisecond {
		t.Fatalf("TrackDuration() = %v, want 10ms", d)
	}
}

func TestDecodeAudio_UnknownFormat(t *testing.T) {
	if got := SniffFormat([]byte("hello world!")); got != "" {
		t.Fatalf("SniffFormat() = %q, want empty", got)
	}
	if got := SniffFormat([]byte("ID3\x04")); got != "mp3" {
		t.Fatalf("SniffFormat(ID3) = %q, want mp3", got)
	}
	_, _, err := DecodeAudio([]byte("hello world!"))
	if !errors.Is(err, ErrPlayback) {
		t.Fatalf("DecodeAudio() error = %v, want PLAYBACK_ERROR", err)
	}
}

func TestSniffFormat(t *testing.T) {
	tests := []struct {
		data string
		want string
	}{
		{"RIFF\x00\x00\x00\x00WAVE", "wav"},
		{"ID3\x04", "mp3"},
		{"\xff\xfb\x90", "mp3"},
		{"fLaC\x00\x00\x00\x22", "flac"},
		{"OggS\x00\x02", "ogg"},
		{"Og", ""},
	}
	for _, tt := range tests {
		if got := SniffFormat([]byte(tt.data)); got != tt.want {
			t.Errorf("SniffFormat(%q) = %q, want %q", tt.data, got, tt.want)
		}
	}
}

func TestDecodeAudio_TruncatedFLACAndOgg(t *testing.T) {
	for _, data := range []string{"fLaC\x00\x00", "OggS\x00\x02\x00\x00"} {
		if _, _, err := DecodeAudio([]byte(data)); !errors.Is(err, ErrPlayback) {
			t.Fatalf("DecodeAudio(%q) error = %v, want PLAYBACK_ERROR", data, err)
		}
	}
}
