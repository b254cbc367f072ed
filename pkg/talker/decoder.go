package talker

import (
	"bytes"
	"io"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
)

// SniffFormat guesses the container from the leading bytes: "wav", "mp3",
// "flac", "ogg" or "" when unknown.
func SniffFormat(data []byte) string {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return "wav"
	case len(data) >= 4 && string(data[0:4]) == "fLaC":
		return "flac"
	case len(data) >= 4 && string(data[0:4]) == "OggS":
		return "ogg"
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return "mp3"
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "mp3"
	}
	return ""
}

// DecodeAudio decodes an in-memory WAV, MP3, FLAC or Ogg Vorbis file into a
// seekable stream.
func DecodeAudio(data []byte) (beep.StreamSeekCloser, beep.Format, error) {
	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
		err      error
	)
	switch kind := SniffFormat(data); kind {
	case "wav":
		streamer, format, err = wav.Decode(bytes.NewReader(data))
	case "mp3":
		streamer, format, err = mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	case "flac":
		streamer, format, err = flac.Decode(bytes.NewReader(data))
	case "ogg":
		streamer, format, err = vorbis.Decode(io.NopCloser(bytes.NewReader(data)))
	default:
		return nil, beep.Format{}, NewPlaybackError("unsupported audio format").AddDetail("bytes", len(data))
	}
	if err != nil {
		return nil, beep.Format{}, WrapErrorf(err, ErrCodePlayback, "failed to decode audio")
	}
	return streamer, format, nil
}

// TrackDuration decodes data just far enough to report its length.
func TrackDuration(data []byte) (time.Duration, error) {
	streamer, format, err := DecodeAudio(data)
	if err != nil {
		return 0, err
	}
	defer streamer.Close()
	return format.SampleRate.D(streamer.Len()), nil
}
