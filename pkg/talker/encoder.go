package talker

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Encoder turns captured sample blocks into chunks and joins the chunks of a
// session into the final artifact.
type Encoder interface {
	MIMEType() string
	EncodeChunk(samples []float32) ([]byte, error)
	Finalize(chunks [][]byte) ([]byte, error)
}

// EncoderFactory returns a fresh encoder for each recording session.
type EncoderFactory func(cfg *AudioConfig) Encoder

const wavHeaderSize = 44

// WAVEncoder produces 16 bit PCM RIFF/WAVE files.
type WAVEncoder struct {
	SampleRate int
	Channels   int
}

func NewWAVEncoder(cfg *AudioConfig) Encoder {
	return &WAVEncoder{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
}

func (e *WAVEncoder) MIMEType() string { return "audio/wav" }

func (e *WAVEncoder) EncodeChunk(samples []float32) ([]byte, error) {
	if len(samples)%e.Channels != 0 {
		return nil, NewEncodeError("sample block is not frame aligned").
			AddDetail("samples", len(samples)).
			AddDetail("channels", e.Channels)
	}
	return FloatToPCM16(samples), nil
}

func (e *WAVEncoder) Finalize(chunks [][]byte) ([]byte, error) {
	var dataLen int
	for _, c := range chunks {
		dataLen += len(c)
	}
	if uint64(dataLen) > math.MaxUint32-wavHeaderSize {
		return nil, NewEncodeError("recording too large for a WAV container").AddDetail("bytes", dataLen)
	}

	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + dataLen)

	blockAlign := e.Channels * 2
	le := binary.LittleEndian
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, le, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, le, uint32(16))
	_ = binary.Write(&buf, le, uint16(1)) // PCM
	_ = binary.Write(&buf, le, uint16(e.Channels))
	_ = binary.Write(&buf, le, uint32(e.SampleRate))
	_ = binary.Write(&buf, le, uint32(e.SampleRate*blockAlign))
	_ = binary.Write(&buf, le, uint16(blockAlign))
	_ = binary.Write(&buf, le, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, le, uint32(dataLen))
	for _, c := range chunks {
		buf.Write(c)
	}
	return buf.Bytes(), nil
}
