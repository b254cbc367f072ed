package talker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
)

// MaxSourceSize bounds how much a Source may deliver before loading fails.
const MaxSourceSize = 64 << 20

// Source is something playable: in-memory bytes, a file or a URL.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	String() string
}

type bytesSource struct {
	data []byte
	name string
}

// NewBytesSource wraps an in-memory buffer, such as a fresh recording.
func NewBytesSource(data []byte) Source {
	return &bytesSource{data: data, name: fmt.Sprintf("bytes(%d)", len(data))}
}

func (s *bytesSource) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

func (s *bytesSource) String() string { return s.name }

// FileSource reads a local audio file.
type FileSource struct {
	Path string
}

func (s FileSource) Open(context.Context) (io.ReadCloser, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, WrapErrorf(err, ErrCodePlayback, "cannot open audio file").AddDetail("path", s.Path)
	}
	return f, nil
}

func (s FileSource) String() string { return s.Path }

// URLSource fetches audio over HTTP, e.g. a message's synthesized reply.
type URLSource struct {
	URL    string
	Client *http.Client
	Header http.Header
}

func (s URLSource) Open(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, WrapErrorf(err, ErrCodePlayback, "invalid audio URL").AddDetail("url", s.URL)
	}
	for k, vs := range s.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, WrapErrorf(err, ErrCodePlayback, "audio download failed").AddDetail("url", s.URL)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, NewPlaybackError("audio download failed").
			AddDetail("url", s.URL).
			AddDetail("status_code", resp.StatusCode)
	}
	return resp.Body, nil
}

func (s URLSource) String() string { return s.URL }

// ReadSource loads src fully into memory.
func ReadSource(ctx context.Context, src Source) ([]byte, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, MaxSourceSize+1))
	if err != nil {
		return nil, WrapErrorf(err, ErrCodePlayback, "failed to read audio").AddDetail("source", src.String())
	}
	if len(data) > MaxSourceSize {
		return nil, NewPlaybackError("audio source too large").AddDetail("source", src.String())
	}
	if len(data) == 0 {
		return nil, NewPlaybackError("audio source is empty").AddDetail("source", src.String())
	}
	return data, nil
}
