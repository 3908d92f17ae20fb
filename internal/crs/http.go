package crs

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPFiller forwards fill requests to an inference bridge over HTTP. The
// bridge owns prompt construction and model access; this adapter only speaks
// the wire shape.
type HTTPFiller struct {
	baseURL string
	pattern string
	client  *http.Client
}

func NewHTTPFiller(baseURL, pattern string) *HTTPFiller {
	return &HTTPFiller{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		pattern: pattern,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type fillPayload struct {
	Pattern string `json:"pattern"`
	FillRequest
}

func (f *HTTPFiller) post(ctx context.Context, path string, req FillRequest) (*http.Response, error) {
	payload, err := json.Marshal(fillPayload{Pattern: f.pattern, FillRequest: req})
	if err != nil {
		return nil, fmt.Errorf("marshal fill request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		res.Body.Close()
		return nil, fmt.Errorf("filler bridge status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return res, nil
}

// FillStream consumes an NDJSON stream where every line is a full document
// snapshot. SSE-style "data:" prefixes are tolerated.
func (f *HTTPFiller) FillStream(ctx context.Context, req FillRequest) (SnapshotStream, error) {
	res, err := f.post(ctx, "/v1/fill/stream", req)
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(res.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &ndjsonStream{body: res.Body, scanner: scanner}, nil
}

func (f *HTTPFiller) Fill(ctx context.Context, req FillRequest) (FillResult, error) {
	res, err := f.post(ctx, "/v1/fill", req)
	if err != nil {
		return FillResult{}, err
	}
	defer res.Body.Close()

	var out FillResult
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return FillResult{}, fmt.Errorf("decode fill result: %w", err)
	}
	if out.Document == nil {
		return FillResult{}, fmt.Errorf("filler bridge returned no document")
	}
	return out, nil
}

type ndjsonStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func (s *ndjsonStream) Recv(ctx context.Context) (Document, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				// The underlying body read is bound to the request context,
				// so cancellation surfaces here as a read error.
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, fmt.Errorf("stream read: %w", err)
			}
			return nil, io.EOF
		}

		line := strings.TrimSpace(s.scanner.Text())
		line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if line == "" {
			continue
		}

		var snap Document
		if err := json.Unmarshal([]byte(line), &snap); err != nil {
			return nil, fmt.Errorf("malformed snapshot line: %w", err)
		}
		return snap, nil
	}
}

func (s *ndjsonStream) Close() error {
	return s.body.Close()
}
