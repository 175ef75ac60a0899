package synth

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/narrate/tts"
)

// RewrittenSegment is one speakable unit returned by Rewrite.
type RewrittenSegment struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// RewriteRequest asks the service to split a block into speakable segments.
type RewriteRequest struct {
	DocumentID string `json:"documentId"`
	BlockID    string `json:"blockId"`
	RawText    string `json:"rawText"`
}

// SynthesizeRequest opens a synthesis stream for every segment of a block.
type SynthesizeRequest struct {
	DocumentID string `json:"documentId"`
	BlockID    string `json:"blockId"`
	VoiceID    string `json:"voiceId"`
}

// SegmentRequest asks for one segment to be synthesized on demand.
type SegmentRequest struct {
	DocumentID   string `json:"documentId"`
	BlockID      string `json:"blockId"`
	SegmentIndex int    `json:"segmentIndex"`
	VoiceID      string `json:"voiceId"`
}

// SegmentResult is the audio of one segment synthesized on demand.
type SegmentResult struct {
	AudioURL       string              `json:"audioUrl"`
	Audio          string              `json:"audio,omitempty"`
	DurationMs     float64             `json:"durationMs"`
	WordTimestamps []tts.WordTimestamp `json:"wordTimestamps,omitempty"`
}

// Service is the synthesis service contract.
type Service interface {
	Rewrite(ctx context.Context, req RewriteRequest) ([]RewrittenSegment, error)
	Synthesize(ctx context.Context, req SynthesizeRequest) (<-chan Event, error)
	Segment(ctx context.Context, req SegmentRequest) (SegmentResult, error)
	Unload(ctx context.Context) error
}

// Cache stores rewrite responses.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, data []byte) error
}

// HTTPClient talks to the synthesis service over HTTP. Streams are read as
// server-sent events or newline delimited JSON.
type HTTPClient struct {
	baseURL string
	client  *http.Client // bounded requests
	stream  *http.Client // long lived streams, no overall timeout
	limiter *rate.Limiter
	cache   Cache
}

// NewHTTPClient creates a client for cfg. cache may be nil.
func NewHTTPClient(cfg tts.ServiceConfig, cache Cache) *HTTPClient {
	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 4)
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		stream:  &http.Client{},
		limiter: limiter,
		cache:   cache,
	}
}

// Rewrite splits raw block text into speakable segments. Responses are
// cached by document, block and text.
func (c *HTTPClient) Rewrite(ctx context.Context, req RewriteRequest) ([]RewrittenSegment, error) {
	key := rewriteKey(req)
	if c.cache != nil {
		if data, ok := c.cache.Get(key); ok {
			var segs []RewrittenSegment
			if err := json.Unmarshal(data, &segs); err == nil {
				return segs, nil
			}
		}
	}

	var resp struct {
		Segments []RewrittenSegment `json:"segments"`
	}
	if err := c.postJSON(ctx, "/rewrite", req, &resp); err != nil {
		return nil, err
	}

	// Re-index defensively; playback relies on Index == position.
	for i := range resp.Segments {
		resp.Segments[i].Index = i
	}

	if c.cache != nil {
		if data, err := json.Marshal(resp.Segments); err == nil {
			if err := c.cache.Set(key, data); err != nil {
				log.Debug("rewrite cache store failed", "block", req.BlockID, "error", err)
			}
		}
	}
	return resp.Segments, nil
}

func rewriteKey(req RewriteRequest) string {
	sum := sha256.Sum256([]byte(req.RawText))
	return "rewrite:" + req.DocumentID + ":" + req.BlockID + ":" + hex.EncodeToString(sum[:8])
}

// Synthesize opens the event stream for a block. The returned channel is
// closed when the stream ends; a stream that ends without done or fatal
// yields a FatalEvent. Cancelling ctx closes the channel without an event.
func (c *HTTPClient) Synthesize(ctx context.Context, req SynthesizeRequest) (<-chan Event, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream, application/x-ndjson")

	res, err := c.stream.Do(httpReq)
	if err != nil {
		return nil, networkError(ctx, "open synthesis stream", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer res.Body.Close() //nolint:errcheck
		return nil, statusError("synthesize", res)
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		defer res.Body.Close() //nolint:errcheck
		consumeStream(ctx, res.Body, events)
	}()
	return events, nil
}

// consumeStream decodes line framed events until a terminal event, an error
// or cancellation.
func consumeStream(ctx context.Context, body io.Reader, events chan<- Event) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 32*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") ||
			strings.HasPrefix(line, "event:") || strings.HasPrefix(line, "id:") || strings.HasPrefix(line, "retry:") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		ev, err := DecodeEvent([]byte(line))
		if err != nil {
			ev = FatalEvent{Err: err}
		}
		if !send(ctx, events, ev) {
			return
		}
		switch ev.(type) {
		case DoneEvent, FatalEvent:
			return
		}
	}

	if ctx.Err() != nil {
		return
	}
	err := scanner.Err()
	if err == nil {
		err = errors.New("stream ended before done")
	}
	send(ctx, events, FatalEvent{Err: tts.NewError(tts.ErrorCodeFatalStream, "synthesis stream interrupted", err)})
}

func send(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Segment synthesizes one segment on demand.
func (c *HTTPClient) Segment(ctx context.Context, req SegmentRequest) (SegmentResult, error) {
	var res SegmentResult
	if err := c.postJSON(ctx, "/segment", req, &res); err != nil {
		return SegmentResult{}, err
	}
	if res.AudioURL == "" && res.Audio != "" {
		res.AudioURL = "data:audio/wav;base64," + res.Audio
		res.Audio = ""
	}
	if res.AudioURL == "" || res.DurationMs < 0 || math.IsNaN(res.DurationMs) {
		return SegmentResult{}, tts.NewError(tts.ErrorCodeSegmentSynthesis, "segment response without audio", tts.ErrMalformedEvent).
			WithContext("segment", req.SegmentIndex)
	}
	if err := validateTimestamps(res.WordTimestamps); err != nil {
		res.WordTimestamps = nil
	}
	return res, nil
}

// Unload asks the service to release synthesis resources.
func (c *HTTPClient) Unload(ctx context.Context) error {
	return c.postJSON(ctx, "/unload", struct{}{}, nil)
}

func (c *HTTPClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return tts.NewError(tts.ErrorCodeNetwork, "rate limit", err)
	}
	return nil
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, in, out any) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return networkError(ctx, strings.TrimPrefix(path, "/"), err)
	}
	defer res.Body.Close() //nolint:errcheck

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return statusError(strings.TrimPrefix(path, "/"), res)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return tts.NewError(tts.ErrorCodeNetwork, "decode "+strings.TrimPrefix(path, "/")+" response", err)
	}
	return nil
}

// networkError keeps cancellations recognisable so callers can drop them.
func networkError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return tts.NewError(tts.ErrorCodeNetwork, op+" request failed", err)
}

func statusError(op string, res *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	return tts.NewError(tts.ErrorCodeNetwork,
		fmt.Sprintf("%s returned status %d", op, res.StatusCode),
		errors.New(strings.TrimSpace(string(body)))).
		WithContext("status", res.StatusCode)
}
