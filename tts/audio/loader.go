package audio

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// ErrFetch is returned when an audio payload cannot be retrieved.
var ErrFetch = errors.New("unable to fetch audio")

// maxPayload bounds a single audio download.
const maxPayload = 256 << 20

// Cache stores raw audio payloads by URL.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, data []byte) error
}

// Loader resolves audio URLs (data:, http(s):, file: or plain paths) to
// decoded buffers in the graph's output format.
type Loader struct {
	client     *http.Client
	cache      Cache
	sampleRate int
	channels   int
}

// NewLoader creates a loader. cache may be nil.
func NewLoader(client *http.Client, cache Cache, sampleRate, channels int) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Loader{
		client:     client,
		cache:      cache,
		sampleRate: sampleRate,
		channels:   channels,
	}
}

// Load fetches and decodes the audio at rawURL.
func (l *Loader) Load(ctx context.Context, rawURL string) (*Buffer, error) {
	data, err := l.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	buf, err := DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", redact(rawURL), err)
	}
	return buf.Convert(l.sampleRate, l.channels), nil
}

// Warm fetches rawURL into the cache without decoding it.
func (l *Loader) Warm(ctx context.Context, rawURL string) error {
	if strings.HasPrefix(rawURL, "data:") {
		return nil
	}
	_, err := l.Fetch(ctx, rawURL)
	return err
}

// Fetch returns the raw payload for rawURL, consulting the cache first.
func (l *Loader) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if strings.HasPrefix(rawURL, "data:") {
		return decodeDataURL(rawURL)
	}

	if l.cache != nil {
		if data, ok := l.cache.Get(rawURL); ok {
			return data, nil
		}
	}

	data, err := l.fetchRemote(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	if l.cache != nil {
		if err := l.cache.Set(rawURL, data); err != nil {
			log.Debug("audio cache store failed", "url", redact(rawURL), "error", err)
		}
	}
	return data, nil
}

func (l *Loader) fetchRemote(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	switch u.Scheme {
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFetch, err)
		}
		resp, err := l.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFetch, err)
		}
		defer resp.Body.Close() //nolint:errcheck
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: %s returned %s", ErrFetch, redact(rawURL), resp.Status)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxPayload))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFetch, err)
		}
		return data, nil
	case "file":
		return readFile(u.Path)
	case "":
		return readFile(rawURL)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrFetch, u.Scheme)
	}
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	return data, nil
}

// decodeDataURL decodes an RFC 2397 data URL.
func decodeDataURL(raw string) ([]byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(raw, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("%w: malformed data url", ErrFetch)
	}
	if strings.HasSuffix(meta, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFetch, err)
		}
		return data, nil
	}
	data, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	return []byte(data), nil
}

// DataURL wraps a WAV payload in a base64 data URL.
func DataURL(wav []byte) string {
	return "data:audio/wav;base64," + base64.StdEncoding.EncodeToString(wav)
}

// redact shortens data URLs for logs and errors.
func redact(raw string) string {
	if strings.HasPrefix(raw, "data:") && len(raw) > 32 {
		return raw[:32] + "..."
	}
	return raw
}
