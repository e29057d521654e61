package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/spherical/pdfdown/internal/domain"
	"github.com/spherical/pdfdown/internal/observability"
)

// Transcriber wraps a domain.Transcriber and serves repeated page images from a Client.
// Only successful transcriptions are stored. Cache failures are logged and never fail a page.
type Transcriber struct {
	next   domain.Transcriber
	cache  Client
	ttl    time.Duration
	prefix string
	scope  string
	logger *observability.Logger
}

// NewTranscriber creates a caching transcriber. model and instruction are part of the
// key, so changing either never serves a stale transcription.
func NewTranscriber(next domain.Transcriber, client Client, ttl time.Duration, model, instruction string, logger *observability.Logger) *Transcriber {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Transcriber{
		next:   next,
		cache:  client,
		ttl:    ttl,
		prefix: ModelPrefix(model),
		scope:  model + "\x00" + instruction + "\x00",
		logger: logger.WithOperation("cache"),
	}
}

// keyNamespace prefixes every transcription entry.
const keyNamespace = "tx"

// Key returns the content address of image for the given model and instruction.
func Key(model, instruction string, image []byte) string {
	return keyFor(ModelPrefix(model), model+"\x00"+instruction+"\x00", image)
}

// ModelPrefix returns the key prefix shared by all transcriptions made with
// model. An empty model yields the prefix of every transcription.
func ModelPrefix(model string) string {
	if model == "" {
		return keyNamespace + ":"
	}
	sum := sha256.Sum256([]byte(model))
	return CacheKey(keyNamespace, hex.EncodeToString(sum[:8])) + ":"
}

// Clear removes the cached transcriptions of model, or all of them when model is empty.
func Clear(ctx context.Context, client Client, model string) error {
	return client.DeleteByPrefix(ctx, ModelPrefix(model))
}

func keyFor(prefix, scope string, image []byte) string {
	h := sha256.New()
	h.Write([]byte(scope))
	h.Write(image)
	return prefix + hex.EncodeToString(h.Sum(nil))
}

// Transcribe returns the cached transcription for image or delegates to the wrapped transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, image []byte) (string, error) {
	key := keyFor(t.prefix, t.scope, image)

	cached, err := t.cache.Get(ctx, key)
	switch {
	case err == nil && len(cached) > 0:
		t.logger.Debug().Str("key", key).Msg("Transcription cache hit")
		return string(cached), nil
	case err == nil:
		// blank entries are never written here; drop whatever put one there
		if err := t.cache.Delete(ctx, key); err != nil {
			t.logger.Warn().Err(err).Msg("Transcription cache delete failed")
		}
	case err != nil && !errors.Is(err, ErrCacheMiss):
		t.logger.Warn().Err(err).Msg("Transcription cache read failed")
	}

	text, err := t.next.Transcribe(ctx, image)
	if err != nil {
		return "", err
	}

	if text != "" {
		if err := t.cache.Set(ctx, key, []byte(text), t.ttl); err != nil {
			t.logger.Warn().Err(err).Msg("Transcription cache write failed")
		}
	}

	return text, nil
}
