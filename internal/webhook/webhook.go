// Package webhook implements WebhookPipeline (spec.md §4.8): signature
// verification, content-hash dedup, a durable per-platform FIFO queue, and
// an async worker that drains it with exponential backoff into
// EntityResolver + catalog upsert.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/streamline/gateway/internal/apperr"
	"github.com/streamline/gateway/internal/types"
)

// Verifier checks an inbound webhook's HMAC-SHA256 signature over the raw
// request body, fail-closed: any mismatch or missing secret is rejected,
// never queued, never counted against dedup (spec.md §4.8).
type Verifier struct {
	secrets map[string]string // platform -> shared secret
}

// NewVerifier builds a Verifier from per-platform HMAC secrets
// (config.WebhooksConfig.Secrets, populated from the environment).
func NewVerifier(secrets map[string]string) *Verifier {
	return &Verifier{secrets: secrets}
}

// Verify computes HMAC-SHA256(secret, rawBody) and compares it in constant
// time against the hex-encoded signature the platform sent. Returns an
// apperr of KindUnauthorized on any failure.
func (v *Verifier) Verify(platform string, rawBody []byte, signature string) error {
	secret, ok := v.secrets[platform]
	if !ok || secret == "" {
		return apperr.New(apperr.KindUnauthorized, "no webhook secret configured for platform "+platform).WithCode("missing_secret")
	}
	if signature == "" {
		return apperr.New(apperr.KindUnauthorized, "missing webhook signature").WithCode("missing_signature")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	given, err := hex.DecodeString(signature)
	if err != nil {
		return apperr.New(apperr.KindUnauthorized, "malformed webhook signature").WithCode("bad_signature")
	}
	if subtle.ConstantTimeCompare(expected, given) != 1 {
		return apperr.New(apperr.KindUnauthorized, "webhook signature mismatch").WithCode("bad_signature")
	}
	return nil
}

// Dedup tracks content hashes seen within the dedup window, fronted by an
// in-memory LRU+TTL cache (spec.md §4.8: "content hash, 24h TTL").
type Dedup struct {
	seen *lru.LRU[string, struct{}]
}

// NewDedup builds a Dedup cache with the given TTL and capacity.
func NewDedup(ttl time.Duration, capacity int) *Dedup {
	if capacity <= 0 {
		capacity = 100_000
	}
	return &Dedup{seen: lru.NewLRU[string, struct{}](capacity, nil, ttl)}
}

// CheckAndMark reports whether hash has already been seen within the
// window; if not, it records it and returns false (not a duplicate).
func (d *Dedup) CheckAndMark(hash string) (duplicate bool) {
	if _, ok := d.seen.Get(hash); ok {
		return true
	}
	d.seen.Add(hash, struct{}{})
	return false
}

// Canonicalize produces a stable byte representation of a JSON payload —
// object keys sorted recursively, no insignificant whitespace — so
// semantically identical payloads with differing key order hash the same
// way for ContentHash (spec.md §3's dedup key requires this). Reads with
// gjson, rebuilds sorted output with sjson, per
// internal/types/webhook.go's doc comment.
func Canonicalize(raw json.RawMessage) ([]byte, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("canonicalize: invalid JSON payload")
	}
	canon, err := canonicalizeValue(gjson.ParseBytes(raw))
	if err != nil {
		return nil, err
	}
	return canon, nil
}

func canonicalizeValue(v gjson.Result) ([]byte, error) {
	switch {
	case v.IsObject():
		keys := make([]string, 0)
		fields := map[string]gjson.Result{}
		v.ForEach(func(key, value gjson.Result) bool {
			k := key.String()
			keys = append(keys, k)
			fields[k] = value
			return true
		})
		sort.Strings(keys)

		out := []byte("{}")
		var err error
		for _, k := range keys {
			childRaw, cErr := canonicalizeValue(fields[k])
			if cErr != nil {
				return nil, cErr
			}
			out, err = sjson.SetRawBytes(out, k, childRaw)
			if err != nil {
				return nil, fmt.Errorf("canonicalize object field %q: %w", k, err)
			}
		}
		return out, nil

	case v.IsArray():
		out := []byte("[]")
		idx := 0
		var err error
		var iterErr error
		v.ForEach(func(_, value gjson.Result) bool {
			var childRaw []byte
			childRaw, iterErr = canonicalizeValue(value)
			if iterErr != nil {
				return false
			}
			out, err = sjson.SetRawBytes(out, fmt.Sprintf("%d", idx), childRaw)
			if err != nil {
				iterErr = err
				return false
			}
			idx++
			return true
		})
		if iterErr != nil {
			return nil, fmt.Errorf("canonicalize array element %d: %w", idx, iterErr)
		}
		return out, nil

	default:
		return []byte(v.Raw), nil
	}
}

// ContentHash canonicalizes payload and computes the dedup key for evt,
// wiring internal/types.WebhookEvent.ContentHash's canonicalPayload
// contract.
func ContentHash(evt types.WebhookEvent) (string, error) {
	canon, err := Canonicalize(evt.Payload)
	if err != nil {
		return "", fmt.Errorf("content hash: %w", err)
	}
	return evt.ContentHash(canon), nil
}

// Receive runs the synchronous half of the pipeline: verify, then dedup
// check. Returns (duplicate, hash, err): err is non-nil for verification
// failures (fail-closed, never counted as a duplicate) and, as
// KindInvalidInput, for a payload that cannot be canonicalized as JSON;
// duplicate is true
// when the signature is valid but the content hash was already seen
// within the window — the caller should acknowledge (200) without
// enqueueing again.
func Receive(ctx context.Context, v *Verifier, d *Dedup, evt types.WebhookEvent) (duplicate bool, hash string, err error) {
	if err := v.Verify(evt.Platform, evt.Payload, evt.Signature); err != nil {
		return false, "", err
	}
	hash, err = ContentHash(evt)
	if err != nil {
		return false, "", apperr.Wrap(apperr.KindInvalidInput, "could not canonicalize webhook payload", err)
	}
	if d.CheckAndMark(hash) {
		return true, hash, nil
	}
	return false, hash, nil
}
