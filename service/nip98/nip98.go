package nip98

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/zyedidia/generic/mapset"
)

const (
	KindHTTPAuth = 27235
	Scheme       = "Nostr "

	DefaultWindow = 60 * time.Second
	futureSkew    = 60 * time.Second
)

var (
	ErrBadScheme       = errors.New("nip98: invalid auth header format")
	ErrBadEvent        = errors.New("nip98: failed to decode event")
	ErrWrongKind       = errors.New("nip98: invalid event kind")
	ErrTamperedEvent   = errors.New("nip98: event id mismatch")
	ErrBadSignature    = errors.New("nip98: invalid event signature")
	ErrExpired         = errors.New("nip98: event expired")
	ErrFromFuture      = errors.New("nip98: event from the future")
	ErrURLMismatch     = errors.New("nip98: url mismatch")
	ErrMethodMismatch  = errors.New("nip98: method mismatch")
	ErrPayloadMismatch = errors.New("nip98: payload hash mismatch")
	ErrNotAuthorized   = errors.New("nip98: pubkey not authorized")
)

type Config struct {
	// Window is the maximum event age, DefaultWindow when zero.
	Window time.Duration
	// Allowlist holds hex or npub pubkeys. Empty means any valid signer.
	Allowlist []string
}

type Request struct {
	Header string
	URL    string
	Method string
	Body   []byte
}

type Identity struct {
	Pubkey string `json:"pubkey"`
	Npub   string `json:"npub"`
}

type Verifier struct {
	window  time.Duration
	allowed mapset.Set[string]
	size    int
	now     func() time.Time
}

// New normalizes the allowlist up front; entries that are neither hex nor npub are an error.
func New(cfg Config) (*Verifier, error) {
	v := &Verifier{
		window:  cfg.Window,
		allowed: mapset.New[string](),
		now:     time.Now,
	}

	if v.window <= 0 {
		v.window = DefaultWindow
	}

	for _, entry := range cfg.Allowlist {
		if strings.TrimSpace(entry) == "" {
			continue
		}

		pk, err := NormalizePubkey(entry)
		if err != nil {
			return nil, err
		}

		if !v.allowed.Has(pk) {
			v.allowed.Put(pk)
			v.size++
		}
	}

	return v, nil
}

// Restricted reports whether an allowlist is in force.
func (v *Verifier) Restricted() bool {
	return v.size > 0
}

// Verify authenticates req and requires the signer to be on the allowlist when one is set.
func (v *Verifier) Verify(req Request) (*Identity, error) {
	id, err := v.Authenticate(req)
	if err != nil {
		return nil, err
	}

	if !v.Allowed(id.Pubkey) {
		return nil, ErrNotAuthorized
	}

	return id, nil
}

// Allowed reports whether pubkey passes the allowlist. Any key passes an empty one.
func (v *Verifier) Allowed(pubkey string) bool {
	return !v.Restricted() || v.allowed.Has(pubkey)
}

// Authenticate checks the event signature and its binding to req, ignoring the allowlist.
func (v *Verifier) Authenticate(req Request) (*Identity, error) {
	if !strings.HasPrefix(req.Header, Scheme) {
		return nil, ErrBadScheme
	}

	evt, err := decodeEvent(req.Header[len(Scheme):])
	if err != nil {
		return nil, err
	}

	if evt.Kind != KindHTTPAuth {
		return nil, fmt.Errorf("%w: %d", ErrWrongKind, evt.Kind)
	}

	if evt.GetID() != evt.ID {
		return nil, ErrTamperedEvent
	}

	if ok, err := evt.CheckSignature(); err != nil || !ok {
		return nil, ErrBadSignature
	}

	now := v.now().Unix()
	created := int64(evt.CreatedAt)
	if now-created > int64(v.window/time.Second) {
		return nil, ErrExpired
	}

	if created > now+int64(futureSkew/time.Second) {
		return nil, ErrFromFuture
	}

	u, ok := tagValue(evt, "u")
	if !ok || strings.TrimSuffix(u, "/") != strings.TrimSuffix(req.URL, "/") {
		return nil, fmt.Errorf("%w: %q != %q", ErrURLMismatch, u, req.URL)
	}

	method, ok := tagValue(evt, "method")
	if !ok || !strings.EqualFold(method, req.Method) {
		return nil, fmt.Errorf("%w: %q != %q", ErrMethodMismatch, method, req.Method)
	}

	if len(req.Body) > 0 {
		if payload, ok := tagValue(evt, "payload"); ok {
			sum := sha256.Sum256(req.Body)
			if !strings.EqualFold(payload, hex.EncodeToString(sum[:])) {
				return nil, ErrPayloadMismatch
			}
		}
	}

	npub, err := nip19.EncodePublicKey(evt.PubKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEvent, err)
	}

	return &Identity{Pubkey: evt.PubKey, Npub: npub}, nil
}

// VerifyHTTP verifies r against the absolute URL it was sent to. body is the already read request body.
func (v *Verifier) VerifyHTTP(r *http.Request, absoluteURL string, body []byte) (*Identity, error) {
	return v.Verify(Request{
		Header: r.Header.Get("Authorization"),
		URL:    absoluteURL,
		Method: r.Method,
		Body:   body,
	})
}

func decodeEvent(s string) (*nostr.Event, error) {
	s = strings.NewReplacer("-", "+", "_", "/").Replace(strings.TrimSpace(s))
	if n := len(s) % 4; n != 0 {
		s += strings.Repeat("=", 4-n)
	}

	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEvent, err)
	}

	var evt nostr.Event
	if err := json.Unmarshal(b, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEvent, err)
	}

	if evt.PubKey == "" || evt.Sig == "" || evt.ID == "" {
		return nil, fmt.Errorf("%w: incomplete event", ErrBadEvent)
	}

	return &evt, nil
}

func tagValue(evt *nostr.Event, name string) (string, bool) {
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1], true
		}
	}

	return "", false
}

// NormalizePubkey turns an npub or a hex pubkey into lowercase hex.
func NormalizePubkey(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "npub") {
		prefix, value, err := nip19.Decode(s)
		if err != nil || prefix != "npub" {
			return "", fmt.Errorf("invalid npub %q", s)
		}

		pk, _ := value.(string)
		return pk, nil
	}

	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return "", fmt.Errorf("invalid hex pubkey %q", s)
	}

	return strings.ToLower(s), nil
}

// Header builds an Authorization header value for the given request, signed with sk.
func Header(sk, url, method string, body []byte) (string, error) {
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return "", err
	}

	evt := nostr.Event{
		PubKey:    pk,
		CreatedAt: nostr.Now(),
		Kind:      KindHTTPAuth,
		Tags: nostr.Tags{
			{"u", url},
			{"method", strings.ToUpper(method)},
		},
	}

	if len(body) > 0 {
		sum := sha256.Sum256(body)
		evt.Tags = append(evt.Tags, nostr.Tag{"payload", hex.EncodeToString(sum[:])})
	}

	if err := evt.Sign(sk); err != nil {
		return "", err
	}

	b, err := json.Marshal(evt)
	if err != nil {
		return "", err
	}

	return Scheme + base64.StdEncoding.EncodeToString(b), nil
}
