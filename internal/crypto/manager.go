// Package crypto protects replicated payloads in transit. Payload images
// are sealed into tagged envelopes with AES-256-GCM under a rotating key;
// rotated keys are retained so data encrypted before a rotation stays
// decryptable.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"

	"github.com/turbolytics/georep/internal/cdc"
	"github.com/turbolytics/georep/internal/config"
	"github.com/turbolytics/georep/internal/events"
)

// CurrentKeyID names the key new envelopes are sealed under.
const CurrentKeyID = "current"

const (
	keySize       = 32
	minIterations = 4096

	derivationSalt = "georep.payload.v1"
)

var (
	ErrNotInitialized = errors.New("encryption not initialized")
	ErrKeyNotFound    = errors.New("encryption key not found")
)

// Key is one generation of key material. Material is never mutated after
// creation, so in-flight encrypt/decrypt calls survive a rotation.
type Key struct {
	ID        string
	Algorithm string
	Material  []byte
	CreatedAt time.Time
}

// Manager owns the key lifecycle and the envelope codec.
type Manager struct {
	logger *zap.Logger
	bus    *events.Bus

	mu        sync.RWMutex
	enabled   bool
	algorithm string
	keys      map[string]*Key
	currentID string
	rotations int

	rotateStop chan struct{}
	rotateDone chan struct{}
}

type Option func(*Manager)

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithBus(bus *events.Bus) Option {
	return func(m *Manager) {
		m.bus = bus
	}
}

func New(opts ...Option) *Manager {
	m := &Manager{
		logger: zap.NewNop(),
		bus:    events.NewBus(),
		keys:   make(map[string]*Key),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize derives or generates key material per the config. When
// encryption is disabled no key is created and encrypt calls pass
// payloads through untouched.
func (m *Manager) Initialize(cfg config.Encryption) error {
	if !cfg.Enabled {
		m.mu.Lock()
		m.enabled = false
		m.mu.Unlock()
		m.logger.Info("encryption disabled, payloads pass through")
		return nil
	}

	material, err := deriveMaterial(cfg)
	if err != nil {
		return fmt.Errorf("initializing encryption: %w", err)
	}

	m.mu.Lock()
	m.enabled = true
	m.algorithm = cfg.Algorithm
	m.rotations++
	id := fmt.Sprintf("key-%d", m.rotations)
	m.keys[id] = &Key{
		ID:        id,
		Algorithm: cfg.Algorithm,
		Material:  material,
		CreatedAt: time.Now(),
	}
	m.currentID = id
	m.mu.Unlock()

	m.logger.Info("encryption initialized", zap.String("algorithm", cfg.Algorithm))
	m.bus.Emit(events.KindEncryptionInitialized, map[string]any{
		"algorithm": cfg.Algorithm,
	})
	return nil
}

func deriveMaterial(cfg config.Encryption) ([]byte, error) {
	if cfg.Secret != "" {
		iterations := cfg.KeyDerivationIterations
		if iterations < minIterations {
			iterations = minIterations
		}
		return pbkdf2.Key([]byte(cfg.Secret), []byte(derivationSalt), iterations, keySize, sha256.New), nil
	}
	return randomMaterial()
}

func randomMaterial() ([]byte, error) {
	material := make([]byte, keySize)
	if _, err := rand.Read(material); err != nil {
		return nil, err
	}
	return material, nil
}

// Enabled reports whether payload encryption is active.
func (m *Manager) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// GetKey returns the key with the given id. The id "current" resolves to
// whichever generation is active.
func (m *Manager) GetKey(id string) (*Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id == CurrentKeyID {
		id = m.currentID
	}
	key, ok := m.keys[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, id)
	}
	return key, nil
}

// CurrentKey returns the key new envelopes are sealed under.
func (m *Manager) CurrentKey() (*Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.enabled {
		return nil, ErrNotInitialized
	}
	key, ok := m.keys[m.currentID]
	if !ok {
		return nil, ErrNotInitialized
	}
	return key, nil
}

// EncryptData seals v into an envelope under the given key. A fresh nonce
// is generated per call.
func (m *Manager) EncryptData(v any, key *Key) (map[string]any, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("serializing payload: %w", err)
	}

	gcm, err := newGCM(key.Material)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	ciphertext := sealed[:len(sealed)-gcm.Overhead()]
	tag := sealed[len(sealed)-gcm.Overhead():]

	return map[string]any{
		"__encrypted": true,
		"algorithm":   key.Algorithm,
		"key_id":      key.ID,
		"iv":          base64.StdEncoding.EncodeToString(nonce),
		"auth_tag":    base64.StdEncoding.EncodeToString(tag),
		"ciphertext":  base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// DecryptData reverses EncryptData. Values that are not envelopes are
// returned unchanged, so legacy plaintext payloads flow through.
func (m *Manager) DecryptData(v any, key *Key) (any, error) {
	envelope, ok := asEnvelope(v)
	if !ok {
		return v, nil
	}

	nonce, err := base64.StdEncoding.DecodeString(envelope["iv"].(string))
	if err != nil {
		return nil, fmt.Errorf("decoding iv: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(envelope["auth_tag"].(string))
	if err != nil {
		return nil, fmt.Errorf("decoding auth tag: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(envelope["ciphertext"].(string))
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(key.Material)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting envelope (algorithm %s): %w", key.Algorithm, err)
	}

	var out any
	if err := json.Unmarshal(plaintext, &out); err != nil {
		return nil, fmt.Errorf("deserializing payload: %w", err)
	}
	return out, nil
}

func asEnvelope(v any) (map[string]any, bool) {
	env, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	flag, ok := env["__encrypted"].(bool)
	if !ok || !flag {
		return nil, false
	}
	for _, field := range []string{"iv", "auth_tag", "ciphertext"} {
		if _, ok := env[field].(string); !ok {
			return nil, false
		}
	}
	return env, true
}

func newGCM(material []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(material)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// EncryptEvent returns a shallow copy of the event with its before/after
// images replaced by envelopes. Routing fields stay plaintext. No-op when
// encryption is disabled.
func (m *Manager) EncryptEvent(ev cdc.Event) (cdc.Event, error) {
	if !m.Enabled() {
		return ev, nil
	}

	key, err := m.CurrentKey()
	if err != nil {
		return ev, err
	}

	out := ev
	if ev.Before != nil {
		env, err := m.EncryptData(ev.Before, key)
		if err != nil {
			return ev, fmt.Errorf("encrypting before image (table %s, pk %s): %w", ev.Table, ev.PrimaryKey, err)
		}
		out.Before = env
	}
	if ev.After != nil {
		env, err := m.EncryptData(ev.After, key)
		if err != nil {
			return ev, fmt.Errorf("encrypting after image (table %s, pk %s): %w", ev.Table, ev.PrimaryKey, err)
		}
		out.After = env
	}
	return out, nil
}

// DecryptEvent reverses EncryptEvent using the key named in each
// envelope, falling back to the current key for untagged envelopes.
func (m *Manager) DecryptEvent(ev cdc.Event) (cdc.Event, error) {
	out := ev
	for _, image := range []struct {
		name    string
		payload map[string]any
		assign  func(map[string]any)
	}{
		{"before", ev.Before, func(v map[string]any) { out.Before = v }},
		{"after", ev.After, func(v map[string]any) { out.After = v }},
	} {
		if image.payload == nil {
			continue
		}
		env, ok := asEnvelope(image.payload)
		if !ok {
			continue
		}
		key, err := m.keyForEnvelope(env)
		if err != nil {
			return ev, fmt.Errorf("decrypting %s image (table %s, pk %s): %w", image.name, ev.Table, ev.PrimaryKey, err)
		}
		plain, err := m.DecryptData(image.payload, key)
		if err != nil {
			return ev, fmt.Errorf("decrypting %s image (table %s, pk %s): %w", image.name, ev.Table, ev.PrimaryKey, err)
		}
		restored, ok := decodedMap(plain)
		if !ok {
			return ev, fmt.Errorf("decrypting %s image (table %s, pk %s): payload is not an object", image.name, ev.Table, ev.PrimaryKey)
		}
		image.assign(restored)
	}
	return out, nil
}

func decodedMap(v any) (map[string]any, bool) {
	out, ok := v.(map[string]any)
	return out, ok
}

func (m *Manager) keyForEnvelope(env map[string]any) (*Key, error) {
	if id, ok := env["key_id"].(string); ok && id != "" {
		if key, err := m.GetKey(id); err == nil {
			return key, nil
		}
	}
	return m.CurrentKey()
}
