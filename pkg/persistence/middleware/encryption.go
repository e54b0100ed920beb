package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/bytedance/sonic"
)

// EnvelopeKey is the session variable holding the sealed payload.
const EnvelopeKey = "__encrypted__"

// ErrMissingEnvelope is returned when a stored execution was not written
// through the encryption middleware.
var ErrMissingEnvelope = errors.New("execution is missing its encrypted envelope")

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys are tried in order when the active key cannot open a
	// record, so keys can be rotated without downtime.
	FallbackKeys [][]byte
}

// sealed is the part of an execution encrypted at rest: everything that
// identifies the contact or holds their answers.
type sealed struct {
	Contact          domain.Contact      `json:"contact"`
	SessionVariables map[string]any      `json:"sessionVariables"`
	ExecutionLog     []domain.StepRecord `json:"executionLog"`
	Reason           string              `json:"reason,omitempty"`
}

type encryptionMiddleware struct {
	next   ports.ExecutionStore
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that seals contact data,
// session variables and the step log with AES-GCM. Routing fields (status,
// node, revision, timestamps) stay in clear so stores can index and
// compare them.
func NewEncryptionMiddleware(config EncryptionConfig) (Middleware, error) {
	if len(config.ActiveKey) != 32 {
		return nil, errors.New("active key must be 32 bytes (AES-256)")
	}
	for i, k := range config.FallbackKeys {
		if len(k) != 32 {
			return nil, fmt.Errorf("fallback key %d must be 32 bytes (AES-256)", i)
		}
	}
	return func(next ports.ExecutionStore) ports.ExecutionStore {
		return &encryptionMiddleware{next: next, config: config}
	}, nil
}

// ParseKey decodes a base64 AES-256 key.
func ParseKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

func (m *encryptionMiddleware) Save(ctx context.Context, exec *domain.Execution) error {
	plainText, err := sonic.Marshal(sealed{
		Contact:          exec.Contact,
		SessionVariables: exec.SessionVariables,
		ExecutionLog:     exec.ExecutionLog,
		Reason:           exec.Reason,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt execution: %w", err)
	}

	envelope := *exec
	envelope.Contact = domain.Contact{}
	envelope.SessionVariables = map[string]any{
		EnvelopeKey: base64.StdEncoding.EncodeToString(ciphertext),
	}
	envelope.ExecutionLog = []domain.StepRecord{}
	envelope.Reason = ""

	if err := m.next.Save(ctx, &envelope); err != nil {
		return err
	}
	exec.Revision = envelope.Revision
	return nil
}

func (m *encryptionMiddleware) Load(ctx context.Context, executionID string) (*domain.Execution, error) {
	envelope, err := m.next.Load(ctx, executionID)
	if err != nil {
		return nil, err
	}

	encoded, ok := envelope.SessionVariables[EnvelopeKey].(string)
	if !ok {
		return nil, fmt.Errorf("%s: %w", executionID, ErrMissingEnvelope)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}

	plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt execution %s: %w", executionID, err)
	}

	var payload sealed
	if err := sonic.Unmarshal(plainText, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decrypted execution: %w", err)
	}

	exec := envelope
	exec.Contact = payload.Contact
	exec.SessionVariables = payload.SessionVariables
	if exec.SessionVariables == nil {
		exec.SessionVariables = map[string]any{}
	}
	exec.ExecutionLog = payload.ExecutionLog
	if exec.ExecutionLog == nil {
		exec.ExecutionLog = []domain.StepRecord{}
	}
	exec.Reason = payload.Reason
	return exec, nil
}

func (m *encryptionMiddleware) ListByStatus(ctx context.Context, status domain.ExecutionStatus) ([]string, error) {
	return m.next.ListByStatus(ctx, status)
}

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
