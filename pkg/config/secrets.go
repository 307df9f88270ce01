package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/scrypt"
)

// Secrets file configuration.
const (
	secretsFileName = "secrets.json.enc"
	saltSize        = 16
	scryptN         = 32768 // 2^15
	scryptR         = 8
	scryptP         = 1
	keySize         = 32 // AES-256

	// APITokenSecret is the secrets key holding the agent server token.
	APITokenSecret = "api_token"

	// APITokenEnv overrides the secrets file when set.
	APITokenEnv = "OVERSEER_API_TOKEN"
)

// secretsEnvelope is the on-disk shape of the encrypted secrets file.
type secretsEnvelope struct {
	Salt  string `json:"salt"`
	Nonce string `json:"nonce"`
	Data  string `json:"data"`
}

// deriveKey stretches the passphrase into an AES-256 key with scrypt.
func deriveKey(passphrase string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// SaveSecrets encrypts and writes the secrets map to the project's
// .overseer directory.
func SaveSecrets(dir, passphrase string, secrets map[string]string) error {
	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("failed to serialize secrets: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	envelope := secretsEnvelope{
		Salt:  base64.StdEncoding.EncodeToString(salt),
		Nonce: base64.StdEncoding.EncodeToString(nonce),
		Data:  base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, plaintext, nil)),
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to serialize secrets envelope: %w", err)
	}

	configDir := filepath.Join(dir, ProjectConfigDir)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	path := filepath.Join(configDir, secretsFileName)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}
	return nil
}

// LoadSecrets reads and decrypts the secrets file. A wrong passphrase
// surfaces as a decryption error.
func LoadSecrets(dir, passphrase string) (map[string]string, error) {
	path := filepath.Join(dir, ProjectConfigDir, secretsFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets file: %w", err)
	}

	var envelope secretsEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse secrets envelope: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(envelope.Salt)
	if err != nil {
		return nil, fmt.Errorf("failed to decode salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(envelope.Nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(envelope.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secrets (wrong passphrase?): %w", err)
	}

	var secrets map[string]string
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("failed to parse secrets: %w", err)
	}
	return secrets, nil
}

// HasSecretsFile reports whether the project has an encrypted secrets file.
func HasSecretsFile(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ProjectConfigDir, secretsFileName))
	return err == nil
}

// GetAPIToken resolves the agent server token using standard precedence:
// environment variable first, then the encrypted secrets file. An empty
// passphrase skips the secrets file.
func GetAPIToken(dir, passphrase string) (string, error) {
	if token := os.Getenv(APITokenEnv); token != "" {
		return token, nil
	}
	if passphrase == "" || !HasSecretsFile(dir) {
		return "", fmt.Errorf("no API token: set %s or store one in the secrets file", APITokenEnv)
	}

	secrets, err := LoadSecrets(dir, passphrase)
	if err != nil {
		return "", err
	}
	token, ok := secrets[APITokenSecret]
	if !ok || token == "" {
		return "", fmt.Errorf("secrets file has no %s entry", APITokenSecret)
	}
	return token, nil
}
