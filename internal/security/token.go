package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const opaqueTokenBytes = 32

// KeyRing derives purpose-bound HMAC keys from one master secret so the video
// token hash and the device fingerprint hash never share a key.
type KeyRing struct {
	tokenKey       []byte
	fingerprintKey []byte
}

func NewKeyRing(secret string) (*KeyRing, error) {
	if len(secret) < 32 {
		return nil, errors.New("token hash secret must be at least 32 characters")
	}
	tokenKey, err := deriveKey(secret, "levelup/video-access-token")
	if err != nil {
		return nil, err
	}
	fingerprintKey, err := deriveKey(secret, "levelup/device-fingerprint")
	if err != nil {
		return nil, err
	}
	return &KeyRing{tokenKey: tokenKey, fingerprintKey: fingerprintKey}, nil
}

func deriveKey(secret, info string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(info)), key); err != nil {
		return nil, err
	}
	return key, nil
}

// NewOpaqueToken returns 32 random bytes, base64url encoded without padding.
func NewOpaqueToken() (string, error) {
	buf := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (k *KeyRing) HashToken(raw string) string {
	return keyedHash(k.tokenKey, raw)
}

// DeriveFingerprint is used when the client did not send a fingerprint. It is
// stable for one browser on one network, which is the best the server can do.
func (k *KeyRing) DeriveFingerprint(userAgent, ip string) string {
	material := strings.ToLower(strings.TrimSpace(userAgent)) + "|" + strings.TrimSpace(ip)
	return "srv_" + keyedHash(k.fingerprintKey, material)[:40]
}

func keyedHash(key []byte, value string) string {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}
