package util

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sifan077/SlotBoard/internal/app/repository"
)

const (
	cursorSigLen    = 16
	cursorSecretLen = 32
)

var ErrInvalidCursor = errors.New("invalid pagination cursor")

// CursorSigner encodes page cursors as opaque HMAC-signed strings so
// clients cannot forge positions.
type CursorSigner struct {
	secret []byte
}

// NewCursorSigner returns a signer keyed by secret. With an empty secret a
// random one is generated and cursors stop validating after a restart.
func NewCursorSigner(secret []byte) (*CursorSigner, error) {
	if len(secret) == 0 {
		secret = make([]byte, cursorSecretLen)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate cursor secret: %w", err)
		}
	}
	return &CursorSigner{secret: secret}, nil
}

// Encode renders cur as "<payload>.<sig>".
func (s *CursorSigner) Encode(cur repository.PageCursor) string {
	payload := make([]byte, 8, 8+len(cur.ID))
	binary.BigEndian.PutUint64(payload, uint64(cur.PublishedAt.UnixNano()))
	payload = append(payload, cur.ID...)

	payloadEnc := base64.RawURLEncoding.EncodeToString(payload)
	sigEnc := base64.RawURLEncoding.EncodeToString(s.sign(payload)[:cursorSigLen])
	return payloadEnc + "." + sigEnc
}

// Decode verifies and parses a cursor produced by Encode.
func (s *CursorSigner) Decode(token string) (*repository.PageCursor, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return nil, ErrInvalidCursor
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil || len(payload) <= 8 {
		return nil, ErrInvalidCursor
	}

	sigProvided, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil || len(sigProvided) != cursorSigLen {
		return nil, ErrInvalidCursor
	}

	if !hmac.Equal(sigProvided, s.sign(payload)[:cursorSigLen]) {
		return nil, ErrInvalidCursor
	}

	nanos := int64(binary.BigEndian.Uint64(payload[:8]))
	return &repository.PageCursor{
		PublishedAt: time.Unix(0, nanos).UTC(),
		ID:          string(payload[8:]),
	}, nil
}

func (s *CursorSigner) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte("cursor|"))
	mac.Write(payload)
	return mac.Sum(nil)
}
