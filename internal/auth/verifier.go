// Package auth verifies bearer tokens for the API.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Modes.
const (
	ModeOff  = "off"  // every request is an admin
	ModeDev  = "dev"  // token is "subject:role", unsigned
	ModeHMAC = "hmac" // HS256 JWT with sub/role/exp claims
)

// Roles, from most to least privileged.
const (
	RoleAdmin      = "admin"
	RoleDispatcher = "dispatcher"
	RoleViewer     = "viewer"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrBadToken     = errors.New("invalid token")
	ErrExpired      = errors.New("token expired")
)

type Principal struct {
	Subject string
	Role    string
}

// Can reports whether p holds role or a more privileged one.
func (p Principal) Can(role string) bool { return rank(p.Role) >= rank(role) }

func rank(role string) int {
	switch role {
	case RoleAdmin:
		return 3
	case RoleDispatcher:
		return 2
	case RoleViewer:
		return 1
	}
	return 0
}

// Verifier validates bearer tokens according to Mode.
type Verifier struct {
	Mode       string
	HMACSecret []byte

	now func() time.Time
}

func NewVerifier(mode, secret string) *Verifier {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = ModeOff
	}
	return &Verifier{Mode: mode, HMACSecret: []byte(secret), now: time.Now}
}

// Verify returns the principal a token stands for.
func (v *Verifier) Verify(token string) (Principal, error) {
	switch v.Mode {
	case ModeOff:
		return Principal{Subject: "anonymous", Role: RoleAdmin}, nil
	case ModeDev:
		sub, role, ok := strings.Cut(token, ":")
		if !ok || sub == "" || rank(role) == 0 {
			return Principal{}, errors.New("invalid dev token; expected subject:role")
		}
		return Principal{Subject: sub, Role: role}, nil
	case ModeHMAC:
		return v.verifyHS256(token)
	}
	return Principal{}, errors.New("unsupported auth mode " + v.Mode)
}

func (v *Verifier) verifyHS256(token string) (Principal, error) {
	if token == "" {
		return Principal{}, ErrMissingToken
	}
	segs := strings.Split(token, ".")
	if len(segs) != 3 {
		return Principal{}, ErrBadToken
	}
	var hdr struct {
		Alg string `json:"alg"`
	}
	if err := decodeSegment(segs[0], &hdr); err != nil || hdr.Alg != "HS256" {
		return Principal{}, ErrBadToken
	}
	sig, err := base64.RawURLEncoding.DecodeString(segs[2])
	if err != nil {
		return Principal{}, ErrBadToken
	}
	mac := hmac.New(sha256.New, v.HMACSecret)
	mac.Write([]byte(segs[0] + "." + segs[1]))
	if !hmac.Equal(mac.Sum(nil), sig) {
		return Principal{}, ErrBadToken
	}
	var claims struct {
		Sub  string `json:"sub"`
		Role string `json:"role"`
		Exp  int64  `json:"exp"`
	}
	if err := decodeSegment(segs[1], &claims); err != nil {
		return Principal{}, ErrBadToken
	}
	if claims.Exp != 0 && v.now().Unix() >= claims.Exp {
		return Principal{}, ErrExpired
	}
	role := strings.ToLower(claims.Role)
	if rank(role) == 0 {
		role = RoleViewer
	}
	return Principal{Subject: claims.Sub, Role: role}, nil
}

func decodeSegment(seg string, dst any) error {
	b, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

// SignHS256 issues a token for the hmac mode.
func SignHS256(secret []byte, sub, role string, exp time.Time) string {
	hdr := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	claims := map[string]any{"sub": sub, "role": role}
	if !exp.IsZero() {
		claims["exp"] = exp.Unix()
	}
	body, _ := json.Marshal(claims)
	payload := base64.RawURLEncoding.EncodeToString(body)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(hdr + "." + payload))
	return hdr + "." + payload + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
