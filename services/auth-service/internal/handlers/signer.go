package handlers

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"sort"
	"sync"

	"github.com/md-rashed-zaman/mspharm/libs/auth"
)

var (
	ErrNoKeys           = errors.New("no rsa keys found")
	ErrUnknownKid       = errors.New("unknown kid")
	ErrRotationDisabled = errors.New("rotation not supported")
)

type TokenSigner interface {
	Sign(claims auth.Claims) (string, error)
	Verify(token string) (*auth.Claims, error)
	// JWKS is empty for shared-secret signers.
	JWKS() auth.JWKSet
	// Rotate switches the active signing key.
	Rotate(kid string) error
}

type hmacSigner struct {
	secret string
}

func NewHS256Signer(secret string) TokenSigner {
	return hmacSigner{secret: secret}
}

func (s hmacSigner) Sign(claims auth.Claims) (string, error) {
	return auth.SignHS256(claims, s.secret)
}

func (s hmacSigner) Verify(token string) (*auth.Claims, error) {
	return auth.ParseAndVerifyHS256(token, s.secret)
}

func (hmacSigner) JWKS() auth.JWKSet { return auth.JWKSet{Keys: []auth.JWK{}} }

func (hmacSigner) Rotate(string) error { return ErrRotationDisabled }

// KeyRing signs with one active RSA key and verifies against all of them, so
// tokens minted before a rotation stay valid until they expire.
type KeyRing struct {
	mu     sync.RWMutex
	active string
	keys   map[string]*rsa.PrivateKey
}

// NewKeyRing loads every PEM block in pemBlobs. Keys are named by their
// derived kid unless a single key is given together with kid.
func NewKeyRing(pemBlobs []byte, kid, activeKid string) (*KeyRing, error) {
	var parsed []*rsa.PrivateKey
	rest := pemBlobs
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		key, err := parseRSAPrivateKey(block)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, key)
	}
	if len(parsed) == 0 {
		return nil, ErrNoKeys
	}
	ring := &KeyRing{keys: map[string]*rsa.PrivateKey{}}
	for _, key := range parsed {
		id := auth.KeyID(&key.PublicKey)
		if kid != "" && len(parsed) == 1 {
			id = kid
		}
		ring.keys[id] = key
	}
	ring.active = activeKid
	if ring.active == "" {
		ring.active = ring.kids()[0]
	}
	if ring.keys[ring.active] == nil {
		return nil, ErrUnknownKid
	}
	return ring, nil
}

func (k *KeyRing) kids() []string {
	out := make([]string, 0, len(k.keys))
	for kid := range k.keys {
		out = append(out, kid)
	}
	sort.Strings(out)
	return out
}

func (k *KeyRing) ActiveKid() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active
}

func (k *KeyRing) Sign(claims auth.Claims) (string, error) {
	k.mu.RLock()
	kid, key := k.active, k.keys[k.active]
	k.mu.RUnlock()
	return auth.SignRS256(claims, key, kid)
}

func (k *KeyRing) Verify(token string) (*auth.Claims, error) {
	header, err := auth.ParseHeader(token)
	if err != nil {
		return nil, err
	}
	k.mu.RLock()
	key := k.keys[header.Kid]
	k.mu.RUnlock()
	if header.Alg != "RS256" || key == nil {
		return nil, auth.ErrInvalidToken
	}
	return auth.VerifyRS256(token, &key.PublicKey)
}

func (k *KeyRing) JWKS() auth.JWKSet {
	k.mu.RLock()
	defer k.mu.RUnlock()
	set := auth.JWKSet{Keys: make([]auth.JWK, 0, len(k.keys))}
	for _, kid := range k.kids() {
		set.Keys = append(set.Keys, auth.PublicJWK(&k.keys[kid].PublicKey, kid))
	}
	return set
}

func (k *KeyRing) Rotate(kid string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.keys[kid] == nil {
		return ErrUnknownKid
	}
	k.active = kid
	return nil
}

func parseRSAPrivateKey(block *pem.Block) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("unsupported private key")
	}
	return rsaKey, nil
}
