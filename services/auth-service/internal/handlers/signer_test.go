package handlers

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/md-rashed-zaman/mspharm/libs/auth"
	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func customerClaims() auth.Claims {
	return auth.NewClaims("33333333-3333-3333-3333-333333333333", "홍길동", httpx.RoleCustomer, httpx.KindCustomer,
		CustomerIssuer, time.Now(), time.Hour)
}

func pemKeys(t *testing.T, n int) ([]byte, []*rsa.PrivateKey) {
	t.Helper()
	var out []byte
	var keys []*rsa.PrivateKey
	for i := 0; i < n; i++ {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		keys = append(keys, key)
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})...)
	}
	return out, keys
}

func TestHS256SignerRoundTrip(t *testing.T) {
	s := NewHS256Signer("secret")
	tok, err := s.Sign(customerClaims())
	require.NoError(t, err)
	claims, err := s.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, httpx.KindCustomer, claims.Kind)
	assert.Empty(t, s.JWKS().Keys)
	assert.ErrorIs(t, s.Rotate("x"), ErrRotationDisabled)
}

func TestKeyRingRotationKeepsOldTokensValid(t *testing.T) {
	blob, keys := pemKeys(t, 2)
	first, second := auth.KeyID(&keys[0].PublicKey), auth.KeyID(&keys[1].PublicKey)

	ring, err := NewKeyRing(blob, "", first)
	require.NoError(t, err)
	assert.Len(t, ring.JWKS().Keys, 2)

	old, err := ring.Sign(customerClaims())
	require.NoError(t, err)
	header, err := auth.ParseHeader(old)
	require.NoError(t, err)
	assert.Equal(t, first, header.Kid)

	require.NoError(t, ring.Rotate(second))
	assert.Equal(t, second, ring.ActiveKid())
	fresh, err := ring.Sign(customerClaims())
	require.NoError(t, err)
	header, _ = auth.ParseHeader(fresh)
	assert.Equal(t, second, header.Kid)

	for _, tok := range []string{old, fresh} {
		_, err := ring.Verify(tok)
		assert.NoError(t, err)
	}
	assert.ErrorIs(t, ring.Rotate("missing"), ErrUnknownKid)
}

func TestKeyRingSingleKeyUsesConfiguredKid(t *testing.T) {
	blob, _ := pemKeys(t, 1)
	ring, err := NewKeyRing(blob, "pharm-1", "")
	require.NoError(t, err)
	assert.Equal(t, "pharm-1", ring.ActiveKid())

	_, err = NewKeyRing([]byte("not a pem"), "", "")
	assert.ErrorIs(t, err, ErrNoKeys)
	_, err = NewKeyRing(blob, "pharm-1", "other")
	assert.ErrorIs(t, err, ErrUnknownKid)
}

func TestKeyRingRejectsHS256Token(t *testing.T) {
	blob, _ := pemKeys(t, 1)
	ring, err := NewKeyRing(blob, "", "")
	require.NoError(t, err)
	tok, err := NewHS256Signer("secret").Sign(customerClaims())
	require.NoError(t, err)
	_, err = ring.Verify(tok)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestJWKSEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	newMux(newTestHandler(nil)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	blob, keys := pemKeys(t, 1)
	ring, err := NewKeyRing(blob, "", "")
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	newMux(newTestHandler(ring)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var set auth.JWKSet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &set))
	require.Len(t, set.Keys, 1)
	assert.Equal(t, auth.PublicJWK(&keys[0].PublicKey, auth.KeyID(&keys[0].PublicKey)), set.Keys[0])
}
