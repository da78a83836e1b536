/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package httpsig

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kestrelsoc/kestrel/pkg/errors"
	"github.com/kestrelsoc/kestrel/pkg/vocab"
)

//nolint:gochecknoglobals
var (
	actorIRI = vocab.MustParseURL("https://pine.example/users/alice")
	keyIRI   = vocab.MustParseURL("https://pine.example/users/alice#main-key")
	inboxIRI = "https://birch.example/users/bob/inbox"
)

func TestSignAndVerify_Post(t *testing.T) {
	privKey, retriever := newActorWithKey(t, actorIRI, keyIRI)

	payload := []byte(`{"type":"Create"}`)

	req := newPostRequest(t, payload)

	require.NoError(t, NewSigner(DefaultPostSignerConfig()).SignRequest(privKey, keyIRI.String(), req, payload))

	require.NotEmpty(t, req.Header.Get("Signature"))
	require.NotEmpty(t, req.Header.Get("Date"))
	require.NotEmpty(t, req.Header.Get("Digest"))

	actor, err := NewVerifier(retriever).VerifyRequest(req)
	require.NoError(t, err)
	require.Equal(t, actorIRI.String(), actor.String())
}

func TestSignAndVerify_Get(t *testing.T) {
	privKey, retriever := newActorWithKey(t, actorIRI, keyIRI)

	req, err := http.NewRequest(http.MethodGet, "https://birch.example/users/bob", nil)
	require.NoError(t, err)

	require.NoError(t, NewSigner(DefaultGetSignerConfig()).SignRequest(privKey, keyIRI.String(), req, nil))

	actor, verifyErr := NewVerifier(retriever).VerifyRequest(req)
	require.NoError(t, verifyErr)
	require.Equal(t, actorIRI.String(), actor.String())
}

func TestVerify_MissingSignature(t *testing.T) {
	_, retriever := newActorWithKey(t, actorIRI, keyIRI)

	req := newPostRequest(t, []byte(`{}`))

	_, err := NewVerifier(retriever).VerifyRequest(req)
	require.ErrorIs(t, err, ErrMissingSignature)
}

func TestVerify_StaleDate(t *testing.T) {
	_, retriever := newActorWithKey(t, actorIRI, keyIRI)

	req := newPostRequest(t, []byte(`{}`))
	req.Header.Set("Signature", `keyId="whatever"`)
	req.Header.Set("Date", time.Now().UTC().Add(-10*time.Minute).Format(http.TimeFormat))

	_, err := NewVerifier(retriever).VerifyRequest(req)
	require.ErrorIs(t, err, ErrStaleDate)

	req.Header.Del("Date")

	_, err = NewVerifier(retriever).VerifyRequest(req)
	require.ErrorIs(t, err, ErrStaleDate)
}

func TestVerify_DigestMismatch(t *testing.T) {
	privKey, retriever := newActorWithKey(t, actorIRI, keyIRI)

	payload := []byte(`{"type":"Create"}`)

	req := newPostRequest(t, payload)

	require.NoError(t, NewSigner(DefaultPostSignerConfig()).SignRequest(privKey, keyIRI.String(), req, payload))

	// Tamper with the body after signing.
	req.Body = newBody([]byte(`{"type":"Delete"}`))

	_, err := NewVerifier(retriever).VerifyRequest(req)
	require.ErrorIs(t, err, ErrDigestMismatch)
}

func TestVerify_UnknownKey(t *testing.T) {
	privKey, _ := newActorWithKey(t, actorIRI, keyIRI)

	t.Run("key not found", func(t *testing.T) {
		retriever := &mockRetriever{
			keyErr: fmt.Errorf("not found"),
		}

		req := newSignedPostRequest(t, privKey)

		_, err := NewVerifier(retriever).VerifyRequest(req)
		require.ErrorIs(t, err, ErrUnknownKey)
	})

	t.Run("actor does not own key", func(t *testing.T) {
		// The actor declares a different key ID than the one used to sign.
		otherKeyIRI := vocab.MustParseURL("https://pine.example/users/alice#other-key")

		_, retriever := newActorWithKey(t, actorIRI, otherKeyIRI)

		retriever.keys[keyIRI.String()] = vocab.NewPublicKey(
			vocab.WithID(keyIRI),
			vocab.WithOwner(actorIRI),
			vocab.WithPublicKeyPem(retriever.keys[otherKeyIRI.String()].PublicKeyPem),
		)

		req := newSignedPostRequest(t, privKey)

		_, err := NewVerifier(retriever).VerifyRequest(req)
		require.ErrorIs(t, err, ErrUnknownKey)
	})

	t.Run("transient retrieval error", func(t *testing.T) {
		retriever := &mockRetriever{
			keyErr: errors.NewTransientf("connection refused"),
		}

		req := newSignedPostRequest(t, privKey)

		_, err := NewVerifier(retriever).VerifyRequest(req)
		require.True(t, errors.IsTransient(err))
		require.NotErrorIs(t, err, ErrUnknownKey)
	})
}

func TestVerify_SignatureInvalid(t *testing.T) {
	_, retriever := newActorWithKey(t, actorIRI, keyIRI)

	// Sign with a key that does not match the actor's published public key.
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	req := newSignedPostRequest(t, otherKey)

	_, verifyErr := NewVerifier(retriever).VerifyRequest(req)
	require.ErrorIs(t, verifyErr, ErrSignatureInvalid)
}

func TestParsePublicKeyPem(t *testing.T) {
	_, err := ParsePublicKeyPem("not a PEM block")
	require.Error(t, err)

	_, err = ParsePublicKeyPem("-----BEGIN PUBLIC KEY-----\nZm9v\n-----END PUBLIC KEY-----")
	require.Error(t, err)
}

func newPostRequest(t *testing.T, payload []byte) *http.Request {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, inboxIRI, bytes.NewReader(payload))
	require.NoError(t, err)

	return req
}

func newSignedPostRequest(t *testing.T, privKey *rsa.PrivateKey) *http.Request {
	t.Helper()

	payload := []byte(`{"type":"Create"}`)

	req := newPostRequest(t, payload)

	require.NoError(t, NewSigner(DefaultPostSignerConfig()).SignRequest(privKey, keyIRI.String(), req, payload))

	return req
}

func newBody(payload []byte) *bodyReader {
	return &bodyReader{Reader: bytes.NewReader(payload)}
}

type bodyReader struct {
	*bytes.Reader
}

func (r *bodyReader) Close() error {
	return nil
}

func newActorWithKey(t *testing.T, actorID, keyID *url.URL) (*rsa.PrivateKey, *mockRetriever) {
	t.Helper()

	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	keyBytes, err := x509.MarshalPKIXPublicKey(&privKey.PublicKey)
	require.NoError(t, err)

	keyPem := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: keyBytes})

	pubKey := vocab.NewPublicKey(
		vocab.WithID(keyID),
		vocab.WithOwner(actorID),
		vocab.WithPublicKeyPem(string(keyPem)),
	)

	actor := vocab.NewPerson(actorID, vocab.WithPublicKey(pubKey))

	return privKey, &mockRetriever{
		keys:   map[string]*vocab.PublicKeyType{keyID.String(): pubKey},
		actors: map[string]*vocab.ActorType{actorID.String(): actor},
	}
}

type mockRetriever struct {
	keys     map[string]*vocab.PublicKeyType
	actors   map[string]*vocab.ActorType
	keyErr   error
	actorErr error
}

func (m *mockRetriever) GetPublicKey(keyIRI *url.URL) (*vocab.PublicKeyType, error) {
	if m.keyErr != nil {
		return nil, m.keyErr
	}

	key, ok := m.keys[keyIRI.String()]
	if !ok {
		return nil, fmt.Errorf("key not found: %s", keyIRI)
	}

	return key, nil
}

func (m *mockRetriever) GetActor(actorIRI *url.URL) (*vocab.ActorType, error) {
	if m.actorErr != nil {
		return nil, m.actorErr
	}

	actor, ok := m.actors[actorIRI.String()]
	if !ok {
		return nil, fmt.Errorf("actor not found: %s", actorIRI)
	}

	return actor, nil
}
