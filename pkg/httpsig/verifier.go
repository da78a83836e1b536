/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package httpsig

import (
	"bytes"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	goerrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-fed/httpsig"

	"github.com/kestrelsoc/kestrel/internal/pkg/log"
	"github.com/kestrelsoc/kestrel/pkg/errors"
	"github.com/kestrelsoc/kestrel/pkg/vocab"
)

const (
	signatureHeader = "Signature"
	digestHeader    = "Digest"

	digestPrefix = "SHA-256="

	// maxClockSkew is the maximum difference between the Date header and the
	// current time for which a request is still accepted.
	maxClockSkew = 5 * time.Minute
)

// The verifier distinguishes the reason a signature was rejected so that the
// caller can respond (and log) accordingly. All of these errors indicate that
// the request must be rejected as unauthorized.
var (
	// ErrMissingSignature indicates that the request carries no Signature header.
	ErrMissingSignature = goerrors.New("missing http signature")

	// ErrUnknownKey indicates that the signing key could not be resolved to an actor,
	// or that the resolved actor does not own the key.
	ErrUnknownKey = goerrors.New("unknown signing key")

	// ErrStaleDate indicates that the Date header is missing or outside the
	// acceptable clock skew.
	ErrStaleDate = goerrors.New("stale request date")

	// ErrDigestMismatch indicates that the Digest header does not match the request body.
	ErrDigestMismatch = goerrors.New("digest mismatch")

	// ErrSignatureInvalid indicates that the signature does not verify against the
	// resolved public key.
	ErrSignatureInvalid = goerrors.New("invalid http signature")
)

type actorRetriever interface {
	GetPublicKey(keyIRI *url.URL) (*vocab.PublicKeyType, error)
	GetActor(actorIRI *url.URL) (*vocab.ActorType, error)
}

// Verifier verifies the HTTP signatures on incoming requests.
type Verifier struct {
	retriever actorRetriever
}

// NewVerifier returns a verifier that resolves public keys and actors using the
// given retriever.
func NewVerifier(retriever actorRetriever) *Verifier {
	return &Verifier{
		retriever: retriever,
	}
}

// VerifyRequest verifies the signature on the given HTTP request and returns the
// IRI of the actor that owns the signing key. A nil error is returned only if the
// signature verifies and the key ownership check passes.
//
// On failure the returned error wraps one of ErrMissingSignature, ErrStaleDate,
// ErrDigestMismatch, ErrUnknownKey, or ErrSignatureInvalid, unless the key or
// actor could not be retrieved due to a transient error, in which case a
// transient error is returned so that the caller may retry.
func (v *Verifier) VerifyRequest(req *http.Request) (*url.URL, error) {
	if req.Header.Get(signatureHeader) == "" {
		return nil, ErrMissingSignature
	}

	if err := verifyDate(req); err != nil {
		return nil, err
	}

	if req.Method == http.MethodPost {
		if err := verifyDigest(req); err != nil {
			return nil, err
		}
	}

	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSignatureInvalid, err)
	}

	keyIRI, err := url.Parse(verifier.KeyId())
	if err != nil {
		return nil, fmt.Errorf("%w: invalid keyId [%s]", ErrUnknownKey, verifier.KeyId())
	}

	actorIRI, pubKey, err := v.resolveKey(keyIRI)
	if err != nil {
		return nil, err
	}

	if err := verifier.Verify(pubKey, httpsig.RSA_SHA256); err != nil {
		logger.Debug("Signature verification failed",
			log.WithKeyID(keyIRI.String()), log.WithError(err))

		return nil, fmt.Errorf("%w: %s", ErrSignatureInvalid, err)
	}

	logger.Debug("Verified signature", log.WithKeyID(keyIRI.String()),
		log.WithActorIRI(actorIRI))

	return actorIRI, nil
}

// resolveKey resolves the given key IRI to an RSA public key and the actor that
// owns it. The key is rejected if the owner's declared public key ID does not
// match the key ID in the signature, which prevents an actor from signing with
// another actor's key.
func (v *Verifier) resolveKey(keyIRI *url.URL) (*url.URL, *rsa.PublicKey, error) {
	key, err := v.retriever.GetPublicKey(keyIRI)
	if err != nil {
		if errors.IsTransient(err) {
			return nil, nil, fmt.Errorf("retrieve public key [%s]: %w", keyIRI, err)
		}

		return nil, nil, fmt.Errorf("%w: retrieve public key [%s]: %s", ErrUnknownKey, keyIRI, err)
	}

	ownerIRI := key.Owner.URL()
	if ownerIRI == nil {
		return nil, nil, fmt.Errorf("%w: public key [%s] has no owner", ErrUnknownKey, keyIRI)
	}

	actor, err := v.retriever.GetActor(ownerIRI)
	if err != nil {
		if errors.IsTransient(err) {
			return nil, nil, fmt.Errorf("retrieve actor [%s]: %w", ownerIRI, err)
		}

		return nil, nil, fmt.Errorf("%w: retrieve actor [%s]: %s", ErrUnknownKey, ownerIRI, err)
	}

	actorKey := actor.PublicKey()
	if actorKey == nil || actorKey.ID.String() != keyIRI.String() {
		return nil, nil, fmt.Errorf("%w: actor [%s] does not own key [%s]", ErrUnknownKey, ownerIRI, keyIRI)
	}

	pubKey, err := ParsePublicKeyPem(actorKey.PublicKeyPem)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: parse public key [%s]: %s", ErrUnknownKey, keyIRI, err)
	}

	return actor.ID().URL(), pubKey, nil
}

// ParsePublicKeyPem parses a PEM-encoded RSA public key.
func ParsePublicKeyPem(keyPem string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(keyPem))
	if block == nil {
		return nil, fmt.Errorf("invalid PEM block")
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}

	return rsaKey, nil
}

func verifyDate(req *http.Request) error {
	dateStr := req.Header.Get(dateHeader)
	if dateStr == "" {
		return fmt.Errorf("%w: missing Date header", ErrStaleDate)
	}

	date, err := http.ParseTime(dateStr)
	if err != nil {
		return fmt.Errorf("%w: invalid Date header [%s]", ErrStaleDate, dateStr)
	}

	if skew := time.Since(date); skew > maxClockSkew || skew < -maxClockSkew {
		return fmt.Errorf("%w: request date [%s] is outside the acceptable clock skew", ErrStaleDate, dateStr)
	}

	return nil
}

func verifyDigest(req *http.Request) error {
	digest := req.Header.Get(digestHeader)
	if digest == "" {
		return fmt.Errorf("%w: missing Digest header", ErrDigestMismatch)
	}

	if !strings.HasPrefix(digest, digestPrefix) {
		return fmt.Errorf("%w: unsupported digest algorithm [%s]", ErrDigestMismatch, digest)
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}

	// Restore the body so that it may be read again by downstream handlers.
	req.Body = io.NopCloser(bytes.NewReader(body))

	hash := sha256.Sum256(body)

	if digest != digestPrefix+base64.StdEncoding.EncodeToString(hash[:]) {
		return fmt.Errorf("%w: Digest header does not match the request body", ErrDigestMismatch)
	}

	return nil
}
