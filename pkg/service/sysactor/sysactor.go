/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package sysactor

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/kestrelsoc/kestrel/internal/pkg/log"
	kestrelerrors "github.com/kestrelsoc/kestrel/pkg/errors"
	service "github.com/kestrelsoc/kestrel/pkg/service/spi"
	store "github.com/kestrelsoc/kestrel/pkg/store/spi"
	"github.com/kestrelsoc/kestrel/pkg/vocab"
)

var logger = log.New("sysactor")

const (
	// SystemUsername is the username of the server-owned actor that signs
	// server-level requests.
	SystemUsername = "sys"

	defaultKeySize = 2048

	mainKeyFragment = "#main-key"

	privateKeyPemType = "RSA PRIVATE KEY"
	publicKeyPemType  = "PUBLIC KEY"
)

// Config holds configuration parameters for the identity provider.
type Config struct {
	BaseURL *url.URL
	KeySize int
}

type actorStore interface {
	store.ActorRepo
	store.KeyRepo
}

// Provider resolves the actors owned by this server together with their
// signing keys. An unknown username is provisioned on first use: a 'Person'
// actor with a fresh RSA keypair, persisted so that the same key signs all
// subsequent requests.
type Provider struct {
	*Config

	store actorStore
	mutex sync.Mutex
}

// New returns a new identity provider.
func New(cfg *Config, s actorStore) *Provider {
	if cfg.KeySize == 0 {
		cfg.KeySize = defaultKeySize
	}

	return &Provider{
		Config: cfg,
		store:  s,
	}
}

// ResolveLocalActor returns the local actor with the given username, creating
// it if it does not yet exist.
func (p *Provider) ResolveLocalActor(username string) (*service.LocalActor, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	actor, err := p.store.GetActorByUsername(username)
	if err == nil {
		return p.load(actor, username)
	}

	if !errors.Is(err, store.ErrNotFound) {
		return nil, kestrelerrors.NewTransient(fmt.Errorf("retrieve actor [%s]: %w", username, err))
	}

	return p.create(vocab.TypePerson, p.actorIRI(username), username)
}

// System returns the server-owned actor that signs server-level requests.
func (p *Provider) System() (*service.LocalActor, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	actor, err := p.store.GetActorByUsername(SystemUsername)
	if err == nil {
		return p.load(actor, SystemUsername)
	}

	if !errors.Is(err, store.ErrNotFound) {
		return nil, kestrelerrors.NewTransient(fmt.Errorf("retrieve system actor: %w", err))
	}

	return p.create(vocab.TypeService, p.systemIRI(), SystemUsername)
}

func (p *Provider) load(actor *vocab.ActorType, username string) (*service.LocalActor, error) {
	keyPem, err := p.store.GetPrivateKey(username)
	if err != nil {
		return nil, kestrelerrors.NewTransient(fmt.Errorf("retrieve private key of [%s]: %w", username, err))
	}

	privateKey, err := parsePrivateKeyPem(keyPem)
	if err != nil {
		return nil, fmt.Errorf("parse private key of [%s]: %w", username, err)
	}

	publicKey := actor.PublicKey()
	if publicKey == nil || publicKey.ID.URL() == nil {
		return nil, fmt.Errorf("actor [%s] has no public key", actor.ID())
	}

	return &service.LocalActor{
		Actor:       actor,
		PrivateKey:  privateKey,
		PublicKeyID: publicKey.ID.URL(),
	}, nil
}

func (p *Provider) create(kind vocab.Type, actorIRI *url.URL, username string) (*service.LocalActor, error) {
	logger.Info("Provisioning local actor", log.WithUsername(username),
		log.WithActorIRI(vocab.NewURLProperty(actorIRI)))

	privateKey, err := rsa.GenerateKey(rand.Reader, p.KeySize)
	if err != nil {
		return nil, fmt.Errorf("generate keypair for [%s]: %w", username, err)
	}

	publicKeyPem, err := marshalPublicKeyPem(&privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key of [%s]: %w", username, err)
	}

	if err := p.store.PutPrivateKey(username, marshalPrivateKeyPem(privateKey)); err != nil {
		return nil, kestrelerrors.NewTransient(fmt.Errorf("store private key of [%s]: %w", username, err))
	}

	publicKeyIRI := vocab.MustParseURL(actorIRI.String() + mainKeyFragment)

	actor := vocab.NewActor(kind, actorIRI,
		vocab.WithPreferredUsername(username),
		vocab.WithPublicKey(vocab.NewPublicKey(
			vocab.WithID(publicKeyIRI),
			vocab.WithOwner(actorIRI),
			vocab.WithPublicKeyPem(publicKeyPem),
		)),
		vocab.WithInbox(vocab.MustParseURL(actorIRI.String()+"/inbox")),
		vocab.WithOutbox(vocab.MustParseURL(actorIRI.String()+"/outbox")),
		vocab.WithFollowers(vocab.MustParseURL(actorIRI.String()+"/followers")),
		vocab.WithFollowing(vocab.MustParseURL(actorIRI.String()+"/following")),
		vocab.WithLiked(vocab.MustParseURL(actorIRI.String()+"/liked")),
		vocab.WithSharedInbox(vocab.MustParseURL(p.BaseURL.String()+"/inbox")),
	)

	if err := p.store.PutActor(actor); err != nil {
		return nil, kestrelerrors.NewTransient(fmt.Errorf("store actor [%s]: %w", actorIRI, err))
	}

	return &service.LocalActor{
		Actor:       actor,
		PrivateKey:  privateKey,
		PublicKeyID: publicKeyIRI,
	}, nil
}

func (p *Provider) actorIRI(username string) *url.URL {
	return vocab.MustParseURL(fmt.Sprintf("%s/users/%s", p.BaseURL, username))
}

func (p *Provider) systemIRI() *url.URL {
	return vocab.MustParseURL(fmt.Sprintf("%s/services/main", p.BaseURL))
}

func marshalPrivateKeyPem(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  privateKeyPemType,
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

func marshalPublicKeyPem(key *rsa.PublicKey) (string, error) {
	keyBytes, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", err
	}

	return string(pem.EncodeToMemory(&pem.Block{
		Type:  publicKeyPemType,
		Bytes: keyBytes,
	})), nil
}

func parsePrivateKeyPem(keyPem []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(keyPem)
	if block == nil {
		return nil, fmt.Errorf("invalid PEM block")
	}

	return x509.ParsePKCS1PrivateKey(block.Bytes)
}
