/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package sysactor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelsoc/kestrel/pkg/store/memstore"
	"github.com/kestrelsoc/kestrel/pkg/vocab"
)

func TestProvider_ResolveLocalActor(t *testing.T) {
	s := memstore.New("sysactor")
	p := New(&Config{BaseURL: vocab.MustParseURL("https://orchard.example")}, s)

	alice, err := p.ResolveLocalActor("alice")
	require.NoError(t, err)
	require.NotNil(t, alice.PrivateKey)
	require.Equal(t, "https://orchard.example/users/alice", alice.Actor.ID().String())
	require.Equal(t, "https://orchard.example/users/alice#main-key", alice.PublicKeyID.String())
	require.True(t, alice.Actor.Type().Is(vocab.TypePerson))
	require.Equal(t, "alice", alice.Actor.PreferredUsername())
	require.Equal(t, "https://orchard.example/users/alice/inbox", alice.Actor.Inbox().String())
	require.Equal(t, "https://orchard.example/users/alice/followers", alice.Actor.Followers().String())
	require.Equal(t, "https://orchard.example/inbox", alice.Actor.SharedInbox().String())

	publicKey := alice.Actor.PublicKey()
	require.NotNil(t, publicKey)
	require.Equal(t, alice.Actor.ID().String(), publicKey.Owner.String())
	require.Contains(t, publicKey.PublicKeyPem, "PUBLIC KEY")

	// A second resolve loads the persisted actor and key instead of
	// provisioning new ones.
	again, err := p.ResolveLocalActor("alice")
	require.NoError(t, err)
	require.Equal(t, alice.Actor.ID().String(), again.Actor.ID().String())
	require.Equal(t, alice.PrivateKey.D, again.PrivateKey.D)
}

func TestProvider_System(t *testing.T) {
	s := memstore.New("sysactor")
	p := New(&Config{BaseURL: vocab.MustParseURL("https://orchard.example")}, s)

	sys, err := p.System()
	require.NoError(t, err)
	require.Equal(t, "https://orchard.example/services/main", sys.Actor.ID().String())
	require.True(t, sys.Actor.Type().Is(vocab.TypeService))
	require.Equal(t, SystemUsername, sys.Actor.PreferredUsername())

	again, err := p.System()
	require.NoError(t, err)
	require.Equal(t, sys.PrivateKey.D, again.PrivateKey.D)
}
