/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package activityhandler

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/kestrelsoc/kestrel/internal/pkg/log"
	kestrelerrors "github.com/kestrelsoc/kestrel/pkg/errors"
	store "github.com/kestrelsoc/kestrel/pkg/store/spi"
	"github.com/kestrelsoc/kestrel/pkg/vocab"
)

// Outbox applies the local side effects of activities posted by local actors,
// before they are delivered to remote recipients.
type Outbox struct {
	*handler
}

// NewOutbox returns a new outbox activity handler.
func NewOutbox(cfg *Config, s store.Store) *Outbox {
	h := &Outbox{}

	h.handler = newHandler(cfg, s, nil, h.undoFollowing, h.undoLike, h.undoAnnounce)

	return h
}

// HandleActivity applies the local side effects of the given posted activity.
func (h *Outbox) HandleActivity(activity *vocab.ActivityType) error {
	typeProp := activity.Type()

	switch {
	case typeProp.Is(vocab.TypeCreate):
		return h.handleCreateActivity(activity)
	case typeProp.Is(vocab.TypeUpdate):
		return h.handleUpdateActivity(activity)
	case typeProp.Is(vocab.TypeDelete):
		return h.handleDeleteActivity(activity)
	case typeProp.Is(vocab.TypeFollow):
		return h.handleFollowActivity(activity)
	case typeProp.Is(vocab.TypeAccept):
		return h.handleAcceptActivity(activity)
	case typeProp.Is(vocab.TypeUndo):
		return h.handleUndoActivity(activity)
	case typeProp.Is(vocab.TypeLike):
		return h.handleLikeActivity(activity)
	case typeProp.Is(vocab.TypeAnnounce):
		return h.handleAnnounceActivity(activity)
	case typeProp.IsAny(vocab.TypeReject, vocab.TypeAdd, vocab.TypeRemove, vocab.TypeBlock, vocab.TypeFlag):
		// These activities have no local side effects beyond being persisted.
		h.notify(activity)

		return nil
	default:
		return kestrelerrors.NewBadRequestf("unsupported activity type: %s", typeProp.Types())
	}
}

func (h *Outbox) handleCreateActivity(create *vocab.ActivityType) error {
	logger.Debug("Handling posted 'Create' activity", log.WithServiceName(h.ServiceName),
		log.WithActivityID(create.ID()))

	obj := create.Object().Object()
	if obj == nil || obj.ID().URL() == nil {
		return kestrelerrors.NewBadRequestf("no object specified in 'Create' activity [%s]", create.ID())
	}

	if err := h.storeObject(obj); err != nil {
		return fmt.Errorf("handle posted 'Create' activity [%s]: %w", create.ID(), err)
	}

	h.notify(create)

	return nil
}

func (h *Outbox) handleUpdateActivity(update *vocab.ActivityType) error {
	logger.Debug("Handling posted 'Update' activity", log.WithServiceName(h.ServiceName),
		log.WithActivityID(update.ID()))

	obj := update.Object().Object()
	if obj == nil || obj.ID().URL() == nil {
		return kestrelerrors.NewBadRequestf("no object specified in 'Update' activity [%s]", update.ID())
	}

	if err := h.updateObject(update.Actor(), obj); err != nil {
		return fmt.Errorf("handle posted 'Update' activity [%s]: %w", update.ID(), err)
	}

	h.notify(update)

	return nil
}

func (h *Outbox) handleDeleteActivity(del *vocab.ActivityType) error {
	logger.Debug("Handling posted 'Delete' activity", log.WithServiceName(h.ServiceName),
		log.WithActivityID(del.ID()))

	objIRI := del.Object().ID()
	if objIRI == nil {
		return kestrelerrors.NewBadRequestf("no object specified in 'Delete' activity [%s]", del.ID())
	}

	if err := h.deleteObject(del.Actor(), objIRI); err != nil {
		return fmt.Errorf("handle posted 'Delete' activity [%s]: %w", del.ID(), err)
	}

	h.notify(del)

	return nil
}

// handleFollowActivity optimistically records the Following relationship. The
// relationship is confirmed by an Accept from the remote actor and removed by a
// Reject.
func (h *Outbox) handleFollowActivity(follow *vocab.ActivityType) error {
	logger.Debug("Handling posted 'Follow' activity", log.WithServiceName(h.ServiceName),
		log.WithActivityID(follow.ID()))

	targetIRI := follow.Object().IRI()
	if targetIRI == nil {
		return kestrelerrors.NewBadRequestf("no IRI specified in 'object' field of the 'Follow' activity")
	}

	if err := h.store.AddReference(store.Following, follow.Actor(), targetIRI); err != nil {
		return kestrelerrors.NewTransient(fmt.Errorf("store new following: %w", err))
	}

	h.notify(follow)

	return nil
}

// handleAcceptActivity records the follower for a Follow that was manually
// approved by a local actor.
func (h *Outbox) handleAcceptActivity(accept *vocab.ActivityType) error {
	logger.Debug("Handling posted 'Accept' activity", log.WithServiceName(h.ServiceName),
		log.WithActivityID(accept.ID()))

	follow := accept.Object().Activity()
	if follow == nil || !follow.Type().Is(vocab.TypeFollow) {
		h.notify(accept)

		return nil
	}

	if follow.Actor() == nil {
		return kestrelerrors.NewBadRequestf("no actor specified in the 'Follow' activity of the 'Accept'")
	}

	if err := h.store.AddReference(store.Follower, accept.Actor(), follow.Actor()); err != nil {
		return kestrelerrors.NewTransient(fmt.Errorf("store new follower: %w", err))
	}

	h.notify(accept)

	return nil
}

func (h *Outbox) handleLikeActivity(like *vocab.ActivityType) error {
	logger.Debug("Handling posted 'Like' activity", log.WithServiceName(h.ServiceName),
		log.WithActivityID(like.ID()))

	objIRI := like.Object().ID()
	if objIRI == nil {
		return kestrelerrors.NewBadRequestf("no object specified in 'Like' activity [%s]", like.ID())
	}

	if err := h.store.AddReference(store.Liked, like.Actor(), objIRI); err != nil {
		return kestrelerrors.NewTransient(fmt.Errorf("store liked reference: %w", err))
	}

	if h.isLocal(objIRI) {
		if err := h.store.AddReference(store.Like, objIRI, like.ID().URL()); err != nil {
			return kestrelerrors.NewTransient(fmt.Errorf("store 'Like' reference: %w", err))
		}
	}

	h.notify(like)

	return nil
}

func (h *Outbox) handleAnnounceActivity(announce *vocab.ActivityType) error {
	logger.Debug("Handling posted 'Announce' activity", log.WithServiceName(h.ServiceName),
		log.WithActivityID(announce.ID()))

	objIRI := announce.Object().ID()
	if objIRI == nil {
		return kestrelerrors.NewBadRequestf("no object specified in 'Announce' activity [%s]", announce.ID())
	}

	if err := h.store.AddReference(store.Shared, announce.Actor(), objIRI); err != nil {
		return kestrelerrors.NewTransient(fmt.Errorf("store shared reference: %w", err))
	}

	if h.isLocal(objIRI) {
		if err := h.store.AddReference(store.Share, objIRI, announce.ID().URL()); err != nil {
			return kestrelerrors.NewTransient(fmt.Errorf("store 'Announce' reference: %w", err))
		}
	}

	h.notify(announce)

	return nil
}

func (h *Outbox) undoFollowing(follow *vocab.ActivityType) error {
	targetIRI := follow.Object().IRI()
	if targetIRI == nil {
		return kestrelerrors.NewBadRequestf("no IRI specified in 'object' field of the 'Follow' activity")
	}

	err := h.store.DeleteReference(store.Following, follow.Actor(), targetIRI)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Info("Target not found in following. Nothing to do.",
				log.WithActorIRI(vocab.NewURLProperty(follow.Actor())),
				log.WithTargetIRI(vocab.NewURLProperty(targetIRI)))

			return nil
		}

		return kestrelerrors.NewTransient(
			fmt.Errorf("delete following [%s] of [%s]: %w", targetIRI, follow.Actor(), err))
	}

	return nil
}

func (h *Outbox) undoLike(like *vocab.ActivityType) error {
	objIRI := like.Object().ID()
	if objIRI == nil {
		return kestrelerrors.NewBadRequestf("no object specified in 'Like' activity")
	}

	if err := h.deleteActorReference(store.Liked, like.Actor(), objIRI); err != nil {
		return err
	}

	if h.isLocal(objIRI) {
		return h.deleteActorReference(store.Like, objIRI, like.ID().URL())
	}

	return nil
}

func (h *Outbox) undoAnnounce(announce *vocab.ActivityType) error {
	objIRI := announce.Object().ID()
	if objIRI == nil {
		return kestrelerrors.NewBadRequestf("no object specified in 'Announce' activity")
	}

	if err := h.deleteActorReference(store.Shared, announce.Actor(), objIRI); err != nil {
		return err
	}

	if h.isLocal(objIRI) {
		return h.deleteActorReference(store.Share, objIRI, announce.ID().URL())
	}

	return nil
}

func (h *Outbox) deleteActorReference(refType store.ReferenceType, objectIRI, refIRI *url.URL) error {
	err := h.store.DeleteReference(refType, objectIRI, refIRI)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return kestrelerrors.NewTransient(
			fmt.Errorf("delete %s reference [%s] of [%s]: %w", refType, refIRI, objectIRI, err))
	}

	return nil
}
