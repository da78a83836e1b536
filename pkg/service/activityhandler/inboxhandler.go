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
	service "github.com/kestrelsoc/kestrel/pkg/service/spi"
	store "github.com/kestrelsoc/kestrel/pkg/store/spi"
	"github.com/kestrelsoc/kestrel/pkg/vocab"
)

// Inbox applies the side effects of activities received in the inbox.
type Inbox struct {
	*handler
	*service.Handlers

	outbox service.Outbox
}

// NewInbox returns a new inbox activity handler.
func NewInbox(cfg *Config, s store.Store, outbox service.Outbox, client actorSource,
	opts ...service.HandlerOpt) *Inbox {
	options := defaultOptions()

	for _, opt := range opts {
		opt(options)
	}

	h := &Inbox{
		outbox:   outbox,
		Handlers: options,
	}

	h.handler = newHandler(cfg, s, client, h.undoFollower, h.undoLike, h.undoAnnounce)

	return h
}

// HandleActivity handles the given activity in the inbox.
func (h *Inbox) HandleActivity(activity *vocab.ActivityType) error {
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
	case typeProp.Is(vocab.TypeReject):
		return h.handleRejectActivity(activity)
	case typeProp.Is(vocab.TypeUndo):
		return h.handleUndoActivity(activity)
	case typeProp.Is(vocab.TypeLike):
		return h.handleLikeActivity(activity)
	case typeProp.Is(vocab.TypeAnnounce):
		return h.handleAnnounceActivity(activity)
	case typeProp.IsAny(vocab.TypeAdd, vocab.TypeRemove, vocab.TypeBlock, vocab.TypeFlag):
		// These activities have no local side effects beyond being persisted.
		h.notify(activity)

		return nil
	default:
		return kestrelerrors.NewBadRequestf("unsupported activity type: %s", typeProp.Types())
	}
}

func (h *Inbox) handleCreateActivity(create *vocab.ActivityType) error {
	logger.Debug("Handling 'Create' activity", log.WithServiceName(h.ServiceName), log.WithActivityID(create.ID()))

	obj := create.Object().Object()
	if obj == nil {
		return kestrelerrors.NewBadRequestf("no object specified in 'Create' activity [%s]", create.ID())
	}

	if obj.ID().URL() == nil {
		return kestrelerrors.NewBadRequestf("no ID specified in object of 'Create' activity [%s]", create.ID())
	}

	if err := h.storeObject(obj); err != nil {
		return fmt.Errorf("handle 'Create' activity [%s]: %w", create.ID(), err)
	}

	h.notify(create)

	return nil
}

func (h *Inbox) handleUpdateActivity(update *vocab.ActivityType) error {
	logger.Debug("Handling 'Update' activity", log.WithServiceName(h.ServiceName), log.WithActivityID(update.ID()))

	if update.Actor() == nil {
		return kestrelerrors.NewBadRequestf("no actor specified in 'Update' activity [%s]", update.ID())
	}

	obj := update.Object().Object()
	if obj == nil || obj.ID().URL() == nil {
		return kestrelerrors.NewBadRequestf("no object specified in 'Update' activity [%s]", update.ID())
	}

	if err := h.updateObject(update.Actor(), obj); err != nil {
		return fmt.Errorf("handle 'Update' activity [%s]: %w", update.ID(), err)
	}

	h.notify(update)

	return nil
}

func (h *Inbox) handleDeleteActivity(del *vocab.ActivityType) error {
	logger.Debug("Handling 'Delete' activity", log.WithServiceName(h.ServiceName), log.WithActivityID(del.ID()))

	if del.Actor() == nil {
		return kestrelerrors.NewBadRequestf("no actor specified in 'Delete' activity [%s]", del.ID())
	}

	objIRI := del.Object().ID()
	if objIRI == nil {
		return kestrelerrors.NewBadRequestf("no object specified in 'Delete' activity [%s]", del.ID())
	}

	// An actor deleting itself removes the cached actor.
	if objIRI.String() == del.Actor().String() {
		if err := h.store.DeleteActor(objIRI); err != nil && !errors.Is(err, store.ErrNotFound) {
			return kestrelerrors.NewTransient(fmt.Errorf("delete actor [%s]: %w", objIRI, err))
		}

		h.notify(del)

		return nil
	}

	if err := h.deleteObject(del.Actor(), objIRI); err != nil {
		return fmt.Errorf("handle 'Delete' activity [%s]: %w", del.ID(), err)
	}

	h.notify(del)

	return nil
}

func (h *Inbox) handleFollowActivity(follow *vocab.ActivityType) error {
	logger.Debug("Handling 'Follow' activity", log.WithServiceName(h.ServiceName), log.WithActivityID(follow.ID()))

	actorIRI := follow.Actor()
	if actorIRI == nil {
		return kestrelerrors.NewBadRequestf("no actor specified in 'Follow' activity")
	}

	targetIRI := follow.Object().IRI()
	if targetIRI == nil {
		return kestrelerrors.NewBadRequestf("no IRI specified in 'object' field of the 'Follow' activity")
	}

	if !h.isLocal(targetIRI) {
		logger.Info("Not handling 'Follow' activity since the target is not a local actor",
			log.WithActivityID(follow.ID()), log.WithTargetIRI(vocab.NewURLProperty(targetIRI)))

		return nil
	}

	target, err := h.store.GetActor(targetIRI)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return kestrelerrors.NewNotFoundf("target of 'Follow' activity [%s] not found: %s", follow.ID(), targetIRI)
		}

		return kestrelerrors.NewTransient(fmt.Errorf("retrieve actor [%s]: %w", targetIRI, err))
	}

	hasFollower, err := h.hasFollower(targetIRI, actorIRI)
	if err != nil {
		return err
	}

	if hasFollower {
		logger.Info("Actor is already a follower. Replying with 'Accept' activity.",
			log.WithActorIRI(vocab.NewURLProperty(actorIRI)), log.WithTargetIRI(vocab.NewURLProperty(targetIRI)))

		return h.postAcceptFollow(follow, target, actorIRI)
	}

	actor, err := h.resolveActor(actorIRI)
	if err != nil {
		return fmt.Errorf("unable to retrieve actor [%s]: %w", actorIRI, err)
	}

	accept, err := h.FollowerAuth.AuthorizeFollower(actor)
	if err != nil {
		return fmt.Errorf("unable to authorize follower [%s]: %w", actorIRI, err)
	}

	if !accept {
		logger.Info("Follow request rejected. Replying with 'Reject' activity.",
			log.WithActorIRI(vocab.NewURLProperty(actorIRI)), log.WithTargetIRI(vocab.NewURLProperty(targetIRI)))

		return h.postRejectFollow(follow, target, actorIRI)
	}

	if target.ManuallyApprovesFollowers() {
		logger.Info("Follow request requires manual approval",
			log.WithActorIRI(vocab.NewURLProperty(actorIRI)), log.WithTargetIRI(vocab.NewURLProperty(targetIRI)))

		h.notify(follow)

		return nil
	}

	return h.acceptFollower(follow, target, actor)
}

func (h *Inbox) acceptFollower(follow *vocab.ActivityType, target *vocab.ActorType, actor *vocab.ActorType) error {
	if err := h.store.AddReference(store.Follower, target.ID().URL(), actor.ID().URL()); err != nil {
		return kestrelerrors.NewTransient(fmt.Errorf("store new follower: %w", err))
	}

	if err := h.store.PutActor(actor); err != nil {
		logger.Warn("Unable to store actor", log.WithActorIRI(actor.ID()), log.WithError(err))
	}

	return h.postAcceptFollow(follow, target, actor.ID().URL())
}

func (h *Inbox) handleAcceptActivity(accept *vocab.ActivityType) error {
	logger.Debug("Handling 'Accept' activity", log.WithServiceName(h.ServiceName), log.WithActivityID(accept.ID()))

	follow, err := h.validateFollowResponse(accept, vocab.TypeAccept)
	if err != nil {
		return err
	}

	if follow == nil {
		return nil
	}

	if err := h.store.AddReference(store.Following, follow.Actor(), accept.Actor()); err != nil {
		return kestrelerrors.NewTransient(fmt.Errorf("store new following: %w", err))
	}

	h.notify(accept)

	return nil
}

func (h *Inbox) handleRejectActivity(reject *vocab.ActivityType) error {
	logger.Debug("Handling 'Reject' activity", log.WithServiceName(h.ServiceName), log.WithActivityID(reject.ID()))

	follow, err := h.validateFollowResponse(reject, vocab.TypeReject)
	if err != nil {
		return err
	}

	if follow == nil {
		return nil
	}

	// The Follow may have been recorded optimistically when it was posted.
	err = h.store.DeleteReference(store.Following, follow.Actor(), reject.Actor())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return kestrelerrors.NewTransient(fmt.Errorf("delete following: %w", err))
	}

	h.notify(reject)

	return nil
}

// validateFollowResponse validates an Accept or Reject of a Follow and returns
// the embedded Follow activity. Nil is returned (with no error) if the response
// does not concern a local actor.
func (h *Inbox) validateFollowResponse(response *vocab.ActivityType, typ vocab.Type) (*vocab.ActivityType, error) {
	if response.Actor() == nil {
		return nil, kestrelerrors.NewBadRequestf("no actor specified in '%s' activity", typ)
	}

	follow := response.Object().Activity()
	if follow == nil {
		return nil, kestrelerrors.NewBadRequestf(
			"no 'Follow' activity specified in the 'object' field of the '%s' activity", typ)
	}

	if !follow.Type().Is(vocab.TypeFollow) {
		return nil, kestrelerrors.NewBadRequestf("the 'object' field of the '%s' activity must be a 'Follow' type", typ)
	}

	if follow.Actor() == nil {
		return nil, kestrelerrors.NewBadRequestf(
			"no actor specified in the original 'Follow' activity of the '%s' activity", typ)
	}

	if !h.isLocal(follow.Actor()) {
		logger.Info("Not handling follow response since the actor of the 'Follow' is not a local actor",
			log.WithActivityID(response.ID()), log.WithActorIRI(vocab.NewURLProperty(follow.Actor())))

		return nil, nil
	}

	return follow, nil
}

func (h *Inbox) handleLikeActivity(like *vocab.ActivityType) error {
	logger.Debug("Handling 'Like' activity", log.WithServiceName(h.ServiceName), log.WithActivityID(like.ID()))

	objIRI := like.Object().ID()
	if objIRI == nil {
		return kestrelerrors.NewBadRequestf("no object specified in 'Like' activity [%s]", like.ID())
	}

	if h.isLocal(objIRI) {
		if err := h.store.AddReference(store.Like, objIRI, like.ID().URL()); err != nil {
			return kestrelerrors.NewTransient(fmt.Errorf("store 'Like' reference: %w", err))
		}
	}

	h.notify(like)

	return nil
}

func (h *Inbox) handleAnnounceActivity(announce *vocab.ActivityType) error {
	logger.Debug("Handling 'Announce' activity", log.WithServiceName(h.ServiceName), log.WithActivityID(announce.ID()))

	objIRI := announce.Object().ID()
	if objIRI == nil {
		return kestrelerrors.NewBadRequestf("no object specified in 'Announce' activity [%s]", announce.ID())
	}

	if h.isLocal(objIRI) {
		if err := h.store.AddReference(store.Share, objIRI, announce.ID().URL()); err != nil {
			return kestrelerrors.NewTransient(fmt.Errorf("store 'Announce' reference: %w", err))
		}
	}

	h.notify(announce)

	return nil
}

func (h *Inbox) postAcceptFollow(follow *vocab.ActivityType, target *vocab.ActorType, toIRI *url.URL) error {
	accept := vocab.NewAcceptActivity(
		vocab.NewObjectProperty(vocab.WithActivity(follow)),
		vocab.WithActor(target.ID().URL()),
		vocab.WithTo(toIRI),
	)

	h.notify(follow)

	logger.Debug("Publishing 'Accept' activity", log.WithTargetIRI(vocab.NewURLProperty(toIRI)))

	if _, err := h.outbox.Post(accept); err != nil {
		return fmt.Errorf("unable to reply with 'Accept' to %s: %w", toIRI, err)
	}

	return nil
}

func (h *Inbox) postRejectFollow(follow *vocab.ActivityType, target *vocab.ActorType, toIRI *url.URL) error {
	reject := vocab.NewRejectActivity(
		vocab.NewObjectProperty(vocab.WithActivity(follow)),
		vocab.WithActor(target.ID().URL()),
		vocab.WithTo(toIRI),
	)

	logger.Debug("Publishing 'Reject' activity", log.WithTargetIRI(vocab.NewURLProperty(toIRI)))

	if _, err := h.outbox.Post(reject); err != nil {
		return fmt.Errorf("unable to reply with 'Reject' to %s: %w", toIRI, err)
	}

	return nil
}

func (h *Inbox) hasFollower(targetIRI, actorIRI *url.URL) (bool, error) {
	it, err := h.store.QueryReferences(store.Follower,
		store.NewCriteria(
			store.WithObjectIRI(targetIRI),
			store.WithReferenceIRI(actorIRI),
		),
	)
	if err != nil {
		return false, kestrelerrors.NewTransient(fmt.Errorf("retrieve existing follower: %w", err))
	}

	defer func() {
		if err := it.Close(); err != nil {
			logger.Warn("Error closing iterator", log.WithError(err))
		}
	}()

	totalItems, err := it.TotalItems()
	if err != nil {
		return false, kestrelerrors.NewTransient(fmt.Errorf("retrieve existing follower: %w", err))
	}

	return totalItems > 0, nil
}

func (h *Inbox) undoFollower(follow *vocab.ActivityType) error {
	targetIRI := follow.Object().IRI()
	if targetIRI == nil {
		return kestrelerrors.NewBadRequestf("no IRI specified in 'object' field of the 'Follow' activity")
	}

	if !h.isLocal(targetIRI) {
		logger.Info("Not undoing 'Follow' activity since the target is not a local actor",
			log.WithActivityID(follow.ID()), log.WithTargetIRI(vocab.NewURLProperty(targetIRI)))

		return nil
	}

	err := h.store.DeleteReference(store.Follower, targetIRI, follow.Actor())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Info("Actor not found in followers. Nothing to do.",
				log.WithActorIRI(vocab.NewURLProperty(follow.Actor())),
				log.WithTargetIRI(vocab.NewURLProperty(targetIRI)))

			return nil
		}

		return kestrelerrors.NewTransient(
			fmt.Errorf("delete follower [%s] of [%s]: %w", follow.Actor(), targetIRI, err))
	}

	return nil
}

func (h *Inbox) undoLike(like *vocab.ActivityType) error {
	return h.undoObjectReference(like, store.Like)
}

func (h *Inbox) undoAnnounce(announce *vocab.ActivityType) error {
	return h.undoObjectReference(announce, store.Share)
}

func (h *Inbox) undoObjectReference(activity *vocab.ActivityType, refType store.ReferenceType) error {
	objIRI := activity.Object().ID()
	if objIRI == nil {
		return kestrelerrors.NewBadRequestf("no object specified in '%s' activity", activity.Type())
	}

	if !h.isLocal(objIRI) {
		return nil
	}

	err := h.store.DeleteReference(refType, objIRI, activity.ID().URL())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}

		return kestrelerrors.NewTransient(
			fmt.Errorf("delete %s reference [%s] of [%s]: %w", refType, activity.ID(), objIRI, err))
	}

	return nil
}
