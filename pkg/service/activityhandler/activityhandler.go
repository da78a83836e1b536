/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package activityhandler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kestrelsoc/kestrel/internal/pkg/log"
	kestrelerrors "github.com/kestrelsoc/kestrel/pkg/errors"
	"github.com/kestrelsoc/kestrel/pkg/lifecycle"
	service "github.com/kestrelsoc/kestrel/pkg/service/spi"
	store "github.com/kestrelsoc/kestrel/pkg/store/spi"
	"github.com/kestrelsoc/kestrel/pkg/vocab"
)

var logger = log.New("activityhandler")

const defaultBufferSize = 100

// Config holds the configuration parameters for the activity handler.
type Config struct {
	// ServiceName is the name of the service (used for logging).
	ServiceName string

	// BaseURL is the base URL of this server. IRIs under this URL are
	// considered local.
	BaseURL *url.URL

	// BufferSize is the size of the Go channel buffer for a subscription.
	BufferSize int
}

type actorSource interface {
	GetActor(iri *url.URL) (*vocab.ActorType, error)
}

type undoFunc func(activity *vocab.ActivityType) error

type handler struct {
	*Config
	*lifecycle.Lifecycle

	store        store.Store
	client       actorSource
	mutex        sync.RWMutex
	subscribers  []chan *vocab.ActivityType
	undoFollow   undoFunc
	undoLike     undoFunc
	undoAnnounce undoFunc
}

func newHandler(cfg *Config, s store.Store, client actorSource,
	undoFollow, undoLike, undoAnnounce undoFunc) *handler {
	if cfg.BufferSize == 0 {
		cfg.BufferSize = defaultBufferSize
	}

	h := &handler{
		Config:       cfg,
		store:        s,
		client:       client,
		undoFollow:   undoFollow,
		undoLike:     undoLike,
		undoAnnounce: undoAnnounce,
	}

	h.Lifecycle = lifecycle.New(cfg.ServiceName, lifecycle.WithStop(h.stop))

	return h
}

func (h *handler) stop() {
	logger.Info("Stopping activity handler", log.WithServiceName(h.ServiceName))

	h.mutex.Lock()
	defer h.mutex.Unlock()

	for _, ch := range h.subscribers {
		close(ch)
	}

	h.subscribers = nil
}

// Subscribe allows a client to receive published activities.
func (h *handler) Subscribe() <-chan *vocab.ActivityType {
	ch := make(chan *vocab.ActivityType, h.BufferSize)

	h.mutex.Lock()
	h.subscribers = append(h.subscribers, ch)
	h.mutex.Unlock()

	return ch
}

func (h *handler) notify(activity *vocab.ActivityType) {
	h.mutex.RLock()
	subscribers := h.subscribers
	h.mutex.RUnlock()

	for _, ch := range subscribers {
		ch <- activity
	}
}

// isLocal returns true if the given IRI is owned by this server.
func (h *handler) isLocal(iri *url.URL) bool {
	return iri != nil && strings.HasPrefix(iri.String(), h.BaseURL.String())
}

func (h *handler) resolveActor(iri *url.URL) (*vocab.ActorType, error) {
	actor, err := h.store.GetActor(iri)
	if err == nil {
		return actor, nil
	}

	if !errors.Is(err, store.ErrNotFound) {
		return nil, kestrelerrors.NewTransient(err)
	}

	return h.client.GetActor(iri)
}

// handleUndoActivity reverses the side effects of a previously handled activity.
// Undoing an activity that was never stored (or whose side effects were already
// removed) is a no-op.
func (h *handler) handleUndoActivity(undo *vocab.ActivityType) error {
	logger.Debug("Handling 'Undo' activity", log.WithActivityID(undo.ID()))

	if undo.Actor() == nil {
		return kestrelerrors.NewBadRequestf("no actor specified in 'Undo' activity")
	}

	targetIRI := undo.Object().ID()
	if targetIRI == nil {
		return kestrelerrors.NewBadRequestf("no activity specified in 'object' field of the 'Undo' activity")
	}

	activity, err := h.store.GetActivity(targetIRI)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Info("Activity in 'Undo' not found in storage. Nothing to do.",
				log.WithActivityID(undo.ID()), log.WithTargetIRI(vocab.NewURLProperty(targetIRI)))

			return nil
		}

		return kestrelerrors.NewTransient(fmt.Errorf("retrieve activity [%s]: %w", targetIRI, err))
	}

	if activity.Actor() == nil {
		// Shouldn't happen since the activity was validated before it was stored.
		return fmt.Errorf("no actor in stored '%s' activity: %s", activity.Type(), activity.ID())
	}

	if activity.Actor().String() != undo.Actor().String() {
		return kestrelerrors.NewBadRequestf(
			"not handling 'Undo' activity %s since the actor of the 'Undo' [%s] is not"+
				" the same as the actor of the original activity [%s]", undo.ID(), undo.Actor(), activity.Actor())
	}

	if inner := undo.Object().Activity(); inner != nil {
		if err := validateActivityInUndo(inner, activity); err != nil {
			return fmt.Errorf("invalid activity in 'Undo' [%s]: %w", undo.ID(), err)
		}
	}

	if err := h.undoActivity(activity); err != nil {
		return fmt.Errorf("undo activity [%s]: %w", undo.ID(), err)
	}

	h.notify(undo)

	return nil
}

func (h *handler) undoActivity(activity *vocab.ActivityType) error {
	switch {
	case activity.Type().Is(vocab.TypeFollow):
		return h.undoFollow(activity)

	case activity.Type().Is(vocab.TypeLike):
		return h.undoLike(activity)

	case activity.Type().Is(vocab.TypeAnnounce):
		return h.undoAnnounce(activity)

	default:
		return kestrelerrors.NewBadRequestf("undo of type %s is not supported", activity.Type())
	}
}

// storeObject persists the object carried by a 'Create' activity and, if the
// object is a reply to a local object, indexes it in the parent's replies.
func (h *handler) storeObject(obj *vocab.ObjectType) error {
	if err := h.store.PutObject(obj); err != nil {
		return kestrelerrors.NewTransient(fmt.Errorf("store object [%s]: %w", obj.ID(), err))
	}

	if parent := obj.InReplyTo().URL(); h.isLocal(parent) {
		if err := h.store.AddReference(store.Reply, parent, obj.ID().URL()); err != nil {
			return kestrelerrors.NewTransient(fmt.Errorf("add reply reference to [%s]: %w", parent, err))
		}
	}

	return nil
}

// updateObject replaces the stored object after verifying that the given actor
// is its owner.
func (h *handler) updateObject(actorIRI *url.URL, obj *vocab.ObjectType) error {
	objIRI := obj.ID().URL()

	stored, err := h.store.GetObject(objIRI)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return kestrelerrors.NewTransient(fmt.Errorf("retrieve object [%s]: %w", objIRI, err))
	}

	owner := obj.AttributedTo().URL()
	if stored != nil {
		owner = stored.AttributedTo().URL()
	}

	if owner == nil || owner.String() != actorIRI.String() {
		return kestrelerrors.NewBadRequestf("actor [%s] is not the owner of object [%s]", actorIRI, objIRI)
	}

	now := time.Now()
	obj.SetUpdated(&now)

	if err := h.store.PutObject(obj); err != nil {
		return kestrelerrors.NewTransient(fmt.Errorf("store object [%s]: %w", objIRI, err))
	}

	return nil
}

// deleteObject replaces the stored object with a Tombstone after verifying that
// the given actor is its owner. Deleting an unknown object is a no-op.
func (h *handler) deleteObject(actorIRI, objIRI *url.URL) error {
	stored, err := h.store.GetObject(objIRI)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Info("Object in 'Delete' not found in storage. Nothing to do.",
				log.WithObjectIRI(vocab.NewURLProperty(objIRI)))

			return nil
		}

		return kestrelerrors.NewTransient(fmt.Errorf("retrieve object [%s]: %w", objIRI, err))
	}

	owner := stored.AttributedTo().URL()
	if owner == nil || owner.String() != actorIRI.String() {
		return kestrelerrors.NewBadRequestf("actor [%s] is not the owner of object [%s]", actorIRI, objIRI)
	}

	now := time.Now()

	tombstone := vocab.NewObject(
		vocab.WithID(objIRI),
		vocab.WithType(vocab.TypeTombstone),
		vocab.WithFormerType(stored.Type().Types()...),
		vocab.WithDeletedTime(&now),
	)

	if err := h.store.PutObject(tombstone); err != nil {
		return kestrelerrors.NewTransient(fmt.Errorf("store tombstone for [%s]: %w", objIRI, err))
	}

	return nil
}

func defaultOptions() *service.Handlers {
	return &service.Handlers{
		FollowerAuth: &service.AcceptAllFollowers{},
	}
}

func validateActivityInUndo(activityInUndo, activity *vocab.ActivityType) error {
	if !activityInUndo.Type().Is(activity.Type().Types()...) {
		return kestrelerrors.NewBadRequestf("invalid type - expecting %s but got %s",
			activity.Type(), activityInUndo.Type())
	}

	if activity.Object().IRI() != nil {
		if activityInUndo.Object().IRI() == nil {
			return kestrelerrors.NewBadRequestf("nil object IRI - expecting %s", activity.Object().IRI())
		}

		if activityInUndo.Object().IRI().String() != activity.Object().IRI().String() {
			return kestrelerrors.NewBadRequestf("object IRI mismatch - expecting %s but got %s",
				activity.Object().IRI(), activityInUndo.Object().IRI())
		}
	}

	return nil
}
