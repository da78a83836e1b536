/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package outbox

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/bluele/gcache"
	"github.com/google/uuid"

	"github.com/kestrelsoc/kestrel/internal/pkg/log"
	kestrelerrors "github.com/kestrelsoc/kestrel/pkg/errors"
	"github.com/kestrelsoc/kestrel/pkg/lifecycle"
	"github.com/kestrelsoc/kestrel/pkg/metrics"
	pubsubspi "github.com/kestrelsoc/kestrel/pkg/pubsub/spi"
	service "github.com/kestrelsoc/kestrel/pkg/service/spi"
	store "github.com/kestrelsoc/kestrel/pkg/store/spi"
	"github.com/kestrelsoc/kestrel/pkg/vocab"
)

var logger = log.New("outbox")

const (
	defaultMaxRecipients      = 500
	defaultMaxRetries         = 5
	defaultCacheSize          = 100
	defaultCacheExpiration    = time.Minute
	defaultSubscriberPoolSize = 5

	usersPathPrefix     = "/users/"
	followersPathSuffix = "/followers"
)

// Config holds configuration parameters for the outbox.
type Config struct {
	ServiceName        string
	BaseURL            *url.URL
	Topic              string
	MaxRecipients      int
	MaxRetries         int
	CacheSize          int
	CacheExpiration    time.Duration
	SubscriberPoolSize int
}

type activityPubClient interface {
	GetActor(iri *url.URL) (*vocab.ActorType, error)
}

// Outbox accepts activities posted by local actors, persists them, applies
// their local side effects, and queues them for delivery to the inboxes of
// their recipients.
type Outbox struct {
	*Config
	*lifecycle.Lifecycle

	publisher       service.PubSub
	activityHandler service.ActivityHandler
	msgChan         <-chan *message.Message
	activityStore   store.Store
	client          activityPubClient
	inboxCache      gcache.Cache
}

// inboxTarget is the resolved delivery target for a remote actor. Delivery
// prefers the shared inbox when the actor declares one so that multiple
// recipients on the same host collapse into a single delivery.
type inboxTarget struct {
	inbox       *url.URL
	sharedInbox *url.URL
}

func (t *inboxTarget) deliveryInbox() *url.URL {
	if t.sharedInbox != nil {
		return t.sharedInbox
	}

	return t.inbox
}

// New returns a new outbox.
func New(cnfg *Config, s store.Store, pubSub service.PubSub,
	activityHandler service.ActivityHandler, apClient activityPubClient) (*Outbox, error) {
	cfg := populateConfigDefaults(cnfg)

	msgChan, err := pubSub.SubscribeWithOpts(context.Background(), cfg.Topic,
		pubsubspi.WithPool(cfg.SubscriberPoolSize))
	if err != nil {
		return nil, fmt.Errorf("subscribe to topic [%s]: %w", cfg.Topic, err)
	}

	h := &Outbox{
		Config:          &cfg,
		activityHandler: activityHandler,
		activityStore:   s,
		client:          apClient,
		publisher:       pubSub,
		msgChan:         msgChan,
	}

	h.Lifecycle = lifecycle.New(cfg.ServiceName,
		lifecycle.WithStart(h.start),
		lifecycle.WithStop(h.stop),
	)

	// The cache is keyed by the actor IRI string so that equal IRIs resolve to
	// the same entry.
	h.inboxCache = gcache.New(cfg.CacheSize).ARC().
		Expiration(cfg.CacheExpiration).
		LoaderFunc(func(key interface{}) (interface{}, error) {
			return h.resolveInbox(key.(string)) //nolint:forcetypeassert
		}).Build()

	return h, nil
}

func (h *Outbox) start() {
	go h.listen()
}

func (h *Outbox) stop() {
	logger.Info("Outbox stopped", log.WithServiceName(h.ServiceName))
}

// Post posts an activity to the outbox and returns the ID of the activity that
// was posted. The actor of the activity must be a local actor. If the activity
// does not specify an ID then a unique ID is assigned, and the object of a
// 'Create' is assigned an ID under the actor's objects path.
func (h *Outbox) Post(activity *vocab.ActivityType) (*url.URL, error) {
	if h.State() != lifecycle.StateStarted {
		return nil, lifecycle.ErrNotStarted
	}

	startTime := time.Now()

	defer func() {
		metrics.Get().OutboxPostTime(time.Since(startTime))
	}()

	activity, err := h.validateAndPopulateActivity(activity)
	if err != nil {
		return nil, err
	}

	if err := h.publishBroadcastMessage(activity); err != nil {
		return nil, fmt.Errorf("publish activity message [%s]: %w", activity.ID(), err)
	}

	return activity.ID().URL(), nil
}

func (h *Outbox) validateAndPopulateActivity(activity *vocab.ActivityType) (*vocab.ActivityType, error) {
	actorIRI := activity.Actor()
	if actorIRI == nil {
		return nil, kestrelerrors.NewBadRequestf("no actor specified in activity")
	}

	username, err := h.localUsername(actorIRI)
	if err != nil {
		return nil, err
	}

	if _, err := h.activityStore.GetActor(actorIRI); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, kestrelerrors.NewNotFoundf("actor not found: %s", actorIRI)
		}

		return nil, kestrelerrors.NewTransient(fmt.Errorf("retrieve actor [%s]: %w", actorIRI, err))
	}

	if activity.ID().URL() == nil {
		activity.SetID(h.newActivityID(username))
	}

	if activity.Published() == nil {
		now := time.Now()
		activity.SetPublished(&now)
	}

	if activity.Type().Is(vocab.TypeCreate) {
		if obj := activity.Object().Object(); obj != nil {
			if obj.ID().URL() == nil {
				obj.SetID(h.newObjectID(username))
			}

			if obj.AttributedTo().URL() == nil {
				obj.SetAttributedTo(actorIRI)
			}
		}
	}

	return activity, nil
}

// localUsername returns the username of the local actor with the given IRI.
func (h *Outbox) localUsername(actorIRI *url.URL) (string, error) {
	prefix := h.BaseURL.String() + usersPathPrefix

	if !strings.HasPrefix(actorIRI.String(), prefix) {
		return "", kestrelerrors.NewBadRequestf("actor [%s] is not owned by this server", actorIRI)
	}

	username := strings.TrimPrefix(actorIRI.String(), prefix)
	if username == "" || strings.Contains(username, "/") {
		return "", kestrelerrors.NewBadRequestf("actor [%s] is not owned by this server", actorIRI)
	}

	return username, nil
}

func (h *Outbox) newActivityID(username string) *url.URL {
	return vocab.MustParseURL(fmt.Sprintf("%s%s%s/activities/%s", h.BaseURL, usersPathPrefix, username, uuid.New()))
}

func (h *Outbox) newObjectID(username string) *url.URL {
	return vocab.MustParseURL(fmt.Sprintf("%s%s%s/objects/%s", h.BaseURL, usersPathPrefix, username, uuid.New()))
}

func (h *Outbox) publishBroadcastMessage(activity *vocab.ActivityType) error {
	payload, err := vocab.Marshal(activity)
	if err != nil {
		return kestrelerrors.NewBadRequest(fmt.Errorf("marshal activity: %w", err))
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)

	logger.Debug("Publishing activity message to topic", log.WithMessageID(msg.UUID),
		log.WithActivityID(activity.ID()), log.WithTopic(h.Topic))

	return h.publisher.Publish(h.Topic, msg)
}

func (h *Outbox) listen() {
	logger.Debug("Starting message listener", log.WithServiceName(h.ServiceName))

	for msg := range h.msgChan {
		logger.Debug("Got new message", log.WithMessageID(msg.UUID), log.WithPayload(msg.Payload))

		h.handle(msg)
	}

	logger.Debug("Message listener stopped", log.WithServiceName(h.ServiceName))
}

func (h *Outbox) handle(msg *message.Message) {
	if err := h.handleActivityMsg(msg); err != nil {
		if kestrelerrors.IsTransient(err) {
			logger.Warn("Transient error handling message. Message will be nacked.",
				log.WithMessageID(msg.UUID), log.WithError(err))

			msg.Nack()
		} else {
			logger.Warn("Persistent error handling message. Message will not be redelivered.",
				log.WithMessageID(msg.UUID), log.WithError(err))

			msg.Ack()
		}
	} else {
		msg.Ack()
	}
}

func (h *Outbox) handleActivityMsg(msg *message.Message) error {
	activity := &vocab.ActivityType{}

	if err := vocab.UnmarshalJSON(msg.Payload, activity); err != nil {
		return fmt.Errorf("unmarshal activity message [%s]: %w", msg.UUID, err)
	}

	if err := h.storeActivity(activity); err != nil {
		return kestrelerrors.NewTransient(fmt.Errorf("store activity [%s]: %w", activity.ID(), err))
	}

	if err := h.activityHandler.HandleActivity(activity); err != nil {
		return fmt.Errorf("handle activity [%s]: %w", activity.ID(), err)
	}

	if err := h.deliver(activity); err != nil {
		return fmt.Errorf("deliver activity [%s]: %w", activity.ID(), err)
	}

	return nil
}

func (h *Outbox) storeActivity(activity *vocab.ActivityType) error {
	if err := h.activityStore.AddActivity(activity); err != nil {
		return fmt.Errorf("store activity: %w", err)
	}

	actorIRI := activity.Actor()

	if err := h.activityStore.AddReference(store.Outbox, actorIRI, activity.ID().URL()); err != nil {
		return fmt.Errorf("add outbox reference: %w", err)
	}

	if activity.IsPublic() {
		if err := h.activityStore.AddReference(store.PublicOutbox, actorIRI, activity.ID().URL()); err != nil {
			return fmt.Errorf("add public outbox reference: %w", err)
		}
	}

	return nil
}

// deliver routes the activity to its recipients. Local recipients get an inbox
// reference directly, bypassing the delivery queue. Remote recipients are
// resolved to their inboxes (preferring shared inboxes), deduplicated, and
// queued for delivery.
func (h *Outbox) deliver(activity *vocab.ActivityType) error {
	startTime := time.Now()

	recipients, err := h.resolveRecipients(activity)
	if err != nil {
		return err
	}

	metrics.Get().OutboxResolveInboxesTime(time.Since(startTime))

	payload, err := deliveryPayload(activity)
	if err != nil {
		return err
	}

	targets := make(map[string]*url.URL)

	for _, recipient := range recipients {
		if h.isLocal(recipient) {
			if err := h.deliverLocal(activity, recipient); err != nil {
				return err
			}

			continue
		}

		target, err := h.lookupInbox(recipient)
		if err != nil {
			if kestrelerrors.IsTransient(err) {
				return err
			}

			logger.Error("Unable to resolve inbox of recipient. Recipient will be ignored.",
				log.WithTargetIRI(vocab.NewURLProperty(recipient)), log.WithError(err))

			continue
		}

		targets[target.String()] = target
	}

	var records []*store.DeliveryRecord

	for _, target := range targets {
		records = append(records, &store.DeliveryRecord{
			ID:          uuid.New().String(),
			ActivityIRI: activity.ID().String(),
			ActorIRI:    activity.Actor().String(),
			TargetInbox: target.String(),
			Payload:     payload,
			MaxRetries:  h.MaxRetries,
		})
	}

	if len(records) == 0 {
		return nil
	}

	if err := h.activityStore.Enqueue(records...); err != nil {
		return kestrelerrors.NewTransient(fmt.Errorf("enqueue deliveries: %w", err))
	}

	logger.Debug("Queued activity for delivery", log.WithActivityID(activity.ID()),
		log.WithTotalItems(len(records)))

	return nil
}

func (h *Outbox) deliverLocal(activity *vocab.ActivityType, recipient *url.URL) error {
	logger.Debug("Delivering activity directly to local recipient", log.WithActivityID(activity.ID()),
		log.WithTargetIRI(vocab.NewURLProperty(recipient)))

	if err := h.activityStore.AddReference(store.Inbox, recipient, activity.ID().URL()); err != nil {
		return kestrelerrors.NewTransient(fmt.Errorf("add inbox reference for [%s]: %w", recipient, err))
	}

	return nil
}

// resolveRecipients expands the activity's addressing to actor IRIs: direct
// to/cc/bcc entries plus the members of any local followers collection. The
// public IRI adds no targets, and the posting actor never delivers to itself.
func (h *Outbox) resolveRecipients(activity *vocab.ActivityType) ([]*url.URL, error) {
	recipients := make(map[string]*url.URL)

	add := func(iri *url.URL) {
		if iri.String() == activity.Actor().String() {
			return
		}

		if _, ok := recipients[iri.String()]; !ok && len(recipients) < h.MaxRecipients {
			recipients[iri.String()] = iri
		}
	}

	for _, iri := range activity.Recipients() {
		switch {
		case iri.String() == vocab.PublicIRI.String():
			continue

		case h.isLocal(iri) && strings.HasSuffix(iri.Path, followersPathSuffix):
			followers, err := h.followers(iri)
			if err != nil {
				return nil, err
			}

			for _, follower := range followers {
				add(follower)
			}

		default:
			add(iri)
		}
	}

	result := make([]*url.URL, 0, len(recipients))

	for _, iri := range recipients {
		result = append(result, iri)
	}

	return result, nil
}

func (h *Outbox) followers(followersIRI *url.URL) ([]*url.URL, error) {
	ownerIRI := *followersIRI
	ownerIRI.Path = strings.TrimSuffix(ownerIRI.Path, followersPathSuffix)

	it, err := h.activityStore.QueryReferences(store.Follower,
		store.NewCriteria(store.WithObjectIRI(&ownerIRI)))
	if err != nil {
		return nil, kestrelerrors.NewTransient(fmt.Errorf("query followers of [%s]: %w", &ownerIRI, err))
	}

	defer func() {
		if err := it.Close(); err != nil {
			logger.Warn("Error closing iterator", log.WithError(err))
		}
	}()

	var followers []*url.URL

	for {
		follower, err := it.Next()
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				break
			}

			return nil, kestrelerrors.NewTransient(fmt.Errorf("iterate followers of [%s]: %w", &ownerIRI, err))
		}

		followers = append(followers, follower)
	}

	return followers, nil
}

func (h *Outbox) lookupInbox(actorIRI *url.URL) (*url.URL, error) {
	result, err := h.inboxCache.Get(actorIRI.String())
	if err != nil {
		return nil, err
	}

	return result.(*inboxTarget).deliveryInbox(), nil //nolint:forcetypeassert
}

func (h *Outbox) resolveInbox(actorIRI string) (*inboxTarget, error) {
	iri, err := url.Parse(actorIRI)
	if err != nil {
		return nil, fmt.Errorf("parse actor IRI: %w", err)
	}

	actor, err := h.client.GetActor(iri)
	if err != nil {
		return nil, err
	}

	if actor.Inbox() == nil && actor.SharedInbox() == nil {
		return nil, fmt.Errorf("actor [%s] has no inbox", actorIRI)
	}

	return &inboxTarget{
		inbox:       actor.Inbox(),
		sharedInbox: actor.SharedInbox(),
	}, nil
}

func (h *Outbox) isLocal(iri *url.URL) bool {
	return strings.HasPrefix(iri.String(), h.BaseURL.String())
}

// deliveryPayload marshals the activity for delivery with blind-carbon-copy
// recipients stripped. The activity is cloned first so that the stored
// activity keeps its bcc list.
func deliveryPayload(activity *vocab.ActivityType) ([]byte, error) {
	raw, err := vocab.Marshal(activity)
	if err != nil {
		return nil, err
	}

	clone := &vocab.ActivityType{}

	if err := vocab.UnmarshalJSON(raw, clone); err != nil {
		return nil, err
	}

	clone.RemoveBCC()

	return vocab.Marshal(clone)
}

func populateConfigDefaults(cnfg *Config) Config {
	cfg := *cnfg

	if cfg.MaxRecipients <= 0 {
		cfg.MaxRecipients = defaultMaxRecipients
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	if cfg.CacheSize == 0 {
		cfg.CacheSize = defaultCacheSize
	}

	if cfg.CacheExpiration == 0 {
		cfg.CacheExpiration = defaultCacheExpiration
	}

	if cfg.SubscriberPoolSize == 0 {
		cfg.SubscriberPoolSize = defaultSubscriberPoolSize
	}

	return cfg
}
