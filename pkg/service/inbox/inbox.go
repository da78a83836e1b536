/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package inbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/kestrelsoc/kestrel/internal/pkg/log"
	"github.com/kestrelsoc/kestrel/pkg/lifecycle"
	"github.com/kestrelsoc/kestrel/pkg/metrics"
	"github.com/kestrelsoc/kestrel/pkg/pubsub/wmlogger"
	"github.com/kestrelsoc/kestrel/pkg/service/inbox/httpsubscriber"
	service "github.com/kestrelsoc/kestrel/pkg/service/spi"
	store "github.com/kestrelsoc/kestrel/pkg/store/spi"
	"github.com/kestrelsoc/kestrel/pkg/vocab"
)

var logger = log.New("inbox")

const followersPathSuffix = "/followers"

// Config holds configuration parameters for the inbox.
type Config struct {
	ServiceEndpoint string
	ServiceIRI      *url.URL
	BaseURL         *url.URL
	Topic           string
	MaxPayloadSize  int64
}

type signatureVerifier interface {
	VerifyRequest(req *http.Request) (*url.URL, error)
}

// Inbox receives activities posted by remote services, persists them, routes
// them to the inboxes of local recipients, and applies their side effects.
type Inbox struct {
	*Config
	*lifecycle.Lifecycle

	router          *message.Router
	httpSubscriber  *httpsubscriber.Subscriber
	msgChannel      <-chan *message.Message
	activityHandler service.ActivityHandler
	activityStore   store.Store
}

// New returns a new inbox.
func New(cfg *Config, s store.Store, pubSub service.PubSub,
	activityHandler service.ActivityHandler, sigVerifier signatureVerifier) (*Inbox, error) {
	h := &Inbox{
		Config:          cfg,
		activityHandler: activityHandler,
		activityStore:   s,
	}

	h.Lifecycle = lifecycle.New(cfg.ServiceEndpoint,
		lifecycle.WithStart(h.start),
		lifecycle.WithStop(h.stop),
	)

	msgChan, err := pubSub.Subscribe(context.Background(), cfg.Topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe to topic [%s]: %w", cfg.Topic, err)
	}

	httpSubscriber := httpsubscriber.New(
		&httpsubscriber.Config{
			ServiceEndpoint: cfg.ServiceEndpoint,
			MaxPayloadSize:  cfg.MaxPayloadSize,
		},
		sigVerifier, s,
	)

	router, err := message.NewRouter(message.RouterConfig{}, wmlogger.New())
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	router.AddMiddleware(middleware.Recoverer, middleware.CorrelationID)

	router.AddHandler(
		cfg.ServiceEndpoint, cfg.ServiceEndpoint,
		httpSubscriber, cfg.Topic, pubSub,
		func(msg *message.Message) ([]*message.Message, error) {
			// Simply forward the message.
			return message.Messages{msg}, nil
		},
	)

	h.router = router
	h.httpSubscriber = httpSubscriber
	h.msgChannel = msgChan

	return h, nil
}

// HTTPHandler returns the HTTP handler that accepts activities posted to an
// inbox endpoint. This handler must be registered with an HTTP server.
func (h *Inbox) HTTPHandler() http.HandlerFunc {
	return h.httpSubscriber.HandleRequest
}

func (h *Inbox) start() {
	go h.route()
	go h.listen()

	// The HTTP subscriber must not accept requests until the router is ready.
	<-h.router.Running()
}

func (h *Inbox) stop() {
	if err := h.router.Close(); err != nil {
		logger.Warn("Error closing router", log.WithServiceName(h.ServiceEndpoint), log.WithError(err))
	}
}

func (h *Inbox) route() {
	logger.Debug("Starting router", log.WithServiceName(h.ServiceEndpoint))

	if err := h.router.Run(context.Background()); err != nil {
		// This happens on startup so the best thing to do is to panic.
		panic(err)
	}
}

func (h *Inbox) listen() {
	logger.Debug("Starting message listener", log.WithServiceName(h.ServiceEndpoint))

	for msg := range h.msgChannel {
		logger.Debug("Got new message", log.WithMessageID(msg.UUID), log.WithPayload(msg.Payload))

		h.handle(msg)
	}

	logger.Debug("Message listener stopped", log.WithServiceName(h.ServiceEndpoint))
}

func (h *Inbox) handle(msg *message.Message) {
	activity := &vocab.ActivityType{}

	if err := vocab.UnmarshalJSON(msg.Payload, activity); err != nil {
		logger.Error("Error unmarshalling activity message", log.WithMessageID(msg.UUID), log.WithError(err))

		msg.Nack()

		return
	}

	recipients, err := h.resolveRecipients(activity, msg.Metadata[httpsubscriber.InboxOwnerKey])
	if err != nil {
		logger.Error("Error resolving recipients of activity", log.WithActivityID(activity.ID()),
			log.WithMessageID(msg.UUID), log.WithError(err))

		msg.Nack()

		return
	}

	// The activity is persisted before its side effects are applied so that a
	// failure midway never loses the activity.
	if err := h.activityStore.AddActivity(activity); err != nil {
		logger.Error("Error storing activity", log.WithActivityID(activity.ID()), log.WithError(err))

		msg.Nack()

		return
	}

	for _, recipient := range recipients {
		if err := h.activityStore.AddReference(store.Inbox, recipient, activity.ID().URL()); err != nil {
			logger.Error("Error adding inbox reference to activity", log.WithActivityID(activity.ID()),
				log.WithReferenceIRI(vocab.NewURLProperty(recipient)), log.WithError(err))

			msg.Nack()

			return
		}
	}

	startTime := time.Now()

	if err := h.activityHandler.HandleActivity(activity); err != nil {
		logger.Warn("Error handling activity", log.WithActivityID(activity.ID()),
			log.WithMessageID(msg.UUID), log.WithError(err))

		msg.Nack()
	} else {
		logger.Debug("Successfully handled message", log.WithMessageID(msg.UUID),
			log.WithActivityID(activity.ID()))

		msg.Ack()
	}

	metrics.Get().InboxHandlerTime(time.Since(startTime))
}

// resolveRecipients returns the IRIs of the local actors in whose inboxes the
// activity should appear. An activity posted to a personal inbox is routed to
// its owner. An activity posted to the shared inbox is routed according to its
// addressing: local actors named in to/cc/bcc, local followers of any
// addressed followers collection, and the service itself for the public
// audience.
func (h *Inbox) resolveRecipients(activity *vocab.ActivityType, owner string) ([]*url.URL, error) {
	if owner != "" {
		actor, err := h.activityStore.GetActorByUsername(owner)
		if err != nil {
			return nil, fmt.Errorf("retrieve inbox owner [%s]: %w", owner, err)
		}

		return []*url.URL{actor.ID().URL()}, nil
	}

	recipients := make(map[string]*url.URL)

	for _, iri := range activity.Recipients() {
		switch {
		case iri.String() == vocab.PublicIRI.String():
			recipients[h.ServiceIRI.String()] = h.ServiceIRI

		case !h.isLocal(iri):
			continue

		case strings.HasSuffix(iri.Path, followersPathSuffix):
			followers, err := h.localFollowers(iri)
			if err != nil {
				return nil, err
			}

			for _, follower := range followers {
				recipients[follower.String()] = follower
			}

		default:
			actor, err := h.activityStore.GetActor(iri)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					logger.Debug("Ignoring unknown local recipient", log.WithReferenceIRI(vocab.NewURLProperty(iri)))

					continue
				}

				return nil, fmt.Errorf("retrieve recipient [%s]: %w", iri, err)
			}

			recipients[actor.ID().String()] = actor.ID().URL()
		}
	}

	result := make([]*url.URL, 0, len(recipients))

	for _, iri := range recipients {
		result = append(result, iri)
	}

	return result, nil
}

// localFollowers expands a local followers collection IRI to the local actors
// that follow the collection's owner.
func (h *Inbox) localFollowers(followersIRI *url.URL) ([]*url.URL, error) {
	ownerIRI := *followersIRI
	ownerIRI.Path = strings.TrimSuffix(ownerIRI.Path, followersPathSuffix)

	it, err := h.activityStore.QueryReferences(store.Follower,
		store.NewCriteria(store.WithObjectIRI(&ownerIRI)))
	if err != nil {
		return nil, fmt.Errorf("query followers of [%s]: %w", &ownerIRI, err)
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

			return nil, fmt.Errorf("iterate followers of [%s]: %w", &ownerIRI, err)
		}

		if h.isLocal(follower) {
			followers = append(followers, follower)
		}
	}

	return followers, nil
}

func (h *Inbox) isLocal(iri *url.URL) bool {
	return iri != nil && strings.HasPrefix(iri.String(), h.BaseURL.String())
}
