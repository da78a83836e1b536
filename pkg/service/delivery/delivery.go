/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package delivery

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kestrelsoc/kestrel/internal/pkg/log"
	"github.com/kestrelsoc/kestrel/pkg/client/transport"
	"github.com/kestrelsoc/kestrel/pkg/httpsig"
	"github.com/kestrelsoc/kestrel/pkg/lifecycle"
	"github.com/kestrelsoc/kestrel/pkg/metrics"
	service "github.com/kestrelsoc/kestrel/pkg/service/spi"
	store "github.com/kestrelsoc/kestrel/pkg/store/spi"
)

var logger = log.New("delivery")

const (
	defaultWorkers        = 8
	defaultBatchSize      = 100
	defaultPollInterval   = time.Second
	defaultReapInterval   = time.Hour
	defaultDeliveredTTL   = 24 * time.Hour
	defaultDeadTTL        = 7 * 24 * time.Hour
	defaultDrainTimeout   = 30 * time.Second
	defaultRequestTimeout = 30 * time.Second
	defaultRatePerHost    = 10
	defaultRateBurst      = 20

	usersPathPrefix = "/users/"
)

//nolint:gochecknoglobals
var defaultBackoffSchedule = []time.Duration{
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	time.Hour,
	4 * time.Hour,
}

// Config holds configuration parameters for the delivery service.
type Config struct {
	ServiceName     string
	BaseURL         *url.URL
	Workers         int
	BatchSize       int
	PollInterval    time.Duration
	BackoffSchedule []time.Duration
	ReapInterval    time.Duration
	DeliveredTTL    time.Duration
	DeadTTL         time.Duration
	DrainTimeout    time.Duration
	RequestTimeout  time.Duration
	RatePerHost     rate.Limit
	RateBurst       int
}

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Service delivers queued activities to remote inboxes. A pool of workers
// leases due deliveries, signs each request with the key of the posting actor,
// and classifies the result: a definitive rejection kills the delivery while a
// transient failure reschedules it with an increasing backoff.
type Service struct {
	*Config
	*lifecycle.Lifecycle

	deliveryStore store.DeliveryRepo
	identity      service.IdentityProvider
	client        httpClient
	getSigner     transport.Signer
	postSigner    transport.Signer

	jobChan  chan *store.DeliveryRecord
	stopped  chan struct{}
	workerWG sync.WaitGroup

	mutex    sync.Mutex
	limiters map[string]*rate.Limiter
}

// New returns a new delivery service.
func New(cnfg *Config, s store.DeliveryRepo, identity service.IdentityProvider, client httpClient) *Service {
	cfg := populateConfigDefaults(cnfg)

	d := &Service{
		Config:        &cfg,
		deliveryStore: s,
		identity:      identity,
		client:        client,
		getSigner:     httpsig.NewSigner(httpsig.DefaultGetSignerConfig()),
		postSigner:    httpsig.NewSigner(httpsig.DefaultPostSignerConfig()),
		jobChan:       make(chan *store.DeliveryRecord, cfg.BatchSize),
		stopped:       make(chan struct{}),
		limiters:      make(map[string]*rate.Limiter),
	}

	d.Lifecycle = lifecycle.New(cfg.ServiceName,
		lifecycle.WithStart(d.start),
		lifecycle.WithStop(d.stop),
	)

	return d
}

func (d *Service) start() {
	for i := 0; i < d.Workers; i++ {
		d.workerWG.Add(1)

		go d.worker()
	}

	go d.dispatch()
	go d.reaper()
}

// stop drains the workers: in-flight deliveries complete, and leased records
// that were never attempted are released back to the queue without consuming
// a retry.
func (d *Service) stop() {
	logger.Info("Stopping delivery service...", log.WithServiceName(d.ServiceName))

	close(d.stopped)

	doneChan := make(chan struct{})

	go func() {
		d.workerWG.Wait()
		close(doneChan)
	}()

	select {
	case <-doneChan:
	case <-time.After(d.DrainTimeout):
		logger.Warn("Timed out waiting for delivery workers to finish")
	}

	for {
		select {
		case record := <-d.jobChan:
			if err := d.deliveryStore.Release(record.ID); err != nil {
				logger.Warn("Error releasing delivery", log.WithDeliveryID(record.ID), log.WithError(err))
			}
		default:
			logger.Info("... delivery service stopped", log.WithServiceName(d.ServiceName))

			return
		}
	}
}

func (d *Service) dispatch() {
	for {
		select {
		case <-d.stopped:
			return
		default:
		}

		records, err := d.deliveryStore.LeasePending(d.BatchSize, time.Now())
		if err != nil {
			logger.Error("Error leasing pending deliveries", log.WithError(err))
		}

		if depth, err := d.deliveryStore.CountPending(); err == nil {
			metrics.Get().DeliveryQueueDepth(depth)
		}

		if len(records) == 0 {
			select {
			case <-d.stopped:
				return
			case <-time.After(d.PollInterval):
			}

			continue
		}

		for _, record := range records {
			select {
			case d.jobChan <- record:
			case <-d.stopped:
				if err := d.deliveryStore.Release(record.ID); err != nil {
					logger.Warn("Error releasing delivery", log.WithDeliveryID(record.ID), log.WithError(err))
				}

				return
			}
		}
	}
}

func (d *Service) worker() {
	defer d.workerWG.Done()

	for {
		select {
		case record := <-d.jobChan:
			d.deliver(record)

		case <-d.stopped:
			return
		}
	}
}

func (d *Service) deliver(record *store.DeliveryRecord) {
	logger.Debug("Delivering activity", log.WithDeliveryID(record.ID),
		log.WithTargetInbox(record.TargetInbox), log.WithAttempts(record.Attempts))

	targetInbox, err := url.Parse(record.TargetInbox)
	if err != nil {
		d.markDead(record, fmt.Sprintf("invalid target inbox [%s]: %s", record.TargetInbox, err))

		return
	}

	t, err := d.transportFor(record.ActorIRI)
	if err != nil {
		d.markDead(record, fmt.Sprintf("resolve signing key for actor [%s]: %s", record.ActorIRI, err))

		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.RequestTimeout)
	defer cancel()

	if err := d.limiter(targetInbox.Host).Wait(ctx); err != nil {
		d.retry(record, fmt.Sprintf("rate limiter: %s", err), "")

		return
	}

	req := transport.NewRequest(targetInbox,
		transport.WithHeader(transport.AcceptHeader, transport.ActivityStreamsContentType),
	)

	startTime := time.Now()

	resp, err := t.Post(ctx, req, record.Payload)

	metrics.Get().DeliveryTime(time.Since(startTime))

	if err != nil {
		d.retry(record, fmt.Sprintf("send activity: %s", err), "")

		return
	}

	retryAfter := resp.Header.Get("Retry-After")

	if err := resp.Body.Close(); err != nil {
		logger.Warn("Error closing response body", log.WithError(err))
	}

	d.classify(record, resp.StatusCode, retryAfter)
}

// classify applies the delivery result: 2xx completes the delivery, a 4xx
// other than 408 and 429 is a definitive rejection, and everything else is
// retried.
func (d *Service) classify(record *store.DeliveryRecord, statusCode int, retryAfter string) {
	switch {
	case statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices:
		logger.Debug("Activity delivered", log.WithDeliveryID(record.ID),
			log.WithTargetInbox(record.TargetInbox))

		metrics.Get().DeliveryResult("delivered")

		if err := d.deliveryStore.MarkDelivered(record.ID); err != nil {
			logger.Error("Error marking delivery as delivered", log.WithDeliveryID(record.ID), log.WithError(err))
		}

	case statusCode >= http.StatusBadRequest && statusCode < http.StatusInternalServerError &&
		statusCode != http.StatusRequestTimeout && statusCode != http.StatusTooManyRequests:
		d.markDead(record, fmt.Sprintf("server rejected the activity with status %d", statusCode))

	default:
		d.retry(record, fmt.Sprintf("server responded with status %d", statusCode), retryAfter)
	}
}

func (d *Service) retry(record *store.DeliveryRecord, reason, retryAfter string) {
	if record.Attempts+1 >= record.MaxRetries {
		d.markDead(record, fmt.Sprintf("%s (retries exhausted)", reason))

		return
	}

	notBefore := time.Now().Add(d.backoff(record.Attempts))

	if t, ok := parseRetryAfter(retryAfter); ok && t.After(notBefore) {
		notBefore = t
	}

	logger.Info("Delivery failed and will be retried", log.WithDeliveryID(record.ID),
		log.WithTargetInbox(record.TargetInbox), log.WithNextAttempt(notBefore))

	metrics.Get().DeliveryResult("failed")

	if err := d.deliveryStore.MarkFailed(record.ID, reason, notBefore); err != nil {
		logger.Error("Error marking delivery as failed", log.WithDeliveryID(record.ID), log.WithError(err))
	}
}

func (d *Service) markDead(record *store.DeliveryRecord, reason string) {
	logger.Warn("Abandoning delivery", log.WithDeliveryID(record.ID),
		log.WithTargetInbox(record.TargetInbox), log.WithError(fmt.Errorf("%s", reason)))

	metrics.Get().DeliveryResult("dead")

	if err := d.deliveryStore.MarkDead(record.ID, reason); err != nil {
		logger.Error("Error marking delivery as dead", log.WithDeliveryID(record.ID), log.WithError(err))
	}
}

func (d *Service) backoff(attempts int) time.Duration {
	if attempts >= len(d.BackoffSchedule) {
		return d.BackoffSchedule[len(d.BackoffSchedule)-1]
	}

	return d.BackoffSchedule[attempts]
}

// transportFor returns a transport that signs requests with the key of the
// given local actor. Requests on behalf of an actor that cannot be resolved
// fall back to the server's own actor.
func (d *Service) transportFor(actorIRI string) (*transport.Transport, error) {
	var localActor *service.LocalActor

	username, ok := d.username(actorIRI)
	if ok {
		actor, err := d.identity.ResolveLocalActor(username)
		if err != nil {
			return nil, err
		}

		localActor = actor
	} else {
		actor, err := d.identity.System()
		if err != nil {
			return nil, err
		}

		localActor = actor
	}

	return transport.New(d.client, localActor.PrivateKey, localActor.PublicKeyID,
		d.getSigner, d.postSigner), nil
}

func (d *Service) username(actorIRI string) (string, bool) {
	prefix := d.BaseURL.String() + usersPathPrefix

	if !strings.HasPrefix(actorIRI, prefix) {
		return "", false
	}

	username := strings.TrimPrefix(actorIRI, prefix)
	if username == "" || strings.Contains(username, "/") {
		return "", false
	}

	return username, true
}

// limiter returns the rate limiter for the given host, so that a burst of
// deliveries does not overwhelm a single destination.
func (d *Service) limiter(host string) *rate.Limiter {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	l, ok := d.limiters[host]
	if !ok {
		l = rate.NewLimiter(d.RatePerHost, d.RateBurst)
		d.limiters[host] = l
	}

	return l
}

func (d *Service) reaper() {
	ticker := time.NewTicker(d.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()

			removed, err := d.deliveryStore.Reap(now.Add(-d.DeliveredTTL), now.Add(-d.DeadTTL))
			if err != nil {
				logger.Error("Error reaping deliveries", log.WithError(err))
			} else if removed > 0 {
				logger.Info("Reaped completed deliveries", log.WithTotalItems(removed))
			}

		case <-d.stopped:
			return
		}
	}
}

// parseRetryAfter parses a Retry-After header value, which is either a number
// of seconds or an HTTP date.
func parseRetryAfter(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return time.Time{}, false
		}

		return time.Now().Add(time.Duration(seconds) * time.Second), true
	}

	if t, err := http.ParseTime(value); err == nil {
		return t, true
	}

	return time.Time{}, false
}

func populateConfigDefaults(cnfg *Config) Config {
	cfg := *cnfg

	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}

	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}

	if len(cfg.BackoffSchedule) == 0 {
		cfg.BackoffSchedule = defaultBackoffSchedule
	}

	if cfg.ReapInterval == 0 {
		cfg.ReapInterval = defaultReapInterval
	}

	if cfg.DeliveredTTL == 0 {
		cfg.DeliveredTTL = defaultDeliveredTTL
	}

	if cfg.DeadTTL == 0 {
		cfg.DeadTTL = defaultDeadTTL
	}

	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}

	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	if cfg.RatePerHost == 0 {
		cfg.RatePerHost = defaultRatePerHost
	}

	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}

	return cfg
}
