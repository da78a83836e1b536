/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kestrelsoc/kestrel/internal/pkg/log"
	"github.com/kestrelsoc/kestrel/internal/pkg/tlsutil"
	apclient "github.com/kestrelsoc/kestrel/pkg/client"
	"github.com/kestrelsoc/kestrel/pkg/client/transport"
	"github.com/kestrelsoc/kestrel/pkg/discovery/webfinger"
	"github.com/kestrelsoc/kestrel/pkg/healthcheck"
	"github.com/kestrelsoc/kestrel/pkg/httpserver"
	"github.com/kestrelsoc/kestrel/pkg/httpsig"
	"github.com/kestrelsoc/kestrel/pkg/nodeinfo"
	"github.com/kestrelsoc/kestrel/pkg/observability/loglevels"
	"github.com/kestrelsoc/kestrel/pkg/observability/tracing"
	"github.com/kestrelsoc/kestrel/pkg/observability/tracing/otelamqp"
	"github.com/kestrelsoc/kestrel/pkg/pubsub/amqp"
	"github.com/kestrelsoc/kestrel/pkg/pubsub/mempubsub"
	"github.com/kestrelsoc/kestrel/pkg/resthandler"
	"github.com/kestrelsoc/kestrel/pkg/service/activityhandler"
	"github.com/kestrelsoc/kestrel/pkg/service/delivery"
	"github.com/kestrelsoc/kestrel/pkg/service/inbox"
	"github.com/kestrelsoc/kestrel/pkg/service/outbox"
	"github.com/kestrelsoc/kestrel/pkg/service/sysactor"
	service "github.com/kestrelsoc/kestrel/pkg/service/spi"
	"github.com/kestrelsoc/kestrel/pkg/store/memstore"
	"github.com/kestrelsoc/kestrel/pkg/store/mongostore"
	store "github.com/kestrelsoc/kestrel/pkg/store/spi"
)

const (
	serviceName = "kestrel"

	inboxTopic  = "kestrel.activities"
	outboxTopic = "kestrel.outbox"

	sharedInboxPath = "/inbox"
	metricsPath     = "/metrics"

	maxActivityPayloadSize = 1 << 20

	serverIdleTimeout       = 90 * time.Second
	serverReadHeaderTimeout = 10 * time.Second
	stopTimeout             = 10 * time.Second
	httpClientTimeout       = 30 * time.Second
	mongoConnectTimeout     = 10 * time.Second
	nodeInfoRefreshInterval = 15 * time.Second
)

var logger = log.New("kestrel-server")

// HTTPServer starts the federation services and the HTTP server, then waits
// for an interrupt signal to shut them down.
type HTTPServer struct {
	services []service.ServiceLifecycle
	pubSub   service.PubSub
	closers  []func() error
}

// Start starts the HTTP server and blocks until an interrupt signal is received.
func (s *HTTPServer) Start(srv *httpserver.Server) error {
	for _, svc := range s.services {
		svc.Start()
	}

	if err := srv.Start(); err != nil {
		return err
	}

	logger.Info("Started kestrel-server")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-interrupt

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	if err := srv.Stop(stopCtx); err != nil {
		logger.Warn("Error stopping HTTP server", log.WithError(err))
	}

	// Services are stopped in reverse start order so that each consumer drains
	// before the services it depends on go away.
	for i := len(s.services) - 1; i >= 0; i-- {
		s.services[i].Stop()
	}

	if err := s.pubSub.Close(); err != nil {
		logger.Warn("Error closing publisher/subscriber", log.WithError(err))
	}

	for _, closeResource := range s.closers {
		if err := closeResource(); err != nil {
			logger.Warn("Error during shutdown", log.WithError(err))
		}
	}

	return nil
}

// GetStartCmd returns the Cobra start command.
func GetStartCmd() *cobra.Command {
	startCmd := createStartCmd()

	createFlags(startCmd)

	return startCmd
}

func createStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start kestrel-server",
		Long:  "Start kestrel-server",
		RunE: func(cmd *cobra.Command, args []string) error {
			parameters, err := getKestrelParameters(cmd)
			if err != nil {
				return err
			}

			return startKestrelServices(parameters)
		},
	}
}

//nolint:funlen
func startKestrelServices(parameters *kestrelParameters) error {
	setLogLevels(parameters.logLevel)

	baseURL := parameters.externalEndpoint

	var (
		activityStore store.Store
		dbPinger      interface{ Ping() error }
		closers       []func() error
	)

	tracerProvider, err := tracing.Initialize(tracing.ProviderType(parameters.tracingProvider),
		serviceName, parameters.tracingCollectorURL)
	if err != nil {
		return fmt.Errorf("initialize tracer provider: %w", err)
	}

	tracerProvider.Start()

	closers = append(closers, func() error {
		tracerProvider.Stop()

		return nil
	})

	if parameters.databaseType == databaseTypeMongoDBOption {
		ctx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
		defer cancel()

		mongoClient, err := mongo.Connect(ctx, mongooptions.Client().ApplyURI(parameters.databaseURL))
		if err != nil {
			return fmt.Errorf("connect to MongoDB at [%s]: %w", parameters.databaseURL, err)
		}

		closers = append(closers, func() error {
			return mongoClient.Disconnect(context.Background())
		})

		mongoStore, err := mongostore.New(serviceName, mongoClient.Database(parameters.databaseName))
		if err != nil {
			return fmt.Errorf("create MongoDB store: %w", err)
		}

		activityStore = mongoStore
		dbPinger = mongoStore
	} else {
		activityStore = memstore.New(serviceName)
	}

	var pubSub service.PubSub

	if parameters.mqURL != "" {
		logger.Info("Creating AMQP publisher/subscriber", log.WithURIString(parameters.mqURL))

		pubSub = otelamqp.New(amqp.New(amqp.Config{URI: parameters.mqURL}))
	} else {
		pubSub = mempubsub.New(mempubsub.DefaultConfig())
	}

	identity := sysactor.New(&sysactor.Config{BaseURL: baseURL}, activityStore)

	// The system actor is provisioned eagerly so that its key is available
	// before the first outbound request.
	system, err := identity.System()
	if err != nil {
		return fmt.Errorf("provision system actor: %w", err)
	}

	rootCAs, err := tlsutil.GetCertPool(parameters.tlsSystemCertPool, parameters.tlsCACerts)
	if err != nil {
		return fmt.Errorf("create CA cert pool: %w", err)
	}

	httpClient := &http.Client{
		Timeout: httpClientTimeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: rootCAs, MinVersion: tls.VersionTLS12},
		},
	}

	t := transport.New(httpClient, system.PrivateKey, system.PublicKeyID,
		httpsig.NewSigner(httpsig.DefaultGetSignerConfig()),
		httpsig.NewSigner(httpsig.DefaultPostSignerConfig()),
	)

	apClient := apclient.New(apclient.Config{}, t,
		apclient.WithHandleResolver(webfinger.NewClient(webfinger.WithHTTPClient(httpClient))))

	sigVerifier := httpsig.NewVerifier(apClient)

	handlerCfg := &activityhandler.Config{
		ServiceName: serviceName,
		BaseURL:     baseURL,
	}

	ob, err := outbox.New(
		&outbox.Config{
			ServiceName: serviceName,
			BaseURL:     baseURL,
			Topic:       outboxTopic,
			MaxRetries:  parameters.deliveryMaxRetries,
		},
		activityStore, pubSub,
		activityhandler.NewOutbox(handlerCfg, activityStore),
		apClient,
	)
	if err != nil {
		return fmt.Errorf("create outbox: %w", err)
	}

	ib, err := inbox.New(
		&inbox.Config{
			ServiceEndpoint: sharedInboxPath,
			ServiceIRI:      system.Actor.ID().URL(),
			BaseURL:         baseURL,
			Topic:           inboxTopic,
			MaxPayloadSize:  maxActivityPayloadSize,
		},
		activityStore, pubSub,
		activityhandler.NewInbox(handlerCfg, activityStore, ob, apClient),
		sigVerifier,
	)
	if err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}

	deliverySvc := delivery.New(
		&delivery.Config{
			ServiceName: serviceName,
			BaseURL:     baseURL,
			Workers:     parameters.deliveryWorkers,
		},
		activityStore, identity, httpClient,
	)

	nodeInfoService := nodeinfo.New(baseURL, nodeInfoRefreshInterval, activityStore)

	restCfg := &resthandler.Config{
		BaseURL:  baseURL,
		PageSize: parameters.pageSize,
	}

	handlers := []httpserver.Handler{
		resthandler.NewActor(restCfg, activityStore),
		resthandler.NewServices(restCfg, activityStore, sysactor.SystemUsername),
		resthandler.NewObject(restCfg, activityStore),
		resthandler.NewFollowers(restCfg, activityStore),
		resthandler.NewFollowing(restCfg, activityStore),
		resthandler.NewLiked(restCfg, activityStore),
		resthandler.NewShared(restCfg, activityStore),
		resthandler.NewReplies(restCfg, activityStore),
		resthandler.NewLikes(restCfg, activityStore),
		resthandler.NewShares(restCfg, activityStore),
		resthandler.NewInbox(restCfg, activityStore, sigVerifier),
		resthandler.NewOutbox(restCfg, activityStore, sigVerifier),
		resthandler.NewPostOutbox(restCfg, activityStore, sigVerifier, ob),
		resthandler.NewActivity(restCfg, activityStore, sigVerifier),
		webfinger.NewHandler(baseURL, activityStore),
		nodeinfo.NewHandler(nodeinfo.V2_0, nodeInfoService),
		nodeinfo.NewHandler(nodeinfo.V2_1, nodeInfoService),
		nodeinfo.NewWellKnownHandler(baseURL),
		healthcheck.NewHandler(pubSub, dbPinger),
		loglevels.NewWriteHandler(),
		loglevels.NewReadHandler(),
		httpserver.NewEndpoint(resthandler.InboxPath, http.MethodPost, ib.HTTPHandler()),
		httpserver.NewEndpoint(sharedInboxPath, http.MethodPost, ib.HTTPHandler()),
		httpserver.NewEndpoint(metricsPath, http.MethodGet, promhttp.Handler().ServeHTTP),
	}

	httpServer := httpserver.New(
		parameters.hostURL,
		parameters.tlsCertificate,
		parameters.tlsKey,
		serverIdleTimeout,
		serverReadHeaderTimeout,
		handlers...,
	)

	srv := &HTTPServer{
		services: []service.ServiceLifecycle{deliverySvc, ob, ib, nodeInfoService},
		pubSub:   pubSub,
		closers:  closers,
	}

	return srv.Start(httpServer)
}
