/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kestrelsoc/kestrel/internal/pkg/log"
)

var logger = log.New("httpserver")

// Handler represents an HTTP handler that may be registered with the server.
type Handler interface {
	Path() string
	Method() string
	Handler() http.HandlerFunc
}

// Server implements an HTTP server.
type Server struct {
	httpServer *http.Server
	started    uint32
	certFile   string
	keyFile    string
}

// New returns a new HTTP server.
func New(listenAddr, certFile, keyFile string, idleTimeout, readHeaderTimeout time.Duration,
	handlers ...Handler) *Server {
	s := &Server{
		certFile: certFile,
		keyFile:  keyFile,
	}

	router := mux.NewRouter()

	router.Use(otelmux.Middleware("kestrel"))

	for _, handler := range handlers {
		logger.Info("Registering handler", log.WithServiceEndpoint(handler.Path()))

		router.HandleFunc(handler.Path(), handler.Handler()).Methods(handler.Method())
	}

	handler := cors.New(
		cors.Options{
			AllowedMethods: []string{
				http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions,
			},
			AllowedHeaders: []string{"*"},
		},
	).Handler(router)

	http2Server := &http2.Server{
		IdleTimeout: idleTimeout,
		CountError: func(errType string) {
			logger.Error("HTTP2 server error", log.WithError(errors.New(errType)))
		},
	}

	s.httpServer = &http.Server{
		Addr:              listenAddr,
		Handler:           h2c.NewHandler(handler, http2Server),
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s
}

// Start starts the HTTP server in a separate Go routine.
func (s *Server) Start() error {
	if !atomic.CompareAndSwapUint32(&s.started, 0, 1) {
		return fmt.Errorf("server already started")
	}

	go func() {
		logger.Info("Listening for requests", log.WithAddress(s.httpServer.Addr))

		var err error
		if s.keyFile != "" && s.certFile != "" {
			err = s.httpServer.ListenAndServeTLS(s.certFile, s.keyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			panic(fmt.Sprintf("Failed to start server on [%s]: %s", s.httpServer.Addr, err))
		}

		atomic.StoreUint32(&s.started, 0)

		logger.Info("Server has stopped")
	}()

	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&s.started, 1, 0) {
		return fmt.Errorf("cannot stop HTTP server since it hasn't been started")
	}

	return s.httpServer.Shutdown(ctx)
}

// Endpoint adapts a plain HTTP handler function to the Handler interface so
// that it may be registered with the server.
type Endpoint struct {
	path    string
	method  string
	handler http.HandlerFunc
}

// NewEndpoint returns a new endpoint handler.
func NewEndpoint(path, method string, handler http.HandlerFunc) *Endpoint {
	return &Endpoint{
		path:    path,
		method:  method,
		handler: handler,
	}
}

// Path returns the path of the endpoint.
func (e *Endpoint) Path() string {
	return e.path
}

// Method returns the HTTP method of the endpoint.
func (e *Endpoint) Method() string {
	return e.method
}

// Handler returns the HTTP handler function.
func (e *Endpoint) Handler() http.HandlerFunc {
	return e.handler
}
