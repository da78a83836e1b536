/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package lifecycle

import (
	"errors"
	"sync/atomic"

	"github.com/kestrelsoc/kestrel/internal/pkg/log"
)

var logger = log.New("lifecycle")

// ErrNotStarted indicates that an attempt was made to invoke a service that has not been
// started or is still in the process of starting.
var ErrNotStarted = errors.New("service has not started")

// State is the state of the service.
type State = uint32

const (
	// StateNotStarted indicates that the service has not been started.
	StateNotStarted State = iota
	// StateStarting indicates that the service is in the process of starting.
	StateStarting
	// StateStarted indicates that the service has been started.
	StateStarted
	// StateStopped indicates that the service has been stopped.
	StateStopped
)

// Lifecycle implements the lifecycle of a service, i.e. Start and Stop.
type Lifecycle struct {
	name  string
	state uint32
	start func()
	stop  func()
}

// Opt sets a lifecycle option.
type Opt func(opts *options)

type options struct {
	start func()
	stop  func()
}

// WithStart sets the start function which is invoked when Start() is called.
func WithStart(start func()) Opt {
	return func(opts *options) {
		opts.start = start
	}
}

// WithStop sets the stop function which is invoked when Stop() is called.
func WithStop(stop func()) Opt {
	return func(opts *options) {
		opts.stop = stop
	}
}

// New returns a new Lifecycle.
func New(name string, opts ...Opt) *Lifecycle {
	options := &options{
		start: func() {},
		stop:  func() {},
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Lifecycle{
		name:  name,
		start: options.start,
		stop:  options.stop,
	}
}

// Start starts the service. This function has no effect if the service has already been started.
func (h *Lifecycle) Start() {
	if !atomic.CompareAndSwapUint32(&h.state, StateNotStarted, StateStarting) {
		logger.Debug("Service already started", log.WithServiceName(h.name))

		return
	}

	logger.Debug("Starting service ...", log.WithServiceName(h.name))

	h.start()

	logger.Debug("... service started", log.WithServiceName(h.name))

	atomic.StoreUint32(&h.state, StateStarted)
}

// Stop stops the service. This function has no effect if the service has already been stopped.
func (h *Lifecycle) Stop() {
	if !atomic.CompareAndSwapUint32(&h.state, StateStarted, StateStopped) {
		logger.Debug("Service already stopped", log.WithServiceName(h.name))

		return
	}

	logger.Debug("Stopping service ...", log.WithServiceName(h.name))

	h.stop()

	logger.Debug("... service stopped", log.WithServiceName(h.name))
}

// State returns the state of the service.
func (h *Lifecycle) State() State {
	return atomic.LoadUint32(&h.state)
}
