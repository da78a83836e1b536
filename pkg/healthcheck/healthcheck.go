/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package healthcheck

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kestrelsoc/kestrel/internal/pkg/log"
)

var logger = log.New("healthcheck")

const (
	healthCheckEndpoint = "/healthcheck"

	statusOK          = "OK"
	statusUnavailable = "Service Unavailable"

	success      = "success"
	notConnected = "not connected"
	unknown      = "unknown error"
)

type pubSub interface {
	IsConnected() bool
}

type db interface {
	Ping() error
}

// Handler implements the health check endpoint. A nil check is skipped and
// omitted from the response.
type Handler struct {
	pubSub pubSub
	db     db
}

// NewHandler returns a new health check handler.
func NewHandler(pubSub pubSub, db db) *Handler {
	return &Handler{
		pubSub: pubSub,
		db:     db,
	}
}

// Path returns the HTTP REST endpoint for the health check handler.
func (h *Handler) Path() string {
	return healthCheckEndpoint
}

// Method returns the HTTP REST method for the health check handler.
func (h *Handler) Method() string {
	return http.MethodGet
}

// Handler returns the HTTP handler for the health check endpoint.
func (h *Handler) Handler() http.HandlerFunc {
	return h.checkHealth
}

type response struct {
	MQStatus    string    `json:"mqStatus,omitempty"`
	DBStatus    string    `json:"dbStatus,omitempty"`
	Status      string    `json:"status"`
	CurrentTime time.Time `json:"currentTime"`
}

func (h *Handler) checkHealth(rw http.ResponseWriter, _ *http.Request) {
	returnStatusServiceUnavailable := false

	unavailable, mqStatus := h.mqHealthCheck()
	if unavailable {
		returnStatusServiceUnavailable = true
	}

	unavailable, dbStatus := h.dbHealthCheck()
	if unavailable {
		returnStatusServiceUnavailable = true
	}

	status := http.StatusOK

	hc := &response{
		MQStatus:    mqStatus,
		DBStatus:    dbStatus,
		Status:      statusOK,
		CurrentTime: time.Now(),
	}

	if returnStatusServiceUnavailable {
		status = http.StatusServiceUnavailable
		hc.Status = statusUnavailable
	}

	hcBytes, err := json.Marshal(hc)
	if err != nil {
		logger.Error("Error marshalling health check response", log.WithError(err))

		rw.WriteHeader(http.StatusInternalServerError)

		return
	}

	logger.Debug("Health check response", log.WithHTTPStatus(status), log.WithPayload(hcBytes))

	rw.Header().Add("Content-Type", "application/json")
	rw.WriteHeader(status)

	if _, err = rw.Write(hcBytes); err != nil {
		logger.Warn("Unable to write health check response", log.WithError(err))
	}
}

func (h *Handler) mqHealthCheck() (bool, string) {
	if h.pubSub == nil {
		return false, ""
	}

	if h.pubSub.IsConnected() {
		return false, success
	}

	return true, notConnected
}

func (h *Handler) dbHealthCheck() (bool, string) {
	if h.db == nil {
		return false, ""
	}

	err := h.db.Ping()
	if err == nil {
		return false, success
	}

	return true, toStatus(err)
}

func toStatus(err error) string {
	if err.Error() != "" {
		return err.Error()
	}

	return unknown
}
