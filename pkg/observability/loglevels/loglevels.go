/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package loglevels

import (
	"io"
	"net/http"

	"github.com/kestrelsoc/kestrel/internal/pkg/log"
)

const (
	logLevelsPath               = "/loglevels"
	internalServerErrorResponse = "Internal Server Error.\n"
	badRequestResponse          = "Bad Request.\n"
)

var logger = log.New("loglevels", log.WithFields(log.WithServiceEndpoint(logLevelsPath)))

// WriteHandler is a REST handler that updates the default log level and/or
// log levels on specified modules.
type WriteHandler struct {
	readAll func(r io.Reader) ([]byte, error)
}

// NewWriteHandler returns a new log levels POST handler.
func NewWriteHandler() *WriteHandler {
	return &WriteHandler{
		readAll: io.ReadAll,
	}
}

// Method returns the HTTP method.
func (h *WriteHandler) Method() string {
	return http.MethodPost
}

// Path returns the HTTP path.
func (h *WriteHandler) Path() string {
	return logLevelsPath
}

// Handler returns the HTTP handler.
func (h *WriteHandler) Handler() http.HandlerFunc {
	return h.handlePost
}

func (h *WriteHandler) handlePost(w http.ResponseWriter, req *http.Request) {
	reqBytes, err := h.readAll(req.Body)
	if err != nil {
		logger.Error("Error reading request body", log.WithError(err))

		writeResponse(w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	request := string(reqBytes)

	logger.Debug("Got request to update log levels", log.WithParameter(request))

	if err := log.SetSpec(request); err != nil {
		logger.Warn("Error setting logging spec", log.WithParameter(request), log.WithError(err))

		writeResponse(w, http.StatusBadRequest, []byte(badRequestResponse))

		return
	}

	logger.Info("Successfully updated log levels", log.WithParameter(log.GetSpec()))

	writeResponse(w, http.StatusOK, nil)
}

// ReadHandler is a REST handler that returns the logging spec in the format
// "module1=level1:module2=level2:defaultLevel".
type ReadHandler struct{}

// NewReadHandler returns a new log levels GET handler.
func NewReadHandler() *ReadHandler {
	return &ReadHandler{}
}

// Method returns the HTTP method.
func (h *ReadHandler) Method() string {
	return http.MethodGet
}

// Path returns the HTTP path.
func (h *ReadHandler) Path() string {
	return logLevelsPath
}

// Handler returns the HTTP handler.
func (h *ReadHandler) Handler() http.HandlerFunc {
	return h.handleGet
}

func (h *ReadHandler) handleGet(w http.ResponseWriter, _ *http.Request) {
	writeResponse(w, http.StatusOK, []byte(log.GetSpec()))
}

func writeResponse(w http.ResponseWriter, status int, body []byte) {
	w.WriteHeader(status)

	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			logger.Warn("Unable to write response", log.WithError(err))

			return
		}

		logger.Debug("Wrote response", log.WithPayload(body))
	}
}
