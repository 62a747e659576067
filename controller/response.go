package controller

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"twitter-social/model"
)

const msgBusy = "Server is busy, please try again later."

func sendSuccess(w http.ResponseWriter, data interface{}, message string) {
	writeJSON(w, http.StatusOK, model.SuccessResponse{Data: data, Message: message})
}

func sendFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, model.FailureResponse{Data: []interface{}{}, Error: message})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.WithError(err).Warn("Failed to encode response")
	}
}

// statusFor maps an error to its HTTP status and the message shown to the
// client. Errors without a known kind get fallback and a 500.
func statusFor(err error, fallback string) (int, string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrSelfRelation):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrPoolTimeout):
		return http.StatusServiceUnavailable, msgBusy
	default:
		return status, fallback
	}
	if msg, ok := model.Message(err); ok {
		return status, msg
	}
	return status, fallback
}

func (c *Controller) fail(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status, message := statusFor(err, fallback)
	entry := c.log.WithFields(logrus.Fields{
		"request_id": requestID(r),
		"path":       r.URL.Path,
		"status":     status,
	}).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Error(fallback)
	} else {
		entry.Info(message)
	}
	sendFailure(w, status, message)
}
