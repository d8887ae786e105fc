package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/criptocracia/ec-core/log"
)

// Error wraps an error with a stable numeric code and the HTTP status
// it should be reported with. Codes in 4xxxx are the caller's fault;
// 5xxxx are ours. Never reuse or renumber a code once shipped.
type Error struct {
	Err        error
	Code       int
	HTTPstatus int
}

func (e Error) Error() string { return e.Err.Error() }

// MarshalJSON renders {"success":false,"message":"...","code":N}.
func (e Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Code    int    `json:"code"`
	}{Success: false, Message: e.Err.Error(), Code: e.Code})
}

// Withf returns a copy of e with a formatted detail appended.
func (e Error) Withf(format string, args ...any) Error {
	return Error{Err: fmt.Errorf("%w: %s", e.Err, fmt.Sprintf(format, args...)), Code: e.Code, HTTPstatus: e.HTTPstatus}
}

// With returns a copy of e with s appended.
func (e Error) With(s string) Error {
	return Error{Err: fmt.Errorf("%w: %s", e.Err, s), Code: e.Code, HTTPstatus: e.HTTPstatus}
}

// WithErr returns a copy of e with err's message appended.
func (e Error) WithErr(err error) Error {
	return Error{Err: fmt.Errorf("%w: %s", e.Err, err.Error()), Code: e.Code, HTTPstatus: e.HTTPstatus}
}

// Write serializes e as the HTTP response.
func (e Error) Write(w http.ResponseWriter) {
	msg, err := json.Marshal(e)
	if err != nil {
		log.Warn(err)
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	log.Debugw("rpc error response", "error", e.Error(), "code", e.Code, "httpStatus", e.HTTPstatus)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPstatus)
	_, _ = w.Write(msg)
}

// Error codes. 40001-49999: the caller's fault. 50001-59999: ours.
// Never renumber or reuse a code once shipped.
var (
	ErrMalformedBody      = Error{Code: 40001, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed JSON body")}
	ErrInvalidArgument    = Error{Code: 40002, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid argument")}
	ErrElectionNotFound   = Error{Code: 40003, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("election not found")}
	ErrDuplicate          = Error{Code: 40004, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("already exists")}
	ErrInvalidPubkey      = Error{Code: 40005, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid pubkey")}
	ErrInvalidTransition  = Error{Code: 40006, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("invalid status transition")}
	ErrGenericServerError = Error{Code: 50001, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("internal server error")}
)
