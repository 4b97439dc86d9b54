// Package httpapi exposes the control plane's REST surface: worker polling
// and submission, verifier claim/verdict, buyer bounty and console
// operations, admin break-glass calls, and the billing/alarm webhooks.
// Every handler projects a single authn.Principal from the request once,
// via middleware, and never re-derives identity deeper in the call stack.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/R3E-Network/proofwork/internal/app/apperr"
)

// dataBody wraps a handler's payload in the API's {data: ...} envelope.
type dataBody struct {
	Data any `json:"data"`
}

// writeData renders v under the "data" key at status.
func writeData(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, dataBody{Data: v})
}

// writeOK renders the bare {ok:true} acknowledgement used for fire-and-
// forget mutations (release, verdict, admin actions).
func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// writeJSON encodes v as the response body with status, setting the
// standard content type. Encoding failures are ignored: the header is
// already sent by the time json.Marshal could fail
// on a handler-constructed value, which in practice never happens.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the wire shape for every non-2xx response.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeError renders err as the taxonomy-mapped HTTP status and body. Errors
// that aren't *apperr.Error are treated as internal and never leak their
// message text to the client.
func writeError(w http.ResponseWriter, err error) {
	if e, ok := apperr.As(err); ok {
		body := errorBody{}
		body.Error.Code = e.Code
		body.Error.Message = e.Message
		if body.Error.Message == "" {
			body.Error.Message = e.Error()
		}
		writeJSON(w, e.HTTPStatus(), body)
		return
	}
	body := errorBody{}
	body.Error.Code = "internal"
	body.Error.Message = "internal error"
	writeJSON(w, http.StatusInternalServerError, body)
}

// decodeJSON reads and decodes r's body into dst, rejecting unknown fields
// so a typo in a buyer/worker payload surfaces as bad_request instead of
// silently dropping.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.BadRequest("bad_request", "request body is not valid JSON: "+err.Error())
	}
	return nil
}
