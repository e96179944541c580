/*
 * Northstar
 * Copyright (C) 2025  Northstar Analytics, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package web

import (
	"encoding/json"
	"net/http"

	"github.com/gravitational/trace"
)

// HandlerFunc is an API handler returning a JSON-serializable value or an
// error from the trace taxonomy.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) (any, error)

// ErrorToCode maps the trace error taxonomy onto HTTP status codes.
func ErrorToCode(err error) int {
	switch {
	case trace.IsBadParameter(err):
		return http.StatusUnprocessableEntity
	case trace.IsNotFound(err):
		return http.StatusNotFound
	case trace.IsAlreadyExists(err):
		return http.StatusConflict
	case trace.IsLimitExceeded(err):
		return http.StatusTooManyRequests
	case trace.IsConnectionProblem(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Error string `json:"error"`
}

// replyJSON writes v as a JSON response with the given status code.
func replyJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// replyError writes the error as a JSON response with the mapped status.
func replyError(w http.ResponseWriter, err error) {
	replyJSON(w, ErrorToCode(err), errorResponse{Error: trace.UserMessage(err)})
}

// readJSON decodes the request body into v, rejecting unknown fields so a
// typoed key fails with 422 instead of being dropped on the floor.
func readJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return trace.BadParameter("invalid request body: %v", err)
	}
	return nil
}
