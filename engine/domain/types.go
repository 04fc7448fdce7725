// Package domain defines the request, response and error shapes of the
// first-aid query API and the validation applied at its entry point.
package domain

// ErrorResponse is the JSON body returned for every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MsgNoQuestion is the client-facing message for a missing question.
const MsgNoQuestion = "No question provided"
