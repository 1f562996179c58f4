package graphql

import (
	"encoding/json"
	"strings"
)

// Request is the body of a GraphQL call, shared by the HTTP and websocket
// transports.
type Request struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

func NewRequest(op Operation, vars map[string]any) Request {
	return Request{
		Query:         op.Document,
		Variables:     vars,
		OperationName: op.Name,
	}
}

type Error struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

// Response is a GraphQL result. Data may be present alongside Errors.
type Response struct {
	Data   json.RawMessage `json:"data"`
	Errors []Error         `json:"errors,omitempty"`
}

// Err folds the GraphQL errors of a response into one error, or nil.
func (r Response) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return &ResponseError{Errors: r.Errors}
}

// ResponseError carries the errors a server reported for an operation.
type ResponseError struct {
	Errors []Error
}

func (e *ResponseError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Message
	}
	return "graphql: " + strings.Join(msgs, "; ")
}
