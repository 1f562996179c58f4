package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	gqlclient "github.com/hasura/go-graphql-client"

	"github.com/ephyr-control/ephyrsub/internal/domain"
	"github.com/ephyr-control/ephyrsub/internal/graphql"
)

// Extension codes the client library puts on transport failures.
const (
	codeRequestError = "request_error"
	codeJSONDecode   = "json_decode_error"
)

// HTTPClient posts GraphQL operations to one surface of one instance.
type HTTPClient struct {
	surface  graphql.Surface
	endpoint string
	client   *gqlclient.Client
}

// NewHTTPClient builds a client for scheme://host/<surface>.
func NewHTTPClient(surface graphql.Surface, details domain.ConnectionDetails, timeout time.Duration) *HTTPClient {
	u := url.URL{
		Scheme: details.Scheme,
		Host:   details.Host,
		Path:   surface.Path(),
	}
	endpoint := u.String()

	client := gqlclient.NewClient(endpoint, &http.Client{Timeout: timeout})
	password := details.Password
	client = client.WithRequestModifier(func(r *http.Request) {
		r.Header.Set("Accept", "application/json")
		if password != "" {
			r.SetBasicAuth(domain.DefaultHTTPAuthUser, password)
		}
	})

	return &HTTPClient{
		surface:  surface,
		endpoint: endpoint,
		client:   client,
	}
}

// HTTPFactory returns a Factory producing HTTPClients with the given timeout.
func HTTPFactory(timeout time.Duration) Factory {
	return func(surface graphql.Surface, details domain.ConnectionDetails) RequestClient {
		return NewHTTPClient(surface, details, timeout)
	}
}

func (c *HTTPClient) Endpoint() string { return c.endpoint }

// Execute sends op and returns the "data" member of the response.
func (c *HTTPClient) Execute(ctx context.Context, op graphql.Operation, vars map[string]any) (json.RawMessage, error) {
	if op.Surface != c.surface {
		return nil, fmt.Errorf("%w: %s is bound to %s, client serves %s",
			ErrSurfaceMismatch, op, op.Surface, c.surface)
	}

	var opts []gqlclient.Option
	if op.Name != "" {
		opts = append(opts, gqlclient.OperationName(op.Name))
	}
	data, err := c.client.ExecRaw(ctx, op.Document, vars, opts...)
	if err != nil {
		return nil, c.classify(op, err)
	}
	return json.RawMessage(data), nil
}

// classify maps the library errors onto transport failures and the
// errors the server reported.
func (c *HTTPClient) classify(op graphql.Operation, err error) error {
	var errs gqlclient.Errors
	if !errors.As(err, &errs) {
		return fmt.Errorf("%w: %s: %v", domain.ErrConnection, c.endpoint, err)
	}

	out := &graphql.ResponseError{}
	for _, e := range errs {
		switch e.Extensions["code"] {
		case codeRequestError:
			return fmt.Errorf("%w: %s: %s", domain.ErrConnection, c.endpoint, e.Message)
		case codeJSONDecode:
			return fmt.Errorf("failed to decode response of %s: %s", op, e.Message)
		}
		out.Errors = append(out.Errors, graphql.Error{Message: e.Message})
	}
	return out
}
