package middleware

import (
	"context"
	"net/http"
	"slices"

	"github.com/kiranshivaraju/clinidoc/pkg/models"
)

type contextKey string

const clientKey contextKey = "api_client"

// Client is the authenticated caller attached to the request context.
type Client struct {
	ID        string
	Name      string
	KeyPrefix string
	Scopes    []string
}

// HasScope reports whether the client was granted scope.
func (c Client) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

func clientFromModel(c *models.APIClient) Client {
	return Client{ID: c.ID.String(), Name: c.Name, KeyPrefix: c.KeyPrefix, Scopes: slices.Clone(c.Scopes)}
}

// WithClient stores c in ctx.
func WithClient(ctx context.Context, c Client) context.Context {
	return context.WithValue(ctx, clientKey, c)
}

// GetClient returns the authenticated client, if any.
func GetClient(r *http.Request) (Client, bool) {
	c, ok := r.Context().Value(clientKey).(Client)
	return c, ok
}
