package consumer

import (
	"net/http"

	"go.uber.org/zap"
)

// ClientOption defines options for configuring the chat stream client.
type ClientOption func(*Client)

// WithLogger sets a custom logger for the client.
// If not provided, a no-op logger will be used.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger.Named("consumer").With(zap.String("baseURL", c.baseURL))
		}
	}
}

// WithHTTPClient sets a custom HTTP client for the client.
// If not provided, http.DefaultClient will be used.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithHeaders adds headers sent with every chat request.
func WithHeaders(headers map[string]string) ClientOption {
	return func(c *Client) {
		for key, value := range headers {
			c.headers[key] = value
		}
	}
}
