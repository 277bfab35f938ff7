// Package discovery asks the matchmaking endpoint which game server serves a
// region and which token to present on connect.
package discovery

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cellwire/client/internal/config"
	"cellwire/client/internal/logging"
	"cellwire/client/internal/wire"
)

const (
	userAgent        = "Mozilla/5.0 (Windows NT 6.3; rv:36.0) Gecko/20100101 Firefox/36.0"
	maxResponseBytes = 4 << 10
	defaultTimeout   = 10 * time.Second
)

// ErrNoServer is returned when the endpoint answers without a host and token.
var ErrNoServer = errors.New("discovery: response names no server")

// Server is one matchmaking answer.
type Server struct {
	Host  string
	Token string
}

// Client performs lookups against a single discovery endpoint.
type Client struct {
	endpoint string
	origin   string
	http     *http.Client
	log      *logging.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the transport, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithOrigin sets the Origin and Referer headers sent with each lookup.
func WithOrigin(origin string) Option {
	return func(c *Client) { c.origin = origin }
}

// WithLogger attaches a logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New builds a client for endpoint; an empty endpoint uses the public one.
func New(endpoint string, opts ...Option) *Client {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = config.DefaultDiscoveryURL
	}
	c := &Client{
		endpoint: endpoint,
		origin:   config.DefaultOrigin,
		http:     &http.Client{Timeout: defaultTimeout},
		log:      logging.L(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(logging.String("component", "discovery"))
	return c
}

// Find resolves region, optionally narrowed by a game mode, to a server.
func (c *Client) Find(ctx context.Context, region, mode string) (Server, error) {
	region = strings.TrimSpace(region)
	if region == "" {
		return Server{}, fmt.Errorf("discovery: region must be provided")
	}
	if mode = strings.TrimSpace(mode); mode != "" {
		region = region + ":" + mode
	}

	//1.- The body is the region selector followed by the client build.
	body := fmt.Sprintf("%s\n%d", region, wire.ClientBuild)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(body))
	if err != nil {
		return Server{}, fmt.Errorf("discovery: build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if c.origin != "" {
		req.Header.Set("Origin", c.origin)
		req.Header.Set("Referer", c.origin)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Server{}, fmt.Errorf("discovery: post %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Server{}, fmt.Errorf("discovery: %s answered %s", c.endpoint, resp.Status)
	}

	//2.- Only the first two lines matter: host then token.
	server, err := parse(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Server{}, err
	}
	c.log.Info("server discovered", logging.String("region", region), logging.String("host", server.Host))
	return server, nil
}

func parse(r io.Reader) (Server, error) {
	scanner := bufio.NewScanner(r)
	lines := make([]string, 0, 2)
	for len(lines) < 2 && scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return Server{}, fmt.Errorf("discovery: read response: %w", err)
	}
	if len(lines) < 2 || lines[0] == "" || lines[1] == "" {
		return Server{}, ErrNoServer
	}
	return Server{Host: lines[0], Token: lines[1]}, nil
}
