// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package uaclient

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// PoolOption is a functional option for configuring the session pool.
type PoolOption func(*poolOptions)

type poolOptions struct {
	size            int
	healthCheckFreq time.Duration
	clientOpts      []Option
}

func defaultPoolOptions() *poolOptions {
	return &poolOptions{
		size:            5,
		healthCheckFreq: time.Minute,
	}
}

// WithPoolSize sets the pool size.
func WithPoolSize(size int) PoolOption {
	return func(o *poolOptions) {
		o.size = size
	}
}

// WithHealthCheckFrequency sets how often idle sessions are checked.
func WithHealthCheckFrequency(d time.Duration) PoolOption {
	return func(o *poolOptions) {
		o.healthCheckFreq = d
	}
}

// WithClientOptions sets the options used when creating pooled clients.
func WithClientOptions(opts ...Option) PoolOption {
	return func(o *poolOptions) {
		o.clientOpts = opts
	}
}

// Pool manages a set of clients with established sessions against one
// endpoint URL. Each pooled client keeps its own secure channel; the
// pool reconnects clients that have dropped.
type Pool struct {
	endpointURL string
	opts        *poolOptions
	clients     chan *Client
	mu          sync.Mutex
	closed      bool
	closeCh     chan struct{}
	metrics     *PoolMetrics
	logger      *slog.Logger
}

// NewPool creates a new session pool.
func NewPool(endpointURL string, opts ...PoolOption) (*Pool, error) {
	if endpointURL == "" {
		return nil, errors.New("uaclient: endpoint URL cannot be empty")
	}

	options := defaultPoolOptions()
	for _, opt := range opts {
		opt(options)
	}

	p := &Pool{
		endpointURL: endpointURL,
		opts:        options,
		clients:     make(chan *Client, options.size),
		closeCh:     make(chan struct{}),
		metrics:     NewPoolMetrics(),
		logger:      slog.Default(),
	}

	for i := 0; i < options.size; i++ {
		client, err := NewClient(options.clientOpts...)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.clients <- client
		p.metrics.TotalConnections.Add(1)
		p.metrics.IdleConnections.Add(1)
		p.metrics.ConnectionsCreated.Add(1)
	}

	go p.healthChecker()

	return p, nil
}

// Get retrieves a connected client from the pool, connecting it when
// necessary.
func (p *Pool) Get(ctx context.Context) (*PooledClient, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	start := time.Now()
	p.metrics.WaitCount.Add(1)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closeCh:
		return nil, ErrPoolClosed
	case client := <-p.clients:
		p.metrics.WaitDuration.Observe(time.Since(start))
		p.metrics.IdleConnections.Add(-1)
		p.metrics.ActiveConnections.Add(1)

		if client.State() < StateSession {
			if err := client.Connect(p.endpointURL); err != nil {
				p.returnClient(client)
				return nil, err
			}
		}

		return &PooledClient{
			Client: client,
			pool:   p,
		}, nil
	}
}

// Put returns a client to the pool.
func (p *Pool) Put(client *Client) {
	p.returnClient(client)
}

func (p *Pool) returnClient(client *Client) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		client.Disconnect()
		return
	}
	p.mu.Unlock()

	select {
	case p.clients <- client:
		p.metrics.IdleConnections.Add(1)
		p.metrics.ActiveConnections.Add(-1)
	default:
		client.Disconnect()
		p.metrics.ConnectionsClosed.Add(1)
		p.metrics.TotalConnections.Add(-1)
	}
}

// Close closes the pool and disconnects all idle clients.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.closeCh)
	p.mu.Unlock()

	close(p.clients)
	for client := range p.clients {
		client.Disconnect()
		p.metrics.ConnectionsClosed.Add(1)
		p.metrics.TotalConnections.Add(-1)
	}

	return nil
}

// Metrics returns the pool metrics.
func (p *Pool) Metrics() *PoolMetrics {
	return p.metrics
}

// Size returns the current number of idle clients.
func (p *Pool) Size() int {
	return len(p.clients)
}

func (p *Pool) healthChecker() {
	ticker := time.NewTicker(p.opts.healthCheckFreq)
	defer ticker.Stop()

	for {
		select {
		case <-p.closeCh:
			return
		case <-ticker.C:
			p.checkHealth()
		}
	}
}

// checkHealth disconnects idle clients whose sessions have dropped so
// that the next Get reconnects them cleanly.
func (p *Pool) checkHealth() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	var idle []*Client
	draining := true
	for draining {
		select {
		case client := <-p.clients:
			idle = append(idle, client)
		default:
			draining = false
		}
	}

	for _, client := range idle {
		if client.State() != StateDisconnected && client.State() < StateSession {
			client.Disconnect()
		}
		select {
		case p.clients <- client:
		default:
			client.Disconnect()
			p.metrics.ConnectionsClosed.Add(1)
			p.metrics.TotalConnections.Add(-1)
		}
	}
}

// PooledClient wraps a Client with automatic return to the pool.
type PooledClient struct {
	*Client
	pool     *Pool
	returned bool
	mu       sync.Mutex
}

// Release returns the client to the pool.
func (c *PooledClient) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.returned {
		return
	}
	c.returned = true
	c.pool.Put(c.Client)
}

// Execute runs fn with a pooled client and returns it afterwards.
func (p *Pool) Execute(ctx context.Context, fn func(*Client) error) error {
	client, err := p.Get(ctx)
	if err != nil {
		return err
	}
	defer client.Release()

	return fn(client.Client)
}

// GetEndpoints fetches endpoint descriptions using a pooled client.
func (p *Pool) GetEndpoints(ctx context.Context) ([]EndpointDescription, error) {
	var endpoints []EndpointDescription
	err := p.Execute(ctx, func(c *Client) error {
		var err error
		endpoints, err = c.GetEndpoints(p.endpointURL)
		return err
	})
	return endpoints, err
}
