// Package blockchain adapts an Ethereum-compatible node to the fetcher and live source the pipeline consumes.
package blockchain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/core-coin/speculum/pkg/logger"
)

const (
	// BlockHeaderChannelBuffer is the buffer size for the block header channel
	// Sized to handle ~1.5 minute of blocks assuming ~7s block time
	BlockHeaderChannelBuffer = 15

	requestTimeout = 30 * time.Second
)

// Chain is the part of the node API the adapter needs. *ethclient.Client satisfies it.
type Chain interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

// Client is a shared connection to the node. Fetchers and listeners of every domain use one Client.
type Client struct {
	logger *logger.Logger
	apiURL string

	mu     sync.RWMutex
	client *ethclient.Client
}

// NewClient creates a new Client instance. Call Connect before use.
func NewClient(apiURL string, logger *logger.Logger) *Client {
	return &Client{apiURL: apiURL, logger: logger}
}

func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	client, err := ethclient.DialContext(ctx, c.apiURL)
	if err != nil {
		return fmt.Errorf("failed to connect to the RPC server: %w", err)
	}
	head, err := client.BlockNumber(ctx)
	if err != nil {
		client.Close()
		return fmt.Errorf("failed to get head block: %w", err)
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	c.logger.Infow("Connected to node", "url", c.apiURL, "head", head)
	return nil
}

func (c *Client) conn() (*ethclient.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, fmt.Errorf("not connected to %s", c.apiURL)
	}
	return c.client, nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	client, err := c.conn()
	if err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	number, err := client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get block number: %w", err)
	}
	return number, nil
}

func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	client, err := c.conn()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	logs, err := client.FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to filter logs: %w", err)
	}
	return logs, nil
}

func (c *Client) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	client, err := c.conn()
	if err != nil {
		return nil, err
	}
	sub, err := client.SubscribeNewHead(ctx, ch)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to new head: %w", err)
	}
	return sub, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
	return nil
}
