package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jaberry835/agentmesh/core"
)

// DiscovererConfig configures well-known card discovery.
type DiscovererConfig struct {
	// Timeout bounds each card fetch. Discovery must never stall bootstrap.
	Timeout time.Duration
	Logger  core.Logger
}

// DefaultDiscovererConfig returns production defaults.
func DefaultDiscovererConfig() *DiscovererConfig {
	return &DiscovererConfig{
		Timeout: 15 * time.Second,
		Logger:  &core.NoOpLogger{},
	}
}

// Discoverer fetches agent cards from the well-known URI of each
// configured base URL. Unreachable agents are logged and skipped so a
// partial fleet still boots.
type Discoverer struct {
	http   *http.Client
	logger core.Logger
}

// NewDiscoverer creates a discoverer with an instrumented transport.
func NewDiscoverer(config *DiscovererConfig) *Discoverer {
	if config == nil {
		config = DefaultDiscovererConfig()
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	return &Discoverer{
		http: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: config.Logger,
	}
}

// Discover fetches the card for every base URL. It returns the cards it
// could retrieve; failures are skipped. Re-running discovery is safe and
// returns fresh cards each time.
func (d *Discoverer) Discover(ctx context.Context, baseURLs []string) []*AgentCard {
	cards := make([]*AgentCard, 0, len(baseURLs))
	for _, base := range baseURLs {
		card, err := d.Fetch(ctx, base)
		if err != nil {
			d.logger.Warn("Agent discovery failed, skipping", map[string]interface{}{
				"operation": "a2a_discover",
				"base_url":  base,
				"error":     err.Error(),
			})
			continue
		}
		d.logger.Info("Discovered agent", map[string]interface{}{
			"operation": "a2a_discover",
			"agent":     card.Name,
			"endpoint":  card.Endpoints.JSONRPC,
		})
		cards = append(cards, card)
	}
	return cards
}

// Fetch retrieves and validates a single agent card.
func (d *Discoverer) Fetch(ctx context.Context, baseURL string) (*AgentCard, error) {
	url := strings.TrimRight(baseURL, "/") + WellKnownPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrConnectionFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d from %s", core.ErrRequestFailed, resp.StatusCode, url)
	}

	var card AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrParseFailed, err)
	}
	if card.Name == "" {
		return nil, fmt.Errorf("%w: card from %s has no name", core.ErrParseFailed, url)
	}
	if card.Endpoints.JSONRPC == "" {
		// A card without an explicit endpoint serves JSON-RPC at its root.
		card.Endpoints.JSONRPC = strings.TrimRight(baseURL, "/") + "/"
	}
	return &card, nil
}
