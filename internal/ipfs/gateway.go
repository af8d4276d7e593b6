// Package ipfs resolves token metadata behind ipfs:// URIs through an HTTP
// gateway. Registration cards are small JSON documents, so fetches are
// bounded in size and cached; a malformed card is an upstream fault, not a
// caller error.
package ipfs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/cache"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/fault"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/metrics"
)

const (
	defaultGateway     = "https://ipfs.io"
	defaultHTTPTimeout = 15 * time.Second

	// Registration cards are a few KB; anything near this limit is junk.
	maxMetadataBytes = 1 << 20

	metadataCacheSize = 2048
	metadataCacheTTL  = 10 * time.Minute
)

// Metadata is the agent registration card stored behind a token URI.
type Metadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
	Endpoint    string `json:"endpoint"`
}

// Gateway fetches and caches registration metadata.
type Gateway struct {
	gatewayURL string
	httpClient *http.Client
	cache      *cache.LRU[string, Metadata]
	logger     *slog.Logger
}

type GatewayOption func(*Gateway)

// WithHTTPClient overrides the underlying HTTP client, primarily for tests.
func WithHTTPClient(hc *http.Client) GatewayOption {
	return func(g *Gateway) {
		g.httpClient = hc
	}
}

func NewGateway(gatewayURL string, logger *slog.Logger, opts ...GatewayOption) *Gateway {
	if gatewayURL == "" {
		gatewayURL = defaultGateway
	}
	g := &Gateway{
		gatewayURL: strings.TrimRight(gatewayURL, "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		cache:      cache.NewLRU[string, Metadata]("ipfs_metadata", metadataCacheSize, metadataCacheTTL),
		logger:     logger.With("component", "ipfs_gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Fetch resolves one token URI to its registration card. ipfs:// URIs go
// through the configured gateway; plain http(s) token URIs are fetched
// directly. Results are cached per resolved URL.
func (g *Gateway) Fetch(ctx context.Context, tokenURI string) (*Metadata, error) {
	url, err := g.resolveURL(tokenURI)
	if err != nil {
		return nil, err
	}

	if cached, ok := g.cache.Get(url); ok {
		return &cached, nil
	}

	meta, err := g.fetch(ctx, url)
	if err != nil {
		metrics.IPFSFetchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.IPFSFetchesTotal.WithLabelValues("ok").Inc()

	g.cache.Put(url, *meta)
	return meta, nil
}

func (g *Gateway) resolveURL(tokenURI string) (string, error) {
	switch {
	case strings.HasPrefix(tokenURI, "ipfs://"):
		path := strings.TrimPrefix(tokenURI, "ipfs://")
		path = strings.TrimPrefix(path, "ipfs/")
		if path == "" {
			return "", fault.Malformedf("token uri %q has no content path", tokenURI)
		}
		return g.gatewayURL + "/ipfs/" + path, nil
	case strings.HasPrefix(tokenURI, "https://"), strings.HasPrefix(tokenURI, "http://"):
		return tokenURI, nil
	case tokenURI == "":
		return "", fault.Malformedf("token uri is empty")
	default:
		return "", fault.Malformedf("token uri %q is neither ipfs nor http", tokenURI)
	}
}

func (g *Gateway) fetch(ctx context.Context, url string) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create metadata request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fault.Upstream(err, "fetch metadata from %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fault.NotFoundf("metadata at %s not found", url)
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fault.Upstream(nil, "gateway returned http status %d for %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataBytes+1))
	if err != nil {
		return nil, fault.Upstream(err, "read metadata from %s", url)
	}
	if len(body) > maxMetadataBytes {
		return nil, fault.Upstream(nil, "metadata at %s exceeds %d bytes", url, maxMetadataBytes)
	}

	var meta Metadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fault.Upstream(err, "unparsable metadata at %s", url)
	}
	return &meta, nil
}
