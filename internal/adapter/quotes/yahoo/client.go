package yahoo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jpereira/stocklens-backend/internal/domain"
)

// The upstream quote endpoint rejects large symbol lists, so requests are
// chunked into fixed-size groups and sent sequentially.
const maxSymbolsPerRequest = 10

// errUnauthorized marks an authorization-rejected data call
var errUnauthorized = errors.New("quote request rejected as unauthorized")

// HTTPClient describes an HTTP client
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches quotes from a Yahoo-style source that requires a session
// cookie plus a crumb token before any data call. Credentials are held in a
// single in-memory slot backed by a durable CredentialStore.
type Client struct {
	httpClient HTTPClient
	store      domain.CredentialStore
	clock      domain.Clock
	log        zerolog.Logger

	cookieURL string
	crumbURL  string
	quoteURL  string
	ttl       time.Duration

	mu    sync.Mutex
	creds *domain.CredentialRecord
}

// Option is a configuration option for the quote client
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for all calls
func WithHTTPClient(httpClient HTTPClient) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithEndpoints overrides the cookie, crumb and quote endpoints
func WithEndpoints(cookieURL, crumbURL, quoteURL string) Option {
	return func(c *Client) {
		c.cookieURL = cookieURL
		c.crumbURL = crumbURL
		c.quoteURL = quoteURL
	}
}

// WithLogger sets the logger
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log.With().Str("client", "yahoo").Logger()
	}
}

// New creates a new quote client. ttl is the lifetime assigned to freshly
// obtained credentials.
func New(store domain.CredentialStore, clock domain.Clock, ttl time.Duration, options ...Option) *Client {
	client := &Client{
		httpClient: http.DefaultClient,
		store:      store,
		clock:      clock,
		log:        zerolog.Nop(),
		cookieURL:  "https://fc.yahoo.com",
		crumbURL:   "https://query1.finance.yahoo.com/v1/test/getcrumb",
		quoteURL:   "https://query1.finance.yahoo.com/v7/finance/quote",
		ttl:        ttl,
	}
	for _, option := range options {
		option(client)
	}
	return client
}

// FetchQuotes returns the subset of the requested symbols for which a price
// could be obtained, keyed by normalized symbol. Symbols are deduplicated and
// uppercased; batches are sent sequentially and any batch failure fails the
// whole call.
func (c *Client) FetchQuotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	requested := normalizeSymbols(symbols)
	quotes := make(map[string]domain.Quote, len(requested))
	if len(requested) == 0 {
		return quotes, nil
	}

	creds, err := c.ensureCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtaining credentials: %w", err)
	}

	for start := 0; start < len(requested); start += maxSymbolsPerRequest {
		end := start + maxSymbolsPerRequest
		if end > len(requested) {
			end = len(requested)
		}
		batch := requested[start:end]

		batchQuotes, err := c.fetchBatch(ctx, creds, batch)
		if errors.Is(err, errUnauthorized) {
			// Expiry-triggered retry: discard both the in-memory slot and the
			// cached record, re-handshake, and retry this data call once.
			c.discardCredentials(ctx)
			creds, err = c.ensureCredentials(ctx)
			if err != nil {
				return nil, fmt.Errorf("re-obtaining credentials: %w", err)
			}
			batchQuotes, err = c.fetchBatch(ctx, creds, batch)
			if errors.Is(err, errUnauthorized) {
				return nil, fmt.Errorf("quote source still rejects fresh credentials: %w", err)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("fetching quotes for %d symbols: %w", len(batch), err)
		}

		for symbol, quote := range batchQuotes {
			quotes[symbol] = quote
		}
	}

	return quotes, nil
}

// ensureCredentials returns a usable credential record: the in-memory slot if
// still valid, otherwise the cached record, otherwise a fresh handshake. The
// record is an explicit value; the mutex only guards the slot swap.
func (c *Client) ensureCredentials(ctx context.Context) (*domain.CredentialRecord, error) {
	now := c.clock.Now()

	c.mu.Lock()
	held := c.creds
	c.mu.Unlock()
	if held.Valid(now) {
		return held, nil
	}

	cached, err := c.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading cached credentials: %w", err)
	}
	if cached.Valid(now) {
		c.setCredentials(cached)
		return cached, nil
	}

	fresh, err := c.handshake(ctx)
	if err != nil {
		return nil, err
	}
	fresh.ExpiresAt = now.Add(c.ttl)

	// A failed save must not fail the fetch; the fresh pair still works
	// in-memory for the current operation.
	if err := c.store.Save(ctx, fresh); err != nil {
		c.log.Warn().Err(err).Msg("failed to persist fresh quote credentials")
	}

	c.setCredentials(fresh)
	return fresh, nil
}

// handshake performs the two sequential calls that establish credentials:
// obtain a session cookie, then obtain a crumb token using that cookie.
func (c *Client) handshake(ctx context.Context) (*domain.CredentialRecord, error) {
	cookie, err := c.fetchCookie(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtaining session cookie: %w", err)
	}

	crumb, err := c.fetchCrumb(ctx, cookie)
	if err != nil {
		return nil, fmt.Errorf("obtaining crumb token: %w", err)
	}

	return &domain.CredentialRecord{Cookie: cookie, Crumb: crumb}, nil
}

func (c *Client) fetchCookie(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cookieURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)

	// The cookie endpoint replies with a client error, but still sets the
	// session cookie; only the Set-Cookie headers matter here.
	cookies := res.Cookies()
	if len(cookies) == 0 {
		return "", errors.New("no session cookie in response")
	}

	parts := make([]string, 0, len(cookies))
	for _, cookie := range cookies {
		parts = append(parts, cookie.Name+"="+cookie.Value)
	}
	return strings.Join(parts, "; "), nil
}

func (c *Client) fetchCrumb(ctx context.Context, cookie string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.crumbURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Cookie", cookie)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", res.StatusCode)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("reading crumb: %w", err)
	}

	crumb := strings.TrimSpace(string(body))
	if crumb == "" {
		return "", errors.New("empty crumb in response")
	}
	return crumb, nil
}

// fetchBatch performs one authenticated data call for up to
// maxSymbolsPerRequest symbols.
func (c *Client) fetchBatch(ctx context.Context, creds *domain.CredentialRecord, symbols []string) (map[string]domain.Quote, error) {
	query := url.Values{}
	query.Set("symbols", strings.Join(symbols, ","))
	query.Set("crumb", creds.Crumb)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.quoteURL+"?"+query.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Cookie", creds.Cookie)
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		// fall through to parsing
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, errUnauthorized
	case http.StatusTooManyRequests:
		return nil, errors.New("rate limited")
	default:
		return nil, fmt.Errorf("unexpected status code: %d", res.StatusCode)
	}

	return parseQuoteResponse(res.Body, c.clock.Now())
}

func (c *Client) setCredentials(creds *domain.CredentialRecord) {
	c.mu.Lock()
	c.creds = creds
	c.mu.Unlock()
}

// discardCredentials clears the in-memory slot and the durable cache after an
// authorization rejection.
func (c *Client) discardCredentials(ctx context.Context) {
	c.setCredentials(nil)
	if err := c.store.Invalidate(ctx); err != nil {
		c.log.Warn().Err(err).Msg("failed to invalidate cached quote credentials")
	}
}

// normalizeSymbols uppercases, trims and deduplicates while preserving order
func normalizeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		normalized := domain.NormalizeSymbol(symbol)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}
