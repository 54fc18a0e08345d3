package feeds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jpereira/stocklens-backend/internal/domain"
)

// Provenance markers recorded on reference entries
const (
	sourcePrimary   = "nasdaq"
	sourceSecondary = "other"
)

// exchangeNames maps the secondary feed's single-letter exchange codes to
// canonical exchange names. Unknown codes are kept verbatim.
var exchangeNames = map[string]string{
	"A": "NYSE MKT",
	"N": "NYSE",
	"P": "NYSE ARCA",
	"Z": "BATS",
	"V": "IEX",
}

// HTTPClient describes an HTTP client
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client downloads and parses the two pipe-delimited directory feeds that
// make up the instrument reference catalog.
type Client struct {
	httpClient   HTTPClient
	primaryURL   string
	secondaryURL string
}

// NewClient creates a new directory feed client. The primary feed takes
// priority on symbol collisions during merge.
func NewClient(httpClient HTTPClient, primaryURL, secondaryURL string) *Client {
	return &Client{
		httpClient:   httpClient,
		primaryURL:   primaryURL,
		secondaryURL: secondaryURL,
	}
}

// Listings downloads both feeds and returns the parsed entry lists in merge
// priority order: primary feed first.
func (c *Client) Listings(ctx context.Context) ([][]*domain.ReferenceEntry, error) {
	primary, err := c.download(ctx, c.primaryURL, parsePrimaryFeed)
	if err != nil {
		return nil, fmt.Errorf("downloading primary feed: %w", err)
	}

	secondary, err := c.download(ctx, c.secondaryURL, parseSecondaryFeed)
	if err != nil {
		return nil, fmt.Errorf("downloading secondary feed: %w", err)
	}

	return [][]*domain.ReferenceEntry{primary, secondary}, nil
}

func (c *Client) download(ctx context.Context, url string, parse func(io.Reader) ([]*domain.ReferenceEntry, error)) ([]*domain.ReferenceEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", res.StatusCode)
	}

	return parse(res.Body)
}

// parsePrimaryFeed parses the NASDAQ-listed layout:
// Symbol|Security Name|Market Category|Test Issue|Financial Status|Round Lot Size|ETF|NextShares
func parsePrimaryFeed(r io.Reader) ([]*domain.ReferenceEntry, error) {
	return parseFeed(r, 8, func(fields []string) *domain.ReferenceEntry {
		if fields[3] == "Y" {
			// Test issue
			return nil
		}
		return newEntry(fields[0], fields[1], "NASDAQ", fields[6], sourcePrimary)
	})
}

// parseSecondaryFeed parses the other-listed layout:
// ACT Symbol|Security Name|Exchange|CQS Symbol|ETF|Round Lot Size|Test Issue|NASDAQ Symbol
func parseSecondaryFeed(r io.Reader) ([]*domain.ReferenceEntry, error) {
	return parseFeed(r, 8, func(fields []string) *domain.ReferenceEntry {
		if fields[6] == "Y" {
			return nil
		}
		exchange := fields[2]
		if name, ok := exchangeNames[exchange]; ok {
			exchange = name
		}
		return newEntry(fields[0], fields[1], exchange, fields[4], sourceSecondary)
	})
}

// parseFeed walks the pipe-delimited document, skipping the header row, the
// "File Creation Time" footer and any short or blank lines.
func parseFeed(r io.Reader, fieldCount int, build func(fields []string) *domain.ReferenceEntry) ([]*domain.ReferenceEntry, error) {
	scanner := bufio.NewScanner(r)
	var entries []*domain.ReferenceEntry
	first := true

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if first {
			first = false
			continue
		}
		if line == "" || strings.HasPrefix(line, "File Creation Time") {
			continue
		}

		fields := strings.Split(line, "|")
		if len(fields) < fieldCount {
			continue
		}

		if entry := build(fields); entry != nil {
			entries = append(entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading feed: %w", err)
	}

	return entries, nil
}

func newEntry(symbol, name, exchange, etfFlag, source string) *domain.ReferenceEntry {
	symbol = domain.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil
	}

	isETF := etfFlag == "Y"
	assetType := domain.AssetTypeStock
	if isETF {
		assetType = domain.AssetTypeETF
	}

	return &domain.ReferenceEntry{
		Symbol:    symbol,
		Name:      strings.TrimSpace(name),
		Exchange:  exchange,
		AssetType: assetType,
		IsETF:     isETF,
		Source:    source,
	}
}
