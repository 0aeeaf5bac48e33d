// Package geo looks up address suggestions from a LocationIQ-compatible
// autocomplete endpoint and checks them against the shelter's service area.
package geo

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultEndpoint = "https://us1.locationiq.com/v1/autocomplete.php"
	// MinQueryLength is the shortest query that is sent upstream.
	MinQueryLength = 3
	DefaultLimit   = 5
	CountryCodes   = "ph"
)

// ErrSuperseded is returned to a lookup cancelled by a newer one.
var ErrSuperseded = errors.New("lookup superseded by a newer query")

type Address struct {
	Name     string `json:"name,omitempty"`
	Road     string `json:"road,omitempty"`
	City     string `json:"city,omitempty"`
	Town     string `json:"town,omitempty"`
	Village  string `json:"village,omitempty"`
	State    string `json:"state,omitempty"`
	Postcode string `json:"postcode,omitempty"`
	Country  string `json:"country,omitempty"`
}

// Place is one suggestion.
type Place struct {
	PlaceID     string  `json:"place_id"`
	DisplayName string  `json:"display_name"`
	Lat         string  `json:"lat,omitempty"`
	Lon         string  `json:"lon,omitempty"`
	Address     Address `json:"address"`
}

// Municipality is the city, or the town, or the village, whichever is set first.
func (p Place) Municipality() string {
	for _, s := range []string{p.Address.City, p.Address.Town, p.Address.Village} {
		if s != "" {
			return s
		}
	}
	return ""
}

// Autocompleter keeps at most one lookup in flight: a new Suggest call cancels
// the previous one.
type Autocompleter struct {
	endpoint string
	apiKey   string
	http     *http.Client

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

// New returns an Autocompleter. An empty endpoint uses DefaultEndpoint and a nil
// client a pooled client with sane timeouts.
func New(endpoint, apiKey string, client *http.Client) *Autocompleter {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultEndpoint
	}
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}
	return &Autocompleter{endpoint: endpoint, apiKey: apiKey, http: client}
}

// Suggest returns up to DefaultLimit places for query. Queries shorter than
// MinQueryLength return no suggestions without a request. A lookup cancelled by
// a later call returns ErrSuperseded.
func (a *Autocompleter) Suggest(ctx context.Context, query string) ([]Place, error) {
	query = strings.TrimSpace(query)

	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.seq++
	seq := a.seq
	if len([]rune(query)) < MinQueryLength {
		a.mu.Unlock()
		return nil, nil
	}
	reqCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		if a.seq == seq {
			a.cancel = nil
		}
		a.mu.Unlock()
		cancel()
	}()

	places, err := a.fetch(reqCtx, query)
	if err != nil && reqCtx.Err() != nil && ctx.Err() == nil {
		return nil, ErrSuperseded
	}
	return places, err
}

func (a *Autocompleter) fetch(ctx context.Context, query string) ([]Place, error) {
	u, err := url.Parse(a.endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "parse autocomplete endpoint")
	}
	q := u.Query()
	q.Set("key", a.apiKey)
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(DefaultLimit))
	q.Set("countrycodes", CountryCodes)
	q.Set("normalizecity", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build autocomplete request")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "autocomplete request")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		// LocationIQ answers 404 when nothing matches
		_, _ = io.Copy(io.Discard, resp.Body)
		return []Place{}, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		log.Debug().Str("component", "geo").Int("status", resp.StatusCode).Str("body", string(b)).Msg("autocomplete failed")
		return nil, errors.Errorf("autocomplete: unexpected status %d", resp.StatusCode)
	}

	var places []Place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return nil, errors.Wrap(err, "decode autocomplete response")
	}
	if len(places) > DefaultLimit {
		places = places[:DefaultLimit]
	}
	return places, nil
}
