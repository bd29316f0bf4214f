package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"
	"golang.org/x/text/cases"

	"cinesync/internal/gateway"
)

// ChangesWindow is the widest date range the changelog endpoint accepts.
const ChangesWindow = 14 * 24 * time.Hour

const dateLayout = "2006-01-02"

// Fetcher issues provider requests. *gateway.Gateway satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, req gateway.Request) ([]byte, error)
}

// Client decodes provider payloads into validated types.
type Client struct {
	fetcher  Fetcher
	language string
	validate *validator.Validate
}

// New creates a provider client on top of fetcher.
func New(fetcher Fetcher, language string) (*Client, error) {
	if fetcher == nil {
		return nil, errors.New("tmdb fetcher required")
	}
	return &Client{
		fetcher:  fetcher,
		language: strings.TrimSpace(language),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// Movie fetches movie details with credits appended.
func (c *Client) Movie(ctx context.Context, id int64) (*Movie, error) {
	if id <= 0 {
		return nil, fmt.Errorf("invalid movie id %d", id)
	}
	params := c.baseParams()
	params.Set("append_to_response", "credits")
	endpoint := "/movie/" + strconv.FormatInt(id, 10)
	body, err := c.fetcher.Fetch(ctx, gateway.Request{
		Endpoint:  endpoint,
		Label:     "/movie/{id}",
		Params:    params,
		Cacheable: true,
	})
	if err != nil {
		return nil, err
	}

	var movie Movie
	if err := c.decode("/movie/{id}", body, []string{"id", "title"}, &movie); err != nil {
		return nil, err
	}
	if movie.ID != id {
		return nil, gateway.NewPermanent("/movie/{id}", fmt.Sprintf("payload id %d does not match requested id %d", movie.ID, id), nil)
	}
	return &movie, nil
}

// DiscoverQuery selects one page of the by-year listing.
type DiscoverQuery struct {
	Year          int
	Page          int
	ReleasedAfter time.Time
}

// Discover lists movies by primary release year, adult titles excluded.
func (c *Client) Discover(ctx context.Context, q DiscoverQuery) (*ListPage, error) {
	if q.Year <= 0 {
		return nil, errors.New("discover year required")
	}
	params := c.baseParams()
	params.Set("primary_release_year", strconv.Itoa(q.Year))
	params.Set("include_adult", "false")
	params.Set("include_video", "false")
	params.Set("sort_by", "primary_release_date.asc")
	params.Set("page", strconv.Itoa(max(q.Page, 1)))
	if !q.ReleasedAfter.IsZero() {
		params.Set("primary_release_date.gte", q.ReleasedAfter.AddDate(0, 0, 1).Format(dateLayout))
	}
	body, err := c.fetcher.Fetch(ctx, gateway.Request{Endpoint: "/discover/movie", Params: params})
	if err != nil {
		return nil, err
	}
	var page ListPage
	if err := c.decode("/discover/movie", body, []string{"results"}, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// SearchMovies searches by title.
func (c *Client) SearchMovies(ctx context.Context, query string, page int) (*ListPage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query must not be empty")
	}
	params := c.baseParams()
	params.Set("query", query)
	params.Set("include_adult", "false")
	params.Set("page", strconv.Itoa(max(page, 1)))
	body, err := c.fetcher.Fetch(ctx, gateway.Request{Endpoint: "/search/movie", Params: params})
	if err != nil {
		return nil, err
	}
	var result ListPage
	if err := c.decode("/search/movie", body, []string{"results"}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SearchByID resolves a provider id to at most one summary. A provider 404
// yields an empty result rather than an error.
func (c *Client) SearchByID(ctx context.Context, id int64) ([]Summary, error) {
	if id <= 0 {
		return nil, fmt.Errorf("invalid movie id %d", id)
	}
	body, err := c.fetcher.Fetch(ctx, gateway.Request{
		Endpoint: "/movie/" + strconv.FormatInt(id, 10),
		Label:    "/movie/{id}#summary",
		Params:   c.baseParams(),
	})
	if err != nil {
		if gateway.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var summary Summary
	if err := c.decode("/movie/{id}#summary", body, []string{"id"}, &summary); err != nil {
		return nil, err
	}
	return []Summary{summary}, nil
}

// Changes lists movie ids changed between start and end (inclusive dates).
// The range may span at most ChangesWindow worth of days, counting both ends.
func (c *Client) Changes(ctx context.Context, start, end time.Time, page int) (*ChangesPage, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("changes window end %s precedes start %s", end.Format(dateLayout), start.Format(dateLayout))
	}
	if end.Sub(start) >= ChangesWindow {
		return nil, fmt.Errorf("changes window exceeds %s", ChangesWindow)
	}
	params := url.Values{}
	params.Set("start_date", start.Format(dateLayout))
	params.Set("end_date", end.Format(dateLayout))
	params.Set("page", strconv.Itoa(max(page, 1)))
	body, err := c.fetcher.Fetch(ctx, gateway.Request{Endpoint: "/movie/changes", Params: params})
	if err != nil {
		return nil, err
	}
	var result ChangesPage
	if err := c.decode("/movie/changes", body, []string{"results"}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// BestMatch prefers a case-insensitive exact title match and otherwise falls
// back to the first result.
func (c *Client) BestMatch(query string, results []Summary) (Summary, bool) {
	if len(results) == 0 {
		return Summary{}, false
	}
	// Casers carry state and are not shared across goroutines.
	fold := cases.Fold()
	want := fold.String(strings.TrimSpace(query))
	for _, r := range results {
		if fold.String(r.Title) == want || fold.String(r.OriginalTitle) == want {
			return r, true
		}
	}
	return results[0], true
}

func (c *Client) baseParams() url.Values {
	params := url.Values{}
	if c.language != "" {
		params.Set("language", c.language)
	}
	return params
}

// decode checks the envelope with gjson before unmarshalling and validating
// the struct. Every shape problem becomes a PermanentFailure.
func (c *Client) decode(label string, body []byte, required []string, out any) error {
	if !gjson.ValidBytes(body) {
		return gateway.NewPermanent(label, "malformed payload", nil)
	}
	if success := gjson.GetBytes(body, "success"); success.Exists() && !success.Bool() {
		return gateway.NewPermanent(label, "provider error: "+gjson.GetBytes(body, "status_message").String(), nil)
	}
	for _, field := range required {
		if !gjson.GetBytes(body, field).Exists() {
			return gateway.NewPermanent(label, fmt.Sprintf("payload missing %q", field), nil)
		}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return gateway.NewPermanent(label, "decode payload", err)
	}
	if err := c.validate.Struct(out); err != nil {
		return gateway.NewPermanent(label, "validate payload", err)
	}
	return nil
}
