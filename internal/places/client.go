// Package places resolves restaurant candidates from a Places-style HTTP API.
package places

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/example/dining-coordinator/internal/application"
)

const (
	defaultBaseURL    = "https://maps.googleapis.com/maps/api/place"
	defaultRadiusM    = 5000
	poolLimit         = 20
	statusOK          = "OK"
	statusZeroResults = "ZERO_RESULTS"
)

// Client queries the places API per cuisine, interleaves and deduplicates the
// results, and enriches the surviving candidates through a detail cache. On
// API failure it degrades to the static mock pool so voting can still start.
type Client struct {
	apiKey   string
	baseURL  string
	client   *http.Client
	logger   *slog.Logger
	details  *detailCache
	fallback Mock
}

// NewClient constructs a client for the given API key.
func NewClient(apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
		details: newDetailCache(10*time.Minute, 256, time.Now),
	}
}

type placePhoto struct {
	PhotoReference string `json:"photo_reference"`
}

type placeResult struct {
	PlaceID              string       `json:"place_id"`
	Name                 string       `json:"name"`
	FormattedAddress     string       `json:"formatted_address"`
	Vicinity             string       `json:"vicinity"`
	PriceLevel           *int         `json:"price_level"`
	Rating               float64      `json:"rating"`
	Photos               []placePhoto `json:"photos"`
	FormattedPhoneNumber string       `json:"formatted_phone_number"`
	Website              string       `json:"website"`
	URL                  string       `json:"url"`
}

type searchResponse struct {
	Status  string        `json:"status"`
	Results []placeResult `json:"results"`
}

type detailResponse struct {
	Status string      `json:"status"`
	Result placeResult `json:"result"`
}

// FetchPool assembles up to 20 candidates for the given group preferences.
func (c *Client) FetchPool(ctx context.Context, prefs application.PoolPreferences) ([]application.Restaurant, error) {
	if prefs.Latitude == nil || prefs.Longitude == nil {
		c.logger.WarnContext(ctx, "group has no location, serving fallback pool")
		return c.fallback.FetchPool(ctx, prefs)
	}

	candidates, err := c.search(ctx, prefs)
	if err != nil {
		c.logger.WarnContext(ctx, "candidate search failed, serving fallback pool", "error", err)
		return c.fallback.FetchPool(ctx, prefs)
	}

	candidates = dedupeByID(candidates)
	candidates = filterByPriceLevel(candidates, priceLevelForBudget(prefs.Budget))
	if len(candidates) > poolLimit {
		candidates = candidates[:poolLimit]
	}

	pool := make([]application.Restaurant, 0, len(candidates))
	for _, candidate := range candidates {
		restaurant := c.format(candidate)
		if restaurant.ID == "" {
			continue
		}
		if detailed, err := c.Detail(ctx, restaurant.ID); err == nil {
			restaurant = detailed
		}
		pool = append(pool, restaurant)
	}
	return pool, nil
}

// Detail fetches one restaurant's full record, serving repeats from the
// cache. The returned record always carries the requested id.
func (c *Client) Detail(ctx context.Context, id string) (application.Restaurant, error) {
	if cached, ok := c.details.Get(id); ok {
		return cached, nil
	}

	params := url.Values{}
	params.Set("place_id", id)
	params.Set("fields", "name,formatted_address,photos,price_level,rating,formatted_phone_number,website,url")
	params.Set("key", c.apiKey)

	var decoded detailResponse
	if err := c.get(ctx, c.baseURL+"/details/json", params, &decoded); err != nil {
		return application.Restaurant{}, err
	}
	if decoded.Status != statusOK {
		return application.Restaurant{}, fmt.Errorf("place details for %s: status %s", id, decoded.Status)
	}

	restaurant := c.format(decoded.Result)
	restaurant.ID = id
	c.details.Store(id, restaurant)
	return restaurant, nil
}

// search runs one nearby search per cuisine and interleaves the result lists
// so every cuisine is represented near the top of the pool.
func (c *Client) search(ctx context.Context, prefs application.PoolPreferences) ([]placeResult, error) {
	radius := int(prefs.RadiusKm * 1000)
	if radius <= 0 {
		radius = defaultRadiusM
	}

	if len(prefs.Cuisines) == 0 {
		return c.nearby(ctx, *prefs.Latitude, *prefs.Longitude, radius, "")
	}

	perCuisine := make([][]placeResult, 0, len(prefs.Cuisines))
	for _, cuisine := range prefs.Cuisines {
		results, err := c.nearby(ctx, *prefs.Latitude, *prefs.Longitude, radius, cuisine)
		if err != nil {
			return nil, err
		}
		perCuisine = append(perCuisine, results)
	}
	return interleave(perCuisine, poolLimit*2), nil
}

func (c *Client) nearby(ctx context.Context, lat, lon float64, radiusM int, keyword string) ([]placeResult, error) {
	params := url.Values{}
	params.Set("location", fmt.Sprintf("%f,%f", lat, lon))
	params.Set("radius", fmt.Sprintf("%d", radiusM))
	params.Set("type", "restaurant")
	params.Set("key", c.apiKey)
	if keyword != "" {
		params.Set("keyword", keyword)
	}

	var decoded searchResponse
	if err := c.get(ctx, c.baseURL+"/nearbysearch/json", params, &decoded); err != nil {
		return nil, err
	}
	switch decoded.Status {
	case statusOK:
		return decoded.Results, nil
	case statusZeroResults:
		return nil, nil
	default:
		return nil, fmt.Errorf("nearby search: status %s", decoded.Status)
	}
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("building places request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling places API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("places API returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding places response: %w", err)
	}
	return nil
}

func (c *Client) format(place placeResult) application.Restaurant {
	location := place.FormattedAddress
	if location == "" {
		location = place.Vicinity
	}
	restaurant := application.Restaurant{
		ID:          place.PlaceID,
		Name:        place.Name,
		Location:    location,
		Address:     location,
		Rating:      place.Rating,
		PhoneNumber: place.FormattedPhoneNumber,
		Website:     place.Website,
		URL:         place.URL,
	}
	if place.PriceLevel != nil {
		restaurant.PriceLevel = *place.PriceLevel
	}
	for _, photo := range place.Photos {
		if photo.PhotoReference == "" {
			continue
		}
		restaurant.Photos = append(restaurant.Photos, c.photoURL(photo.PhotoReference))
	}
	return restaurant
}

func (c *Client) photoURL(reference string) string {
	return fmt.Sprintf("%s/photo?maxwidth=400&photo_reference=%s&key=%s", c.baseURL, url.QueryEscape(reference), url.QueryEscape(c.apiKey))
}

// priceLevelForBudget converts a dollar budget to the API's 1..4 price scale.
func priceLevelForBudget(budget float64) int {
	if budget <= 0 {
		return 0
	}
	level := int(math.Ceil(budget / 25))
	if level > 4 {
		level = 4
	}
	return level
}

// interleave takes turns picking from each cuisine's result list so one
// dominant cuisine cannot crowd out the rest.
func interleave(lists [][]placeResult, maxTotal int) []placeResult {
	if len(lists) == 0 {
		return nil
	}
	out := make([]placeResult, 0, maxTotal)
	for round := 0; len(out) < maxTotal; round++ {
		picked := false
		for _, list := range lists {
			if round >= len(list) {
				continue
			}
			out = append(out, list[round])
			picked = true
			if len(out) >= maxTotal {
				break
			}
		}
		if !picked {
			break
		}
	}
	return out
}

func dedupeByID(results []placeResult) []placeResult {
	seen := make(map[string]bool, len(results))
	out := results[:0]
	for _, result := range results {
		if result.PlaceID == "" || seen[result.PlaceID] {
			continue
		}
		seen[result.PlaceID] = true
		out = append(out, result)
	}
	return out
}

// filterByPriceLevel keeps candidates within one level of the target. Places
// without price data stay in the pool.
func filterByPriceLevel(results []placeResult, target int) []placeResult {
	if target <= 0 {
		return results
	}
	out := results[:0]
	for _, result := range results {
		if result.PriceLevel != nil && abs(*result.PriceLevel-target) > 1 {
			continue
		}
		out = append(out, result)
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
