// internal/geocode/nominatim.go
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/Corphon/ChronoAtlas/internal/errors"
	"github.com/Corphon/ChronoAtlas/internal/models"
	"github.com/Corphon/ChronoAtlas/internal/utils"
)

const (
	DefaultBaseURL   = "https://nominatim.openstreetmap.org"
	DefaultUserAgent = "ChronoAtlas/1.0 (historical atlas service)"

	maxResponseBytes = 1 << 20
)

// Place is a geocoded location.
type Place struct {
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
}

// Client 调用 Nominatim 的正向和反向地理编码
type Client struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// NewClient creates a geocoder. Empty values select the public Nominatim instance.
func NewClient(baseURL, userAgent string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
	}
}

type searchResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

type reverseResult struct {
	Lat         string            `json:"lat"`
	Lon         string            `json:"lon"`
	DisplayName string            `json:"display_name"`
	Address     map[string]string `json:"address"`
	Error       string            `json:"error"`
}

// addressPreference 从最具体到最宽泛
var addressPreference = []string{
	"city", "town", "village", "hamlet", "suburb", "neighbourhood", "county", "state", "country",
}

// Search resolves a place name to coordinates. Parenthesised suffixes such as
// "(Demo Mode)" are stripped before querying.
func (c *Client) Search(ctx context.Context, query string) (*Place, error) {
	clean := models.CleanPlaceName(query)
	if clean == "" {
		return nil, apperrors.NewValidationError("query is required", nil)
	}

	params := url.Values{}
	params.Set("format", "json")
	params.Set("limit", "1")
	params.Set("q", clean)

	var results []searchResult
	if err := c.get(ctx, "/search", params, &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("no location found for %q", clean), nil)
	}

	lat, lng, err := parseCoordinates(results[0].Lat, results[0].Lon)
	if err != nil {
		return nil, apperrors.NewUpstreamError("invalid coordinates returned", err)
	}

	name := results[0].Name
	if name == "" {
		name = clean
	}
	return &Place{Name: name, DisplayName: results[0].DisplayName, Lat: lat, Lng: lng}, nil
}

// Reverse resolves coordinates to the most specific settlement name available.
func (c *Client) Reverse(ctx context.Context, lat, lng float64) (*Place, error) {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil, apperrors.NewValidationError("coordinates out of range", nil)
	}

	params := url.Values{}
	params.Set("format", "json")
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	// zoom=18 返回建筑级别细节，能找到小村镇
	params.Set("zoom", "18")

	var result reverseResult
	if err := c.get(ctx, "/reverse", params, &result); err != nil {
		return nil, err
	}
	if result.Error != "" {
		return nil, apperrors.NewNotFoundError(result.Error, nil)
	}

	name := ""
	for _, key := range addressPreference {
		if value := strings.TrimSpace(result.Address[key]); value != "" {
			name = value
			break
		}
	}
	if name == "" {
		name = result.DisplayName
	}
	if name == "" {
		return nil, apperrors.NewNotFoundError("no place name at coordinates", nil)
	}

	return &Place{Name: name, DisplayName: result.DisplayName, Lat: lat, Lng: lng}, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, target interface{}) error {
	endpoint := c.baseURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	// Nominatim 使用政策要求可识别的 User-Agent
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return apperrors.Classify(err, "geocoding request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperrors.NewRateLimitError("geocoding rate limit exceeded", nil)
	case resp.StatusCode != http.StatusOK:
		return apperrors.NewUpstreamError(fmt.Sprintf("geocoder returned status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return apperrors.NewUpstreamError("failed to read geocoder response", err)
	}
	if err := json.Unmarshal(body, target); err != nil {
		utils.GetLogger().Debug("unexpected geocoder payload", zap.String("path", path), zap.Error(err))
		return apperrors.NewUpstreamError("failed to decode geocoder response", err)
	}
	return nil
}

func parseCoordinates(latText, lngText string) (float64, float64, error) {
	lat, err := strconv.ParseFloat(latText, 64)
	if err != nil {
		return 0, 0, err
	}
	lng, err := strconv.ParseFloat(lngText, 64)
	if err != nil {
		return 0, 0, err
	}
	return lat, lng, nil
}
