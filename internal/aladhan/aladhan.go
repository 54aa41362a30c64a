package aladhan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	appLog "prayerd/internal/log"

	"prayerd/internal/prayer"
)

// DefaultBaseURL is the public AlAdhan API endpoint.
const DefaultBaseURL = "https://api.aladhan.com/v1"

// Location is a parsed "City, Country" descriptor.
type Location struct {
	City    string
	Country string
}

// ParseLocation splits a free-form location string into city and
// country. "City, Country" splits on the last comma; a bare city
// defaults the country to "US". Whitespace around both parts is trimmed.
func ParseLocation(input string) (Location, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return Location{}, errors.New("location is empty")
	}
	i := strings.LastIndexByte(trimmed, ',')
	if i < 0 {
		return Location{City: trimmed, Country: "US"}, nil
	}
	city := strings.TrimSpace(trimmed[:i])
	country := strings.TrimSpace(trimmed[i+1:])
	if city == "" || country == "" {
		return Location{}, fmt.Errorf("malformed location %q", input)
	}
	return Location{City: city, Country: country}, nil
}

func (l Location) String() string {
	if l.Country == "" {
		return l.City
	}
	return l.City + ", " + l.Country
}

// CalendarDay carries one calendar representation of today's date as
// returned upstream.
type CalendarDay struct {
	Date    string `json:"date"`
	Day     string `json:"day"`
	Weekday string `json:"weekday"`
	Month   string `json:"month"`
	Year    string `json:"year"`
}

// DateInfo holds today's date in both calendars.
type DateInfo struct {
	Gregorian CalendarDay `json:"gregorian"`
	Hijri     CalendarDay `json:"hijri"`
}

// Timings is the result of a successful lookup: five event times plus
// the calendar date they belong to.
type Timings struct {
	Times prayer.Times
	Date  DateInfo
}

// apiResponse mirrors the subset of the AlAdhan response we consume.
type apiResponse struct {
	Code   int             `json:"code"`
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type apiData struct {
	Timings map[string]string `json:"timings"`
	Date    struct {
		Gregorian apiCalendarDay `json:"gregorian"`
		Hijri     apiCalendarDay `json:"hijri"`
	} `json:"date"`
}

type apiCalendarDay struct {
	Date    string `json:"date"`
	Day     string `json:"day"`
	Weekday struct {
		En string `json:"en"`
	} `json:"weekday"`
	Month struct {
		Number int    `json:"number"`
		En     string `json:"en"`
	} `json:"month"`
	Year string `json:"year"`
}

// Client fetches prayer timings from the AlAdhan API.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client. baseURL may be empty to use the public API.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// TimingsByCity looks up today's timings for a city/country pair using
// the given calculation method. day selects the calendar day and the
// timezone the date path segment is formatted in.
func (c *Client) TimingsByCity(ctx context.Context, loc Location, method int, day time.Time) (Timings, error) {
	q := url.Values{}
	q.Set("city", loc.City)
	q.Set("country", loc.Country)
	q.Set("method", strconv.Itoa(method))
	endpoint := fmt.Sprintf("%s/timingsByCity/%s?%s", c.baseURL, day.Format("02-01-2006"), q.Encode())
	return c.fetch(ctx, endpoint)
}

// TimingsByCoordinates looks up today's timings for a latitude/longitude
// pair using the given calculation method.
func (c *Client) TimingsByCoordinates(ctx context.Context, lat, lon float64, method int, day time.Time) (Timings, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("method", strconv.Itoa(method))
	endpoint := fmt.Sprintf("%s/timings/%s?%s", c.baseURL, day.Format("02-01-2006"), q.Encode())
	return c.fetch(ctx, endpoint)
}

func (c *Client) fetch(ctx context.Context, endpoint string) (Timings, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Timings{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Timings{}, fmt.Errorf("timings request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Timings{}, fmt.Errorf("timings request: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Timings{}, fmt.Errorf("timings response read: %w", err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Timings{}, fmt.Errorf("timings response decode: %w", err)
	}
	if envelope.Code != http.StatusOK {
		return Timings{}, fmt.Errorf("timings API error: %s (code %d)", envelope.Status, envelope.Code)
	}

	var data apiData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return Timings{}, fmt.Errorf("timings data decode: %w", err)
	}
	if len(data.Timings) == 0 {
		return Timings{}, errors.New("timings missing from response")
	}

	times := make(prayer.Times, len(prayer.Order))
	for _, ev := range prayer.Order {
		if t, ok := data.Timings[string(ev)]; ok {
			times[ev] = t
		}
	}

	out := Timings{
		Times: times,
		Date: DateInfo{
			Gregorian: convertCalendarDay(data.Date.Gregorian),
			Hijri:     convertCalendarDay(data.Date.Hijri),
		},
	}
	appLog.Debug("timings fetched", "events", len(times), "gregorian", out.Date.Gregorian.Date)
	return out, nil
}

func convertCalendarDay(d apiCalendarDay) CalendarDay {
	return CalendarDay{
		Date:    d.Date,
		Day:     d.Day,
		Weekday: d.Weekday.En,
		Month:   d.Month.En,
		Year:    d.Year,
	}
}
