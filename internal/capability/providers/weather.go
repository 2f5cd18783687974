package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/user/assistant/internal/capability"
)

// WMO weather interpretation codes used by Open-Meteo.
var weatherConditions = map[int]string{
	0: "Clear sky",
	1: "Mainly clear", 2: "Partly cloudy", 3: "Overcast",
	45: "Fog", 48: "Depositing rime fog",
	51: "Light drizzle", 53: "Moderate drizzle", 55: "Dense drizzle",
	61: "Slight rain", 63: "Moderate rain", 65: "Heavy rain",
	71: "Slight snow fall", 73: "Moderate snow fall", 75: "Heavy snow fall",
	77: "Snow grains",
	80: "Slight rain showers", 81: "Moderate rain showers", 82: "Violent rain showers",
	85: "Slight snow showers", 86: "Heavy snow showers",
	95: "Thunderstorm", 96: "Thunderstorm with slight hail", 99: "Thunderstorm with heavy hail",
}

// Weather looks up current conditions through the Open-Meteo geocoding and
// forecast APIs. No API key is needed.
type Weather struct {
	geocodeURL  string
	forecastURL string
	client      *http.Client
}

// NewWeather creates the weather capability.
func NewWeather(timeout time.Duration) *Weather {
	return &Weather{
		geocodeURL:  "https://geocoding-api.open-meteo.com/v1/search",
		forecastURL: "https://api.open-meteo.com/v1/forecast",
		client:      newHTTPClient(timeout),
	}
}

// WithEndpoints points the provider at other geocoding and forecast
// services speaking the Open-Meteo API.
func (w *Weather) WithEndpoints(geocodeURL, forecastURL string) *Weather {
	w.geocodeURL = geocodeURL
	w.forecastURL = forecastURL
	return w
}

type weatherArgs struct {
	Location string `json:"location" jsonschema:"description=The city name, e.g. San Francisco"`
	Unit     string `json:"unit,omitempty" jsonschema:"enum=celsius,enum=fahrenheit,description=The temperature unit to use (default is celsius)"`
}

func (w *Weather) Name() string { return "get_current_weather" }
func (w *Weather) Description() string {
	return "Get the current weather in a given location using live data from Open-Meteo"
}
func (w *Weather) Parameters() json.RawMessage { return capability.Schema[weatherArgs]() }
func (w *Weather) Label() string               { return "weather" }

func (w *Weather) Query(args json.RawMessage) string {
	var a weatherArgs
	json.Unmarshal(args, &a)
	return "Weather in " + a.Location
}

// weatherReport is the raw result handed to the summarizer. Lookup problems
// are reported in Error rather than failing the call.
type weatherReport struct {
	Location    string `json:"location"`
	Temperature any    `json:"temperature"`
	Unit        string `json:"unit,omitempty"`
	Condition   string `json:"condition"`
	Error       string `json:"error,omitempty"`
}

type geocodeResponse struct {
	Results []struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"results"`
}

type forecastResponse struct {
	CurrentWeather *struct {
		Temperature *float64 `json:"temperature"`
		WeatherCode int      `json:"weathercode"`
	} `json:"current_weather"`
}

func (w *Weather) Invoke(ctx context.Context, args json.RawMessage) (*capability.Output, error) {
	var a weatherArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("parse args: %w", err)
	}
	if a.Location == "" {
		return nil, fmt.Errorf("location is required")
	}
	if a.Unit == "" {
		a.Unit = "celsius"
	}

	report := w.lookup(ctx, a)
	data, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return &capability.Output{Text: string(data)}, nil
}

func (w *Weather) lookup(ctx context.Context, a weatherArgs) weatherReport {
	unknown := func(msg string) weatherReport {
		return weatherReport{Location: a.Location, Temperature: "unknown", Condition: "unknown", Error: msg}
	}

	q := url.Values{"name": {a.Location}, "count": {"1"}}
	var geo geocodeResponse
	status, err := w.getJSON(ctx, w.geocodeURL+"?"+q.Encode(), &geo)
	if err != nil {
		return unknown(fmt.Sprintf("Error in geocoding request: %v", err))
	}
	if status != http.StatusOK {
		return unknown(fmt.Sprintf("Error in geocoding request: %d", status))
	}
	if len(geo.Results) == 0 {
		return unknown("No results found for " + a.Location)
	}

	q = url.Values{
		"latitude":        {fmt.Sprintf("%f", geo.Results[0].Latitude)},
		"longitude":       {fmt.Sprintf("%f", geo.Results[0].Longitude)},
		"current_weather": {"true"},
	}
	var fc forecastResponse
	status, err = w.getJSON(ctx, w.forecastURL+"?"+q.Encode(), &fc)
	if err != nil {
		return unknown(fmt.Sprintf("Error in weather request: %v", err))
	}
	if status != http.StatusOK {
		return unknown(fmt.Sprintf("Error in weather request: %d", status))
	}
	if fc.CurrentWeather == nil || fc.CurrentWeather.Temperature == nil {
		return unknown("Weather data not found in the response")
	}

	temp := *fc.CurrentWeather.Temperature
	if a.Unit == "fahrenheit" {
		temp = temp*9/5 + 32
	}
	condition, ok := weatherConditions[fc.CurrentWeather.WeatherCode]
	if !ok {
		condition = "Unknown"
	}
	return weatherReport{
		Location:    a.Location,
		Temperature: math.Round(temp*10) / 10,
		Unit:        a.Unit,
		Condition:   condition,
	}
}

func (w *Weather) getJSON(ctx context.Context, u string, v any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("parse response: %w", err)
	}
	return resp.StatusCode, nil
}
