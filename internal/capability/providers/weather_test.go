package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newWeatherServer(t *testing.T, geocode, forecast string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/geo", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("name") == "" {
			t.Error("missing name parameter")
		}
		w.Write([]byte(geocode))
	})
	mux.HandleFunc("/forecast", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("current_weather") != "true" {
			t.Error("missing current_weather parameter")
		}
		w.Write([]byte(forecast))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestWeatherInvoke(t *testing.T) {
	server := newWeatherServer(t,
		`{"results":[{"latitude":48.85,"longitude":2.35}]}`,
		`{"current_weather":{"temperature":18.04,"weathercode":2}}`)

	w := NewWeather(time.Second).WithEndpoints(server.URL+"/geo", server.URL+"/forecast")

	out, err := w.Invoke(context.Background(), json.RawMessage(`{"location":"Paris"}`))
	if err != nil {
		t.Fatal(err)
	}
	var report map[string]any
	if err := json.Unmarshal([]byte(out.Text), &report); err != nil {
		t.Fatal(err)
	}
	if report["temperature"] != 18.0 {
		t.Errorf("expected 18.0, got %v", report["temperature"])
	}
	if report["condition"] != "Partly cloudy" {
		t.Errorf("expected 'Partly cloudy', got %v", report["condition"])
	}
	if report["unit"] != "celsius" {
		t.Errorf("expected celsius default, got %v", report["unit"])
	}
}

func TestWeatherFahrenheit(t *testing.T) {
	server := newWeatherServer(t,
		`{"results":[{"latitude":1,"longitude":2}]}`,
		`{"current_weather":{"temperature":20,"weathercode":0}}`)

	w := NewWeather(time.Second).WithEndpoints(server.URL+"/geo", server.URL+"/forecast")

	out, err := w.Invoke(context.Background(), json.RawMessage(`{"location":"Lima","unit":"fahrenheit"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.Text, `"temperature":68`) {
		t.Errorf("expected 68F, got %s", out.Text)
	}
}

func TestWeatherUnknownLocation(t *testing.T) {
	server := newWeatherServer(t, `{"results":[]}`, `{}`)

	w := NewWeather(time.Second).WithEndpoints(server.URL+"/geo", server.URL+"/forecast")

	out, err := w.Invoke(context.Background(), json.RawMessage(`{"location":"Atlantis"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.Text, "No results found for Atlantis") {
		t.Errorf("expected lookup error in report, got %s", out.Text)
	}
}

func TestWeatherQueryAndSchema(t *testing.T) {
	w := NewWeather(time.Second)
	if q := w.Query(json.RawMessage(`{"location":"Oslo"}`)); q != "Weather in Oslo" {
		t.Errorf("unexpected query %q", q)
	}
	var schema map[string]any
	if err := json.Unmarshal(w.Parameters(), &schema); err != nil {
		t.Fatal(err)
	}
	required, _ := schema["required"].([]any)
	if len(required) != 1 || required[0] != "location" {
		t.Errorf("expected only location required, got %v", schema["required"])
	}
}
