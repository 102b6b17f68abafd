package profile

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domaincache "github.com/sitepulse/domain-cache"
)

func TestClient_FetchContext(t *testing.T) {
	t.Run("returns the remote profile", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "domain-context", req["action"])
			assert.Equal(t, "acme.example", req["domain"])

			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"business_name": "Acme Bakery"},
			})
		}))
		defer srv.Close()

		c := NewClient(srv.URL)
		got, err := c.FetchContext(context.Background(), "https://www.acme.example")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Acme Bakery", got.BusinessName)
	})

	t.Run("null data means unknown domain, not an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"data":null}`))
		}))
		defer srv.Close()

		c := NewClient(srv.URL)
		got, err := c.FetchContext(context.Background(), "unknown.example")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("non-200 is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		c := NewClient(srv.URL)
		_, err := c.FetchContext(context.Background(), "acme.example")
		require.Error(t, err)
	})
}

func TestClient_UpdateContext(t *testing.T) {
	t.Run("sends params and accepts success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "update-domain-context", req["action"])
			params, ok := req["params"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, "Acme", params["business_name"])

			_, _ = w.Write([]byte(`{"success":true}`))
		}))
		defer srv.Close()

		c := NewClient(srv.URL)
		err := c.UpdateContext(context.Background(), "acme.example", &domaincache.DomainContext{BusinessName: "Acme"})
		require.NoError(t, err)
	})

	t.Run("success false is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"success":false}`))
		}))
		defer srv.Close()

		c := NewClient(srv.URL)
		err := c.UpdateContext(context.Background(), "acme.example", &domaincache.DomainContext{})
		require.Error(t, err)
	})
}

func TestExtractionClient_Extract(t *testing.T) {
	t.Run("returns extracted context", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "acme.example", req["domain"])

			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"data": map[string]any{
					"business_name":         "Acme Bakery",
					"extraction_confidence": map[string]float64{"business_name": 0.92},
				},
			})
		}))
		defer srv.Close()

		c := NewExtractionClient(srv.URL)
		got, err := c.Extract(context.Background(), "acme.example")
		require.NoError(t, err)
		assert.Equal(t, "Acme Bakery", got.BusinessName)
		assert.InDelta(t, 0.92, got.ExtractionConfidence["business_name"], 0.001)
	})

	t.Run("error payload surfaces as error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"success":false,"error":"crawl blocked by robots.txt"}`))
		}))
		defer srv.Close()

		c := NewExtractionClient(srv.URL)
		_, err := c.Extract(context.Background(), "acme.example")
		require.ErrorContains(t, err, "robots.txt")
	})
}
