package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClassifier_Classify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, analyzePath, r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		toxic := body["text"] == "you suck"

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"is_toxic":   toxic,
			"confidence": map[bool]float64{true: 1, false: 0}[toxic],
			"categories": map[string]bool{"personal_attack": toxic, "general_toxicity": false},
		})
	}))
	defer srv.Close()

	c := NewHTTPClassifier(srv.URL+"/", time.Second)

	verdict, err := c.Classify(context.Background(), "you suck")
	require.NoError(t, err)
	assert.True(t, verdict.Toxic)
	assert.Equal(t, 1.0, verdict.Score)
	assert.True(t, verdict.Categories["personal_attack"])

	verdict, err = c.Classify(context.Background(), "hello")
	require.NoError(t, err)
	assert.False(t, verdict.Toxic)
}

func TestHTTPClassifier_Unavailable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"bad body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}},
		{"timeout", func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := NewHTTPClassifier(srv.URL, 50*time.Millisecond)
			_, err := c.Classify(context.Background(), "hello")
			assert.True(t, errors.Is(err, ErrUnavailable))
		})
	}

	c := NewHTTPClassifier("http://127.0.0.1:1", 50*time.Millisecond)
	_, err := c.Classify(context.Background(), "hello")
	assert.True(t, errors.Is(err, ErrUnavailable))
}
