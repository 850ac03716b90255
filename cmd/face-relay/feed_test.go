package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedLocalRelay(t *testing.T) {
	cmd := newFeedCmd()
	cmd.SetArgs([]string{"a-full-health", "--rate", "500"})
	assert.NoError(t, cmd.Execute())
}

func TestFeedFailsWhenRelayRejectsSamples(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"overloaded"}`))
	}))
	defer srv.Close()

	cmd := newFeedCmd()
	cmd.SetArgs([]string{"a-full-health", "--url", srv.URL, "--rate", "500"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "samples failed")
}
