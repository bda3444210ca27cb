package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthManager_Aggregation(t *testing.T) {
	hm := NewHealthManager(nil)

	assert.True(t, hm.IsHealthy(), "empty health manager should be healthy")

	hm.Register("journal", func() error { return nil })
	assert.True(t, hm.IsHealthy())

	hm.Register("oracle", func() error { return fmt.Errorf("failed") })
	assert.False(t, hm.IsHealthy())

	status := hm.GetStatus()
	assert.Equal(t, "Healthy", status["journal"])
	assert.Equal(t, "Unhealthy: failed", status["oracle"])
}

func TestHealthManager_Handler(t *testing.T) {
	hm := NewHealthManager(nil)
	hm.Register("journal", func() error { return nil })

	rec := httptest.NewRecorder()
	hm.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Healthy", body["journal"])

	hm.Register("oracle", func() error { return fmt.Errorf("down") })
	rec = httptest.NewRecorder()
	hm.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
