package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"vaultkey-controlplane/pkg/ledger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, h HealthService) (int, Health) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/readyz", h.Readiness)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	r.ServeHTTP(rec, req)

	var body Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestReadinessWithoutDependencies(t *testing.T) {
	code, body := serve(t, ProvideHealth(HealthParams{}))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, StatusHealthy, body.Status)
	require.Empty(t, body.Deps)
}

func TestReadinessLedgerIsAdvisory(t *testing.T) {
	oracle := new(ledger.MockOracle)
	oracle.On("Health", mock.Anything).Return((*ledger.Health)(nil), errors.New("dial tcp: refused"))

	code, body := serve(t, ProvideHealth(HealthParams{Oracle: oracle}))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, StatusDegraded, body.Status)
	require.Len(t, body.Deps, 1)
	require.True(t, body.Deps[0].Advisory)
	require.Equal(t, "ledger:mock", body.Deps[0].Name)
}

func TestReadinessSimulatorHealthy(t *testing.T) {
	code, body := serve(t, ProvideHealth(HealthParams{Oracle: ledger.NewSimulator()}))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, StatusHealthy, body.Status)
}

func TestCheckHonoursCancelledContext(t *testing.T) {
	oracle := new(ledger.MockOracle)
	oracle.On("Health", mock.Anything).Return(&ledger.Health{Connected: true}, nil)

	h := ProvideHealth(HealthParams{Oracle: oracle}).(*health)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := h.check(ctx)
	require.Equal(t, StatusHealthy, out.Status)
}
