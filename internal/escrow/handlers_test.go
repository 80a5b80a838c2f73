package escrow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpayne7/escrowd/internal/auth"
)

func setupHandlerTest(t *testing.T) (*gin.Engine, *MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := NewMemoryStore()
	r := gin.New()
	NewHandler(store).RegisterRoutes(r.Group("/v1"))

	now := time.Now()
	require.NoError(t, store.Create(context.Background(), &Transaction{
		ID:             "tx_1",
		ReceiptCode:    "RCP-AAAA-BBBB",
		MerchantWallet: "0x1111111111111111111111111111111111111111",
		ResourceID:     "res_1",
		AgentWallet:    "0x2222222222222222222222222222222222222222",
		Amount:         "0.05",
		Status:         StatusPending,
		PaymentHeader:  "secret-raw-header",
		AutoSettleAt:   now.Add(time.Hour),
		CreatedAt:      now,
		UpdatedAt:      now,
	}))
	return r, store
}

func TestHandler_GetTransaction(t *testing.T) {
	r, _ := setupHandlerTest(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/transactions/tx_1", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var tx map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tx))
	assert.Equal(t, "tx_1", tx["id"])
	assert.Equal(t, "PENDING", tx["status"])
	assert.NotContains(t, w.Body.String(), "secret-raw-header",
		"the raw payment header never leaves the store")
}

func TestHandler_GetTransactionNotFound(t *testing.T) {
	r, _ := setupHandlerTest(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/transactions/tx_nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_GetByReceipt(t *testing.T) {
	r, _ := setupHandlerTest(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/receipts/RCP-AAAA-BBBB", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tx_1")
}

func TestHandler_ListByAgent(t *testing.T) {
	r, _ := setupHandlerTest(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/agents/0x2222222222222222222222222222222222222222/transactions", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
}

func TestHandler_ListByAgentBadWallet(t *testing.T) {
	r, _ := setupHandlerTest(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/agents/garbage/transactions", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_ListByMerchantRequiresOwnWallet(t *testing.T) {
	r, _ := setupHandlerTest(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/merchants/0x1111111111111111111111111111111111111111/transactions", nil)
	req.Header.Set(auth.MerchantWalletHeader, "0x3333333333333333333333333333333333333333")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/merchants/0x1111111111111111111111111111111111111111/transactions", nil)
	req.Header.Set(auth.MerchantWalletHeader, "0x1111111111111111111111111111111111111111")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tx_1")
}

func TestHandler_ListByMerchantUnauthenticated(t *testing.T) {
	r, _ := setupHandlerTest(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/merchants/0x1111111111111111111111111111111111111111/transactions", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
