package dispute

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpayne7/escrowd/internal/auth"
	"github.com/dpayne7/escrowd/internal/escrow"
)

func setupRouter(t *testing.T, svc *Service) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(svc).RegisterRoutes(r.Group("/v1"))
	return r
}

func postJSON(r *gin.Engine, path, wallet string, body any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if wallet != "" {
		req.Header.Set(auth.MerchantWalletHeader, wallet)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_ResolveDispute(t *testing.T) {
	svc, store := newTestService(t, &fakeAnalyzer{})
	seedTx(t, store, "tx_1", escrow.StatusRefundRequested)
	r := setupRouter(t, svc)

	w := postJSON(r, "/v1/resolve-dispute", merchantWallet, gin.H{
		"transactionId": "tx_1",
		"decision":      "REFUND",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Success     bool   `json:"success"`
		Status      string `json:"status"`
		TxSignature string `json:"txSignature"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "REFUNDED", resp.Status)
	assert.Equal(t, "transfer_1", resp.TxSignature)
}

func TestHandler_ResolveRequiresAuth(t *testing.T) {
	svc, store := newTestService(t, &fakeAnalyzer{})
	seedTx(t, store, "tx_1", escrow.StatusRefundRequested)
	r := setupRouter(t, svc)

	w := postJSON(r, "/v1/resolve-dispute", "", gin.H{
		"transactionId": "tx_1",
		"decision":      "REFUND",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandler_ResolveForbiddenForNonOwner(t *testing.T) {
	svc, store := newTestService(t, &fakeAnalyzer{})
	seedTx(t, store, "tx_1", escrow.StatusRefundRequested)
	r := setupRouter(t, svc)

	w := postJSON(r, "/v1/disputes/tx_1/resolve", otherWallet, gin.H{"decision": "REJECT"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandler_ResolveBadDecision(t *testing.T) {
	svc, store := newTestService(t, &fakeAnalyzer{})
	seedTx(t, store, "tx_1", escrow.StatusRefundRequested)
	r := setupRouter(t, svc)

	w := postJSON(r, "/v1/disputes/tx_1/resolve", merchantWallet, gin.H{"decision": "MAYBE"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_Analyze(t *testing.T) {
	an := &fakeAnalyzer{result: &Result{Decision: "refund", Reasoning: "no delivery", Confidence: 0.8}}
	svc, store := newTestService(t, an)
	seedTx(t, store, "tx_1", escrow.StatusPending)
	_, err := svc.File(context.Background(), "tx_1", "content was empty")
	require.NoError(t, err)
	r := setupRouter(t, svc)

	w := postJSON(r, "/v1/disputes/tx_1/ai-analyze", merchantWallet, gin.H{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "refund")
}

func TestHandler_ExplainNotUnderDispute(t *testing.T) {
	svc, store := newTestService(t, &fakeAnalyzer{})
	seedTx(t, store, "tx_1", escrow.StatusPending)
	r := setupRouter(t, svc)

	w := postJSON(r, "/v1/disputes/tx_1/merchant-explain", merchantWallet, gin.H{
		"explanation": "the buyer downloaded it",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_NotFound(t *testing.T) {
	svc, _ := newTestService(t, &fakeAnalyzer{})
	r := setupRouter(t, svc)

	w := postJSON(r, "/v1/disputes/tx_missing/ai-analyze", merchantWallet, gin.H{})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
