// README: Payment and wallet handlers, including the provider callback and statement download.
package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ridematch/internal/http/middleware"
	"ridematch/internal/modules/payment"
	"ridematch/internal/modules/wallet"
)

// SignatureHeader carries the hex HMAC-SHA256 of the callback body.
const SignatureHeader = "X-Signature"

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type PaymentHandler struct {
	payments *payment.Service
	wallets  *wallet.Service
}

func NewPaymentHandler(paymentSvc *payment.Service, walletSvc *wallet.Service) *PaymentHandler {
	return &PaymentHandler{payments: paymentSvc, wallets: walletSvc}
}

func (h *PaymentHandler) Process(c *gin.Context) {
	var req payment.ProcessCommand
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.payments.Process(c.Request.Context(), middleware.CallerIdentity(c), req)
	if err != nil {
		writeAppError(c, err)
		return
	}
	if p.PaymentURL != nil {
		writeJSON(c, http.StatusOK, gin.H{"transaction": p, "payment_url": *p.PaymentURL})
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"transaction": p})
}

func (h *PaymentHandler) Callback(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		writeError(c, http.StatusBadRequest, "unreadable body")
		return
	}
	p, err := h.payments.HandleCallback(c.Request.Context(), c.GetHeader(SignatureHeader), body)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": p.Status})
}

func (h *PaymentHandler) Wallet(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	w, txs, err := h.wallets.GetWallet(c.Request.Context(), middleware.CallerIdentity(c), limit)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"wallet": w, "transactions": txs})
}

func (h *PaymentHandler) Statement(c *gin.Context) {
	var buf bytes.Buffer
	if err := h.wallets.ExportStatement(c.Request.Context(), middleware.CallerIdentity(c), &buf); err != nil {
		writeAppError(c, err)
		return
	}
	name := fmt.Sprintf("statement-%s.xlsx", time.Now().UTC().Format("2006-01-02"))
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

func (h *PaymentHandler) Withdraw(c *gin.Context) {
	var req wallet.WithdrawCommand
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.wallets.RequestWithdrawal(c.Request.Context(), middleware.CallerIdentity(c), req)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"payout": p})
}

func (h *PaymentHandler) Payouts(c *gin.Context) {
	payouts, err := h.wallets.ListPayouts(c.Request.Context(), middleware.CallerIdentity(c))
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"payouts": payouts})
}

func (h *PaymentHandler) ResolvePayout(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req wallet.ResolveCommand
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.wallets.ResolvePayout(c.Request.Context(), middleware.CallerIdentity(c), id, req)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"payout": p})
}
