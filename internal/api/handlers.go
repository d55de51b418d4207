package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"echopay/internal/model"
	"echopay/internal/qr"
	"echopay/internal/storage"
)

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type healthResponse struct {
	OK      bool   `json:"ok"`
	Service string `json:"service"`
}

type verifyResponse struct {
	OK       bool          `json:"ok"`
	Receipt  model.Receipt `json:"receipt"`
	Explorer *string       `json:"explorer"`
}

type summaryResponse struct {
	OK bool `json:"ok"`
	model.MerchantSummary
}

type receiptsResponse struct {
	OK bool `json:"ok"`
	model.ReceiptPage
}

type paymentLinkRequest struct {
	Amount json.Number `json:"amount"`
	Token  string      `json:"token"`
}

type paymentLinkResponse struct {
	OK   bool   `json:"ok"`
	Link string `json:"link"`
	QR   string `json:"qr"`
}

func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{OK: true, Service: serviceName})
}

// Verify returns the stored receipt for a code. A receipt that has not been
// ingested yet is a 404 not_found, which clients poll on.
func (s *Server) Verify(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	receipt, err := s.receipts.ReceiptByCode(r.Context(), code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		s.serverError(w, "verify receipt", err)
		return
	}

	resp := verifyResponse{OK: true, Receipt: receipt}
	if receipt.TxHash != "" {
		explorer := s.links.ExplorerTxURL(receipt.TxHash)
		resp.Explorer = &explorer
	}
	writeJSON(w, http.StatusOK, resp)
}

// ReceiptQR renders a PNG QR code pointing at the verify page for a code.
func (s *Server) ReceiptQR(w http.ResponseWriter, r *http.Request) {
	png, err := qr.PNG(s.links.VerifyURL(chi.URLParam(r, "code")), qr.DefaultSize)
	if err != nil {
		s.logger.Warn("render qr failed", zap.Error(err))
		http.Error(w, "QR error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (s *Server) MerchantSummary(w http.ResponseWriter, r *http.Request) {
	merchant, ok := merchantParam(w, r)
	if !ok {
		return
	}
	summary, err := s.summarizer.Summary(r.Context(), merchant)
	if err != nil {
		s.serverError(w, "merchant summary", err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{OK: true, MerchantSummary: summary})
}

func (s *Server) MerchantReceipts(w http.ResponseWriter, r *http.Request) {
	merchant, ok := merchantParam(w, r)
	if !ok {
		return
	}
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "pageSize", 0)

	result, err := s.summarizer.Receipts(r.Context(), merchant, page, pageSize)
	if err != nil {
		s.serverError(w, "merchant receipts", err)
		return
	}
	writeJSON(w, http.StatusOK, receiptsResponse{OK: true, ReceiptPage: result})
}

// PaymentLink builds a pay-page deep link for the merchant and its QR code.
func (s *Server) PaymentLink(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")
	if _, ok := merchantParam(w, r); !ok {
		return
	}

	var req paymentLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_body")
		return
	}
	amount := strings.TrimSpace(req.Amount.String())
	token := strings.TrimSpace(req.Token)
	if amount == "" || token == "" {
		writeError(w, http.StatusBadRequest, "bad_body")
		return
	}

	link := s.cfg.PayWebBase + "/pay?mid=" + wallet +
		"&amt=" + url.QueryEscape(amount) +
		"&t=" + url.QueryEscape(token)
	dataURL, err := qr.DataURL(link, qr.DefaultSize)
	if err != nil {
		s.serverError(w, "payment link qr", err)
		return
	}
	writeJSON(w, http.StatusOK, paymentLinkResponse{OK: true, Link: link, QR: dataURL})
}

func (s *Server) serverError(w http.ResponseWriter, op string, err error) {
	s.logger.Warn("request failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "server_error")
}

// merchantParam validates the {wallet} parameter and returns it lowercased.
func merchantParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	wallet := chi.URLParam(r, "wallet")
	if !common.IsHexAddress(wallet) {
		writeError(w, http.StatusBadRequest, "bad_wallet")
		return "", false
	}
	return strings.ToLower(common.HexToAddress(wallet).Hex()), true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorResponse{OK: false, Error: code})
}
