//
// Copyright 2023 Bytedance Ltd. and/or its affiliates
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-logr/logr"

	"github.com/bytedance/giftcoupon"
	"github.com/bytedance/giftcoupon/metrics"
)

const maxBodySize = 1 << 20

type ICouponService interface {
	ListCoupons(ctx context.Context) ([]*giftcoupon.Coupon, error)
	Redeem(ctx context.Context, id string, requestedAt *string) (*giftcoupon.Coupon, error)
	Seed(ctx context.Context, token string) (int, error)
}

type IUnlockGate interface {
	Check(d string) (bool, error)
}

type RedeemRequest struct {
	ID             string  `json:"id"`
	CustomDateTime *string `json:"customDateTime"`
}

type SeedRequest struct {
	Token string `json:"token"`
}

type SeedResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Count   int    `json:"count"`
}

type UnlockResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type CouponHandler struct {
	svc     ICouponService
	gate    IUnlockGate
	metrics *metrics.Metrics
	logger  logr.Logger
}

func NewCouponHandler(svc ICouponService, gate IUnlockGate, m *metrics.Metrics, logger logr.Logger) *CouponHandler {
	return &CouponHandler{svc: svc, gate: gate, metrics: m, logger: logger}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg})
}

// decodeBody 空 body 视为空对象
func decodeBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// ListCoupons handles GET /api/coupons
func (h *CouponHandler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.svc.ListCoupons(r.Context())
	if err != nil {
		h.logger.Error(err, "list coupons failed")
		if errors.Is(err, giftcoupon.ErrConfiguration) {
			writeError(w, http.StatusInternalServerError, "Server configuration error")
			return
		}
		writeError(w, http.StatusInternalServerError, "Error loading coupons")
		return
	}
	writeJSON(w, http.StatusOK, coupons)
}

// Redeem handles POST /api/redeem
func (h *CouponHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if err := decodeBody(r, &req); err != nil || req.ID == "" {
		h.observeRedeem(giftcoupon.ErrValidation)
		writeError(w, http.StatusBadRequest, "Missing coupon ID")
		return
	}

	coupon, err := h.svc.Redeem(r.Context(), req.ID, req.CustomDateTime)
	h.observeRedeem(err)
	if err != nil {
		switch {
		case errors.Is(err, giftcoupon.ErrValidation):
			writeError(w, http.StatusBadRequest, "Missing coupon ID")
		case errors.Is(err, giftcoupon.ErrNotFound):
			writeError(w, http.StatusNotFound, "Coupon not found")
		case errors.Is(err, giftcoupon.ErrAlreadyUsed):
			writeError(w, http.StatusConflict, "already_used")
		case errors.Is(err, giftcoupon.ErrConfiguration):
			h.logger.Error(err, "redeem coupon failed", "id", req.ID)
			writeError(w, http.StatusInternalServerError, "Server configuration error")
		default:
			h.logger.Error(err, "redeem coupon failed", "id", req.ID)
			writeError(w, http.StatusInternalServerError, "Error redeeming coupon")
		}
		return
	}
	writeJSON(w, http.StatusOK, coupon)
}

// Seed handles POST /api/seed
func (h *CouponHandler) Seed(w http.ResponseWriter, r *http.Request) {
	var req SeedRequest
	// 无法解析的 body 按没有 token 处理，由 token 校验决定结果
	_ = decodeBody(r, &req)

	count, err := h.svc.Seed(r.Context(), req.Token)
	if err != nil {
		switch {
		case errors.Is(err, giftcoupon.ErrUnauthorized):
			writeError(w, http.StatusUnauthorized, "Invalid seed token")
		case errors.Is(err, giftcoupon.ErrAlreadyExists):
			writeJSON(w, http.StatusConflict, ErrorResponse{
				Error:   "Data already exists",
				Message: "Coupons data has already been seeded",
			})
		case errors.Is(err, giftcoupon.ErrConfiguration):
			h.logger.Error(err, "seed coupons failed")
			writeError(w, http.StatusInternalServerError, "Server configuration error")
		default:
			h.logger.Error(err, "seed coupons failed")
			writeError(w, http.StatusInternalServerError, "Error seeding coupons data")
		}
		return
	}
	writeJSON(w, http.StatusOK, SeedResponse{
		Success: true,
		Message: "Coupons data seeded successfully",
		Count:   count,
	})
}

// Unlock handles GET /api/unlock?d=DD/MM/YYYY
func (h *CouponHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	ok, err := h.gate.Check(r.URL.Query().Get("d"))
	if err != nil {
		switch {
		case errors.Is(err, giftcoupon.ErrValidation):
			writeError(w, http.StatusBadRequest, "Missing date parameter")
		case errors.Is(err, giftcoupon.ErrConfiguration):
			h.logger.Error(err, "unlock check failed")
			writeError(w, http.StatusInternalServerError, "Server configuration error")
		default:
			h.logger.Error(err, "unlock check failed")
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	msg := "Date does not match"
	if ok {
		msg = "Date matches"
	}
	writeJSON(w, http.StatusOK, UnlockResponse{Success: ok, Message: msg})
}

func (h *CouponHandler) observeRedeem(err error) {
	if h.metrics != nil {
		h.metrics.ObserveRedeem(err)
	}
}
