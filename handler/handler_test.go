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
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"

	"github.com/bytedance/giftcoupon"
	"github.com/bytedance/giftcoupon/lock/mem"
	"github.com/bytedance/giftcoupon/metrics"
	"github.com/bytedance/giftcoupon/store/sheet"
	"github.com/bytedance/giftcoupon/testsuit"
)

func newServer(t *testing.T, opts ...giftcoupon.Option) (http.Handler, *testsuit.MemTable, *metrics.Metrics) {
	t.Helper()
	table := testsuit.NewMemTable()
	opts = append(opts, giftcoupon.WithLogger(logr.Discard()))
	svc := giftcoupon.NewService(mem.NewLock(), sheet.NewStore(table), opts...)
	m := metrics.New()
	h := NewCouponHandler(svc, giftcoupon.NewUnlockGate("01/02/2000"), m, logr.Discard())
	return NewRouter(h), table, m
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMethodNotAllowed(t *testing.T) {
	h, _, _ := newServer(t)
	for _, c := range []struct{ method, path string }{
		{http.MethodPost, "/api/coupons"},
		{http.MethodGet, "/api/redeem"},
		{http.MethodDelete, "/api/seed"},
		{http.MethodPost, "/api/unlock"},
	} {
		rec := do(h, c.method, c.path, "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, c.path)
		assert.JSONEq(t, `{"error":"Method not allowed"}`, rec.Body.String())
	}
}

func TestSeedListRedeem(t *testing.T) {
	h, _, _ := newServer(t)

	rec := do(h, http.MethodPost, "/api/seed", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"message":"Coupons data seeded successfully","count":10}`, rec.Body.String())

	rec = do(h, http.MethodPost, "/api/seed", "{}")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"Data already exists","message":"Coupons data has already been seeded"}`, rec.Body.String())

	rec = do(h, http.MethodGet, "/api/coupons", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var coupons []map[string]interface{}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &coupons))
	assert.Len(t, coupons, 10)
	assert.Equal(t, "massatge-relaxant", coupons[0]["id"])
	assert.Nil(t, coupons[0]["used_at"])
	assert.Contains(t, coupons[0], "redeemed_by")

	rec = do(h, http.MethodPost, "/api/redeem", `{"id":"sopar-especial","customDateTime":"2024-03-01T19:00:00.000Z"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"sopar-especial","name":"Sopar especial","description":"Sopar al teu restaurant preferit (tu tries el lloc).","used":true,"used_at":"2024-03-01T19:00:00.000Z","redeemed_by":"Tuxi"}`, rec.Body.String())

	rec = do(h, http.MethodPost, "/api/redeem", `{"id":"sopar-especial"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"already_used"}`, rec.Body.String())

	rec = do(h, http.MethodPost, "/api/redeem", `{"id":"does-not-exist"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Coupon not found"}`, rec.Body.String())

	rec = do(h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `giftcoupon_redemptions_total{result="already_used"} 1`)
}

func TestRedeemMissingID(t *testing.T) {
	h, _, _ := newServer(t)
	for _, body := range []string{"", "{}", `{"id":""}`, "not json"} {
		rec := do(h, http.MethodPost, "/api/redeem", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.JSONEq(t, `{"error":"Missing coupon ID"}`, rec.Body.String())
	}
}

func TestConcurrentRedeem(t *testing.T) {
	h, _, _ := newServer(t)
	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/seed", "").Code)

	codes := make(chan int, 10)
	wg := sync.WaitGroup{}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes <- do(h, http.MethodPost, "/api/redeem", `{"id":"sessio-jocs"}`).Code
		}()
	}
	wg.Wait()
	close(codes)

	counts := map[int]int{}
	for c := range codes {
		counts[c]++
	}
	assert.Equal(t, map[int]int{http.StatusOK: 1, http.StatusConflict: 9}, counts)
}

func TestSeedToken(t *testing.T) {
	h, table, _ := newServer(t, giftcoupon.WithSeedToken("secret"))

	rec := do(h, http.MethodPost, "/api/seed", `{"token":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid seed token"}`, rec.Body.String())

	rec = do(h, http.MethodPost, "/api/seed", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, table.Rows(sheet.DefaultSheetName))

	rec = do(h, http.MethodPost, "/api/seed", `{"token":"secret"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnlock(t *testing.T) {
	h, _, _ := newServer(t)

	rec := do(h, http.MethodGet, "/api/unlock?d=01/02/2000", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"message":"Date matches"}`, rec.Body.String())

	rec = do(h, http.MethodGet, "/api/unlock?d=1/2/2000", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":false,"message":"Date does not match"}`, rec.Body.String())

	rec = do(h, http.MethodGet, "/api/unlock", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Missing date parameter"}`, rec.Body.String())

	hh := NewRouter(NewCouponHandler(nil, giftcoupon.NewUnlockGate(""), nil, logr.Discard()))
	rec = do(hh, http.MethodGet, "/api/unlock?d=01/02/2000", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Server configuration error"}`, rec.Body.String())
}

type failingService struct {
	err error
}

func (f *failingService) ListCoupons(ctx context.Context) ([]*giftcoupon.Coupon, error) {
	return nil, f.err
}

func (f *failingService) Redeem(ctx context.Context, id string, requestedAt *string) (*giftcoupon.Coupon, error) {
	return nil, f.err
}

func (f *failingService) Seed(ctx context.Context, token string) (int, error) {
	return 0, f.err
}

func TestInfrastructureErrors(t *testing.T) {
	storeErr := fmt.Errorf("%w: quota exceeded", giftcoupon.ErrStore)
	h := NewRouter(NewCouponHandler(&failingService{err: storeErr}, nil, nil, logr.Discard()))

	rec := do(h, http.MethodGet, "/api/coupons", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Error loading coupons"}`, rec.Body.String())

	rec = do(h, http.MethodPost, "/api/redeem", `{"id":"a"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Error redeeming coupon"}`, rec.Body.String())

	rec = do(h, http.MethodPost, "/api/seed", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Error seeding coupons data"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "quota")
}

func TestConfigurationErrors(t *testing.T) {
	svc := giftcoupon.NewService(nil, nil, giftcoupon.WithLogger(logr.Discard()))
	h := NewRouter(NewCouponHandler(svc, nil, nil, logr.Discard()))

	for _, c := range []struct{ method, path, body string }{
		{http.MethodGet, "/api/coupons", ""},
		{http.MethodPost, "/api/redeem", `{"id":"a"}`},
		{http.MethodPost, "/api/seed", ""},
	} {
		rec := do(h, c.method, c.path, c.body)
		assert.Equal(t, http.StatusInternalServerError, rec.Code, c.path)
		assert.JSONEq(t, `{"error":"Server configuration error"}`, rec.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	h, _, _ := newServer(t)
	rec := do(h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = do(h, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
