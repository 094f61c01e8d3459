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

package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bytedance/giftcoupon"
)

const namespace = "giftcoupon"

// 兑换结果
const (
	ResultSuccess     = "success"
	ResultAlreadyUsed = "already_used"
	ResultNotFound    = "not_found"
	ResultInvalid     = "invalid"
	ResultError       = "error"
)

// Metrics 使用独立的 Registry，避免多个实例之间重复注册
type Metrics struct {
	Registry        *prometheus.Registry
	Redemptions     *prometheus.CounterVec
	Notifications   *prometheus.CounterVec
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redemptions_total",
			Help:      "Coupon redemption attempts by result.",
		}, []string{"result"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Redeem notification deliveries by result.",
		}, []string{"result"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	m.Registry.MustRegister(
		m.Redemptions,
		m.Notifications,
		m.Requests,
		m.RequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// ObserveRedeem 按错误类型记录一次兑换
func (m *Metrics) ObserveRedeem(err error) {
	m.Redemptions.WithLabelValues(RedeemResult(err)).Inc()
}

func (m *Metrics) ObserveRequest(route, method, code string, d time.Duration) {
	m.Requests.WithLabelValues(route, method, code).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

func RedeemResult(err error) string {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, giftcoupon.ErrAlreadyUsed):
		return ResultAlreadyUsed
	case errors.Is(err, giftcoupon.ErrNotFound):
		return ResultNotFound
	case errors.Is(err, giftcoupon.ErrValidation):
		return ResultInvalid
	default:
		return ResultError
	}
}

type notifier struct {
	next    giftcoupon.INotifier
	metrics *Metrics
}

func (n *notifier) Send(ctx context.Context, to, subject, html string) error {
	err := n.next.Send(ctx, to, subject, html)
	if err != nil {
		n.metrics.Notifications.WithLabelValues(ResultError).Inc()
	} else {
		n.metrics.Notifications.WithLabelValues(ResultSuccess).Inc()
	}
	return err
}

// InstrumentNotifier 统计通知的发送结果，n 为 nil 时原样返回
func (m *Metrics) InstrumentNotifier(n giftcoupon.INotifier) giftcoupon.INotifier {
	if n == nil {
		return nil
	}
	return &notifier{next: n, metrics: m}
}
