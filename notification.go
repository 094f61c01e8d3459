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

package giftcoupon

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"
	_ "time/tzdata"

	"github.com/go-logr/logr"
)

const defaultNotifyTimeout = 5 * time.Second

const notifyLocation = "Europe/Madrid"

// INotifier 邮件发送
type INotifier interface {
	Send(ctx context.Context, to, subject, html string) error
}

type NotifyOptions struct {
	Timeout time.Duration
	Logger  logr.Logger
}

type NotifyOption func(opt *NotifyOptions)

func WithNotifyTimeout(d time.Duration) NotifyOption {
	return func(opt *NotifyOptions) {
		if d > 0 {
			opt.Timeout = d
		}
	}
}

func WithNotifyLogger(logger logr.Logger) NotifyOption {
	return func(opt *NotifyOptions) {
		opt.Logger = logger
	}
}

var notifyTemplate = template.Must(template.New("redeemed").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h1>🎁 Cupó bescanviat</h1>
  <h2>{{.Name}}</h2>
  <p><strong>Data i hora:</strong> {{.When}}</p>
  <p><strong>Bescanviat per:</strong> {{.RedeemedBy}}</p>
  <p>Aquest cupó ha estat bescanviat des de l'aplicació d'aniversari.</p>
</div>`))

// NotifyOnRedeem 返回 CouponRedeemedEvent 的处理器，用法：
// svc.RegisterEventHandler(EventCouponRedeemed, NotifyOnRedeem(notifier, to))
// 返回的错误只会被 EventBus 记录或重试，不会影响兑换结果
func NotifyOnRedeem(n INotifier, to string, opts ...NotifyOption) func(ctx context.Context, evt *CouponRedeemedEvent) error {
	opt := NotifyOptions{
		Timeout: defaultNotifyTimeout,
		Logger:  defaultLogger,
	}
	for _, o := range opts {
		o(&opt)
	}

	return func(ctx context.Context, evt *CouponRedeemedEvent) error {
		if n == nil || to == "" {
			opt.Logger.Info("notifier not configured, skip redeem mail", "id", evt.CouponID)
			return fmt.Errorf("%w: notifier not configured", ErrConfiguration)
		}
		subject, body, err := RenderRedeemMail(evt)
		if err != nil {
			return fmt.Errorf("%w: render mail: %w", ErrNotification, err)
		}

		ctx, cancel := context.WithTimeout(ctx, opt.Timeout)
		defer cancel()
		if err := n.Send(ctx, to, subject, body); err != nil {
			opt.Logger.Error(err, "send redeem mail failed", "id", evt.CouponID)
			return fmt.Errorf("%w: %w", ErrNotification, err)
		}
		opt.Logger.V(1).Info("redeem mail sent", "id", evt.CouponID)
		return nil
	}
}

// RenderRedeemMail 生成通知邮件的标题与 html 正文
func RenderRedeemMail(evt *CouponRedeemedEvent) (subject, body string, err error) {
	name := evt.Name
	if name == "" {
		name = "Unknown"
	}
	redeemer := evt.RedeemedBy
	if redeemer == "" {
		redeemer = DefaultRedeemer
	}

	buf := &bytes.Buffer{}
	err = notifyTemplate.Execute(buf, map[string]string{
		"Name":       name,
		"When":       FormatCatalan(evt.UsedAt),
		"RedeemedBy": redeemer,
	})
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf("Cupó bescanviat: %s", name), buf.String(), nil
}

var catalanMonths = [...]string{
	"gener", "febrer", "març", "abril", "maig", "juny",
	"juliol", "agost", "setembre", "octubre", "novembre", "desembre",
}

// FormatCatalan 以 Europe/Madrid 时区输出 "2 de març de 2024, 14:05"，无法解析时原样返回
func FormatCatalan(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	if loc, err := time.LoadLocation(notifyLocation); err == nil {
		t = t.In(loc)
	}

	month := catalanMonths[t.Month()-1]
	prep := "de "
	switch month[0] {
	case 'a', 'o':
		prep = "d'"
	}
	return fmt.Sprintf("%d %s%s de %d, %02d:%02d", t.Day(), prep, month, t.Year(), t.Hour(), t.Minute())
}
