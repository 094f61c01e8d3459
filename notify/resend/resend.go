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

package resend

import (
	"context"
	"fmt"
	"net/url"

	"github.com/resend/resend-go/v2"

	"github.com/bytedance/giftcoupon"
)

const DefaultFrom = "onboarding@resend.dev"

type Options struct {
	From    string
	BaseURL string
}

type Option func(opt *Options)

func WithFrom(from string) Option {
	return func(opt *Options) {
		if from != "" {
			opt.From = from
		}
	}
}

// WithBaseURL 替换 API 地址，用于测试或代理
func WithBaseURL(u string) Option {
	return func(opt *Options) {
		opt.BaseURL = u
	}
}

type Notifier struct {
	client *resend.Client
	from   string
}

func NewNotifier(apiKey string, options ...Option) (*Notifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: resend api key not set", giftcoupon.ErrConfiguration)
	}
	opt := Options{From: DefaultFrom}
	for _, o := range options {
		o(&opt)
	}

	client := resend.NewClient(apiKey)
	if opt.BaseURL != "" {
		u, err := url.Parse(opt.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid resend base url: %w", giftcoupon.ErrConfiguration, err)
		}
		client.BaseURL = u
	}
	return &Notifier{client: client, from: opt.From}, nil
}

func (n *Notifier) Send(ctx context.Context, to, subject, html string) error {
	_, err := n.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    n.from,
		To:      []string{to},
		Subject: subject,
		Html:    html,
	})
	return err
}
