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

// Package gsheets 基于 Google Sheets v4 接口实现 sheet.ITable
package gsheets

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/bytedance/giftcoupon"
)

// Credentials service account 凭证，PrivateKey 允许使用转义的 "\n"
type Credentials struct {
	SpreadsheetID string
	ClientEmail   string
	PrivateKey    string
}

type Table struct {
	svc           *sheets.Service
	spreadsheetID string
}

// New 使用 service account JWT 鉴权
func New(ctx context.Context, cred Credentials) (*Table, error) {
	if cred.ClientEmail == "" || cred.PrivateKey == "" {
		return nil, fmt.Errorf("%w: google service account credentials not set", giftcoupon.ErrConfiguration)
	}
	conf := &jwt.Config{
		Email:      cred.ClientEmail,
		PrivateKey: []byte(strings.ReplaceAll(cred.PrivateKey, `\n`, "\n")),
		Scopes:     []string{sheets.SpreadsheetsScope},
		TokenURL:   google.JWTTokenURL,
	}
	return NewWithOptions(ctx, cred.SpreadsheetID, option.WithHTTPClient(conf.Client(ctx)))
}

// NewWithOptions 自定义 client 选项，如 endpoint 与鉴权方式
func NewWithOptions(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*Table, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("%w: spreadsheet id not set", giftcoupon.ErrConfiguration)
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: create sheets client: %w", giftcoupon.ErrConfiguration, err)
	}
	return &Table{svc: svc, spreadsheetID: spreadsheetID}, nil
}

func (t *Table) Get(ctx context.Context, rng string) ([][]string, error) {
	resp, err := t.svc.Spreadsheets.Values.Get(t.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	rows := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		rows[i] = make([]string, len(row))
		for j, v := range row {
			rows[i][j] = fmt.Sprint(v)
		}
	}
	return rows, nil
}

func (t *Table) Update(ctx context.Context, rng string, rows [][]interface{}) error {
	_, err := t.svc.Spreadsheets.Values.Update(t.spreadsheetID, rng, &sheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	return err
}
