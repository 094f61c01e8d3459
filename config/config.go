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

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 服务配置，环境变量名与 key 一一对应（大写）
type Config struct {
	Addr string `mapstructure:"addr"`

	// 存储：sheets | sql
	StoreBackend      string        `mapstructure:"store_backend"`
	StoreTimeout      time.Duration `mapstructure:"store_timeout"`
	GoogleSheetsID    string        `mapstructure:"google_sheets_id"`
	GoogleClientEmail string        `mapstructure:"google_client_email"`
	GooglePrivateKey  string        `mapstructure:"google_private_key"`
	DBDriver          string        `mapstructure:"db_driver"` // mysql | sqlite
	DBDSN             string        `mapstructure:"db_dsn"`

	// 锁：mem | redis | db
	LockBackend   string        `mapstructure:"lock_backend"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`

	// 事件：mem | sql
	EventBusBackend string `mapstructure:"eventbus_backend"`

	// 通知：resend | smtp
	NotifyProvider string        `mapstructure:"notify_provider"`
	NotifyFrom     string        `mapstructure:"notify_from"`
	NotifyTo       string        `mapstructure:"notify_to"`
	NotifyTimeout  time.Duration `mapstructure:"notify_timeout"`
	ResendAPIKey   string        `mapstructure:"resend_api_key"`
	SMTPHost       string        `mapstructure:"smtp_host"`
	SMTPPort       int           `mapstructure:"smtp_port"`
	SMTPUsername   string        `mapstructure:"smtp_username"`
	SMTPPassword   string        `mapstructure:"smtp_password"`

	BirthdayDDMMYYYY string `mapstructure:"birthday_ddmmyyyy"`
	SeedToken        string `mapstructure:"seed_token"`
	Redeemer         string `mapstructure:"redeemer"`
	LogVerbosity     int    `mapstructure:"log_verbosity"`
}

var defaults = map[string]interface{}{
	"addr":                ":8080",
	"store_backend":       "sheets",
	"store_timeout":       5 * time.Second,
	"google_sheets_id":    "",
	"google_client_email": "",
	"google_private_key":  "",
	"db_driver":           "mysql",
	"db_dsn":              "",
	"lock_backend":        "mem",
	"lock_ttl":            10 * time.Second,
	"redis_addr":          "",
	"redis_password":      "",
	"eventbus_backend":    "mem",
	"notify_provider":     "resend",
	"notify_from":         "",
	"notify_to":           "",
	"notify_timeout":      5 * time.Second,
	"resend_api_key":      "",
	"smtp_host":           "",
	"smtp_port":           587,
	"smtp_username":       "",
	"smtp_password":       "",
	"birthday_ddmmyyyy":   "",
	"seed_token":          "",
	"redeemer":            "Tuxi",
	"log_verbosity":       0,
}

// Load 依次读取 .env、可选的 yaml 配置文件与环境变量，环境变量优先
// 缺少的配置不会报错，由使用方在调用时返回配置错误
func Load(envFile, configFile string) (*Config, error) {
	if envFile != "" {
		// .env 不会覆盖已存在的环境变量
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}
