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

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bytedance/giftcoupon"
	"github.com/bytedance/giftcoupon/config"
	membus "github.com/bytedance/giftcoupon/eventbus/mem"
	sqlbus "github.com/bytedance/giftcoupon/eventbus/sql"
	"github.com/bytedance/giftcoupon/handler"
	dblock "github.com/bytedance/giftcoupon/lock/db"
	memlock "github.com/bytedance/giftcoupon/lock/mem"
	redislock "github.com/bytedance/giftcoupon/lock/redis"
	"github.com/bytedance/giftcoupon/metrics"
	"github.com/bytedance/giftcoupon/notify/resend"
	"github.com/bytedance/giftcoupon/notify/smtp"
	"github.com/bytedance/giftcoupon/store/sheet"
	"github.com/bytedance/giftcoupon/store/sheet/gsheets"
	sqlstore "github.com/bytedance/giftcoupon/store/sql"
)

const eventBusCapacity = 100
const eventBusService = "giftcoupon"

type app struct {
	svc    *giftcoupon.Service
	router http.Handler

	db      *gorm.DB
	redis   *goredis.Client
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp 按配置组装存储、锁、事件总线与通知
// 存储或通知缺少配置时仍然启动，请求时返回配置错误
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}
	ctx, cancel := context.WithCancel(ctx)
	a.closers = append(a.closers, cancel)

	store, err := a.newStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	locker, err := a.newLock(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := []giftcoupon.Option{
		giftcoupon.WithLogger(logger.WithName("service")),
		giftcoupon.WithRedeemer(cfg.Redeemer),
		giftcoupon.WithSeedToken(cfg.SeedToken),
		giftcoupon.WithStoreTimeout(cfg.StoreTimeout),
	}
	busOpts, err := a.newEventBus(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	opts = append(opts, busOpts...)
	a.svc = giftcoupon.NewService(locker, store, opts...)

	m := metrics.New()
	a.svc.RegisterEventHandler(giftcoupon.EventCouponRedeemed, giftcoupon.NotifyOnRedeem(
		m.InstrumentNotifier(newNotifier(cfg)),
		cfg.NotifyTo,
		giftcoupon.WithNotifyTimeout(cfg.NotifyTimeout),
		giftcoupon.WithNotifyLogger(logger.WithName("notify")),
	))

	h := handler.NewCouponHandler(a.svc, giftcoupon.NewUnlockGate(cfg.BirthdayDDMMYYYY), m, logger.WithName("http"))
	a.router = handler.NewRouter(h)
	return a, nil
}

func (a *app) newStore(ctx context.Context, cfg *config.Config) (giftcoupon.ICouponStore, error) {
	switch cfg.StoreBackend {
	case "sheets", "":
		table, err := gsheets.New(ctx, gsheets.Credentials{
			SpreadsheetID: cfg.GoogleSheetsID,
			ClientEmail:   cfg.GoogleClientEmail,
			PrivateKey:    cfg.GooglePrivateKey,
		})
		if err != nil {
			if errors.Is(err, giftcoupon.ErrConfiguration) {
				logger.Error(err, "google sheets not configured, coupon requests will fail")
				return nil, nil
			}
			return nil, err
		}
		return sheet.NewStore(table, sheet.WithLogger(logger.WithName("sheet"))), nil
	case "sql":
		db, err := a.openDB(cfg)
		if err != nil {
			return nil, err
		}
		if err := sqlstore.AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("migrate coupons: %w", err)
		}
		return sqlstore.NewStore(db), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func (a *app) newLock(cfg *config.Config) (giftcoupon.ILock, error) {
	switch cfg.LockBackend {
	case "mem", "":
		return memlock.NewLock(), nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("%w: REDIS_ADDR is required for redis lock", giftcoupon.ErrConfiguration)
		}
		a.redis = goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		a.closers = append(a.closers, func() { _ = a.redis.Close() })
		return redislock.NewRedisLock(a.redis, cfg.LockTTL), nil
	case "db":
		db, err := a.openDB(cfg)
		if err != nil {
			return nil, err
		}
		if err := dblock.AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("migrate resource lock: %w", err)
		}
		return dblock.NewDBLock(db, cfg.LockTTL, dblock.WithLogger(logger.WithName("lock"))), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.LockBackend)
	}
}

func (a *app) newEventBus(ctx context.Context, cfg *config.Config) ([]giftcoupon.Option, error) {
	switch cfg.EventBusBackend {
	case "mem", "":
		bus := membus.NewEventBus(eventBusCapacity, logger.WithName("eventbus"))
		bus.Start(ctx)
		return []giftcoupon.Option{giftcoupon.WithEventBus(bus)}, nil
	case "sql":
		db, err := a.openDB(cfg)
		if err != nil {
			return nil, err
		}
		if err := sqlbus.AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("migrate eventbus: %w", err)
		}
		bus := sqlbus.NewEventBus(eventBusService, db, sqlbus.WithLogger(logger.WithName("eventbus")))
		bus.Start(ctx)
		return bus.Options(), nil
	default:
		return nil, fmt.Errorf("unknown eventbus backend %q", cfg.EventBusBackend)
	}
}

// openDB 多个组件共用同一个连接池
func (a *app) openDB(cfg *config.Config) (*gorm.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("%w: DB_DSN is required", giftcoupon.ErrConfiguration)
	}
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "mysql", "":
		dialector = mysql.Open(cfg.DBDSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DBDSN)
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.DBDriver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db, nil
}

// newNotifier 缺少配置时返回 nil，兑换照常进行，只记录通知失败
func newNotifier(cfg *config.Config) giftcoupon.INotifier {
	var (
		n   giftcoupon.INotifier
		err error
	)
	switch cfg.NotifyProvider {
	case "resend", "":
		n, err = resend.NewNotifier(cfg.ResendAPIKey, resend.WithFrom(cfg.NotifyFrom))
	case "smtp":
		n, err = smtp.NewNotifier(smtp.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.NotifyFrom,
		})
	default:
		err = fmt.Errorf("%w: unknown notify provider %q", giftcoupon.ErrConfiguration, cfg.NotifyProvider)
	}
	if err != nil {
		logger.Error(err, "notifier not configured, redeem mails disabled")
		return nil
	}
	return n
}
