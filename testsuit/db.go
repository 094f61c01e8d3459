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

package testsuit

import (
	"fmt"
	"os"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type DBOption struct {
	Debug bool
}

// InitDB 启动测试数据库，默认使用以 name 区分的 sqlite 内存库
// TEST_DB=mysql 时连接 docker-compose 中的 mysql，LOCAL_TEST=true 时连接本机映射端口
func InitDB(name string, opts ...DBOption) *gorm.DB {
	var opt DBOption
	if len(opts) > 0 {
		opt = opts[0]
	}
	if os.Getenv("TEST_DB") == "mysql" {
		return InitMysql(opt)
	}

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		panic(err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		panic(err)
	}
	// sqlite 单写者，测试中的并发写统一排队
	sqlDB.SetMaxOpenConns(1)
	if opt.Debug {
		return db.Debug()
	}
	return db
}

// InitMysql 前提: 在根目录执行 docker-compose up 命令
func InitMysql(opts ...DBOption) *gorm.DB {
	dsn := "root:@tcp(mysql:3306)/my_db?parseTime=true&loc=Local"
	if os.Getenv("LOCAL_TEST") == "true" {
		dsn = "root:@tcp(localhost:3308)/my_db?parseTime=true&loc=Local"
	}
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		panic(err)
	}
	if len(opts) > 0 && opts[0].Debug {
		return db.Debug()
	}
	return db
}
