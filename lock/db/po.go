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

package db

import (
	"time"
)

// ResourceLock 一行代表一个被持有的 key，过期的行可以被其他 locker 接管
/*
CREATE TABLE `coupon_resource_lock` (
	`id` bigint unsigned NOT NULL AUTO_INCREMENT,
	`resource` varchar(255) NOT NULL,
	`locker_id` varchar(64) NOT NULL,
	`created_at` datetime(3) DEFAULT NULL,
	`updated_at` datetime(3) DEFAULT NULL,
	PRIMARY KEY (`id`),
	UNIQUE KEY `idx_coupon_resource_lock_resource` (`resource`),
	KEY `idx_locker_id` (`locker_id`)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
*/
type ResourceLock struct {
	ID       uint   `gorm:"primarykey;AUTO_INCREMENT"`
	Resource string `gorm:"type:varchar(255);uniqueIndex"`
	// 解锁时必须匹配 locker_id，防止持有者超时后误删他人接管的锁
	LockerID  string `gorm:"type:varchar(64);index:idx_locker_id"`
	CreatedAt time.Time
	UpdatedAt time.Time // 最近一次加锁或续期的时间
}

func (ResourceLock) TableName() string {
	return "coupon_resource_lock"
}
