// Copyright (c) DBFlow Authors.
// Licensed under the MIT License.

/*
包 migration 提供基于 golang-migrate 的数据库迁移能力，
迁移文件按方言（postgres/mysql/sqlite）通过 go:embed 内嵌。

# 概述

DefaultMigrator 封装 migrate 实例的创建：打开数据库连接、按方言
选择 database driver 与内嵌迁移源，提供 Up/Down/DownAll/Version/
Status 等操作。固定 DDL 在启动时应用一次（version 1 建立
prospects、interactions、accounts 与 audit_log 四张表）。
*/
package migration
