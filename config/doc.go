// Copyright (c) DBFlow Authors.
// Licensed under the MIT License.

/*
包 config 提供 DBFlow 的统一配置加载，支持 YAML 文件与环境变量覆盖。

# 概述

Loader 以 Builder 模式构建，配置优先级为 默认值 → YAML 文件 → 环境变量。
环境变量通过反射按 env tag 递归映射，前缀默认为 DBFLOW。

# 配置项

  - Database：驱动类型（postgres/mysql/sqlite）、连接参数与 DSN 构造。
  - Pool：连接池容量（默认 5）与获取超时（默认 30s）。
  - Tx：事务最大尝试次数（默认 3）与重试基础延迟（默认 100ms）。
  - Audit：审计记录保留天数。
  - Log：zap 日志级别、格式与输出路径。
*/
package config
