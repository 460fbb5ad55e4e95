// Copyright (c) DBFlow Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖连接池、
事务与审计三大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
工厂配合显式 Registerer，允许测试为每个连接池创建独立 Registry。
所有指标按 namespace 隔离。

# 主要能力

  - 连接池指标：使用中/空闲连接数与等待方数量 Gauge、
    获取结果计数（hit/wait/timeout/cancelled/closed）、等待耗时 Histogram。
  - 事务指标：事务结果计数（committed/retried/exhausted/domain/failed）、
    提交所用尝试次数 Histogram。
  - 审计指标：审计记录写入计数（按 action 分组）、被吞掉的写入失败计数。
*/
package metrics
