// Copyright (c) DBFlow Authors.
// Licensed under the MIT License.

/*
包 tx 提供事务执行器，将调用方提供的多语句工作单元包装为
BEGIN/COMMIT/ROLLBACK，死锁时自动线性退避重试。

# 概述

Executor 每次尝试都从连接池 Acquire 一条连接，执行 BEGIN，调用
工作单元，成功则 COMMIT 并返回结果，失败则 ROLLBACK 后分类处理：

  - 死锁类错误（IsDeadlock）：等待 BaseDelay*attempt 后重试，
    次数耗尽返回 ErrRetriesExhausted 并包裹最后一次死锁原因。
  - 领域错误（DomainError）：业务校验失败，立即透传，不重试。
  - 其他错误：包装为通用事务失败，不重试。

回滚自身的失败只记录日志，绝不覆盖主错误。每次失败尝试使用的连接
都会在下一次尝试 Acquire 之前归还连接池。

# 悲观行锁

RunWithLock 先锁定指定行再调用工作单元：PostgreSQL/MySQL 下使用
SELECT ... FOR UPDATE，SQLite 下由 BEGIN IMMEDIATE 直接取得写锁。
整个调用自动包裹在事务中，锁在提交或回滚时释放。
行不存在时返回 ErrRecordNotFound，工作单元不会被调用。
*/
package tx
