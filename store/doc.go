// Copyright (c) DBFlow Authors.
// Licensed under the MIT License.

/*
包 store 提供面向业务的数据访问：潜在客户（prospect）、
互动记录（interaction）与账户（account）的 CRUD 操作。

# 概述

所有写操作都通过事务执行器（tx.Executor）完成，并在同一连接上
写入审计记录，保证业务变更与审计条目一起提交或回滚：

	st := store.New(pool, exec, auditLog, logger)
	err := st.CreateProspect(ctx, &store.Prospect{Name: "Acme"}, "usr-1", "api")

更新与软删除通过 RunWithLock 先锁定行再修改，审计记录包含
逐字段的变更描述。余额转账按 id 升序锁行，避免交叉死锁。
*/
package store
