// Copyright (c) DBFlow Authors.
// Licensed under the MIT License.

/*
包 pool 提供固定容量的数据库连接池，支持 FIFO 公平排队与获取超时。

# 概述

Pool 持有固定数量的物理数据库会话，通过 Acquire/Release 在并发调用方
之间复用。空闲连接列表与等待队列由单一互斥锁保护，保证并发 Acquire
不会取得同一连接，Release 恰好唤醒一个等待方。

# 核心类型

  - Pool：连接池本体，Initialize 打开连接，CloseAll 关闭并重置。
  - Conn：单个数据库会话的独占句柄，状态为 Free/InUse/Closed。
  - Factory：连接工厂，由调用方注入（依赖注入，无全局单例）。
  - Health：连接池状态快照。

# 公平性与超时

等待方严格按 FIFO 顺序被服务：Release 时若有等待方排队，连接直接
交给最早的等待方，不经过空闲列表。AcquireTimeout 超时后，等待方在
同一互斥锁下从队列中移除；与 Release 竞争时连接交给下一个等待方或
回到空闲列表，绝不泄漏。
*/
package pool
