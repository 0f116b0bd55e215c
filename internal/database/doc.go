// Copyright 2026 Scanner Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package database provides GORM-based connection pool management, with
health checks, stats collection and transaction retry. It backs
historystore/sql's execution-history sink.

# Overview

PoolManager wraps GORM's and database/sql's pool configuration, managing
connection lifetime, idle reclamation and the open-connection ceiling. A
background health check pings the connection on an interval and logs
failures through zap.

# Core types

  - PoolManager: holds the GORM DB instance and its underlying sql.DB,
    exposing DB(), Ping(), Stats(), Close().
  - PoolConfig: max idle/open connections, connection lifetime, idle
    timeout, health check interval.
  - PoolStats: a friendlier view of the pool's runtime stats.
  - TransactionFunc: the transaction callback type.

# Capabilities

  - Pool tuning via MaxIdleConns/MaxOpenConns/ConnMaxLifetime.
  - Background health checks via periodic PingContext.
  - WithTransaction for single-shot transactions, WithTransactionRetry
    for exponential-backoff retry on deadlocks and serialization failures.
  - GetStats for structured pool metrics.
*/
package database
