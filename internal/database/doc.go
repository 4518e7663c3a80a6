// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package database provides GORM-based database connection pool
management, with health checks, statistics collection, and transaction
retry.

# Core types

  - PoolManager — the connection pool manager; holds the GORM DB
    instance and the underlying sql.DB, exposing DB(), Ping(), Stats(),
    and Close()
  - PoolConfig  — pool configuration: idle/open connection limits,
    connection lifetime/idle timeout, and health-check interval
  - PoolStats   — a JSON-friendly view of pool statistics
  - TransactionFunc — the transaction callback signature

# Capabilities

  - Pool tuning via MaxIdleConns/MaxOpenConns/ConnMaxLifetime
  - Background health checks via periodic PingContext, logging open and
    idle connection counts
  - Transaction management: WithTransaction runs a single transaction,
    WithTransactionRetry adds exponential backoff for transient errors
    (deadlock, serialization failure, connection reset)
  - GetStats returns a structured pool-statistics snapshot
*/
package database
