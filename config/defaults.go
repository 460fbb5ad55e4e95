// =============================================================================
// 📦 DBFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Database: DefaultDatabaseConfig(),
		Pool:     DefaultPoolConfig(),
		Tx:       DefaultTxConfig(),
		Audit:    DefaultAuditConfig(),
		Log:      DefaultLogConfig(),
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:  "sqlite",
		Host:    "localhost",
		Port:    5432,
		User:    "dbflow",
		Name:    "dbflow.db",
		SSLMode: "disable",
	}
}

// DefaultPoolConfig 返回默认连接池配置
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Capacity:       5,
		AcquireTimeout: 30 * time.Second,
	}
}

// DefaultTxConfig 返回默认事务配置
func DefaultTxConfig() TxConfig {
	return TxConfig{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
	}
}

// DefaultAuditConfig 返回默认审计配置
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		RetentionDays: 365,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}
