package tx

import "strings"

// IsDeadlock 判断驱动报告的错误是否属于死锁/序列化冲突类,
// 这类错误通过重试即可恢复
func IsDeadlock(err error) bool {
	if err == nil {
		return false
	}

	errMsg := strings.ToLower(err.Error())

	// 死锁
	if strings.Contains(errMsg, "deadlock") {
		return true
	}

	// 序列化失败（PostgreSQL SQLSTATE 40001 / 40P01）
	if strings.Contains(errMsg, "serialization failure") ||
		strings.Contains(errMsg, "40001") ||
		strings.Contains(errMsg, "40p01") {
		return true
	}

	// 锁等待超时（MySQL）
	if strings.Contains(errMsg, "lock wait timeout") {
		return true
	}

	// SQLite 写竞争
	if strings.Contains(errMsg, "database is locked") {
		return true
	}

	return false
}
