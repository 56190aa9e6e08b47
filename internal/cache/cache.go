// Package cache реализует эфемерный кеш "ключ -> значение" с временем жизни
// каждой записи. Кеш никогда не является источником истины: отсутствие,
// истечение и повреждение записи одинаково означают промах.
package cache

import (
	"strings"
	"time"
)

// DefaultTTL время жизни записи, если при записи оно не задано.
const DefaultTTL = 5 * time.Minute

// DefaultSweepInterval период фоновой очистки устаревших записей.
const DefaultSweepInterval = 5 * time.Minute

// UserPrefix возвращает общий префикс ключей пользователя.
func UserPrefix(userID string) string {
	return "user_" + userID + "_"
}

// UserKey строит ключ вида user_<id>_<purpose>.
func UserKey(userID string, purpose ...string) string {
	return UserPrefix(userID) + strings.Join(purpose, "_")
}

func ttlOrDefault(ttl, def time.Duration) time.Duration {
	if ttl <= 0 {
		if def <= 0 {
			return DefaultTTL
		}
		return def
	}
	return ttl
}
