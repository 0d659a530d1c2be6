package leaderboard

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD READER INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Reader определяет контракт чтения лидерборда из хранилища леджера.
// Реализация находится в infrastructure слое (memory, PostgreSQL, SQLite).
// Ответы всегда отражают все закоммиченные записи.
type Reader interface {
	// Top возвращает первые limit записей полного упорядочения.
	Top(ctx context.Context, limit int) ([]Entry, error)

	// RankOf возвращает позицию пользователя. Пользователь без записей
	// считается имеющим 0 очков и тоже получает позицию.
	RankOf(ctx context.Context, userID string) (Rank, error)

	// Count возвращает количество пользователей с агрегатом.
	Count(ctx context.Context) (int, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD CACHE INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Cache определяет контракт кеширования топа.
//
// Страницы хранятся под номером версии. Читатель сначала берёт Version, затем
// читает или пишет страницу под этой версией; каждая закоммиченная запись в
// леджер вызывает Invalidate, который увеличивает версию. Поэтому топ,
// посчитанный до записи, никогда не отдаётся после неё.
type Cache interface {
	// Version возвращает текущую версию. Ошибка означает, что кеш сейчас
	// использовать нельзя и читать нужно из хранилища.
	Version(ctx context.Context) (int64, error)

	// GetTop возвращает топ для версии. ok == false, если кеша нет.
	GetTop(ctx context.Context, version int64, limit int) (entries []Entry, ok bool, err error)

	// SetTop сохраняет топ под версией, прочитанной до его вычисления.
	SetTop(ctx context.Context, version int64, limit int, entries []Entry) error

	// Invalidate делает все закешированные топы устаревшими.
	Invalidate(ctx context.Context) error
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERY LIMITS
// ══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultLimit - размер топа по умолчанию.
	DefaultLimit = 10
	// MaxLimit - максимальный размер топа за один запрос.
	MaxLimit = 100
)

// NormalizeLimit приводит limit к допустимому диапазону.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
