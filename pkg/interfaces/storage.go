package interfaces

import (
	"context"
)

// StoragePort определяет транзакционный контракт постоянного хранилища.
// Конкретные репозитории встраивают его и добавляют доменные методы.
type StoragePort interface {
	// BeginTx начинает новую транзакцию и возвращает контекст с ней
	BeginTx(ctx context.Context) (context.Context, error)

	// CommitTx фиксирует транзакцию
	CommitTx(ctx context.Context) error

	// RollbackTx откатывает транзакцию
	RollbackTx(ctx context.Context) error

	// Close закрывает соединение с хранилищем
	Close() error
}
