package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vladislavdragonenkov/bookstore/internal/domain"
)

// unitOfWork реализует транзакционную границу на *sql.Tx: репозитории,
// выданные через TxRepos, пишут в одну транзакцию, и либо все изменения
// (инвентарь, заказ, outbox, timeline) становятся видимыми разом, либо
// ни одно. Конфликты optimistic locking и нарушения уникальности
// транслируются в доменные ошибки для retry-логики сервисов.
type unitOfWork struct {
	store *Store
}

// NewUnitOfWork создаёт PostgreSQL unit of work.
func NewUnitOfWork(store *Store) domain.UnitOfWork {
	return &unitOfWork{store: store}
}

// WithinTx открывает транзакцию, выполняет fn и коммитит.
// Ошибка fn откатывает транзакцию целиком. Контекст транзакции ограничен
// txTimeout: исчерпанный пул или зависший сервер не блокируют вызов
// навсегда, а отдают повторяемую ошибку.
func (u *unitOfWork) WithinTx(ctx context.Context, fn func(tx domain.TxRepos) error) error {
	// database/sql держит транзакцию привязанной к этому контексту до
	// Commit/Rollback, поэтому cancel откладывается до конца вызова.
	txCtx, cancel := context.WithTimeout(ctx, txTimeout)
	defer cancel()

	sqlTx, err := u.store.DB().BeginTx(txCtx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", mapTxError(err))
	}

	repos := &txRepos{tx: sqlTx, ctx: ctx}
	if err := fn(repos); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", mapTxError(err))
	}

	return nil
}

// txRepos отдаёт репозитории, привязанные к открытой транзакции.
type txRepos struct {
	tx  *sql.Tx
	ctx context.Context
}

func (t *txRepos) Books() domain.BookRepository {
	return &bookRepository{q: t.tx, parent: t.ctx}
}

func (t *txRepos) Orders() domain.OrderRepository {
	return &orderRepository{q: t.tx, parent: t.ctx}
}

func (t *txRepos) Outbox() domain.OutboxRepository {
	return &outboxRepository{q: t.tx, parent: t.ctx}
}

func (t *txRepos) Timeline() domain.TimelineRepository {
	return &timelineRepository{q: t.tx, parent: t.ctx}
}

var (
	_ domain.UnitOfWork = (*unitOfWork)(nil)
	_ domain.TxRepos    = (*txRepos)(nil)
)
