package ledger

import (
	"context"
	"time"

	"lv-papertrade/internal/apperr"
	"lv-papertrade/internal/model"
	"lv-papertrade/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var _ Store = (*PostgresStore)(nil)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const orderColumns = "id, side, amount, open_price, status, created_at, closed_at, close_price"

type PostgresStore struct {
	pool *pgxpool.Pool
	log  logrus.FieldLogger
}

func NewPostgresStore(pool *pgxpool.Pool, log logrus.FieldLogger) *PostgresStore {
	return &PostgresStore{pool: pool, log: log.WithField("component", "ledger-postgres")}
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return errors.Wrap(err, "begin ledger tx")
	}
	defer tx.Rollback(ctx)
	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit ledger tx")
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context) (*model.Account, error) {
	acc, err := scanAccount(s.pool.QueryRow(ctx, "select cash_balance, asset_balance from account where id = $1", model.AccountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get account")
	}
	return &acc, nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, cash, asset decimal.Decimal) (model.Account, error) {
	_, err := s.pool.Exec(ctx, "insert into account (id, cash_balance, asset_balance, updated_at) values ($1, $2, $3, $4) on conflict (id) do nothing", model.AccountID, cash, asset, time.Now().UTC())
	if err != nil {
		return model.Account{}, errors.Wrap(err, "create account")
	}
	acc, err := s.GetAccount(ctx)
	if err != nil {
		return model.Account{}, err
	}
	if acc == nil {
		return model.Account{}, apperr.ErrAccountNotInitialized
	}
	return *acc, nil
}

func (s *PostgresStore) UpdateAccountBalances(ctx context.Context, cashDelta, assetDelta decimal.Decimal) (model.Account, error) {
	return withTx(ctx, s, func(tx Tx) (model.Account, error) {
		return tx.UpdateAccountBalances(ctx, cashDelta, assetDelta)
	})
}

func (s *PostgresStore) CreateOrder(ctx context.Context, side types.OrderSide, amount, price decimal.Decimal) (model.TradeOrder, error) {
	return (&pgTx{q: s.pool}).CreateOrder(ctx, side, amount, price)
}

func (s *PostgresStore) GetOrderByID(ctx context.Context, id int64) (*model.TradeOrder, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, "select "+orderColumns+" from trade_orders where id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get order %d", id)
	}
	return &o, nil
}

func (s *PostgresStore) GetOpenOrderByID(ctx context.Context, id int64) (*model.TradeOrder, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, "select "+orderColumns+" from trade_orders where id = $1 and status = 'open'", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get open order %d", id)
	}
	return &o, nil
}

func (s *PostgresStore) CloseOrder(ctx context.Context, id int64, closePrice decimal.Decimal) (*model.TradeOrder, error) {
	return (&pgTx{q: s.pool}).CloseOrder(ctx, id, closePrice)
}

func (s *PostgresStore) GetAllOrders(ctx context.Context) ([]model.TradeOrder, error) {
	rows, err := s.pool.Query(ctx, "select "+orderColumns+" from trade_orders order by created_at asc, id asc")
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	defer rows.Close()
	out := []model.TradeOrder{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type pgTx struct {
	q querier
}

func (t *pgTx) LockAccount(ctx context.Context) (model.Account, error) {
	acc, err := scanAccount(t.q.QueryRow(ctx, "select cash_balance, asset_balance from account where id = $1 for update", model.AccountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, apperr.ErrAccountNotInitialized
	}
	if err != nil {
		return model.Account{}, errors.Wrap(err, "lock account")
	}
	return acc, nil
}

// UpdateAccountBalances is a conditional update: the row only changes when
// both resulting balances stay non-negative.
func (t *pgTx) UpdateAccountBalances(ctx context.Context, cashDelta, assetDelta decimal.Decimal) (model.Account, error) {
	acc, err := scanAccount(t.q.QueryRow(ctx, `
		update account
		set cash_balance = cash_balance + $1, asset_balance = asset_balance + $2, updated_at = $3
		where id = $4 and cash_balance + $1 >= 0 and asset_balance + $2 >= 0
		returning cash_balance, asset_balance`,
		cashDelta, assetDelta, time.Now().UTC(), model.AccountID))
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, errors.Wrap(err, "update account balances")
	}
	current, lockErr := t.LockAccount(ctx)
	if lockErr != nil {
		return model.Account{}, lockErr
	}
	_, guardErr := applyDeltas(current, cashDelta, assetDelta)
	if guardErr == nil {
		guardErr = apperr.ErrInsufficientFunds
	}
	return current, guardErr
}

func (t *pgTx) CreateOrder(ctx context.Context, side types.OrderSide, amount, price decimal.Decimal) (model.TradeOrder, error) {
	o, err := scanOrder(t.q.QueryRow(ctx, "insert into trade_orders (side, amount, open_price, status, created_at) values ($1, $2, $3, $4, $5) returning "+orderColumns,
		string(side), amount, price, string(types.OrderStatusOpen), time.Now().UTC()))
	if err != nil {
		return model.TradeOrder{}, errors.Wrap(err, "create order")
	}
	return o, nil
}

func (t *pgTx) GetOpenOrderForUpdate(ctx context.Context, id int64) (*model.TradeOrder, error) {
	o, err := scanOrder(t.q.QueryRow(ctx, "select "+orderColumns+" from trade_orders where id = $1 and status = 'open' for update", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "lock order %d", id)
	}
	return &o, nil
}

func (t *pgTx) CloseOrder(ctx context.Context, id int64, closePrice decimal.Decimal) (*model.TradeOrder, error) {
	o, err := scanOrder(t.q.QueryRow(ctx, "update trade_orders set status = 'closed', closed_at = $1, close_price = $2 where id = $3 and status = 'open' returning "+orderColumns,
		time.Now().UTC(), closePrice, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "close order %d", id)
	}
	return &o, nil
}

func scanAccount(row pgx.Row) (model.Account, error) {
	var acc model.Account
	err := row.Scan(&acc.CashBalance, &acc.AssetBalance)
	return acc, err
}

func scanOrder(row pgx.Row) (model.TradeOrder, error) {
	var o model.TradeOrder
	var side, status string
	var closedAt *time.Time
	var closePrice *decimal.Decimal
	if err := row.Scan(&o.ID, &side, &o.Amount, &o.OpenPrice, &status, &o.CreatedAt, &closedAt, &closePrice); err != nil {
		return o, err
	}
	o.Side = types.OrderSide(side)
	o.Status = types.OrderStatus(status)
	if !o.Side.Valid() || !o.Status.Valid() {
		return o, errors.Errorf("order %d has side %q status %q", o.ID, side, status)
	}
	o.CreatedAt = o.CreatedAt.UTC()
	if closedAt != nil {
		t := closedAt.UTC()
		o.ClosedAt = &t
	}
	o.ClosePrice = closePrice
	return o, nil
}
