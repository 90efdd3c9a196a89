package ledger

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"lv-papertrade/internal/apperr"
	"lv-papertrade/internal/model"
	"lv-papertrade/internal/types"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

var _ Store = (*SQLiteStore)(nil)

const sqliteSchema = `
create table if not exists account (
    id            integer primary key check (id = 1),
    cash_balance  text not null,
    asset_balance text not null,
    updated_at    integer not null
);
create table if not exists trade_orders (
    id          integer primary key autoincrement,
    side        text not null check (side in ('buy', 'sell')),
    amount      text not null,
    open_price  text not null,
    status      text not null default 'open' check (status in ('open', 'closed')),
    created_at  integer not null,
    closed_at   integer,
    close_price text
);
create index if not exists trade_orders_created_at_idx on trade_orders (created_at, id);
`

// SQLiteStore keeps the ledger in a single SQLite file. The pool is pinned
// to one connection, so every transaction holds the database exclusively;
// it is meant for a single process.
type SQLiteStore struct {
	db  *sql.DB
	log logrus.FieldLogger
}

func OpenSQLite(ctx context.Context, dsn string, log logrus.FieldLogger) (*SQLiteStore, error) {
	if !strings.Contains(dsn, "_pragma=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "apply sqlite schema")
	}
	return &SQLiteStore{db: db, log: log.WithField("component", "ledger-sqlite")}, nil
}

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin ledger tx")
	}
	defer tx.Rollback()
	if err := fn(&sqliteTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit ledger tx")
	}
	return nil
}

func (s *SQLiteStore) GetAccount(ctx context.Context) (*model.Account, error) {
	acc, err := scanSQLiteAccount(s.db.QueryRowContext(ctx, "select cash_balance, asset_balance from account where id = ?", model.AccountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get account")
	}
	return &acc, nil
}

func (s *SQLiteStore) CreateAccount(ctx context.Context, cash, asset decimal.Decimal) (model.Account, error) {
	_, err := s.db.ExecContext(ctx, "insert into account (id, cash_balance, asset_balance, updated_at) values (?, ?, ?, ?) on conflict (id) do nothing",
		model.AccountID, cash.String(), asset.String(), time.Now().UTC().UnixNano())
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

func (s *SQLiteStore) UpdateAccountBalances(ctx context.Context, cashDelta, assetDelta decimal.Decimal) (model.Account, error) {
	return withTx(ctx, s, func(tx Tx) (model.Account, error) {
		return tx.UpdateAccountBalances(ctx, cashDelta, assetDelta)
	})
}

func (s *SQLiteStore) CreateOrder(ctx context.Context, side types.OrderSide, amount, price decimal.Decimal) (model.TradeOrder, error) {
	return withTx(ctx, s, func(tx Tx) (model.TradeOrder, error) {
		return tx.CreateOrder(ctx, side, amount, price)
	})
}

func (s *SQLiteStore) GetOrderByID(ctx context.Context, id int64) (*model.TradeOrder, error) {
	o, err := scanSQLiteOrder(s.db.QueryRowContext(ctx, "select "+orderColumns+" from trade_orders where id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get order %d", id)
	}
	return &o, nil
}

func (s *SQLiteStore) GetOpenOrderByID(ctx context.Context, id int64) (*model.TradeOrder, error) {
	return (&sqliteTx{q: s.db}).GetOpenOrderForUpdate(ctx, id)
}

func (s *SQLiteStore) CloseOrder(ctx context.Context, id int64, closePrice decimal.Decimal) (*model.TradeOrder, error) {
	return withTx(ctx, s, func(tx Tx) (*model.TradeOrder, error) {
		return tx.CloseOrder(ctx, id, closePrice)
	})
}

func (s *SQLiteStore) GetAllOrders(ctx context.Context) ([]model.TradeOrder, error) {
	rows, err := s.db.QueryContext(ctx, "select "+orderColumns+" from trade_orders order by created_at asc, id asc")
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	defer rows.Close()
	out := []model.TradeOrder{}
	for rows.Next() {
		o, err := scanSQLiteOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteTx struct {
	q sqlQuerier
}

func (t *sqliteTx) LockAccount(ctx context.Context) (model.Account, error) {
	acc, err := scanSQLiteAccount(t.q.QueryRowContext(ctx, "select cash_balance, asset_balance from account where id = ?", model.AccountID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, apperr.ErrAccountNotInitialized
	}
	if err != nil {
		return model.Account{}, errors.Wrap(err, "lock account")
	}
	return acc, nil
}

func (t *sqliteTx) UpdateAccountBalances(ctx context.Context, cashDelta, assetDelta decimal.Decimal) (model.Account, error) {
	current, err := t.LockAccount(ctx)
	if err != nil {
		return model.Account{}, err
	}
	next, err := applyDeltas(current, cashDelta, assetDelta)
	if err != nil {
		return current, err
	}
	_, err = t.q.ExecContext(ctx, "update account set cash_balance = ?, asset_balance = ?, updated_at = ? where id = ?",
		next.CashBalance.String(), next.AssetBalance.String(), time.Now().UTC().UnixNano(), model.AccountID)
	if err != nil {
		return current, errors.Wrap(err, "update account balances")
	}
	return next, nil
}

func (t *sqliteTx) CreateOrder(ctx context.Context, side types.OrderSide, amount, price decimal.Decimal) (model.TradeOrder, error) {
	now := time.Now().UTC()
	res, err := t.q.ExecContext(ctx, "insert into trade_orders (side, amount, open_price, status, created_at) values (?, ?, ?, ?, ?)",
		string(side), amount.String(), price.String(), string(types.OrderStatusOpen), now.UnixNano())
	if err != nil {
		return model.TradeOrder{}, errors.Wrap(err, "create order")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.TradeOrder{}, errors.Wrap(err, "create order")
	}
	return model.TradeOrder{
		ID:        id,
		Side:      side,
		Amount:    amount,
		OpenPrice: price,
		Status:    types.OrderStatusOpen,
		CreatedAt: time.Unix(0, now.UnixNano()).UTC(),
	}, nil
}

func (t *sqliteTx) GetOpenOrderForUpdate(ctx context.Context, id int64) (*model.TradeOrder, error) {
	o, err := scanSQLiteOrder(t.q.QueryRowContext(ctx, "select "+orderColumns+" from trade_orders where id = ? and status = 'open'", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get open order %d", id)
	}
	return &o, nil
}

func (t *sqliteTx) CloseOrder(ctx context.Context, id int64, closePrice decimal.Decimal) (*model.TradeOrder, error) {
	res, err := t.q.ExecContext(ctx, "update trade_orders set status = 'closed', closed_at = ?, close_price = ? where id = ? and status = 'open'",
		time.Now().UTC().UnixNano(), closePrice.String(), id)
	if err != nil {
		return nil, errors.Wrapf(err, "close order %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrapf(err, "close order %d", id)
	}
	if n == 0 {
		return nil, nil
	}
	o, err := scanSQLiteOrder(t.q.QueryRowContext(ctx, "select "+orderColumns+" from trade_orders where id = ?", id))
	if err != nil {
		return nil, errors.Wrapf(err, "reload order %d", id)
	}
	return &o, nil
}

type sqlRow interface {
	Scan(dest ...any) error
}

func scanSQLiteAccount(row sqlRow) (model.Account, error) {
	var acc model.Account
	err := row.Scan(&acc.CashBalance, &acc.AssetBalance)
	return acc, err
}

func scanSQLiteOrder(row sqlRow) (model.TradeOrder, error) {
	var o model.TradeOrder
	var side, status string
	var createdAt int64
	var closedAt sql.NullInt64
	var closePrice decimal.NullDecimal
	if err := row.Scan(&o.ID, &side, &o.Amount, &o.OpenPrice, &status, &createdAt, &closedAt, &closePrice); err != nil {
		return o, err
	}
	o.Side = types.OrderSide(side)
	o.Status = types.OrderStatus(status)
	if !o.Side.Valid() || !o.Status.Valid() {
		return o, errors.Errorf("order %d has side %q status %q", o.ID, side, status)
	}
	o.CreatedAt = time.Unix(0, createdAt).UTC()
	if closedAt.Valid {
		t := time.Unix(0, closedAt.Int64).UTC()
		o.ClosedAt = &t
	}
	if closePrice.Valid {
		p := closePrice.Decimal
		o.ClosePrice = &p
	}
	return o, nil
}
