package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"plays-ai/internal/order"
	"plays-ai/internal/play"
	"plays-ai/internal/store"
	"plays-ai/internal/watch"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id              TEXT PRIMARY KEY,
	symbol          TEXT NOT NULL,
	side            TEXT NOT NULL,
	quantity        REAL NOT NULL,
	status          TEXT NOT NULL,
	confidence      REAL NOT NULL,
	reference_price REAL NOT NULL,
	realized_pnl    REAL,
	close_reason    TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL,
	filled_at       TEXT NOT NULL DEFAULT '',
	closed_at       TEXT NOT NULL DEFAULT '',
	payload         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (status);

CREATE TABLE IF NOT EXISTS interventions (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id  TEXT NOT NULL,
	kind      TEXT NOT NULL,
	action    TEXT NOT NULL,
	reason    TEXT NOT NULL,
	price     REAL NOT NULL,
	timestamp TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_interventions_order ON interventions (order_id);

CREATE TABLE IF NOT EXISTS adaptations (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id        TEXT NOT NULL,
	kind            TEXT NOT NULL,
	action          TEXT NOT NULL,
	reason          TEXT NOT NULL,
	price           REAL NOT NULL,
	quantity_before REAL NOT NULL,
	quantity_after  REAL NOT NULL,
	timestamp       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_adaptations_order ON adaptations (order_id);

CREATE TABLE IF NOT EXISTS performance_samples (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id          TEXT NOT NULL,
	price             REAL NOT NULL,
	unrealized_return REAL NOT NULL,
	peak_profit       REAL NOT NULL,
	max_drawdown      REAL NOT NULL,
	timestamp         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_samples_order ON performance_samples (order_id);
`

// activeStatuses 是参与监控调度的非终态集合。
var activeStatuses = []order.Status{
	order.StatusPendingApproval,
	order.StatusApproved,
	order.StatusSubmitted,
	order.StatusFilled,
	order.StatusIntervened,
}

// Ledger 是订单与干预流水的持久化账本。
// 流水表只追加；订单状态写入与对应流水写入在同一事务内完成。
type Ledger struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewLedger 初始化账本并建表。
func NewLedger(st *store.Store, logger *zap.Logger) (*Ledger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if _, err := st.DB().Exec(schema); err != nil {
		return nil, fmt.Errorf("初始化账本表结构失败: %w", err)
	}

	return &Ledger{db: st.DB(), logger: logger}, nil
}

// SaveOrder 写入或覆盖订单快照。
func (l *Ledger) SaveOrder(ctx context.Context, o *order.Order) error {
	return l.upsertOrder(ctx, l.db, o)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (l *Ledger) upsertOrder(ctx context.Context, db execer, o *order.Order) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("序列化订单失败: %w", err)
	}

	var pnl sql.NullFloat64
	if o.RealizedPnL != nil {
		pnl = sql.NullFloat64{Float64: *o.RealizedPnL, Valid: true}
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO orders (
			id, symbol, side, quantity, status, confidence, reference_price,
			realized_pnl, close_reason, created_at, updated_at, filled_at, closed_at, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			quantity = excluded.quantity,
			status = excluded.status,
			confidence = excluded.confidence,
			realized_pnl = excluded.realized_pnl,
			close_reason = excluded.close_reason,
			updated_at = excluded.updated_at,
			filled_at = excluded.filled_at,
			closed_at = excluded.closed_at,
			payload = excluded.payload`,
		o.ID, o.Symbol, string(o.Side), o.Quantity, string(o.Status), o.Confidence, o.ReferencePrice,
		pnl, o.CloseReason, formatTime(o.CreatedAt), formatTime(o.UpdatedAt),
		formatTime(o.FilledAt), formatTime(o.ClosedAt), string(payload),
	)
	if err != nil {
		return fmt.Errorf("写入订单失败: %w", err)
	}
	return nil
}

// GetOrder 按ID读取订单，不存在时返回 ErrOrderNotFound。
func (l *Ledger) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	var payload string
	err := l.db.QueryRowContext(ctx, `SELECT payload FROM orders WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("读取订单失败: %w", err)
	}

	var o order.Order
	if err := json.Unmarshal([]byte(payload), &o); err != nil {
		return nil, fmt.Errorf("反序列化订单失败: %w", err)
	}
	return &o, nil
}

// ActiveOrders 返回所有非终态且已通过分析的订单，按创建时间排序。
func (l *Ledger) ActiveOrders(ctx context.Context) ([]*order.Order, error) {
	query := `SELECT payload FROM orders WHERE status IN (?, ?, ?, ?, ?) ORDER BY created_at`
	args := make([]any, 0, len(activeStatuses))
	for _, s := range activeStatuses {
		args = append(args, string(s))
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询活跃订单失败: %w", err)
	}
	defer rows.Close()

	var orders []*order.Order
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("扫描订单行失败: %w", err)
		}
		var o order.Order
		if err := json.Unmarshal([]byte(payload), &o); err != nil {
			return nil, fmt.Errorf("反序列化订单失败: %w", err)
		}
		orders = append(orders, &o)
	}
	return orders, rows.Err()
}

// ApplyIntervention 在单个事务内追加干预流水并落盘订单最新状态。
// 两者要么同时成功，要么同时失败，不存在只有流水没有状态的中间态。
func (l *Ledger) ApplyIntervention(ctx context.Context, o *order.Order, d watch.Decision) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO interventions (order_id, kind, action, reason, price, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		o.ID, string(d.Kind), string(d.Action), d.Reason, d.Price, formatTime(d.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("写入干预流水失败: %w", err)
	}

	if err := l.upsertOrder(ctx, tx, o); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交干预事务失败: %w", err)
	}

	l.logger.Info("干预已入账",
		zap.String("order_id", o.ID),
		zap.String("kind", string(d.Kind)),
		zap.String("action", string(d.Action)),
		zap.String("status", string(o.Status)),
	)
	return nil
}

// ApplyAdaptation 在单个事务内追加调整流水并落盘订单。
func (l *Ledger) ApplyAdaptation(ctx context.Context, o *order.Order, d watch.Decision, quantityBefore float64) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO adaptations (order_id, kind, action, reason, price, quantity_before, quantity_after, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, string(d.Kind), string(d.Action), d.Reason, d.Price, quantityBefore, o.Quantity, formatTime(d.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("写入调整流水失败: %w", err)
	}

	if err := l.upsertOrder(ctx, tx, o); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交调整事务失败: %w", err)
	}

	l.logger.Info("仓位调整已入账",
		zap.String("order_id", o.ID),
		zap.String("kind", string(d.Kind)),
		zap.Float64("quantity_before", quantityBefore),
		zap.Float64("quantity_after", o.Quantity),
	)
	return nil
}

// AppendSample 追加一条表现采样并同步订单峰值回撤字段。
func (l *Ledger) AppendSample(ctx context.Context, o *order.Order, price float64, ts time.Time) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO performance_samples (order_id, price, unrealized_return, peak_profit, max_drawdown, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		o.ID, price, o.UnrealizedReturn(price), o.PeakProfit, o.MaxDrawdown, formatTime(ts),
	)
	if err != nil {
		return fmt.Errorf("写入表现采样失败: %w", err)
	}

	if err := l.upsertOrder(ctx, tx, o); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交采样事务失败: %w", err)
	}
	return nil
}

// OrderHistory 返回订单的全部流水，按时间升序。
func (l *Ledger) OrderHistory(ctx context.Context, orderID string) (History, error) {
	var h History

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, order_id, kind, action, reason, price, timestamp
		FROM interventions WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return h, fmt.Errorf("查询干预流水失败: %w", err)
	}
	for rows.Next() {
		var rec InterventionRecord
		var ts string
		if err := rows.Scan(&rec.ID, &rec.OrderID, &rec.Kind, &rec.Action, &rec.Reason, &rec.Price, &ts); err != nil {
			rows.Close()
			return h, fmt.Errorf("扫描干预流水失败: %w", err)
		}
		rec.Timestamp = parseTime(ts)
		h.Interventions = append(h.Interventions, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return h, err
	}

	rows, err = l.db.QueryContext(ctx, `
		SELECT id, order_id, kind, action, reason, price, quantity_before, quantity_after, timestamp
		FROM adaptations WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return h, fmt.Errorf("查询调整流水失败: %w", err)
	}
	for rows.Next() {
		var rec AdaptationRecord
		var ts string
		if err := rows.Scan(&rec.ID, &rec.OrderID, &rec.Kind, &rec.Action, &rec.Reason, &rec.Price,
			&rec.QuantityBefore, &rec.QuantityAfter, &ts); err != nil {
			rows.Close()
			return h, fmt.Errorf("扫描调整流水失败: %w", err)
		}
		rec.Timestamp = parseTime(ts)
		h.Adaptations = append(h.Adaptations, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return h, err
	}

	rows, err = l.db.QueryContext(ctx, `
		SELECT id, order_id, price, unrealized_return, peak_profit, max_drawdown, timestamp
		FROM performance_samples WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return h, fmt.Errorf("查询表现采样失败: %w", err)
	}
	for rows.Next() {
		var rec PerformanceSample
		var ts string
		if err := rows.Scan(&rec.ID, &rec.OrderID, &rec.Price, &rec.UnrealizedReturn,
			&rec.PeakProfit, &rec.MaxDrawdown, &ts); err != nil {
			rows.Close()
			return h, fmt.Errorf("扫描表现采样失败: %w", err)
		}
		rec.Timestamp = parseTime(ts)
		h.Samples = append(h.Samples, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return h, err
	}

	return h, nil
}

// Statistics 从账本计算汇总统计。成功率 = 盈利关闭单 / 全部关闭单。
func (l *Ledger) Statistics(ctx context.Context) (Statistics, error) {
	var stats Statistics

	err := l.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status IN ('pending_approval','approved','submitted','filled','intervened') THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'closed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'rejected' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'closed' AND realized_pnl > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'closed' THEN realized_pnl ELSE 0 END), 0)
		FROM orders`).Scan(
		&stats.TotalOrders,
		&stats.ActiveOrders,
		&stats.ClosedOrders,
		&stats.RejectedOrders,
		&stats.ProfitableOrders,
		&stats.TotalPnL,
	)
	if err != nil {
		return stats, fmt.Errorf("计算账本统计失败: %w", err)
	}

	if stats.ClosedOrders > 0 {
		stats.SuccessRate = float64(stats.ProfitableOrders) / float64(stats.ClosedOrders)
		stats.AveragePnL = stats.TotalPnL / float64(stats.ClosedOrders)
	}

	var totalHolding float64
	err = l.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(strftime('%s', closed_at) - strftime('%s', filled_at)), 0)
		FROM orders
		WHERE status = 'closed' AND filled_at != '' AND closed_at != ''`).Scan(&totalHolding)
	if err != nil {
		return stats, fmt.Errorf("计算持仓时长失败: %w", err)
	}
	if stats.ClosedOrders > 0 && totalHolding > 0 {
		stats.AverageHolding = time.Duration(totalHolding/float64(stats.ClosedOrders)) * time.Second
	}

	return stats, nil
}

// Reconcile 启动时对账：已有离场干预流水但状态未落定的订单，补完状态迁移。
// 覆盖"流水已提交、状态写入前进程崩溃"以外的历史残留场景。
func (l *Ledger) Reconcile(ctx context.Context, m *order.Machine) (int, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT DISTINCT i.order_id, i.price, i.reason
		FROM interventions i
		JOIN orders o ON o.id = i.order_id
		WHERE i.action = ? AND o.status NOT IN (?, ?)`,
		string(watch.ActionExitPosition), string(order.StatusClosed), string(order.StatusRejected))
	if err != nil {
		return 0, fmt.Errorf("查询待对账订单失败: %w", err)
	}

	type pending struct {
		orderID string
		price   float64
		reason  string
	}
	var queue []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.orderID, &p.price, &p.reason); err != nil {
			rows.Close()
			return 0, fmt.Errorf("扫描对账行失败: %w", err)
		}
		queue = append(queue, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	fixed := 0
	for _, p := range queue {
		o, err := l.GetOrder(ctx, p.orderID)
		if err != nil {
			return fixed, err
		}

		pnl := 0.0
		if o.FillPrice > 0 && p.price > 0 {
			pnl = (p.price - o.FillPrice) * o.Quantity
			if o.Side == play.SideShort {
				pnl = -pnl
			}
		}

		if err := m.Close(o, pnl, p.reason, p.price); err != nil {
			return fixed, fmt.Errorf("对账迁移失败 (%s): %w", p.orderID, err)
		}
		if err := l.SaveOrder(ctx, o); err != nil {
			return fixed, err
		}

		fixed++
		l.logger.Warn("对账修复了未落定的离场订单",
			zap.String("order_id", p.orderID),
			zap.Float64("realized_pnl", pnl),
		)
	}

	return fixed, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
