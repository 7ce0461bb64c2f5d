package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/smilemakc/planflow/internal/domain"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// BunStore is the Postgres-backed domain.Storage: one bun model per
// aggregate (Plan, IR, ExecutionState, Event, Suspension), with InitSchema
// creating each table.
type BunStore struct {
	db *bun.DB
}

// NewBunStore opens a bun.DB against dsn using pgdriver.
func NewBunStore(dsn string) *BunStore {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	return &BunStore{db: db}
}

func (s *BunStore) InitSchema(ctx context.Context) error {
	models := []interface{}{
		(*planModel)(nil),
		(*irModel)(nil),
		(*runStateModel)(nil),
		(*eventModel)(nil),
		(*suspensionModel)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Plans

type planModel struct {
	bun.BaseModel `bun:"table:plans,alias:p"`

	ID        string    `bun:"id,pk"`
	Data      []byte    `bun:"data,type:jsonb"`
	CreatedAt time.Time `bun:"created_at,default:current_timestamp"`
}

func (s *BunStore) SavePlan(ctx context.Context, planID string, plan *domain.Plan) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return err
	}
	model := &planModel{ID: planID, Data: data}
	_, err = s.db.NewInsert().Model(model).
		On("CONFLICT (id) DO UPDATE").
		Set("data = EXCLUDED.data").
		Exec(ctx)
	return err
}

func (s *BunStore) GetPlan(ctx context.Context, planID string) (*domain.Plan, error) {
	model := new(planModel)
	if err := s.db.NewSelect().Model(model).Where("id = ?", planID).Scan(ctx); err != nil {
		return nil, err
	}
	plan := &domain.Plan{}
	if err := json.Unmarshal(model.Data, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func (s *BunStore) ListPlans(ctx context.Context) ([]string, error) {
	var models []planModel
	if err := s.db.NewSelect().Model(&models).Column("id").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]string, len(models))
	for i, m := range models {
		out[i] = m.ID
	}
	return out, nil
}

func (s *BunStore) DeletePlan(ctx context.Context, planID string) error {
	_, err := s.db.NewDelete().Model((*planModel)(nil)).Where("id = ?", planID).Exec(ctx)
	return err
}

func (s *BunStore) PlanExists(ctx context.Context, planID string) (bool, error) {
	count, err := s.db.NewSelect().Model((*planModel)(nil)).Where("id = ?", planID).Count(ctx)
	return count > 0, err
}

// IR cache

type irModel struct {
	bun.BaseModel `bun:"table:irs,alias:i"`

	Hash      string    `bun:"hash,pk"`
	Data      []byte    `bun:"data"`
	CreatedAt time.Time `bun:"created_at,default:current_timestamp"`
}

func (s *BunStore) SaveIR(ctx context.Context, irHash string, ir *domain.IR) error {
	data, err := domain.EncodeIR(ir)
	if err != nil {
		return err
	}
	model := &irModel{Hash: irHash, Data: data}
	_, err = s.db.NewInsert().Model(model).
		On("CONFLICT (hash) DO UPDATE").
		Set("data = EXCLUDED.data").
		Exec(ctx)
	return err
}

func (s *BunStore) GetIR(ctx context.Context, irHash string) (*domain.IR, bool, error) {
	model := new(irModel)
	err := s.db.NewSelect().Model(model).Where("hash = ?", irHash).Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	ir, err := domain.DecodeIR(model.Data)
	if err != nil {
		return nil, false, err
	}
	return ir, true, nil
}

// Run state

type runStateModel struct {
	bun.BaseModel `bun:"table:run_states,alias:r"`

	FlowID     string    `bun:"flow_id,pk"`
	WorkflowID string    `bun:"workflow_id"`
	Status     string    `bun:"status"`
	Variables  []byte    `bun:"variables,type:jsonb"`
	NodeStates []byte    `bun:"node_states,type:jsonb"`
	StartedAt  time.Time `bun:"started_at"`
	FinishedAt *time.Time `bun:"finished_at"`
	ErrorMsg   string    `bun:"error_msg"`
}

type nodeStateJSON struct {
	NodeID        string      `json:"nodeId"`
	Status        string      `json:"status"`
	StartedAt     *time.Time  `json:"startedAt,omitempty"`
	FinishedAt    *time.Time  `json:"finishedAt,omitempty"`
	Output        interface{} `json:"output,omitempty"`
	ErrorMessage  string      `json:"errorMessage,omitempty"`
	AttemptNumber int         `json:"attemptNumber"`
	MaxAttempts   int         `json:"maxAttempts"`
}

func toRunStateModel(state *domain.ExecutionState) (*runStateModel, error) {
	vars, err := json.Marshal(state.Variables())
	if err != nil {
		return nil, err
	}
	nodeStates := make(map[string]nodeStateJSON, len(state.NodeStates()))
	for id, ns := range state.NodeStates() {
		nodeStates[id] = nodeStateJSON{
			NodeID: ns.NodeID(), Status: string(ns.Status()), StartedAt: ns.StartedAt(),
			FinishedAt: ns.FinishedAt(), Output: ns.Output(), ErrorMessage: ns.ErrorMessage(),
			AttemptNumber: ns.AttemptNumber(), MaxAttempts: ns.MaxAttempts(),
		}
	}
	nsData, err := json.Marshal(nodeStates)
	if err != nil {
		return nil, err
	}
	return &runStateModel{
		FlowID: state.ExecutionID(), WorkflowID: state.WorkflowID(), Status: string(state.Status()),
		Variables: vars, NodeStates: nsData, StartedAt: state.StartedAt(), FinishedAt: state.FinishedAt(),
		ErrorMsg: state.ErrorMessage(),
	}, nil
}

func (m *runStateModel) toDomain() (*domain.ExecutionState, error) {
	var vars map[string]interface{}
	if err := json.Unmarshal(m.Variables, &vars); err != nil {
		return nil, err
	}
	var nodeStatesJSON map[string]nodeStateJSON
	if err := json.Unmarshal(m.NodeStates, &nodeStatesJSON); err != nil {
		return nil, err
	}
	nodeStates := make(map[string]*domain.NodeState, len(nodeStatesJSON))
	for id, ns := range nodeStatesJSON {
		nodeStates[id] = domain.ReconstructNodeState(ns.NodeID, domain.NodeStateStatus(ns.Status), ns.StartedAt,
			ns.FinishedAt, ns.Output, ns.ErrorMessage, ns.AttemptNumber, ns.MaxAttempts)
	}
	return domain.ReconstructExecutionState(m.FlowID, m.WorkflowID, domain.ExecutionStateStatus(m.Status),
		vars, nodeStates, m.StartedAt, m.FinishedAt, m.ErrorMsg), nil
}

func (s *BunStore) SaveRunState(ctx context.Context, state *domain.ExecutionState) error {
	model, err := toRunStateModel(state)
	if err != nil {
		return err
	}
	_, err = s.db.NewInsert().Model(model).
		On("CONFLICT (flow_id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("variables = EXCLUDED.variables").
		Set("node_states = EXCLUDED.node_states").
		Set("finished_at = EXCLUDED.finished_at").
		Set("error_msg = EXCLUDED.error_msg").
		Exec(ctx)
	return err
}

func (s *BunStore) GetRunState(ctx context.Context, flowID string) (*domain.ExecutionState, bool, error) {
	model := new(runStateModel)
	err := s.db.NewSelect().Model(model).Where("flow_id = ?", flowID).Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	state, err := model.toDomain()
	if err != nil {
		return nil, false, err
	}
	return state, true, nil
}

func (s *BunStore) ListRuns(ctx context.Context, limit, offset int) ([]*domain.ExecutionState, error) {
	var models []runStateModel
	q := s.db.NewSelect().Model(&models).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]*domain.ExecutionState, len(models))
	for i, m := range models {
		state, err := m.toDomain()
		if err != nil {
			return nil, err
		}
		out[i] = state
	}
	return out, nil
}

func (s *BunStore) DeleteRunState(ctx context.Context, flowID string) error {
	_, err := s.db.NewDelete().Model((*runStateModel)(nil)).Where("flow_id = ?", flowID).Exec(ctx)
	return err
}

// Events

type eventModel struct {
	bun.BaseModel `bun:"table:events,alias:e"`

	EventID      string    `bun:"event_id,pk"`
	EventType    string    `bun:"event_type"`
	WorkflowID   string    `bun:"workflow_id"`
	ExecutionID  string    `bun:"execution_id"`
	WorkflowName string    `bun:"workflow_name"`
	NodeID       string    `bun:"node_id"`
	Timestamp    time.Time `bun:"timestamp"`
	Payload      []byte    `bun:"payload"`
	Metadata     []byte    `bun:"metadata,type:jsonb"`
}

func newEventModel(ev *domain.Event) (*eventModel, error) {
	metadata, err := json.Marshal(ev.Metadata())
	if err != nil {
		return nil, err
	}
	return &eventModel{
		EventID: ev.EventID(), EventType: ev.EventType(), WorkflowID: ev.WorkflowID(),
		ExecutionID: ev.ExecutionID(), WorkflowName: ev.WorkflowName(), NodeID: ev.NodeID(),
		Timestamp: ev.Timestamp(), Payload: ev.Payload(), Metadata: metadata,
	}, nil
}

func (m *eventModel) toDomain() (*domain.Event, error) {
	var metadata map[string]string
	if len(m.Metadata) > 0 {
		if err := json.Unmarshal(m.Metadata, &metadata); err != nil {
			return nil, err
		}
	}
	return domain.ReconstructEvent(m.EventID, m.EventType, m.WorkflowID, m.ExecutionID, m.WorkflowName,
		m.NodeID, m.Timestamp, m.Payload, metadata), nil
}

func (s *BunStore) AppendEvent(ctx context.Context, event *domain.Event) error {
	model, err := newEventModel(event)
	if err != nil {
		return err
	}
	_, err = s.db.NewInsert().Model(model).Exec(ctx)
	return err
}

func (s *BunStore) AppendEvents(ctx context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	models := make([]*eventModel, len(events))
	for i, ev := range events {
		model, err := newEventModel(ev)
		if err != nil {
			return err
		}
		models[i] = model
	}
	_, err := s.db.NewInsert().Model(&models).Exec(ctx)
	return err
}

func (s *BunStore) GetEvents(ctx context.Context, flowID string) ([]*domain.Event, error) {
	var models []eventModel
	if err := s.db.NewSelect().Model(&models).Where("execution_id = ?", flowID).Order("timestamp ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return eventModelsToDomain(models)
}

func (s *BunStore) GetEventsSince(ctx context.Context, flowID string, afterEventID string) ([]*domain.Event, error) {
	if afterEventID == "" {
		return s.GetEvents(ctx, flowID)
	}
	marker := new(eventModel)
	if err := s.db.NewSelect().Model(marker).Where("event_id = ?", afterEventID).Scan(ctx); err != nil {
		return nil, fmt.Errorf("event %q not found: %w", afterEventID, err)
	}
	var models []eventModel
	err := s.db.NewSelect().Model(&models).
		Where("execution_id = ?", flowID).
		Where("timestamp > ?", marker.Timestamp).
		Order("timestamp ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return eventModelsToDomain(models)
}

func eventModelsToDomain(models []eventModel) ([]*domain.Event, error) {
	out := make([]*domain.Event, len(models))
	for i, m := range models {
		ev, err := m.toDomain()
		if err != nil {
			return nil, err
		}
		out[i] = ev
	}
	return out, nil
}

// Suspensions

type suspensionModel struct {
	bun.BaseModel `bun:"table:suspensions,alias:s"`

	SuspensionID string    `bun:"suspension_id,pk"`
	FlowID       string    `bun:"flow_id"`
	IRHash       string    `bun:"ir_hash"`
	NodeID       string    `bun:"node_id"`
	AwaitKind    string    `bun:"await_kind"`
	Payload      []byte    `bun:"payload,type:jsonb"`
	Completed    []byte    `bun:"completed_outputs,type:jsonb"`
	Scope        []byte    `bun:"scope_snapshot,type:jsonb"`
	Pending      []byte    `bun:"pending_branches,type:jsonb"`
	CreatedAt    time.Time `bun:"created_at"`
	ExpiresAt    time.Time `bun:"expires_at"`
	Consumed     bool      `bun:"consumed"`
}

func newSuspensionModel(r *domain.SuspensionRecord) (*suspensionModel, error) {
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return nil, err
	}
	completed, err := json.Marshal(r.CompletedOutputs)
	if err != nil {
		return nil, err
	}
	scope, err := json.Marshal(r.ScopeSnapshot)
	if err != nil {
		return nil, err
	}
	pending, err := json.Marshal(r.PendingBranches)
	if err != nil {
		return nil, err
	}
	return &suspensionModel{
		SuspensionID: r.SuspensionID, FlowID: r.FlowID, IRHash: r.IRHash, NodeID: r.NodeID,
		AwaitKind: r.AwaitKind, Payload: payload, Completed: completed, Scope: scope, Pending: pending,
		CreatedAt: r.CreatedAt, ExpiresAt: r.ExpiresAt, Consumed: r.Consumed,
	}, nil
}

func (m *suspensionModel) toDomain() (*domain.SuspensionRecord, error) {
	r := &domain.SuspensionRecord{
		SuspensionID: m.SuspensionID, FlowID: m.FlowID, IRHash: m.IRHash, NodeID: m.NodeID,
		AwaitKind: m.AwaitKind, CreatedAt: m.CreatedAt, ExpiresAt: m.ExpiresAt, Consumed: m.Consumed,
	}
	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, &r.Payload); err != nil {
			return nil, err
		}
	}
	if len(m.Completed) > 0 {
		if err := json.Unmarshal(m.Completed, &r.CompletedOutputs); err != nil {
			return nil, err
		}
	}
	if len(m.Scope) > 0 {
		if err := json.Unmarshal(m.Scope, &r.ScopeSnapshot); err != nil {
			return nil, err
		}
	}
	if len(m.Pending) > 0 {
		if err := json.Unmarshal(m.Pending, &r.PendingBranches); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (s *BunStore) Store(record *domain.SuspensionRecord) error {
	ctx := context.Background()
	model, err := newSuspensionModel(record)
	if err != nil {
		return err
	}
	_, err = s.db.NewInsert().Model(model).Exec(ctx)
	return err
}

func (s *BunStore) Fetch(suspensionID string) (*domain.SuspensionRecord, error) {
	ctx := context.Background()
	model := new(suspensionModel)
	if err := s.db.NewSelect().Model(model).Where("suspension_id = ?", suspensionID).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("suspension %q: %w", suspensionID, domain.ErrSuspensionNotFound)
		}
		return nil, fmt.Errorf("suspension %q: %w", suspensionID, err)
	}
	return model.toDomain()
}

func (s *BunStore) Consume(suspensionID string) (*domain.SuspensionRecord, error) {
	ctx := context.Background()
	record, err := s.Fetch(suspensionID)
	if err != nil {
		return nil, err
	}
	if record.Consumed {
		return nil, fmt.Errorf("suspension %q: %w", suspensionID, domain.ErrSuspensionConsumed)
	}
	res, err := s.db.NewUpdate().Model((*suspensionModel)(nil)).
		Set("consumed = TRUE").
		Where("suspension_id = ? AND consumed = FALSE", suspensionID).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("suspension %q: %w", suspensionID, domain.ErrSuspensionConsumed)
	}
	record.Consumed = true
	return record, nil
}

func (s *BunStore) DeleteExpired(now time.Time) (int, error) {
	ctx := context.Background()
	res, err := s.db.NewDelete().Model((*suspensionModel)(nil)).
		Where("expires_at < ? AND expires_at != ?", now, time.Time{}).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Transactions / health

func (s *BunStore) BeginTransaction(ctx context.Context) (context.Context, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ctx, err
	}
	return context.WithValue(ctx, bunTxKey{}, tx), nil
}

type bunTxKey struct{}

func (s *BunStore) txFrom(ctx context.Context) (bun.Tx, bool) {
	tx, ok := ctx.Value(bunTxKey{}).(bun.Tx)
	return tx, ok
}

func (s *BunStore) CommitTransaction(ctx context.Context) error {
	tx, ok := s.txFrom(ctx)
	if !ok {
		return fmt.Errorf("no transaction on context")
	}
	return tx.Commit()
}

func (s *BunStore) RollbackTransaction(ctx context.Context) error {
	tx, ok := s.txFrom(ctx)
	if !ok {
		return fmt.Errorf("no transaction on context")
	}
	return tx.Rollback()
}

func (s *BunStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *BunStore) Close() error {
	return s.db.Close()
}
