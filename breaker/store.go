package breaker

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ceyewan/harvest/db"
	"github.com/ceyewan/harvest/xerrors"
)

// Store 熔断器状态存储，保存 gobreaker 的 SharedState
//
// 同一个 Store 可以被多个进程共享（例如同一个 SQLite 文件），
// 每次受保护调用前都会重新读取，因此后写入的进程状态对其他进程可见。
type Store interface {
	// Load 读取端点状态，不存在时 found 为 false
	Load(ctx context.Context, endpoint string) (st gobreaker.SharedState, found bool, err error)

	// Save 覆盖写入端点状态
	Save(ctx context.Context, endpoint string, st gobreaker.SharedState) error

	// List 列出全部端点状态
	List(ctx context.Context) ([]Snapshot, error)
}

// snapshotOf 把 SharedState 转成对外展示的快照；OPEN 状态的 Start 即打开时刻
func snapshotOf(endpoint string, st gobreaker.SharedState) Snapshot {
	snap := Snapshot{
		Endpoint: endpoint,
		State:    st.State,
		Failures: int(st.Counts.ConsecutiveFailures),
	}
	if st.State == StateOpen {
		snap.OpenedAt = st.Start
	}
	return snap
}

// ========================================
// gobreaker 共享存储适配 (SharedDataStore)
// ========================================

const (
	sharedStatePrefix = "gobreaker:state:"
	sharedMutexPrefix = "gobreaker:mutex:"
)

// sharedData 把 Store 适配为 gobreaker.SharedDataStore
//
// Lock 是进程内的按 key 互斥锁；跨进程时以最后一次写入为准。
// gobreaker 的接口不带 Context，存储访问使用 context.Background()。
type sharedData struct {
	store Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	last  map[string]gobreaker.SharedState
}

func newSharedData(store Store) *sharedData {
	return &sharedData{
		store: store,
		locks: make(map[string]*sync.Mutex),
		last:  make(map[string]gobreaker.SharedState),
	}
}

func (s *sharedData) mutex(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[name]
	if !ok {
		m = &sync.Mutex{}
		s.locks[name] = m
	}
	return m
}

func (s *sharedData) Lock(name string) error {
	s.mutex(name).Lock()
	return nil
}

func (s *sharedData) Unlock(name string) error {
	s.mutex(name).Unlock()
	return nil
}

// GetData 没有记录时返回空数据，gobreaker 据此写入初始状态
func (s *sharedData) GetData(name string) ([]byte, error) {
	endpoint := strings.TrimPrefix(name, sharedStatePrefix)
	st, found, err := s.store.Load(context.Background(), endpoint)
	if err != nil || !found {
		return nil, err
	}
	s.remember(endpoint, st)
	return json.Marshal(st)
}

func (s *sharedData) SetData(name string, data []byte) error {
	var st gobreaker.SharedState
	if err := json.Unmarshal(data, &st); err != nil {
		return xerrors.Wrap(err, "decode circuit state")
	}
	endpoint := strings.TrimPrefix(name, sharedStatePrefix)
	if err := s.store.Save(context.Background(), endpoint, st); err != nil {
		return err
	}
	s.remember(endpoint, st)
	return nil
}

func (s *sharedData) remember(endpoint string, st gobreaker.SharedState) {
	s.mu.Lock()
	s.last[endpoint] = st
	s.mu.Unlock()
}

// lastState 最近一次读到或写入的状态
func (s *sharedData) lastState(endpoint string) gobreaker.SharedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[endpoint]
}

// ========================================
// GORM 存储 (GORM Store)
// ========================================

// circuitRow circuits 表的行；shared 保存完整的 SharedState，其余列便于查询展示
type circuitRow struct {
	Endpoint  string `gorm:"primaryKey;size:255"`
	State     string `gorm:"size:16;not null"`
	Failures  int    `gorm:"not null;default:0"`
	OpenedAt  *time.Time
	Shared    string `gorm:"type:text"`
	UpdatedAt time.Time
}

func (circuitRow) TableName() string { return "circuits" }

// GormStore 基于 db 组件的持久化存储
type GormStore struct {
	db db.DB
}

// NewGormStore 创建持久化存储并迁移 circuits 表
func NewGormStore(ctx context.Context, database db.DB) (*GormStore, error) {
	if database == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "breaker: db is nil")
	}
	if err := database.AutoMigrate(ctx, &circuitRow{}); err != nil {
		return nil, xerrors.Wrap(err, "migrate circuits")
	}
	return &GormStore{db: database}, nil
}

// Load 缺少 shared 列的行按不存在处理，由熔断器重新写入初始状态
func (s *GormStore) Load(ctx context.Context, endpoint string) (gobreaker.SharedState, bool, error) {
	var row circuitRow
	err := s.db.DB(ctx).Where("endpoint = ?", endpoint).Take(&row).Error
	if xerrors.Is(err, gorm.ErrRecordNotFound) {
		return gobreaker.SharedState{}, false, nil
	}
	if err != nil {
		return gobreaker.SharedState{}, false, xerrors.Wrapf(err, "load circuit %s", endpoint)
	}
	if row.Shared == "" {
		return gobreaker.SharedState{}, false, nil
	}
	var st gobreaker.SharedState
	if err := json.Unmarshal([]byte(row.Shared), &st); err != nil {
		return gobreaker.SharedState{}, false, xerrors.Wrapf(err, "decode circuit %s", endpoint)
	}
	return st, true, nil
}

func (s *GormStore) Save(ctx context.Context, endpoint string, st gobreaker.SharedState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return xerrors.Wrapf(err, "encode circuit %s", endpoint)
	}
	snap := snapshotOf(endpoint, st)
	row := circuitRow{
		Endpoint: endpoint,
		State:    snap.State.String(),
		Failures: snap.Failures,
		Shared:   string(data),
	}
	if !snap.OpenedAt.IsZero() {
		t := snap.OpenedAt.UTC()
		row.OpenedAt = &t
	}

	err = s.db.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "failures", "opened_at", "shared", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return xerrors.Wrapf(err, "save circuit %s", endpoint)
	}
	return nil
}

func (s *GormStore) List(ctx context.Context) ([]Snapshot, error) {
	var rows []circuitRow
	if err := s.db.DB(ctx).Order("endpoint").Find(&rows).Error; err != nil {
		return nil, xerrors.Wrap(err, "list circuits")
	}
	out := make([]Snapshot, 0, len(rows))
	for _, r := range rows {
		snap := Snapshot{
			Endpoint: r.Endpoint,
			State:    parseState(r.State),
			Failures: r.Failures,
		}
		if r.OpenedAt != nil {
			snap.OpenedAt = *r.OpenedAt
		}
		out = append(out, snap)
	}
	return out, nil
}

// ========================================
// 内存存储 (Memory Store)
// ========================================

// MemoryStore 进程内存储，用于测试或不需要跨进程恢复的场景
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]gobreaker.SharedState
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]gobreaker.SharedState)}
}

func (s *MemoryStore) Load(_ context.Context, endpoint string) (gobreaker.SharedState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[endpoint]
	return st, ok, nil
}

func (s *MemoryStore) Save(_ context.Context, endpoint string, st gobreaker.SharedState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[endpoint] = st
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snapshot, 0, len(s.states))
	for endpoint, st := range s.states {
		out = append(out, snapshotOf(endpoint, st))
	}
	return out, nil
}
