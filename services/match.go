package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qianlnk/llm-werewolf/config"
	"github.com/qianlnk/llm-werewolf/models"
)

var (
	ErrMatchNotFound = errors.New("对局不存在")
)

// Match 一场托管对局,由内置应答者自动进行
type Match struct {
	ID        string
	Preset    string
	CreatedAt int64

	engine *GameEngine
	cancel context.CancelFunc

	mu      sync.RWMutex
	summary *Summary
	runErr  error
}

// MatchStatusPlayer 状态视图里的玩家,身份只在对局结束后公开
type MatchStatusPlayer struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Alive bool        `json:"alive"`
	Role  models.Role `json:"role,omitempty"`
}

// MatchStatus 对局状态视图
type MatchStatus struct {
	ID      string              `json:"id"`
	Preset  string              `json:"preset"`
	Phase   Phase               `json:"phase"`
	Round   int                 `json:"round"`
	Players []MatchStatusPlayer `json:"players"`
	Outcome models.Outcome      `json:"outcome"`
	Reason  string              `json:"reason,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// MatchManager 对局管理器
type MatchManager struct {
	mu      sync.RWMutex
	matches map[string]*Match
	wsMgr   *WebSocketManager
}

// NewMatchManager 创建对局管理器实例
func NewMatchManager(wsMgr *WebSocketManager) *MatchManager {
	return &MatchManager{
		matches: make(map[string]*Match),
		wsMgr:   wsMgr,
	}
}

// CreateMatch 按板子创建一场托管对局并立即开始
// 玩家全部使用内置应答者,事件通过观战通道推送
func (mm *MatchManager) CreateMatch(preset config.Preset) (*Match, error) {
	id := uuid.NewString()

	responders := make([]Responder, len(preset.Roles))
	for i := range preset.Roles {
		responders[i] = NewDemoAgent(fmt.Sprintf("机器人%d", i+1), int64(i)+time.Now().UnixNano())
	}

	engine := NewGameEngine(responders)
	engine.SetBroadcaster(mm.wsMgr.ForMatch(id))
	if err := engine.SetupGame(preset.Roles); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	match := &Match{
		ID:        id,
		Preset:    preset.Name,
		CreatedAt: time.Now().Unix(),
		engine:    engine,
		cancel:    cancel,
	}

	mm.mu.Lock()
	mm.matches[id] = match
	mm.mu.Unlock()

	go func() {
		summary, err := engine.PlayGame(ctx)
		match.mu.Lock()
		match.summary = summary
		match.runErr = err
		match.mu.Unlock()
		if err != nil {
			zap.S().Warnw("对局异常结束", "match", id, "error", err)
			return
		}
		zap.S().Infow("对局结束", "match", id, "outcome", summary.Outcome)
	}()

	return match, nil
}

// GetMatch 按ID查找对局
func (mm *MatchManager) GetMatch(id string) (*Match, error) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	match, exists := mm.matches[id]
	if !exists {
		return nil, ErrMatchNotFound
	}
	return match, nil
}

// ListMatches 返回所有对局
func (mm *MatchManager) ListMatches() []*Match {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	matches := make([]*Match, 0, len(mm.matches))
	for _, m := range mm.matches {
		matches = append(matches, m)
	}
	return matches
}

// StopMatch 中止对局,已结算的状态保持一致
func (mm *MatchManager) StopMatch(id string) error {
	match, err := mm.GetMatch(id)
	if err != nil {
		return err
	}
	match.cancel()
	return nil
}

// Status 对局状态快照
func (m *Match) Status() MatchStatus {
	m.mu.RLock()
	summary := m.summary
	runErr := m.runErr
	m.mu.RUnlock()

	state := m.engine.State()
	phase := state.Phase()
	status := MatchStatus{
		ID:      m.ID,
		Preset:  m.Preset,
		Phase:   phase,
		Round:   state.Round(),
		Outcome: models.OutcomeOngoing,
	}

	over := phase == PhaseOver
	for _, p := range state.PlayersView() {
		sp := MatchStatusPlayer{ID: p.ID, Name: p.Name, Alive: p.Alive}
		if over {
			sp.Role = p.Role
		}
		status.Players = append(status.Players, sp)
	}

	if summary != nil {
		status.Outcome = summary.Outcome
		status.Reason = summary.Reason
	}
	if runErr != nil {
		status.Error = runErr.Error()
	}
	return status
}

// PublicEvents 对局的公开事件历史,供观战接口回放
func (m *Match) PublicEvents() []models.GameEvent {
	return m.engine.State().PublicHistory()
}
