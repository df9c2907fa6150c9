package services

import (
	"sync"
	"time"

	"github.com/qianlnk/llm-werewolf/models"
)

// Phase 游戏阶段
type Phase string

const (
	PhaseSetup Phase = "setup" // 准备阶段
	PhaseNight Phase = "night" // 夜晚
	PhaseDay   Phase = "day"   // 白天讨论
	PhaseVote  Phase = "vote"  // 投票放逐
	PhaseOver  Phase = "over"  // 游戏结束
)

// NightAction 夜晚行动记录
type NightAction struct {
	ActorID  string             `json:"actor_id"`
	Role     models.Role        `json:"role"`
	Kind     models.AbilityKind `json:"kind"`
	TargetID string             `json:"target_id"`
}

// GameState 对局状态
// 座次在创建后不再变化,夜晚行动、投票和状态标记每轮清空,历史记录只追加
type GameState struct {
	mu sync.RWMutex

	players []*models.Player
	phase   Phase
	round   int

	nightActions []NightAction
	votes        map[string]string // 投票人 -> 目标
	history      []models.GameEvent

	savePotion      bool   // 女巫解药
	poisonPotion    bool   // 女巫毒药
	lastGuardTarget string // 守卫上一夜守护的目标
}

// NewGameState 创建对局状态,players 的顺序即座次
func NewGameState(players []*models.Player) *GameState {
	return &GameState{
		players:      players,
		phase:        PhaseSetup,
		round:        0,
		votes:        make(map[string]string),
		savePotion:   true,
		poisonPotion: true,
	}
}

// Players 按座次返回全部玩家
func (s *GameState) Players() []*models.Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.players
}

// AlivePlayers 按座次返回存活玩家
func (s *GameState) AlivePlayers() []*models.Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var alive []*models.Player
	for _, p := range s.players {
		if p.Alive {
			alive = append(alive, p)
		}
	}
	return alive
}

// AliveByRole 按座次返回存活的指定角色玩家
func (s *GameState) AliveByRole(role models.Role) []*models.Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*models.Player
	for _, p := range s.players {
		if p.Alive && p.Role == role {
			result = append(result, p)
		}
	}
	return result
}

// CountAlive 统计存活的狼人数和好人数
func (s *GameState) CountAlive() (wolves, others int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.players {
		if !p.Alive {
			continue
		}
		if models.IsWolf(p.Role) {
			wolves++
		} else {
			others++
		}
	}
	return wolves, others
}

// FindPlayer 按座位号查找玩家,找不到返回 nil
func (s *GameState) FindPlayer(id string) *models.Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.find(id)
}

// find 内部查找,调用方需持有锁
func (s *GameState) find(id string) *models.Player {
	for _, p := range s.players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// PlayersView 按座次返回玩家信息快照,供其他协程读取状态
func (s *GameState) PlayersView() []models.Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	view := make([]models.Player, len(s.players))
	for i, p := range s.players {
		view[i] = *p
	}
	return view
}

// Protect 标记玩家当夜被守护
func (s *GameState) Protect(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.find(id); p != nil {
		p.Protected = true
	}
}

// MarkForDeath 标记玩家为当夜刀口
func (s *GameState) MarkForDeath(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.find(id); p != nil {
		p.Marked = true
	}
}

// CancelKill 撤销当夜刀杀,女巫解药的唯一入口
func (s *GameState) CancelKill(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.find(id); p != nil {
		p.Marked = false
	}
}

// Poison 标记玩家被毒
func (s *GameState) Poison(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.find(id); p != nil {
		p.Poisoned = true
	}
}

// IsPoisoned 玩家当夜是否被毒
func (s *GameState) IsPoisoned(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.find(id)
	return p != nil && p.Poisoned
}

// Eliminate 淘汰玩家,重复调用无副作用
func (s *GameState) Eliminate(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.find(id); p != nil {
		p.Eliminate()
	}
}

// CommitNightDeaths 天亮统一结算:守护抵消刀杀,毒药不可被守护
// 死亡在同一把锁内一次性提交,返回新死亡的玩家
func (s *GameState) CommitNightDeaths() []*models.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	var dead []*models.Player
	for _, p := range s.players {
		if !p.Alive {
			continue
		}
		if (p.Marked && !p.Protected) || p.Poisoned {
			p.Eliminate()
			dead = append(dead, p)
		}
	}
	return dead
}

// Phase 当前阶段
func (s *GameState) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// SetPhase 切换阶段
func (s *GameState) SetPhase(phase Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = phase
}

// Round 当前轮次,从 1 开始,0 表示未开局
func (s *GameState) Round() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.round
}

// RecordNightAction 记录一条夜晚行动
func (s *GameState) RecordNightAction(action NightAction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nightActions = append(s.nightActions, action)
}

// NightActions 返回当夜行动记录
func (s *GameState) NightActions() []NightAction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	actions := make([]NightAction, len(s.nightActions))
	copy(actions, s.nightActions)
	return actions
}

// RecordVote 记录投票,同一玩家重复投票以最后一次为准
func (s *GameState) RecordVote(voterID, targetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.votes[voterID] = targetID
}

// Votes 返回当轮投票
func (s *GameState) Votes() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	votes := make(map[string]string, len(s.votes))
	for k, v := range s.votes {
		votes[k] = v
	}
	return votes
}

// AppendEvent 追加事件,自动补轮次和时间戳
func (s *GameState) AppendEvent(event models.GameEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	event.Round = s.round
	s.history = append(s.history, event)
}

// History 返回全部历史事件
func (s *GameState) History() []models.GameEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := make([]models.GameEvent, len(s.history))
	copy(events, s.history)
	return events
}

// PublicHistory 返回可公开的历史事件,私有事件被过滤
func (s *GameState) PublicHistory() []models.GameEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var events []models.GameEvent
	for _, e := range s.history {
		if !e.Private {
			events = append(events, e)
		}
	}
	return events
}

// AdvanceRound 进入下一轮,清空夜晚行动、投票和所有玩家的当夜状态
func (s *GameState) AdvanceRound() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.round++
	s.nightActions = nil
	s.votes = make(map[string]string)
	for _, p := range s.players {
		p.ClearNightStatus()
	}
}

// UseSavePotion 使用解药,已用过返回 false
func (s *GameState) UseSavePotion() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.savePotion {
		return false
	}
	s.savePotion = false
	return true
}

// UsePoisonPotion 使用毒药,已用过返回 false
func (s *GameState) UsePoisonPotion() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.poisonPotion {
		return false
	}
	s.poisonPotion = false
	return true
}

// HasSavePotion 解药是否可用
func (s *GameState) HasSavePotion() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.savePotion
}

// HasPoisonPotion 毒药是否可用
func (s *GameState) HasPoisonPotion() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.poisonPotion
}

// LastGuardTarget 守卫上一夜守护的目标
func (s *GameState) LastGuardTarget() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastGuardTarget
}

// SetLastGuardTarget 记录守卫当夜守护的目标
func (s *GameState) SetLastGuardTarget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastGuardTarget = id
}
