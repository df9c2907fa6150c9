package models

import "fmt"

// Camp 阵营
type Camp string

const (
	CampVillager Camp = "villager" // 好人阵营
	CampWerewolf Camp = "werewolf" // 狼人阵营
)

// Role 游戏角色
type Role string

const (
	Villager  Role = "villager"  // 村民
	Werewolf  Role = "werewolf"  // 狼人
	WhiteWolf Role = "whitewolf" // 白狼王
	Seer      Role = "seer"      // 预言家
	Witch     Role = "witch"     // 女巫
	Hunter    Role = "hunter"    // 猎人
	Guard     Role = "guard"     // 守卫
)

// AbilityKind 夜晚技能类型
type AbilityKind string

const (
	AbilityNone        AbilityKind = "none"         // 无技能
	AbilityKill        AbilityKind = "kill"         // 击杀
	AbilityInvestigate AbilityKind = "investigate"  // 查验
	AbilityProtect     AbilityKind = "protect"      // 守护
	AbilityPotion      AbilityKind = "potion"       // 解药或毒药
	AbilityRevenge     AbilityKind = "revenge"      // 死亡时开枪带人,不在夜晚结算
)

// roleInfo 角色静态属性
type roleInfo struct {
	camp     Camp
	ability  AbilityKind
	priority int // 夜晚结算优先级,数字越小越先结算
	display  string
}

// roleTable 角色属性表
var roleTable = map[Role]roleInfo{
	Villager:  {CampVillager, AbilityNone, 0, "村民"},
	Werewolf:  {CampWerewolf, AbilityKill, 2, "狼人"},
	WhiteWolf: {CampWerewolf, AbilityKill, 2, "白狼王"},
	Seer:      {CampVillager, AbilityInvestigate, 4, "预言家"},
	Witch:     {CampVillager, AbilityPotion, 3, "女巫"},
	Hunter:    {CampVillager, AbilityRevenge, 0, "猎人"},
	Guard:     {CampVillager, AbilityProtect, 1, "守卫"},
}

// NightOrder 夜晚行动顺序,按优先级从小到大
var NightOrder = []Role{Guard, Werewolf, Witch, Seer}

func mustRoleInfo(role Role) roleInfo {
	info, ok := roleTable[role]
	if !ok {
		// 未注册的角色属于程序错误
		panic(fmt.Sprintf("未知角色: %s", role))
	}
	return info
}

// CampOf 返回角色所属阵营
func CampOf(role Role) Camp {
	return mustRoleInfo(role).camp
}

// AbilityOf 返回角色的夜晚技能类型
func AbilityOf(role Role) AbilityKind {
	return mustRoleInfo(role).ability
}

// PriorityOf 返回角色的夜晚结算优先级
func PriorityOf(role Role) int {
	return mustRoleInfo(role).priority
}

// DisplayName 返回角色的中文名
func DisplayName(role Role) string {
	return mustRoleInfo(role).display
}

// IsWolf 是否属于狼人阵营
func IsWolf(role Role) bool {
	return CampOf(role) == CampWerewolf
}

// Player 玩家信息
type Player struct {
	ID    string `json:"id"`   // 座位号,形如 player_1
	Name  string `json:"name"` // 显示名
	Role  Role   `json:"role"`
	Alive bool   `json:"alive"`

	// 以下为当夜状态标记,每轮清空
	Protected bool `json:"-"` // 被守卫守护
	Marked    bool `json:"-"` // 被狼人刀
	Poisoned  bool `json:"-"` // 被女巫毒
}

// Eliminate 淘汰玩家,重复调用无副作用
// 死亡不可逆,女巫解药在天亮结算前撤销刀口标记,不走复活
func (p *Player) Eliminate() {
	p.Alive = false
}

// ClearNightStatus 清除当夜状态标记
func (p *Player) ClearNightStatus() {
	p.Protected = false
	p.Marked = false
	p.Poisoned = false
}

// EventType 事件类型
type EventType string

const (
	EventGameStart   EventType = "game_start"   // 游戏开始
	EventPhase       EventType = "phase"        // 阶段切换
	EventRole        EventType = "role"         // 身份下发(私有)
	EventStatement   EventType = "statement"    // 发言
	EventDeath       EventType = "death"        // 死亡公告
	EventCheckResult EventType = "check_result" // 查验结果(私有)
	EventVoteResult  EventType = "vote_result"  // 投票结果
	EventGameOver    EventType = "game_over"    // 游戏结束
)

// GameEvent 游戏事件,历史记录只追加不修改
type GameEvent struct {
	Type      EventType `json:"type"`
	Round     int       `json:"round"`
	PlayerID  string    `json:"player_id,omitempty"`
	TargetID  string    `json:"target_id,omitempty"`
	Content   string    `json:"content"`
	Private   bool      `json:"private,omitempty"` // 私有事件不对观战广播
	Timestamp int64     `json:"timestamp"`
}

// Outcome 对局结果
type Outcome string

const (
	OutcomeOngoing      Outcome = "ongoing"       // 对局继续
	OutcomeVillagerWin  Outcome = "villager_win"  // 好人胜利
	OutcomeWerewolfWin  Outcome = "werewolf_win"  // 狼人胜利
	OutcomeWhiteWolfWin Outcome = "whitewolf_win" // 白狼王单独胜利
	OutcomeDraw         Outcome = "draw"          // 平局
)

// VictoryResult 胜负判定结果
type VictoryResult struct {
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason"`
}

// Finished 对局是否已分出胜负
func (r VictoryResult) Finished() bool {
	return r.Outcome != OutcomeOngoing
}
