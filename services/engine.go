package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/qianlnk/llm-werewolf/models"
)

var (
	ErrGameNotStarted    = errors.New("游戏尚未开始")
	ErrGameStarted       = errors.New("游戏已经开始")
	ErrGameOver          = errors.New("游戏已经结束")
	ErrNoPlayers         = errors.New("没有玩家")
	ErrRoleCountMismatch = errors.New("角色数量与玩家数量不匹配")
	ErrDuplicateName     = errors.New("玩家名字重复")
	ErrResponderFailed   = errors.New("玩家应答失败")
)

// Broadcaster 对外广播游戏事件,私有事件不会经过这里
type Broadcaster interface {
	Publish(event models.GameEvent)
}

// historyWindow 提示词中携带的最近公开事件条数
const historyWindow = 12

// GameEngine 游戏引擎,驱动 设置 -> 夜晚 -> 白天讨论 -> 投票 的阶段循环
// 所有玩家输入都通过 Responder 获取,引擎本身是同步的
type GameEngine struct {
	state       *GameState
	responders  map[string]Responder
	seats       []Responder // 按座次排列,座位号在 SetupGame 时分配
	broadcaster Broadcaster
	rnd         *rand.Rand
}

// NewGameEngine 创建游戏引擎,responders 的顺序即座次
func NewGameEngine(responders []Responder) *GameEngine {
	return &GameEngine{
		seats:      responders,
		responders: make(map[string]Responder),
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetSeed 固定随机种子,用于可复现的对局
func (e *GameEngine) SetSeed(seed int64) {
	e.rnd = rand.New(rand.NewSource(seed))
}

// SetBroadcaster 设置事件广播器
func (e *GameEngine) SetBroadcaster(b Broadcaster) {
	e.broadcaster = b
}

// State 当前对局状态,未开局时返回 nil
func (e *GameEngine) State() *GameState {
	return e.state
}

// SetupGame 分配身份并初始化对局
// roles 的数量必须与玩家数量一致,身份经过洗牌后按座次分配
func (e *GameEngine) SetupGame(roles []models.Role) error {
	if e.state != nil {
		return ErrGameStarted
	}
	if len(e.seats) == 0 {
		return ErrNoPlayers
	}
	if len(roles) != len(e.seats) {
		return fmt.Errorf("%w: %d 个角色, %d 名玩家", ErrRoleCountMismatch, len(roles), len(e.seats))
	}

	seen := make(map[string]bool)
	for _, r := range e.seats {
		if seen[r.Name()] {
			return fmt.Errorf("%w: %s", ErrDuplicateName, r.Name())
		}
		seen[r.Name()] = true
	}

	shuffled := make([]models.Role, len(roles))
	copy(shuffled, roles)
	e.rnd.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	players := make([]*models.Player, len(e.seats))
	for i, responder := range e.seats {
		responder.Reset()
		id := fmt.Sprintf("player_%d", i+1)
		players[i] = &models.Player{
			ID:    id,
			Name:  responder.Name(),
			Role:  shuffled[i],
			Alive: true,
		}
		e.responders[id] = responder
	}

	e.state = NewGameState(players)

	e.emit(models.GameEvent{
		Type:    models.EventGameStart,
		Content: fmt.Sprintf("游戏开始,共 %d 名玩家", len(players)),
	})
	for _, p := range players {
		e.emit(models.GameEvent{
			Type:     models.EventRole,
			PlayerID: p.ID,
			Content:  fmt.Sprintf("你的身份是%s", models.DisplayName(p.Role)),
			Private:  true,
		})
	}

	zap.S().Infow("对局初始化完成", "players", len(players))
	return nil
}

// Step 执行一个阶段并推进状态机,返回对局是否结束
// 应答者返回错误时对局终止,状态停留在最后一次完整结算
func (e *GameEngine) Step(ctx context.Context) (bool, error) {
	if e.state == nil {
		return false, ErrGameNotStarted
	}
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	switch e.state.Phase() {
	case PhaseOver:
		return true, ErrGameOver

	case PhaseSetup, PhaseNight:
		e.state.AdvanceRound()
		if err := e.runNight(ctx); err != nil {
			return false, err
		}
		if result := CheckVictory(e.state); result.Finished() {
			e.finish(result)
			return true, nil
		}
		e.state.SetPhase(PhaseDay)

	case PhaseDay:
		if err := e.runDiscussion(ctx); err != nil {
			return false, err
		}
		e.state.SetPhase(PhaseVote)

	case PhaseVote:
		if err := e.runVote(ctx); err != nil {
			return false, err
		}
		if result := CheckVictory(e.state); result.Finished() {
			e.finish(result)
			return true, nil
		}
		e.state.SetPhase(PhaseNight)
	}

	return false, nil
}

// PlayGame 循环执行阶段直到分出胜负
// ctx 取消时在阶段间终止,已结算的状态保持一致,摘要仍然可用
func (e *GameEngine) PlayGame(ctx context.Context) (*Summary, error) {
	for {
		done, err := e.Step(ctx)
		if err != nil {
			return e.Summary(), err
		}
		if done {
			return e.Summary(), nil
		}
	}
}

// runNight 执行夜晚阶段
// 按固定优先级依次行动:守卫 -> 狼人 -> 女巫 -> 预言家
// 所有死亡在天亮时一次性结算,之后处理猎人开枪的连锁
func (e *GameEngine) runNight(ctx context.Context) error {
	e.emit(models.GameEvent{
		Type:    models.EventPhase,
		Content: fmt.Sprintf("第 %d 夜,天黑请闭眼", e.state.Round()),
	})

	var victim *models.Player
	for _, role := range models.NightOrder {
		var err error
		switch role {
		case models.Guard:
			err = e.actGuard(ctx)
		case models.Werewolf:
			victim, err = e.actWolves(ctx)
		case models.Witch:
			err = e.actWitch(ctx, victim)
		case models.Seer:
			err = e.actSeer(ctx)
		}
		if err != nil {
			return err
		}
	}

	dead := e.state.CommitNightDeaths()

	if len(dead) == 0 {
		e.emit(models.GameEvent{
			Type:    models.EventPhase,
			Content: "天亮了,昨晚是平安夜",
		})
	} else {
		for _, p := range dead {
			e.emit(models.GameEvent{
				Type:     models.EventDeath,
				TargetID: p.ID,
				Content:  fmt.Sprintf("天亮了,昨晚 %s(%s) 死亡", p.ID, p.Name),
			})
		}
	}

	return e.resolveHunters(ctx, dead)
}

// actGuard 守卫行动,不能连续两夜守护同一目标
func (e *GameEngine) actGuard(ctx context.Context) error {
	for _, guard := range e.state.AliveByRole(models.Guard) {
		var candidates []*models.Player
		for _, p := range e.state.AlivePlayers() {
			if p.ID != e.state.LastGuardTarget() {
				candidates = append(candidates, p)
			}
		}
		resp, err := e.ask(ctx, guard, e.buildPrompt(guard, "守卫请睁眼,请选择今晚守护的目标。", candidates))
		if err != nil {
			return err
		}
		target := e.parseTarget(resp, candidates)
		if target == nil {
			zap.S().Debugw("守卫放弃守护", "player", guard.ID)
			e.state.SetLastGuardTarget("")
			continue
		}
		e.state.Protect(target.ID)
		e.state.SetLastGuardTarget(target.ID)
		e.state.RecordNightAction(NightAction{
			ActorID: guard.ID, Role: guard.Role,
			Kind: models.AbilityProtect, TargetID: target.ID,
		})
	}
	return nil
}

// actWolves 狼人行动,每头狼各自选择目标,取多数
// 平票时取座次靠前的狼所选的目标,保证结果确定
func (e *GameEngine) actWolves(ctx context.Context) (*models.Player, error) {
	wolves := e.wolvesAlive()
	if len(wolves) == 0 {
		return nil, nil
	}

	var candidates []*models.Player
	for _, p := range e.state.AlivePlayers() {
		if !models.IsWolf(p.Role) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	choices := make(map[string]*models.Player) // 狼的座位号 -> 目标
	counts := make(map[string]int)
	for _, wolf := range wolves {
		resp, err := e.ask(ctx, wolf, e.buildPrompt(wolf, "狼人请睁眼,请选择今晚袭击的目标。", candidates))
		if err != nil {
			return nil, err
		}
		target := e.parseTarget(resp, candidates)
		if target == nil {
			zap.S().Debugw("狼人放弃袭击", "player", wolf.ID)
			continue
		}
		choices[wolf.ID] = target
		counts[target.ID]++
		e.state.RecordNightAction(NightAction{
			ActorID: wolf.ID, Role: wolf.Role,
			Kind: models.AbilityKill, TargetID: target.ID,
		})
	}
	if len(counts) == 0 {
		return nil, nil
	}

	maxCount := 0
	for _, c := range counts {
		if c > maxCount {
			maxCount = c
		}
	}
	for _, wolf := range wolves {
		target, ok := choices[wolf.ID]
		if ok && counts[target.ID] == maxCount {
			e.state.MarkForDeath(target.ID)
			return target, nil
		}
	}
	return nil, nil
}

// actWitch 女巫行动,解药和毒药整局各只能用一次
// victim 为当夜刀口,解药只能救刀口,用药后本夜不能再用另一瓶
func (e *GameEngine) actWitch(ctx context.Context, victim *models.Player) error {
	for _, witch := range e.state.AliveByRole(models.Witch) {
		var sb strings.Builder
		sb.WriteString("女巫请睁眼。")
		if victim != nil {
			sb.WriteString(fmt.Sprintf("今晚 %s(%s) 被袭击。", victim.ID, victim.Name))
		} else {
			sb.WriteString("今晚无人被袭击。")
		}
		if victim != nil && e.state.HasSavePotion() {
			sb.WriteString("你可以回复\"救\"使用解药。")
		}
		var candidates []*models.Player
		if e.state.HasPoisonPotion() {
			for _, p := range e.state.AlivePlayers() {
				if p.ID != witch.ID {
					candidates = append(candidates, p)
				}
			}
			sb.WriteString("你也可以选择一名玩家使用毒药,或回复\"过\"放弃。")
		}

		resp, err := e.ask(ctx, witch, e.buildPrompt(witch, sb.String(), candidates))
		if err != nil {
			return err
		}

		wantSave := strings.Contains(resp, "救") && !strings.Contains(resp, "不救")
		if victim != nil && wantSave && e.state.UseSavePotion() {
			e.state.CancelKill(victim.ID)
			e.state.RecordNightAction(NightAction{
				ActorID: witch.ID, Role: witch.Role,
				Kind: models.AbilityPotion, TargetID: victim.ID,
			})
			continue
		}

		if target := e.parseTarget(resp, candidates); target != nil && e.state.UsePoisonPotion() {
			e.state.Poison(target.ID)
			e.state.RecordNightAction(NightAction{
				ActorID: witch.ID, Role: witch.Role,
				Kind: models.AbilityPotion, TargetID: target.ID,
			})
		}
	}
	return nil
}

// actSeer 预言家行动,查验结果只发给预言家本人
func (e *GameEngine) actSeer(ctx context.Context) error {
	for _, seer := range e.state.AliveByRole(models.Seer) {
		var candidates []*models.Player
		for _, p := range e.state.AlivePlayers() {
			if p.ID != seer.ID {
				candidates = append(candidates, p)
			}
		}
		resp, err := e.ask(ctx, seer, e.buildPrompt(seer, "预言家请睁眼,请选择今晚查验的目标。", candidates))
		if err != nil {
			return err
		}
		target := e.parseTarget(resp, candidates)
		if target == nil {
			continue
		}
		camp := "好人"
		if models.IsWolf(target.Role) {
			camp = "狼人"
		}
		e.emit(models.GameEvent{
			Type:     models.EventCheckResult,
			PlayerID: seer.ID,
			TargetID: target.ID,
			Content:  fmt.Sprintf("查验结果:%s(%s) 是%s", target.ID, target.Name, camp),
			Private:  true,
		})
		e.state.RecordNightAction(NightAction{
			ActorID: seer.ID, Role: seer.Role,
			Kind: models.AbilityInvestigate, TargetID: target.ID,
		})
	}
	return nil
}

// resolveHunters 处理猎人开枪的连锁
// 死亡已经结算完毕,被毒死的猎人不能开枪
func (e *GameEngine) resolveHunters(ctx context.Context, dead []*models.Player) error {
	queue := make([]*models.Player, len(dead))
	copy(queue, dead)

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		if p.Role != models.Hunter || e.state.IsPoisoned(p.ID) {
			continue
		}

		candidates := e.state.AlivePlayers()
		if len(candidates) == 0 {
			return nil
		}
		resp, err := e.ask(ctx, p, e.buildPrompt(p, "你是猎人,死亡时可以开枪带走一名玩家,或回复\"过\"放弃。", candidates))
		if err != nil {
			return err
		}
		target := e.parseTarget(resp, candidates)
		if target == nil {
			continue
		}

		e.state.Eliminate(target.ID)
		e.emit(models.GameEvent{
			Type:     models.EventDeath,
			PlayerID: p.ID,
			TargetID: target.ID,
			Content:  fmt.Sprintf("猎人 %s(%s) 开枪带走了 %s(%s)", p.ID, p.Name, target.ID, target.Name),
		})
		queue = append(queue, target)
	}
	return nil
}

// runDiscussion 白天讨论阶段,存活玩家按座次依次发言
func (e *GameEngine) runDiscussion(ctx context.Context) error {
	e.emit(models.GameEvent{
		Type:    models.EventPhase,
		Content: fmt.Sprintf("第 %d 天,开始讨论", e.state.Round()),
	})

	for _, p := range e.state.AlivePlayers() {
		resp, err := e.ask(ctx, p, e.buildPrompt(p, "轮到你发言,请结合局势陈述你的观点。", nil))
		if err != nil {
			return err
		}
		e.emit(models.GameEvent{
			Type:     models.EventStatement,
			PlayerID: p.ID,
			Content:  fmt.Sprintf("%s(%s): %s", p.ID, p.Name, resp),
		})
	}
	return nil
}

// runVote 投票放逐阶段
// 得票最多者被放逐,平票时无人出局,无法解析的回应视为弃票
func (e *GameEngine) runVote(ctx context.Context) error {
	e.emit(models.GameEvent{
		Type:    models.EventPhase,
		Content: "讨论结束,开始投票",
	})

	alive := e.state.AlivePlayers()
	for _, voter := range alive {
		var candidates []*models.Player
		for _, p := range alive {
			if p.ID != voter.ID {
				candidates = append(candidates, p)
			}
		}
		resp, err := e.ask(ctx, voter, e.buildPrompt(voter, "请投票选出你要放逐的玩家。", candidates))
		if err != nil {
			return err
		}
		target := e.parseTarget(resp, candidates)
		if target == nil {
			zap.S().Debugw("弃票", "player", voter.ID)
			continue
		}
		e.state.RecordVote(voter.ID, target.ID)
	}

	eliminated, tied := tallyVotes(alive, e.state.Votes())
	if eliminated == nil {
		reason := "无人投票"
		if tied {
			reason = "平票"
		}
		e.emit(models.GameEvent{
			Type:    models.EventVoteResult,
			Content: fmt.Sprintf("%s,本轮无人被放逐", reason),
		})
		return nil
	}

	e.state.Eliminate(eliminated.ID)
	e.emit(models.GameEvent{
		Type:     models.EventVoteResult,
		TargetID: eliminated.ID,
		Content:  fmt.Sprintf("投票结果:%s(%s) 被放逐", eliminated.ID, eliminated.Name),
	})

	return e.resolveHunters(ctx, []*models.Player{eliminated})
}

// tallyVotes 统计票数,按座次遍历保证结果与 map 遍历顺序无关
// 返回被放逐者,平票或无票时返回 nil,tied 标记是否因平票
func tallyVotes(seats []*models.Player, votes map[string]string) (eliminated *models.Player, tied bool) {
	counts := make(map[string]int)
	for _, target := range votes {
		counts[target]++
	}
	if len(counts) == 0 {
		return nil, false
	}

	maxCount := 0
	for _, c := range counts {
		if c > maxCount {
			maxCount = c
		}
	}

	var top []*models.Player
	for _, p := range seats {
		if counts[p.ID] == maxCount {
			top = append(top, p)
		}
	}
	if len(top) != 1 {
		return nil, true
	}
	return top[0], false
}

// ask 向玩家发起提问,应答错误视为致命错误
func (e *GameEngine) ask(ctx context.Context, p *models.Player, prompt string) (string, error) {
	responder, ok := e.responders[p.ID]
	if !ok {
		return "", fmt.Errorf("%w: 找不到玩家 %s 的应答者", ErrResponderFailed, p.ID)
	}
	resp, err := responder.Respond(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %s(%s): %v", ErrResponderFailed, p.ID, p.Name, err)
	}
	return strings.TrimSpace(resp), nil
}

// buildPrompt 组装提示词:身份 + 最近公开历史 + 指令 + 可选目标
func (e *GameEngine) buildPrompt(p *models.Player, instruction string, candidates []*models.Player) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("你是 %s(%s),身份是%s,现在是第 %d 轮。\n",
		p.ID, p.Name, models.DisplayName(p.Role), e.state.Round()))

	history := e.state.PublicHistory()
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	if len(history) > 0 {
		sb.WriteString("最近发生的事:\n")
		for _, event := range history {
			sb.WriteString("- " + event.Content + "\n")
		}
	}

	sb.WriteString(instruction)
	if len(candidates) > 0 {
		ids := make([]string, len(candidates))
		for i, c := range candidates {
			ids[i] = fmt.Sprintf("%s(%s)", c.ID, c.Name)
		}
		sb.WriteString("\n可选目标: " + strings.Join(ids, ", "))
	}
	return sb.String()
}

// parseTarget 从回应中解析目标,取第一个命中候选名单的座位号或名字
func (e *GameEngine) parseTarget(resp string, candidates []*models.Player) *models.Player {
	if resp == "" || len(candidates) == 0 {
		return nil
	}
	for _, seat := range seatPattern.FindAllString(resp, -1) {
		for _, c := range candidates {
			if c.ID == seat {
				return c
			}
		}
	}
	for _, c := range candidates {
		if strings.Contains(resp, c.Name) {
			return c
		}
	}
	return nil
}

// finish 结束对局并广播结果
func (e *GameEngine) finish(result models.VictoryResult) {
	e.state.SetPhase(PhaseOver)
	e.emit(models.GameEvent{
		Type:    models.EventGameOver,
		Content: result.Reason,
	})
	zap.S().Infow("对局结束", "outcome", result.Outcome, "rounds", e.state.Round())
}

// emit 记录并广播事件
func (e *GameEngine) emit(event models.GameEvent) {
	e.state.AppendEvent(event)
	if e.broadcaster != nil && !event.Private {
		e.broadcaster.Publish(event)
	}
}

// wolvesAlive 按座次返回存活的狼人
func (e *GameEngine) wolvesAlive() []*models.Player {
	var wolves []*models.Player
	for _, p := range e.state.AlivePlayers() {
		if models.IsWolf(p.Role) {
			wolves = append(wolves, p)
		}
	}
	return wolves
}

// PlayerSummary 终局玩家信息,身份公开
type PlayerSummary struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	Role models.Role `json:"role"`
}

// Summary 对局摘要
type Summary struct {
	Outcome models.Outcome  `json:"outcome"`
	Reason  string          `json:"reason"`
	Rounds  int             `json:"rounds"`
	Alive   []PlayerSummary `json:"alive"`
	Dead    []PlayerSummary `json:"dead"`
}

// Summary 生成当前对局摘要,对局未结束时 Outcome 为 ongoing
func (e *GameEngine) Summary() *Summary {
	if e.state == nil {
		return &Summary{Outcome: models.OutcomeOngoing}
	}

	result := CheckVictory(e.state)
	s := &Summary{
		Outcome: result.Outcome,
		Reason:  result.Reason,
		Rounds:  e.state.Round(),
	}
	if e.state.Phase() != PhaseOver {
		s.Outcome = models.OutcomeOngoing
		s.Reason = "对局未结束"
	}
	for _, p := range e.state.Players() {
		ps := PlayerSummary{ID: p.ID, Name: p.Name, Role: p.Role}
		if p.Alive {
			s.Alive = append(s.Alive, ps)
		} else {
			s.Dead = append(s.Dead, ps)
		}
	}
	return s
}

// String 控制台友好的摘要输出,所有身份公开
func (s *Summary) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("===== 对局结束(共 %d 轮)=====\n", s.Rounds))
	if s.Reason != "" {
		sb.WriteString(s.Reason + "\n")
	}
	sb.WriteString("存活:\n")
	for _, p := range s.Alive {
		sb.WriteString(fmt.Sprintf("  %s(%s) - %s\n", p.ID, p.Name, models.DisplayName(p.Role)))
	}
	sb.WriteString("死亡:\n")
	for _, p := range s.Dead {
		sb.WriteString(fmt.Sprintf("  %s(%s) - %s\n", p.ID, p.Name, models.DisplayName(p.Role)))
	}
	return sb.String()
}
