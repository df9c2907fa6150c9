package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/qianlnk/llm-werewolf/models"
)

func playerID(i int) string {
	return fmt.Sprintf("player_%d", i)
}

// script 按 玩家名 -> 指令关键字 -> 回应 查表,测试在开局后按实际身份填表
type script struct {
	mu      sync.Mutex
	answers map[string]map[string]string
	fail    map[string]bool
}

func newScript() *script {
	return &script{
		answers: make(map[string]map[string]string),
		fail:    make(map[string]bool),
	}
}

func (s *script) set(name, key, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.answers[name] == nil {
		s.answers[name] = make(map[string]string)
	}
	s.answers[name][key] = answer
}

func (s *script) failOn(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[name] = true
}

type fakeResponder struct {
	name   string
	script *script
}

func (r *fakeResponder) Respond(_ context.Context, prompt string) (string, error) {
	r.script.mu.Lock()
	defer r.script.mu.Unlock()
	if r.script.fail[r.name] {
		return "", errors.New("模拟掉线")
	}
	for key, answer := range r.script.answers[r.name] {
		if strings.Contains(prompt, key) {
			return answer, nil
		}
	}
	return "过", nil
}

func (r *fakeResponder) Name() string { return r.name }
func (r *fakeResponder) Reset()       {}

// newTestEngine 创建固定种子的引擎并完成开局
func newTestEngine(t *testing.T, roles []models.Role, sc *script) *GameEngine {
	t.Helper()
	responders := make([]Responder, len(roles))
	for i := range roles {
		responders[i] = &fakeResponder{name: fmt.Sprintf("测试%d", i+1), script: sc}
	}
	engine := NewGameEngine(responders)
	engine.SetSeed(42)
	if err := engine.SetupGame(roles); err != nil {
		t.Fatalf("开局失败: %v", err)
	}
	return engine
}

// findByRole 按身份找玩家,要求恰好一个
func findByRole(t *testing.T, engine *GameEngine, role models.Role) *models.Player {
	t.Helper()
	players := engine.State().AliveByRole(role)
	if len(players) != 1 {
		t.Fatalf("期望恰好一名%s, 实际 %d", role, len(players))
	}
	return players[0]
}

func TestSetupAssignsRoleMultiset(t *testing.T) {
	roles := []models.Role{
		models.Werewolf, models.Werewolf, models.Werewolf,
		models.Seer, models.Witch, models.Hunter,
		models.Villager, models.Villager, models.Villager,
	}
	engine := newTestEngine(t, roles, newScript())

	want := make(map[models.Role]int)
	for _, r := range roles {
		want[r]++
	}
	got := make(map[models.Role]int)
	for i, p := range engine.State().Players() {
		if p.ID != playerID(i+1) {
			t.Errorf("座位号错误: %s", p.ID)
		}
		if !p.Alive {
			t.Errorf("开局玩家应当存活: %s", p.ID)
		}
		got[p.Role]++
	}
	for role, count := range want {
		if got[role] != count {
			t.Errorf("角色 %s 数量错误: got %d, want %d", role, got[role], count)
		}
	}
}

func TestSetupRejectsRoleCountMismatch(t *testing.T) {
	responders := []Responder{
		&fakeResponder{name: "甲", script: newScript()},
		&fakeResponder{name: "乙", script: newScript()},
	}
	engine := NewGameEngine(responders)
	err := engine.SetupGame([]models.Role{models.Werewolf})
	if !errors.Is(err, ErrRoleCountMismatch) {
		t.Fatalf("应当拒绝数量不匹配: %v", err)
	}
}

func TestSetupRejectsDuplicateNames(t *testing.T) {
	sc := newScript()
	responders := []Responder{
		&fakeResponder{name: "同名", script: sc},
		&fakeResponder{name: "同名", script: sc},
	}
	engine := NewGameEngine(responders)
	err := engine.SetupGame([]models.Role{models.Werewolf, models.Villager})
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("应当拒绝同名玩家: %v", err)
	}
}

func TestSetupTwiceFails(t *testing.T) {
	engine := newTestEngine(t, []models.Role{models.Werewolf, models.Villager}, newScript())
	err := engine.SetupGame([]models.Role{models.Werewolf, models.Villager})
	if !errors.Is(err, ErrGameStarted) {
		t.Fatalf("重复开局应当报错: %v", err)
	}
}

func TestStepBeforeSetup(t *testing.T) {
	engine := NewGameEngine([]Responder{&fakeResponder{name: "甲", script: newScript()}})
	if _, err := engine.Step(context.Background()); !errors.Is(err, ErrGameNotStarted) {
		t.Fatalf("未开局不应能推进: %v", err)
	}
}

func TestProtectCancelsKill(t *testing.T) {
	sc := newScript()
	engine := newTestEngine(t, []models.Role{
		models.Guard, models.Werewolf, models.Villager, models.Villager,
	}, sc)

	guard := findByRole(t, engine, models.Guard)
	wolf := findByRole(t, engine, models.Werewolf)
	victim := engine.State().AliveByRole(models.Villager)[0]

	sc.set(guard.Name, "守卫请睁眼", victim.ID)
	sc.set(wolf.Name, "狼人请睁眼", victim.ID)

	done, err := engine.Step(context.Background())
	if err != nil || done {
		t.Fatalf("夜晚阶段异常: done=%v err=%v", done, err)
	}

	if !victim.Alive {
		t.Fatal("被守护的目标不应死亡")
	}
	for _, e := range engine.State().History() {
		if e.Type == models.EventDeath {
			t.Fatalf("守护抵消刀杀后不应有死亡事件: %+v", e)
		}
	}
	if engine.State().Phase() != PhaseDay {
		t.Fatalf("夜晚后应进入白天: %s", engine.State().Phase())
	}
}

func TestWitchSaveIsOneShot(t *testing.T) {
	sc := newScript()
	engine := newTestEngine(t, []models.Role{
		models.Werewolf, models.Witch, models.Villager, models.Villager, models.Villager,
	}, sc)

	wolf := findByRole(t, engine, models.Werewolf)
	witch := findByRole(t, engine, models.Witch)
	victim := engine.State().AliveByRole(models.Villager)[0]

	sc.set(wolf.Name, "狼人请睁眼", victim.ID)
	sc.set(witch.Name, "女巫请睁眼", "救")

	if _, err := engine.Step(context.Background()); err != nil {
		t.Fatalf("第一夜失败: %v", err)
	}
	if !victim.Alive {
		t.Fatal("解药应当撤销当夜死亡")
	}
	if engine.State().HasSavePotion() {
		t.Fatal("解药应当只有一瓶")
	}

	// 白天和投票全员弃票,第二夜解药已用,同一刀口必死
	if _, err := engine.Step(context.Background()); err != nil {
		t.Fatalf("白天失败: %v", err)
	}
	if _, err := engine.Step(context.Background()); err != nil {
		t.Fatalf("投票失败: %v", err)
	}
	if _, err := engine.Step(context.Background()); err != nil {
		t.Fatalf("第二夜失败: %v", err)
	}
	if victim.Alive {
		t.Fatal("解药用完后刀口应当死亡")
	}
}

func TestWitchPoisonIgnoresProtection(t *testing.T) {
	sc := newScript()
	engine := newTestEngine(t, []models.Role{
		models.Guard, models.Witch, models.Werewolf,
		models.Villager, models.Villager, models.Villager,
	}, sc)

	guard := findByRole(t, engine, models.Guard)
	witch := findByRole(t, engine, models.Witch)
	target := engine.State().AliveByRole(models.Villager)[0]

	// 守卫守护目标,女巫毒同一目标,毒药不可被守护
	sc.set(guard.Name, "守卫请睁眼", target.ID)
	sc.set(witch.Name, "女巫请睁眼", target.ID)

	if _, err := engine.Step(context.Background()); err != nil {
		t.Fatalf("夜晚失败: %v", err)
	}
	if target.Alive {
		t.Fatal("毒药不应被守护抵消")
	}
	if engine.State().HasPoisonPotion() {
		t.Fatal("毒药应当只有一瓶")
	}
}

func TestSeerCheckIsPrivate(t *testing.T) {
	sc := newScript()
	engine := newTestEngine(t, []models.Role{
		models.Seer, models.Werewolf, models.Villager, models.Villager,
	}, sc)

	seer := findByRole(t, engine, models.Seer)
	wolf := findByRole(t, engine, models.Werewolf)
	sc.set(seer.Name, "预言家请睁眼", wolf.ID)

	if _, err := engine.Step(context.Background()); err != nil {
		t.Fatalf("夜晚失败: %v", err)
	}

	var found bool
	for _, e := range engine.State().History() {
		if e.Type == models.EventCheckResult {
			found = true
			if !e.Private {
				t.Fatal("查验结果必须是私有事件")
			}
			if e.PlayerID != seer.ID || !strings.Contains(e.Content, "狼人") {
				t.Fatalf("查验结果错误: %+v", e)
			}
		}
	}
	if !found {
		t.Fatal("缺少查验结果事件")
	}
	for _, e := range engine.State().PublicHistory() {
		if e.Type == models.EventCheckResult {
			t.Fatal("查验结果泄露到公开历史")
		}
	}
}

func TestVoteTieNoElimination(t *testing.T) {
	sc := newScript()
	engine := newTestEngine(t, []models.Role{
		models.Werewolf, models.Villager, models.Villager,
		models.Villager, models.Villager,
	}, sc)

	wolf := findByRole(t, engine, models.Werewolf)
	villagers := engine.State().AliveByRole(models.Villager)
	sc.set(wolf.Name, "狼人请睁眼", villagers[len(villagers)-1].ID)

	if _, err := engine.Step(context.Background()); err != nil {
		t.Fatalf("夜晚失败: %v", err)
	}
	if _, err := engine.Step(context.Background()); err != nil {
		t.Fatalf("白天失败: %v", err)
	}

	// 一票对一票,其余弃票
	sc.set(wolf.Name, "请投票选出", villagers[0].ID)
	sc.set(villagers[0].Name, "请投票选出", wolf.ID)

	aliveBefore := len(engine.State().AlivePlayers())
	done, err := engine.Step(context.Background())
	if err != nil || done {
		t.Fatalf("投票阶段异常: done=%v err=%v", done, err)
	}
	if got := len(engine.State().AlivePlayers()); got != aliveBefore {
		t.Fatalf("平票不应有人出局: %d -> %d", aliveBefore, got)
	}

	var tieAnnounced bool
	for _, e := range engine.State().History() {
		if e.Type == models.EventVoteResult && strings.Contains(e.Content, "平票") {
			tieAnnounced = true
		}
	}
	if !tieAnnounced {
		t.Fatal("缺少平票公告")
	}
}

func TestVoteEliminatesAndHunterFires(t *testing.T) {
	sc := newScript()
	engine := newTestEngine(t, []models.Role{
		models.Werewolf, models.Hunter, models.Villager,
		models.Villager, models.Villager, models.Villager,
	}, sc)

	wolf := findByRole(t, engine, models.Werewolf)
	hunter := findByRole(t, engine, models.Hunter)
	villagers := engine.State().AliveByRole(models.Villager)

	sc.set(wolf.Name, "狼人请睁眼", villagers[0].ID)
	for _, p := range engine.State().Players() {
		sc.set(p.Name, "请投票选出", hunter.ID)
	}
	sc.set(hunter.Name, "请投票选出", wolf.ID)
	sc.set(hunter.Name, "你是猎人", wolf.ID)

	if _, err := engine.Step(context.Background()); err != nil {
		t.Fatalf("夜晚失败: %v", err)
	}
	if _, err := engine.Step(context.Background()); err != nil {
		t.Fatalf("白天失败: %v", err)
	}

	done, err := engine.Step(context.Background())
	if err != nil {
		t.Fatalf("投票失败: %v", err)
	}
	if hunter.Alive {
		t.Fatal("猎人应当被放逐")
	}
	if wolf.Alive {
		t.Fatal("猎人开枪应当带走狼人")
	}
	if !done {
		t.Fatal("狼人清空后对局应当结束")
	}

	summary := engine.Summary()
	if summary.Outcome != models.OutcomeVillagerWin {
		t.Fatalf("结果错误: %+v", summary)
	}
	if len(summary.Alive)+len(summary.Dead) != 6 {
		t.Fatalf("摘要玩家数量错误: %+v", summary)
	}
	for _, p := range summary.Dead {
		if p.Role == "" {
			t.Fatal("终局摘要应公开身份")
		}
	}
}

func TestResponderFailureIsFatal(t *testing.T) {
	sc := newScript()
	engine := newTestEngine(t, []models.Role{
		models.Werewolf, models.Villager, models.Villager,
	}, sc)

	wolf := findByRole(t, engine, models.Werewolf)
	sc.failOn(wolf.Name)

	_, err := engine.Step(context.Background())
	if !errors.Is(err, ErrResponderFailed) {
		t.Fatalf("应答失败应当终止对局: %v", err)
	}
}

func TestPlayGameCancelled(t *testing.T) {
	engine := newTestEngine(t, []models.Role{
		models.Werewolf, models.Villager, models.Villager, models.Villager,
	}, newScript())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := engine.PlayGame(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("取消后应返回 context.Canceled: %v", err)
	}
	if summary == nil || summary.Outcome != models.OutcomeOngoing {
		t.Fatalf("中止后的摘要应标记对局未结束: %+v", summary)
	}
}

func TestConcurrentStatusReadsDuringPlay(t *testing.T) {
	roles := []models.Role{
		models.Werewolf, models.Werewolf, models.Werewolf,
		models.Seer, models.Witch, models.Hunter,
		models.Villager, models.Villager, models.Villager,
	}
	responders := make([]Responder, len(roles))
	for i := range roles {
		responders[i] = NewDemoAgent(fmt.Sprintf("机器人%d", i+1), int64(i+1))
	}

	engine := NewGameEngine(responders)
	engine.SetSeed(11)
	if err := engine.SetupGame(roles); err != nil {
		t.Fatalf("开局失败: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := engine.PlayGame(context.Background())
		done <- err
	}()

	// 对局进行中持续读取状态快照,模拟状态接口的并发访问
	state := engine.State()
	for {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("对局失败: %v", err)
			}
			return
		default:
		}
		view := state.PlayersView()
		if len(view) != len(roles) {
			t.Fatalf("快照玩家数量错误: %d", len(view))
		}
		_ = state.Phase()
		_ = state.Round()
		_ = state.PublicHistory()
		time.Sleep(time.Millisecond)
	}
}

func TestPlayGameWithDemoAgents(t *testing.T) {
	roles := []models.Role{
		models.Werewolf, models.Werewolf, models.Werewolf,
		models.Seer, models.Witch, models.Hunter,
		models.Villager, models.Villager, models.Villager,
	}
	responders := make([]Responder, len(roles))
	for i := range roles {
		responders[i] = NewDemoAgent(fmt.Sprintf("机器人%d", i+1), int64(i+1))
	}

	engine := NewGameEngine(responders)
	engine.SetSeed(7)
	if err := engine.SetupGame(roles); err != nil {
		t.Fatalf("开局失败: %v", err)
	}

	summary, err := engine.PlayGame(context.Background())
	if err != nil {
		t.Fatalf("对局失败: %v", err)
	}
	if summary.Outcome == models.OutcomeOngoing {
		t.Fatalf("对局应当分出胜负: %+v", summary)
	}
	if summary.Rounds < 1 {
		t.Fatalf("轮次错误: %d", summary.Rounds)
	}
	if len(summary.Alive)+len(summary.Dead) != len(roles) {
		t.Fatalf("摘要玩家数量错误: %+v", summary)
	}
}
