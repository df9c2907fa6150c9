package services

import (
	"errors"
	"testing"
	"time"

	"github.com/qianlnk/llm-werewolf/config"
	"github.com/qianlnk/llm-werewolf/models"
)

func TestMatchManagerLifecycle(t *testing.T) {
	mm := NewMatchManager(NewWebSocketManager())

	preset, err := config.PresetByName("6-players")
	if err != nil {
		t.Fatalf("查找板子失败: %v", err)
	}

	match, err := mm.CreateMatch(preset)
	if err != nil {
		t.Fatalf("创建对局失败: %v", err)
	}
	if match.ID == "" {
		t.Fatal("对局应当有ID")
	}

	got, err := mm.GetMatch(match.ID)
	if err != nil || got.ID != match.ID {
		t.Fatalf("查找对局失败: %v", err)
	}
	if len(mm.ListMatches()) != 1 {
		t.Fatal("对局列表数量错误")
	}

	if _, err := mm.GetMatch("不存在"); !errors.Is(err, ErrMatchNotFound) {
		t.Fatalf("未知对局应当报错: %v", err)
	}

	// 内置应答者的对局很快收尾,轮询等待结果
	deadline := time.Now().Add(10 * time.Second)
	for {
		status := match.Status()
		if status.Outcome != models.OutcomeOngoing {
			if status.Round < 1 {
				t.Fatalf("轮次错误: %+v", status)
			}
			for _, p := range status.Players {
				if p.Role == "" {
					t.Fatalf("终局后应公开身份: %+v", p)
				}
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("对局超时未结束: %+v", status)
		}
		time.Sleep(50 * time.Millisecond)
	}

	if err := mm.StopMatch(match.ID); err != nil {
		t.Fatalf("中止对局失败: %v", err)
	}
}

func TestMatchStatusHidesRolesWhileRunning(t *testing.T) {
	mm := NewMatchManager(NewWebSocketManager())
	preset, _ := config.PresetByName("9-players")

	match, err := mm.CreateMatch(preset)
	if err != nil {
		t.Fatalf("创建对局失败: %v", err)
	}
	defer mm.StopMatch(match.ID)

	status := match.Status()
	if status.Phase == PhaseOver {
		return // 对局已经结束,不再检查隐藏
	}
	for _, p := range status.Players {
		if p.Role != "" {
			t.Fatalf("对局进行中不应公开身份: %+v", p)
		}
	}
}
