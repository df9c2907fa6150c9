package models

import "testing"

func TestRoleTaxonomy(t *testing.T) {
	cases := []struct {
		role    Role
		camp    Camp
		ability AbilityKind
	}{
		{Villager, CampVillager, AbilityNone},
		{Werewolf, CampWerewolf, AbilityKill},
		{WhiteWolf, CampWerewolf, AbilityKill},
		{Seer, CampVillager, AbilityInvestigate},
		{Witch, CampVillager, AbilityPotion},
		{Hunter, CampVillager, AbilityRevenge},
		{Guard, CampVillager, AbilityProtect},
	}
	for _, c := range cases {
		if got := CampOf(c.role); got != c.camp {
			t.Errorf("%s 阵营错误: got %s, want %s", c.role, got, c.camp)
		}
		if got := AbilityOf(c.role); got != c.ability {
			t.Errorf("%s 技能错误: got %s, want %s", c.role, got, c.ability)
		}
	}
}

func TestNightOrderPriority(t *testing.T) {
	for i := 1; i < len(NightOrder); i++ {
		prev, cur := NightOrder[i-1], NightOrder[i]
		if PriorityOf(prev) >= PriorityOf(cur) {
			t.Errorf("夜晚顺序优先级未递增: %s(%d) >= %s(%d)",
				prev, PriorityOf(prev), cur, PriorityOf(cur))
		}
	}
}

func TestUnknownRolePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("未知角色应当 panic")
		}
	}()
	CampOf(Role("cupid"))
}

func TestEliminateIdempotent(t *testing.T) {
	p := &Player{ID: "player_1", Name: "甲", Role: Villager, Alive: true}

	p.Eliminate()
	if p.Alive {
		t.Fatal("淘汰后应当死亡")
	}
	p.Eliminate()
	if p.Alive {
		t.Fatal("重复淘汰不应改变状态")
	}
}

func TestClearNightStatus(t *testing.T) {
	p := &Player{ID: "player_1", Role: Villager, Alive: true,
		Protected: true, Marked: true, Poisoned: true}

	p.ClearNightStatus()
	if p.Protected || p.Marked || p.Poisoned {
		t.Fatalf("当夜状态未清空: %+v", p)
	}
	if !p.Alive {
		t.Fatal("清空状态不应影响存活标记")
	}
}
