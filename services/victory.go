package services

import (
	"github.com/qianlnk/llm-werewolf/models"
)

// CheckVictory 判定当前局面的胜负,纯函数,不修改状态
// 特殊胜利(白狼王单挑、双方同归于尽)先于常规阵营人数判定
func CheckVictory(state *GameState) models.VictoryResult {
	werewolfCount := 0
	whiteWolfCount := 0
	villagerCount := 0

	for _, player := range state.Players() {
		if !player.Alive {
			continue
		}
		switch player.Role {
		case models.WhiteWolf:
			whiteWolfCount++
			werewolfCount++
		case models.Werewolf:
			werewolfCount++
		default:
			villagerCount++
		}
	}

	// 1. 白狼王觉醒胜利:场上只剩白狼王一人
	if whiteWolfCount == 1 && werewolfCount == 1 && villagerCount == 0 {
		return models.VictoryResult{
			Outcome: models.OutcomeWhiteWolfWin,
			Reason:  "白狼王觉醒胜利:白狼王成为最后的胜利者",
		}
	}

	// 2. 同归于尽:场上无人存活
	if werewolfCount == 0 && villagerCount == 0 {
		return models.VictoryResult{
			Outcome: models.OutcomeDraw,
			Reason:  "平局:场上已无人存活",
		}
	}

	// 常规胜利条件判定
	if werewolfCount == 0 {
		return models.VictoryResult{
			Outcome: models.OutcomeVillagerWin,
			Reason:  "好人阵营胜利:所有狼人都已被清除",
		}
	}
	if werewolfCount >= villagerCount {
		return models.VictoryResult{
			Outcome: models.OutcomeWerewolfWin,
			Reason:  "狼人阵营胜利:狼人数量已经超过或等于好人数量",
		}
	}

	return models.VictoryResult{Outcome: models.OutcomeOngoing}
}
