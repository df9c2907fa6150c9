package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"

	"github.com/qianlnk/llm-werewolf/models"
)

var (
	ErrNoPlayers      = errors.New("玩家配置为空")
	ErrDuplicateName  = errors.New("玩家名字重复")
	ErrEmptyName      = errors.New("玩家名字不能为空")
	ErrMissingBaseURL = errors.New("大模型玩家缺少 base_url")
	ErrUnknownPreset  = errors.New("未知的板子配置")
	ErrPlayerMismatch = errors.New("玩家人数与板子不匹配")
)

// PlayerConfig 单个玩家的配置
type PlayerConfig struct {
	Name        string  `mapstructure:"name"`
	Model       string  `mapstructure:"model"`        // human / demo / 其他值视为大模型名
	BaseURL     string  `mapstructure:"base_url"`     // 大模型接口地址
	APIKeyEnv   string  `mapstructure:"api_key_env"`  // 存放密钥的环境变量名
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// PlayersConfig 对局玩家配置文件
type PlayersConfig struct {
	Players []PlayerConfig `mapstructure:"players"`
}

// LoadPlayers 从 YAML 文件加载玩家配置
func LoadPlayers(path string) (*PlayersConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取玩家配置失败: %w", err)
	}

	var cfg PlayersConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析玩家配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验玩家配置
func (c *PlayersConfig) Validate() error {
	if len(c.Players) == 0 {
		return ErrNoPlayers
	}
	seen := make(map[string]bool)
	for _, p := range c.Players {
		if p.Name == "" {
			return ErrEmptyName
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateName, p.Name)
		}
		seen[p.Name] = true

		// human 和 demo 之外的 model 值都是大模型,必须显式配置接口地址
		if p.Model != "human" && p.Model != "demo" && p.BaseURL == "" {
			return fmt.Errorf("%w: %s", ErrMissingBaseURL, p.Name)
		}
	}
	return nil
}

// Preset 板子,规定一局游戏的角色构成
type Preset struct {
	Name  string
	Roles []models.Role
}

// presets 内置板子
var presets = map[string]Preset{
	"6-players": {
		Name: "6-players",
		Roles: []models.Role{
			models.Werewolf, models.Werewolf,
			models.Seer, models.Witch,
			models.Villager, models.Villager,
		},
	},
	"9-players": {
		Name: "9-players",
		Roles: []models.Role{
			models.Werewolf, models.Werewolf, models.Werewolf,
			models.Seer, models.Witch, models.Hunter,
			models.Villager, models.Villager, models.Villager,
		},
	},
	"12-players": {
		Name: "12-players",
		Roles: []models.Role{
			models.Werewolf, models.Werewolf, models.Werewolf, models.WhiteWolf,
			models.Seer, models.Witch, models.Hunter, models.Guard,
			models.Villager, models.Villager, models.Villager, models.Villager,
		},
	},
}

// PresetByName 按名字查找板子
func PresetByName(name string) (Preset, error) {
	p, ok := presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %s", ErrUnknownPreset, name)
	}
	return p, nil
}

// PresetNames 返回所有板子名字
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	return names
}

// CheckPreset 校验玩家人数与板子是否匹配
func (c *PlayersConfig) CheckPreset(p Preset) error {
	if len(c.Players) != len(p.Roles) {
		return fmt.Errorf("%w: 板子 %s 需要 %d 人,配置了 %d 人",
			ErrPlayerMismatch, p.Name, len(p.Roles), len(c.Players))
	}
	return nil
}
