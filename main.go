package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/qianlnk/llm-werewolf/config"
	"github.com/qianlnk/llm-werewolf/logger"
	"github.com/qianlnk/llm-werewolf/models"
	"github.com/qianlnk/llm-werewolf/services"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有跨域请求，生产环境中应该更严格
		},
	}

	matchManager *services.MatchManager
	webSocketMgr *services.WebSocketManager
)

func main() {
	var (
		configPath = flag.String("config", "players.yaml", "玩家配置文件路径")
		presetName = flag.String("preset", "9-players", "板子名称")
		serve      = flag.Bool("serve", false, "以服务器模式运行")
		addr       = flag.String("addr", ":8080", "服务器监听地址")
		logLevel   = flag.String("log-level", "info", "日志级别: debug/info/warn/error")
		stepMode   = flag.Bool("step", false, "单步模式,每个阶段结束后等待回车")
	)
	flag.Parse()

	logger.InitLogger(*logLevel)
	defer zap.L().Sync()

	if *serve {
		runServer(*addr)
		return
	}
	runConsole(*configPath, *presetName, *stepMode)
}

// runConsole 控制台模式:加载配置,组装应答者,驱动一整局并打印摘要
func runConsole(configPath, presetName string, stepMode bool) {
	preset, err := config.PresetByName(presetName)
	if err != nil {
		zap.S().Fatalw("加载板子失败", "preset", presetName,
			"available", config.PresetNames(), "error", err)
	}

	playersCfg, err := config.LoadPlayers(configPath)
	if err != nil {
		zap.S().Fatalw("加载玩家配置失败", "path", configPath, "error", err)
	}
	if err := playersCfg.CheckPreset(preset); err != nil {
		zap.S().Fatalw("玩家配置与板子不匹配", "error", err)
	}

	responders := make([]services.Responder, len(playersCfg.Players))
	for i, pc := range playersCfg.Players {
		responder, err := services.NewResponder(pc)
		if err != nil {
			zap.S().Fatalw("创建应答者失败", "player", pc.Name, "error", err)
		}
		responders[i] = responder
	}

	engine := services.NewGameEngine(responders)
	engine.SetBroadcaster(consoleBroadcaster{})
	if err := engine.SetupGame(preset.Roles); err != nil {
		zap.S().Fatalw("初始化对局失败", "error", err)
	}

	// Ctrl+C 取消对局,已结算的状态保持一致
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var summary *services.Summary
	if stepMode {
		summary, err = playStepwise(ctx, engine)
	} else {
		summary, err = engine.PlayGame(ctx)
	}
	if err != nil {
		zap.S().Warnw("对局提前终止", "error", err)
	}
	fmt.Println(summary)
}

// playStepwise 单步执行,每个阶段结束后等待回车
func playStepwise(ctx context.Context, engine *services.GameEngine) (*services.Summary, error) {
	reader := bufio.NewReader(os.Stdin)
	for {
		done, err := engine.Step(ctx)
		if err != nil {
			return engine.Summary(), err
		}
		if done {
			return engine.Summary(), nil
		}
		fmt.Print("-- 回车继续 --")
		if _, err := reader.ReadString('\n'); err != nil {
			return engine.Summary(), err
		}
	}
}

// consoleBroadcaster 把公开事件打印到终端
type consoleBroadcaster struct{}

func (consoleBroadcaster) Publish(event models.GameEvent) {
	fmt.Println(event.Content)
}

// runServer 服务器模式:托管对局 + 观战推送
func runServer(addr string) {
	webSocketMgr = services.NewWebSocketManager()
	matchManager = services.NewMatchManager(webSocketMgr)

	r := gin.Default()

	// 设置跨域中间件
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// 观战连接,先回放历史事件再实时推送
	r.GET("/ws/:id", func(c *gin.Context) {
		match, err := matchManager.GetMatch(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			zap.S().Warnw("升级WebSocket连接失败", "error", err)
			return
		}
		webSocketMgr.RegisterConnection(match.ID, ws, match.PublicEvents())
	})

	api := r.Group("/api")
	{
		api.POST("/matches", createMatch)
		api.GET("/matches", listMatches)
		api.GET("/matches/:id", getMatchStatus)
		api.GET("/matches/:id/events", getMatchEvents)
		api.POST("/matches/:id/stop", stopMatch)
		api.GET("/presets", listPresets)
	}

	zap.S().Infow("服务器启动", "addr", addr)
	if err := r.Run(addr); err != nil {
		zap.S().Fatalw("服务器启动失败", "error", err)
	}
}

// API处理函数
func createMatch(c *gin.Context) {
	var req struct {
		Preset string `json:"preset" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	preset, err := config.PresetByName(req.Preset)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	match, err := matchManager.CreateMatch(preset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, match.Status())
}

func listMatches(c *gin.Context) {
	matches := matchManager.ListMatches()
	statuses := make([]services.MatchStatus, 0, len(matches))
	for _, m := range matches {
		statuses = append(statuses, m.Status())
	}
	c.JSON(http.StatusOK, gin.H{"matches": statuses})
}

func getMatchStatus(c *gin.Context) {
	match, err := matchManager.GetMatch(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, match.Status())
}

func getMatchEvents(c *gin.Context) {
	match, err := matchManager.GetMatch(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": match.PublicEvents()})
}

func stopMatch(c *gin.Context) {
	if err := matchManager.StopMatch(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "对局已中止"})
}

func listPresets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"presets": config.PresetNames()})
}
