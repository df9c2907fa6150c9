package services

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/qianlnk/llm-werewolf/models"
)

const (
	writeTimeout = 5 * time.Second
	pingInterval = 15 * time.Second
)

// wsClient 观战连接,写入由每连接一把的互斥锁串行化
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// write 带超时的单条推送,同一连接上的写互相排队
func (c *wsClient) write(event models.GameEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	defer c.conn.SetWriteDeadline(time.Time{})
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WebSocketManager 观战连接管理器
// 对局输入全部来自应答者,WebSocket 只做事件单向推送
type WebSocketManager struct {
	mu      sync.RWMutex
	matches map[string][]*wsClient // 对局ID -> 观战连接
}

// NewWebSocketManager 创建观战管理器实例
func NewWebSocketManager() *WebSocketManager {
	return &WebSocketManager{
		matches: make(map[string][]*wsClient),
	}
}

// RegisterConnection 注册观战连接
// 先回放历史事件,回放完成后才加入广播名单,实时事件不会插在历史中间
func (wm *WebSocketManager) RegisterConnection(matchID string, conn *websocket.Conn, history []models.GameEvent) {
	client := &wsClient{conn: conn}

	for _, event := range history {
		if err := client.write(event); err != nil {
			conn.Close()
			return
		}
	}

	wm.mu.Lock()
	wm.matches[matchID] = append(wm.matches[matchID], client)
	wm.mu.Unlock()

	go wm.keepAlive(matchID, client)
	go wm.readLoop(matchID, client)
}

// BroadcastToMatch 向对局的所有观战连接推送事件,推送失败的连接直接移除
func (wm *WebSocketManager) BroadcastToMatch(matchID string, event models.GameEvent) {
	wm.mu.RLock()
	clients := make([]*wsClient, len(wm.matches[matchID]))
	copy(clients, wm.matches[matchID])
	wm.mu.RUnlock()

	for _, client := range clients {
		if err := client.write(event); err != nil {
			zap.S().Debugw("推送事件失败", "match", matchID, "error", err)
			wm.removeClient(matchID, client)
		}
	}
}

// removeClient 移除观战连接
func (wm *WebSocketManager) removeClient(matchID string, client *wsClient) {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	clients := wm.matches[matchID]
	for i, c := range clients {
		if c == client {
			wm.matches[matchID] = append(clients[:i], clients[i+1:]...)
			break
		}
	}
	if len(wm.matches[matchID]) == 0 {
		delete(wm.matches, matchID)
	}
	client.conn.Close()
}

// keepAlive 周期性发送心跳,失败即移除连接
func (wm *WebSocketManager) keepAlive(matchID string, client *wsClient) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for range ticker.C {
		deadline := time.Now().Add(time.Second)
		if err := client.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			wm.removeClient(matchID, client)
			return
		}
	}
}

// readLoop 消费客户端消息以处理关闭帧,观战端的消息内容被忽略
func (wm *WebSocketManager) readLoop(matchID string, client *wsClient) {
	client.conn.SetReadLimit(4 * 1024)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zap.S().Debugw("观战连接读取失败", "match", matchID, "error", err)
			}
			wm.removeClient(matchID, client)
			return
		}
	}
}

// matchBroadcaster 把引擎事件转发到指定对局的观战连接
type matchBroadcaster struct {
	wm      *WebSocketManager
	matchID string
}

// ForMatch 返回绑定到指定对局的广播器
func (wm *WebSocketManager) ForMatch(matchID string) Broadcaster {
	return &matchBroadcaster{wm: wm, matchID: matchID}
}

func (b *matchBroadcaster) Publish(event models.GameEvent) {
	b.wm.BroadcastToMatch(b.matchID, event)
}
