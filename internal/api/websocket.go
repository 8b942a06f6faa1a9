// internal/api/websocket.go
package api

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Corphon/ChronoAtlas/internal/services"
	"github.com/Corphon/ChronoAtlas/internal/utils"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketClient 表示一个订阅任务进度的连接
type WebSocketClient struct {
	conn      *websocket.Conn
	taskID    string
	closed    int32 // 0=开启，1=关闭
	createdAt time.Time
}

// Close 安全关闭客户端连接
func (client *WebSocketClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		_ = client.conn.Close()
	}
}

// IsClosed 检查连接是否已关闭
func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// WebSocketManager 按任务管理 WebSocket 连接
type WebSocketManager struct {
	connections map[string]map[*WebSocketClient]struct{} // taskID -> clients
	mutex       sync.RWMutex
}

// NewWebSocketManager 创建连接管理器
func NewWebSocketManager() *WebSocketManager {
	return &WebSocketManager{
		connections: make(map[string]map[*WebSocketClient]struct{}),
	}
}

func (manager *WebSocketManager) register(client *WebSocketClient) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	if manager.connections[client.taskID] == nil {
		manager.connections[client.taskID] = make(map[*WebSocketClient]struct{})
	}
	manager.connections[client.taskID][client] = struct{}{}
}

func (manager *WebSocketManager) unregister(client *WebSocketClient) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	if clients, exists := manager.connections[client.taskID]; exists {
		delete(clients, client)
		if len(clients) == 0 {
			delete(manager.connections, client.taskID)
		}
	}
	client.Close()
}

// ConnectionCount 当前连接数
func (manager *WebSocketManager) ConnectionCount() int {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	total := 0
	for _, clients := range manager.connections {
		total += len(clients)
	}
	return total
}

// GetStatus 获取管理器状态
func (manager *WebSocketManager) GetStatus() map[string]interface{} {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	tasks := make(map[string]int, len(manager.connections))
	total := 0
	for taskID, clients := range manager.connections {
		tasks[taskID] = len(clients)
		total += len(clients)
	}
	return map[string]interface{}{
		"total_tasks":       len(manager.connections),
		"total_connections": total,
		"tasks":             tasks,
	}
}

// Shutdown 关闭所有连接
func (manager *WebSocketManager) Shutdown() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	for _, clients := range manager.connections {
		for client := range clients {
			client.Close()
		}
	}
	manager.connections = make(map[string]map[*WebSocketClient]struct{})
}

// TaskWebSocket 通过 WebSocket 推送与 SSE 相同的进度消息
func (h *Handler) TaskWebSocket(c *gin.Context) {
	tracker, ok := h.tracker(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.GetLogger().Warn("websocket upgrade failed", zap.String("task_id", tracker.TaskID), zap.Error(err))
		return
	}

	client := &WebSocketClient{conn: conn, taskID: tracker.TaskID, createdAt: time.Now()}
	h.WebSocket.register(client)
	defer h.WebSocket.unregister(client)

	updates := tracker.Subscribe()
	defer tracker.Unsubscribe(updates)

	readDone := make(chan struct{})
	go readPump(client, readDone)

	writePump(client, tracker, updates, readDone)
}

// readPump 只处理 pong 和关闭帧，客户端消息被忽略
func readPump(client *WebSocketClient, done chan<- struct{}) {
	defer close(done)

	client.conn.SetReadLimit(512)
	_ = client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump 转发进度更新，任务结束后发送关闭帧
func writePump(client *WebSocketClient, tracker *services.ProgressTracker, updates <-chan services.ProgressUpdate, readDone <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-readDone:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if finished, err := writeUpdate(client, update); err != nil || finished {
				return
			}
		case <-tracker.Done:
			_, _ = writeUpdate(client, tracker.State())
			return
		case <-ticker.C:
			if err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// writeUpdate 发送一条进度；任务已结束时随后发送关闭帧
func writeUpdate(client *WebSocketClient, update services.ProgressUpdate) (bool, error) {
	_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := client.conn.WriteJSON(gin.H{"type": "progress", "data": update}); err != nil {
		return false, err
	}
	if update.Status == services.StatusRunning {
		return false, nil
	}
	_ = client.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, update.Status),
		time.Now().Add(wsWriteWait))
	return true, nil
}
