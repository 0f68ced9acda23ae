package ws

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/charging-platform/central-system/internal/domain/connection"
)

// ConnectionWrapper 单个站点连接的包装器
// 独立的发送goroutine串行化写操作，接收goroutine负责读取与分发。
type ConnectionWrapper struct {
	conn      *websocket.Conn
	stationID string
	meta      *connection.Connection
	sendChan  chan []byte
	manager   *Manager
	ctx       context.Context
	cancel    context.CancelFunc
	config    *Config
	log       zerolog.Logger
}

// StationID 连接所属站点ID
func (w *ConnectionWrapper) StationID() string {
	return w.stationID
}

// Meta 连接元数据
func (w *ConnectionWrapper) Meta() *connection.Connection {
	return w.meta
}

// start 启动收发goroutine
func (w *ConnectionWrapper) start() {
	go w.sendRoutine()
	go w.receiveRoutine()
}

// Send 将一条消息排入发送队列，队列满时返回错误
func (w *ConnectionWrapper) Send(data []byte) error {
	select {
	case <-w.ctx.Done():
		return fmt.Errorf("connection to %s is closed", w.stationID)
	default:
	}

	select {
	case w.sendChan <- data:
		return nil
	default:
		return fmt.Errorf("send channel full for station %s", w.stationID)
	}
}

// sendPing 发送ping控制帧
func (w *ConnectionWrapper) sendPing() error {
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.config.WriteTimeout))
}

// sendRoutine 发送循环
func (w *ConnectionWrapper) sendRoutine() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case data := <-w.sendChan:
			w.conn.SetWriteDeadline(time.Now().Add(w.config.WriteTimeout))
			if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				w.log.Debug().Err(err).Msg("Failed to write message")
				w.cancel()
				return
			}
			w.meta.RecordSent(int64(len(data)))
		}
	}
}

// receiveRoutine 接收循环，退出时负责清理连接
func (w *ConnectionWrapper) receiveRoutine() {
	defer func() {
		w.cancel()
		w.conn.Close()
		if w.meta.GetState() != connection.StateSuperseded {
			w.meta.SetState(connection.StateDisconnected)
		}
		w.manager.removeConnection(w)
	}()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		_, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.log.Debug().Err(err).Msg("Unexpected connection close")
			}
			return
		}

		w.conn.SetReadDeadline(time.Now().Add(w.config.ReadTimeout))
		w.meta.TouchActivity()
		w.meta.RecordReceived(int64(len(data)))

		w.manager.handleFrame(w.ctx, w, data)
	}
}

// supersede 旧连接被新连接取代时调用：标记状态并关闭
func (w *ConnectionWrapper) supersede() {
	w.meta.SetState(connection.StateSuperseded)
	w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "superseded by new connection"),
		time.Now().Add(time.Second))
	w.cancel()
	w.conn.Close()
}

// Close 主动关闭连接
func (w *ConnectionWrapper) Close() {
	w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	w.cancel()
	w.conn.Close()
}
