package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dinehub/internal/broker"
	"dinehub/internal/services"
	"dinehub/pkg/config"
	"dinehub/pkg/jwt"
	"dinehub/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// StreamHandler 实时事件推送处理器
//
// 浏览器WebSocket不支持自定义header，token通过查询参数传递。
// 授权在升级连接之前完成：作用域校验失败的请求不会建立连接。
type StreamHandler struct {
	upgrader    websocket.Upgrader
	hub         *broker.Broker
	log         *logrus.Logger
	jwtManager  *jwt.JWTManager
	userService *services.UserService
	orders      *services.OrderService
	scopes      *services.ScopeService
}

// NewStreamHandler 创建实时推送处理器
func NewStreamHandler(hub *broker.Broker, userService *services.UserService, orders *services.OrderService, scopes *services.ScopeService) *StreamHandler {
	allowedOrigins := config.GetConfig().CORS.AllowOrigins

	return &StreamHandler{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")

				for _, allowed := range allowedOrigins {
					if allowed == "*" {
						return true
					}
				}

				// 同源请求Origin为空，允许
				if origin == "" {
					return true
				}

				for _, allowed := range allowedOrigins {
					if matchOrigin(origin, allowed) {
						return true
					}
				}

				logger.GetLogger().Warnf("WebSocket连接被拒绝，非法Origin: %s", origin)
				return false
			},
			ReadBufferSize:  1024 * 4,
			WriteBufferSize: 1024 * 4,
		},
		hub:         hub,
		log:         logger.GetLogger(),
		jwtManager:  jwt.GetJWTManager(),
		userService: userService,
		orders:      orders,
		scopes:      scopes,
	}
}

// authenticate 校验查询参数中的token并返回claims
func (h *StreamHandler) authenticate(c *gin.Context) *jwt.JWTClaims {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "缺少认证令牌"})
		return nil
	}

	claims, err := h.jwtManager.VerifyToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无效的令牌"})
		return nil
	}

	user, err := h.userService.GetByID(claims.UserID)
	if err != nil || !h.userService.IsActive(user) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "用户不存在或已禁用"})
		return nil
	}
	return claims
}

// RestaurantStream 门店事件流（后厨/收银看板订阅）
func (h *StreamHandler) RestaurantStream(c *gin.Context) {
	ownerID, err := strconv.ParseUint(c.Param("owner_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ID格式错误"})
		return
	}

	claims := h.authenticate(c)
	if claims == nil {
		return
	}

	if err := h.scopes.AuthorizeOwnerAccess(claims, uint(ownerID)); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "无权订阅该门店"})
		return
	}

	h.serve(c, broker.RestaurantTopic(uint(ownerID)), claims)
}

// OrderStream 单订单事件流（顾客跟踪自己的订单）
func (h *StreamHandler) OrderStream(c *gin.Context) {
	orderID, err := strconv.ParseUint(c.Param("order_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ID格式错误"})
		return
	}

	claims := h.authenticate(c)
	if claims == nil {
		return
	}

	order, err := h.orders.GetByID(uint(orderID))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "订单不存在"})
		return
	}
	if err := h.scopes.AuthorizeOrderAccess(claims, order); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "无权订阅该订单"})
		return
	}

	h.serve(c, broker.OrderTopic(order.ID), claims)
}

// serve 升级连接并转发主题事件，直到客户端断开
func (h *StreamHandler) serve(c *gin.Context, topic string, claims *jwt.JWTClaims) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Error("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe(topic)
	defer sub.Close()

	h.log.WithFields(logrus.Fields{
		"topic":       topic,
		"user_id":     claims.UserID,
		"remote_addr": c.ClientIP(),
	}).Info("WebSocket connection established")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.readPump(conn, cancel)

	const writeTimeout = 10 * time.Second

	pingTicker := time.NewTicker(60 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.log.WithError(err).Error("Failed to send ping")
				return
			}

		case event, ok := <-sub.C:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(event); err != nil {
				h.log.WithError(err).Error("Failed to send event to client")
				return
			}
		}
	}
}

// readPump 处理客户端消息（主要是pong）
func (h *StreamHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	pongWait := 300 * time.Second
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.WithError(err).Error("WebSocket unexpected close")
			}
			break
		}
	}
}

// matchOrigin 检查origin是否匹配allowed模式
// 支持精确匹配和通配符匹配（如 *.example.com）
func matchOrigin(origin, allowed string) bool {
	if origin == allowed {
		return true
	}

	if strings.HasPrefix(allowed, "*.") {
		domain := allowed[2:]

		originHost := origin
		if idx := strings.Index(origin, "://"); idx != -1 {
			originHost = origin[idx+3:]
		}
		if idx := strings.Index(originHost, ":"); idx != -1 {
			originHost = originHost[:idx]
		}

		if originHost == domain {
			return true
		}
		if strings.HasSuffix(originHost, "."+domain) {
			return true
		}
	}

	return false
}
