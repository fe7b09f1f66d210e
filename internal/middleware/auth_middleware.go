package middleware

import (
	"strings"

	"dinehub/internal/models"
	"dinehub/internal/services"
	"dinehub/pkg/jwt"
	"dinehub/pkg/response"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware 权限中间件
type AuthMiddleware struct {
	userService *services.UserService
	jwtManager  *jwt.JWTManager
}

func NewAuthMiddleware(userService *services.UserService) *AuthMiddleware {
	return &AuthMiddleware{
		userService: userService,
		jwtManager:  jwt.GetJWTManager(),
	}
}

// RequireLogin 要求登录
func (m *AuthMiddleware) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "请先登录")
			c.Abort()
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			response.Unauthorized(c, "认证头格式错误")
			c.Abort()
			return
		}

		tokenString := authHeader[7:]

		claims, err := m.jwtManager.VerifyToken(tokenString)
		if err != nil {
			response.Unauthorized(c, "Token无效或已过期")
			c.Abort()
			return
		}

		user, err := m.userService.GetByID(claims.UserID)
		if err != nil {
			response.Unauthorized(c, "用户不存在")
			c.Abort()
			return
		}

		if !m.userService.IsActive(user) {
			response.Unauthorized(c, "用户已被禁用")
			c.Abort()
			return
		}

		// 将主体信息保存到上下文
		c.Set("user", user)
		c.Set("user_id", claims.UserID)
		c.Set("owner_id", claims.OwnerID)
		c.Set("role", claims.Role)
		c.Set("is_platform_admin", claims.IsPlatformAdmin)
		c.Set("claims", claims)

		c.Next()
	}
}

// RequireRole 要求指定角色之一
func (m *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get("role")
		if !exists {
			response.Unauthorized(c, "请先登录")
			c.Abort()
			return
		}

		roleStr := role.(string)
		for _, allowed := range roles {
			if roleStr == allowed {
				c.Next()
				return
			}
		}

		response.Forbidden(c, "权限不足："+roleStr+" 角色不可执行该操作")
		c.Abort()
	}
}

// RequireStaff 要求餐厅员工（老板/后厨/收银）或平台管理员
func (m *AuthMiddleware) RequireStaff() gin.HandlerFunc {
	return m.RequireRole(
		models.RoleAdministrator,
		models.RoleOwner,
		models.RoleKitchen,
		models.RoleCashier,
	)
}

// RequirePlatformAdmin 要求平台管理员
func (m *AuthMiddleware) RequirePlatformAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, exists := c.Get("user")
		if !exists {
			response.Unauthorized(c, "请先登录")
			c.Abort()
			return
		}

		if !user.(*models.User).IsPlatformAdmin {
			response.Forbidden(c, "需要平台管理员权限")
			c.Abort()
			return
		}

		c.Next()
	}
}

// GetClaims 从上下文取出JWT声明
func GetClaims(c *gin.Context) *jwt.JWTClaims {
	if claims, exists := c.Get("claims"); exists {
		return claims.(*jwt.JWTClaims)
	}
	return nil
}
