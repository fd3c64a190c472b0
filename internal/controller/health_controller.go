package controller

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

type HealthController struct {
	DB    *gorm.DB
	Redis *redis.Client
}

func NewHealthController(db *gorm.DB, rdb *redis.Client) *HealthController {
	return &HealthController{DB: db, Redis: rdb}
}

// Health godoc
// @Summary 健康检查
// @Description 检查数据库与 Redis 连通性
// @Tags 系统
// @Produce  json
// @Success 200 {object} map[string]interface{} "服务正常"
// @Failure 503 {object} map[string]interface{} "依赖不可用"
// @Router /health [get]
func (ctrl *HealthController) Health(c *gin.Context) {
	status := http.StatusOK
	checks := gin.H{}

	if ctrl.DB != nil {
		sqlDB, err := ctrl.DB.DB()
		if err == nil {
			err = sqlDB.Ping()
		}
		if err != nil {
			checks["database"] = "down"
			status = http.StatusServiceUnavailable
		} else {
			checks["database"] = "up"
		}
	}

	if ctrl.Redis != nil {
		if err := ctrl.Redis.Ping(c.Request.Context()).Err(); err != nil {
			checks["redis"] = "down"
			status = http.StatusServiceUnavailable
		} else {
			checks["redis"] = "up"
		}
	}

	c.JSON(status, gin.H{
		"status":    map[bool]string{true: "ok", false: "degraded"}[status == http.StatusOK],
		"checks":    checks,
		"timestamp": time.Now().Unix(),
	})
}
