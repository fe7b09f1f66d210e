package services

import (
	"fmt"

	"dinehub/internal/models"
	"dinehub/pkg/errors"
	"dinehub/pkg/logger"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// OccupancySweeper 占用对账定时任务
//
// 防御性修复：OccupyingOrderID 是派生缓存，部分失败会让它漂移。
// 定期全量对账，缓存漂移直接修复，多占用只上报不修复。
type OccupancySweeper struct {
	db      *gorm.DB
	tables  *TableService
	cron    *cron.Cron
	spec    string
	running bool
}

// NewOccupancySweeper 创建对账任务
func NewOccupancySweeper(db *gorm.DB, tables *TableService, spec string) *OccupancySweeper {
	if spec == "" {
		spec = "@every 5m"
	}
	return &OccupancySweeper{
		db:     db,
		tables: tables,
		cron:   cron.New(),
		spec:   spec,
	}
}

// Start 启动定时对账
func (s *OccupancySweeper) Start() error {
	if s.running {
		return fmt.Errorf("对账任务已经在运行")
	}

	if _, err := s.cron.AddFunc(s.spec, s.SweepAll); err != nil {
		return fmt.Errorf("添加对账定时任务失败: %v", err)
	}

	s.cron.Start()
	s.running = true
	logger.GetLogger().Infof("占用对账任务已启动，调度表达式 %s", s.spec)
	return nil
}

// Stop 停止定时对账
func (s *OccupancySweeper) Stop() {
	if !s.running {
		return
	}
	s.cron.Stop()
	s.running = false
	logger.GetLogger().Info("占用对账任务已停止")
}

// SweepAll 对账所有餐桌
func (s *OccupancySweeper) SweepAll() {
	var tableIDs []uint
	if err := s.db.Model(&models.Table{}).Pluck("id", &tableIDs).Error; err != nil {
		logger.GetLogger().WithError(err).Error("加载餐桌列表失败，跳过本轮对账")
		return
	}

	repaired := 0
	inconsistent := 0
	for _, id := range tableIDs {
		report, err := s.tables.Reconcile(id)
		if err != nil {
			if errors.Is(err, errors.CodeDataInconsistency) {
				// 多占用意味着上游有缺陷，绝不静默修复
				inconsistent++
				logger.GetLogger().Errorf("占用不一致 table=%d live_orders=%v：%v",
					id, report.LiveOrderIDs, err)
				continue
			}
			logger.GetLogger().WithError(err).Errorf("餐桌 %d 对账失败", id)
			continue
		}
		if report.Repaired {
			repaired++
			logger.GetLogger().Warnf("餐桌 %d 占用缓存已修复", id)
		}
	}

	if repaired > 0 || inconsistent > 0 {
		logger.GetLogger().Infof("对账完成：%d 张餐桌，修复 %d，待人工处理 %d",
			len(tableIDs), repaired, inconsistent)
	}
}
