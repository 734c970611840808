package task

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/blues/tgs/internal/logger"
)

// Sweeper 处理待转交的评分
type Sweeper interface {
	Sweep(ctx context.Context) (forwarded, expired int, err error)
}

// ScoreExpiryJob 重新转交或过期未进入账本的评分
type ScoreExpiryJob struct {
	sweeper  Sweeper
	interval time.Duration
}

func NewScoreExpiryJob(sweeper Sweeper, interval time.Duration) *ScoreExpiryJob {
	return &ScoreExpiryJob{sweeper: sweeper, interval: interval}
}

// GetName 获取任务名称
func (j *ScoreExpiryJob) GetName() string {
	return "score_expiry"
}

// GetSchedule 获取调度配置
func (j *ScoreExpiryJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(j.interval)
}

// Execute 执行任务
func (j *ScoreExpiryJob) Execute() {
	forwarded, expired, err := j.sweeper.Sweep(context.Background())
	if err != nil {
		logger.Error("Score sweep failed: %v", err)
		return
	}
	if forwarded > 0 || expired > 0 {
		logger.Info("Score sweep completed: %d forwarded, %d expired", forwarded, expired)
	}
}
