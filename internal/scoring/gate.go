package scoring

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/blues/tgs/internal/config"
	"github.com/blues/tgs/internal/logger"
	"github.com/blues/tgs/internal/logic"
	"github.com/blues/tgs/internal/model"
)

// Score 评分预言机提交的评分
type Score struct {
	ProposalID       uint64    `json:"proposal_id"`
	Overall          uint8     `json:"overall"`
	Breakdown        []int     `json:"breakdown"`
	JustificationRef string    `json:"justification_ref"`
	ModelTag         string    `json:"model_tag"`
	ScoredAt         time.Time `json:"scored_at"`
}

// Recorder 接收评分结果的提案账本
type Recorder interface {
	RecordAIOutcome(ctx context.Context, caller string, id uint64, score uint8, justificationRef string) (*logic.Proposal, error)
}

// Gate AI评分入口，校验评分后转交提案账本
type Gate struct {
	db        *gorm.DB
	authority logic.AuthorityGate
	ledger    Recorder
	clock     logic.Clock
	emitter   logic.Emitter
	validity  time.Duration
	tolerance int

	submitMu sync.Mutex

	mu   sync.RWMutex
	tags map[string]struct{}
}

// Option Gate 可选项
type Option func(*Gate)

func WithClock(c logic.Clock) Option {
	return func(g *Gate) { g.clock = c }
}

func WithEmitter(e logic.Emitter) Option {
	return func(g *Gate) { g.emitter = e }
}

// NewGate 创建评分入口
func NewGate(db *gorm.DB, authority logic.AuthorityGate, ledger Recorder, cfg config.ScoringConfig, opts ...Option) *Gate {
	g := &Gate{
		db:        db,
		authority: authority,
		ledger:    ledger,
		clock:     logic.SystemClock{},
		validity:  cfg.Validity,
		tolerance: cfg.Tolerance,
		tags:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Load 从数据库加载模型标识，并写入配置中的初始标识
func (g *Gate) Load(ctx context.Context, seed []string) error {
	for _, tag := range seed {
		if err := g.saveTag(ctx, "config", tag); err != nil {
			return err
		}
	}

	var tags []model.ModelTagModel
	if err := g.db.WithContext(ctx).Find(&tags).Error; err != nil {
		return pkgerrors.Wrap(err, "load model tags")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tags = make(map[string]struct{}, len(tags))
	for _, t := range tags {
		g.tags[t.Tag] = struct{}{}
	}
	logger.Info("Loaded %d accepted model tags", len(tags))
	return nil
}

// AddModel 添加接受的模型标识
func (g *Gate) AddModel(ctx context.Context, caller, tag string) error {
	if !g.authority.HasCapability(caller, logic.RoleAdmin) {
		return fmt.Errorf("%w: %s 不能管理评分模型", logic.ErrAuthorization, caller)
	}
	if tag == "" {
		return fmt.Errorf("%w: 模型标识不能为空", logic.ErrValidation)
	}
	if err := g.saveTag(ctx, caller, tag); err != nil {
		return err
	}
	g.mu.Lock()
	g.tags[tag] = struct{}{}
	g.mu.Unlock()
	logger.Info("Model tag %s accepted by %s", tag, caller)
	return nil
}

// RemoveModel 移除模型标识
func (g *Gate) RemoveModel(ctx context.Context, caller, tag string) error {
	if !g.authority.HasCapability(caller, logic.RoleAdmin) {
		return fmt.Errorf("%w: %s 不能管理评分模型", logic.ErrAuthorization, caller)
	}
	if !g.HasModel(tag) {
		return fmt.Errorf("%w: 模型标识 %s", logic.ErrNotFound, tag)
	}
	if err := g.db.WithContext(ctx).Delete(&model.ModelTagModel{Tag: tag}).Error; err != nil {
		return pkgerrors.Wrapf(err, "delete model tag %s", tag)
	}
	g.mu.Lock()
	delete(g.tags, tag)
	g.mu.Unlock()
	logger.Info("Model tag %s removed by %s", tag, caller)
	return nil
}

// HasModel 模型标识是否被接受
func (g *Gate) HasModel(tag string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.tags[tag]
	return ok
}

// Models 接受的模型标识，按字母序
func (g *Gate) Models() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	tags := make([]string, 0, len(g.tags))
	for t := range g.tags {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

func (g *Gate) saveTag(ctx context.Context, addedBy, tag string) error {
	err := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.ModelTagModel{Tag: tag, AddedBy: addedBy}).Error
	return pkgerrors.Wrapf(err, "save model tag %s", tag)
}

// Submit 校验并记录评分，然后转交提案账本
func (g *Gate) Submit(ctx context.Context, oracle string, s Score) (*logic.Proposal, error) {
	now := g.clock.Now()
	if !g.authority.HasCapability(oracle, logic.RoleOracle) {
		return nil, fmt.Errorf("%w: %s 没有评分权限", logic.ErrAuthorization, oracle)
	}
	if err := g.validate(s, now); err != nil {
		return nil, err
	}

	g.submitMu.Lock()
	defer g.submitMu.Unlock()

	var count int64
	err := g.db.WithContext(ctx).Model(&model.AIScoreModel{}).Where("proposal_id = ?", s.ProposalID).Count(&count).Error
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "query score of proposal %d", s.ProposalID)
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: 提案 %d 已有评分", logic.ErrDuplicate, s.ProposalID)
	}

	row := &model.AIScoreModel{
		ProposalId:       s.ProposalID,
		Oracle:           oracle,
		Overall:          s.Overall,
		Breakdown:        s.Breakdown,
		JustificationRef: s.JustificationRef,
		ModelTag:         s.ModelTag,
		ScoredAt:         s.ScoredAt,
		Status:           string(model.ScoreStatusPending),
	}
	if err := g.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, pkgerrors.Wrapf(err, "save score of proposal %d", s.ProposalID)
	}

	p, err := g.forward(ctx, row)
	if err != nil {
		// 账本拒绝时撤销评分，允许重新提交
		if delErr := g.db.WithContext(ctx).Delete(row).Error; delErr != nil {
			logger.Error("Failed to drop rejected score of proposal %d: %v", s.ProposalID, delErr)
		}
		return nil, err
	}
	return p, nil
}

func (g *Gate) forward(ctx context.Context, row *model.AIScoreModel) (*logic.Proposal, error) {
	p, err := g.ledger.RecordAIOutcome(ctx, row.Oracle, row.ProposalId, row.Overall, row.JustificationRef)
	if err != nil {
		return nil, err
	}
	err = g.db.WithContext(ctx).Model(row).Update("status", string(model.ScoreStatusForwarded)).Error
	if err != nil {
		logger.Error("Failed to mark score of proposal %d forwarded: %v", row.ProposalId, err)
	}

	if g.emitter != nil {
		g.emitter.Emit(logic.Record{
			ID:             uuid.NewString(),
			Type:           logic.RecordScoreRecorded,
			ProposalID:     row.ProposalId,
			Actor:          row.Oracle,
			MilestoneIndex: logic.NoMilestone,
			Amount:         uint64(row.Overall),
			Detail:         row.ModelTag,
			At:             g.clock.Now(),
		})
	}
	logger.Info("Score %d for proposal %d from %s (%s) recorded", row.Overall, row.ProposalId, row.Oracle, row.ModelTag)
	return p, nil
}

func (g *Gate) validate(s Score, now time.Time) error {
	if s.ProposalID == 0 {
		return fmt.Errorf("%w: 缺少提案ID", logic.ErrValidation)
	}
	if !g.HasModel(s.ModelTag) {
		return fmt.Errorf("%w: 模型 %q 未被接受", logic.ErrValidation, s.ModelTag)
	}
	if s.Overall > 100 {
		return fmt.Errorf("%w: 总分 %d 超出范围", logic.ErrValidation, s.Overall)
	}
	if err := checkBreakdown(s.Overall, s.Breakdown, g.tolerance); err != nil {
		return err
	}
	if s.ScoredAt.IsZero() || s.ScoredAt.After(now) {
		return fmt.Errorf("%w: 评分时间无效", logic.ErrValidation)
	}
	if now.Sub(s.ScoredAt) > g.validity {
		return fmt.Errorf("%w: 评分已超过有效期 %s", logic.ErrValidation, g.validity)
	}
	return nil
}

// checkBreakdown 分项在0-100之间，总分与分项均值(向下取整)相差不超过 tolerance
func checkBreakdown(overall uint8, breakdown []int, tolerance int) error {
	if len(breakdown) == 0 {
		return nil
	}
	sum := 0
	for i, b := range breakdown {
		if b < 0 || b > 100 {
			return fmt.Errorf("%w: 分项 %d 的值 %d 超出范围", logic.ErrValidation, i, b)
		}
		sum += b
	}
	mean := sum / len(breakdown)
	diff := int(overall) - mean
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		return fmt.Errorf("%w: 总分 %d 与分项均值 %d 不一致", logic.ErrValidation, overall, mean)
	}
	return nil
}

// Sweep 处理待转交的评分：有效期内重新转交，超期的标记为过期
func (g *Gate) Sweep(ctx context.Context) (forwarded, expired int, err error) {
	now := g.clock.Now()
	var pending []*model.AIScoreModel
	err = g.db.WithContext(ctx).
		Where("status = ?", string(model.ScoreStatusPending)).
		Order("id").
		Find(&pending).Error
	if err != nil {
		return 0, 0, pkgerrors.Wrap(err, "query pending scores")
	}

	for _, row := range pending {
		if now.Sub(row.ScoredAt) > g.validity {
			err := g.db.WithContext(ctx).Model(row).Update("status", string(model.ScoreStatusExpired)).Error
			if err != nil {
				return forwarded, expired, pkgerrors.Wrapf(err, "expire score of proposal %d", row.ProposalId)
			}
			logger.Warn("Score for proposal %d expired before reaching the ledger", row.ProposalId)
			expired++
			continue
		}
		if _, err := g.forward(ctx, row); err != nil {
			if errors.Is(err, logic.ErrInvalidState) || errors.Is(err, logic.ErrNotFound) {
				if uerr := g.db.WithContext(ctx).Model(row).Update("status", string(model.ScoreStatusExpired)).Error; uerr != nil {
					return forwarded, expired, pkgerrors.Wrapf(uerr, "expire score of proposal %d", row.ProposalId)
				}
				expired++
			}
			logger.Warn("Retry of score for proposal %d failed: %v", row.ProposalId, err)
			continue
		}
		forwarded++
	}
	return forwarded, expired, nil
}

// ScoreOf 提案的评分记录
func (g *Gate) ScoreOf(ctx context.Context, proposalID uint64) (*model.AIScoreModel, error) {
	var row model.AIScoreModel
	err := g.db.WithContext(ctx).Where("proposal_id = ?", proposalID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: 提案 %d 没有评分", logic.ErrNotFound, proposalID)
	}
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "query score of proposal %d", proposalID)
	}
	return &row, nil
}
