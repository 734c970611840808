package repository

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/blues/tgs/internal/logic"
	"github.com/blues/tgs/internal/model"
)

// Journal 将账本记录与快照写入数据库
// 快照按版本号写入，不会用旧版本覆盖新版本
type Journal struct {
	db *gorm.DB
}

func NewJournal(db *gorm.DB) *Journal {
	return &Journal{db: db}
}

// Apply 在一个事务中写入一批记录及其携带的快照
func (j *Journal) Apply(ctx context.Context, records []logic.Record) error {
	if len(records) == 0 {
		return nil
	}
	return j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var (
			proposal *logic.Proposal
			escrow   *logic.Escrow
		)
		for _, r := range records {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(eventToModel(r)).Error; err != nil {
				return errors.Wrapf(err, "insert event %s", r.ID)
			}
			if t := transferFromRecord(r); t != nil {
				if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(t).Error; err != nil {
					return errors.Wrapf(err, "insert fund transfer %s", r.ID)
				}
			}
			if r.Proposal != nil && (proposal == nil || r.Proposal.Version > proposal.Version) {
				proposal = r.Proposal
			}
			if r.Escrow != nil && (escrow == nil || r.Escrow.Version > escrow.Version) {
				escrow = r.Escrow
			}
		}
		if proposal != nil {
			if err := saveProposal(tx, proposal); err != nil {
				return err
			}
		}
		if escrow != nil {
			if err := saveEscrow(tx, escrow); err != nil {
				return err
			}
		}
		return nil
	})
}

// storedVersion 已存储的版本号，不存在时返回 0
func storedVersion(tx *gorm.DB, table interface{}, key string, id uint64) (uint64, error) {
	var version uint64
	err := tx.Model(table).Select("version").Where(key+" = ?", id).Scan(&version).Error
	if err != nil {
		return 0, errors.Wrapf(err, "query version of %d", id)
	}
	return version, nil
}

func saveProposal(tx *gorm.DB, p *logic.Proposal) error {
	version, err := storedVersion(tx, &model.ProposalModel{}, "id", p.ID)
	if err != nil {
		return err
	}
	if version >= p.Version {
		return nil
	}

	m := proposalToModel(p)
	milestones, votes := m.Milestones, m.Votes
	m.Milestones, m.Votes = nil, nil

	if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(m).Error; err != nil {
		return errors.Wrapf(err, "save proposal %d", p.ID)
	}
	if len(milestones) > 0 {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "proposal_id"}, {Name: "milestone_index"}},
			DoUpdates: clause.AssignmentColumns([]string{"completed", "completed_at", "updated_at"}),
		}).Create(&milestones).Error
		if err != nil {
			return errors.Wrapf(err, "save proposal %d milestones", p.ID)
		}
	}
	if len(votes) > 0 {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "proposal_id"}, {Name: "voter"}},
			DoNothing: true,
		}).Create(&votes).Error
		if err != nil {
			return errors.Wrapf(err, "save proposal %d votes", p.ID)
		}
	}
	return nil
}

func saveEscrow(tx *gorm.DB, e *logic.Escrow) error {
	version, err := storedVersion(tx, &model.EscrowModel{}, "proposal_id", e.ProposalID)
	if err != nil {
		return err
	}
	if version >= e.Version {
		return nil
	}

	m := escrowToModel(e)
	milestones := m.Milestones
	m.Milestones = nil

	if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(m).Error; err != nil {
		return errors.Wrapf(err, "save escrow %d", e.ProposalID)
	}
	if len(milestones) > 0 {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "proposal_id"}, {Name: "milestone_index"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"amount", "description", "state", "completed", "completed_at",
				"evidence_ref", "approver", "disputed", "dispute_reason", "updated_at",
			}),
		}).Create(&milestones).Error
		if err != nil {
			return errors.Wrapf(err, "save escrow %d milestones", e.ProposalID)
		}
	}
	return nil
}

// LoadProposals 读取全部提案快照
func (j *Journal) LoadProposals(ctx context.Context) ([]*logic.Proposal, error) {
	var models []*model.ProposalModel
	err := j.db.WithContext(ctx).
		Preload("Milestones").
		Preload("Votes").
		Order("id").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "load proposals")
	}

	proposals := make([]*logic.Proposal, 0, len(models))
	for _, m := range models {
		p, err := proposalFromModel(m)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, p)
	}
	return proposals, nil
}

// LoadEscrows 读取全部托管快照
func (j *Journal) LoadEscrows(ctx context.Context) ([]*logic.Escrow, error) {
	var models []*model.EscrowModel
	err := j.db.WithContext(ctx).
		Preload("Milestones").
		Order("proposal_id").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "load escrows")
	}

	escrows := make([]*logic.Escrow, 0, len(models))
	for _, m := range models {
		e, err := escrowFromModel(m)
		if err != nil {
			return nil, err
		}
		escrows = append(escrows, e)
	}
	return escrows, nil
}

// Events 提案的审计记录，按发生时间排序
func (j *Journal) Events(ctx context.Context, proposalID uint64) ([]model.EventModel, error) {
	var events []model.EventModel
	err := j.db.WithContext(ctx).
		Where("proposal_id = ?", proposalID).
		Order("occurred_at, id").
		Find(&events).Error
	if err != nil {
		return nil, errors.Wrapf(err, "query events of proposal %d", proposalID)
	}
	return events, nil
}

// Transfers 提案的资金流水
func (j *Journal) Transfers(ctx context.Context, proposalID uint64) ([]model.FundTransferModel, error) {
	var transfers []model.FundTransferModel
	err := j.db.WithContext(ctx).
		Where("proposal_id = ?", proposalID).
		Order("occurred_at, id").
		Find(&transfers).Error
	if err != nil {
		return nil, errors.Wrapf(err, "query transfers of proposal %d", proposalID)
	}
	return transfers, nil
}

// MarkPublished 标记记录已推送到消息总线
func (j *Journal) MarkPublished(ctx context.Context, recordIDs []string) error {
	if len(recordIDs) == 0 {
		return nil
	}
	err := j.db.WithContext(ctx).
		Model(&model.EventModel{}).
		Where("record_id IN ?", recordIDs).
		Update("published", true).Error
	return errors.Wrap(err, "mark events published")
}

// ConfirmTransfer 将链上事件匹配到最早一条未确认的同类流水
// 同一交易重复确认时直接返回 true
func (j *Journal) ConfirmTransfer(ctx context.Context, kind model.FundTransferKind, proposalID, amount uint64, txHash string, block uint64) (bool, error) {
	matched := false
	err := j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var seen int64
		if err := tx.Model(&model.FundTransferModel{}).Where("tx_hash = ?", txHash).Count(&seen).Error; err != nil {
			return errors.Wrapf(err, "query transfer by tx %s", txHash)
		}
		if seen > 0 {
			matched = true
			return nil
		}

		var t model.FundTransferModel
		res := tx.Where("proposal_id = ? AND kind = ? AND amount = ? AND tx_hash = ?", proposalID, string(kind), amount, "").
			Order("occurred_at, id").
			Limit(1).
			Find(&t)
		if res.Error != nil {
			return errors.Wrapf(res.Error, "query unconfirmed %s of proposal %d", kind, proposalID)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		err := tx.Model(&t).Updates(map[string]interface{}{"tx_hash": txHash, "block_number": block}).Error
		if err != nil {
			return errors.Wrapf(err, "confirm transfer %s", t.RecordId)
		}
		matched = true
		return nil
	})
	return matched, err
}

// LastConfirmedBlock 已确认流水中最大的区块号
func (j *Journal) LastConfirmedBlock(ctx context.Context) (uint64, error) {
	var block *uint64
	err := j.db.WithContext(ctx).Model(&model.FundTransferModel{}).Select("MAX(block_number)").Scan(&block).Error
	if err != nil {
		return 0, errors.Wrap(err, "query last confirmed block")
	}
	if block == nil {
		return 0, nil
	}
	return *block, nil
}
