package store

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

var (
	ErrBatchLimit = errors.New("batch op limit exceeded")
	ErrEmptyID    = errors.New("staged op has empty id")
)

type (
	// Batch accumulates writes and applies them as a single atomic unit:
	// either every staged op commits, or none do.
	Batch interface {
		StageDelete(model interface{}, id string)
		StageUpdate(model interface{}, id string, fields map[string]interface{})
		Len() int
		Commit(ctx context.Context) error
	}

	Batcher interface {
		Batch() Batch
		Limit() int
	}

	GormBatcher struct {
		db    *gorm.DB
		limit int
	}

	opKind int

	op struct {
		kind   opKind
		model  interface{}
		id     string
		fields map[string]interface{}
	}

	gormBatch struct {
		db    *gorm.DB
		limit int
		ops   []op
	}
)

const (
	opDelete opKind = iota
	opUpdate
)

func NewBatcher(db *gorm.DB, limit int) *GormBatcher {
	return &GormBatcher{db: db, limit: limit}
}

func (b *GormBatcher) Batch() Batch {
	return &gormBatch{db: b.db, limit: b.limit}
}

func (b *GormBatcher) Limit() int {
	return b.limit
}

func (b *gormBatch) StageDelete(model interface{}, id string) {
	b.ops = append(b.ops, op{kind: opDelete, model: model, id: id})
}

func (b *gormBatch) StageUpdate(model interface{}, id string, fields map[string]interface{}) {
	b.ops = append(b.ops, op{kind: opUpdate, model: model, id: id, fields: fields})
}

func (b *gormBatch) Len() int {
	return len(b.ops)
}

func (b *gormBatch) Commit(ctx context.Context) error {
	if len(b.ops) == 0 {
		return nil
	}
	if b.limit > 0 && len(b.ops) > b.limit {
		return errors.Wrapf(ErrBatchLimit, "%d ops staged, limit %d", len(b.ops), b.limit)
	}
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, o := range b.ops {
			if o.id == "" {
				return ErrEmptyID
			}
			switch o.kind {
			case opDelete:
				if res := tx.Delete(o.model, "id = ?", o.id); res.Error != nil {
					return errors.Wrap(res.Error, "staged delete")
				}
			case opUpdate:
				if res := tx.Model(o.model).Where("id = ?", o.id).Updates(o.fields); res.Error != nil {
					return errors.Wrap(res.Error, "staged update")
				}
			}
		}
		return nil
	})
}
