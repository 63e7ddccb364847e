package service

import (
	"context"

	"github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/linkstash-io/linkstash-back/internal/db"
	"github.com/linkstash-io/linkstash-back/internal/store"
)

type (
	Categories struct {
		db      *gorm.DB
		batcher store.Batcher
		logger  *zap.SugaredLogger
	}

	// DetachReport accounts for what a category deletion actually applied.
	// On the single-batch path it is all-or-nothing; on the chunked path a
	// mid-sequence failure leaves Detached links without the category and
	// Remaining links still pointing at the deleted id.
	DetachReport struct {
		CategoryDeleted bool
		Detached        int
		Remaining       int
		ChunksCommitted int
		ChunksTotal     int
	}
)

func NewCategories(gdb *gorm.DB, b store.Batcher, l *zap.SugaredLogger) *Categories {
	return &Categories{
		db:      gdb,
		batcher: b,
		logger:  l,
	}
}

func (s *Categories) List(ctx context.Context, userID string) ([]db.Category, error) {
	cats := make([]db.Category, 0)
	res := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at").
		Find(&cats)
	if res.Error != nil {
		return nil, res.Error
	}
	return cats, nil
}

func (s *Categories) Create(ctx context.Context, userID, name string) (*db.Category, error) {
	if name == "" {
		return nil, &ValidationError{Field: "name", Reason: "must not be empty"}
	}

	model := db.Category{
		Name:   name,
		UserID: userID,
	}

	res := s.db.WithContext(ctx).Create(&model)
	if res.Error != nil {
		return nil, res.Error
	}

	return &model, nil
}

func (s *Categories) Update(ctx context.Context, userID, categoryID, name string) (*db.Category, error) {
	if name == "" {
		return nil, &ValidationError{Field: "name", Reason: "must not be empty"}
	}

	res := s.db.WithContext(ctx).
		Model(&db.Category{}).
		Where("id = ? AND user_id = ?", categoryID, userID).
		Update("name", name)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "update category")
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	model := db.Category{}
	if res := s.db.WithContext(ctx).Where("id = ?", categoryID).First(&model); res.Error != nil {
		return nil, errors.Wrap(res.Error, "get category")
	}
	return &model, nil
}

// Delete removes the category and detaches every link of the same user that
// referenced it, so no link is left pointing at a nonexistent category.
//
// When the whole operation fits in one store batch it commits atomically.
// Above the batch limit, the category delete commits first and the detach
// updates follow in sequential chunks; a failed chunk stops the sequence
// and the returned report says how far it got. Deleting a category that is
// already gone still detaches any links left over from an earlier partial
// run, then succeeds.
func (s *Categories) Delete(ctx context.Context, userID, categoryID string) (*DetachReport, error) {
	if categoryID == "" {
		return nil, &ValidationError{Field: "categoryId", Reason: "must not be empty"}
	}

	catExists := true
	cat := db.Category{}
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", categoryID, userID).First(&cat)
	if res.Error != nil {
		if !errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, errors.Wrap(res.Error, "get category")
		}
		catExists = false
	}

	// the detach query is scoped by owner as well: a caller must not be
	// able to strip another tenant's links by guessing a category id
	sql, args, err := squirrel.
		Select("id").From("links").
		Where(squirrel.Eq{
			"category_id": categoryID,
			"user_id":     userID,
		}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build sql")
	}
	linkIDs := make([]string, 0)
	if res := s.db.WithContext(ctx).Raw(sql, args...).Scan(&linkIDs); res.Error != nil {
		return nil, errors.Wrap(res.Error, "query affected links")
	}

	limit := s.batcher.Limit()
	totalOps := len(linkIDs)
	if catExists {
		totalOps++
	}

	if totalOps <= limit {
		return s.deleteSingleBatch(ctx, categoryID, linkIDs, catExists)
	}
	return s.deleteChunked(ctx, categoryID, linkIDs, catExists, limit)
}

func (s *Categories) deleteSingleBatch(ctx context.Context, categoryID string, linkIDs []string, catExists bool) (*DetachReport, error) {
	report := DetachReport{ChunksTotal: 1}

	b := s.batcher.Batch()
	if catExists {
		b.StageDelete(&db.Category{}, categoryID)
	}
	for _, id := range linkIDs {
		b.StageUpdate(&db.Link{}, id, map[string]interface{}{"category_id": nil})
	}
	if b.Len() == 0 {
		// nothing to do: the category was already gone and no link
		// still referenced it
		report.CategoryDeleted = true
		report.ChunksCommitted = 1
		return &report, nil
	}
	if err := b.Commit(ctx); err != nil {
		// a failed batch leaves nothing applied, but an already-missing
		// category is still gone
		report.CategoryDeleted = !catExists
		report.Remaining = len(linkIDs)
		return &report, errors.Wrap(err, "commit batch")
	}

	report.CategoryDeleted = true
	report.Detached = len(linkIDs)
	report.ChunksCommitted = 1
	return &report, nil
}

func (s *Categories) deleteChunked(ctx context.Context, categoryID string, linkIDs []string, catExists bool, limit int) (*DetachReport, error) {
	report := DetachReport{
		ChunksTotal: (len(linkIDs) + limit - 1) / limit,
	}

	// the category row goes first in its own batch: a retry after a partial
	// failure then only has detach work left
	if catExists {
		b := s.batcher.Batch()
		b.StageDelete(&db.Category{}, categoryID)
		if err := b.Commit(ctx); err != nil {
			report.Remaining = len(linkIDs)
			return &report, errors.Wrap(err, "delete category")
		}
	}
	report.CategoryDeleted = true

	for start := 0; start < len(linkIDs); start += limit {
		end := start + limit
		if end > len(linkIDs) {
			end = len(linkIDs)
		}

		b := s.batcher.Batch()
		for _, id := range linkIDs[start:end] {
			b.StageUpdate(&db.Link{}, id, map[string]interface{}{"category_id": nil})
		}
		if err := b.Commit(ctx); err != nil {
			report.Remaining = len(linkIDs) - report.Detached
			s.logger.Errorw("category detach stopped mid-sequence",
				"category", categoryID,
				"detached", report.Detached,
				"remaining", report.Remaining)
			return &report, errors.Wrapf(err, "detach chunk %d/%d", report.ChunksCommitted+1, report.ChunksTotal)
		}
		report.Detached += end - start
		report.ChunksCommitted++
	}

	return &report, nil
}
