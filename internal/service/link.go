package service

import (
	"context"
	neturl "net/url"

	"github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/linkstash-io/linkstash-back/internal/config"
	"github.com/linkstash-io/linkstash-back/internal/db"
)

type (
	Links struct {
		db       *gorm.DB
		pageSize int
		logger   *zap.SugaredLogger
	}

	LinkListOpts struct {
		CategoryID *string
		PageSize   int
		Cursor     *Cursor
	}

	// LinkPage is one page of a user's links, newest first. NextCursor is
	// nil when the page is the last one.
	LinkPage struct {
		Items      []db.Link
		NextCursor *Cursor
	}

	LinkUpdate struct {
		URL           *string
		Title         *string
		CategoryID    *string
		ClearCategory bool
	}
)

func NewLinks(cfg *config.Config, gdb *gorm.DB, l *zap.SugaredLogger) *Links {
	return &Links{
		db:       gdb,
		pageSize: cfg.PageSize,
		logger:   l,
	}
}

// List fetches one page of the user's links, optionally restricted to a
// category, resuming after the given cursor. A single query is issued, no
// retries; an empty userID yields an empty page without touching the store.
func (s *Links) List(ctx context.Context, userID string, opts LinkListOpts) (*LinkPage, error) {
	if userID == "" {
		return &LinkPage{Items: []db.Link{}}, nil
	}

	size := opts.PageSize
	if size <= 0 {
		size = s.pageSize
	}

	w := squirrel.Eq{
		"user_id": userID,
	}
	if opts.CategoryID != nil {
		w["category_id"] = *opts.CategoryID
	}
	q := squirrel.
		Select("id", "url", "title", "category_id", "user_id", "created_at", "updated_at").
		From("links").
		Where(w).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(size))
	if opts.Cursor != nil {
		q = q.Where(squirrel.Expr("(created_at, id) < (?, ?)", opts.Cursor.CreatedAt, opts.Cursor.ID))
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build sql")
	}

	links := make([]db.Link, 0, size)
	res := s.db.WithContext(ctx).Raw(sql, args...).Scan(&links)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "scan")
	}

	page := LinkPage{Items: links}
	// a short page means there is nothing past it, so don't hand out a
	// cursor that would only buy a known-empty request
	if len(links) == size {
		last := links[len(links)-1]
		page.NextCursor = &Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return &page, nil
}

func (s *Links) Create(ctx context.Context, userID, url string, title, categoryID *string) (*db.Link, error) {
	if err := validateURL(url); err != nil {
		return nil, err
	}

	model := db.Link{
		URL:        url,
		Title:      title,
		CategoryID: categoryID,
		UserID:     userID,
	}

	res := s.db.WithContext(ctx).Create(&model)
	if res.Error != nil {
		return nil, res.Error
	}

	return &model, nil
}

func (s *Links) Update(ctx context.Context, userID, linkID string, upd LinkUpdate) (*db.Link, error) {
	fields := map[string]interface{}{}
	if upd.URL != nil {
		if err := validateURL(*upd.URL); err != nil {
			return nil, err
		}
		fields["url"] = *upd.URL
	}
	if upd.Title != nil {
		fields["title"] = *upd.Title
	}
	if upd.ClearCategory {
		fields["category_id"] = nil
	} else if upd.CategoryID != nil {
		fields["category_id"] = *upd.CategoryID
	}

	if len(fields) != 0 {
		res := s.db.WithContext(ctx).
			Model(&db.Link{}).
			Where("id = ? AND user_id = ?", linkID, userID).
			Updates(fields)
		if res.Error != nil {
			return nil, errors.Wrap(res.Error, "update link")
		}
		if res.RowsAffected == 0 {
			return nil, ErrNotFound
		}
	}

	model := db.Link{}
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", linkID, userID).First(&model)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(res.Error, "get link")
	}

	return &model, nil
}

// Delete removes the link physically. A missing id is a no-op, matching the
// store's delete semantics.
func (s *Links) Delete(ctx context.Context, userID, linkID string) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", linkID, userID).
		Delete(&db.Link{})
	if res.Error != nil {
		return res.Error
	}
	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return &ValidationError{Field: "url", Reason: "must not be empty"}
	}
	u, err := neturl.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return &ValidationError{Field: "url", Reason: "must be an absolute URL"}
	}
	return nil
}
