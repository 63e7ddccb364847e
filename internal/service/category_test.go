package service

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkstash-io/linkstash-back/internal/db"
	"github.com/linkstash-io/linkstash-back/internal/store"
)

// flakyBatcher delegates to a real batcher but rejects the n-th commit,
// counting commits across every batch it hands out.
type flakyBatcher struct {
	inner   store.Batcher
	failAt  int
	commits int
}

func (f *flakyBatcher) Batch() store.Batch {
	return &flakyBatch{inner: f.inner.Batch(), parent: f}
}

func (f *flakyBatcher) Limit() int {
	return f.inner.Limit()
}

type flakyBatch struct {
	inner  store.Batch
	parent *flakyBatcher
}

func (b *flakyBatch) StageDelete(model interface{}, id string) {
	b.inner.StageDelete(model, id)
}

func (b *flakyBatch) StageUpdate(model interface{}, id string, fields map[string]interface{}) {
	b.inner.StageUpdate(model, id, fields)
}

func (b *flakyBatch) Len() int {
	return b.inner.Len()
}

func (b *flakyBatch) Commit(ctx context.Context) error {
	b.parent.commits++
	if b.parent.commits == b.parent.failAt {
		return errors.New("commit rejected")
	}
	return b.inner.Commit(ctx)
}

func TestCategoryDelete_DetachesLinks(t *testing.T) {
	gdb := newTestDB(t)
	cats := newCategoriesService(gdb, 500)
	links := newLinksService(gdb, 10)
	ctx := context.Background()

	cat := seedCategory(t, gdb, "u1", "work")
	seedLinks(t, gdb, "u1", &cat.ID, 3)
	seedLinks(t, gdb, "u1", nil, 2)

	report, err := cats.Delete(ctx, "u1", cat.ID)
	require.NoError(t, err)
	assert.True(t, report.CategoryDeleted)
	assert.Equal(t, 3, report.Detached)
	assert.Zero(t, report.Remaining)
	assert.Equal(t, 1, report.ChunksCommitted)
	assert.Equal(t, 1, report.ChunksTotal)

	// no link references the deleted category anymore
	page, err := links.List(ctx, "u1", LinkListOpts{CategoryID: &cat.ID})
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	// the three links still exist, now uncategorized
	page, err = links.List(ctx, "u1", LinkListOpts{PageSize: 50})
	require.NoError(t, err)
	assert.Len(t, page.Items, 5)
	for _, item := range page.Items {
		assert.Nil(t, item.CategoryID)
	}

	// the category listing no longer contains it
	listing, err := cats.List(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, listing)
}

func TestCategoryDelete_SecondInvocationIsNoOp(t *testing.T) {
	gdb := newTestDB(t)
	cats := newCategoriesService(gdb, 500)
	ctx := context.Background()

	cat := seedCategory(t, gdb, "u1", "work")
	seedLinks(t, gdb, "u1", &cat.ID, 3)

	_, err := cats.Delete(ctx, "u1", cat.ID)
	require.NoError(t, err)

	report, err := cats.Delete(ctx, "u1", cat.ID)
	require.NoError(t, err)
	assert.True(t, report.CategoryDeleted)
	assert.Zero(t, report.Detached)
	assert.Zero(t, report.Remaining)
}

func TestCategoryDelete_OwnershipGuard(t *testing.T) {
	gdb := newTestDB(t)
	cats := newCategoriesService(gdb, 500)
	ctx := context.Background()

	cat := seedCategory(t, gdb, "owner", "private")
	seedLinks(t, gdb, "owner", &cat.ID, 2)

	// an intruder naming the right category id must have no effect
	_, err := cats.Delete(ctx, "intruder", cat.ID)
	require.NoError(t, err)

	var catCount int64
	require.NoError(t, gdb.Model(&db.Category{}).Where("id = ?", cat.ID).Count(&catCount).Error)
	assert.Equal(t, int64(1), catCount)

	var attached int64
	require.NoError(t, gdb.Model(&db.Link{}).Where("category_id = ?", cat.ID).Count(&attached).Error)
	assert.Equal(t, int64(2), attached)
}

func TestCategoryDelete_SingleBatchIsAtomic(t *testing.T) {
	gdb := newTestDB(t)
	flaky := &flakyBatcher{inner: store.NewBatcher(gdb, 500), failAt: 1}
	cats := NewCategories(gdb, flaky, testLogger())
	ctx := context.Background()

	cat := seedCategory(t, gdb, "u1", "work")
	seedLinks(t, gdb, "u1", &cat.ID, 3)

	report, err := cats.Delete(ctx, "u1", cat.ID)
	require.Error(t, err)
	require.NotNil(t, report)
	assert.False(t, report.CategoryDeleted)
	assert.Zero(t, report.Detached)
	assert.Equal(t, 3, report.Remaining)

	// nothing was applied
	var catCount int64
	require.NoError(t, gdb.Model(&db.Category{}).Where("id = ?", cat.ID).Count(&catCount).Error)
	assert.Equal(t, int64(1), catCount)
	var attached int64
	require.NoError(t, gdb.Model(&db.Link{}).Where("category_id = ?", cat.ID).Count(&attached).Error)
	assert.Equal(t, int64(3), attached)
}

func TestCategoryDelete_MissingCategoryFailedDetachStillReportsDeleted(t *testing.T) {
	gdb := newTestDB(t)
	flaky := &flakyBatcher{inner: store.NewBatcher(gdb, 500), failAt: 1}
	cats := NewCategories(gdb, flaky, testLogger())
	ctx := context.Background()

	// dangling links referencing a category row that no longer exists
	seedLinks(t, gdb, "u1", strptr("gone-cat"), 3)

	report, err := cats.Delete(ctx, "u1", "gone-cat")
	require.Error(t, err)
	require.NotNil(t, report)
	// the row was never there, so the failed detach must not claim a
	// delete is still pending
	assert.True(t, report.CategoryDeleted)
	assert.Zero(t, report.Detached)
	assert.Equal(t, 3, report.Remaining)
}

func TestCategoryDelete_ChunkedPartialFailure(t *testing.T) {
	gdb := newTestDB(t)
	// commits: 1 = category delete, 2 = first chunk, 3 = second chunk
	flaky := &flakyBatcher{inner: store.NewBatcher(gdb, 500), failAt: 3}
	cats := NewCategories(gdb, flaky, testLogger())
	ctx := context.Background()

	cat := seedCategory(t, gdb, "u1", "bulk")
	seedLinks(t, gdb, "u1", &cat.ID, 1500)

	report, err := cats.Delete(ctx, "u1", cat.ID)
	require.Error(t, err)
	require.NotNil(t, report)
	assert.True(t, report.CategoryDeleted)
	assert.Equal(t, 500, report.Detached)
	assert.Equal(t, 1000, report.Remaining)
	assert.Equal(t, 1, report.ChunksCommitted)
	assert.Equal(t, 3, report.ChunksTotal)

	// category row is gone, two thirds of the links still dangle
	var catCount int64
	require.NoError(t, gdb.Model(&db.Category{}).Where("id = ?", cat.ID).Count(&catCount).Error)
	assert.Zero(t, catCount)
	var attached int64
	require.NoError(t, gdb.Model(&db.Link{}).Where("category_id = ?", cat.ID).Count(&attached).Error)
	assert.Equal(t, int64(1000), attached)

	// a retry from scratch finishes the detach work
	retry := NewCategories(gdb, store.NewBatcher(gdb, 500), testLogger())
	report, err = retry.Delete(ctx, "u1", cat.ID)
	require.NoError(t, err)
	assert.Equal(t, 1000, report.Detached)
	require.NoError(t, gdb.Model(&db.Link{}).Where("category_id = ?", cat.ID).Count(&attached).Error)
	assert.Zero(t, attached)
}

func TestCategoryDelete_ChunkedSuccess(t *testing.T) {
	gdb := newTestDB(t)
	cats := newCategoriesService(gdb, 500)
	ctx := context.Background()

	cat := seedCategory(t, gdb, "u1", "bulk")
	seedLinks(t, gdb, "u1", &cat.ID, 1200)

	report, err := cats.Delete(ctx, "u1", cat.ID)
	require.NoError(t, err)
	assert.True(t, report.CategoryDeleted)
	assert.Equal(t, 1200, report.Detached)
	assert.Zero(t, report.Remaining)
	assert.Equal(t, 3, report.ChunksCommitted)
	assert.Equal(t, 3, report.ChunksTotal)
}

func TestCategoryCRUD(t *testing.T) {
	gdb := newTestDB(t)
	cats := newCategoriesService(gdb, 500)
	ctx := context.Background()

	_, err := cats.Create(ctx, "u1", "")
	assert.True(t, IsValidation(err))

	created, err := cats.Create(ctx, "u1", "reading")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	renamed, err := cats.Update(ctx, "u1", created.ID, "to read")
	require.NoError(t, err)
	assert.Equal(t, "to read", renamed.Name)

	_, err = cats.Update(ctx, "other", created.ID, "hijack")
	assert.ErrorIs(t, err, ErrNotFound)

	listing, err := cats.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, listing, 1)
	assert.Equal(t, "to read", listing[0].Name)
}
