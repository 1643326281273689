package backlog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/overseer/internal/docstore"
	"github.com/msageha/overseer/internal/model"
)

func writeBacklog(t *testing.T, items ...model.WorkItem) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backlog.json")
	require.NoError(t, docstore.Write(path, model.Backlog{Items: items}))
	return NewStore(path)
}

func TestValidate_DuplicateID(t *testing.T) {
	err := Validate(model.Backlog{Items: []model.WorkItem{
		{ID: "A1", Slice: 1},
		{ID: "A1", Slice: 1},
	}})
	assert.ErrorContains(t, err, "duplicate")
}

func TestValidate_UnknownDependency(t *testing.T) {
	err := Validate(model.Backlog{Items: []model.WorkItem{
		{ID: "A1", Slice: 1, Dependencies: []string{"ghost"}},
	}})
	assert.ErrorContains(t, err, "unknown item")
}

func TestValidate_LaterSliceDependency(t *testing.T) {
	err := Validate(model.Backlog{Items: []model.WorkItem{
		{ID: "A1", Slice: 1, Dependencies: []string{"B1"}},
		{ID: "B1", Slice: 2},
	}})
	assert.ErrorContains(t, err, "later slice")
}

func TestValidate_Cycle(t *testing.T) {
	err := Validate(model.Backlog{Items: []model.WorkItem{
		{ID: "A1", Slice: 1, Dependencies: []string{"A2"}},
		{ID: "A2", Slice: 1, Dependencies: []string{"A1"}},
	}})
	assert.ErrorContains(t, err, "cycle")
}

func TestValidate_OK(t *testing.T) {
	err := Validate(model.Backlog{Items: []model.WorkItem{
		{ID: "A1", Slice: 1},
		{ID: "A2", Slice: 1, Dependencies: []string{"A1"}},
		{ID: "B1", Slice: 2, Dependencies: []string{"A2"}},
	}})
	assert.NoError(t, err)
}

func TestActiveSlice(t *testing.T) {
	b := model.Backlog{Items: []model.WorkItem{
		{ID: "A1", Slice: 1, Passes: true},
		{ID: "A2", Slice: 1, Passes: true},
		{ID: "B1", Slice: 2},
		{ID: "C1", Slice: 3},
	}}
	slice, ok := ActiveSlice(b)
	require.True(t, ok)
	assert.Equal(t, 2, slice)
}

func TestActiveSlice_AllPass(t *testing.T) {
	b := model.Backlog{Items: []model.WorkItem{{ID: "A1", Slice: 1, Passes: true}}}
	_, ok := ActiveSlice(b)
	assert.False(t, ok)
}

func TestSelectDeterministic_LowerSliceBeatsHigherPriority(t *testing.T) {
	b := model.Backlog{Items: []model.WorkItem{
		{ID: "A1", Slice: 1, Priority: 100},
		{ID: "B1", Slice: 2, Priority: 200},
	}}
	slice, ok := ActiveSlice(b)
	require.True(t, ok)
	require.Equal(t, 1, slice)

	item := SelectDeterministic(b, slice)
	require.NotNil(t, item)
	assert.Equal(t, "A1", item.ID)
}

func TestSelectDeterministic_PriorityThenDeclaredOrder(t *testing.T) {
	b := model.Backlog{Items: []model.WorkItem{
		{ID: "A1", Slice: 1, Priority: 10},
		{ID: "A2", Slice: 1, Priority: 50},
		{ID: "A3", Slice: 1, Priority: 50},
	}}
	item := SelectDeterministic(b, 1)
	require.NotNil(t, item)
	// A2 and A3 tie on priority; declared order wins.
	assert.Equal(t, "A2", item.ID)
}

func TestSelectDeterministic_PrefersSatisfiedDependencies(t *testing.T) {
	b := model.Backlog{Items: []model.WorkItem{
		{ID: "A1", Slice: 1, Priority: 90, Dependencies: []string{"A2"}},
		{ID: "A2", Slice: 1, Priority: 10},
	}}
	item := SelectDeterministic(b, 1)
	require.NotNil(t, item)
	assert.Equal(t, "A2", item.ID)
}

func TestValidateSelection(t *testing.T) {
	b := model.Backlog{Items: []model.WorkItem{
		{ID: "A1", Slice: 1, Passes: true},
		{ID: "A2", Slice: 1},
		{ID: "B1", Slice: 2},
	}}

	item, err := ValidateSelection(b, "A2", 1)
	require.NoError(t, err)
	assert.Equal(t, "A2", item.ID)

	_, err = ValidateSelection(b, "A1", 1)
	assert.Error(t, err, "already-passing item must be rejected")

	_, err = ValidateSelection(b, "B1", 1)
	assert.Error(t, err, "wrong-slice item must be rejected")

	_, err = ValidateSelection(b, "nope", 1)
	assert.Error(t, err, "unknown item must be rejected")
}

func TestMarkPassed_FlipsExactlyOneItem(t *testing.T) {
	store := writeBacklog(t,
		model.WorkItem{ID: "A1", Slice: 1},
		model.WorkItem{ID: "A2", Slice: 1},
	)

	before, err := store.Digest()
	require.NoError(t, err)

	require.NoError(t, store.MarkPassed("A1"))

	b, err := store.Load()
	require.NoError(t, err)
	assert.True(t, b.Items[0].Passes)
	assert.False(t, b.Items[1].Passes)

	after, err := store.Digest()
	require.NoError(t, err)
	assert.NotEqual(t, before, after, "digest must change when the backlog changes")
}

func TestMarkPassed_UnknownItem(t *testing.T) {
	store := writeBacklog(t, model.WorkItem{ID: "A1", Slice: 1})
	assert.Error(t, store.MarkPassed("missing"))
}
