// ABOUTME: Tests for batch member and batch collection fetches.
// ABOUTME: Covers dotted paths, getter shadowing, string conversion, and per-path errors.

package invoke

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marrowdev/marrow/internal/pinned"
	"github.com/marrowdev/marrow/internal/wire"
)

type crate struct {
	Label    string
	Contents *robot
}

func (c *crate) Weight() int { return 12 }

type manifest struct{ Status string }

type sealedCrate struct {
	manifest
}

func (c *sealedCrate) Status() string { return "sealed" }

func TestBatchMembers(t *testing.T) {
	s, pins, _ := newTestSurface(t)
	c := &crate{Label: "box", Contents: &robot{Name: "r1", Battery: 80}}
	h := pins.Pin(c)

	resp, err := s.BatchMembers(wire.BatchMembersRequest{
		Handle: h,
		Paths:  []string{"Label", "Weight", "Contents.Name", "Contents.Battery"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 4)

	assert.Equal(t, "box", resp.Results[0].Value.Raw)
	assert.Equal(t, "12", resp.Results[1].Value.Raw, "zero-arg method resolves like a member")
	assert.Equal(t, "r1", resp.Results[2].Value.Raw)
	assert.Equal(t, "80", resp.Results[3].Value.Raw)
}

func TestBatchMembers_PerPathErrors(t *testing.T) {
	s, pins, _ := newTestSurface(t)
	h := pins.Pin(&crate{Label: "box"})

	resp, err := s.BatchMembers(wire.BatchMembersRequest{
		Handle: h,
		Paths:  []string{"Label", "Nonexistent", "Contents.Name"},
	})
	require.NoError(t, err, "path failures never fail the batch")
	require.Len(t, resp.Results, 3)

	assert.Empty(t, resp.Results[0].Error)
	assert.NotEmpty(t, resp.Results[1].Error)
	assert.Equal(t, wire.KindNull, resp.Results[1].Value.Kind)
	assert.NotEmpty(t, resp.Results[2].Error, "nil Contents pointer")
}

func TestBatchMembers_StringifySuffix(t *testing.T) {
	s, pins, _ := newTestSurface(t)
	h := pins.Pin(&crate{Contents: &robot{Name: "r1"}})

	resp, err := s.BatchMembers(wire.BatchMembersRequest{
		Handle: h,
		Paths:  []string{"Contents|s"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	got := resp.Results[0]
	assert.Equal(t, "Contents|s", got.Path)
	assert.Equal(t, wire.KindPrimitive, got.Value.Kind)
	assert.Equal(t, "string", got.Value.Type)
	assert.NotEmpty(t, got.Value.Raw)
}

func TestBatchMembers_GetterShadowsPromotedField(t *testing.T) {
	s, pins, _ := newTestSurface(t)
	h := pins.Pin(&sealedCrate{manifest: manifest{Status: "raw"}})

	resp, err := s.BatchMembers(wire.BatchMembersRequest{Handle: h, Paths: []string{"Status"}})
	require.NoError(t, err)
	assert.Equal(t, "sealed", resp.Results[0].Value.Raw)
}

func TestBatchMembers_NonPrimitiveLeafPinned(t *testing.T) {
	s, pins, _ := newTestSurface(t)
	inner := &robot{Name: "r1"}
	h := pins.Pin(&crate{Contents: inner})

	resp, err := s.BatchMembers(wire.BatchMembersRequest{Handle: h, Paths: []string{"Contents"}})
	require.NoError(t, err)
	require.Equal(t, wire.KindHandle, resp.Results[0].Value.Kind)

	obj, ok := pins.TryGet(resp.Results[0].Value.Handle)
	require.True(t, ok)
	assert.Same(t, inner, obj)
}

func TestBatchMembers_UnpinnedTarget(t *testing.T) {
	s, _, _ := newTestSurface(t)

	_, err := s.BatchMembers(wire.BatchMembersRequest{Handle: 999, Paths: []string{"Label"}})
	assert.ErrorIs(t, err, pinned.ErrNotPinned)
}

func TestBatchCollection(t *testing.T) {
	s, pins, _ := newTestSurface(t)
	h := pins.Pin([]*robot{
		{Name: "r1", Battery: 10},
		{Name: "r2", Battery: 20},
	})

	resp, err := s.BatchCollection(wire.BatchCollectionRequest{
		Handle: h,
		Paths:  []string{"Name", "Battery"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Elements, 2)

	assert.Equal(t, 0, resp.Elements[0].Index)
	assert.Equal(t, "r1", resp.Elements[0].Results[0].Value.Raw)
	assert.Equal(t, "10", resp.Elements[0].Results[1].Value.Raw)
	assert.Equal(t, 1, resp.Elements[1].Index)
	assert.Equal(t, "r2", resp.Elements[1].Results[0].Value.Raw)
}

func TestBatchCollection_LeavesStayUnpinned(t *testing.T) {
	s, pins, _ := newTestSurface(t)
	h := pins.Pin([]*crate{{Contents: &robot{Name: "r1"}}})
	before := pins.Count()

	resp, err := s.BatchCollection(wire.BatchCollectionRequest{
		Handle: h,
		Paths:  []string{"Contents"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Elements, 1)

	got := resp.Elements[0].Results[0].Value
	assert.Equal(t, wire.KindNull, got.Kind)
	assert.NotEmpty(t, got.Type, "type still reported for unpinned leaves")
	assert.Equal(t, before, pins.Count(), "no element pinning")
}

func TestBatchCollection_Enumerable(t *testing.T) {
	s, pins, _ := newTestSurface(t)
	h := pins.Pin(&countingSeq{items: []any{
		&robot{Name: "r1"},
		&robot{Name: "r2"},
	}})

	resp, err := s.BatchCollection(wire.BatchCollectionRequest{Handle: h, Paths: []string{"Name"}})
	require.NoError(t, err)
	require.Len(t, resp.Elements, 2)
	assert.Equal(t, "r2", resp.Elements[1].Results[0].Value.Raw)
}

func TestBatchCollection_NotACollection(t *testing.T) {
	s, pins, _ := newTestSurface(t)
	h := pins.Pin(&robot{})

	_, err := s.BatchCollection(wire.BatchCollectionRequest{Handle: h, Paths: []string{"Name"}})
	assert.ErrorIs(t, err, ErrResolution)
}
