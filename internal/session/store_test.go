// ABOUTME: Tests for the in-memory session store
// ABOUTME: Covers open/close lifecycle, merge reconciliation, ordering invariant

package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorvo/opsdesk/internal/canvas"
)

func newTestStore() *Store {
	return NewStore(canvas.NewEngine(), nil)
}

func at(sec int) time.Time {
	return time.Date(2026, 3, 1, 12, 0, sec, 0, time.UTC)
}

func TestOpenCreatesLoadingSessionAndMarksActive(t *testing.T) {
	s := newTestStore()

	created := s.Open(42, "Ada", "+100")
	require.True(t, created)

	sess, ok := s.Get(42)
	require.True(t, ok)
	assert.True(t, sess.IsLoading)
	assert.Empty(t, sess.Messages)
	assert.Equal(t, "Ada", sess.ClientName)
	require.NotNil(t, sess.Layout)
	assert.Equal(t, int64(42), s.Active())
}

func TestDoubleOpenKeepsOneSessionWithLatestRaise(t *testing.T) {
	s := newTestStore()

	require.True(t, s.Open(7, "Bo", "+200"))
	first, _ := s.Get(7)

	require.False(t, s.Open(7, "Bo", "+200"))
	assert.Equal(t, 1, s.Len())

	second, _ := s.Get(7)
	assert.Greater(t, second.Layout.Z, first.Layout.Z, "re-open must raise the window")
}

func TestOpenStaggersNewWindows(t *testing.T) {
	s := newTestStore()
	s.Open(1, "a", "+1")
	s.Open(2, "b", "+2")

	one, _ := s.Get(1)
	two, _ := s.Get(2)
	assert.Equal(t, one.Layout.X+40, two.Layout.X)
	assert.Equal(t, one.Layout.Y+40, two.Layout.Y)
}

func TestCloseClearsActiveSelection(t *testing.T) {
	s := newTestStore()
	s.Open(5, "c", "+3")
	require.Equal(t, int64(5), s.Active())

	s.Close(5)
	assert.False(t, s.Exists(5))
	assert.Equal(t, int64(0), s.Active())

	// Unknown id is a no-op.
	s.Close(99)
}

func TestReplaceMessagesSortsAndClearsLoading(t *testing.T) {
	s := newTestStore()
	s.Open(1, "d", "+4")

	ok := s.ReplaceMessages(1, []Message{
		{ID: 2, Text: "second", Timestamp: at(2)},
		{ID: 1, Text: "first", Timestamp: at(1)},
		{ID: 3, Text: "third", Timestamp: at(3)},
	})
	require.True(t, ok)

	sess, _ := s.Get(1)
	assert.False(t, sess.IsLoading)
	require.Len(t, sess.Messages, 3)
	assert.Equal(t, "first", sess.Messages[0].Text)
	assert.Equal(t, "third", sess.Messages[2].Text)
}

func TestReplaceMessagesOnClosedSessionIsNoOp(t *testing.T) {
	s := newTestStore()
	s.Open(1, "e", "+5")
	s.Close(1)

	assert.False(t, s.ReplaceMessages(1, []Message{{ID: 1, Timestamp: at(1)}}))
	assert.False(t, s.Exists(1), "late result must not recreate the session")
}

func TestMergeReplacesOptimisticEntryByText(t *testing.T) {
	s := newTestStore()
	s.Open(42, "f", "+6")
	s.ReplaceMessages(42, nil)

	// Optimistic send with a temporary id.
	require.True(t, s.Append(42, Message{
		ID: -1700000000001, Role: RoleOperator, Text: "hi",
		Timestamp: at(1), Status: StatusSending,
	}))

	// Echo from the push channel with the server identity.
	require.True(t, s.Merge(42, Message{
		ID: 9001, Role: RoleOperator, Text: "hi",
		Timestamp: at(2), Status: StatusSent,
	}))

	sess, _ := s.Get(42)
	require.Len(t, sess.Messages, 1, "no duplicate after the echo")
	assert.Equal(t, int64(9001), sess.Messages[0].ID)
	assert.Equal(t, StatusSent, sess.Messages[0].Status)
}

func TestMergeReplacesByConfirmedID(t *testing.T) {
	s := newTestStore()
	s.Open(1, "g", "+7")
	s.ReplaceMessages(1, []Message{{ID: 10, Text: "old", Timestamp: at(1), Status: StatusPendingReview}})

	require.True(t, s.Merge(1, Message{ID: 10, Text: "new", Timestamp: at(1), Status: StatusSent}))

	sess, _ := s.Get(1)
	require.Len(t, sess.Messages, 1)
	assert.Equal(t, "new", sess.Messages[0].Text)
}

func TestMergeAppendsUnknownAndKeepsOrder(t *testing.T) {
	s := newTestStore()
	s.Open(1, "h", "+8")
	s.ReplaceMessages(1, []Message{{ID: 2, Timestamp: at(5)}})

	// Out-of-order delivery: older message arrives later.
	require.True(t, s.Merge(1, Message{ID: 1, Timestamp: at(1), Role: RoleClient}))

	sess, _ := s.Get(1)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, int64(1), sess.Messages[0].ID)
	assert.Equal(t, int64(2), sess.Messages[1].ID)
}

func TestMergeKeepsDistinctIDLessFrames(t *testing.T) {
	s := newTestStore()
	s.Open(1, "i", "+9")
	s.ReplaceMessages(1, nil)

	// Some push frames carry no id; two of them must not collide on
	// the zero value.
	require.True(t, s.Merge(1, Message{
		Role: RoleClient, Text: "first", Timestamp: at(1), Status: StatusSent,
	}))
	require.True(t, s.Merge(1, Message{
		Role: RoleClient, Text: "second", Timestamp: at(6), Status: StatusSent,
	}))

	sess, _ := s.Get(1)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, "first", sess.Messages[0].Text)
	assert.Equal(t, "second", sess.Messages[1].Text)
}

func TestMergeDerivesThinkingFromRole(t *testing.T) {
	s := newTestStore()
	s.Open(1, "i", "+9")
	s.ReplaceMessages(1, nil)

	s.Merge(1, Message{ID: 1, Role: RoleClient, Timestamp: at(1)})
	sess, _ := s.Get(1)
	assert.True(t, sess.IsThinking, "client message means an automated reply is coming")

	s.Merge(1, Message{ID: 2, Role: RoleOperator, Timestamp: at(2)})
	sess, _ = s.Get(1)
	assert.False(t, sess.IsThinking)
}

func TestResolveByIDThenPhone(t *testing.T) {
	s := newTestStore()
	s.Open(1, "j", "+10")

	id, ok := s.Resolve(1, "")
	require.True(t, ok)
	assert.Equal(t, int64(1), id)

	id, ok = s.Resolve(0, "+10")
	require.True(t, ok)
	assert.Equal(t, int64(1), id)

	_, ok = s.Resolve(0, "+999")
	assert.False(t, ok)
}

func TestConfirmSwapsTempIDAndTimestamp(t *testing.T) {
	s := newTestStore()
	s.Open(1, "k", "+11")
	s.ReplaceMessages(1, nil)
	s.Append(1, Message{ID: -5, Text: "x", Timestamp: at(1), Status: StatusSending})

	require.True(t, s.Confirm(1, -5, 77, at(3)))

	sess, _ := s.Get(1)
	require.Len(t, sess.Messages, 1)
	assert.Equal(t, int64(77), sess.Messages[0].ID)
	assert.Equal(t, StatusSent, sess.Messages[0].Status)
	assert.Equal(t, at(3), sess.Messages[0].Timestamp)

	// Confirming again finds nothing to do.
	assert.False(t, s.Confirm(1, -5, 77, at(3)))
}

func TestFailKeepsMessageVisible(t *testing.T) {
	s := newTestStore()
	s.Open(1, "l", "+12")
	s.ReplaceMessages(1, nil)
	s.Append(1, Message{ID: -5, Text: "x", Timestamp: at(1), Status: StatusSending})

	require.True(t, s.Fail(1, -5))

	sess, _ := s.Get(1)
	require.Len(t, sess.Messages, 1)
	assert.Equal(t, StatusError, sess.Messages[0].Status)
}

func TestRemoveDropsListedIDs(t *testing.T) {
	s := newTestStore()
	s.Open(1, "m", "+13")
	s.ReplaceMessages(1, []Message{
		{ID: 1, Timestamp: at(1)},
		{ID: 2, Timestamp: at(2)},
		{ID: 3, Timestamp: at(3)},
	})

	require.True(t, s.Remove(1, 1, 3, 99))

	sess, _ := s.Get(1)
	require.Len(t, sess.Messages, 1)
	assert.Equal(t, int64(2), sess.Messages[0].ID)
}

func TestListIsOrderedByConversationID(t *testing.T) {
	s := newTestStore()
	s.Open(9, "n", "+14")
	s.Open(3, "o", "+15")

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, int64(3), list[0].ConversationID)
	assert.Equal(t, int64(9), list[1].ConversationID)
}
