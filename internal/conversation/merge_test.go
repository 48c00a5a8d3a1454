package conversation

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repchat/internal/apperr"
	"github.com/repchat/internal/identity"
)

func addMsg(t *testing.T, s Store, convID string, sender Sender, senderID, content string, ts time.Time) {
	t.Helper()
	require.NoError(t, s.AppendMessage(context.Background(), &Message{
		ConversationID: convID,
		Sender:         sender,
		SenderID:       senderID,
		Content:        content,
		Timestamp:      ts,
	}))
}

type msgShape struct {
	Sender    Sender
	Content   string
	Timestamp time.Time
}

func shapes(t *testing.T, s Store, convID string) []msgShape {
	t.Helper()
	msgs, err := s.ListMessages(context.Background(), convID)
	require.NoError(t, err)
	out := make([]msgShape, len(msgs))
	for i, m := range msgs {
		out[i] = msgShape{m.Sender, m.Content, m.Timestamp}
	}
	return out
}

func TestMergeScenarioOldestSurvivesAndIsActivated(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	seed(t, store, "c1", StatusArchived, t0)
	seed(t, store, "c2", StatusActive, t0.Add(time.Hour))
	addMsg(t, store, "c1", SenderUser, "cust", "hello", t0.Add(time.Minute))
	addMsg(t, store, "c1", SenderAI, "ai", "hi there", t0.Add(2*time.Minute))
	addMsg(t, store, "c2", SenderUser, "cust", "back again", t0.Add(61*time.Minute))

	report, err := NewMerger(store).MergeDuplicates(ctx)
	require.NoError(t, err)
	require.Len(t, report.Groups, 1)
	g := report.Groups[0]
	assert.Equal(t, "c1", g.SurvivorID)
	assert.Equal(t, []string{"c2"}, g.DeletedIDs)
	assert.Equal(t, 1, g.MessagesMoved)
	assert.False(t, g.Failed())

	c1, err := store.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, c1.Status)
	_, err = store.GetConversation(ctx, "c2")
	assert.Error(t, err)

	want := []msgShape{
		{SenderUser, "hello", t0.Add(time.Minute)},
		{SenderAI, "hi there", t0.Add(2 * time.Minute)},
		{SenderUser, "back again", t0.Add(61 * time.Minute)},
	}
	if diff := cmp.Diff(want, shapes(t, store, "c1")); diff != "" {
		t.Fatalf("transcript mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeIsLossless(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	ids := []string{"a", "b", "c", "d"}
	var want []msgShape
	for i, id := range ids {
		seed(t, store, id, StatusEnded, t0.Add(time.Duration(i)*time.Hour))
		for j := 0; j < 3; j++ {
			ts := t0.Add(time.Duration(i)*time.Hour + time.Duration(j)*time.Minute)
			sender := SenderUser
			if j%2 == 1 {
				sender = SenderAdmin
			}
			content := id + "-" + string(rune('0'+j))
			addMsg(t, store, id, sender, "p", content, ts)
			want = append(want, msgShape{sender, content, ts})
		}
	}
	// interleaved timestamp from a later duplicate
	addMsg(t, store, "d", SenderUser, "p", "late-but-early", t0.Add(30*time.Second))
	want = append(want, msgShape{SenderUser, "late-but-early", t0.Add(30 * time.Second)})
	sort.SliceStable(want, func(i, j int) bool { return want[i].Timestamp.Before(want[j].Timestamp) })

	report, err := NewMerger(store).MergeDuplicates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, report.MessagesMoved())

	left, err := store.FindByIdentity(ctx, identity.Phone("+15551230000"), repPhone)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "a", left[0].ID)
	if diff := cmp.Diff(want, shapes(t, store, "a")); diff != "" {
		t.Fatalf("transcript mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeSecondRunChangesNothing(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	seed(t, store, "x", StatusActive, t0)
	seed(t, store, "y", StatusActive, t0.Add(time.Second))
	addMsg(t, store, "y", SenderUser, "cust", "one", t0)

	m := NewMerger(store)
	first, err := m.MergeDuplicates(ctx)
	require.NoError(t, err)
	require.Len(t, first.Groups, 1)
	before := shapes(t, store, "x")

	second, err := m.MergeDuplicates(ctx)
	require.NoError(t, err)
	assert.Empty(t, second.Groups)
	assert.Equal(t, 0, second.MessagesMoved())
	assert.Equal(t, before, shapes(t, store, "x"))
}

func TestMergePreservesReceipts(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	seed(t, store, "x", StatusActive, t0)
	seed(t, store, "y", StatusArchived, t0.Add(time.Second))
	addMsg(t, store, "y", SenderUser, "cust", "seen", t0)
	_, err := NewTracker(store).MarkRead(ctx, "y", "rep")
	require.NoError(t, err)

	_, err = NewMerger(store).MergeDuplicates(ctx)
	require.NoError(t, err)
	msgs, err := store.ListMessages(ctx, "x")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"rep"}, msgs[0].ReadBy)
}

func TestMergeSurvivorAdoptsMissingFields(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	seed(t, store, "x", StatusArchived, t0)
	seed(t, store, "y", StatusArchived, t0.Add(time.Second))
	bridge := "CH123"
	yes := true
	_, err := store.PatchConversation(ctx, "y", Patch{
		BridgeRef:     &bridge,
		SaleRef:       &SaleRef{SaleID: "s1", Status: "pending_review"},
		PotentialSale: &yes,
		Profile:       &CustomerProfile{Name: "Dana", Intake: IntakeAnswers{Goals: []string{"energy"}}},
	})
	require.NoError(t, err)

	_, err = NewMerger(store).MergeDuplicates(ctx)
	require.NoError(t, err)
	x, err := store.GetConversation(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, x.Status)
	assert.Equal(t, "CH123", x.BridgeRef)
	require.NotNil(t, x.SaleRef)
	assert.Equal(t, "s1", x.SaleRef.SaleID)
	assert.True(t, x.PotentialSale)
	require.NotNil(t, x.Profile)
	assert.Equal(t, "Dana", x.Profile.Name)
	assert.Equal(t, []string{"energy"}, x.Profile.Intake.Goals)
}

type recordingReassigner struct{ moves [][2]string }

func (r *recordingReassigner) Reassign(_ context.Context, from, to string) error {
	r.moves = append(r.moves, [2]string{from, to})
	return nil
}

func TestMergeReassignsBeforeDelete(t *testing.T) {
	store := NewInMemoryStore()
	seed(t, store, "x", StatusActive, t0)
	seed(t, store, "y", StatusActive, t0.Add(time.Second))
	ra := &recordingReassigner{}

	_, err := NewMerger(store, WithReassigner(ra), WithConcurrency(1)).MergeDuplicates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"y", "x"}}, ra.moves)
}

// poisonStore fails to append any message whose content is "poison".
type poisonStore struct{ *InMemoryStore }

func (p poisonStore) AppendMessage(ctx context.Context, m *Message) error {
	if m.Content == "poison" {
		return errors.New("write timeout")
	}
	return p.InMemoryStore.AppendMessage(ctx, m)
}

func TestMergeFailureKeepsDuplicateAndOtherGroupsContinue(t *testing.T) {
	mem := NewInMemoryStore()
	ctx := context.Background()
	seed(t, mem, "x", StatusActive, t0)
	seed(t, mem, "y", StatusArchived, t0.Add(time.Second))
	require.NoError(t, mem.AppendMessage(ctx, &Message{ConversationID: "y", Sender: SenderUser, SenderID: "c", Content: "fine", Timestamp: t0}))
	require.NoError(t, mem.AppendMessage(ctx, &Message{ConversationID: "y", Sender: SenderUser, SenderID: "c", Content: "poison", Timestamp: t0.Add(time.Second)}))
	require.NoError(t, mem.AppendMessage(ctx, &Message{ConversationID: "y", Sender: SenderUser, SenderID: "c", Content: "after", Timestamp: t0.Add(2 * time.Second)}))

	other := identity.Instagram("shopper")
	require.NoError(t, mem.CreateConversation(ctx, &Conversation{ID: "i1", Customer: other, RepPhone: repPhone, Status: StatusActive, CreatedAt: t0}))
	require.NoError(t, mem.CreateConversation(ctx, &Conversation{ID: "i2", Customer: other, RepPhone: repPhone, Status: StatusActive, CreatedAt: t0.Add(time.Minute)}))

	report, err := NewMerger(poisonStore{mem}).MergeDuplicates(ctx)
	require.NoError(t, err)
	require.Len(t, report.Groups, 2)
	assert.Equal(t, 1, report.FailedGroups())

	for _, g := range report.Groups {
		switch g.SurvivorID {
		case "x":
			assert.True(t, g.Failed())
			assert.Empty(t, g.DeletedIDs)
			assert.Equal(t, 1, g.MessagesMoved)
		case "i1":
			assert.False(t, g.Failed())
			assert.Equal(t, []string{"i2"}, g.DeletedIDs)
		default:
			t.Fatalf("unexpected group %s", g.SurvivorID)
		}
	}

	_, err = mem.GetConversation(ctx, "y")
	require.NoError(t, err, "duplicate must survive a failed move")
	left := shapes(t, mem, "y")
	require.Len(t, left, 2)
	assert.Equal(t, "poison", left[0].Content)
	assert.Equal(t, "after", left[1].Content)
	assert.Len(t, shapes(t, mem, "x"), 1)
}

func TestPreviewDoesNotMutate(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	seed(t, store, "x", StatusArchived, t0)
	seed(t, store, "y", StatusActive, t0.Add(time.Second))
	addMsg(t, store, "y", SenderUser, "c", "m1", t0)
	addMsg(t, store, "y", SenderUser, "c", "m2", t0)

	p, err := NewMerger(store).PreviewDuplicates(ctx)
	require.NoError(t, err)
	require.Len(t, p.Groups, 1)
	assert.Equal(t, "x", p.Groups[0].SurvivorID)
	assert.Equal(t, []string{"y"}, p.Groups[0].DuplicateIDs)
	assert.Equal(t, 2, p.Groups[0].Messages)
	assert.True(t, p.Groups[0].ForceActive)

	all, err := store.ListConversations(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	x, _ := store.GetConversation(ctx, "x")
	assert.Equal(t, StatusArchived, x.Status)
}

func TestMergeCancelledBeforeStartLeavesDataAlone(t *testing.T) {
	store := NewInMemoryStore()
	seed(t, store, "x", StatusActive, t0)
	seed(t, store, "y", StatusActive, t0.Add(time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := NewMerger(store).MergeDuplicates(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report.Groups)
	all, _ := store.ListConversations(context.Background())
	assert.Len(t, all, 2)
}

func TestMergeMovesBridgeFromHandedOffDuplicate(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	seed(t, store, "old", StatusArchived, t0)
	seed(t, store, "new", StatusActive, t0.Add(time.Hour))
	human := ModeHuman
	bridge := "CH777"
	_, err := store.PatchConversation(ctx, "new", Patch{Mode: &human, BridgeRef: &bridge})
	require.NoError(t, err)
	addMsg(t, store, "new", SenderUser, "cust", "need a person", t0.Add(61*time.Minute))

	report, err := NewMerger(store).MergeDuplicates(ctx)
	require.NoError(t, err)
	require.Len(t, report.Groups, 1)
	assert.False(t, report.Groups[0].Failed(), report.Groups[0].Errors)
	assert.Equal(t, []string{"new"}, report.Groups[0].DeletedIDs)

	all, err := store.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "old", all[0].ID)
	assert.Equal(t, "CH777", all[0].BridgeRef)
	assert.Equal(t, StatusActive, all[0].Status)

	byRef, err := store.FindByBridgeRef(ctx, "CH777")
	require.NoError(t, err)
	assert.Equal(t, "old", byRef.ID)
}

func TestInMemoryStoreRejectsSharedBridgeRef(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	seed(t, store, "a", StatusActive, t0)
	seed(t, store, "b", StatusActive, t0)
	ref := "CH1"
	_, err := store.PatchConversation(ctx, "a", Patch{BridgeRef: &ref})
	require.NoError(t, err)

	_, err = store.PatchConversation(ctx, "b", Patch{BridgeRef: &ref})
	assert.ErrorIs(t, err, ErrBridgeRefInUse)
	assert.ErrorIs(t, err, apperr.ErrStoreUnavailable)

	_, err = store.PatchConversation(ctx, "a", Patch{BridgeRef: &ref})
	assert.NoError(t, err, "a conversation may keep its own ref")
}

// survivorPatchFails rejects every patch to one conversation.
type survivorPatchFails struct {
	*InMemoryStore
	id string
}

func (s survivorPatchFails) PatchConversation(ctx context.Context, id string, p Patch) (*Conversation, error) {
	if id == s.id {
		return nil, errors.New("deadlock detected")
	}
	return s.InMemoryStore.PatchConversation(ctx, id, p)
}

func TestMergeRestoresBridgeWhenSurvivorPatchFails(t *testing.T) {
	mem := NewInMemoryStore()
	ctx := context.Background()
	seed(t, mem, "old", StatusArchived, t0)
	seed(t, mem, "new", StatusArchived, t0.Add(time.Hour))
	bridge := "CH888"
	_, err := mem.PatchConversation(ctx, "new", Patch{BridgeRef: &bridge})
	require.NoError(t, err)

	report, err := NewMerger(survivorPatchFails{mem, "old"}).MergeDuplicates(ctx)
	require.NoError(t, err)
	require.Len(t, report.Groups, 1)
	assert.True(t, report.Groups[0].Failed())

	dup, err := mem.GetConversation(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, "CH888", dup.BridgeRef)
}
