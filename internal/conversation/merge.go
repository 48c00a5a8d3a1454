package conversation

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/repchat/internal/apperr"
)

// Reassigner moves records owned by a deleted duplicate (sales) onto the survivor.
type Reassigner interface {
	Reassign(ctx context.Context, fromConversationID, toConversationID string) error
}

// GroupReport describes what happened to one identity-pair group.
type GroupReport struct {
	Key           PairKey  `json:"-"`
	Customer      string   `json:"customer"`
	RepPhone      string   `json:"rep_phone"`
	SurvivorID    string   `json:"survivor_id"`
	DeletedIDs    []string `json:"deleted_ids"`
	MessagesMoved int      `json:"messages_moved"`
	Errors        []string `json:"errors,omitempty"`
}

func (g GroupReport) Failed() bool { return len(g.Errors) > 0 }

type MergeReport struct {
	Scanned int           `json:"conversations_scanned"`
	Groups  []GroupReport `json:"groups"`
}

// MessagesMoved sums moved messages across groups.
func (r MergeReport) MessagesMoved() int {
	n := 0
	for _, g := range r.Groups {
		n += g.MessagesMoved
	}
	return n
}

func (r MergeReport) FailedGroups() int {
	n := 0
	for _, g := range r.Groups {
		if g.Failed() {
			n++
		}
	}
	return n
}

type PreviewGroup struct {
	Customer     string   `json:"customer"`
	RepPhone     string   `json:"rep_phone"`
	SurvivorID   string   `json:"survivor_id"`
	DuplicateIDs []string `json:"duplicate_ids"`
	Messages     int      `json:"messages_to_move"`
	ForceActive  bool     `json:"force_active"`
}

type PreviewReport struct {
	Scanned int            `json:"conversations_scanned"`
	Groups  []PreviewGroup `json:"groups"`
}

// Merger collapses conversations sharing an identity pair into the oldest one.
type Merger struct {
	store       Store
	reassigner  Reassigner
	concurrency int
}

type MergerOption func(*Merger)

func WithReassigner(r Reassigner) MergerOption {
	return func(m *Merger) { m.reassigner = r }
}

// WithConcurrency bounds how many groups are merged at once.
func WithConcurrency(n int) MergerOption {
	return func(m *Merger) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

func NewMerger(store Store, opts ...MergerOption) *Merger {
	m := &Merger{store: store, concurrency: 4}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type group struct {
	key      PairKey
	members  []*Conversation // oldest first
	anyAlive bool
}

func (g group) survivor() *Conversation     { return g.members[0] }
func (g group) duplicates() []*Conversation { return g.members[1:] }

// groupDuplicates returns only groups with more than one member, ordered by key.
func groupDuplicates(all []*Conversation) []group {
	byKey := make(map[PairKey][]*Conversation)
	for _, c := range all {
		byKey[c.PairKey()] = append(byKey[c.PairKey()], c)
	}
	var out []group
	for key, members := range byKey {
		if len(members) < 2 {
			continue
		}
		sort.SliceStable(members, func(i, j int) bool {
			if !members[i].CreatedAt.Equal(members[j].CreatedAt) {
				return members[i].CreatedAt.Before(members[j].CreatedAt)
			}
			return members[i].ID < members[j].ID
		})
		g := group{key: key, members: members}
		for _, c := range members {
			if c.Status == StatusActive {
				g.anyAlive = true
			}
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key.String() < out[j].key.String() })
	return out
}

// PreviewDuplicates reports what MergeDuplicates would do without writing.
func (m *Merger) PreviewDuplicates(ctx context.Context) (PreviewReport, error) {
	all, err := m.store.ListConversations(ctx)
	if err != nil {
		return PreviewReport{}, apperr.Store("list conversations", err)
	}
	report := PreviewReport{Scanned: len(all), Groups: []PreviewGroup{}}
	for _, g := range groupDuplicates(all) {
		pg := PreviewGroup{
			Customer:    g.key.Customer,
			RepPhone:    g.key.RepPhone,
			SurvivorID:  g.survivor().ID,
			ForceActive: g.anyAlive && g.survivor().Status != StatusActive,
		}
		for _, d := range g.duplicates() {
			pg.DuplicateIDs = append(pg.DuplicateIDs, d.ID)
			msgs, err := m.store.ListMessages(ctx, d.ID)
			if err != nil {
				return PreviewReport{}, apperr.Store("list messages", err)
			}
			pg.Messages += len(msgs)
		}
		report.Groups = append(report.Groups, pg)
	}
	return report, nil
}

// MergeDuplicates merges every duplicate group. A failure inside one group is
// recorded in its report and does not stop other groups. Cancelling ctx stops
// scheduling new groups; finished groups stay committed.
func (m *Merger) MergeDuplicates(ctx context.Context) (MergeReport, error) {
	all, err := m.store.ListConversations(ctx)
	if err != nil {
		return MergeReport{}, apperr.Store("list conversations", err)
	}
	groups := groupDuplicates(all)
	results := make([]*GroupReport, len(groups))

	var eg errgroup.Group
	eg.SetLimit(m.concurrency)
	for i, g := range groups {
		if ctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			r := m.mergeGroup(ctx, g)
			results[i] = &r
			return nil
		})
	}
	_ = eg.Wait()

	report := MergeReport{Scanned: len(all), Groups: []GroupReport{}}
	for _, r := range results {
		if r != nil {
			report.Groups = append(report.Groups, *r)
		}
	}
	log.Info().
		Int("scanned", report.Scanned).
		Int("groups", len(report.Groups)).
		Int("messages_moved", report.MessagesMoved()).
		Int("failed_groups", report.FailedGroups()).
		Msg("merge run finished")
	return report, ctx.Err()
}

func (m *Merger) mergeGroup(ctx context.Context, g group) GroupReport {
	survivor := g.survivor()
	rep := GroupReport{
		Key:        g.key,
		Customer:   g.key.Customer,
		RepPhone:   g.key.RepPhone,
		SurvivorID: survivor.ID,
		DeletedIDs: []string{},
	}
	logger := log.With().Str("survivor_id", survivor.ID).Str("pair", g.key.String()).Logger()

	if g.anyAlive && survivor.Status != StatusActive {
		active := StatusActive
		updated, err := m.store.PatchConversation(ctx, survivor.ID, Patch{Status: &active})
		if err != nil {
			rep.Errors = append(rep.Errors, fmt.Sprintf("activate survivor: %v", err))
			logger.Error().Err(err).Msg("could not activate survivor")
			return rep
		}
		survivor = updated
	}

	for _, dup := range g.duplicates() {
		if err := ctx.Err(); err != nil {
			rep.Errors = append(rep.Errors, fmt.Sprintf("%s: %v", dup.ID, err))
			break
		}
		moved, err := m.absorb(ctx, survivor, dup)
		rep.MessagesMoved += moved
		if err != nil {
			rep.Errors = append(rep.Errors, fmt.Sprintf("%s: %v", dup.ID, err))
			logger.Warn().Err(err).Str("duplicate_id", dup.ID).Int("moved", moved).Msg("duplicate kept after partial merge")
			continue
		}
		rep.DeletedIDs = append(rep.DeletedIDs, dup.ID)
		if fresh, err := m.store.GetConversation(ctx, survivor.ID); err == nil {
			survivor = fresh
		}
	}
	return rep
}

// absorb moves dup's messages onto survivor, then deletes dup. Each message is
// appended before its original is deleted, so a failure never loses one.
func (m *Merger) absorb(ctx context.Context, survivor, dup *Conversation) (int, error) {
	msgs, err := m.store.ListMessages(ctx, dup.ID)
	if err != nil {
		return 0, apperr.Store("list messages", err)
	}
	moved := 0
	for _, msg := range msgs {
		cp := &Message{
			ConversationID: survivor.ID,
			Sender:         msg.Sender,
			SenderID:       msg.SenderID,
			Content:        msg.Content,
			Timestamp:      msg.Timestamp,
			DeliveredTo:    append([]string{}, msg.DeliveredTo...),
			ReadBy:         append([]string{}, msg.ReadBy...),
			Edited:         msg.Edited,
			EditedAt:       msg.EditedAt,
		}
		if err := m.store.AppendMessage(ctx, cp); err != nil {
			return moved, apperr.Store("append message", err)
		}
		if err := m.store.DeleteMessage(ctx, dup.ID, msg.ID); err != nil {
			return moved, apperr.Store("delete message", err)
		}
		moved++
	}

	if m.reassigner != nil {
		if err := m.reassigner.Reassign(ctx, dup.ID, survivor.ID); err != nil {
			return moved, fmt.Errorf("reassign: %w", err)
		}
	}
	if p, ok := adopt(survivor, dup); ok {
		// bridge_ref is unique, so dup gives it up before survivor takes it.
		if p.BridgeRef != nil {
			none := ""
			if _, err := m.store.PatchConversation(ctx, dup.ID, Patch{BridgeRef: &none}); err != nil {
				return moved, apperr.Store("release bridge ref", err)
			}
		}
		if _, err := m.store.PatchConversation(ctx, survivor.ID, p); err != nil {
			if p.BridgeRef != nil {
				if _, rerr := m.store.PatchConversation(ctx, dup.ID, Patch{BridgeRef: p.BridgeRef}); rerr != nil {
					log.Error().Err(rerr).Str("conversation_id", dup.ID).Str("bridge_ref", *p.BridgeRef).
						Msg("bridge ref released but not restored")
				}
			}
			return moved, apperr.Store("patch survivor", err)
		}
	}
	if err := m.store.DeleteConversation(ctx, dup.ID); err != nil {
		return moved, apperr.Store("delete conversation", err)
	}
	return moved, nil
}

// adopt builds a patch filling survivor fields that only dup has.
func adopt(survivor, dup *Conversation) (Patch, bool) {
	var p Patch
	if survivor.BridgeRef == "" && dup.BridgeRef != "" {
		ref := dup.BridgeRef
		p.BridgeRef = &ref
	}
	if survivor.SaleRef == nil && dup.SaleRef != nil {
		ref := *dup.SaleRef
		p.SaleRef = &ref
	}
	if dup.PotentialSale && !survivor.PotentialSale {
		t := true
		p.PotentialSale = &t
	}
	if dup.Profile != nil {
		var base CustomerProfile
		if survivor.Profile != nil {
			base = *survivor.Profile
		}
		merged := base.fillFrom(*dup.Profile)
		p.Profile = &merged
	}
	return p, !p.empty()
}
