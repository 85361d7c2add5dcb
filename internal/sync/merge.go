package sync

import (
	"slices"

	"github.com/matheus3301/chatsync/internal/model"
)

// MergeMessages folds incoming into existing. A message already present by id
// takes the incoming core fields and the union of both reaction lists; others
// are added. The result is sorted by Created, most recent first, and merging
// the same input again changes nothing. Neither argument is modified.
func MergeMessages(existing, incoming []model.Message) []model.Message {
	out := make([]model.Message, len(existing), len(existing)+len(incoming))
	copy(out, existing)

	index := make(map[model.ID]int, len(out))
	for i, m := range out {
		if _, ok := index[m.ID]; !ok {
			index[m.ID] = i
		}
	}
	for _, in := range incoming {
		if i, ok := index[in.ID]; ok {
			out[i] = mergeMessage(out[i], in)
			continue
		}
		index[in.ID] = len(out)
		in.Reactions = slices.Clone(in.Reactions)
		out = append(out, in)
	}
	sortMessages(out)
	return out
}

func mergeMessage(old, in model.Message) model.Message {
	merged := in
	if merged.Created == "" {
		merged.Created = old.Created
	}
	merged.Reactions = unionReactions(old.Reactions, in.Reactions)
	return merged
}

func reactionIdentity(r model.Reaction) string {
	if r.ID != "" {
		return "id:" + string(r.ID)
	}
	return "key:" + r.Key()
}

// unionReactions keeps the order of a, replaces entries that b also carries,
// and appends the rest of b.
func unionReactions(a, b []model.Reaction) []model.Reaction {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := slices.Clone(a)
	index := make(map[string]int, len(out))
	for i, r := range out {
		index[reactionIdentity(r)] = i
	}
	for _, r := range b {
		k := reactionIdentity(r)
		if i, ok := index[k]; ok {
			out[i] = r
			continue
		}
		index[k] = len(out)
		out = append(out, r)
	}
	return out
}

// UpsertReaction replaces the reaction with the same emoji and user, or appends r.
func UpsertReaction(list []model.Reaction, r model.Reaction) []model.Reaction {
	out := slices.Clone(list)
	for i := range out {
		if out[i].Key() == r.Key() {
			out[i] = r
			return out
		}
	}
	return append(out, r)
}

// ReplacePlaceholder replaces the first placeholder with the confirmed
// message's text and sender flag, keeping the placeholder's position. It
// reports false when no placeholder matches.
func ReplacePlaceholder(history []model.Message, confirmed model.Message) ([]model.Message, bool) {
	i := slices.IndexFunc(history, func(m model.Message) bool {
		return m.ID.IsTemporary() && m.IsMe == confirmed.IsMe && m.Text == confirmed.Text
	})
	if i < 0 {
		return history, false
	}
	confirmed.Pending = false

	// The confirmed id may already be present, e.g. from a history page that
	// raced the echo. Keep a single entry for it.
	if j := slices.IndexFunc(history, func(m model.Message) bool { return m.ID == confirmed.ID }); j >= 0 {
		out := slices.Clone(history)
		out[j] = mergeMessage(out[j], confirmed)
		return slices.Delete(out, i, i+1), true
	}

	out := slices.Clone(history)
	out[i] = confirmed
	return out, true
}

// dropPlaceholders removes unconfirmed messages.
func dropPlaceholders(history []model.Message) []model.Message {
	return slices.DeleteFunc(slices.Clone(history), func(m model.Message) bool {
		return m.ID.IsTemporary()
	})
}

// latestVisible returns the index of the most recent non-deleted message, or -1.
func latestVisible(history []model.Message) int {
	return slices.IndexFunc(history, func(m model.Message) bool { return !m.Deleted })
}

func previewOf(m model.Message) string {
	if m.Text != "" {
		return m.Text
	}
	if m.Type != "" && m.Type != model.TypeText {
		return "[" + string(m.Type) + "]"
	}
	return ""
}

// derivedPreview is the preview implied by a history.
func derivedPreview(history []model.Message) string {
	if i := latestVisible(history); i >= 0 {
		return previewOf(history[i])
	}
	return ""
}
