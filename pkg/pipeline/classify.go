package pipeline

import "github.com/agile-enigma/bsky-multitool/pkg/atproto"

// Classify maps a repository operation to its semantic action type.
// Pure and total: every input maps to exactly one ActionType.
//
// Only "create" operations carry a classifiable action. Posts split
// into quote (record embed, optionally wrapped with media), reply
// (non-empty reply reference), and plain post.
func Classify(collection, action string, record *atproto.Record) ActionType {
	if action != "create" {
		return ActionOther
	}

	switch collection {
	case atproto.CollectionPost:
		if record != nil {
			if record.Embed != nil {
				switch record.Embed.Type {
				case atproto.EmbedRecordType, atproto.EmbedRecordWithMedia:
					return ActionQuote
				}
			}
			if record.Reply != nil && record.Reply.Root != nil && record.Reply.Root.URI != "" {
				return ActionReply
			}
		}
		return ActionPost
	case atproto.CollectionRepost:
		return ActionRepost
	case atproto.CollectionLike:
		return ActionLike
	default:
		return ActionOther
	}
}
