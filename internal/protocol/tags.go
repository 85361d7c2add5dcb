package protocol

// Wire tags carried in the "source" field of every frame.
const (
	TagFriendList     = "friend.list"
	TagFriendNew      = "friend.new"
	TagMessageList    = "message.list"
	TagMessageSend    = "message.send"
	TagMessageType    = "message.type"
	TagMessageUpdate  = "message.update"
	TagMessageDelete  = "message.delete"
	TagMessageSeen    = "message.seen"
	TagReactionAdd    = "reaction.add"
	TagRequestList    = "request.list"
	TagRequestConnect = "request.connect"
	TagRequestAccept  = "request.accept"
	TagSearch         = "search"
	TagOnlineStatus   = "online.status"
	TagGroupCreated   = "group.created"
	TagGroupsCreate   = "groups.create"
	TagThumbnail      = "thumbnail"
	TagError          = "error"
)

// InboundTags lists every tag the server may push. Decode knows all of them.
var InboundTags = []string{
	TagFriendList,
	TagFriendNew,
	TagMessageList,
	TagMessageSend,
	TagMessageType,
	TagMessageUpdate,
	TagMessageDelete,
	TagMessageSeen,
	TagReactionAdd,
	TagRequestList,
	TagRequestConnect,
	TagRequestAccept,
	TagSearch,
	TagOnlineStatus,
	TagGroupCreated,
	TagThumbnail,
	TagError,
}
