package consts

const (
	// ConvTypeSingle 单聊会话
	ConvTypeSingle int8 = 1
	// ConvTypeGroup 群聊会话
	ConvTypeGroup int8 = 2
)

const (
	MsgTypeText  = 1
	MsgTypeImage = 2
	MsgTypeAudio = 3
	MsgTypeVideo = 4
	MsgTypeFile  = 5
)

const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)
