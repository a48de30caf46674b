package consts

const (
	UserLastSeenKey = "user:last:seen:"

	MessageReaperLockKey = "cron:lock:message:reaper"
)
