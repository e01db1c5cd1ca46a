package bus

const (
	TopicConnStatus = "conn.status"
	TopicReading    = "channel.reading"
	TopicAlert      = "alert"
)
