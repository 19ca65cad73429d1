package websocket

type Room struct {
	ID      string
	Clients map[string]*WSClient
}

type WSMessage struct {
	Content   string `json:"content"`
	RoomID    string `json:"roomId"`
	Timestamp int64  `json:"timestamp"`
}
