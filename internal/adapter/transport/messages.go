package transport

// Signaling message types sent to the media server.
const (
	msgTypeAuth           = "auth"
	msgTypeStartBroadcast = "start_broadcast"
	msgTypeLeaveRoom      = "leave_room"
)

// Signaling message types received from the media server.
const (
	msgTypeAuthResult       = "auth_result"
	msgTypeBroadcastStarted = "broadcast_started"
	msgTypeError            = "error"
	msgTypePong             = "pong"
)

type baseMessage struct {
	Type string `json:"type"`
}

type authMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type authResultMessage struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
