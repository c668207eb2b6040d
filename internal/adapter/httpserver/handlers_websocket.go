package httpserver

import (
	"net/http"

	"github.com/centrifugal/centrifuge"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func (s *Server) registerWebsocketRoutes() {
	if s.websocketHandler == nil {
		return
	}
	s.echo.GET("/connection/websocket", echo.WrapHandler(participantCredentials(s.websocketHandler)))
}

// participantCredentials sets the centrifuge user from the participant id.
// Callers without one get an anonymous id and can only watch their own channel.
func participantCredentials(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		participantID := r.URL.Query().Get("participant")
		if participantID == "" {
			participantID = r.Header.Get(ParticipantHeader)
		}
		if participantID == "" {
			participantID = uuid.NewString()
		}

		cred := &centrifuge.Credentials{UserID: participantID}
		r = r.WithContext(centrifuge.SetCredentials(r.Context(), cred))

		next.ServeHTTP(w, r)
	})
}
