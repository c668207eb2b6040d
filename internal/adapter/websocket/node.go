package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/centrifugal/centrifuge"

	"github.com/kodegeo/showgeo2-sub001/internal/adapter/metrics"
	"github.com/kodegeo/showgeo2-sub001/internal/domain"
)

const channelPrefix = "live:"

// StateSource returns the current live state of one participant.
type StateSource interface {
	State(ctx context.Context, eventID, participantID string) (domain.LiveState, error)
}

// LiveChannel names the channel carrying one participant's live state.
func LiveChannel(eventID, participantID string) string {
	return channelPrefix + eventID + ":" + participantID
}

func parseLiveChannel(channel string) (eventID, participantID string, ok bool) {
	rest, found := strings.CutPrefix(channel, channelPrefix)
	if !found {
		return "", "", false
	}
	eventID, participantID, found = strings.Cut(rest, ":")
	if !found || eventID == "" || participantID == "" || strings.Contains(participantID, ":") {
		return "", "", false
	}
	return eventID, participantID, true
}

// NewNode creates the centrifuge node. Handlers are attached separately with
// RegisterHandlers once the state source exists.
func NewNode(logLevel string) (*centrifuge.Node, error) {
	conf := centrifuge.Config{LogLevel: parseCentrifugeLogLevel(logLevel), LogHandler: slogHandler}
	node, err := centrifuge.New(conf)
	if err != nil {
		return nil, fmt.Errorf("create centrifuge node: %w", err)
	}
	return node, nil
}

func RegisterHandlers(node *centrifuge.Node, states StateSource, wsMetrics *metrics.WebSocketMetrics) {
	node.OnConnecting(onConnecting)
	node.OnConnect(onConnect(states, wsMetrics))
}

func onConnecting(ctx context.Context, _ centrifuge.ConnectEvent) (centrifuge.ConnectReply, error) {
	cred, ok := centrifuge.GetCredentials(ctx)
	if !ok || cred.UserID == "" {
		return centrifuge.ConnectReply{}, centrifuge.DisconnectServerError
	}
	return centrifuge.ConnectReply{}, nil
}

func onConnect(states StateSource, wsMetrics *metrics.WebSocketMetrics) func(client *centrifuge.Client) {
	return func(client *centrifuge.Client) {
		slog.Debug("Client connected", "client_id", client.ID(), "participant_id", client.UserID())

		if wsMetrics != nil {
			wsMetrics.ActiveConnections.Inc()
		}

		client.OnSubscribe(func(e centrifuge.SubscribeEvent, cb centrifuge.SubscribeCallback) {
			cb(authorizeSubscribe(client.Context(), states, client.UserID(), e.Channel))
		})

		client.OnDisconnect(func(e centrifuge.DisconnectEvent) {
			slog.Debug("Client disconnected", "client_id", client.ID(), "reason", e.Reason)
			if wsMetrics != nil {
				wsMetrics.ActiveConnections.Dec()
			}
		})
	}
}

// authorizeSubscribe lets a participant subscribe only to its own channels.
// The current state, when known, rides along as subscribe data.
func authorizeSubscribe(ctx context.Context, states StateSource, userID, channel string) (centrifuge.SubscribeReply, error) {
	eventID, participantID, ok := parseLiveChannel(channel)
	if !ok {
		return centrifuge.SubscribeReply{}, centrifuge.ErrorUnknownChannel
	}
	if participantID != userID {
		slog.Warn("Subscription to foreign channel rejected", "channel", channel, "participant_id", userID)
		return centrifuge.SubscribeReply{}, centrifuge.ErrorPermissionDenied
	}

	reply := centrifuge.SubscribeReply{}
	if states == nil {
		return reply, nil
	}
	state, err := states.State(ctx, eventID, participantID)
	if err != nil {
		return reply, nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		slog.Warn("Failed to marshal initial live state", "event_id", eventID, "error", err)
		return reply, nil
	}
	reply.Options.Data = data
	return reply, nil
}

// SetupRedis moves the broker and presence manager to Redis so that state
// published by any instance reaches every subscriber.
func SetupRedis(node *centrifuge.Node, redisAddr string) error {
	shardConfig := centrifuge.RedisShardConfig{Address: redisAddr}
	shard, err := centrifuge.NewRedisShard(node, shardConfig)
	if err != nil {
		return fmt.Errorf("create redis shard: %w", err)
	}

	brokerConfig := centrifuge.RedisBrokerConfig{Prefix: "showgeo_live", Shards: []*centrifuge.RedisShard{shard}}
	broker, err := centrifuge.NewRedisBroker(node, brokerConfig)
	if err != nil {
		return fmt.Errorf("create redis broker: %w", err)
	}
	node.SetBroker(broker)

	pmConfig := centrifuge.RedisPresenceManagerConfig{Prefix: "showgeo_live", Shards: []*centrifuge.RedisShard{shard}}
	presenceManager, err := centrifuge.NewRedisPresenceManager(node, pmConfig)
	if err != nil {
		return fmt.Errorf("create redis presence manager: %w", err)
	}
	node.SetPresenceManager(presenceManager)

	return nil
}

func slogHandler(entry centrifuge.LogEntry) {
	attrs := make([]any, 0, len(entry.Fields)*2)
	for k, v := range entry.Fields {
		attrs = append(attrs, k, v)
	}
	switch entry.Level {
	case centrifuge.LogLevelDebug, centrifuge.LogLevelTrace:
		slog.Debug(entry.Message, attrs...)
	case centrifuge.LogLevelInfo:
		slog.Info(entry.Message, attrs...)
	case centrifuge.LogLevelWarn:
		slog.Warn(entry.Message, attrs...)
	case centrifuge.LogLevelError:
		slog.Error(entry.Message, attrs...)
	case centrifuge.LogLevelNone:
		// EMPTY
	}
}

func parseCentrifugeLogLevel(level string) centrifuge.LogLevel {
	switch level {
	case "debug":
		return centrifuge.LogLevelDebug
	case "warn":
		return centrifuge.LogLevelWarn
	case "error":
		return centrifuge.LogLevelError
	default:
		return centrifuge.LogLevelInfo
	}
}
