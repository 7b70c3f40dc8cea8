package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/p-n-ai/pai-tutor/internal/tutor"
)

const (
	maxDecodeErrorsPerConn = 3
	maxFrameBytes          = 1 << 16
)

// Frame types.
const (
	frameSend  = "chat.send"
	frameRetry = "chat.retry"
	frameReply = "chat.reply"
	frameError = "chat.error"
)

type wsInbound struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Text      string `json:"text,omitempty"`
}

type wsOutbound struct {
	Type      string       `json:"type"`
	RequestID string       `json:"request_id,omitempty"`
	Text      string       `json:"text,omitempty"`
	History   []tutor.Turn `json:"history,omitempty"`
	Error     string       `json:"error,omitempty"`
	Retryable bool         `json:"retryable,omitempty"`
}

// handleWebsocket carries the chat of one session over a websocket. Each
// chat.send or chat.retry frame gets exactly one chat.reply or chat.error.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "session_key", key, "error", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxFrameBytes)

	done := s.metrics.TrackWebsocket()
	defer done()

	ctx := r.Context()
	slog.Info("websocket connected", "session_key", key)

	decodeErrors := 0
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				slog.Info("websocket closed", "session_key", key)
			} else {
				slog.Info("websocket read ended", "session_key", key, "error", err)
			}
			return
		}

		var frame wsInbound
		if typ != websocket.MessageText || json.Unmarshal(data, &frame) != nil {
			decodeErrors++
			if decodeErrors >= maxDecodeErrorsPerConn {
				conn.Close(websocket.StatusPolicyViolation, "too many invalid frames")
				return
			}
			if err := wsjson.Write(ctx, conn, wsOutbound{Type: frameError, Error: "invalid frame payload"}); err != nil {
				return
			}
			continue
		}

		out := s.handleFrame(ctx, key, frame)
		if err := wsjson.Write(ctx, conn, out); err != nil {
			slog.Warn("websocket write failed", "session_key", key, "error", err)
			return
		}
	}
}

func (s *Server) handleFrame(ctx context.Context, key string, frame wsInbound) wsOutbound {
	var (
		reply tutor.Reply
		err   error
	)
	switch frame.Type {
	case frameSend:
		reply, err = s.svc.SendMessage(ctx, key, frame.Text)
	case frameRetry:
		reply, err = s.svc.RetryMessage(ctx, key)
	default:
		return wsOutbound{Type: frameError, RequestID: frame.RequestID, Error: "unsupported frame type"}
	}

	if err != nil {
		_, body := statusFor(err)
		return wsOutbound{
			Type:      frameError,
			RequestID: frame.RequestID,
			Error:     body.Error,
			Retryable: body.Retryable,
			History:   reply.History,
		}
	}
	return wsOutbound{Type: frameReply, RequestID: frame.RequestID, Text: reply.Text, History: reply.History}
}
