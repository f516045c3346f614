package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/earshot/internal/ingest"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/pipeline"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/opus"
)

// closeTimeout bounds the final flush of a session after its socket closes.
const closeTimeout = 10 * time.Second

// parseFormat reads the optional sample_rate and channels query parameters.
func parseFormat(q url.Values) (audio.Format, error) {
	var f audio.Format
	if v := q.Get("sample_rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 8000 || n > 192000 {
			return f, fmt.Errorf("invalid sample_rate %q", v)
		}
		f.SampleRate = n
	}
	if v := q.Get("channels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 8 {
			return f, fmt.Errorf("invalid channels %q", v)
		}
		f.Channels = n
	}
	return f, nil
}

// decodeFunc turns one binary message into PCM16.
type decodeFunc func([]byte) ([]byte, error)

// parseCodec reads the optional codec query parameter. Raw PCM passes
// through; Opus packets are decoded at the requested format, which defaults
// to 48 kHz mono. The returned format describes the decoded PCM.
func parseCodec(q url.Values, f audio.Format) (decodeFunc, audio.Format, error) {
	switch codec := q.Get("codec"); codec {
	case "", "pcm":
		return nil, f, nil
	case "opus":
		if f.SampleRate == 0 {
			f.SampleRate = 48000
		}
		if f.Channels == 0 {
			f.Channels = 1
		}
		dec, err := opus.NewDecoder(f)
		if err != nil {
			return nil, f, err
		}
		return dec.Decode, f, nil
	default:
		return nil, f, fmt.Errorf("unsupported codec %q", codec)
	}
}

// handleAudio streams audio of one session in binary messages, either raw
// PCM16 or one Opus packet per message, and answers with segment batches in
// text messages.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	s.streams.Add(1)
	defer s.streams.Done()

	sessionID := r.PathValue("session_id")
	format, err := parseFormat(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	decode, format, err := parseCodec(r.URL.Query(), format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		observe.Logger(r.Context()).Debug("server: websocket accept", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxMessageBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := observe.Logger(ctx).With("session_id", sessionID)

	stream, err := s.ingest.Open(ctx, sessionID, format)
	if err != nil {
		log.Warn("server: open stream", "err", err)
		if errors.Is(err, ingest.ErrUnavailable) {
			sendError(ctx, conn, "unavailable")
			conn.Close(websocket.StatusTryAgainLater, "unavailable")
			return
		}
		sendError(ctx, conn, err.Error())
		conn.Close(websocket.StatusPolicyViolation, "invalid session")
		return
	}
	defer func() {
		cctx, ccancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer ccancel()
		if err := stream.Close(cctx); err != nil {
			log.Warn("server: close stream", "err", err)
		}
	}()

	updates, unsubscribe := s.hub.Subscribe(sessionID)
	defer unsubscribe()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-updates:
				if !ok {
					return
				}
				wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
				err := conn.Write(wctx, websocket.MessageText, msg)
				wcancel()
				if err != nil {
					log.Debug("server: push segments", "err", err)
					cancel()
					return
				}
			}
		}
	}()
	defer wg.Wait()
	defer cancel()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				log.Debug("server: client closed")
			default:
				if ctx.Err() == nil {
					log.Debug("server: read audio", "err", err)
				}
			}
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}
		if decode != nil {
			if data, err = decode(data); err != nil {
				log.Debug("server: decode audio", "err", err)
				sendError(ctx, conn, err.Error())
				continue
			}
		}
		if _, err := stream.Write(ctx, data); err != nil {
			if errors.Is(err, pipeline.ErrClosed) {
				conn.Close(websocket.StatusTryAgainLater, "shutting down")
				return
			}
			log.Warn("server: process audio", "err", err)
			sendError(ctx, conn, err.Error())
		}
	}
}

func sendError(ctx context.Context, conn *websocket.Conn, msg string) {
	data, _ := json.Marshal(errorBody{Error: msg})
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, data)
}
