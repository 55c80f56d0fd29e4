package webmonitor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/clearcity/ai-sentinel/internal/framebuf"
	"github.com/clearcity/ai-sentinel/internal/logger"
)

var (
	partHeader = []byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")
	partEnd    = []byte("\r\n")
)

func writePart(w http.ResponseWriter, jpegData []byte) error {
	if _, err := w.Write(partHeader); err != nil {
		return err
	}
	if _, err := w.Write(jpegData); err != nil {
		return err
	}
	_, err := w.Write(partEnd)
	return err
}

// streamMJPEGFromChannel streams frames from a buffer subscription until
// the client goes away or the channel closes. The last frame is repeated
// after keepAlive of silence.
func streamMJPEGFromChannel(ctx context.Context, w http.ResponseWriter, frameCh <-chan framebuf.Frame, first *framebuf.Frame, keepAlive time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var (
		last    []byte
		lastSeq uint64
	)
	if first != nil {
		last, lastSeq = first.JPEG, first.Seq
		if err := writePart(w, last); err != nil {
			logger.Debug("MJPEG", "Client disconnected during first frame: %v", err)
			return
		}
		flusher.Flush()
	}

	timer := time.NewTimer(keepAlive)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("MJPEG", "Client disconnected: %v", ctx.Err())
			return
		case f, ok := <-frameCh:
			if !ok {
				return
			}
			if f.Seq <= lastSeq {
				// Already sent as the first frame.
				continue
			}
			last, lastSeq = f.JPEG, f.Seq
		case <-timer.C:
			timer.Reset(keepAlive)
			if last == nil {
				// Nothing published yet, keep waiting.
				continue
			}
		}

		if err := writePart(w, last); err != nil {
			logger.Debug("MJPEG", "Client disconnected during frame write: %v", err)
			return
		}
		flusher.Flush()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(keepAlive)
	}
}

// streamStatusEventsFromChannel streams pre-serialized events to an SSE
// client. Confirmation events carry an explicit event name.
func streamStatusEventsFromChannel(ctx context.Context, w http.ResponseWriter, eventCh <-chan *SerializedEvent, first *SerializedEvent, useProtobuf bool, keepAlive time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if useProtobuf {
		w.Header().Set("X-Content-Format", "application/protobuf")
	} else {
		w.Header().Set("X-Content-Format", "application/json")
	}

	send := func(event *SerializedEvent) error {
		data := event.JSONData
		if useProtobuf {
			data = event.ProtobufData
		}
		if event.Kind != "status" {
			if _, err := fmt.Fprintf(w, "event: %s\n", event.Kind); err != nil {
				return err
			}
		}
		_, err := fmt.Fprintf(w, "data: %s\n\n", data)
		return err
	}

	if first != nil {
		if err := send(first); err != nil {
			logger.Debug("SSE", "Client disconnected during first event: %v", err)
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			if err := send(event); err != nil {
				logger.Debug("SSE", "Client disconnected during event write: %v", err)
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				logger.Debug("SSE", "Client disconnected during keepalive: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}
