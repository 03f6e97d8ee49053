// ABOUTME: Outbound send handlers for text and media messages
// ABOUTME: Every send runs readiness, then the quota guard, then delivery, then the counter increment

package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/2389/wa-gateway/internal/metrics"
	"github.com/2389/wa-gateway/internal/phone"
	"github.com/2389/wa-gateway/internal/protocol"
	"github.com/2389/wa-gateway/internal/quota"
)

// maxUploadSize caps a single media file.
const maxUploadSize = 50 << 20

// multipartMemory is how much of a form is held in memory before spilling to disk.
const multipartMemory = 32 << 20

// SendMessageRequest is the JSON request body for POST /api/send-message.
// Both fields accept any JSON scalar.
type SendMessageRequest struct {
	Number  json.RawMessage `json:"number"`
	Message json.RawMessage `json:"message"`
}

// LimitData is attached to 429 responses.
type LimitData struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

// rawText renders a JSON scalar as text. ok is false for missing or null.
func rawText(raw json.RawMessage) (text string, ok bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s, true
	}
	return string(trimmed), true
}

// deliver runs the guarded send path for one recipient.
func (g *Gateway) deliver(w http.ResponseWriter, r *http.Request, tid string, conn protocol.Conn, kind, number string, payload protocol.Payload, okMessage string) {
	ctx := r.Context()
	jid := phone.ToJID(number)

	if _, err := g.guard.BeforeSend(ctx, tid, jid); err != nil {
		var limitErr *quota.LimitError
		if errors.As(err, &limitErr) {
			metrics.SendsTotal.WithLabelValues(kind, "rejected").Inc()
			writeJSON(w, http.StatusTooManyRequests, errorEnvelope{
				Status:  false,
				Message: limitErr.Error(),
				Data:    LimitData{Used: limitErr.Used, Limit: limitErr.Limit},
			})
			return
		}
		metrics.SendsTotal.WithLabelValues(kind, "canceled").Inc()
		g.sendJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	if err := conn.Send(ctx, jid, payload); err != nil {
		metrics.SendsTotal.WithLabelValues(kind, "failed").Inc()
		g.logger.Error("send failed", "tenant", tid, "kind", kind, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// The message already left; a counter failure is logged, not reported.
	if _, err := g.guard.Increment(ctx, tid, jid); err != nil {
		g.logger.Warn("send delivered but quota not recorded", "tenant", tid, "error", err)
	}
	metrics.SendsTotal.WithLabelValues(kind, "sent").Inc()
	g.sendSuccess(w, nil, okMessage)
}

// handleSendMessage handles POST /api/send-message.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request, tid string, conn protocol.Conn) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	number, hasNumber := rawText(req.Number)
	message, hasMessage := rawText(req.Message)
	if !hasNumber || phone.Digits(number) == "" || !hasMessage {
		g.sendJSONError(w, http.StatusBadRequest, "number and message are required")
		return
	}

	g.deliver(w, r, tid, conn, "text", number, protocol.Payload{Text: message}, "Message sent")
}

// mediaUpload describes one media send route.
type mediaUpload struct {
	kind        protocol.MediaKind
	field       string // form field accepted besides "file"
	defaultMIME string
	caption     bool
	okMessage   string
}

var (
	imageUpload    = mediaUpload{kind: protocol.MediaImage, field: "image", defaultMIME: "image/jpeg", caption: true, okMessage: "Image sent"}
	documentUpload = mediaUpload{kind: protocol.MediaDocument, field: "document", defaultMIME: "application/octet-stream", caption: true, okMessage: "Document sent"}
	audioUpload    = mediaUpload{kind: protocol.MediaAudio, field: "audio", defaultMIME: "audio/mpeg", okMessage: "Audio sent"}
	videoUpload    = mediaUpload{kind: protocol.MediaVideo, field: "video", defaultMIME: "video/mp4", caption: true, okMessage: "Video sent"}
)

// firstFile returns the first uploaded file among fields.
func firstFile(form *multipart.Form, fields ...string) (*multipart.FileHeader, bool) {
	for _, f := range fields {
		if files := form.File[f]; len(files) > 0 {
			return files[0], true
		}
	}
	return nil, false
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	if fh.Size > maxUploadSize {
		return nil, fmt.Errorf("file exceeds %d MB", maxUploadSize>>20)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("opening upload: %w", err)
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, maxUploadSize+1))
}

// mediaHandler builds the multipart handler for one media kind.
func (g *Gateway) mediaHandler(upload mediaUpload) readyHandler {
	return func(w http.ResponseWriter, r *http.Request, tid string, conn protocol.Conn) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+(1<<20))
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				g.sendJSONError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d MB", maxUploadSize>>20))
				return
			}
			g.sendJSONError(w, http.StatusBadRequest, "use multipart form-data")
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		number := strings.TrimSpace(r.FormValue("number"))
		if phone.Digits(number) == "" {
			g.sendJSONError(w, http.StatusBadRequest, "number is required")
			return
		}
		fh, ok := firstFile(r.MultipartForm, "file", upload.field)
		if !ok {
			g.sendJSONError(w, http.StatusBadRequest,
				fmt.Sprintf("use form-data with number and a file or %s upload", upload.field))
			return
		}
		data, err := readUpload(fh)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		media := &protocol.Media{
			Kind:     upload.kind,
			Data:     data,
			MimeType: fh.Header.Get("Content-Type"),
		}
		if media.MimeType == "" {
			media.MimeType = upload.defaultMIME
		}
		if upload.caption {
			media.Caption = r.FormValue("caption")
		}
		switch upload.kind {
		case protocol.MediaDocument:
			media.FileName = r.FormValue("fileName")
			if media.FileName == "" {
				media.FileName = fh.Filename
			}
			if media.FileName == "" {
				media.FileName = "document"
			}
		case protocol.MediaAudio:
			media.PTT = isTruthy(r.FormValue("ptt"))
		case protocol.MediaVideo:
			media.PTV = isTruthy(r.FormValue("ptv"))
		}

		g.deliver(w, r, tid, conn, string(upload.kind), number, protocol.Payload{Media: media}, upload.okMessage)
	}
}
