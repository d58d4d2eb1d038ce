package server

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"media-uploader/internal/upload"
)

// multipartMemory is how much of a multipart body is held in memory before
// spilling parts to temporary files.
const multipartMemory = 32 << 20

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// handleUploadChunk decodes a multipart chunk request and hands it to the
// upload coordinator.
//
// Form fields: file, filename, chunk, total_chunks, directory, upload_uuid
// and, on the last chunk, checksum.
func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MaxContentLength > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxContentLength)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.metrics.RecordUploadError(upload.FileTooLarge.String())
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.metrics.RecordUploadError(upload.MissingOrInvalidField.String())
		writeError(w, http.StatusBadRequest, "malformed multipart request")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	req, msg := decodeChunkRequest(r.MultipartForm)
	if msg != "" {
		s.metrics.RecordUploadError(upload.MissingOrInvalidField.String())
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if fh := firstFile(r.MultipartForm, "file"); fh != nil {
		f, err := fh.Open()
		if err != nil {
			s.metrics.RecordUploadError(upload.ChunkIOError.String())
			writeError(w, http.StatusInternalServerError, "failed to read chunk")
			return
		}
		defer func() { _ = f.Close() }()
		req.Payload = f
	}

	res, err := s.uploads.HandleChunk(r.Context(), req)
	if err != nil {
		var ue *upload.Error
		if errors.As(err, &ue) {
			writeError(w, ue.Kind.HTTPStatus(), ue.Msg)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if res.Outcome == upload.UploadComplete {
		writeJSON(w, http.StatusOK, messageResponse{Message: "File uploaded and reassembled successfully."})
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Chunk uploaded successfully."})
}

// decodeChunkRequest reads the text fields. A non-empty message reports the
// first missing or malformed one. The file part is checked by the
// coordinator.
func decodeChunkRequest(form *multipart.Form) (*upload.ChunkRequest, string) {
	get := func(name string) string {
		if v := form.Value[name]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}

	req := &upload.ChunkRequest{
		Filename:  get("filename"),
		Directory: get("directory"),
		UploadID:  get("upload_uuid"),
		Checksum:  get("checksum"),
	}

	switch {
	case firstFile(form, "file") == nil:
		return nil, "No file part received in request"
	case req.Filename == "":
		return nil, "Filename is missing"
	case get("chunk") == "":
		return nil, "Chunk number is missing"
	case get("total_chunks") == "":
		return nil, "Total chunks is missing"
	case req.Directory == "":
		return nil, "Directory is missing"
	case req.UploadID == "":
		return nil, "Upload UUID is missing"
	}

	var err error
	if req.Ordinal, err = strconv.Atoi(get("chunk")); err != nil {
		return nil, "Chunk number must be an integer"
	}
	if req.TotalChunks, err = strconv.Atoi(get("total_chunks")); err != nil {
		return nil, "Total chunks must be an integer"
	}
	return req, ""
}

func firstFile(form *multipart.Form, name string) *multipart.FileHeader {
	if fhs := form.File[name]; len(fhs) > 0 {
		return fhs[0]
	}
	return nil
}
