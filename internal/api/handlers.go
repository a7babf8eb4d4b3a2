package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"gamgui/internal/command"
	"gamgui/internal/secrets"
	"gamgui/internal/session"
)

const maxUploadBytes = 32 << 20 // 32 MiB

type createSessionRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body", Code: "bad_request"})
		return
	}
	if req.Name == "" {
		req.Name = "gam-session"
	}

	sess, err := s.sessions.Create(r.Context(), ownerID(r), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.sessions.List(r.Context(), ownerID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*session.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), ownerID(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.Delete(r.Context(), ownerID(r), id, "api"); err != nil {
		writeError(w, err)
		return
	}
	s.gateway.CloseSession(id)
	w.WriteHeader(http.StatusNoContent)
}

// execRequest selects one of the three execution modes. Exactly one of
// Command (shell) or Gam (tool arguments) must be set; scripts go through
// the file-upload endpoint with run=1.
type execRequest struct {
	Command string   `json:"command,omitempty"`
	Gam     []string `json:"gam,omitempty"`
	Timeout string   `json:"timeout,omitempty"`
}

func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	var req execRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body", Code: "bad_request"})
		return
	}
	if (req.Command == "") == (len(req.Gam) == 0) {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error: "provide exactly one of command or gam", Code: "bad_request"})
		return
	}

	opts := command.ExecOptions{}
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid timeout", Code: "bad_request"})
			return
		}
		opts.Timeout = d
	}

	var res *command.Result
	var err error
	if req.Command != "" {
		res, err = s.commands.ExecuteShell(r.Context(), ownerID(r), r.PathValue("id"), req.Command, opts)
	} else {
		res, err = s.commands.ExecuteTool(r.Context(), ownerID(r), r.PathValue("id"), req.Gam, opts)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleUploadFile places a multipart file into the session sandbox. With
// ?run=1 the upload is treated as a script: executed once and removed.
func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed multipart body", Code: "bad_request"})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing file field", Code: "bad_request"})
		return
	}
	defer file.Close()

	name := path.Base(header.Filename)
	if name == "" || name == "." || name == "/" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid file name", Code: "bad_request"})
		return
	}

	owner := ownerID(r)
	id := r.PathValue("id")

	if r.URL.Query().Get("run") == "1" {
		res, err := s.commands.ExecuteScript(r.Context(), owner, id, name, file, command.ExecOptions{})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	sess, err := s.sessions.Get(r.Context(), owner, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.sessions.Backend().PutFile(r.Context(), sess.Handle, "/uploads/"+name, file); err != nil {
		writeError(w, err)
		return
	}
	s.sessions.Touch(r.Context(), id)
	writeJSON(w, http.StatusCreated, map[string]string{"name": name, "path": "/uploads/" + name})
}

// handleDownloadFile buffers the file before committing the response, so a
// sandbox failure mid-read produces a proper error status instead of a
// truncated 200. Uploads are capped at maxUploadBytes, which bounds the
// buffer.
func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), ownerID(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	name := path.Base(r.PathValue("name"))

	var buf bytes.Buffer
	if err := s.sessions.Backend().GetFile(r.Context(), sess.Handle, "/uploads/"+name, &buf); err != nil {
		s.log.Warn("File download failed", "session", sess.ID, "file", name, "error", err)
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleTerminal(w http.ResponseWriter, r *http.Request) {
	s.gateway.ServeSession(w, r, ownerID(r), r.PathValue("id"))
}

// Credential bundle management. Names are restricted to the known GAM
// credential files so the store cannot be used as a general file drop.
var allowedCredentialNames = map[string]bool{
	secrets.NameOAuthToken:    true,
	secrets.NameServiceKey:    true,
	secrets.NameClientSecrets: true,
}

func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	names, err := s.secrets.List(r.Context(), ownerID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"credentials": names})
}

func (s *Server) handlePutCredential(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !allowedCredentialNames[name] {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error: fmt.Sprintf("unknown credential name %q (want %s)", name, credentialNameList()),
			Code:  "bad_request"})
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "failed to read credential body", Code: "bad_request"})
		return
	}
	if len(data) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "empty credential body", Code: "bad_request"})
		return
	}

	if err := s.secrets.Put(r.Context(), ownerID(r), name, data); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": name})
}

func (s *Server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	if err := s.secrets.Delete(r.Context(), ownerID(r), r.PathValue("name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func credentialNameList() string {
	names := []string{secrets.NameOAuthToken, secrets.NameServiceKey, secrets.NameClientSecrets}
	return strings.Join(names, ", ")
}
