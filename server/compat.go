package server

import (
	"encoding/base64"
	"io"
	"net/http"
	"strings"

	"github.com/teranos/foreman/dispatch"
	"github.com/teranos/foreman/errors"
	"github.com/teranos/foreman/version"
)

// maxUploadMemory bounds how much of a multipart body stays in memory
// before spilling to temp files
const maxUploadMemory = 32 << 20

// fileFormDefaults are the MinerU form fields forwarded to workers,
// with the values the upstream API assumes when a field is omitted
var fileFormDefaults = map[string]string{
	"return_middle_json":  "false",
	"return_model_output": "false",
	"return_md":           "true",
	"return_images":       "false",
	"start_page_id":       "0",
	"end_page_id":         "99999",
	"parse_method":        "auto",
	"lang_list":           "ch",
	"output_dir":          ".",
	"backend":             "pipeline",
}

// fileParsePayload reads the uploaded file and form fields into a job
// payload: the file lands base64-encoded next to its name, every known
// form field rides along with its default filled in.
func fileParsePayload(r *http.Request) (map[string]interface{}, error) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return nil, errors.Wrap(err, "invalid multipart form")
	}

	file, header, err := r.FormFile("files")
	if err != nil {
		return nil, errors.Wrap(err, "missing file field 'files'")
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read upload")
	}

	payload := map[string]interface{}{
		"file_name":   header.Filename,
		"file_base64": base64.StdEncoding.EncodeToString(content),
	}
	for key, fallback := range fileFormDefaults {
		payload[key] = formValue(r, key, fallback)
	}
	return payload, nil
}

// formValue returns a form field or its fallback when absent or empty
func formValue(r *http.Request, key, fallback string) string {
	if v := r.FormValue(key); v != "" {
		return v
	}
	return fallback
}

// handleFileParse is the MinerU-compatible ingress. Error reporting
// follows the upstream contract: admission problems answer 200 with an
// error body, not an HTTP error status.
func (s *Server) handleFileParse(w http.ResponseWriter, r *http.Request) {
	if !requireMethods(w, r, http.MethodPost) {
		return
	}

	payload, err := fileParsePayload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	async := strings.EqualFold(formValue(r, "async", "false"), "true")

	if async {
		job, _, err := s.engine.Submit(payload, defaultTaskPriority, "")
		if err != nil {
			s.writeFileParseError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"task_id": job.ID})
		return
	}

	job, err := s.engine.SubmitAndWait(r.Context(), payload, defaultTaskPriority)
	if err != nil {
		s.writeFileParseError(w, err)
		return
	}

	if job.Status == dispatch.JobStatusCompleted {
		writeJSON(w, http.StatusOK, job.Result)
		return
	}
	message := job.Error
	if message == "" {
		message = "Task failed"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"error":  message,
		"status": string(job.Status),
	})
}

func (s *Server) writeFileParseError(w http.ResponseWriter, err error) {
	if errors.IsQueueFull(err) {
		writeJSON(w, http.StatusOK, map[string]string{
			"error":  "Queue is full",
			"status": "error",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"error":  err.Error(),
		"status": "error",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleRoot serves the service banner. The root pattern catches every
// unrouted path, so anything but "/" is a 404.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Welcome to Foreman",
		"version": version.Get().Version,
		"api":     "/api",
		"health":  "/health",
	})
}
