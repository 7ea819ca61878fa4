package httpadapter

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

const (
	formatJSON = "json"
	formatXLSX = "xlsx"

	maxMultipartMemory = 8 << 20
)

type answerRequest struct {
	Question string `json:"question" validate:"required,max=500000"`
	Template string `json:"template" validate:"omitempty,max=64"`
}

// answer accepts either a JSON body or a multipart form whose optional
// question_document file is extracted and used as (part of) the question.
func (rt *Router) answer(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = formatJSON
	}
	if format == formatXLSX && rt.svc.Reports == nil {
		writeError(w, http.StatusNotImplemented, "xlsx export is not configured")
		return
	}

	req, ok := rt.decodeAnswerRequest(w, r)
	if !ok {
		return
	}
	if err := validateStruct(&req); err != nil {
		writeValidationError(w, err)
		return
	}

	answer, err := rt.svc.Answerer.Answer(r.Context(), chi.URLParam(r, "namespace"), req.Question, req.Template)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}

	if format == formatXLSX {
		w.Header().Set("Content-Type", rt.svc.Reports.ContentType())
		w.Header().Set("Content-Disposition", `attachment; filename="`+answer.Namespace+`-compliance.xlsx"`)
		w.WriteHeader(http.StatusOK)
		if err := rt.svc.Reports.WriteAnswer(w, answer); err != nil {
			slog.ErrorContext(r.Context(), "report_write_failed",
				"request_id", requestIDFromContext(r.Context()),
				"error", err,
			)
		}
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) decodeAnswerRequest(w http.ResponseWriter, r *http.Request) (answerRequest, bool) {
	var req answerRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType != "multipart/form-data" {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, rt.maxUploadBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeUploadError(w, err, "invalid json")
			return req, false
		}
		return req, true
	}

	r.Body = http.MaxBytesReader(w, r.Body, rt.maxUploadBytes)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeUploadError(w, err, "invalid multipart form")
		return req, false
	}
	req.Question = strings.TrimSpace(r.FormValue("question"))
	req.Template = strings.TrimSpace(r.FormValue("template"))

	file, header, err := r.FormFile("question_document")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return req, true
		}
		writeError(w, http.StatusBadRequest, "invalid question_document")
		return req, false
	}
	defer file.Close()

	if rt.svc.Questions == nil {
		writeError(w, http.StatusNotImplemented, "question documents are not supported")
		return req, false
	}
	text, err := rt.svc.Questions.ReadQuestion(r.Context(), header.Filename, file)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return req, false
	}
	if req.Question == "" {
		req.Question = text
	} else {
		req.Question = req.Question + "\n\n" + text
	}
	return req, true
}
