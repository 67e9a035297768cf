package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/shanehull/bsewatch/internal/bse"
	"github.com/shanehull/bsewatch/internal/doccache"
	"github.com/shanehull/bsewatch/internal/types"
)

const (
	defaultDaysBack   = 1
	defaultMaxResults = 200
	unknownSubjectID  = "UNKNOWN"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type announcementsResponse struct {
	Success    bool                     `json:"success"`
	Data       []types.DisclosureRecord `json:"data"`
	Count      int                      `json:"count"`
	DaysBack   int                      `json:"days_back"`
	MaxResults int                      `json:"max_results"`
	Source     string                   `json:"source"`
}

type summarizeRequest struct {
	PDFLink     string `json:"pdf_link" validate:"required"`
	CompanyName string `json:"company_name" validate:"required"`
	BSECode     string `json:"bse_code"`
}

type summarizeResponse struct {
	Success   bool        `json:"success"`
	Summary   string      `json:"summary"`
	Sentiment types.Label `json:"sentiment"`
	Method    string      `json:"method"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

// intParam reads an integer query parameter, falling back on absence or junk.
func intParam(r *http.Request, name string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return fallback
	}
	return v
}

func (s *Server) handleAnnouncements(w http.ResponseWriter, r *http.Request) {
	q := bse.Query{
		DaysBack:   intParam(r, "days_back", defaultDaysBack),
		MaxResults: intParam(r, "max_results", defaultMaxResults),
	}

	listing := s.announcements.List(r.Context(), q)
	for i := range listing.Records {
		rec := &listing.Records[i]
		if rec.LocalDocumentPath == "" {
			continue
		}
		rel, err := s.documents.RelPath(rec.LocalDocumentPath)
		if err != nil {
			rec.LocalDocumentPath = ""
			continue
		}
		rec.LocalDocumentPath = rel
	}

	render.JSON(w, r, announcementsResponse{
		Success:    true,
		Data:       listing.Records,
		Count:      len(listing.Records),
		DaysBack:   listing.Query.DaysBack,
		MaxResults: listing.Query.MaxResults,
		Source:     listing.Source,
	})
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		s.fail(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.PDFLink = strings.TrimSpace(req.PDFLink)
	req.CompanyName = strings.TrimSpace(req.CompanyName)
	if err := s.validate.Struct(req); err != nil {
		s.fail(w, r, http.StatusBadRequest, "Missing required parameters")
		return
	}
	if req.BSECode == "" {
		req.BSECode = unknownSubjectID
	}

	s.logger.Info().Str("company", req.CompanyName).Str("bse_code", req.BSECode).Msg("Summary requested")
	res := s.announcements.Summarize(r.Context(), req.PDFLink, req.CompanyName, req.BSECode)

	render.JSON(w, r, summarizeResponse{
		Success:   true,
		Summary:   res.Summary,
		Sentiment: res.Label,
		Method:    res.Method,
	})
}

func (s *Server) handlePDF(w http.ResponseWriter, r *http.Request) {
	path, err := s.documents.Resolve(chi.URLParam(r, "*"))
	if err != nil {
		status := http.StatusInternalServerError
		msg := "Error loading PDF"
		if errors.Is(err, doccache.ErrNotFound) {
			status = http.StatusNotFound
			msg = "PDF not found"
		}
		s.fail(w, r, status, msg)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	http.ServeFile(w, r, path)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Success: false, Error: msg})
}
