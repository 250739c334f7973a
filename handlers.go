package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"psp.com/species-quiz/backend/internal/events"
	"psp.com/species-quiz/backend/internal/hints"
	"psp.com/species-quiz/backend/internal/quiz"
	"psp.com/species-quiz/backend/internal/report"
)

type server struct {
	session *quiz.Session
	hints   *hints.Provider
	hub     *events.Hub
	log     *logrus.Entry
}

// newServer wires the session's image updates into the event hub.
func newServer(session *quiz.Session, hintProvider *hints.Provider, hub *events.Hub) *server {
	session.Subscribe(hub.PublishImage)
	return &server{
		session: session,
		hints:   hintProvider,
		hub:     hub,
		log:     logrus.WithField("component", "api"),
	}
}

// --- Handlers ---

type filterView struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type fieldsResp struct {
	Fields     []string        `json:"fields"`
	Enabled    map[string]bool `json:"enabled"`
	Eligible   []string        `json:"eligible"`
	Filter     filterView      `json:"filter"`
	ShowImages bool            `json:"showImages"`
	Message    string          `json:"message,omitempty"`
}

func (s *server) fields() fieldsResp {
	field, value := s.session.Filter()
	return fieldsResp{
		Fields:     s.session.Fields(),
		Enabled:    s.session.Toggles(),
		Eligible:   s.session.EligibleFields(),
		Filter:     filterView{Field: field, Value: value},
		ShowImages: s.session.ShowImages(),
		Message:    s.session.Message(),
	}
}

func (s *server) handleFields(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.fields())
}

type toggleReq struct {
	Enabled bool `json:"enabled"`
}

func (s *server) handleToggleField(w http.ResponseWriter, r *http.Request) {
	var req toggleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := s.session.SetEnabled(chi.URLParam(r, "field"), req.Enabled); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, s.fields())
}

func (s *server) handleFieldValues(w http.ResponseWriter, r *http.Request) {
	values, err := s.session.FieldValues(chi.URLParam(r, "field"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, values)
}

func (s *server) handleFilter(w http.ResponseWriter, r *http.Request) {
	var req filterView
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := s.session.SetFilter(req.Field, req.Value); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, s.fields())
}

type questionResp struct {
	Question quiz.Question `json:"question"`
	Image    quiz.Image    `json:"image"`
	Tally    quiz.Tally    `json:"tally"`
}

func (s *server) handleNext(w http.ResponseWriter, r *http.Request) {
	q, err := s.session.Next()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, questionResp{Question: q, Image: s.session.Image(), Tally: s.session.Tally()})
}

func (s *server) handleQuestion(w http.ResponseWriter, r *http.Request) {
	q, ok := s.session.Current()
	if !ok {
		if len(s.session.Fields()) == 0 {
			writeError(w, quiz.ErrNoData)
			return
		}
		writeError(w, quiz.ErrNoQuestion)
		return
	}
	writeJSON(w, questionResp{Question: q, Image: s.session.Image(), Tally: s.session.Tally()})
}

type gradeReq struct {
	Answers map[string]string `json:"answers"`
}

func (s *server) handleGrade(w http.ResponseWriter, r *http.Request) {
	var req gradeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	res, err := s.session.Grade(req.Answers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}

type scoreResp struct {
	Correct int `json:"correct"`
	Wrong   int `json:"wrong"`
	Total   int `json:"total"`
}

func (s *server) handleScore(w http.ResponseWriter, r *http.Request) {
	t := s.session.Tally()
	writeJSON(w, scoreResp{Correct: t.Correct, Wrong: t.Wrong, Total: t.Total()})
}

func (s *server) handleReveal(w http.ResponseWriter, r *http.Request) {
	field := chi.URLParam(r, "field")
	hint, err := s.session.Reveal(field)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"field": field, "hint": hint})
}

func (s *server) handleHint(w http.ResponseWriter, r *http.Request) {
	name, answers, err := s.session.HintTarget()
	if err != nil {
		writeError(w, err)
		return
	}
	text, err := s.hints.Summary(r.Context(), name)
	if err != nil {
		s.log.WithError(err).WithField("species", name).Warn("hint lookup failed")
		http.Error(w, "no hint available for this species", http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]string{"hint": hints.Mask(text, answers)})
}

func (s *server) handleImage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.session.Image())
}

type showReq struct {
	Show bool `json:"show"`
}

func (s *server) handleShowImages(w http.ResponseWriter, r *http.Request) {
	var req showReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	writeJSON(w, s.session.SetShowImages(req.Show))
}

type failedReq struct {
	URL string `json:"url"`
}

func (s *server) handleImageFailed(w http.ResponseWriter, r *http.Request) {
	var req failedReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		http.Error(w, "url required", http.StatusBadRequest)
		return
	}
	writeJSON(w, s.session.ReportImageFailure(req.URL))
}

func (s *server) handleReport(w http.ResponseWriter, r *http.Request) {
	t := s.session.Tally()
	var misses []report.Miss
	for _, m := range s.session.Misses() {
		misses = append(misses, report.Miss{Name: m.Name, Expected: m.Expected})
	}
	data := report.NewData(t.Correct, t.Wrong, misses)
	pdfBytes, err := report.GeneratePDF(data)
	if err != nil {
		s.log.WithError(err).Error("failed to generate report")
		http.Error(w, "failed to generate report", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename=species-quiz-"+data.ReportID+".pdf")
	w.Write(pdfBytes)
}

// --- Helpers ---

// writeError maps session errors to status codes and player-facing messages.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, quiz.ErrNoData):
		http.Error(w, quiz.MsgNoData, http.StatusServiceUnavailable)
	case errors.Is(err, quiz.ErrNoMatches):
		http.Error(w, quiz.MsgNoMatches, http.StatusConflict)
	case errors.Is(err, quiz.ErrNoEligibleFields):
		http.Error(w, quiz.MsgNoFieldGrade, http.StatusConflict)
	case errors.Is(err, quiz.ErrNoQuestion):
		http.Error(w, quiz.MsgNoQuestion, http.StatusConflict)
	case errors.Is(err, quiz.ErrUnknownField):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, quiz.ErrFieldNotEligible):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		logrus.WithError(err).Error("request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
