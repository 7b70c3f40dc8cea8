package server

import (
	"log/slog"
	"net/http"

	"github.com/p-n-ai/pai-tutor/internal/ai"
	"github.com/p-n-ai/pai-tutor/internal/curriculum"
	"github.com/p-n-ai/pai-tutor/internal/tutor"
)

type selectCurriculumRequest struct {
	CurriculumID string `json:"curriculum_id" validate:"required,max=128"`
}

// An empty unit_id deselects the unit.
type selectUnitRequest struct {
	UnitID string `json:"unit_id" validate:"max=128"`
}

type enterSubTopicRequest struct {
	TopicID    string `json:"topic_id" validate:"required,max=128"`
	SubTopicID string `json:"sub_topic_id" validate:"required,max=128"`
}

type messageRequest struct {
	Text string `json:"text" validate:"required,max=8000"`
}

// sessionView is the JSON form of a session.
type sessionView struct {
	tutor.State
	Phase tutor.Phase `json:"phase"`
}

func viewOf(st tutor.State) sessionView {
	if st.Turns == nil {
		st.Turns = []tutor.Turn{}
	}
	return sessionView{State: st, Phase: st.Phase()}
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	models := []ai.ModelInfo{}
	if s.models != nil {
		models = append(models, s.models.Models()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (s *Server) handleCurriculums(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Curriculums(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	type item struct {
		curriculum.Curriculum
		Label string `json:"label"`
	}
	out := make([]item, len(list))
	for i, c := range list {
		out[i] = item{Curriculum: c, Label: c.Label()}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUnits(w http.ResponseWriter, r *http.Request) {
	units, err := s.svc.Units(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, units)
}

func (s *Server) handleSyllabus(w http.ResponseWriter, r *http.Request) {
	syllabus, err := s.svc.Syllabus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, syllabus)
}

func (s *Server) handleSubTopics(w http.ResponseWriter, r *http.Request) {
	subs, err := s.svc.SubTopics(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := map[string]any{"sub_topics": subs}
	if len(subs) == 0 {
		resp["notice"] = tutor.EmptySyllabusNotice
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.NewSession(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(st))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Session(r.Context(), r.PathValue("key"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(st))
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.EndSession(r.Context(), r.PathValue("key")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelectCurriculum(w http.ResponseWriter, r *http.Request) {
	var req selectCurriculumRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	st, err := s.svc.SelectCurriculum(r.Context(), r.PathValue("key"), req.CurriculumID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(st))
}

func (s *Server) handleSelectUnit(w http.ResponseWriter, r *http.Request) {
	var req selectUnitRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	st, err := s.svc.SelectUnit(r.Context(), r.PathValue("key"), req.UnitID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(st))
}

func (s *Server) handleEnterSubTopic(w http.ResponseWriter, r *http.Request) {
	var req enterSubTopicRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	lesson, err := s.svc.EnterSubTopic(r.Context(), r.PathValue("key"), req.TopicID, req.SubTopicID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":    viewOf(lesson.State),
		"sub_topic":  lesson.SubTopic,
		"greeting":   lesson.Greeting,
		"objectives": lesson.Objectives,
	})
}

func (s *Server) handleExitSubTopic(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.ExitSubTopic(r.Context(), r.PathValue("key"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(st))
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	reply, err := s.svc.SendMessage(r.Context(), r.PathValue("key"), req.Text)
	s.writeReply(w, r, reply, err)
}

func (s *Server) handleRetryMessage(w http.ResponseWriter, r *http.Request) {
	reply, err := s.svc.RetryMessage(r.Context(), r.PathValue("key"))
	s.writeReply(w, r, reply, err)
}

// writeReply keeps the history on model failures so clients can show the
// unanswered message next to a retry button.
func (s *Server) writeReply(w http.ResponseWriter, r *http.Request, reply tutor.Reply, err error) {
	if err != nil {
		status, body := statusFor(err)
		if body.Retryable {
			slog.Warn("reply failed", "path", r.URL.Path, "status", status, "error", err)
			body.History = reply.History
			writeJSON(w, status, body)
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}
