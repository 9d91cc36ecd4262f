package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/cwagent/pool"
	"github.com/effective-security/cwagent/skills"
	"github.com/effective-security/cwagent/store"
	"github.com/effective-security/xlog"
)

// Message statuses
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// MessageRequest is the body of message:send
type MessageRequest struct {
	MessageID  string         `json:"message_id,omitempty"`
	Skill      string         `json:"skill"`
	Content    string         `json:"content,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ArtifactMetadata describes the execution
type ArtifactMetadata struct {
	Skill         string `json:"skill"`
	ExecutionTime string `json:"execution_time"`
}

// Artifact carries the result of a skill
type Artifact struct {
	ArtifactID   string           `json:"artifact_id"`
	MessageID    string           `json:"message_id"`
	Content      *skills.Result   `json:"content"`
	ArtifactType string           `json:"artifact_type"`
	Metadata     ArtifactMetadata `json:"metadata"`
	CreatedAt    string           `json:"created_at"`
}

// MessageResponse is the response of message:send
type MessageResponse struct {
	MessageID string   `json:"message_id"`
	Artifact  Artifact `json:"artifact"`
	Status    string   `json:"status"`
}

// ErrorResponse is returned for rejected requests
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// Health of the agent
type Health struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Crews         map[string]string `json:"crews"`
	Pool          pool.Metrics      `json:"pool"`
	Store         store.Health      `json:"store"`
}

// SkillCard describes a skill in the agent card
type SkillCard struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Group       string   `json:"group"`
	Required    []string `json:"required,omitempty"`
}

// AgentCard describes the agent and its skills
type AgentCard struct {
	AgentID         string            `json:"agent_id"`
	Name            string            `json:"name"`
	Description     string            `json:"description"`
	Version         string            `json:"version"`
	ProtocolVersion string            `json:"protocol_version"`
	Skills          []SkillCard       `json:"skills"`
	Capabilities    []string          `json:"capabilities"`
	Endpoints       map[string]string `json:"endpoints"`
	SupportedModes  []string          `json:"supported_modes"`
}

var endpoints = map[string]string{
	"agent_card":     "/.well-known/agent-card.json",
	"message_send":   "/message:send",
	"message_stream": "/message:stream",
	"tasks":          "/tasks",
	"health":         "/health",
	"skills":         "/skills",
	"tools":          "/tools",
	"pool_metrics":   "/pool/metrics",
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":     s.agent.Name,
		"description": s.agent.Description,
		"version":     s.agent.Version,
		"protocol":    "A2A v" + ProtocolVersion,
		"status":      "running",
		"endpoints":   endpoints,
	})
}

func (s *Server) card(id, name, description string, catalog skills.Catalog) *AgentCard {
	list := catalog.List()
	cards := make([]SkillCard, 0, len(list))
	for _, sk := range list {
		cards = append(cards, SkillCard{
			Name:        sk.Name,
			Description: sk.Description,
			Group:       sk.Group,
			Required:    sk.Required,
		})
	}
	return &AgentCard{
		AgentID:         id,
		Name:            name,
		Description:     description,
		Version:         s.agent.Version,
		ProtocolVersion: ProtocolVersion,
		Skills:          cards,
		Capabilities:    s.agent.Capabilities,
		Endpoints: map[string]string{
			"message_send":   endpoints["message_send"],
			"message_stream": endpoints["message_stream"],
		},
		SupportedModes: []string{"synchronous"},
	}
}

func agentID(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), "-"))
}

func (s *Server) handleAgentCard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.card(agentID(s.agent.Name), s.agent.Name, s.agent.Description, s.executor.Catalog()))
}

func (s *Server) crewCard(crew string) *AgentCard {
	catalog := s.executor.Catalog().Group(crew)
	if len(catalog) == 0 {
		return nil
	}
	name := s.agent.Name + " " + strings.ToUpper(crew[:1]) + crew[1:] + " Crew"
	return s.card(agentID(name), name, "Skills of the "+crew+" crew", catalog)
}

func (s *Server) handleCrews(w http.ResponseWriter, _ *http.Request) {
	type crew struct {
		Name string     `json:"name"`
		Card *AgentCard `json:"card"`
	}
	var crews []crew
	for _, name := range s.executor.Catalog().Groups() {
		crews = append(crews, crew{Name: name, Card: s.crewCard(name)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"crews": crews})
}

func (s *Server) handleCrewCard(w http.ResponseWriter, r *http.Request) {
	crew := r.PathValue("crew")
	card := s.crewCard(crew)
	if card == nil {
		writeError(w, http.StatusNotFound, "Not Found", "Crew not found: "+crew)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation Error", "invalid request body: "+err.Error())
		return
	}
	if req.Skill == "" {
		writeError(w, http.StatusBadRequest, "Validation Error", "skill is required")
		return
	}

	res := s.executor.Execute(ctx, req.Skill, skills.Params(req.Parameters))

	messageID := req.MessageID
	if messageID == "" {
		messageID = s.newID()
	}
	status := StatusCompleted
	if !res.Success {
		status = StatusFailed
	}

	logger.ContextKV(ctx, xlog.INFO,
		"status", status,
		"message_id", messageID,
		"skill", req.Skill,
	)

	writeJSON(w, http.StatusOK, &MessageResponse{
		MessageID: messageID,
		Status:    status,
		Artifact: Artifact{
			ArtifactID:   s.newID(),
			MessageID:    messageID,
			Content:      res,
			ArtifactType: "json",
			Metadata: ArtifactMetadata{
				Skill:         req.Skill,
				ExecutionTime: res.Timestamp,
			},
			CreatedAt: res.Timestamp,
		},
	})
}

func (s *Server) handleNotImplemented(detail string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotImplemented, "Not Implemented", detail)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	metrics := s.pool.Metrics()
	storeHealth := s.store.Health(r.Context())

	h := Health{
		Status:        "healthy",
		Version:       s.agent.Version,
		UptimeSeconds: int64(time.Since(s.started) / time.Second),
		Crews:         make(map[string]string),
		Pool:          metrics,
		Store:         storeHealth,
	}
	crewStatus := "ready"
	if metrics.CircuitBreakerState == "open" || storeHealth.Status == store.StatusUnhealthy {
		h.Status = "degraded"
		crewStatus = "degraded"
	}
	for _, crew := range s.executor.Catalog().Groups() {
		h.Crews[crew] = crewStatus
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleSkills(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"skills": s.executor.Catalog().List()})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	tools, err := s.pool.ListTools(r.Context())
	if err != nil {
		logger.ContextKV(r.Context(), xlog.ERROR, "reason", "list_tools", "err", err.Error())
		writeError(w, http.StatusBadGateway, "Bad Gateway", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

func (s *Server) handlePoolMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pool.Metrics())
}

func writeError(w http.ResponseWriter, status int, title, detail string) {
	writeJSON(w, status, &ErrorResponse{Error: title, Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	js, err := json.Marshal(v)
	if err != nil {
		logger.KV(xlog.ERROR, "reason", "marshal", "err", errors.WithStack(err).Error())
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(js)
}
