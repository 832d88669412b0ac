package server

import (
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	v1 "github.com/vesys/ve/pkg/api/v1"
)

//go:embed templates/dashboard.html
var templatesFS embed.FS

var dashboardTmpl = template.Must(template.New("dashboard.html").Funcs(template.FuncMap{
	"waiting": func(seconds float64) string {
		d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
		return d.String()
	},
	"joined": func(items []string) string {
		out := ""
		for i, item := range items {
			if i > 0 {
				out += ", "
			}
			out += item
		}
		return out
	},
}).ParseFS(templatesFS, "templates/dashboard.html"))

type dashboardData struct {
	Attention []*v1.AttentionItem
	Units     []*v1.WorkUnit
	Counts    map[string]int
	Now       time.Time
}

// dashboard renders the operator view: attention queue first, then the
// work-unit grid.
// GET /
func (s *Server) dashboard(c *gin.Context) {
	ctx := c.Request.Context()

	attention, err := s.store.AttentionQueue(ctx)
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to load attention queue: %v", err)
		return
	}
	units, err := s.store.ListWorkUnits(ctx, "")
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to load work units: %v", err)
		return
	}
	rawCounts, err := s.store.StatusCounts(ctx)
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to load status counts: %v", err)
		return
	}
	counts := make(map[string]int, len(rawCounts))
	for status, n := range rawCounts {
		counts[string(status)] = n
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := dashboardTmpl.Execute(c.Writer, &dashboardData{
		Attention: attention,
		Units:     units,
		Counts:    counts,
		Now:       time.Now().UTC(),
	}); err != nil {
		s.logger.Error("Failed to render dashboard", zap.Error(err))
	}
}

// answerForm handles the dashboard answer form.
// POST /answer
func (s *Server) answerForm(c *gin.Context) {
	chunk := c.PostForm("chunk")
	answer := c.PostForm("answer")
	if _, appErr := s.applyAnswer(c.Request.Context(), chunk, answer); appErr != nil {
		c.String(appErr.HTTPStatus, "%s", appErr.Message)
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

// resolveForm handles the dashboard resolve form.
// POST /resolve
func (s *Server) resolveForm(c *gin.Context) {
	chunk := c.PostForm("chunk")
	other := c.PostForm("other_chunk")
	verdict := c.PostForm("verdict")
	if _, appErr := s.applyResolve(c.Request.Context(), chunk, other, verdict); appErr != nil {
		c.String(appErr.HTTPStatus, "%s", appErr.Message)
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}
