package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/climateandtech/carbonara-sub000/internal/engine"
	"github.com/climateandtech/carbonara-sub000/internal/registry"
	appver "github.com/climateandtech/carbonara-sub000/internal/version"
)

type toolList struct {
	Tools       []engine.Status `json:"tools"`
	RefreshedAt string          `json:"refreshedAt,omitempty"`
}

func versionHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": appver.AppVersion})
}

func (s *Server) registryHandler(c *gin.Context) {
	cat := s.Engine.Catalog()
	problems := make([]string, 0, len(cat.Problems))
	for _, p := range cat.Problems {
		problems = append(problems, p.String())
	}
	c.JSON(http.StatusOK, gin.H{"source": cat.Source, "tools": cat.Tools, "problems": problems})
}

// listHandler serves the last snapshot, refreshing first when there is none.
func (s *Server) listHandler(c *gin.Context) {
	sts, at := s.Engine.Snapshot()
	if at.IsZero() {
		var err error
		if sts, err = s.Engine.Refresh(c.Request.Context()); err != nil {
			writeError(c, err)
			return
		}
		_, at = s.Engine.Snapshot()
	}
	c.JSON(http.StatusOK, toolList{Tools: sts, RefreshedAt: at.UTC().Format(time.RFC3339)})
}

func (s *Server) refreshHandler(c *gin.Context) {
	sts, err := s.Engine.Refresh(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	_, at := s.Engine.Snapshot()
	c.JSON(http.StatusOK, toolList{Tools: sts, RefreshedAt: at.UTC().Format(time.RFC3339)})
}

func (s *Server) statusHandler(c *gin.Context) {
	st, err := s.Engine.EffectiveStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) installHandler(c *gin.Context) {
	out, err := s.Engine.Install(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	code := http.StatusOK
	switch {
	case out.Result.IsUnsupported():
		code = http.StatusNotImplemented
	case !out.Result.Success:
		code = http.StatusBadGateway
	}
	c.JSON(code, out)
}

func (s *Server) resultHandler(c *gin.Context) {
	var o engine.ExecutionOutcome
	if err := c.ShouldBindJSON(&o); err != nil {
		c.JSON(http.StatusBadRequest, errJSON(err))
		return
	}
	id := c.Param("id")
	if err := s.Engine.OnExecutionResult(c.Request.Context(), id, o); err != nil {
		writeError(c, err)
		return
	}
	s.respondSnapshot(c, id)
}

type overrideRequest struct {
	MarkInstalled bool    `json:"markInstalled"`
	Command       *string `json:"customExecutionCommand"`
}

func (s *Server) overrideHandler(c *gin.Context) {
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errJSON(err))
		return
	}
	id := c.Param("id")
	if req.MarkInstalled {
		if err := s.Engine.MarkInstalled(id); err != nil {
			writeError(c, err)
			return
		}
	}
	if req.Command != nil {
		if err := s.Engine.SetCustomCommand(id, *req.Command); err != nil {
			writeError(c, err)
			return
		}
	}
	s.respondSnapshot(c, id)
}

func (s *Server) resetHandler(c *gin.Context) {
	if err := s.Engine.Reset(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) prereqHandler(c *gin.Context) {
	clearCache, _ := strconv.ParseBool(c.DefaultQuery("clearCache", "false"))
	po, err := s.Engine.InstallPrerequisite(c.Request.Context(), c.Param("id"), c.Param("name"), clearCache)
	if err != nil {
		writeError(c, err)
		return
	}
	code := http.StatusOK
	if !po.Installed {
		code = http.StatusBadGateway
	}
	c.JSON(code, po)
}

// respondSnapshot answers with the stored status of id, evaluating it once
// when no refresh has covered the tool yet.
func (s *Server) respondSnapshot(c *gin.Context, id string) {
	sts, _ := s.Engine.Snapshot()
	for _, st := range sts {
		if st.ToolID == id {
			c.JSON(http.StatusOK, st)
			return
		}
	}
	st, err := s.Engine.EffectiveStatus(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func writeError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrToolNotFound), errors.Is(err, engine.ErrUnknownPrerequisite):
		code = http.StatusNotFound
	case errors.Is(err, c.Request.Context().Err()) && c.Request.Context().Err() != nil:
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, errJSON(err))
}

func errJSON(err error) gin.H { return gin.H{"error": err.Error()} }
