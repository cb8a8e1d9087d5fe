package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/Tandem/internal/app"
	"github.com/dkeye/Tandem/internal/app/orch"
	"github.com/dkeye/Tandem/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const accessSecretHeader = "X-Access-Secret"

type SessionsAPI struct {
	Orch    *orch.Orchestrator
	Limiter *app.RateLimiter
}

type createSessionRequest struct {
	Name          string `json:"name" binding:"required"`
	IntensityTier string `json:"intensityTier"`
	Private       bool   `json:"private"`
	AccessSecret  string `json:"accessSecret"`
}

type createSessionResponse struct {
	SessionID domain.SessionID      `json:"sessionId"`
	Code      domain.SessionID      `json:"code"`
	Session   domain.SessionSummary `json:"session"`
}

func (a *SessionsAPI) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": a.Orch.Sessions.ListPublic()})
}

func (a *SessionsAPI) Create(c *gin.Context) {
	// keyed by address: a client can always drop its token cookie
	if a.Limiter != nil && !a.Limiter.Allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, errorBody("rate_limited", "too many sessions created, slow down"))
		return
	}

	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, domain.Errorf(domain.ErrInvalidInput, "%v", err))
		return
	}
	tier := domain.Tier1
	if req.IntensityTier != "" {
		t, err := domain.ParseTier(req.IntensityTier)
		if err != nil {
			writeError(c, err)
			return
		}
		tier = t
	}
	vis := domain.Public
	if req.Private {
		vis = domain.Private
	}

	id, err := a.Orch.Sessions.Create(app.CreateRequest{
		Name:         req.Name,
		Tier:         tier,
		Visibility:   vis,
		AccessSecret: req.AccessSecret,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	sess, err := a.Orch.Sessions.Get(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, createSessionResponse{SessionID: id, Code: id, Session: sess.Summary()})
}

func (a *SessionsAPI) Get(c *gin.Context) {
	sess, err := a.Orch.Sessions.Get(domain.SessionID(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Summary())
}

func (a *SessionsAPI) Delete(c *gin.Context) {
	id := domain.SessionID(c.Param("id"))
	if err := a.Orch.CloseSession(id, c.GetHeader(accessSecretHeader)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrFull), errors.Is(err, domain.ErrAlreadyJoined), errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

func errorBody(code, msg string) gin.H {
	return gin.H{"error": gin.H{"code": code, "message": msg}}
}

func writeError(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
		c.JSON(status, errorBody("internal", "internal error"))
		return
	}
	c.JSON(status, errorBody(domain.ErrorCode(err), err.Error()))
}
