package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vizboard/vizboard-backend/internal/http/response"
	"github.com/vizboard/vizboard-backend/internal/pkg/ctxutil"
	"github.com/vizboard/vizboard-backend/internal/services"
)

type VisualizationHandler struct {
	viz services.VisualizationService
}

func NewVisualizationHandler(viz services.VisualizationService) *VisualizationHandler {
	return &VisualizationHandler{viz: viz}
}

type createReq struct {
	Input string `json:"input"`
}

// POST /api/visualizations
func (h *VisualizationHandler) Create(c *gin.Context) {
	var req createReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res, err := h.viz.Create(c.Request.Context(), ctxutil.UserID(c.Request.Context()), req.Input)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	if res.Document == nil {
		// Judged not visualizable: no document, the reason explains why.
		response.RespondOK(c, gin.H{
			"visualizable": false,
			"reason":       res.Selection.Reason,
		})
		return
	}
	response.RespondCreated(c, gin.H{
		"visualizable":  true,
		"visualization": res.Document,
	})
}

// GET /api/visualizations?limit=50
func (h *VisualizationHandler) List(c *gin.Context) {
	limit := 50
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	docs, err := h.viz.List(c.Request.Context(), ctxutil.UserID(c.Request.Context()), limit)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"visualizations": docs})
}

// GET /api/visualizations/:id
func (h *VisualizationHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	doc, err := h.viz.Get(c.Request.Context(), ctxutil.UserID(c.Request.Context()), id)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"visualization": doc})
}

type editReq struct {
	Instruction string `json:"instruction"`
}

// POST /api/visualizations/:id/edit
func (h *VisualizationHandler) Edit(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	var req editReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res, err := h.viz.Edit(c.Request.Context(), ctxutil.UserID(c.Request.Context()), id, req.Instruction)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"visualization": res.Document,
		"reply":         res.Reply,
		"changed":       res.Changed,
	})
}

type expandReq struct {
	NodeID string `json:"node_id"`
}

// POST /api/visualizations/:id/expand
func (h *VisualizationHandler) ExpandNode(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	var req expandReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	doc, err := h.viz.ExpandNode(c.Request.Context(), ctxutil.UserID(c.Request.Context()), id, req.NodeID)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"visualization": doc})
}

type renameReq struct {
	Title string `json:"title"`
}

// PATCH /api/visualizations/:id
func (h *VisualizationHandler) Rename(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	var req renameReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	doc, err := h.viz.Rename(c.Request.Context(), ctxutil.UserID(c.Request.Context()), id, req.Title)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"visualization": doc})
}

// DELETE /api/visualizations/:id
func (h *VisualizationHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	if err := h.viz.Delete(c.Request.Context(), ctxutil.UserID(c.Request.Context()), id); err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": true})
}

// GET /api/visualizations/:id/export
func (h *VisualizationHandler) Export(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	data, filename, err := h.viz.Export(c.Request.Context(), ctxutil.UserID(c.Request.Context()), id)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/json", data)
}

// POST /api/visualizations/:id/share
func (h *VisualizationHandler) Share(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	token, err := h.viz.Share(c.Request.Context(), ctxutil.UserID(c.Request.Context()), id)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"share_token": token})
}
