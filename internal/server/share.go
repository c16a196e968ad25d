package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/switchboardhq/switchboard/internal/kind"
	"github.com/switchboardhq/switchboard/internal/share"
)

// shareEnabled guards the share routes: the engine only exists when cipher
// material is configured.
func (h *handlers) shareEnabled(c *gin.Context) bool {
	if h.share == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sharing is not configured"})
		return false
	}
	return true
}

type shareTokenRequest struct {
	TaskID int64 `json:"taskId" binding:"required"`
}

func (h *handlers) handleShareToken(c *gin.Context) {
	if !h.shareEnabled(c) {
		return
	}
	var req shareTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token, err := h.share.GenerateToken(userID(c), req.TaskID)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (h *handlers) handleShareInfo(c *gin.Context) {
	if !h.shareEnabled(c) {
		return
	}
	info, err := h.share.Lookup(c.Query("token"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

type shareJoinRequest struct {
	Token        string `json:"token" binding:"required"`
	TargetTeamID int64  `json:"teamId" binding:"required"`

	ModelID            string `json:"modelId"`
	ForceOverrideModel bool   `json:"forceOverrideBotModel"`

	GitURL     string `json:"gitUrl"`
	GitRepoID  int64  `json:"gitRepoId"`
	BranchName string `json:"branchName"`
}

func (h *handlers) handleShareJoin(c *gin.Context) {
	if !h.shareEnabled(c) {
		return
	}
	var req shareJoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	copiedID, err := h.share.Copy(userID(c), share.CopyRequest{
		Token:        req.Token,
		TargetTeamID: req.TargetTeamID,
		ModelOverride: kind.TaskSettings{
			ModelID:            req.ModelID,
			ForceOverrideModel: req.ForceOverrideModel,
		},
		Repository: kind.Repository{
			GitURL:     req.GitURL,
			GitRepoID:  req.GitRepoID,
			BranchName: req.BranchName,
		},
	})
	if err != nil {
		abortWith(c, err)
		return
	}
	v, err := h.mgr.Get(copiedID, userID(c))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *handlers) handleShareList(c *gin.Context) {
	if !h.shareEnabled(c) {
		return
	}
	records, err := h.share.ListCopies(userID(c))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"copies": records})
}

func (h *handlers) handleShareRemove(c *gin.Context) {
	if !h.shareEnabled(c) {
		return
	}
	taskID, err := strconv.ParseInt(c.Param("taskID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}
	if err := h.share.Remove(userID(c), taskID); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": taskID})
}

func (h *handlers) handlePublicView(c *gin.Context) {
	if !h.shareEnabled(c) {
		return
	}
	info, feed, err := h.share.PublicView(c.Query("token"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"info": info, "subtasks": feed})
}
