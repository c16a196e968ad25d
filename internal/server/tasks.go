package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/switchboardhq/switchboard/internal/kind"
	"github.com/switchboardhq/switchboard/internal/task"
)

// taskRequest is the JSON body shared by create and append.
type taskRequest struct {
	TaskID        int64  `json:"taskId"`
	TeamID        int64  `json:"teamId"`
	TeamName      string `json:"teamName"`
	TeamNamespace string `json:"teamNamespace"`
	Prompt        string `json:"prompt" binding:"required"`

	TaskType           string `json:"taskType"`
	Visibility         string `json:"visibility"`
	AutoDeleteExecutor bool   `json:"autoDeleteExecutor"`
	Source             string `json:"source"`
	ModelID            string `json:"modelId"`
	ForceOverrideModel bool   `json:"forceOverrideBotModel"`

	GitURL     string `json:"gitUrl"`
	GitRepo    string `json:"gitRepo"`
	GitRepoID  int64  `json:"gitRepoId"`
	GitDomain  string `json:"gitDomain"`
	BranchName string `json:"branchName"`
}

func (r *taskRequest) toCreateRequest() task.CreateRequest {
	return task.CreateRequest{
		ExistingTaskID: r.TaskID,
		TeamID:         r.TeamID,
		TeamName:       r.TeamName,
		TeamNamespace:  r.TeamNamespace,
		Prompt:         r.Prompt,
		Settings: kind.TaskSettings{
			TaskType:           r.TaskType,
			Visibility:         r.Visibility,
			AutoDeleteExecutor: r.AutoDeleteExecutor,
			Source:             r.Source,
			ModelID:            r.ModelID,
			ForceOverrideModel: r.ForceOverrideModel,
		},
		Repository: kind.Repository{
			GitURL:     r.GitURL,
			GitRepo:    r.GitRepo,
			GitRepoID:  r.GitRepoID,
			GitDomain:  r.GitDomain,
			BranchName: r.BranchName,
		},
	}
}

func (h *handlers) handleAllocate(c *gin.Context) {
	id, err := task.AllocateID(h.mgr.DB(), userID(c))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"taskId": id})
}

func (h *handlers) handleCreateOrAppend(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	v, err := h.mgr.CreateOrAppend(userID(c), req.toCreateRequest())
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *handlers) handleList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	views, err := h.mgr.List(userID(c), limit, offset)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": views})
}

func (h *handlers) handleDetail(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}
	detail, err := h.mgr.GetDetail(id, userID(c))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// updateRequest is the partial-update body; absent fields stay unchanged.
type updateRequest struct {
	Title        *string        `json:"title"`
	Prompt       *string        `json:"prompt"`
	Status       *string        `json:"status"`
	Progress     *int           `json:"progress"`
	Result       map[string]any `json:"result"`
	ErrorMessage *string        `json:"errorMessage"`

	GitURL     string `json:"gitUrl"`
	GitRepoID  int64  `json:"gitRepoId"`
	BranchName string `json:"branchName"`
}

func (h *handlers) handleUpdate(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	patch := task.Patch{
		Title:        req.Title,
		Prompt:       req.Prompt,
		Progress:     req.Progress,
		Result:       req.Result,
		ErrorMessage: req.ErrorMessage,
	}
	if req.Status != nil {
		st := kind.State(*req.Status)
		patch.Status = &st
	}
	if req.GitURL != "" || req.GitRepoID != 0 || req.BranchName != "" {
		patch.Repository = &kind.Repository{
			GitURL:     req.GitURL,
			GitRepoID:  req.GitRepoID,
			BranchName: req.BranchName,
		}
	}
	v, err := h.mgr.Update(id, userID(c), patch)
	if err != nil {
		abortWith(c, err)
		return
	}
	h.postTerminalEvent(c, v)
	c.JSON(http.StatusOK, v)
}

func (h *handlers) handleDelete(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}
	if err := h.mgr.Delete(c.Request.Context(), id, userID(c)); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}
