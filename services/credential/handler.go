package credential

import (
	"net/http"
	"strconv"

	"vaultkey-controlplane/pkg/errutil"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type issueRequest struct {
	OwnerID int64 `json:"owner_id" binding:"required,gt=0"`
}

type verifyRequest struct {
	BearerToken string `json:"bearer_token" binding:"required"`
	OwnerID     int64  `json:"owner_id" binding:"required,gt=0"`
	CameraID    string `json:"camera_id" binding:"required"`
}

type revokeRequest struct {
	BearerToken string `json:"bearer_token" binding:"required"`
	OwnerID     int64  `json:"owner_id" binding:"required,gt=0"`
	Reason      string `json:"reason" binding:"required"`
}

type emergencyRevokeRequest struct {
	ActorID int64  `json:"actor_id" binding:"required,gt=0"`
	Reason  string `json:"reason" binding:"required"`
}

type listQuery struct {
	Page int    `form:"page"`
	Size int    `form:"size"`
	Sort string `form:"sort"`
	Dir  string `form:"dir"`
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	v1 := r.Group("/v1")
	v1.POST("/credentials", h.Issue)
	v1.POST("/credentials/verify", h.Verify)
	v1.POST("/credentials/revoke", h.Revoke)
	v1.GET("/credentials/hash/:keyHash", h.GetByHash)
	v1.GET("/owners/:ownerId/credentials", h.List)
	v1.POST("/admin/credentials/:keyHash/revoke", h.EmergencyRevoke)
}

func bindErr(err error) error {
	return errutil.ValidationFailed("invalid request body", err)
}

func (h *Handler) Issue(c *gin.Context) {
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bindErr(err))
		return
	}

	issued, err := h.svc.Issue(c.Request.Context(), req.OwnerID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	status := http.StatusCreated
	if issued.Reused {
		status = http.StatusOK
	}
	c.JSON(status, issued)
}

func (h *Handler) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bindErr(err))
		return
	}

	res, err := h.svc.Verify(c.Request.Context(), req.BearerToken, req.OwnerID, req.CameraID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Revoke(c *gin.Context) {
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bindErr(err))
		return
	}

	if err := h.svc.Revoke(c.Request.Context(), req.BearerToken, req.OwnerID, req.Reason); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) GetByHash(c *gin.Context) {
	detail, err := h.svc.GetByHash(c.Request.Context(), c.Param("keyHash"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handler) List(c *gin.Context) {
	ownerID, err := strconv.ParseInt(c.Param("ownerId"), 10, 64)
	if err != nil {
		_ = c.Error(errutil.BadRequest("ownerId must be an integer", err))
		return
	}
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}

	page, err := h.svc.List(c.Request.Context(), ListParams{
		OwnerID:   ownerID,
		Page:      q.Page,
		Size:      q.Size,
		SortField: q.Sort,
		SortDir:   q.Dir,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) EmergencyRevoke(c *gin.Context) {
	var req emergencyRevokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bindErr(err))
		return
	}

	if err := h.svc.EmergencyRevoke(c.Request.Context(), req.ActorID, c.Param("keyHash"), req.Reason); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
