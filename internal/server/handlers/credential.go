package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mkleve522/zzimage/internal/model"
	"github.com/mkleve522/zzimage/internal/op"
	"github.com/mkleve522/zzimage/internal/server/middleware"
	"github.com/mkleve522/zzimage/internal/server/resp"
	"github.com/mkleve522/zzimage/internal/server/router"
)

func init() {
	router.NewGroupRouter("/api/v1/credential").
		Use(middleware.Auth()).
		Use(middleware.RequireJSON()).
		AddRoute(
			router.NewRoute("/list", http.MethodGet).
				Handle(listCredential),
		).
		AddRoute(
			router.NewRoute("/create", http.MethodPost).
				Handle(createCredential),
		).
		AddRoute(
			router.NewRoute("/update", http.MethodPost).
				Handle(updateCredential),
		).
		AddRoute(
			router.NewRoute("/enable", http.MethodPost).
				Handle(enableCredential),
		).
		AddRoute(
			router.NewRoute("/delete/:id", http.MethodDelete).
				Handle(deleteCredential),
		).
		AddRoute(
			router.NewRoute("/stats", http.MethodGet).
				Handle(credentialStats),
		)
}

type credentialView struct {
	model.Credential
	RemainingQuota int `json:"remaining_quota"` // -1 表示不限额
}

func listCredential(c *gin.Context) {
	credentials, err := op.CredentialList(c.Request.Context())
	if err != nil {
		resp.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]credentialView, 0, len(credentials))
	for _, credential := range credentials {
		remaining, err := scheduler.RemainingQuota(c.Request.Context(), credential.ID)
		if err != nil {
			resp.Error(c, http.StatusInternalServerError, err.Error())
			return
		}
		views = append(views, credentialView{
			Credential:     credential,
			RemainingQuota: remaining,
		})
	}
	resp.Success(c, views)
}

func createCredential(c *gin.Context) {
	var credential model.Credential
	if err := c.ShouldBindJSON(&credential); err != nil {
		resp.Error(c, http.StatusBadRequest, resp.ErrInvalidJSON)
		return
	}
	if credential.Secret == "" {
		resp.Error(c, http.StatusBadRequest, "secret must not be empty")
		return
	}
	if err := op.CredentialCreate(&credential, c.Request.Context()); err != nil {
		resp.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	resp.Success(c, credential)
}

func updateCredential(c *gin.Context) {
	var req model.CredentialUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		resp.Error(c, http.StatusBadRequest, resp.ErrInvalidJSON)
		return
	}
	credential, err := op.CredentialUpdate(&req, c.Request.Context())
	if err != nil {
		resp.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	resp.Success(c, credential)
}

type enableCredentialRequest struct {
	ID     int  `json:"id" binding:"required"`
	Active bool `json:"active"`
}

func enableCredential(c *gin.Context) {
	var req enableCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		resp.Error(c, http.StatusBadRequest, resp.ErrInvalidJSON)
		return
	}
	if err := op.CredentialEnabled(req.ID, req.Active, c.Request.Context()); err != nil {
		resp.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	resp.Success(c, "ok")
}

func deleteCredential(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		resp.Error(c, http.StatusBadRequest, resp.ErrInvalidParam)
		return
	}
	if err := op.CredentialDel(id, c.Request.Context()); err != nil {
		resp.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	resp.Success(c, "ok")
}

type credentialStatsResponse struct {
	model.CredentialStats
	RemainingQuota int `json:"remaining_quota"` // -1 表示不限额
}

func credentialStats(c *gin.Context) {
	stats, err := op.CredentialStats(c.Request.Context())
	if err != nil {
		resp.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	remaining, err := scheduler.TotalRemainingQuota(c.Request.Context())
	if err != nil {
		resp.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	resp.Success(c, credentialStatsResponse{
		CredentialStats: stats,
		RemainingQuota:  remaining,
	})
}
