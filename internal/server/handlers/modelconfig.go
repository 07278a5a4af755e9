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
	router.NewGroupRouter("/api/v1/model").
		Use(middleware.Auth()).
		Use(middleware.RequireJSON()).
		AddRoute(
			router.NewRoute("/list", http.MethodGet).
				Handle(listModelConfig),
		).
		AddRoute(
			router.NewRoute("/create", http.MethodPost).
				Handle(createModelConfig),
		).
		AddRoute(
			router.NewRoute("/update", http.MethodPost).
				Handle(updateModelConfig),
		).
		AddRoute(
			router.NewRoute("/delete/:id", http.MethodDelete).
				Handle(deleteModelConfig),
		)
}

func listModelConfig(c *gin.Context) {
	configs, err := op.ModelConfigList(c.Request.Context())
	if err != nil {
		resp.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	resp.Success(c, configs)
}

func createModelConfig(c *gin.Context) {
	var config model.ModelConfig
	if err := c.ShouldBindJSON(&config); err != nil {
		resp.Error(c, http.StatusBadRequest, resp.ErrInvalidJSON)
		return
	}
	if config.Name == "" {
		resp.Error(c, http.StatusBadRequest, "name must not be empty")
		return
	}
	if err := op.ModelConfigCreate(&config, c.Request.Context()); err != nil {
		resp.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	resp.Success(c, config)
}

func updateModelConfig(c *gin.Context) {
	var req model.ModelConfigUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		resp.Error(c, http.StatusBadRequest, resp.ErrInvalidJSON)
		return
	}
	config, err := op.ModelConfigUpdate(&req, c.Request.Context())
	if err != nil {
		resp.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	resp.Success(c, config)
}

func deleteModelConfig(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		resp.Error(c, http.StatusBadRequest, resp.ErrInvalidParam)
		return
	}
	if err := op.ModelConfigDelete(id, c.Request.Context()); err != nil {
		resp.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	resp.Success(c, "ok")
}
