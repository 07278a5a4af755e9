package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mkleve522/zzimage/internal/model"
	"github.com/mkleve522/zzimage/internal/op"
	"github.com/mkleve522/zzimage/internal/server/middleware"
	"github.com/mkleve522/zzimage/internal/server/resp"
	"github.com/mkleve522/zzimage/internal/server/router"
)

func init() {
	router.NewGroupRouter("/api/v1/setting").
		Use(middleware.Auth()).
		Use(middleware.RequireJSON()).
		AddRoute(
			router.NewRoute("/list", http.MethodGet).
				Handle(listSetting),
		).
		AddRoute(
			router.NewRoute("/set", http.MethodPost).
				Handle(setSetting),
		)
}

func listSetting(c *gin.Context) {
	settings, err := op.SettingList(c.Request.Context())
	if err != nil {
		resp.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	resp.Success(c, settings)
}

func setSetting(c *gin.Context) {
	var settings []model.Setting
	if err := c.ShouldBindJSON(&settings); err != nil {
		resp.Error(c, http.StatusBadRequest, resp.ErrInvalidJSON)
		return
	}
	for _, setting := range settings {
		if err := setting.Validate(); err != nil {
			resp.Error(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	for _, setting := range settings {
		if err := op.SettingSetString(setting.Key, setting.Value); err != nil {
			resp.Error(c, http.StatusInternalServerError, err.Error())
			return
		}
	}
	resp.Success(c, "ok")
}
