package handler

import (
	"peerchat/internal/app/hub"
	"peerchat/internal/configs"
)

type AppDeps struct {
	Hub    *hub.Hub
	Config *configs.AppConfig
}
