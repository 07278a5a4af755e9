package handlers

import (
	"github.com/mkleve522/zzimage/internal/generate"
	"github.com/mkleve522/zzimage/internal/pool"
)

var (
	generator *generate.Generator
	scheduler *pool.Scheduler
)

// Init 注入编排器和调度器，必须在 server.Start 之前调用
func Init(g *generate.Generator, s *pool.Scheduler) {
	generator = g
	scheduler = s
}
