package cmd

import (
	"time"

	"github.com/mkleve522/zzimage/internal/conf"
	"github.com/mkleve522/zzimage/internal/db"
	"github.com/mkleve522/zzimage/internal/generate"
	"github.com/mkleve522/zzimage/internal/op"
	"github.com/mkleve522/zzimage/internal/pool"
	"github.com/mkleve522/zzimage/internal/server"
	"github.com/mkleve522/zzimage/internal/server/handlers"
	"github.com/mkleve522/zzimage/internal/task"
	"github.com/mkleve522/zzimage/internal/upstream"
	"github.com/mkleve522/zzimage/internal/utils/log"
	"github.com/mkleve522/zzimage/internal/utils/shutdown"
	"github.com/spf13/cobra"
)

var cfgFile string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start " + conf.APP_NAME,
	PreRun: func(cmd *cobra.Command, args []string) {
		conf.PrintBanner()
		conf.Load(cfgFile)
		log.SetLevel(conf.AppConfig.Log.Level)
	},
	Run: func(cmd *cobra.Command, args []string) {
		shutdown.Init(log.Logger)
		defer shutdown.Listen()
		if err := db.InitDB(conf.AppConfig.Database.Type, conf.AppConfig.Database.Path, conf.IsDebug()); err != nil {
			log.Errorf("database init error: %v", err)
			return
		}
		shutdown.Register(db.Close)

		if err := op.InitCache(); err != nil {
			log.Errorf("cache init error: %v", err)
			return
		}
		shutdown.Register(op.SaveCache)

		if err := op.UserInit(); err != nil {
			log.Errorf("user init error: %v", err)
			return
		}

		genConf := conf.AppConfig.Generate
		scheduler := pool.New(op.CredentialStore{}, genConf.DailyQuota)
		adapter := upstream.New(genConf.BaseURL, time.Duration(genConf.RequestTimeout)*time.Second)
		generator := generate.New(scheduler, adapter, generate.OptionsFromConf(genConf))
		handlers.Init(generator, scheduler)

		if err := server.Start(); err != nil {
			log.Errorf("server start error: %v", err)
			return
		}
		shutdown.Register(server.Close)

		task.Init()
		go task.RUN()
	},
}

func init() {
	startCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./data/config.json)")
	rootCmd.AddCommand(startCmd)
}
