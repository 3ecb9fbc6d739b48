package main

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"
	"github.com/voxchat/voxchat/config"
	"github.com/voxchat/voxchat/globals"
	"github.com/voxchat/voxchat/persistence"
	"github.com/voxchat/voxchat/ws"
)

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
)

func main() {
	log.SetFlags(0)

	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}

	if globalConfig.LogLevel != "" {
		globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))
	}

	persister, err := persistence.NewPersister(globalConfig)
	if err != nil {
		panic(err)
	}
	if persister == nil {
		panic("no persistence configured")
	}
	defer persister.Close()

	hub := ws.NewHub(globalConfig, persister)
	go hub.Run()

	router := mux.NewRouter()
	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, w, r)
	}).Methods(http.MethodGet)
	router.PathPrefix("/").Handler(http.FileServer(http.Dir(globalConfig.StaticDir)))

	globals.AppLogger.Info("listening", "addr", globalConfig.ListenAddr)
	err = http.ListenAndServe(globalConfig.ListenAddr, router)
	globals.AppLogger.Error("stopped listening", "error", err)
}
