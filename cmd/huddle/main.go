package main

import (
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/jkettu/huddle/auth"
	"github.com/jkettu/huddle/config"
	"github.com/jkettu/huddle/globals"
	"github.com/jkettu/huddle/persistence"
	"github.com/jkettu/huddle/presence"
	"github.com/jkettu/huddle/room"
	"github.com/jkettu/huddle/ws"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
)

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	addr       = pflag.String("addr", "localhost:8000", "ws service address (including port)")
	sslCert    = pflag.String("ssl-cert", "", "SSL cert for websocket (optional)")
	sslKey     = pflag.String("ssl-key", "", "SSL key for websocket (optional)")

	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
)

func main() {
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
	defer persister.Close()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		persister.Close()
		os.Exit(0)
	}()

	// the composition root: the registries live exactly as long as the
	// process and are handed to the gateway explicitly
	registry := presence.NewRegistry()
	router := room.NewRouter()
	gateway := ws.NewGateway(globalConfig, registry, router, persister)

	if globalConfig.RetentionConfig.MaxAgeDays > 0 {
		maxAge := time.Duration(globalConfig.RetentionConfig.MaxAgeDays) * 24 * time.Hour
		cronRunner := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
		_, err := cronRunner.AddFunc(globalConfig.RetentionConfig.CronSpec, func() {
			count, err := persister.DeleteMessagesBefore(time.Now().Add(-maxAge))
			if err != nil {
				globals.AppLogger.Error("retention purge failed", "error", err)
				return
			}
			globals.AppLogger.Info("retention purge done", "deleted", count)
		})
		if err != nil {
			panic(err)
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	muxRouter := mux.NewRouter()
	muxRouter.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		websocketHandler(w, r, gateway, globalConfig)
	}).Methods(http.MethodGet)
	http.Handle("/", muxRouter)

	globals.AppLogger.Info("listening", "addr", *addr)
	if *sslCert != "" && *sslKey != "" {
		err = http.ListenAndServeTLS(*addr, *sslCert, *sslKey, nil)
	} else {
		err = http.ListenAndServe(*addr, nil)
	}
	globals.AppLogger.Error("stopped listening", "error", err)
}

// websocketHandler upgrades the connection and runs its read/write pumps.
// An optional id_token/provider query pair is verified up front; the
// resulting identity constrains which user the connection may announce as.
func websocketHandler(w http.ResponseWriter, r *http.Request, gateway *ws.Gateway, cfg *config.Config) {
	identity := ""
	vals := r.URL.Query()
	if idToken := vals.Get("id_token"); idToken != "" {
		var err error
		identity, err = auth.Authenticate(idToken, vals.Get("provider"), cfg)
		if err != nil {
			globals.AppLogger.Debug("token verification failed", "error", err)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		globals.AppLogger.Error("websocket upgrade error", "error", err)
		return
	}

	client := ws.NewClient(gateway, conn, identity)
	gateway.Register(client)
	go client.WriteLoop()
	client.ReadLoop()
}
