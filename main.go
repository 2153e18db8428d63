package main

import (
	"chat-server/core"
	"chat-server/handlers/api/users"
	"chat-server/handlers/websocket"
	"chat-server/stores"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

type config struct {
	Listen         string `envconfig:"LISTEN_ADDR" default:":3002"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	StorageType    string `envconfig:"STORAGE_TYPE"`
	DataSourceName string `envconfig:"DATA_SOURCE_NAME" default:"chat.db"`
}

func setupRouter(store core.Store, coord *websocket.Coordinator) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	corsOptions := cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			if origin == "" {
				return false
			}

			parsed, err := url.Parse(origin)
			if err != nil {
				return false
			}

			switch parsed.Scheme {
			case "http", "https":
				switch parsed.Hostname() {
				case "localhost", "127.0.0.1", "::1":
					return true
				}
			}

			return false
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	r.Use(cors.Handler(corsOptions))

	r.Route("/api/users", func(r chi.Router) {
		r.Post("/", users.HandleCreate(store))
		r.Post("/signin", users.HandleSignIn(store))
		r.Get("/search", users.HandleSearch(store))
		r.Get("/{userId}", users.HandleGet(store))
	})

	r.Get("/api/rooms", func(w http.ResponseWriter, r *http.Request) {
		type roomEntry struct {
			ID    string `json:"id"`
			Users int    `json:"users"`
		}

		activeRooms := coord.ActiveRooms()
		roomList := make([]roomEntry, 0, len(activeRooms))
		for id, count := range activeRooms {
			roomList = append(roomList, roomEntry{ID: id, Users: count})
		}

		sort.Slice(roomList, func(i, j int) bool {
			if roomList[i].Users == roomList[j].Users {
				return roomList[i].ID < roomList[j].ID
			}
			return roomList[i].Users > roomList[j].Users
		})

		render.JSON(w, r, roomList)
	})

	return r
}

func waitForShutdown(ioo *socketio.Server) {
	exit := make(chan struct{})
	SignalC := make(chan os.Signal, 1)

	signal.Notify(SignalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for s := range SignalC {
			switch s {
			case os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				close(exit)
				return
			}
		}
	}()

	<-exit
	fmt.Println("Shutting down...")
	ioo.Close(nil)
	os.Exit(0)
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
	}

	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logLevel := flag.String("loglevel", cfg.LogLevel, "Set the logging level: debug, info, warn, error, fatal, panic")
	listenAddr := flag.String("listen", cfg.Listen, "Set the server listen address")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)

	store := stores.GetStore(cfg.StorageType, cfg.DataSourceName)

	ioo, coord := websocket.SetupSocketIO(store)
	r := setupRouter(store, coord)
	r.Handle("/socket.io/", ioo.ServeHandler(nil))

	logrus.WithField("addr", *listenAddr).Info("starting server")
	go func() {
		if err := http.ListenAndServe(*listenAddr, r); err != nil {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(ioo)
}
