package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"photorelay/internal/api"
	"photorelay/internal/config"
	"photorelay/internal/geocode"
	"photorelay/internal/geotag"
	"photorelay/internal/graph"
	"photorelay/internal/notify"
	"photorelay/internal/redis"
	"photorelay/internal/service/relay"
	"photorelay/internal/storage"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("PHOTORELAY_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("PHOTORELAY_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	// Every outbound call shares one bounded-timeout client so a hung
	// dependency cannot starve a request indefinitely.
	httpClient := &http.Client{
		Timeout: time.Duration(cfg.BasicConfig.RequestTimeoutSeconds) * time.Second,
	}

	var cache geocode.Cache
	if cfg.Redis.Host != "" {
		rdb, err := redis.NewClient(cfg)
		if err != nil {
			log.Fatalf("create redis client: %v", err)
		}
		defer rdb.Close()
		cache = rdb
	} else {
		log.Printf("redis not configured, geocode cache disabled")
	}

	tokens := graph.NewTokenSource(graph.TokenConfig{
		TokenURL:     cfg.Graph.TokenURL,
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
		RefreshToken: cfg.Graph.RefreshToken,
		Scope:        cfg.Graph.Scope,
	}, httpClient)
	drive := graph.NewClient(cfg.Graph.DriveBaseURL, httpClient, tokens)
	geocoder := geocode.New(cfg.Geocoder, httpClient, cache)
	notifier := notify.New(httpClient, 2, 64)
	defer notifier.Close()

	store := storage.NewStore(db)
	relayService := relay.NewService(geocoder, geotag.NewWriter(), drive, store, notifier, relay.Options{
		Webhooks:       cfg.Webhooks,
		Folders:        cfg.Folders,
		FilenamePrefix: cfg.BasicConfig.FilenamePrefix,
		Watermark:      cfg.BasicConfig.Watermark,
	})
	handlers := api.NewHandler(relayService, store, cfg.BasicConfig.UploadDir)

	router := gin.Default()
	corsCfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}
	if len(cfg.BasicConfig.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.BasicConfig.AllowedOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	router.Use(cors.New(corsCfg))
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8080"
	}
	log.Printf("listening on %s", addr)
	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
