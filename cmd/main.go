package main

import (
  "context"
  "encoding/json"
  "fmt"
  "os"
  "strings"
  "time"
  "github.com/google/uuid"
  "gorm.io/datatypes"
  "github.com/genoplot/genoplot-backend/internal/cache"
  "github.com/genoplot/genoplot-backend/internal/db"
  "github.com/genoplot/genoplot-backend/internal/handlers"
  "github.com/genoplot/genoplot-backend/internal/logger"
  "github.com/genoplot/genoplot-backend/internal/middleware"
  "github.com/genoplot/genoplot-backend/internal/observability"
  "github.com/genoplot/genoplot-backend/internal/panel"
  "github.com/genoplot/genoplot-backend/internal/pca"
  "github.com/genoplot/genoplot-backend/internal/repos"
  "github.com/genoplot/genoplot-backend/internal/server"
  "github.com/genoplot/genoplot-backend/internal/services"
  "github.com/genoplot/genoplot-backend/internal/types"
  "github.com/genoplot/genoplot-backend/internal/utils"
)

func main() {
  // Logger
  logMode := os.Getenv("LOG_MODE")
  if logMode == "" {
    logMode = "development"
  }
  log, err := logger.New(logMode)
  if err != nil {
    fmt.Printf("Failed to init logger: %v\n", err)
    os.Exit(1)
  }
  defer log.Sync()

  // Tracing (no-op unless OTEL_ENABLED is set)
  otelShutdown := observability.InitTracing(context.Background(), log, observability.Config{
    ServiceName: "genoplot-backend",
    Environment: logMode,
  })
  if otelShutdown != nil {
    defer func() {
      shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
      defer cancel()
      if err := otelShutdown(shutdownCtx); err != nil {
        log.Warn("otel shutdown failed", "error", err)
      }
    }()
  }

  // Env
  log.Info("Loading environment variables from main...")
  tokenSecretKey := utils.GetEnv("TOKEN_SECRET_KEY", "defaultsecret", log)
  tokenTTL := utils.GetEnvAsInt("TOKEN_TTL", 30*86400, log)
  modelPath := utils.GetEnv("MODEL_PATH", "pca_model.json", log)
  maxUploadMB := utils.GetEnvAsInt("MAX_UPLOAD_MB", 32, log)
  maxMissingness := utils.GetEnvAsFloat("MAX_MISSINGNESS", 0.2, log)
  cacheTTL := utils.GetEnvAsInt("CACHE_TTL", 3600, log)
  manifestPath := utils.GetEnv("PANEL_MANIFEST", "", log)

  // DB
  dbService, err := db.NewDBService(log)
  if err != nil {
    log.Error("DB init failed", "error", err)
    os.Exit(1)
  }
  if err = dbService.AutoMigrateAll(); err != nil {
    log.Error("DB auto migration failed", "error", err)
    os.Exit(1)
  }
  theDB := dbService.DB()

  // Model
  log.Info("Loading PCA model...", "path", modelPath)
  model, err := pca.Load(modelPath)
  if err != nil {
    log.Warn("Could not load PCA model, uploads will be rejected until one is provided", "path", modelPath, "error", err)
    model = nil
  } else {
    log.Info("PCA model loaded", "version", model.Version, "components", model.K, "sites", len(model.SiteKeys), "panel_samples", len(model.Panel))
  }

  // Plot colors: manifest overrides the defaults when one is configured
  colors := panel.DefaultColors
  if manifestPath != "" {
    manifest, err := panel.LoadManifest(manifestPath)
    if err != nil {
      log.Warn("Could not load panel manifest, using default colors", "path", manifestPath, "error", err)
    } else {
      colors = manifest.Colors
    }
  }

  // Repos
  log.Info("Setting up Repos from main...")
  sampleRepo := repos.NewSampleRepo(theDB, log)
  projectionRepo := repos.NewProjectionRepo(theDB, log)
  panelMemberRepo := repos.NewPanelMemberRepo(theDB, log)

  // Sync the panel table with the loaded model
  if model != nil {
    members := make([]*types.PanelMember, 0, len(model.Panel))
    for _, p := range model.Panel {
      coords, err := json.Marshal(p.Coords)
      if err != nil {
        log.Warn("Could not encode panel member coordinates, skipping", "panel_sample", p.SampleID, "error", err)
        continue
      }
      members = append(members, &types.PanelMember{
        ID:              uuid.New(),
        SampleID:        p.SampleID,
        Population:      p.Population,
        SuperPopulation: p.SuperPopulation,
        ModelVersion:    model.Version,
        Coordinates:     datatypes.JSON(coords),
      })
    }
    if err := panelMemberRepo.ReplaceAll(context.Background(), nil, members); err != nil {
      log.Warn("Could not sync panel members to DB", "error", err)
    }
  }

  // Cache
  plotCache, err := cache.New(log, time.Duration(cacheTTL)*time.Second)
  if err != nil {
    log.Warn("Redis cache init failed, running without cache", "error", err)
    plotCache = nil
  }

  // Services
  log.Info("Setting up Services from main...")
  storageService, err := services.NewLocalStorageService(log)
  if err != nil {
    log.Error("Could not init StorageService", "error", err)
    os.Exit(1)
  }
  tokenService := services.NewTokenService(log, tokenSecretKey, time.Duration(tokenTTL)*time.Second)
  sampleService := services.NewSampleService(theDB, log, sampleRepo, projectionRepo, storageService)
  projectionService := services.NewProjectionService(theDB, log, model, maxMissingness, sampleRepo, projectionRepo, storageService)
  plotService := services.NewPlotService(log, model, colors, plotCache)

  // Pick up samples a previous run left mid-pipeline
  if err := projectionService.ReprojectStuck(context.Background()); err != nil {
    log.Warn("Reproject of stuck samples failed", "error", err)
  }

  // Handlers
  log.Info("Setting up handlers from main...")
  sampleHandler := handlers.NewSampleHandler(log, sampleService, projectionService, plotService, tokenService, int64(maxUploadMB)*1024*1024)
  panelHandler := handlers.NewPanelHandler(log, projectionService, plotService, colors)

  // Middleware
  log.Info("Setting up middleware from main...")
  tokenMiddleware := middleware.NewTokenMiddleware(log, tokenService)

  // Router
  log.Info("Setting up router from main...")
  var origins []string
  if raw := os.Getenv("CORS_ORIGINS"); raw != "" {
    origins = strings.Split(raw, ",")
  }
  router := server.NewRouter(server.RouterConfig{
    SampleHandler:   sampleHandler,
    PanelHandler:    panelHandler,
    TokenMiddleware: tokenMiddleware,
    AllowOrigins:    origins,
    ServiceName:     "genoplot-backend",
  })

  port := utils.GetEnv("PORT", "8080", log)
  fmt.Printf("Server listening on :%s\n", port)
  if err := router.Run(":" + port); err != nil {
    log.Error("Server failed", "error", err)
  }
}
