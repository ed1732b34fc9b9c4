package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kbforge/ragengine/internal/profile"
	"github.com/kbforge/ragengine/internal/version"
	"github.com/kbforge/ragengine/rag"
	"github.com/kbforge/ragengine/rag/cache"
	"github.com/kbforge/ragengine/rag/ingest"
	"github.com/kbforge/ragengine/rag/metrics"
	"github.com/kbforge/ragengine/server"
	"github.com/kbforge/ragengine/store"
	"github.com/kbforge/ragengine/store/db"
)

var rootCmd = &cobra.Command{
	Use:   "ragengine",
	Short: `A retrieval-augmented-generation query and caching engine with layered semantic caching and multi-strategy retrieval.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// Load .env from the working directory when present.
		_ = godotenv.Load()
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Addr:    viper.GetString("addr"),
			Port:    viper.GetInt("port"),
			Data:    viper.GetString("data"),
			Driver:  viper.GetString("driver"),
			DSN:     viper.GetString("dsn"),
			Version: version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			panic(err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		dbDriver, err := db.NewDBDriver(instanceProfile)
		if err != nil {
			slog.Error("failed to create db driver", "error", err)
			return
		}

		storeInstance := store.New(dbDriver, instanceProfile)
		defer storeInstance.Close()
		if err := storeInstance.Migrate(ctx); err != nil {
			slog.Error("failed to migrate", "error", err)
			return
		}

		embedder, err := rag.NewEmbeddingService(&rag.EmbeddingConfig{
			APIKey:     instanceProfile.EmbeddingAPIKey,
			BaseURL:    instanceProfile.EmbeddingBaseURL,
			Model:      instanceProfile.EmbeddingModel,
			Dimensions: instanceProfile.EmbeddingDimensions,
		})
		if err != nil {
			slog.Error("failed to create embedding service", "error", err)
			return
		}

		m := metrics.New()

		cacheStore := newCacheStore(instanceProfile)
		defer cacheStore.Close()
		cacheLayer := cache.NewLayer(cacheStore, embedder, cache.Config{}, m)

		engineConfig := rag.DefaultConfig()
		engineConfig.EntityExtractionEnabled = instanceProfile.EntityExtractionEnabled

		strategies := []rag.RetrievalStrategy{
			rag.NewSemanticStrategy(engineConfig, embedder, storeInstance),
			rag.NewKeywordStrategy(engineConfig, storeInstance),
			rag.NewHybridStrategy(engineConfig, embedder, storeInstance, storeInstance),
			rag.NewAgentStrategy(engineConfig, embedder, storeInstance),
		}

		var extractor ingest.EntityExtractor
		if instanceProfile.EntityExtractionEnabled {
			extractor, err = ingest.NewLLMExtractor(&ingest.ExtractorConfig{
				APIKey:  instanceProfile.ExtractorAPIKey,
				BaseURL: instanceProfile.ExtractorBaseURL,
				Model:   instanceProfile.ExtractorModel,
			})
			if err != nil {
				slog.Error("failed to create entity extractor", "error", err)
				return
			}
			strategies = append(strategies,
				rag.NewEntityAwareStrategy(engineConfig, embedder, storeInstance, storeInstance, storeInstance))
		}

		engine := rag.NewEngine(engineConfig, cacheLayer, m, strategies...)

		chunker := ingest.NewChunker(ingest.DefaultChunkSize, ingest.DefaultChunkOverlap)
		pipeline := ingest.NewPipeline(storeInstance, embedder, chunker, extractor, m)

		s := server.NewServer(instanceProfile, storeInstance, engine, pipeline, m)

		c := make(chan os.Signal, 1)
		// SIGTERM is the graceful shutdown signal for most supervisors.
		signal.Notify(c, terminationSignals...)

		go func() {
			<-c
			if err := s.Shutdown(ctx); err != nil {
				slog.Error("failed to shut down server", "error", err)
			}
			cancel()
		}()

		printGreetings(instanceProfile)

		if err := s.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start server", "error", err)
			return
		}

		<-ctx.Done()
	},
}

// newCacheStore connects to redis when configured. Without redis the cache
// degrades to always-miss rather than failing startup.
func newCacheStore(p *profile.Profile) cache.Store {
	if p.RedisAddr == "" {
		slog.Info("no redis configured, query caching disabled")
		return cache.NewNopStore()
	}
	redisStore, err := cache.NewRedisStore(p.RedisAddr, p.RedisPassword, p.RedisDB)
	if err != nil {
		slog.Warn("redis unavailable, query caching disabled", "addr", p.RedisAddr, "error", err)
		return cache.NewNopStore()
	}
	return redisStore
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "postgres")
	viper.SetDefault("port", 28090)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28090, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "postgres", "database driver (postgres, sqlite)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")

	for _, flag := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("ragengine")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("RAG Engine %s started successfully!\n", profile.Version)
	fmt.Printf("Data directory: %s\n", profile.Data)
	fmt.Printf("Database driver: %s\n", profile.Driver)
	fmt.Printf("Mode: %s\n", profile.Mode)
	if profile.Addr == "" {
		fmt.Printf("Server running on port %d\n", profile.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", profile.Addr, profile.Port)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
