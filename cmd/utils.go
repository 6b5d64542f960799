package cmd

import (
	"log"
	"path/filepath"

	"sqltune/internal/config"
	"sqltune/internal/database"
	"sqltune/internal/dataset"
	"sqltune/internal/finetune"
	"sqltune/internal/storage"
)

// LoadConfig loads the environment-driven configuration and makes sure the
// working directories exist. Any failure here is fatal; nothing useful can
// run without it.
func LoadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		log.Fatalf("Failed to create working directories: %v", err)
	}
	return cfg
}

// OpenRegistry opens the local run registry.
func OpenRegistry(cfg *config.Config) *database.Registry {
	registry, err := database.OpenRegistry(cfg.RegistryPath())
	if err != nil {
		log.Fatalf("Failed to open run registry: %v", err)
	}
	return registry
}

// NewPublisher builds the artifact publisher: S3 when an endpoint or
// credentials are configured, otherwise a directory tree under the root.
func NewPublisher(cfg *config.Config) storage.Provider {
	if cfg.S3EndpointURL != "" || cfg.S3AccessKeyID != "" {
		provider, err := storage.NewS3Provider(storage.S3ClientConfig{
			Endpoint:        cfg.S3EndpointURL,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			log.Fatalf("Failed to create S3 publisher: %v", err)
		}
		return provider
	}

	provider, err := storage.NewLocalProvider(filepath.Join(cfg.Root, "artifacts"))
	if err != nil {
		log.Fatalf("Failed to create local publisher: %v", err)
	}
	return provider
}

// NewDeps assembles the pipeline collaborators from configuration and the
// publish flag.
func NewDeps(cfg *config.Config, publish bool) finetune.Deps {
	deps := finetune.Deps{
		Registry:   OpenRegistry(cfg),
		Hub:        dataset.NewHubClient(cfg.HubEndpoint),
		HubDataset: cfg.HubDataset,
	}
	if publish {
		deps.Publisher = NewPublisher(cfg)
		deps.Bucket = cfg.ModelBucketName
	}
	return deps
}
