package config

import (
	"log"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config carries the environment-driven settings shared by both fine-tuning
// binaries. Per-run knobs (iterations, batch size, ...) come from CLI flags,
// not from here.
type Config struct {
	Root     string `env:"SQLTUNE_ROOT" envDefault:"./.sqltune"`
	CacheDir string `env:"SQLTUNE_CACHE_DIR" envDefault:""`

	PythonExec  string `env:"PYTHON_EXECUTABLE" envDefault:"python3"`
	DockerBin   string `env:"DOCKER_BIN" envDefault:"docker"`
	DockerImage string `env:"LLAMA_CPP_IMAGE" envDefault:"ghcr.io/ggml-org/llama.cpp:full"`

	ConvertScriptURL string `env:"CONVERT_SCRIPT_URL" envDefault:"https://raw.githubusercontent.com/ggml-org/llama.cpp/master/convert_hf_to_gguf.py"`
	HubEndpoint      string `env:"HF_DATASETS_ENDPOINT" envDefault:"https://datasets-server.huggingface.co"`
	HubDataset       string `env:"HF_DATASET" envDefault:"b-mc2/sql-create-context"`

	S3EndpointURL     string `env:"S3_ENDPOINT_URL" envDefault:""`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID" envDefault:""`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" envDefault:""`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
	ModelBucketName   string `env:"MODEL_BUCKET_NAME" envDefault:"trained-models"`
}

func Load() (*Config, error) {
	// Load .env file if it exists (useful for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading, continuing with environment variables")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}

	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(cfg.Root, "cache")
	}

	if cfg.S3EndpointURL != "" && (cfg.S3AccessKeyID == "" || cfg.S3SecretAccessKey == "") {
		log.Println("Warning: S3_ENDPOINT_URL is set, but AWS_ACCESS_KEY_ID or AWS_SECRET_ACCESS_KEY are missing.")
	}

	return &cfg, nil
}

// RegistryPath is the location of the local run-registry database.
func (c *Config) RegistryPath() string {
	return filepath.Join(c.Root, "db", "sqltune.db")
}

func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.Root, c.CacheDir, filepath.Dir(c.RegistryPath())} {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return err
		}
	}
	return nil
}
