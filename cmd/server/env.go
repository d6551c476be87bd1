package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// serverEnv holds deployment settings that do not belong in tuning.yaml.
type serverEnv struct {
	DeployEnv string `env:"DEPLOY_ENV" envDefault:"dev"`

	IndexBackend string `env:"LW_INDEX_BACKEND" envDefault:"sqlite"`
	MongoURI     string `env:"LW_MONGO_URI"`
	MongoDB      string `env:"LW_MONGO_DB" envDefault:"loreweave"`

	// Narrator is gemini, stub, or auto (gemini when a key is set).
	Narrator     string `env:"LW_NARRATOR" envDefault:"auto"`
	GeminiAPIKey string `env:"GEMINI_API_KEY"`

	// EnableAdminHTTP overrides the DEPLOY_ENV default when set.
	EnableAdminHTTP string `env:"LW_ENABLE_ADMIN_HTTP"`
	EnablePprofHTTP bool   `env:"LW_ENABLE_PPROF_HTTP" envDefault:"false"`
}

func loadServerEnv(logger *log.Logger) (serverEnv, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Printf("load .env: %v", err)
	}
	var e serverEnv
	if err := env.Parse(&e); err != nil {
		return e, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}

// adminEnabled defaults to on outside staging and production.
func (e serverEnv) adminEnabled() bool {
	if v, err := strconv.ParseBool(strings.TrimSpace(e.EnableAdminHTTP)); err == nil {
		return v
	}
	switch strings.ToLower(strings.TrimSpace(e.DeployEnv)) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
