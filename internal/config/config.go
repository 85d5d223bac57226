package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// MinAPIKeyLength is the shortest Gemini key the service accepts as plausible.
const MinAPIKeyLength = 20

type Config struct {
	GeminiAPIKey        string
	GeminiModel         string
	EmbeddingModel      string
	Temperature         float32
	RequestsPerMinute   int
	ChunkSize           int
	ChunkOverlap        int
	TopK                int
	RetrievalFilter     string
	SimilarityThreshold float32
	DataDir             string
	PDFDir              string
	VectorStorePath     string
	VectorStoreKey      string
	PreferredPDF        string
	DatabaseURL         string
	Host                string
	HTTPPort            string
	LogLevel            string
}

// LoadConfig reads .env (if present) and the process environment. It never
// aborts on a missing key: an invalid key switches the service into its
// not-configured mode instead.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	dataDir := getEnv("DATA_DIR", "data")
	cfg := &Config{
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		EmbeddingModel:      getEnv("GEMINI_EMBEDDING_MODEL", "text-embedding-004"),
		Temperature:         getEnvAsFloat("GEMINI_TEMPERATURE", 0.2),
		RequestsPerMinute:   getEnvAsInt("GEMINI_REQUESTS_PER_MINUTE", 1500),
		ChunkSize:           getEnvAsInt("CHUNK_SIZE", 1000),
		ChunkOverlap:        getEnvAsInt("CHUNK_OVERLAP", 200),
		TopK:                getEnvAsInt("TOP_K_RESULTS", 5),
		RetrievalFilter:     strings.ToLower(getEnv("RETRIEVAL_FILTER", "llm")),
		SimilarityThreshold: getEnvAsFloat("SIMILARITY_THRESHOLD", 0.5),
		DataDir:             dataDir,
		PDFDir:              getEnv("PDF_DIR", filepath.Join(dataDir, "pdfs")),
		VectorStorePath:     getEnv("VECTOR_STORE_PATH", filepath.Join(dataDir, "vector_store")),
		VectorStoreKey:      getEnv("VECTOR_STORE_ENCRYPTION_KEY", ""),
		PreferredPDF:        getEnv("PREFERRED_PDF", "LTE.pdf"),
		DatabaseURL:         getEnv("DATABASE_URL", filepath.Join(dataDir, "chatbot.db")),
		Host:                getEnv("HOST", "0.0.0.0"),
		HTTPPort:            getEnv("HTTP_PORT", "8000"),
		LogLevel:            strings.ToUpper(getEnv("LOG_LEVEL", "INFO")),
	}

	if !cfg.APIKeyValid() {
		log.Println("WARNING: GEMINI_API_KEY is missing or invalid. Limited functionality available.")
	}
	if cfg.VectorStoreKey != "" && len(cfg.VectorStoreKey) != 32 {
		log.Println("WARNING: VECTOR_STORE_ENCRYPTION_KEY must be 32 bytes long, snapshots will not be encrypted")
		cfg.VectorStoreKey = ""
	}
	return cfg
}

// APIKeyValid reports whether the configured Gemini key looks usable.
func (c *Config) APIKeyValid() bool {
	return len(c.GeminiAPIKey) >= MinAPIKeyLength
}

// IndexFile is the snapshot file inside VectorStorePath.
func (c *Config) IndexFile() string {
	return filepath.Join(c.VectorStorePath, "index.gob.gz")
}

func (c *Config) Debug() bool {
	return c.LogLevel == "DEBUG"
}

// EnsureDirs creates the data, PDF and vector store directories.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, c.PDFDir, c.VectorStorePath} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float32) float32 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 32); err == nil {
		return float32(value)
	}
	return defaultValue
}
