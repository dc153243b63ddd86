package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	WorkerEnabled      bool
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database (empty = in-memory job store, dev mode)
	DatabaseURL string

	// Redis
	RedisURL string

	// Planning oracle
	OracleProvider string // "gemini" (native SDK) or "openai" (OpenAI-compatible endpoint)
	GeminiKey      string
	GeminiModel    string
	OpenAIKey      string
	OpenAIBaseURL  string // Set to Gemini's OpenAI-compatible endpoint to reuse the same key
	OpenAIModel    string

	// Knowledge base for the system prompt
	SkillsDir          string // Manim skill folders (.md/.py)
	RemotionPromptPath string // Remotion framework prompt file

	// Render toolchains
	ManimBin           string        // manim executable
	NpxBin             string        // npx executable (remotion render)
	RemotionProjectDir string        // shared remotion project with node_modules installed
	ManimTimeout       time.Duration // per-scene primary render budget
	RemotionTimeout    time.Duration // per-scene secondary render budget

	// Media toolchain
	FFmpegBin     string
	FFprobeBin    string
	FFmpegTimeout time.Duration

	// Narration (ElevenLabs; empty key disables narration)
	ElevenLabsKey     string
	ElevenLabsVoiceID string

	// Output
	OutputDir string // base directory for per-job workspaces

	// Worker
	MaxConcurrentJobs int
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:            getEnv("API_PORT", "8080"),
		WorkerEnabled:      getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:      getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),

		OracleProvider: getEnv("ORACLE_PROVIDER", "gemini"),
		GeminiKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		OpenAIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:    getEnv("OPENAI_MODEL", "gpt-4o-mini"),

		SkillsDir:          getEnv("SKILLS_DIR", "skills"),
		RemotionPromptPath: getEnv("REMOTION_PROMPT_PATH", "RemotionSystemPrompt.txt"),

		ManimBin:           getEnv("MANIM_BIN", "manim"),
		NpxBin:             getEnv("NPX_BIN", "npx"),
		RemotionProjectDir: getEnv("REMOTION_PROJECT_DIR", "my-video"),
		ManimTimeout:       getEnvDuration("MANIM_TIMEOUT", 5*time.Minute),
		RemotionTimeout:    getEnvDuration("REMOTION_TIMEOUT", 10*time.Minute),

		FFmpegBin:     getEnv("FFMPEG_BIN", "ffmpeg"),
		FFprobeBin:    getEnv("FFPROBE_BIN", "ffprobe"),
		FFmpegTimeout: getEnvDuration("FFMPEG_TIMEOUT", 2*time.Minute),

		ElevenLabsKey:     getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoiceID: getEnv("ELEVENLABS_VOICE_ID", ""),

		OutputDir: getEnv("VIDEO_OUTPUT_DIR", "output"),

		MaxConcurrentJobs: getEnvInt("MAX_CONCURRENT_JOBS", 3),
	}

	// Validate required fields
	switch cfg.OracleProvider {
	case "gemini":
		if cfg.GeminiKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required when ORACLE_PROVIDER=gemini")
		}
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when ORACLE_PROVIDER=openai")
		}
	default:
		return nil, fmt.Errorf("unknown ORACLE_PROVIDER %q (want gemini or openai)", cfg.OracleProvider)
	}

	if cfg.MaxConcurrentJobs < 1 {
		return nil, fmt.Errorf("MAX_CONCURRENT_JOBS must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
