package config

import (
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type LLMConfig struct {
	BaseURL        string `yaml:"base_url"`
	Key            string `yaml:"key"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	// Temperature used for the call; evaluation wants a lower one than
	// generation for more consistent judgements.
	Temperature float64 `yaml:"temperature"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

type RAGConfig struct {
	ChunkSize    int `yaml:"chunk_size"`    // characters per chunk
	ChunkOverlap int `yaml:"chunk_overlap"` // characters of overlap
	TopK         int `yaml:"top_k"`         // passages per generation
}

type LearningConfig struct {
	DecayFactor float64 `yaml:"decay_factor"` // per rating cycle
	MinWeight   float64 `yaml:"min_weight"`   // prune floor
	MinStars    int     `yaml:"min_stars"`    // extraction threshold
	MaxPatterns int     `yaml:"max_patterns"` // patterns fed per prompt
}

type VectorDBConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	GenLLM   LLMConfig      `yaml:"gen_llm"`
	EmbedLLM LLMConfig      `yaml:"embed_llm"`
	RAG      RAGConfig      `yaml:"rag"`
	Learning LearningConfig `yaml:"learning"`
	VectorDB VectorDBConfig `yaml:"vector_db"`
}

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	DefaultTopK         = 5
	DefaultDecayFactor  = 0.97
	DefaultMinWeight    = 0.05
	DefaultMinStars     = 4
	DefaultMaxPatterns  = 5
	DefaultTimeout      = 60
)

func LoadConfig(path string) (*Config, error) {
	// .env overlay keeps API keys out of the yaml file; absence is fine.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if key := os.Getenv("EXAMGEN_GEN_KEY"); key != "" {
		cfg.GenLLM.Key = key
	}
	if key := os.Getenv("EXAMGEN_EMBED_KEY"); key != "" {
		cfg.EmbedLLM.Key = key
	}
	if pw := os.Getenv("EXAMGEN_DB_PASSWORD"); pw != "" {
		cfg.Database.Password = pw
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero values so callers can hand-build partial
// configs (tests do).
func (c *Config) ApplyDefaults() {
	if c.RAG.ChunkSize == 0 {
		c.RAG.ChunkSize = DefaultChunkSize
	}
	if c.RAG.ChunkOverlap == 0 {
		c.RAG.ChunkOverlap = DefaultChunkOverlap
	}
	if c.RAG.TopK == 0 {
		c.RAG.TopK = DefaultTopK
	}
	if c.Learning.DecayFactor == 0 {
		c.Learning.DecayFactor = DefaultDecayFactor
	}
	if c.Learning.MinWeight == 0 {
		c.Learning.MinWeight = DefaultMinWeight
	}
	if c.Learning.MinStars == 0 {
		c.Learning.MinStars = DefaultMinStars
	}
	if c.Learning.MaxPatterns == 0 {
		c.Learning.MaxPatterns = DefaultMaxPatterns
	}
	if c.GenLLM.TimeoutSeconds == 0 {
		c.GenLLM.TimeoutSeconds = DefaultTimeout
	}
	if c.EmbedLLM.TimeoutSeconds == 0 {
		c.EmbedLLM.TimeoutSeconds = DefaultTimeout
	}
}
