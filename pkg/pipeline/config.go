package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/biograph/internal/util"
	"github.com/OFFIS-RIT/biograph/pkg/annotate"
	"github.com/OFFIS-RIT/biograph/pkg/mention"
	"github.com/OFFIS-RIT/biograph/pkg/relation"
)

// Config is read once at batch start. The coordinator keeps its own copy.
type Config struct {
	ConfidenceThreshold     float64       `json:"confidence_threshold"`
	ProximityWindow         int           `json:"proximity_window"`
	BatchSize               int           `json:"batch_size"`
	CallTimeout             time.Duration `json:"call_timeout"`
	RetryAttempts           int           `json:"retry_attempts"`
	Parallelism             int           `json:"parallelism"`
	MaxWriteFailureFraction float64       `json:"max_write_failure_fraction"`
	RegistryRate            float64       `json:"registry_rate"`
	RelationMinConfidence   float64       `json:"relation_min_confidence"`
	Cooccurrence            bool          `json:"cooccurrence"`
	// LLMConfidence is assigned to model based mentions and must reach ConfidenceThreshold.
	LLMConfidence float64 `json:"llm_confidence"`
	// OfflineResolution restricts resolution to the curated registries.
	OfflineResolution bool `json:"offline_resolution"`
}

func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold:     mention.DefaultThreshold,
		ProximityWindow:         relation.DefaultWindow,
		BatchSize:               100,
		CallTimeout:             30 * time.Second,
		RetryAttempts:           3,
		Parallelism:             4,
		MaxWriteFailureFraction: 0.5,
		RegistryRate:            3,
		RelationMinConfidence:   relation.DefaultMinConfidence,
		LLMConfidence:           annotate.DefaultLLMConfidence,
	}
}

// ConfigFromEnv overlays BIOGRAPH_* variables on the defaults.
func ConfigFromEnv() Config {
	d := DefaultConfig()
	return Config{
		ConfidenceThreshold:     util.GetEnvNumeric("BIOGRAPH_CONFIDENCE_THRESHOLD", d.ConfidenceThreshold),
		ProximityWindow:         util.GetEnvInt("BIOGRAPH_PROXIMITY_WINDOW", d.ProximityWindow),
		BatchSize:               util.GetEnvInt("BIOGRAPH_BATCH_SIZE", d.BatchSize),
		CallTimeout:             util.GetEnvDuration("BIOGRAPH_CALL_TIMEOUT", d.CallTimeout),
		RetryAttempts:           util.GetEnvInt("BIOGRAPH_RETRY_ATTEMPTS", d.RetryAttempts),
		Parallelism:             util.GetEnvInt("BIOGRAPH_PARALLELISM", d.Parallelism),
		MaxWriteFailureFraction: util.GetEnvNumeric("BIOGRAPH_MAX_WRITE_FAILURE_FRACTION", d.MaxWriteFailureFraction),
		RegistryRate:            util.GetEnvNumeric("BIOGRAPH_REGISTRY_RATE", d.RegistryRate),
		RelationMinConfidence:   util.GetEnvNumeric("BIOGRAPH_RELATION_MIN_CONFIDENCE", d.RelationMinConfidence),
		Cooccurrence:            util.GetEnvBool("BIOGRAPH_COOCCURRENCE", d.Cooccurrence),
		OfflineResolution:       util.GetEnvBool("BIOGRAPH_OFFLINE_RESOLUTION", d.OfflineResolution),
		LLMConfidence:           util.GetEnvNumeric("BIOGRAPH_LLM_CONFIDENCE", d.LLMConfidence),
	}
}

func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(c.ConfidenceThreshold >= 0 && c.ConfidenceThreshold <= 1, "confidence threshold %v outside [0,1]", c.ConfidenceThreshold)
	check(c.RelationMinConfidence >= 0 && c.RelationMinConfidence <= 1, "relation min confidence %v outside [0,1]", c.RelationMinConfidence)
	check(c.LLMConfidence > 0 && c.LLMConfidence <= 1, "llm confidence %v outside (0,1]", c.LLMConfidence)
	check(c.LLMConfidence >= c.ConfidenceThreshold,
		"llm confidence %v is below the confidence threshold %v", c.LLMConfidence, c.ConfidenceThreshold)
	check(c.ProximityWindow > 0, "proximity window must be positive, got %d", c.ProximityWindow)
	check(c.BatchSize > 0, "batch size must be positive, got %d", c.BatchSize)
	check(c.CallTimeout > 0, "call timeout must be positive, got %v", c.CallTimeout)
	check(c.RetryAttempts >= 1, "retry attempts must be at least 1, got %d", c.RetryAttempts)
	check(c.Parallelism >= 1, "parallelism must be at least 1, got %d", c.Parallelism)
	check(c.MaxWriteFailureFraction > 0 && c.MaxWriteFailureFraction <= 1,
		"max write failure fraction %v outside (0,1]", c.MaxWriteFailureFraction)
	check(c.RegistryRate >= 0, "registry rate must not be negative, got %v", c.RegistryRate)
	return errors.Join(errs...)
}

func (c Config) backoff() util.Backoff {
	b := util.DefaultBackoff
	b.MaxAttempts = c.RetryAttempts
	return b
}
