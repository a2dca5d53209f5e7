package report

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/costwise/costwise/internal/config"
	"github.com/costwise/costwise/internal/ports"
	"github.com/costwise/costwise/pkg/adapters/report/anthropic"
)

// NewGenerator creates a narrative generator for the configured
// provider. Provider "none" returns a nil generator; the entry point
// then skips narrative generation entirely.
func NewGenerator(cfg config.ReportConfig, logger *zap.Logger) (ports.ReportGenerator, error) {
	switch cfg.Provider {
	case "none", "":
		return nil, nil
	case "anthropic":
		return anthropic.NewGenerator(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported report provider: %s", cfg.Provider)
	}
}
