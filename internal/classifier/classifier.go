package classifier

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/HendryAvila/mirror/internal/config"
	"github.com/HendryAvila/mirror/internal/extraction"
)

// New builds the classifier selected by the extraction config.
func New(ctx context.Context, cfg config.ExtractionConfig, logger *zap.Logger) (extraction.Classifier, error) {
	switch cfg.Classifier {
	case "", config.ClassifierKeyword:
		return extraction.NewKeywordClassifier(), nil
	case config.ClassifierGemini:
		return NewGemini(ctx, cfg.APIKey, cfg.Model, logger)
	default:
		return nil, fmt.Errorf("unknown classifier %q", cfg.Classifier)
	}
}
