// Package approval provides non-interactive approval gates.
package approval

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/waabox/bgrelease/internal/config"
	"github.com/waabox/bgrelease/internal/domain"
)

// Fixed answers every prompt with the same decision.
type Fixed struct {
	decision domain.Decision
	logger   *zap.Logger
}

var _ domain.ApprovalGate = (*Fixed)(nil)

// NewFixed creates a gate that always answers decision.
func NewFixed(decision domain.Decision, logger *zap.Logger) *Fixed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fixed{decision: decision, logger: logger}
}

func (f *Fixed) RequestDecision(ctx context.Context, p domain.Prompt) (domain.Decision, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.logger.Info("gate answered automatically", zap.String("gate", p.Title), zap.String("decision", string(f.decision)))
	return f.decision, nil
}

// Defaults answers every prompt with the prompt's own default.
type Defaults struct {
	logger *zap.Logger
}

// NewDefaults creates a gate that accepts each prompt's default.
func NewDefaults(logger *zap.Logger) *Defaults {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Defaults{logger: logger}
}

func (d *Defaults) RequestDecision(ctx context.Context, p domain.Prompt) (domain.Decision, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.Default == "" {
		return "", fmt.Errorf("gate %q has no default decision: %w", p.Title, domain.ErrConfiguration)
	}
	d.logger.Info("gate answered with its default", zap.String("gate", p.Title), zap.String("decision", string(p.Default)))
	return p.Default, nil
}

// ForInputPolicy returns the gate that answers build input requests under policy.
// interactive is used for config.InputPrompt.
func ForInputPolicy(policy string, interactive domain.ApprovalGate, logger *zap.Logger) (domain.ApprovalGate, error) {
	switch policy {
	case config.InputProceed, "":
		return NewFixed(domain.Proceed, logger), nil
	case config.InputAbort:
		return NewFixed(domain.Abort, logger), nil
	case config.InputPrompt:
		if interactive == nil {
			return nil, fmt.Errorf("input policy %q needs a terminal: %w", policy, domain.ErrConfiguration)
		}
		return interactive, nil
	default:
		return nil, fmt.Errorf("unknown input policy %q: %w", policy, domain.ErrConfiguration)
	}
}
