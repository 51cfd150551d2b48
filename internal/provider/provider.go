// Package provider defines the translation back-end capability. The
// dispatcher treats all back-ends polymorphically over Translator;
// optional features are declared as capability flags checked once at
// registration, never probed per call.
package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/lmoretti/lingo-gateway/internal/domain"
)

// Request is one provider invocation: a single hop's texts and language
// pair. SourceLang is always concrete, never "auto".
type Request struct {
	Texts      []string
	SourceLang string
	TargetLang string
	Model      string
}

// Result carries the translations in request order plus billable token
// usage when the back-end reports it.
type Result struct {
	Texts  []string
	Tokens int
}

// Translator is the minimal provider capability.
type Translator interface {
	ID() string
	Translate(ctx context.Context, req Request) (*Result, error)
}

// Capabilities declares a provider's optional features.
type Capabilities struct {
	// Local marks a locally resident model: only one inference context
	// may be memory-resident at a time, so the dispatcher serializes
	// calls to local providers.
	Local bool

	SupportsQuotaIntrospection bool
	SupportsStreaming          bool

	// MaxBatchSize is the largest Texts slice one Translate call accepts.
	// Zero or one means single-text calls.
	MaxBatchSize int
}

// Registration binds a translator to its capabilities.
type Registration struct {
	Translator   Translator
	Capabilities Capabilities
}

// QuotaIntrospector is implemented by providers whose registration sets
// SupportsQuotaIntrospection. The dispatcher polls it to surface remaining
// allowances in the stats snapshot.
type QuotaIntrospector interface {
	RemainingQuota(ctx context.Context) (domain.RemainingQuota, error)
}

// ClassifyStatus maps a provider HTTP status onto the error taxonomy.
func ClassifyStatus(providerID string, status int, body []byte) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%s: status=%d body=%s: %w", providerID, status, body, domain.ErrQuotaExceeded)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return fmt.Errorf("%s: status=%d body=%s: %w", providerID, status, body, domain.ErrTimeout)
	case status >= 500:
		return fmt.Errorf("%s: status=%d body=%s: %w", providerID, status, body, domain.ErrNetwork)
	default:
		return fmt.Errorf("%s: status=%d body=%s: %w", providerID, status, body, domain.ErrModel)
	}
}
