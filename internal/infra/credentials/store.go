package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"moltpfp/internal/infra"
	"moltpfp/internal/sqlinline"
)

// Provider names accepted by the store. They match the image provider names
// plus the Moltbook account key.
const (
	ProviderReplicate = "replicate"
	ProviderOpenAI    = "openai"
	ProviderQwen      = "qwen"
	ProviderMoltbook  = "moltbook"
)

var knownProviders = map[string]struct{}{
	ProviderReplicate: {},
	ProviderOpenAI:    {},
	ProviderQwen:      {},
	ProviderMoltbook:  {},
}

// Store reads and writes API tokens kept in the integration_tokens table. It
// backs up environment variables when a deployment keeps secrets in Postgres.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Ensure creates the integration_tokens table when it is missing.
func (s *Store) Ensure(ctx context.Context) error {
	_, err := s.sql.Exec(ctx, sqlinline.QEnsureIntegrationTokens)
	return err
}

// Token returns the stored token for provider, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	provider, err := normalizeProvider(provider)
	if err != nil {
		return "", err
	}
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// SetToken stores token for provider, replacing any previous value.
func (s *Store) SetToken(ctx context.Context, provider, token string) error {
	provider, err := normalizeProvider(provider)
	if err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%s token is required", provider)
	}
	return s.upsert(ctx, provider, token, map[string]any{"source": "cli"})
}

// Fill copies stored tokens into cfg for every credential the environment left
// empty. It returns the providers that were filled.
func (s *Store) Fill(ctx context.Context, cfg *infra.Config) ([]string, error) {
	targets := []struct {
		provider string
		field    *string
	}{
		{ProviderReplicate, &cfg.ReplicateAPIKey},
		{ProviderOpenAI, &cfg.OpenAIAPIKey},
		{ProviderQwen, &cfg.QwenAPIKey},
		{ProviderMoltbook, &cfg.MoltbookAPIKey},
	}
	var filled []string
	for _, target := range targets {
		if *target.field != "" {
			continue
		}
		token, err := s.Token(ctx, target.provider)
		if err != nil {
			return filled, fmt.Errorf("load %s token: %w", target.provider, err)
		}
		if token != "" {
			*target.field = token
			filled = append(filled, target.provider)
		}
	}
	return filled, nil
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw)
	return err
}

func normalizeProvider(provider string) (string, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if _, ok := knownProviders[provider]; !ok {
		return "", fmt.Errorf("unknown provider %q", provider)
	}
	return provider, nil
}
