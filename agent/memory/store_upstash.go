package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	contractx "github.com/tanpawarit/crewflow/agent/contract"
)

const (
	defaultContextKeyPrefix = "crewflow:ctx:"
	defaultContextTTL       = 30 * 24 * time.Hour
	maxContextResponseBytes = 2 << 20
)

// UpstashContextStore persists context entries in Upstash Redis via its REST
// protocol. Merge is read-modify-write with no lock: logically concurrent
// merges to one entry resolve last-writer-wins, which is the accepted
// limitation of this store.
type UpstashContextStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
	keyPrefix  string
	ttl        time.Duration
}

var _ contractx.ContextStore = (*UpstashContextStore)(nil)

type UpstashContextConfig struct {
	URL     string        `envconfig:"URL" split_words:"true" required:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

// ContextStoreOption customizes UpstashContextStore.
type ContextStoreOption func(*UpstashContextStore)

func WithContextKeyPrefix(prefix string) ContextStoreOption {
	return func(s *UpstashContextStore) {
		trimmed := strings.TrimSpace(prefix)
		if trimmed != "" {
			s.keyPrefix = trimmed
		}
	}
}

func WithContextTTL(ttl time.Duration) ContextStoreOption {
	return func(s *UpstashContextStore) {
		s.ttl = ttl
	}
}

func WithContextHTTPClient(client *http.Client) ContextStoreOption {
	return func(s *UpstashContextStore) {
		if client != nil {
			s.httpClient = client
		}
	}
}

func NewUpstashContextStore(cfg UpstashContextConfig, opts ...ContextStoreOption) (*UpstashContextStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid redis rest url: %w", err)
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	store := &UpstashContextStore{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		keyPrefix:  defaultContextKeyPrefix,
		ttl:        defaultContextTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	if store.ttl < 0 {
		return nil, errors.New("ttl must be >= 0")
	}
	return store, nil
}

func (s *UpstashContextStore) Write(ctx context.Context, scope contractx.Scope, key string, value any) error {
	redisKey, err := s.redisKey(scope, key)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal context value: %w", err)
	}

	cmd := []any{"SET", redisKey, string(payload)}
	if ttl := s.ttlFor(scope); ttl > 0 {
		cmd = append(cmd, "EX", ttlSeconds(ttl))
	}
	_, err = s.exec(ctx, cmd)
	return err
}

func (s *UpstashContextStore) Merge(ctx context.Context, scope contractx.Scope, key string, partial map[string]any) error {
	existingRaw, err := s.Read(ctx, scope, key)
	if err != nil && !errors.Is(err, contractx.ErrKeyNotFound) {
		return err
	}
	existing, _ := existingRaw.(map[string]any)
	return s.Write(ctx, scope, key, MergeObjects(existing, partial))
}

func (s *UpstashContextStore) Read(ctx context.Context, scope contractx.Scope, key string) (any, error) {
	redisKey, err := s.redisKey(scope, key)
	if err != nil {
		return nil, err
	}

	resp, err := s.exec(ctx, []any{"GET", redisKey})
	if err != nil {
		return nil, err
	}

	result := bytes.TrimSpace(resp.Result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return nil, fmt.Errorf("%w: scope=%s/%s key=%s", contractx.ErrKeyNotFound, scope.Kind, scope.ID, key)
	}

	var encoded string
	if err := json.Unmarshal(result, &encoded); err != nil {
		return nil, fmt.Errorf("decode context payload: %w", err)
	}

	var value any
	if err := json.Unmarshal([]byte(encoded), &value); err != nil {
		return nil, fmt.Errorf("unmarshal context value: %w", err)
	}
	return value, nil
}

func (s *UpstashContextStore) redisKey(scope contractx.Scope, key string) (string, error) {
	entryKey, err := EntryKey(scope, key)
	if err != nil {
		return "", err
	}
	return s.keyPrefix + entryKey, nil
}

// ttlFor expires conversation-scope entries with the conversation; user-scope
// entries persist across conversations and carry no TTL.
func (s *UpstashContextStore) ttlFor(scope contractx.Scope) time.Duration {
	if scope.Kind == contractx.ScopeUser {
		return 0
	}
	return s.ttl
}

type redisRESTResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func (s *UpstashContextStore) exec(ctx context.Context, command []any) (*redisRESTResponse, error) {
	body, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("marshal redis command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute redis request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxContextResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read redis response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("redis http status=%d body=%s", resp.StatusCode, string(raw))
	}

	var parsed redisRESTResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode redis response: %w", err)
	}
	if parsed.Error != "" {
		return nil, errors.New(parsed.Error)
	}
	return &parsed, nil
}

func ttlSeconds(ttl time.Duration) int64 {
	seconds := ttl / time.Second
	if seconds <= 0 {
		return 1
	}
	if ttl%time.Second != 0 {
		seconds++
	}
	return int64(seconds)
}
