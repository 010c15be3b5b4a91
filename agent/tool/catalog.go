package tool

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/crewflow/agent/contract"
)

// Handler executes one tool call. Args come straight from the provider as
// decoded JSON. Returning an error is a legal outcome: the catalog converts
// it to a structured error result for the model, it never escapes the turn.
type Handler func(ctx context.Context, view contractx.TurnView, args map[string]any) (any, error)

// Catalog registers tool handlers by name and dispatches provider-requested
// calls to them.
type Catalog struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	infos    map[string]*schema.ToolInfo
}

func NewCatalog() *Catalog {
	return &Catalog{
		handlers: make(map[string]Handler),
		infos:    make(map[string]*schema.ToolInfo),
	}
}

func (c *Catalog) Register(info *schema.ToolInfo, handler Handler) error {
	if info == nil || strings.TrimSpace(info.Name) == "" {
		return fmt.Errorf("tool info with a name is required")
	}
	if handler == nil {
		return fmt.Errorf("handler for tool=%s is required", info.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.handlers[info.Name]; dup {
		return fmt.Errorf("tool=%s is already registered", info.Name)
	}
	c.handlers[info.Name] = handler
	c.infos[info.Name] = info
	return nil
}

// Infos returns the schemas for the named tools, skipping unknown names.
// The crew definition lists names; the catalog owns the schemas.
func (c *Catalog) Infos(names []string) []*schema.ToolInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	infos := make([]*schema.ToolInfo, 0, len(names))
	for _, name := range names {
		info, ok := c.infos[name]
		if !ok {
			log.Warn().Str("tool", name).Msg("crew references an unregistered tool")
			continue
		}
		infos = append(infos, info)
	}
	return infos
}

// Dispatch runs the requested handler and always produces a result the
// generation loop can feed back: unknown tools and handler failures become
// error payloads for the model to recover from.
func (c *Catalog) Dispatch(ctx context.Context, view contractx.TurnView, req contractx.ToolRequest) contractx.ToolResult {
	c.mu.RLock()
	handler, ok := c.handlers[req.Tool]
	c.mu.RUnlock()

	if !ok {
		return contractx.ToolResult{
			Tool:  req.Tool,
			Error: fmt.Sprintf("tool=%s is not registered", req.Tool),
		}
	}

	result, err := handler(ctx, view, req.Args)
	if err != nil {
		log.Warn().
			Str("tool", req.Tool).
			Str("conversation", view.ConversationID).
			Err(err).
			Msg("tool handler failed")
		return contractx.ToolResult{Tool: req.Tool, Error: err.Error()}
	}
	return contractx.ToolResult{Tool: req.Tool, Result: result}
}
