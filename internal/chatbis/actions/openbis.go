package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// OpenbisClient is the surface the action catalog needs from an openBIS
// server connection. Implementations wrap whatever transport a deployment
// uses; the catalog never talks to the network itself.
type OpenbisClient interface {
	Connect(ctx context.Context, url, username, password string) error
	Disconnect(ctx context.Context) error
	Connected() bool
	List(ctx context.Context, entity string, params map[string]string) ([]string, error)
	Get(ctx context.Context, entity, identifier string) (string, error)
	Create(ctx context.Context, entity string, params map[string]string) (string, error)
}

// ErrNotConfigured is returned when an action needs an openBIS connection
// but none is configured.
var ErrNotConfigured = errors.New("actions: openBIS connection is not configured")

// CatalogConfig carries the connection defaults used when a message does
// not spell them out.
type CatalogConfig struct {
	URL      string
	Username string
	Password string
}

// entitySpec describes one openBIS entity kind the catalog serves.
// Creation via chat is only offered where it makes sense; datasets are
// uploaded through the data store server, and types and vocabularies
// are admin territory.
type entitySpec struct {
	name   string
	plural string
	create bool
}

var entityCatalog = []entitySpec{
	{name: "space", plural: "spaces", create: true},
	{name: "project", plural: "projects", create: true},
	{name: "experiment", plural: "experiments", create: true},
	{name: "sample", plural: "samples", create: true},
	{name: "dataset", plural: "datasets"},
	{name: "sample_type", plural: "sample_types"},
	{name: "property_type", plural: "property_types"},
	{name: "vocabulary", plural: "vocabularies"},
}

func (e entitySpec) human() string       { return strings.ReplaceAll(e.name, "_", " ") }
func (e entitySpec) humanPlural() string { return strings.ReplaceAll(e.plural, "_", " ") }

// Catalog provides the built-in openBIS actions: connection management plus
// list/get/create per entity kind.
type Catalog struct {
	client OpenbisClient
	cfg    CatalogConfig
}

// NewCatalog builds a catalog over a client. A nil client is allowed; every
// action then reports ErrNotConfigured instead of panicking, which keeps
// documentation-only deployments working.
func NewCatalog(client OpenbisClient, cfg CatalogConfig) *Catalog {
	return &Catalog{client: client, cfg: cfg}
}

// Install registers every built-in action on the registry.
func (c *Catalog) Install(r *Registry) {
	r.Register("connect", c.handleConnect)
	r.Register("disconnect", c.handleDisconnect)
	r.Register("check_connection", c.handleCheckConnection)

	for _, e := range entityCatalog {
		e := e
		r.Register("list_"+e.plural, func(ctx context.Context, params map[string]string) (string, error) {
			return c.handleList(ctx, e, params)
		})
		r.Register("get_"+e.name, func(ctx context.Context, params map[string]string) (string, error) {
			return c.handleGet(ctx, e, params)
		})
		if e.create {
			r.Register("create_"+e.name, func(ctx context.Context, params map[string]string) (string, error) {
				return c.handleCreate(ctx, e, params)
			})
		}
	}
}

// connectionDetails resolves url/user/password from message parameters,
// falling back to the configured defaults.
func (c *Catalog) connectionDetails(params map[string]string) (url, user, pass string) {
	url = Param(params, "url", c.cfg.URL)
	user = Param(params, "user", Param(params, "username", c.cfg.Username))
	pass = Param(params, "password", c.cfg.Password)
	return url, user, pass
}

// ensureConnected connects with the configured defaults when no session is
// active yet, so "list samples" works without an explicit "connect" first.
func (c *Catalog) ensureConnected(ctx context.Context, params map[string]string) error {
	if c.client == nil {
		return ErrNotConfigured
	}
	if c.client.Connected() {
		return nil
	}
	url, user, pass := c.connectionDetails(params)
	if url == "" {
		return ErrNotConfigured
	}
	if err := c.client.Connect(ctx, url, user, pass); err != nil {
		return fmt.Errorf("actions: connect to %s: %w", url, err)
	}
	slog.Info("connected to openBIS", "url", url, "user", user)
	return nil
}

func (c *Catalog) handleConnect(ctx context.Context, params map[string]string) (string, error) {
	if c.client == nil {
		return "", ErrNotConfigured
	}
	url, user, pass := c.connectionDetails(params)
	if url == "" {
		return "", ErrNotConfigured
	}
	if err := c.client.Connect(ctx, url, user, pass); err != nil {
		return "", fmt.Errorf("actions: connect to %s: %w", url, err)
	}
	slog.Info("connected to openBIS", "url", url, "user", user)
	return fmt.Sprintf("Connected to openBIS at %s as %s.", url, user), nil
}

func (c *Catalog) handleDisconnect(ctx context.Context, params map[string]string) (string, error) {
	if c.client == nil {
		return "", ErrNotConfigured
	}
	if !c.client.Connected() {
		return "Not connected to openBIS.", nil
	}
	if err := c.client.Disconnect(ctx); err != nil {
		return "", fmt.Errorf("actions: disconnect: %w", err)
	}
	return "Disconnected from openBIS.", nil
}

func (c *Catalog) handleCheckConnection(ctx context.Context, params map[string]string) (string, error) {
	if c.client == nil {
		return "No openBIS connection is configured.", nil
	}
	if c.client.Connected() {
		return "Connected to openBIS.", nil
	}
	return "Not connected to openBIS. Say \"connect\" to log in.", nil
}

func (c *Catalog) handleList(ctx context.Context, e entitySpec, params map[string]string) (string, error) {
	if err := c.ensureConnected(ctx, params); err != nil {
		return "", err
	}
	items, err := c.client.List(ctx, e.name, params)
	if err != nil {
		return "", fmt.Errorf("actions: list %s: %w", e.plural, err)
	}
	if len(items) == 0 {
		return fmt.Sprintf("No %s found.", e.humanPlural()), nil
	}

	shown := items
	more := 0
	if limit := IntParam(params, "limit", 0); limit > 0 && len(items) > limit {
		shown = items[:limit]
		more = len(items) - limit
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d %s:\n", len(items), e.humanPlural())
	for _, item := range shown {
		sb.WriteString("- ")
		sb.WriteString(item)
		sb.WriteString("\n")
	}
	if more > 0 {
		fmt.Fprintf(&sb, "... and %d more\n", more)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (c *Catalog) handleGet(ctx context.Context, e entitySpec, params map[string]string) (string, error) {
	identifier := Param(params, e.name, Param(params, "identifier", Param(params, "code", "")))
	if identifier == "" {
		return "", fmt.Errorf("actions: get %s: no identifier given", e.human())
	}
	if err := c.ensureConnected(ctx, params); err != nil {
		return "", err
	}
	details, err := c.client.Get(ctx, e.name, identifier)
	if err != nil {
		return "", fmt.Errorf("actions: get %s %s: %w", e.human(), identifier, err)
	}
	return details, nil
}

func (c *Catalog) handleCreate(ctx context.Context, e entitySpec, params map[string]string) (string, error) {
	if err := c.ensureConnected(ctx, params); err != nil {
		return "", err
	}
	identifier, err := c.client.Create(ctx, e.name, params)
	if err != nil {
		return "", fmt.Errorf("actions: create %s: %w", e.human(), err)
	}
	return fmt.Sprintf("Created %s %s.", e.human(), identifier), nil
}
