package ephyr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/ephyr-control/ephyrsub/internal/domain"
	"github.com/ephyr-control/ephyrsub/internal/graphql"
	"github.com/ephyr-control/ephyrsub/internal/registry"
)

// MixinUIPath is the web UI page of a single output mixer.
const MixinUIPath = "/mix"

// PasswordKind selects which password SetPassword changes.
type PasswordKind string

const (
	PasswordMain   PasswordKind = "MAIN"
	PasswordOutput PasswordKind = "OUTPUT"
)

// Info is what the Info query reports about a server.
type Info struct {
	domain.Settings
	PasswordHash       string `json:"passwordHash,omitempty"`
	PasswordOutputHash string `json:"passwordOutputHash,omitempty"`
}

// Remote runs one-shot queries and mutations against an instance through a
// connection registry. Only the credential may change during its lifetime;
// changing it rebuilds every surface client.
type Remote struct {
	registry *registry.Registry

	mu   sync.RWMutex
	inst domain.Instance
}

// NewRemote builds the registry for inst right away.
func NewRemote(inst domain.Instance, factory registry.Factory, surfaces ...graphql.Surface) *Remote {
	r := &Remote{
		registry: registry.New(factory, surfaces...),
		inst:     inst,
	}
	r.registry.Rebuild(inst.ConnectionDetails())
	return r
}

// NewHTTPRemote is NewRemote with plain HTTP GraphQL clients.
func NewHTTPRemote(inst domain.Instance, timeout time.Duration) *Remote {
	return NewRemote(inst, registry.HTTPFactory(timeout))
}

func (r *Remote) Instance() domain.Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inst
}

func (r *Remote) Execute(ctx context.Context, op graphql.Operation, vars map[string]any) (json.RawMessage, error) {
	return r.registry.Execute(ctx, op, vars)
}

// GetInfo returns the title, public host and confirmation settings.
func (r *Remote) GetInfo(ctx context.Context) (Info, error) {
	data, err := r.Execute(ctx, graphql.Info, nil)
	if err != nil {
		return Info{}, err
	}
	return decodeField[Info](data, "info")
}

// VerifyIPv4DomainMatch reports whether the server's public host is the
// configured address.
func (r *Remote) VerifyIPv4DomainMatch(ctx context.Context) (bool, error) {
	info, err := r.GetInfo(ctx)
	if err != nil {
		return false, err
	}
	return info.PublicHost == r.Instance().IPv4, nil
}

// ChangePassword sets the main password; an empty password removes the
// protection. On success the new credential is used for every later call.
func (r *Remote) ChangePassword(ctx context.Context, newPassword string) (bool, error) {
	old := r.Instance().Password
	vars := map[string]any{
		"new":  optionalString(newPassword),
		"old":  optionalString(old),
		"kind": string(PasswordMain),
	}
	ok, err := r.mutate(ctx, graphql.SetPassword, vars, "setPassword")
	if err != nil || !ok {
		return ok, err
	}

	r.mu.Lock()
	r.inst.Password = newPassword
	details := r.inst.ConnectionDetails()
	r.mu.Unlock()

	r.registry.Rebuild(details)
	return true, nil
}

func (r *Remote) ChangeSettings(ctx context.Context, s domain.Settings) (bool, error) {
	vars := map[string]any{
		"title":               optionalString(s.Title),
		"delete_confirmation": s.DeleteConfirmation,
		"enable_confirmation": s.EnableConfirmation,
	}
	return r.mutate(ctx, graphql.SetSettings, vars, "setSettings")
}

// Import applies an exported spec. With replace the server matches existing
// objects and updates them; otherwise the whole state is replaced.
func (r *Remote) Import(ctx context.Context, spec json.RawMessage, replace bool) (bool, error) {
	compact, err := compactJSON(spec)
	if err != nil {
		return false, err
	}
	vars := map[string]any{
		"restream_id": nil,
		"replace":     replace,
		"spec":        compact,
	}
	return r.mutate(ctx, graphql.Import, vars, "import")
}

// Export returns the server spec (restreams and settings) as JSON.
func (r *Remote) Export(ctx context.Context) (json.RawMessage, error) {
	data, err := r.Execute(ctx, graphql.Export, nil)
	if err != nil {
		return nil, err
	}
	spec, err := decodeField[string](data, "export")
	if err != nil {
		return nil, err
	}
	if !json.Valid([]byte(spec)) {
		return nil, fmt.Errorf("export returned invalid JSON")
	}
	return json.RawMessage(spec), nil
}

// AddToDashboard registers other as a client of this instance's dashboard.
func (r *Remote) AddToDashboard(ctx context.Context, other domain.Instance) (bool, error) {
	vars := map[string]any{"client_id": BuildURL(other, false).String()}
	return r.mutate(ctx, graphql.DashboardAddClient, vars, "addClient")
}

func (r *Remote) RemoveFromDashboard(ctx context.Context, other domain.Instance) (bool, error) {
	vars := map[string]any{"client_id": BuildURL(other, false).String()}
	return r.mutate(ctx, graphql.DashboardRemoveClient, vars, "removeClient")
}

// TuneVolume sets the volume of an output, or of one of its mixins when
// mixinID is not empty.
func (r *Remote) TuneVolume(ctx context.Context, restreamID, outputID, mixinID string, vol domain.Volume) (bool, error) {
	vars := map[string]any{
		"restream_id": restreamID,
		"output_id":   outputID,
		"level":       vol.Level,
		"muted":       vol.Muted,
	}
	if mixinID != "" {
		vars["mixin_id"] = mixinID
	}
	return r.mutate(ctx, graphql.TuneVolume, vars, "tuneVolume")
}

// TuneDelay sets by how much a mixin is delayed relative to the main stream.
func (r *Remote) TuneDelay(ctx context.Context, restreamID, outputID, mixinID string, delay time.Duration) (bool, error) {
	vars := map[string]any{
		"restream_id": restreamID,
		"output_id":   outputID,
		"mixin_id":    mixinID,
		"delay":       delay.Milliseconds(),
	}
	return r.mutate(ctx, graphql.TuneDelay, vars, "tuneDelay")
}

func (r *Remote) TuneSidechain(ctx context.Context, restreamID, outputID, mixinID string, enabled bool) (bool, error) {
	vars := map[string]any{
		"restream_id": restreamID,
		"output_id":   outputID,
		"mixin_id":    mixinID,
		"sidechain":   enabled,
	}
	return r.mutate(ctx, graphql.TuneSidechain, vars, "tuneSidechain")
}

// BuildURL returns the web UI address of inst, with credentials when set.
func BuildURL(inst domain.Instance, dashboard bool) *url.URL {
	u := &url.URL{
		Scheme: inst.Scheme(),
		Host:   inst.Host(),
		Path:   "/",
	}
	if dashboard {
		u.Path = "/dashboard"
	}
	if inst.Password != "" {
		u.User = url.UserPassword(domain.DefaultHTTPAuthUser, inst.Password)
	}
	return u
}

// BuildOutputURL returns the mixer page of one output. The main credential
// is never embedded; outputPassword is, when given.
func BuildOutputURL(inst domain.Instance, restreamID, outputID, outputPassword string) *url.URL {
	u := BuildURL(inst, false)
	u.Path = MixinUIPath
	u.RawQuery = url.Values{"id": {restreamID}, "output": {outputID}}.Encode()
	u.User = nil
	if outputPassword != "" {
		u.User = url.UserPassword(domain.DefaultHTTPAuthUser, outputPassword)
	}
	return u
}

func (r *Remote) mutate(ctx context.Context, op graphql.Operation, vars map[string]any, field string) (bool, error) {
	data, err := r.Execute(ctx, op, vars)
	if err != nil {
		return false, err
	}
	return decodeField[bool](data, field)
}

func decodeField[T any](data json.RawMessage, field string) (T, error) {
	var zero T
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return zero, fmt.Errorf("failed to decode response: %w", err)
	}
	raw, ok := fields[field]
	if !ok {
		return zero, fmt.Errorf("response has no %q field", field)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("failed to decode %q: %w", field, err)
	}
	return out, nil
}

func optionalString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func compactJSON(spec json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(spec, &v); err != nil {
		return "", fmt.Errorf("invalid spec: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
