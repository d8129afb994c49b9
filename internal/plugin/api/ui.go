package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dshills/plugkit/internal/plugin/security"
)

// NotificationLevel represents the severity of a notification.
type NotificationLevel string

const (
	// NotificationInfo is an informational notification.
	NotificationInfo NotificationLevel = "info"
	// NotificationWarning is a warning notification.
	NotificationWarning NotificationLevel = "warning"
	// NotificationError is an error notification.
	NotificationError NotificationLevel = "error"
	// NotificationSuccess is a success notification.
	NotificationSuccess NotificationLevel = "success"
)

// Valid reports whether l is a known level.
func (l NotificationLevel) Valid() bool {
	switch l {
	case NotificationInfo, NotificationWarning, NotificationError, NotificationSuccess:
		return true
	}
	return false
}

// Notification is a transient message shown to the user.
type Notification struct {
	Title   string            `cbor:"title"`
	Message string            `cbor:"message"`
	Level   NotificationLevel `cbor:"level"`
}

// Modal is a blocking dialog. The renderer returns the user's answer.
type Modal struct {
	Title   string   `cbor:"title"`
	Body    string   `cbor:"body"`
	Buttons []string `cbor:"buttons"`
}

// Component is a UI element contributed to a slot.
type Component struct {
	Name  string         `cbor:"name"`
	Slot  string         `cbor:"slot"`
	Props map[string]any `cbor:"props"`
}

// Page is a routed page contributed by a plugin.
type Page struct {
	Path    string `cbor:"path"`
	Title   string `cbor:"title"`
	Content any    `cbor:"content"`
}

// ErrInvalidUI is returned for incomplete UI payloads.
var ErrInvalidUI = errors.New("invalid ui request")

// Renderer displays what plugins contribute. The host application
// provides it; this package never renders anything itself.
type Renderer interface {
	ShowNotification(ctx context.Context, pluginID string, n Notification) error
	ShowModal(ctx context.Context, pluginID string, m Modal) (any, error)
	RegisterComponent(ctx context.Context, pluginID string, c Component) error
	RegisterPage(ctx context.Context, pluginID string, p Page) error
}

// UIAPI implements api.ui.
type UIAPI struct {
	api      *CapabilityAPI
	renderer Renderer
}

// ShowNotification requires notifications.
func (u *UIAPI) ShowNotification(ctx context.Context, n Notification) error {
	if err := u.api.check(ctx, security.MethodUIShowNotification); err != nil {
		return err
	}
	if n.Message == "" {
		return fmt.Errorf("%w: notification message is required", ErrInvalidUI)
	}
	if n.Level == "" {
		n.Level = NotificationInfo
	}
	if !n.Level.Valid() {
		return fmt.Errorf("%w: unknown notification level %q", ErrInvalidUI, n.Level)
	}
	return u.renderer.ShowNotification(ctx, u.api.pluginID, n)
}

// ShowModal requires modify-ui.
func (u *UIAPI) ShowModal(ctx context.Context, m Modal) (any, error) {
	if err := u.api.check(ctx, security.MethodUIShowModal); err != nil {
		return nil, err
	}
	if m.Title == "" && m.Body == "" {
		return nil, fmt.Errorf("%w: modal needs a title or body", ErrInvalidUI)
	}
	return u.renderer.ShowModal(ctx, u.api.pluginID, m)
}

// RegisterComponent requires modify-ui.
func (u *UIAPI) RegisterComponent(ctx context.Context, c Component) error {
	if err := u.api.check(ctx, security.MethodUIRegisterComponent); err != nil {
		return err
	}
	if c.Name == "" {
		return fmt.Errorf("%w: component name is required", ErrInvalidUI)
	}
	return u.renderer.RegisterComponent(ctx, u.api.pluginID, c)
}

// RegisterPage requires modify-ui.
func (u *UIAPI) RegisterPage(ctx context.Context, p Page) error {
	if err := u.api.check(ctx, security.MethodUIRegisterPage); err != nil {
		return err
	}
	if p.Path == "" {
		return fmt.Errorf("%w: page path is required", ErrInvalidUI)
	}
	return u.renderer.RegisterPage(ctx, u.api.pluginID, p)
}

// NopRenderer accepts and discards everything.
type NopRenderer struct{}

func (NopRenderer) ShowNotification(context.Context, string, Notification) error { return nil }
func (NopRenderer) ShowModal(context.Context, string, Modal) (any, error)        { return nil, nil }
func (NopRenderer) RegisterComponent(context.Context, string, Component) error   { return nil }
func (NopRenderer) RegisterPage(context.Context, string, Page) error             { return nil }

// LogRenderer writes UI requests to a logger. Modals resolve to their
// first button.
type LogRenderer struct {
	Logger *slog.Logger
}

// ShowNotification implements Renderer.
func (r LogRenderer) ShowNotification(ctx context.Context, pluginID string, n Notification) error {
	r.Logger.InfoContext(ctx, "notification", "plugin", pluginID, "level", string(n.Level), "title", n.Title, "message", n.Message)
	return nil
}

// ShowModal implements Renderer.
func (r LogRenderer) ShowModal(ctx context.Context, pluginID string, m Modal) (any, error) {
	r.Logger.InfoContext(ctx, "modal", "plugin", pluginID, "title", m.Title, "body", m.Body)
	if len(m.Buttons) == 0 {
		return nil, nil
	}
	return m.Buttons[0], nil
}

// RegisterComponent implements Renderer.
func (r LogRenderer) RegisterComponent(ctx context.Context, pluginID string, c Component) error {
	r.Logger.InfoContext(ctx, "component registered", "plugin", pluginID, "name", c.Name, "slot", c.Slot)
	return nil
}

// RegisterPage implements Renderer.
func (r LogRenderer) RegisterPage(ctx context.Context, pluginID string, p Page) error {
	r.Logger.InfoContext(ctx, "page registered", "plugin", pluginID, "path", p.Path, "title", p.Title)
	return nil
}
