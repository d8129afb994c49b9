package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dshills/plugkit/internal/plugin/rpc"
	"github.com/dshills/plugkit/internal/plugin/security"
)

// CapabilityAPI is one plugin's capability surface.
type CapabilityAPI struct {
	Data  *DataAPI
	UI    *UIAPI
	HTTP  *HTTPAPI
	Utils *UtilsAPI

	pluginID string
	perms    security.Set
	logger   *slog.Logger
}

type options struct {
	renderer Renderer
	data     DataStore
	client   Doer
	policy   *security.HostPolicy
	limits   security.Limits
	logger   *slog.Logger
}

// Option configures a CapabilityAPI.
type Option func(*options)

// WithRenderer sets the UI collaborator. The default discards everything.
func WithRenderer(r Renderer) Option {
	return func(o *options) {
		o.renderer = r
	}
}

// WithDataStore sets the host data store behind api.data.
func WithDataStore(ds DataStore) Option {
	return func(o *options) {
		o.data = ds
	}
}

// WithHTTPClient sets the client used by api.http.fetch.
func WithHTTPClient(c Doer) Option {
	return func(o *options) {
		o.client = c
	}
}

// WithHostPolicy restricts the hosts api.http.fetch may reach.
func WithHostPolicy(p *security.HostPolicy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithLimits sets the network limits.
func WithLimits(l security.Limits) Option {
	return func(o *options) {
		o.limits = l
	}
}

// WithLogger sets the logger used to report denials.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New builds the capability surface for pluginID.
func New(pluginID string, perms security.Set, opts ...Option) *CapabilityAPI {
	o := options{
		renderer: NopRenderer{},
		data:     NewMemoryDataStore(),
		client:   http.DefaultClient,
		limits:   security.DefaultLimits(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	a := &CapabilityAPI{
		pluginID: pluginID,
		perms:    perms,
		logger:   o.logger.With("plugin", pluginID),
	}
	a.Data = &DataAPI{api: a, store: o.data}
	a.UI = &UIAPI{api: a, renderer: o.renderer}
	a.HTTP = &HTTPAPI{
		api:     a,
		client:  o.client,
		policy:  o.policy,
		limiter: security.NewRateLimiter(o.limits.NetworkReqPerSecond),
		limits:  o.limits,
	}
	a.Utils = &UtilsAPI{}
	return a
}

// PluginID returns the plugin this surface is bound to.
func (a *CapabilityAPI) PluginID() string { return a.pluginID }

// Permissions returns the bound permission set.
func (a *CapabilityAPI) Permissions() security.Set { return a.perms }

// check is the gate every permissioned method passes first.
func (a *CapabilityAPI) check(ctx context.Context, m security.Method) error {
	if err := a.perms.Check(m); err != nil {
		a.logger.WarnContext(ctx, "capability denied", "method", m.String(), "error", err)
		return err
	}
	return nil
}

// Handlers exposes every capability method as a host-call handler. The
// permission gate runs before argument decoding.
func (a *CapabilityAPI) Handlers() map[security.Method]rpc.Handler {
	handlers := a.handlers()
	for m, h := range handlers {
		handlers[m] = a.gate(m, h)
	}
	return handlers
}

func (a *CapabilityAPI) gate(m security.Method, h rpc.Handler) rpc.Handler {
	return func(ctx context.Context, args []any) (any, error) {
		if err := a.check(ctx, m); err != nil {
			return nil, err
		}
		return h(ctx, args)
	}
}

func (a *CapabilityAPI) handlers() map[security.Method]rpc.Handler {
	return map[security.Method]rpc.Handler{
		security.MethodDataRead: func(ctx context.Context, args []any) (any, error) {
			key, err := stringArg(args, 0, "key")
			if err != nil {
				return nil, err
			}
			return a.Data.Read(ctx, key)
		},
		security.MethodDataWrite: func(ctx context.Context, args []any) (any, error) {
			key, err := stringArg(args, 0, "key")
			if err != nil {
				return nil, err
			}
			return nil, a.Data.Write(ctx, key, optionalArg(args, 1))
		},
		security.MethodDataDelete: func(ctx context.Context, args []any) (any, error) {
			key, err := stringArg(args, 0, "key")
			if err != nil {
				return nil, err
			}
			return nil, a.Data.Delete(ctx, key)
		},
		security.MethodUIShowNotification: func(ctx context.Context, args []any) (any, error) {
			var n Notification
			if s, ok := optionalArg(args, 0).(string); ok {
				n.Message = s
				if lvl, ok := optionalArg(args, 1).(string); ok {
					n.Level = NotificationLevel(lvl)
				}
			} else if err := bindArg(args, 0, "notification", &n); err != nil {
				return nil, err
			}
			return nil, a.UI.ShowNotification(ctx, n)
		},
		security.MethodUIShowModal: func(ctx context.Context, args []any) (any, error) {
			var m Modal
			if err := bindArg(args, 0, "modal", &m); err != nil {
				return nil, err
			}
			return a.UI.ShowModal(ctx, m)
		},
		security.MethodUIRegisterComponent: func(ctx context.Context, args []any) (any, error) {
			var c Component
			if err := bindArg(args, 0, "component", &c); err != nil {
				return nil, err
			}
			return nil, a.UI.RegisterComponent(ctx, c)
		},
		security.MethodUIRegisterPage: func(ctx context.Context, args []any) (any, error) {
			var p Page
			if err := bindArg(args, 0, "page", &p); err != nil {
				return nil, err
			}
			return nil, a.UI.RegisterPage(ctx, p)
		},
		security.MethodHTTPFetch: func(ctx context.Context, args []any) (any, error) {
			var req FetchRequest
			if optionalArg(args, 1) != nil {
				if err := bindArg(args, 1, "options", &req); err != nil {
					return nil, err
				}
			}
			u, err := stringArg(args, 0, "url")
			if err != nil {
				return nil, err
			}
			req.URL = u
			resp, err := a.HTTP.Fetch(ctx, req)
			if err != nil {
				return nil, err
			}
			return resp.ToMap(), nil
		},
		security.MethodUtilsGenerateID: func(context.Context, []any) (any, error) {
			return a.Utils.GenerateID(), nil
		},
		security.MethodUtilsHash: func(_ context.Context, args []any) (any, error) {
			data, err := stringArg(args, 0, "data")
			if err != nil {
				return nil, err
			}
			return a.Utils.Hash(data), nil
		},
		security.MethodUtilsEncrypt: func(_ context.Context, args []any) (any, error) {
			plain, err := stringArg(args, 0, "plaintext")
			if err != nil {
				return nil, err
			}
			pass, err := stringArg(args, 1, "passphrase")
			if err != nil {
				return nil, err
			}
			return a.Utils.Encrypt(plain, pass)
		},
		security.MethodUtilsDecrypt: func(_ context.Context, args []any) (any, error) {
			sealed, err := stringArg(args, 0, "ciphertext")
			if err != nil {
				return nil, err
			}
			pass, err := stringArg(args, 1, "passphrase")
			if err != nil {
				return nil, err
			}
			return a.Utils.Decrypt(sealed, pass)
		},
	}
}
