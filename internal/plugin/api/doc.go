// Package api implements the capability surface a plugin reaches through
// its api table: data, ui, http and utils.
//
// A CapabilityAPI is built per plugin and bound to that plugin's declared
// permission set. Every gated method checks the permission before it
// touches any collaborator, so a denied call has no side effect:
//
//	capi := api.New("weather", perms,
//	    api.WithRenderer(renderer),
//	    api.WithDataStore(api.NewKVDataStore(store)),
//	)
//	for method, h := range capi.Handlers() {
//	    sandbox.RegisterHandler(method, h)
//	}
//
// # Lua Usage
//
//	local v = ctx.api.data.read("report")
//	ctx.api.ui.showNotification({ title = "Done", message = "saved", level = "success" })
//	local res = ctx.api.http.fetch("https://example.com/feed", { method = "GET" })
//	local id = ctx.api.utils.generateId()
//	local sealed = ctx.api.utils.encrypt("secret", "passphrase")
package api
