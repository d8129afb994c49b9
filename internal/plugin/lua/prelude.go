package lua

// prelude is compiled once per unit. It receives the Go host-call
// function and the listener registry, and returns the builders used to
// assemble the api and context tables.
const prelude = `
local call, listeners = ...

local function bind(method)
  return function(...)
    local ok, res = call(method, ...)
    if not ok then
      error(res, 2)
    end
    return res
  end
end

local function events(on, once, off, emit)
  local nextId = 0

  local function subscribe(raw, name, fn)
    if type(name) ~= "string" then
      error("event name must be a string", 3)
    end
    if type(fn) ~= "function" then
      error("listener must be a function", 3)
    end
    nextId = nextId + 1
    local id = nextId
    listeners[id] = { name = name, fn = fn }
    raw(name, id)
    return id
  end

  return {
    on = function(name, fn) return subscribe(on, name, fn) end,
    once = function(name, fn) return subscribe(once, name, fn) end,
    off = function(name, target)
      local removed = 0
      for id, entry in pairs(listeners) do
        if entry.name == name and (target == nil or target == entry.fn or target == id) then
          listeners[id] = nil
          off(id)
          removed = removed + 1
        end
      end
      return removed
    end,
    emit = function(name, payload) return emit(name, payload) end,
  }
end

return bind, events
`
