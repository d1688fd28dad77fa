package mqtt

import (
	"strings"
)

// DefaultPrefix is the topic root used when none is configured.
const DefaultPrefix = "odin"

// Topics builds the topic names under one prefix.
//
//	{prefix}/state/{adapter}             retained snapshot of an adapter tree
//	{prefix}/command/{adapter}/{path...} write request, JSON body
//	{prefix}/response/{adapter}          outcome of a command
//	{prefix}/system/status               online/offline, also the LWT
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultPrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

// State returns the state topic of an adapter.
func (t Topics) State(adapter string) string {
	return t.prefix() + "/state/" + adapter
}

// Command returns the command topic for path on an adapter. An empty path
// addresses the adapter root.
func (t Topics) Command(adapter, path string) string {
	topic := t.prefix() + "/command/" + adapter
	if path != "" {
		topic += "/" + strings.Trim(path, "/")
	}
	return topic
}

// Response returns the topic command outcomes for an adapter go to.
func (t Topics) Response(adapter string) string {
	return t.prefix() + "/response/" + adapter
}

// SystemStatus returns the server status topic.
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}

// AllCommands matches every command topic.
func (t Topics) AllCommands() string {
	return t.prefix() + "/command/#"
}

// AllStates matches every state topic.
func (t Topics) AllStates() string {
	return t.prefix() + "/state/+"
}

// ParseCommand splits a command topic into adapter name and parameter
// path. ok is false for topics outside the command tree.
func (t Topics) ParseCommand(topic string) (adapter, path string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix()+"/command/")
	if !found || rest == "" {
		return "", "", false
	}
	adapter, path, _ = strings.Cut(rest, "/")
	if adapter == "" {
		return "", "", false
	}
	return adapter, path, true
}
