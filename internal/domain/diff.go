package domain

import (
	"strconv"
	"strings"
)

type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
	ChangeChanged ChangeKind = "changed"
)

// redacted replaces credential values in diffs so they never reach logs.
const redacted = "***"

// Change is one path that differs between two states.
//
// Paths are dotted field names; list items are addressed by their identity:
//
//	restreams[main].outputs[4f1c...].volume.level
type Change struct {
	Path string     `json:"path"`
	Kind ChangeKind `json:"kind"`
	Old  any        `json:"old,omitempty"`
	New  any        `json:"new,omitempty"`
}

// Diff is the ordered set of changes between two states.
// An empty Diff means no observable change.
type Diff []Change

func (d Diff) Empty() bool { return len(d) == 0 }

func (d Diff) Paths() []string {
	paths := make([]string, len(d))
	for i, c := range d {
		paths[i] = c.Path
	}
	return paths
}

// DiffState compares two states of the same instance over the known schema.
func DiffState(prev, next InstanceState) Diff {
	d := &differ{}

	field(d, "ipv4", prev.IPv4, next.IPv4)
	field(d, "domain", prev.Domain, next.Domain)
	field(d, "title", prev.Title, next.Title)
	if prev.Password != next.Password {
		d.add(Change{Path: "password", Kind: ChangeChanged, Old: redacted, New: redacted})
	}
	field(d, "https", prev.UseHTTPS(), next.UseHTTPS())

	diffList(d, "restreams", prev.Restreams, next.Restreams, restreamKey, d.restream)
	optional(d, "settings", prev.Settings, next.Settings, d.settings)
	optional(d, "serverInfo", prev.ServerInfo, next.ServerInfo, d.serverInfo)

	return d.changes
}

type differ struct {
	changes Diff
}

func (d *differ) add(c Change) { d.changes = append(d.changes, c) }

func field[T comparable](d *differ, path string, prev, next T) {
	if prev != next {
		d.add(Change{Path: path, Kind: ChangeChanged, Old: prev, New: next})
	}
}

func optional[T any](d *differ, path string, prev, next *T, each func(string, T, T)) {
	switch {
	case prev == nil && next == nil:
	case prev == nil:
		d.add(Change{Path: path, Kind: ChangeAdded, New: *next})
	case next == nil:
		d.add(Change{Path: path, Kind: ChangeRemoved, Old: *prev})
	default:
		each(path, *prev, *next)
	}
}

// diffList matches items by key, so reordering alone is not a change.
func diffList[T any](d *differ, path string, prev, next []T, key func(T) string, each func(string, T, T)) {
	prevKeys := listKeys(prev, key)
	nextKeys := listKeys(next, key)

	nextIdx := make(map[string]int, len(next))
	for i, k := range nextKeys {
		nextIdx[k] = i
	}
	prevIdx := make(map[string]int, len(prev))
	for i, k := range prevKeys {
		prevIdx[k] = i
		itemPath := path + "[" + k + "]"
		j, ok := nextIdx[k]
		if !ok {
			d.add(Change{Path: itemPath, Kind: ChangeRemoved, Old: prev[i]})
			continue
		}
		each(itemPath, prev[i], next[j])
	}
	for j, k := range nextKeys {
		if _, ok := prevIdx[k]; !ok {
			d.add(Change{Path: path + "[" + k + "]", Kind: ChangeAdded, New: next[j]})
		}
	}
}

// listKeys derives a unique key per item. Items without identity fall back
// to their position; repeated keys get a positional suffix.
func listKeys[T any](items []T, key func(T) string) []string {
	keys := make([]string, len(items))
	seen := make(map[string]int, len(items))
	for i, item := range items {
		k := key(item)
		if k == "" {
			k = "#" + strconv.Itoa(i)
		}
		if n := seen[k]; n > 0 {
			seen[k] = n + 1
			k = k + "#" + strconv.Itoa(n)
		} else {
			seen[k] = 1
		}
		keys[i] = k
	}
	return keys
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func restreamKey(r Restream) string { return firstNonEmpty(r.Key, r.ID) }
func inputKey(in Input) string      { return firstNonEmpty(in.Key, in.ID) }
func outputKey(o Output) string     { return firstNonEmpty(o.ID, o.Dst) }
func mixinKey(m Mixin) string       { return firstNonEmpty(m.ID, m.Src) }
func endpointKey(e Endpoint) string { return firstNonEmpty(e.ID, e.Kind) }

func (d *differ) restream(path string, prev, next Restream) {
	field(d, path+".id", prev.ID, next.ID)
	field(d, path+".key", prev.Key, next.Key)
	field(d, path+".label", prev.Label, next.Label)
	d.input(path+".input", prev.Input, next.Input)
	diffList(d, path+".outputs", prev.Outputs, next.Outputs, outputKey, d.output)
}

func (d *differ) input(path string, prev, next Input) {
	field(d, path+".id", prev.ID, next.ID)
	field(d, path+".key", prev.Key, next.Key)
	field(d, path+".enabled", prev.Enabled, next.Enabled)
	diffList(d, path+".endpoints", prev.Endpoints, next.Endpoints, endpointKey, d.endpoint)
	optional(d, path+".src", prev.Src, next.Src, d.inputSrc)
}

func (d *differ) inputSrc(path string, prev, next InputSrc) {
	field(d, path+".url", prev.URL, next.URL)
	field(d, path+".label", prev.Label, next.Label)
	diffList(d, path+".inputs", prev.Inputs, next.Inputs, inputKey, d.input)
}

func (d *differ) endpoint(path string, prev, next Endpoint) {
	field(d, path+".id", prev.ID, next.ID)
	field(d, path+".kind", prev.Kind, next.Kind)
	field(d, path+".status", prev.Status, next.Status)
	field(d, path+".label", prev.Label, next.Label)
}

func (d *differ) output(path string, prev, next Output) {
	field(d, path+".id", prev.ID, next.ID)
	field(d, path+".dst", prev.Dst, next.Dst)
	field(d, path+".label", prev.Label, next.Label)
	field(d, path+".previewUrl", prev.PreviewURL, next.PreviewURL)
	d.volume(path+".volume", prev.Volume, next.Volume)
	diffList(d, path+".mixins", prev.Mixins, next.Mixins, mixinKey, d.mixin)
	field(d, path+".enabled", prev.Enabled, next.Enabled)
	field(d, path+".status", prev.Status, next.Status)
}

func (d *differ) mixin(path string, prev, next Mixin) {
	field(d, path+".id", prev.ID, next.ID)
	field(d, path+".src", prev.Src, next.Src)
	d.volume(path+".volume", prev.Volume, next.Volume)
	field(d, path+".delay", prev.Delay, next.Delay)
	field(d, path+".sidechain", prev.Sidechain, next.Sidechain)
}

func (d *differ) volume(path string, prev, next Volume) {
	field(d, path+".level", prev.Level, next.Level)
	field(d, path+".muted", prev.Muted, next.Muted)
}

func (d *differ) settings(path string, prev, next Settings) {
	field(d, path+".title", prev.Title, next.Title)
	field(d, path+".publicHost", prev.PublicHost, next.PublicHost)
	field(d, path+".deleteConfirmation", prev.DeleteConfirmation, next.DeleteConfirmation)
	field(d, path+".enableConfirmation", prev.EnableConfirmation, next.EnableConfirmation)
}

func (d *differ) serverInfo(path string, prev, next ServerInfo) {
	field(d, path+".cpuUsage", prev.CPUUsage, next.CPUUsage)
	field(d, path+".ramTotal", prev.RAMTotal, next.RAMTotal)
	field(d, path+".ramFree", prev.RAMFree, next.RAMFree)
	field(d, path+".txDelta", prev.TxDelta, next.TxDelta)
	field(d, path+".rxDelta", prev.RxDelta, next.RxDelta)
	field(d, path+".errorMsg", prev.ErrorMsg, next.ErrorMsg)
}
