package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// InstanceState is the latest full state observed for one instance, together
// with the identity it was observed for.
//
// Values stored in the aggregate are never mutated in place: a new
// InstanceState replaces the old one wholesale.
type InstanceState struct {
	Instance

	Restreams  []Restream  `json:"restreams"`
	Settings   *Settings   `json:"settings,omitempty"`
	ServerInfo *ServerInfo `json:"serverInfo,omitempty"`
}

// NewInstanceState returns the initial, empty state of an instance.
func NewInstanceState(inst Instance) InstanceState {
	return InstanceState{
		Instance:  inst,
		Restreams: []Restream{},
	}
}

// Restream is one inbound feed plus its outbound destinations.
type Restream struct {
	ID      string   `json:"id,omitempty"`
	Key     string   `json:"key"`
	Label   string   `json:"label,omitempty"`
	Input   Input    `json:"input"`
	Outputs []Output `json:"outputs"`
}

// Input is the endpoint a restream pulls or receives its feed on.
// Failover inputs are nested inputs under Src.
type Input struct {
	ID        string     `json:"id,omitempty"`
	Key       string     `json:"key"`
	Endpoints []Endpoint `json:"endpoints,omitempty"`
	Src       *InputSrc  `json:"src,omitempty"`
	Enabled   bool       `json:"enabled"`
}

type Endpoint struct {
	ID     string `json:"id,omitempty"`
	Kind   string `json:"kind"`
	Status string `json:"status,omitempty"`
	Label  string `json:"label,omitempty"`
}

// InputSrc is either a remote pull source (URL) or a set of failover inputs.
type InputSrc struct {
	URL    string  `json:"url,omitempty"`
	Label  string  `json:"label,omitempty"`
	Inputs []Input `json:"inputs,omitempty"`
}

type Output struct {
	ID         string  `json:"id,omitempty"`
	Dst        string  `json:"dst"`
	Label      string  `json:"label,omitempty"`
	PreviewURL string  `json:"previewUrl,omitempty"`
	Volume     Volume  `json:"volume"`
	Mixins     []Mixin `json:"mixins,omitempty"`
	Enabled    bool    `json:"enabled"`
	Status     string  `json:"status,omitempty"`
}

type Volume struct {
	Level int  `json:"level"`
	Muted bool `json:"muted"`
}

// Mixin mixes an extra audio/video source into an output.
type Mixin struct {
	ID        string `json:"id,omitempty"`
	Src       string `json:"src"`
	Volume    Volume `json:"volume"`
	Delay     Delay  `json:"delay,omitempty"`
	Sidechain bool   `json:"sidechain"`
}

// Delay is reported by servers either as a number of milliseconds or as a
// human readable string ("3s 500ms"). It is kept as text.
type Delay string

func (d *Delay) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*d = Delay(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid delay %s: %w", b, err)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return fmt.Errorf("invalid delay %s: %w", b, err)
	}
	*d = Delay(n.String() + "ms")
	return nil
}

// Settings mirrors the server-wide settings exposed by the Info operation.
type Settings struct {
	Title              string `json:"title,omitempty"`
	PublicHost         string `json:"publicHost,omitempty"`
	DeleteConfirmation bool   `json:"deleteConfirmation"`
	EnableConfirmation bool   `json:"enableConfirmation"`
}

// ServerInfo carries the host metrics pushed by the ServerInfo subscription.
type ServerInfo struct {
	CPUUsage float64 `json:"cpuUsage"`
	RAMTotal float64 `json:"ramTotal"`
	RAMFree  float64 `json:"ramFree"`
	TxDelta  float64 `json:"txDelta"`
	RxDelta  float64 `json:"rxDelta"`
	ErrorMsg string  `json:"errorMsg,omitempty"`
}

// payload is the union of the top-level fields the known subscriptions emit.
type payload struct {
	AllRestreams *[]Restream `json:"allRestreams"`
	Info         *Settings   `json:"info"`
	ServerInfo   *ServerInfo `json:"serverInfo"`
}

// ApplyPayload builds the next state of an instance from one subscription
// payload. Fields the payload does not carry are taken over from s, so a
// subscription that only streams restreams keeps previously seen settings.
func (s InstanceState) ApplyPayload(data json.RawMessage) (InstanceState, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return InstanceState{}, fmt.Errorf("failed to decode payload: %w", err)
	}

	next := s.Clone()
	if p.AllRestreams != nil {
		next.Restreams = cloneRestreams(*p.AllRestreams)
		if next.Restreams == nil {
			next.Restreams = []Restream{}
		}
	}
	if p.Info != nil {
		settings := *p.Info
		next.Settings = &settings
	}
	if p.ServerInfo != nil {
		info := *p.ServerInfo
		next.ServerInfo = &info
	}
	return next, nil
}
