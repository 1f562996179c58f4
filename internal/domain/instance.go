package domain

import "strings"

// DefaultHTTPAuthUser is the basic-auth user name sent along with an
// instance password. Ephyr only checks the password; "1" is what browsers
// accept without complaint.
const DefaultHTTPAuthUser = "1"

// Instance identifies one remote Ephyr server.
//
// IPv4 is the canonical identity and MUST be unique across a configuration.
// Title, when set, MUST be unique as well. Password is the only field that
// may change while a monitoring session is running.
type Instance struct {
	IPv4     string `json:"ipv4" yaml:"ipv4"`
	Domain   string `json:"domain,omitempty" yaml:"domain,omitempty"`
	Title    string `json:"title,omitempty" yaml:"title,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`

	// HTTPS defaults to true when unset.
	HTTPS *bool `json:"https,omitempty" yaml:"https,omitempty"`
}

// Address is the key used by the aggregate snapshot.
func (i Instance) Address() string { return i.IPv4 }

// Host prefers the domain over the raw address.
func (i Instance) Host() string {
	if d := strings.TrimSpace(i.Domain); d != "" {
		return d
	}
	return i.IPv4
}

func (i Instance) UseHTTPS() bool {
	return i.HTTPS == nil || *i.HTTPS
}

func (i Instance) Scheme() string {
	if i.UseHTTPS() {
		return "https"
	}
	return "http"
}

func (i Instance) Port() int {
	if i.UseHTTPS() {
		return 443
	}
	return 80
}

// DisplayName is what operators see in logs.
func (i Instance) DisplayName() string {
	if i.Title != "" {
		return i.Title + " (" + i.Host() + ")"
	}
	return i.Host()
}

// ConnectionDetails describes how to reach an instance's API surfaces.
type ConnectionDetails struct {
	Scheme   string
	Host     string
	Port     int
	Password string
}

func (i Instance) ConnectionDetails() ConnectionDetails {
	return ConnectionDetails{
		Scheme:   i.Scheme(),
		Host:     i.Host(),
		Port:     i.Port(),
		Password: i.Password,
	}
}

// BoolPtr is a small helper for the optional HTTPS flag.
func BoolPtr(v bool) *bool { return &v }
