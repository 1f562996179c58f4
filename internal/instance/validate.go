package instance

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ephyr-control/ephyrsub/internal/domain"
)

// ErrMissingAddress is returned for a record without an ipv4 address.
var ErrMissingAddress = fmt.Errorf("%w: instance without ipv4 address", domain.ErrConfiguration)

// DuplicateError lists every address and title that occurs more than once,
// each in the order it was first seen.
type DuplicateError struct {
	Addresses []string
	Titles    []string
}

func (e *DuplicateError) Error() string {
	var parts []string
	if len(e.Addresses) > 0 {
		parts = append(parts, "addresses ["+strings.Join(e.Addresses, ", ")+"]")
	}
	if len(e.Titles) > 0 {
		parts = append(parts, "titles ["+strings.Join(e.Titles, ", ")+"]")
	}
	return "instance config contains duplicate " + strings.Join(parts, " and ")
}

func (e *DuplicateError) Is(target error) bool {
	return target == domain.ErrConfiguration
}

// Values returns every duplicated value, addresses first.
func (e *DuplicateError) Values() []string {
	out := make([]string, 0, len(e.Addresses)+len(e.Titles))
	out = append(out, e.Addresses...)
	return append(out, e.Titles...)
}

// Validate scans the whole list once and reports every duplicate identity.
// A nil error means the list can be used as is, in its original order.
func Validate(instances []domain.Instance) error {
	var (
		missing []int
		addrs   = newCounter(len(instances))
		titles  = newCounter(len(instances))
	)

	for i, inst := range instances {
		if addr := strings.TrimSpace(inst.IPv4); addr != "" {
			addrs.add(addr)
		} else {
			missing = append(missing, i)
		}
		if title := strings.TrimSpace(inst.Title); title != "" {
			titles.add(title)
		}
	}

	var errs []error
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("%w (records %v)", ErrMissingAddress, missing))
	}
	dup := DuplicateError{Addresses: addrs.repeated(), Titles: titles.repeated()}
	if len(dup.Addresses) > 0 || len(dup.Titles) > 0 {
		errs = append(errs, &dup)
	}
	return errors.Join(errs...)
}

// counter counts values and remembers the order they were first seen in.
type counter struct {
	counts map[string]int
	order  []string
}

func newCounter(size int) *counter {
	return &counter{counts: make(map[string]int, size)}
}

func (c *counter) add(v string) {
	if c.counts[v] == 0 {
		c.order = append(c.order, v)
	}
	c.counts[v]++
}

func (c *counter) repeated() []string {
	var out []string
	for _, v := range c.order {
		if c.counts[v] > 1 {
			out = append(out, v)
		}
	}
	return out
}
