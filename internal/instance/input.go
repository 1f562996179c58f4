package instance

import (
	"bytes"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ephyr-control/ephyrsub/internal/domain"
)

// Extensions accepted for instance config files. JSON is parsed by the YAML
// decoder as well.
var Extensions = []string{".json", ".yaml", ".yml"}

// FromInput resolves the command line input into a validated instance list.
// An IP literal yields a single instance; anything else is treated as the
// path of a config file holding a list of instance records.
func FromInput(input string) ([]domain.Instance, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("%w: empty input", domain.ErrConfiguration)
	}

	if _, err := netip.ParseAddr(input); err == nil {
		return []domain.Instance{{IPv4: input}}, nil
	}

	instances, err := Load(input)
	if err != nil {
		return nil, err
	}
	if err := Validate(instances); err != nil {
		return nil, err
	}
	return instances, nil
}

// Load reads an instance config file without validating it.
func Load(path string) ([]domain.Instance, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(Extensions, ext) {
		return nil, fmt.Errorf("%w: incorrect input file extension %q (want one of %v)",
			domain.ErrConfiguration, ext, Extensions)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: instance config not found at %s", domain.ErrConfiguration, path)
		}
		return nil, fmt.Errorf("failed to read instance config: %w", err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: instance config %s is empty", domain.ErrConfiguration, path)
	}

	var instances []domain.Instance
	if err := yaml.Unmarshal(data, &instances); err != nil {
		return nil, fmt.Errorf("%w: failed to parse instance config: %v", domain.ErrConfiguration, err)
	}
	for i := range instances {
		normalize(&instances[i])
	}
	return instances, nil
}

// normalize trims identity fields; the address keys the aggregate and the
// snapshot file.
func normalize(inst *domain.Instance) {
	inst.IPv4 = strings.TrimSpace(inst.IPv4)
	inst.Domain = strings.TrimSpace(inst.Domain)
	inst.Title = strings.TrimSpace(inst.Title)
}
