// Package config loads site settings from a TOML file. Command-line flags
// override file values after loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/yuya-takeyama/strict-site-deploy/internal/poll"
)

const (
	DefaultPath                = "strict-site-deploy.toml"
	DefaultRegion              = "us-east-1"
	DefaultIndexDocument       = "index.html"
	DefaultPriceClass          = "PriceClass_100"
	DefaultDistributionTimeout = 60 * time.Minute
)

type Config struct {
	Region        string   `toml:"region"`
	Profile       string   `toml:"profile"`
	RootDomain    string   `toml:"root-domain"`
	Subdomain     string   `toml:"subdomain"`
	Source        string   `toml:"source"`
	IndexDocument string   `toml:"index-document"`
	PriceClass    string   `toml:"price-class"`
	Excludes      []string `toml:"excludes"`

	Poll PollConfig `toml:"poll"`
}

type PollConfig struct {
	Interval            time.Duration `toml:"interval"`
	Timeout             time.Duration `toml:"timeout"`
	Forever             bool          `toml:"forever"`
	DistributionTimeout time.Duration `toml:"distribution-timeout"`
	DistributionDelay   time.Duration `toml:"distribution-delay"`
}

func Default() *Config {
	return &Config{
		Region:        DefaultRegion,
		IndexDocument: DefaultIndexDocument,
		PriceClass:    DefaultPriceClass,
		Poll: PollConfig{
			Interval:            poll.DefaultInterval,
			Timeout:             poll.DefaultTimeout,
			DistributionTimeout: DefaultDistributionTimeout,
		},
	}
}

// Load reads path on top of the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// Validate checks the settings every infrastructure command needs.
func (c *Config) Validate() error {
	if c.RootDomain == "" {
		return errors.New("root-domain is required (set in config file or via --root-domain)")
	}
	if c.Subdomain == "" {
		return errors.New("subdomain is required (set in config file or via --subdomain)")
	}
	if strings.Contains(c.Subdomain, ".") && !strings.HasSuffix(c.Subdomain, "."+c.RootDomain) {
		// "www" and "www.example.com" are both accepted
		return fmt.Errorf("subdomain %q is not inside %s", c.Subdomain, c.RootDomain)
	}
	if c.Poll.Interval < 0 || c.Poll.Timeout < 0 || c.Poll.DistributionTimeout < 0 || c.Poll.DistributionDelay < 0 {
		return errors.New("poll durations must not be negative")
	}
	return nil
}

// ValidateSource additionally requires a source directory.
func (c *Config) ValidateSource() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Source == "" {
		return errors.New("source is required (set in config file or via --source)")
	}
	return nil
}

// BucketName is the site's fully qualified name. The bucket, certificate
// domain and distribution alias all use it.
func (c *Config) BucketName() string {
	if strings.HasSuffix(c.Subdomain, "."+c.RootDomain) {
		return c.Subdomain
	}
	return c.Subdomain + "." + c.RootDomain
}

func (c *Config) PollPolicy() poll.Policy {
	return poll.Policy{
		Interval: c.Poll.Interval,
		Timeout:  c.Poll.Timeout,
		Forever:  c.Poll.Forever,
	}
}

// DistributionPolicy is the poll policy for CloudFront deployments, which
// take far longer than any other resource.
func (c *Config) DistributionPolicy() poll.Policy {
	p := c.PollPolicy()
	p.Timeout = c.Poll.DistributionTimeout
	return p
}
