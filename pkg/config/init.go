package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const configHeader = `# atipioc Configuration File
#
# Every value below is the built-in default. Any key can be overridden with
# an environment variable: ATIPIOC_<SECTION>_<KEY>, e.g.
# ATIPIOC_LOGGING_LEVEL=DEBUG or ATIPIOC_CATOOLS_ADDR_LIST=host1,host2.`

// InitConfig writes a default configuration file to the default location.
//
// Returns the path of the written file. Fails if the file already exists,
// unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// entry is one key of a generated mapping. value is a scalar, slice, map,
// time.Duration or a nested *yaml.Node.
type entry struct {
	key     string
	comment string
	value   any
}

func mapping(entries ...entry) (*yaml.Node, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}

	for _, e := range entries {
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.key}
		if e.comment != "" {
			key.HeadComment = "# " + e.comment
		}

		var value *yaml.Node
		switch v := e.value.(type) {
		case *yaml.Node:
			value = v
		case time.Duration:
			value = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.String()}
		default:
			value = &yaml.Node{}
			if err := value.Encode(v); err != nil {
				return nil, fmt.Errorf("failed to encode %s: %w", e.key, err)
			}
		}

		node.Content = append(node.Content, key, value)
	}

	return node, nil
}

// generateYAMLWithComments renders cfg as a commented YAML document.
func generateYAMLWithComments(cfg *Config) (string, error) {
	sections := []func() (entry, error){
		func() (entry, error) {
			n, err := mapping(
				entry{"level", "DEBUG, INFO, WARN or ERROR", cfg.Logging.Level},
				entry{"format", "text or json", cfg.Logging.Format},
				entry{"output", "stdout, stderr or a file path", cfg.Logging.Output},
			)
			return entry{"logging", "Logging", n}, err
		},
		func() (entry, error) {
			n, err := mapping(
				entry{"shutdown_timeout", "Maximum time to wait for a graceful stop", cfg.Server.ShutdownTimeout},
			)
			return entry{"server", "", n}, err
		},
		func() (entry, error) {
			files, err := mapping(
				entry{"limits", "pv,upper,lower,precision[,readback]", cfg.IOC.Files.Limits},
				entry{"feedback", "pv,value", cfg.IOC.Files.Feedback},
				entry{"mirrored", "output_pv,mirror_type,input_pvs,value", cfg.IOC.Files.Mirrored},
				entry{"tunefb", "set_pv,offset_pv,delta_pv", cfg.IOC.Files.TuneFB},
			)
			if err != nil {
				return entry{}, err
			}
			n, err := mapping(
				entry{"name", "Scopes autosaved values and database files", cfg.IOC.Name},
				entry{"run_id", "Database file name of this run; empty generates a UUID", cfg.IOC.RunID},
				entry{"config_dir", "Directory of the CSV files; empty is the executable's directory", cfg.IOC.ConfigDir},
				entry{"files", "", files},
			)
			return entry{"ioc", "IOC identity and CSV configuration files", n}, err
		},
		func() (entry, error) {
			n, err := mapping(
				entry{"env_var", "Consulted when no ring mode argument is given", cfg.RingMode.EnvVar},
				entry{"pv", "Read from a running peer when the variable is unset", cfg.RingMode.PV},
				entry{"default", "Used when the peer has no data", cfg.RingMode.Default},
				entry{"skip_live", "", cfg.RingMode.SkipLive},
			)
			return entry{"ring_mode", "Ring-mode resolution: argument, environment, live PV, default", n}, err
		},
		func() (entry, error) {
			n, err := mapping(
				entry{"ring_modes", "Accepted ring modes; an empty list accepts any", cfg.ATIP.RingModes},
				entry{"mode_pv", "", cfg.ATIP.ModePV},
			)
			return entry{"atip", "PV server", n}, err
		},
		func() (entry, error) {
			n, err := mapping(
				entry{"addr_list", "Servers tried in order by live reads", cfg.CATools.AddrList},
				entry{"timeout", "", cfg.CATools.Timeout},
			)
			return entry{"catools", "Live-read client", n}, err
		},
		func() (entry, error) {
			n, err := mapping(
				entry{"interval", "", cfg.Mirror.Interval},
			)
			return entry{"mirror", "Mirrored PV polling", n}, err
		},
		func() (entry, error) {
			n, err := mapping(
				entry{"type", "none, memory or badger", cfg.Autosave.Type},
				entry{"restore", "Restore saved values when the database loads", cfg.Autosave.Restore},
				entry{"memory", "", cfg.Autosave.Memory},
				entry{"badger", "", cfg.Autosave.Badger},
			)
			return entry{"autosave", "Persistence of written output values", n}, err
		},
		func() (entry, error) {
			n, err := mapping(
				entry{"type", "none, filesystem, memory or s3", cfg.DBFile.Type},
				entry{"retain", "Database files kept per IOC", cfg.DBFile.Retain},
				entry{"gc_interval", "0 prunes only at startup", cfg.DBFile.GCInterval},
				entry{"max_age", "0 disables age-based pruning", cfg.DBFile.MaxAge},
				entry{"filesystem", "", cfg.DBFile.Filesystem},
				entry{"memory", "", cfg.DBFile.Memory},
				entry{"s3", "region, bucket, key_prefix, endpoint, access_key_id, secret_access_key", cfg.DBFile.S3},
			)
			return entry{"dbfile", "Rendered .db file of each run", n}, err
		},
		func() (entry, error) {
			pv := cfg.Adapters.PVWire
			timeouts, err := mapping(
				entry{"read", "", pv.Timeouts.Read},
				entry{"write", "", pv.Timeouts.Write},
				entry{"idle", "", pv.Timeouts.Idle},
			)
			if err != nil {
				return entry{}, err
			}
			rate, err := mapping(
				entry{"requests_per_second", "0 disables rate limiting", pv.RateLimit.RequestsPerSecond},
				entry{"burst", "", pv.RateLimit.Burst},
			)
			if err != nil {
				return entry{}, err
			}
			pvwire, err := mapping(
				entry{"enabled", "", pv.Enabled},
				entry{"port", "", pv.Port},
				entry{"bind_address", "Empty binds all interfaces", pv.BindAddress},
				entry{"max_connections", "0 means unlimited", pv.MaxConnections},
				entry{"timeouts", "", timeouts},
				entry{"shutdown_timeout", "", pv.ShutdownTimeout},
				entry{"metrics_log_interval", "", pv.MetricsLogInterval},
				entry{"rate_limit", "", rate},
			)
			if err != nil {
				return entry{}, err
			}
			n, err := mapping(entry{"pvwire", "", pvwire})
			return entry{"adapters", "Protocol adapters", n}, err
		},
		func() (entry, error) {
			n, err := mapping(
				entry{"enabled", "", cfg.Metrics.Enabled},
				entry{"port", "", cfg.Metrics.Port},
			)
			return entry{"metrics", "Prometheus /metrics and /healthz endpoint", n}, err
		},
	}

	var top []entry
	for _, build := range sections {
		e, err := build()
		if err != nil {
			return "", err
		}
		top = append(top, e)
	}

	root, err := mapping(top...)
	if err != nil {
		return "", err
	}

	doc := &yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: configHeader,
		Content:     []*yaml.Node{root},
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}

	return buf.String(), nil
}
