package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/notifyhub/repo-trigger/internal/domain"
)

// CurrentQueueFileVersion is the schema version written by this release.
// Older documents are migrated in memory by Migrate when loaded.
const CurrentQueueFileVersion = 2

// StaticCredentialPrefix marks a credentials reference that resolves to a
// key pair stored in the queue file's credentials section.
const StaticCredentialPrefix = "static:"

// StaticCredential is an access key pair kept in the queue file.
type StaticCredential struct {
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
}

// QueueFile is the current (version 2) queue file schema.
//
//	version: 2
//	queues:
//	  - uuid: 6f1c...
//	    url: https://sqs.us-east-1.amazonaws.com/123456789012/codecommit-events
//	    credentialsRef: ci-profile
//	    waitTimeSeconds: 20
//	credentials:
//	  ci-keys:
//	    accessKeyId: AKIA...
//	    secretAccessKey: ...
type QueueFile struct {
	Version     int                         `yaml:"version"`
	Queues      []QueueSpec                 `yaml:"queues"`
	Credentials map[string]StaticCredential `yaml:"credentials,omitempty"`
}

// LegacyQueue is a queue entry of the version 1 schema. Regions were
// written as enum constants (US_EAST_1), keys could be stored inline, and
// UI-only fields were persisted next to the queue.
type LegacyQueue struct {
	UUID                string `yaml:"uuid"`
	URL                 string `yaml:"url"`
	Region              string `yaml:"region"`
	CredentialsID       string `yaml:"credentialsId"`
	WaitTimeSeconds     *int   `yaml:"waitTimeSeconds"`
	MaxNumberOfMessages *int   `yaml:"maxNumberOfMessages"`
	Version             string `yaml:"version"`
	URLInputIndex       *int   `yaml:"urlInputIndex"`
	AccessKey           string `yaml:"accessKey"`
	SecretKey           string `yaml:"secretKey"`
}

// LegacyQueueFile is the version 1 schema. A file without a version field
// is treated as version 1.
type LegacyQueueFile struct {
	Version int           `yaml:"version"`
	Queues  []LegacyQueue `yaml:"queues"`
}

// Migrate converts a version 1 document to the current schema. It is pure:
// the input is not modified and nothing outside the result is touched.
func Migrate(legacy LegacyQueueFile) QueueFile {
	out := QueueFile{
		Version: CurrentQueueFileVersion,
		Queues:  make([]QueueSpec, 0, len(legacy.Queues)),
	}
	for _, q := range legacy.Queues {
		spec := QueueSpec{
			UUID:                q.UUID,
			URL:                 q.URL,
			Region:              normalizeRegion(q.Region),
			CredentialsRef:      q.CredentialsID,
			WaitTimeSeconds:     q.WaitTimeSeconds,
			MaxNumberOfMessages: q.MaxNumberOfMessages,
		}
		if spec.CredentialsRef == "" && q.AccessKey != "" {
			if out.Credentials == nil {
				out.Credentials = make(map[string]StaticCredential)
			}
			out.Credentials[q.AccessKey] = StaticCredential{
				AccessKeyID:     q.AccessKey,
				SecretAccessKey: q.SecretKey,
			}
			spec.CredentialsRef = StaticCredentialPrefix + q.AccessKey
		}
		out.Queues = append(out.Queues, spec)
	}
	return out
}

// normalizeRegion turns enum-style names (US_EAST_1) into region ids.
func normalizeRegion(region string) string {
	region = strings.TrimSpace(region)
	return strings.ToLower(strings.ReplaceAll(region, "_", "-"))
}

// LoadQueueFile reads the queue file at path, migrating older schema
// versions once at load time.
func LoadQueueFile(path string) (*QueueFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read queue file: %w", err)
	}
	return ParseQueueFile(data)
}

// ParseQueueFile decodes a queue file document of any supported version.
func ParseQueueFile(data []byte) (*QueueFile, error) {
	var probe struct {
		Version int `yaml:"version"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parse queue file: %w", err)
	}

	switch {
	case probe.Version > CurrentQueueFileVersion:
		return nil, fmt.Errorf("queue file version %d is newer than supported version %d",
			probe.Version, CurrentQueueFileVersion)
	case probe.Version == CurrentQueueFileVersion:
		var f QueueFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse queue file: %w", err)
		}
		return &f, nil
	default:
		var legacy LegacyQueueFile
		if err := yaml.Unmarshal(data, &legacy); err != nil {
			return nil, fmt.Errorf("parse legacy queue file: %w", err)
		}
		f := Migrate(legacy)
		return &f, nil
	}
}

// QueueConfigs validates every queue of the file. Invalid or duplicate
// entries are reported in the joined error; the valid ones are returned
// regardless so a single bad entry does not block the others.
func (f *QueueFile) QueueConfigs() ([]QueueConfig, error) {
	var (
		configs []QueueConfig
		errs    []error
		seen    = make(map[string]struct{}, len(f.Queues))
	)
	for i, spec := range f.Queues {
		spec.UUID = spec.StableID()
		cfg, err := NewQueueConfig(spec)
		if err != nil {
			errs = append(errs, fmt.Errorf("queue #%d: %w", i, err))
			continue
		}
		if _, dup := seen[cfg.ID]; dup {
			errs = append(errs, fmt.Errorf("queue #%d: %w: duplicate uuid %s", i, domain.ErrInvalidConfig, cfg.ID))
			continue
		}
		seen[cfg.ID] = struct{}{}
		configs = append(configs, cfg)
	}
	return configs, errors.Join(errs...)
}

// QueueIDs returns the identity of every entry, valid or not. Entries with
// neither uuid nor url are left out.
func (f *QueueFile) QueueIDs() []string {
	ids := make([]string, 0, len(f.Queues))
	for _, spec := range f.Queues {
		if id := spec.StableID(); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
