package config

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/notifyhub/repo-trigger/internal/domain"
)

// Accepted ranges for the per-queue receive parameters. A value outside its
// range (or absent) is replaced by the default, never clamped to the bound.
const (
	WaitTimeSecondsMin     = 0
	WaitTimeSecondsMax     = 20
	WaitTimeSecondsDefault = 10

	MaxNumberOfMessagesMin     = 1
	MaxNumberOfMessagesMax     = 10
	MaxNumberOfMessagesDefault = 10
)

var sqsURLPattern = regexp.MustCompile(
	`^(?:https?://)?(?P<endpoint>sqs\.(?P<region>.+?)\.amazonaws\.com)/(?P<account>.+?)/(?P<name>.*)$`)

// QueueSpec is the user-supplied description of a queue, as read from the
// queue file or the reconfigure endpoint. Numeric fields are pointers so an
// absent value can be told apart from zero.
type QueueSpec struct {
	UUID                string `yaml:"uuid" json:"uuid"`
	URL                 string `yaml:"url" json:"url"`
	Region              string `yaml:"region" json:"region"`
	CredentialsRef      string `yaml:"credentialsRef" json:"credentials_ref"`
	WaitTimeSeconds     *int   `yaml:"waitTimeSeconds" json:"wait_time_seconds"`
	MaxNumberOfMessages *int   `yaml:"maxNumberOfMessages" json:"max_number_of_messages"`
}

// queueNamespace seeds the name-based ids of queue file entries without a
// uuid.
var queueNamespace = uuid.MustParse("3b0c5f9e-6a8d-4f21-9c47-8e1d2a7b5c60")

// StableID returns the entry's uuid, or an id derived from its URL when the
// uuid is blank, so the same entry keeps its identity across reloads. It
// returns "" when both are blank.
func (s QueueSpec) StableID() string {
	if id := strings.TrimSpace(s.UUID); id != "" {
		return id
	}
	u := strings.TrimSpace(s.URL)
	if u == "" {
		return ""
	}
	return uuid.NewSHA1(queueNamespace, []byte(u)).String()
}

// QueueConfig is the validated, immutable configuration of one queue. It is a
// plain value: a change produces a new QueueConfig, and two configs can be
// compared with ==.
type QueueConfig struct {
	ID                  string
	URL                 string
	Region              string
	CredentialsRef      string
	WaitTimeSeconds     int
	MaxNumberOfMessages int
}

// NewQueueConfig validates spec and substitutes defaults for absent or
// out-of-range receive parameters. A blank UUID gets a fresh one.
func NewQueueConfig(spec QueueSpec) (QueueConfig, error) {
	cfg := QueueConfig{
		ID:             strings.TrimSpace(spec.UUID),
		URL:            strings.TrimSpace(spec.URL),
		Region:         strings.TrimSpace(spec.Region),
		CredentialsRef: strings.TrimSpace(spec.CredentialsRef),
		WaitTimeSeconds: limit(spec.WaitTimeSeconds,
			WaitTimeSecondsMin, WaitTimeSecondsMax, WaitTimeSecondsDefault),
		MaxNumberOfMessages: limit(spec.MaxNumberOfMessages,
			MaxNumberOfMessagesMin, MaxNumberOfMessagesMax, MaxNumberOfMessagesDefault),
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Region == "" {
		cfg.Region = RegionFromURL(cfg.URL)
	}
	if err := cfg.Validate(); err != nil {
		return QueueConfig{}, err
	}
	return cfg, nil
}

// Validate reports whether the config carries everything needed to reach
// the queue. The error wraps domain.ErrInvalidConfig.
func (c QueueConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: missing uuid", domain.ErrInvalidConfig)
	}
	if c.URL == "" {
		return fmt.Errorf("%w: queue %s: url is blank", domain.ErrInvalidConfig, c.ID)
	}
	raw := c.URL
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || strings.Trim(u.Path, "/") == "" {
		return fmt.Errorf("%w: queue %s: url %q is invalid", domain.ErrInvalidConfig, c.ID, c.URL)
	}
	if c.Region == "" {
		return fmt.Errorf("%w: queue %s: region is blank and cannot be derived from %q",
			domain.ErrInvalidConfig, c.ID, c.URL)
	}
	if c.WaitTimeSeconds < WaitTimeSecondsMin || c.WaitTimeSeconds > WaitTimeSecondsMax {
		return fmt.Errorf("%w: queue %s: waitTimeSeconds out of range", domain.ErrInvalidConfig, c.ID)
	}
	if c.MaxNumberOfMessages < MaxNumberOfMessagesMin || c.MaxNumberOfMessages > MaxNumberOfMessagesMax {
		return fmt.Errorf("%w: queue %s: maxNumberOfMessages out of range", domain.ErrInvalidConfig, c.ID)
	}
	return nil
}

// Name returns the queue name: the last segment of the URL.
func (c QueueConfig) Name() string {
	if m := sqsURLPattern.FindStringSubmatch(c.URL); m != nil {
		return m[sqsURLPattern.SubexpIndex("name")]
	}
	return path.Base(strings.TrimRight(c.URL, "/"))
}

// Endpoint returns the SQS endpoint host for AWS-hosted queue URLs, or an
// empty string for custom endpoints.
func (c QueueConfig) Endpoint() string {
	if m := sqsURLPattern.FindStringSubmatch(c.URL); m != nil {
		return m[sqsURLPattern.SubexpIndex("endpoint")]
	}
	return ""
}

// RegionFromURL extracts the region from an AWS-hosted queue URL such as
// https://sqs.eu-west-1.amazonaws.com/123456789012/builds.
func RegionFromURL(queueURL string) string {
	if m := sqsURLPattern.FindStringSubmatch(queueURL); m != nil {
		return m[sqsURLPattern.SubexpIndex("region")]
	}
	return ""
}

func limit(value *int, min, max, fallback int) int {
	if value == nil || *value < min || *value > max {
		return fallback
	}
	return *value
}
