package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/notifyhub/repo-trigger/internal/config"
	"github.com/notifyhub/repo-trigger/internal/domain"
)

const currentFile = `
version: 2
queues:
  - uuid: q1
    url: https://sqs.us-east-1.amazonaws.com/123456789012/codecommit-events
    credentialsRef: ci-profile
    waitTimeSeconds: 20
  - uuid: q2
    url: https://sqs.eu-west-1.amazonaws.com/123456789012/other
    waitTimeSeconds: 25
credentials:
  ci-keys:
    accessKeyId: AKIAEXAMPLE
    secretAccessKey: secret
`

const legacyFile = `
queues:
  - uuid: old
    url: https://sqs.us-west-2.amazonaws.com/123456789012/legacy
    region: US_WEST_2
    accessKey: AKIALEGACY
    secretKey: legacy-secret
    urlInputIndex: 1
    version: "1.9"
  - uuid: old2
    url: https://sqs.us-west-2.amazonaws.com/123456789012/legacy2
    credentialsId: jenkins-creds
    region: US_WEST_2
`

func TestParseQueueFile_Current(t *testing.T) {
	f, err := config.ParseQueueFile([]byte(currentFile))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.Queues) != 2 {
		t.Fatalf("expected 2 queues, got %d", len(f.Queues))
	}
	if f.Credentials["ci-keys"].AccessKeyID != "AKIAEXAMPLE" {
		t.Fatalf("unexpected credentials: %+v", f.Credentials)
	}

	configs, err := f.QueueConfigs()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if configs[0].WaitTimeSeconds != 20 {
		t.Fatalf("expected 20, got %d", configs[0].WaitTimeSeconds)
	}
	if configs[1].WaitTimeSeconds != config.WaitTimeSecondsDefault {
		t.Fatalf("expected default for out-of-range value, got %d", configs[1].WaitTimeSeconds)
	}
	if configs[1].Region != "eu-west-1" {
		t.Fatalf("expected derived region, got %q", configs[1].Region)
	}
}

func TestParseQueueFile_MigratesLegacy(t *testing.T) {
	f, err := config.ParseQueueFile([]byte(legacyFile))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Version != config.CurrentQueueFileVersion {
		t.Fatalf("expected migrated version %d, got %d", config.CurrentQueueFileVersion, f.Version)
	}

	first := f.Queues[0]
	if first.Region != "us-west-2" {
		t.Fatalf("expected normalized region, got %q", first.Region)
	}
	if first.CredentialsRef != config.StaticCredentialPrefix+"AKIALEGACY" {
		t.Fatalf("expected static credential ref, got %q", first.CredentialsRef)
	}
	cred, ok := f.Credentials["AKIALEGACY"]
	if !ok || cred.SecretAccessKey != "legacy-secret" {
		t.Fatalf("expected inline keys preserved, got %+v", f.Credentials)
	}

	if f.Queues[1].CredentialsRef != "jenkins-creds" {
		t.Fatalf("expected credentialsId carried over, got %q", f.Queues[1].CredentialsRef)
	}
}

func TestMigrate_DoesNotModifyInput(t *testing.T) {
	legacy := config.LegacyQueueFile{Queues: []config.LegacyQueue{{UUID: "a", Region: "EU_CENTRAL_1"}}}
	_ = config.Migrate(legacy)
	if legacy.Queues[0].Region != "EU_CENTRAL_1" {
		t.Fatal("Migrate must not mutate its input")
	}
}

func TestParseQueueFile_FutureVersion(t *testing.T) {
	if _, err := config.ParseQueueFile([]byte("version: 3\n")); err == nil {
		t.Fatal("expected an error for an unsupported version")
	}
}

func TestQueueFile_QueueConfigsReportsBadEntries(t *testing.T) {
	f := &config.QueueFile{
		Version: config.CurrentQueueFileVersion,
		Queues: []config.QueueSpec{
			{UUID: "good", URL: queueURL},
			{UUID: "bad"},
			{UUID: "good", URL: queueURL},
		},
	}
	configs, err := f.QueueConfigs()
	if len(configs) != 1 || configs[0].ID != "good" {
		t.Fatalf("expected only the valid queue, got %+v", configs)
	}
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig in joined error, got %v", err)
	}
}

func TestLoadQueueFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queues.yaml")
	if err := os.WriteFile(path, []byte(currentFile), 0o600); err != nil {
		t.Fatal(err)
	}
	f, err := config.LoadQueueFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.Queues) != 2 {
		t.Fatalf("expected 2 queues, got %d", len(f.Queues))
	}

	if _, err := config.LoadQueueFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestQueueFile_IDsStableAcrossLoads(t *testing.T) {
	doc := []byte(`
version: 2
queues:
  - url: https://sqs.us-east-1.amazonaws.com/123456789012/events
  - url: https://sqs.us-east-1.amazonaws.com/123456789012/other
`)
	load := func() []config.QueueConfig {
		f, err := config.ParseQueueFile(doc)
		if err != nil {
			t.Fatal(err)
		}
		cfgs, err := f.QueueConfigs()
		if err != nil {
			t.Fatal(err)
		}
		return cfgs
	}

	first, second := load(), load()
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("expected 2 queues per load, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID == "" || first[i].ID != second[i].ID {
			t.Fatalf("queue #%d changed identity across loads: %q vs %q", i, first[i].ID, second[i].ID)
		}
	}
	if first[0].ID == first[1].ID {
		t.Fatal("expected distinct urls to get distinct ids")
	}
}

func TestQueueFile_QueueIDsIncludeInvalidEntries(t *testing.T) {
	f := &config.QueueFile{
		Version: config.CurrentQueueFileVersion,
		Queues: []config.QueueSpec{
			{UUID: "good", URL: queueURL},
			{UUID: "bad"},
			{URL: "https://queue.internal/1/no-region"},
			{},
		},
	}
	ids := f.QueueIDs()
	if len(ids) != 3 || ids[0] != "good" || ids[1] != "bad" {
		t.Fatalf("unexpected ids: %v", ids)
	}
	want := config.QueueSpec{URL: "https://queue.internal/1/no-region"}.StableID()
	if ids[2] != want {
		t.Fatalf("expected derived id %q, got %q", want, ids[2])
	}
}
