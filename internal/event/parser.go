// Package event decodes queue message bodies into change events.
//
// A body is an SNS-style envelope whose Message field carries a JSON string
// with a Records array:
//
//	{"MessageId": "abc123", "Message": "{\"Records\":[...]}"}
//
// Each record is validated on its own: a malformed record is logged and
// skipped without affecting its siblings.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/notifyhub/repo-trigger/internal/domain"
	"github.com/notifyhub/repo-trigger/internal/trigger"
)

var (
	errMissingRepository = errors.New("missing repository")
	errMissingBranch     = errors.New("missing branch reference")
	errInvalidBranch     = errors.New("malformed branch reference")
)

type envelope struct {
	MessageID string  `json:"MessageId"`
	Message   *string `json:"Message"`
	Timestamp string  `json:"Timestamp"`
}

type recordBatch struct {
	Records []json.RawMessage `json:"Records"`
}

// record accepts both the flat notification form and the native CodeCommit
// trigger form.
type record struct {
	EventName      string `json:"eventName"`
	EventTime      string `json:"eventTime"`
	EventSourceARN string `json:"eventSourceARN"`
	RepositoryName string `json:"repositoryName"`
	Branch         string `json:"branch"`
	Ref            string `json:"ref"`
	CommitID       string `json:"commitId"`
	CodeCommit     *struct {
		References []reference `json:"references"`
	} `json:"codecommit"`
}

type reference struct {
	Ref     string `json:"ref"`
	Commit  string `json:"commit"`
	Created bool   `json:"created"`
	Deleted bool   `json:"deleted"`
}

// Parser turns message bodies into change events. It is stateless apart
// from its logger and safe for concurrent use.
type Parser struct {
	logger *zap.Logger
}

func NewParser(logger *zap.Logger) *Parser {
	return &Parser{logger: logger}
}

// MessageID returns the envelope's MessageId, or "" when the body is not an
// envelope.
func (p *Parser) MessageID(body string) string {
	var env envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return ""
	}
	return env.MessageID
}

// Decode extracts every valid change event from body. It never fails: an
// unrecognizable envelope yields no events, and invalid records are skipped.
func (p *Parser) Decode(body string) []domain.ChangeEvent {
	var env envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		p.logger.Warn("unrecognized message envelope", zap.Error(err))
		return nil
	}
	log := p.logger.With(zap.String("message_id", env.MessageID))
	if env.Message == nil {
		log.Warn("message envelope has no Message field")
		return nil
	}

	var batch recordBatch
	if err := json.Unmarshal([]byte(*env.Message), &batch); err != nil {
		log.Warn("unrecognized message payload", zap.Error(err))
		return nil
	}

	fallback := parseTime(env.Timestamp)
	var events []domain.ChangeEvent
	for i, raw := range batch.Records {
		evs, err := decodeRecord(raw, fallback)
		if err != nil {
			log.Warn("skipping malformed record", zap.Int("record", i), zap.Error(err))
			continue
		}
		for j := range evs {
			evs[j].MessageID = env.MessageID
		}
		events = append(events, evs...)
	}
	return events
}

func decodeRecord(raw json.RawMessage, fallback time.Time) ([]domain.ChangeEvent, error) {
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}

	repo := rec.RepositoryName
	if repo == "" && rec.EventSourceARN != "" {
		repo = rec.EventSourceARN
	}
	repo = trigger.NormalizeRepository(repo)
	if repo == "" {
		return nil, errMissingRepository
	}

	ts := parseTime(rec.EventTime)
	if ts.IsZero() {
		ts = fallback
	}

	branch := rec.Branch
	if branch == "" {
		branch = rec.Ref
	}
	if branch != "" {
		if err := validateBranch(branch); err != nil {
			return nil, err
		}
		return []domain.ChangeEvent{{
			Repository: repo,
			Branch:     branch,
			Kind:       kindFromName(rec.EventName),
			CommitID:   rec.CommitID,
			Timestamp:  ts,
			EventName:  rec.EventName,
		}}, nil
	}

	if rec.CodeCommit == nil || len(rec.CodeCommit.References) == 0 {
		return nil, errMissingBranch
	}
	events := make([]domain.ChangeEvent, 0, len(rec.CodeCommit.References))
	for _, ref := range rec.CodeCommit.References {
		if err := validateBranch(ref.Ref); err != nil {
			return nil, err
		}
		events = append(events, domain.ChangeEvent{
			Repository: repo,
			Branch:     ref.Ref,
			Kind:       kindFromFlags(ref.Created, ref.Deleted),
			CommitID:   ref.Commit,
			Timestamp:  ts,
			EventName:  rec.EventName,
		})
	}
	return events, nil
}

// validateBranch applies the subset of git's reference-name rules that
// matter for matching.
func validateBranch(ref string) error {
	if ref == "" {
		return errMissingBranch
	}
	for _, r := range ref {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: %q", errInvalidBranch, ref)
		}
	}
	if strings.Contains(ref, "..") || strings.Contains(ref, "//") ||
		strings.HasSuffix(ref, "/") || strings.HasSuffix(ref, ".lock") {
		return fmt.Errorf("%w: %q", errInvalidBranch, ref)
	}
	return nil
}

func kindFromName(name string) domain.EventKind {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "created"):
		return domain.KindCreated
	case strings.Contains(lower, "deleted"):
		return domain.KindDeleted
	default:
		return domain.KindUpdated
	}
}

func kindFromFlags(created, deleted bool) domain.EventKind {
	switch {
	case created:
		return domain.KindCreated
	case deleted:
		return domain.KindDeleted
	default:
		return domain.KindUpdated
	}
}

// CodeCommit trigger records use a numeric zone offset without a colon.
var timeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05.999-0700"}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
