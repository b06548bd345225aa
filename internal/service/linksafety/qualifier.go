// Package linksafety implements the C4 Link Safety Qualifier: a
// pessimistic, staged classifier that gates every URL a C3/C8 component
// would otherwise follow (§4.4).
package linksafety

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/jervisai/jervis/internal/domain"
)

var tracer = otel.Tracer("jervis/service/linksafety")

// QualifierLLM is the small-model boundary invoked only for step 7
// heuristics (§4.4 step 7, DESIGN.md open-question decision 2). The
// caller supplies the concrete client; none is shipped here.
type QualifierLLM interface {
	Classify(ctx domain.Context, url, surroundingText string) (domain.LinkClassification, string, error)
}

// Cache is the persistence boundary the qualifier reads/writes,
// implemented by mongostore.LinkSafetyRepo.
type Cache interface {
	IsUnsafe(ctx domain.Context, url string) (domain.UnsafeLink, bool, error)
	MarkUnsafe(ctx domain.Context, url, reason string) error
	EnabledPatterns(ctx domain.Context) ([]domain.LearnedPattern, error)
	LearnPattern(ctx domain.Context, pattern, reason string) error
	IsIndexed(ctx domain.Context, url string, clientID domain.ID) (bool, error)
}

// TaskCreator is the boundary used to raise LINK_SAFETY_REVIEW tasks for
// UNCERTAIN results (§4.4).
type TaskCreator interface {
	Create(ctx domain.Context, t domain.Task) (domain.ID, error)
}

// Result is the qualifier's verdict for one URL.
type Result struct {
	Classification domain.LinkClassification
	Reason         string
	SuggestedRegex string
}

// Qualifier evaluates URLs through the 8-step order of §4.4, short
// circuiting on the first match.
type Qualifier struct {
	cache Cache
	llm   QualifierLLM
	tasks TaskCreator
}

// New constructs a Qualifier. llm may be nil, in which case step 7 always
// resolves to UNCERTAIN without a model call.
func New(cache Cache, llm QualifierLLM, tasks TaskCreator) *Qualifier {
	return &Qualifier{cache: cache, llm: llm, tasks: tasks}
}

// Qualify classifies rawURL for clientID, with surroundingText (±150
// chars per §4.4) supplied for UNCERTAIN task creation and the heuristic
// LLM call.
func (q *Qualifier) Qualify(ctx domain.Context, rawURL string, clientID domain.ID, surroundingText string) (Result, error) {
	ctx, span := tracer.Start(ctx, "linksafety.Qualify")
	defer span.End()

	if isSkippedImage(rawURL) {
		return Result{Classification: domain.LinkUncertain, Reason: "image url, not qualified"}, nil
	}
	if isTrackerImage(rawURL) {
		return q.reject(ctx, rawURL, "tracker image filename", "")
	}

	// Step 1: already indexed.
	if q.cache != nil {
		indexed, err := q.cache.IsIndexed(ctx, rawURL, clientID)
		if err != nil {
			return Result{}, fmt.Errorf("op=linksafety.Qualify.isIndexed: %w", err)
		}
		if indexed {
			return Result{Classification: domain.LinkSafe, Reason: "already indexed"}, nil
		}

		// Step 2: cached UNSAFE.
		if cached, ok, err := q.cache.IsUnsafe(ctx, rawURL); err != nil {
			return Result{}, fmt.Errorf("op=linksafety.Qualify.isUnsafe: %w", err)
		} else if ok {
			return Result{Classification: domain.LinkUnsafe, Reason: cached.Reason}, nil
		}

		// Step 3: learned patterns.
		patterns, err := q.cache.EnabledPatterns(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("op=linksafety.Qualify.patterns: %w", err)
		}
		for _, p := range patterns {
			re, err := regexp.Compile(p.Pattern)
			if err != nil {
				continue
			}
			if re.MatchString(rawURL) {
				return q.reject(ctx, rawURL, p.Reason, "")
			}
		}
	}

	// Step 4: static pattern blacklist.
	for _, entry := range staticBlacklist {
		if entry.pattern.MatchString(rawURL) {
			return q.reject(ctx, rawURL, entry.reason, entry.pattern.String())
		}
	}

	host := hostOf(rawURL)

	// Step 5: domain blacklist.
	for _, re := range domainBlacklist {
		if re.MatchString(host) {
			return q.reject(ctx, rawURL, "domain blacklist: "+host, "")
		}
	}

	// Step 6: domain whitelist.
	for _, re := range domainWhitelist {
		if re.MatchString(host) {
			return Result{Classification: domain.LinkSafe, Reason: "domain whitelist: " + host}, nil
		}
	}

	// Step 7: heuristics + optional LLM.
	if longTokenParamPattern.MatchString(rawURL) || isMonitoringLikeHost(host, rawURL) {
		if q.llm != nil {
			class, reason, err := q.llm.Classify(ctx, rawURL, surroundingText)
			if err != nil {
				return Result{}, fmt.Errorf("op=linksafety.Qualify.llm: %w", err)
			}
			if class == domain.LinkUnsafe {
				return q.reject(ctx, rawURL, reason, "")
			}
			if class == domain.LinkUncertain {
				if err := q.raiseReviewTask(ctx, rawURL, reason, clientID, surroundingText); err != nil {
					return Result{}, err
				}
			}
			return Result{Classification: class, Reason: reason}, nil
		}
		if err := q.raiseReviewTask(ctx, rawURL, "long token/hash parameter or monitoring-like domain", clientID, surroundingText); err != nil {
			return Result{}, err
		}
		return Result{Classification: domain.LinkUncertain, Reason: "long token/hash parameter or monitoring-like domain"}, nil
	}

	// Step 8: default.
	if err := q.raiseReviewTask(ctx, rawURL, "no rule matched", clientID, surroundingText); err != nil {
		return Result{}, err
	}
	return Result{Classification: domain.LinkUncertain, Reason: "no rule matched"}, nil
}

func (q *Qualifier) reject(ctx domain.Context, rawURL, reason, suggestedRegex string) (Result, error) {
	if q.cache != nil {
		if err := q.cache.MarkUnsafe(ctx, rawURL, reason); err != nil {
			return Result{}, fmt.Errorf("op=linksafety.reject.markUnsafe: %w", err)
		}
		if suggestedRegex != "" {
			if err := q.cache.LearnPattern(ctx, suggestedRegex, reason); err != nil {
				return Result{}, fmt.Errorf("op=linksafety.reject.learnPattern: %w", err)
			}
		}
	}
	return Result{Classification: domain.LinkUnsafe, Reason: reason, SuggestedRegex: suggestedRegex}, nil
}

func (q *Qualifier) raiseReviewTask(ctx domain.Context, rawURL, reason string, clientID domain.ID, surroundingText string) error {
	if q.tasks == nil {
		return nil
	}
	_, err := q.tasks.Create(ctx, domain.Task{
		Type:           "LINK_SAFETY_REVIEW",
		Content:        fmt.Sprintf("url=%s reason=%s context=%s", rawURL, reason, truncateContext(surroundingText)),
		ClientID:       clientID,
		ProcessingMode: domain.ModeBackground,
	})
	if err != nil {
		return fmt.Errorf("op=linksafety.raiseReviewTask: %w", err)
	}
	return nil
}

// truncateContext keeps ±150 chars of surrounding text per §4.4.
func truncateContext(s string) string {
	const radius = 150
	if len(s) <= radius*2 {
		return s
	}
	mid := len(s) / 2
	start := mid - radius
	if start < 0 {
		start = 0
	}
	end := mid + radius
	if end > len(s) {
		end = len(s)
	}
	return s[start:end]
}

func isSkippedImage(rawURL string) bool {
	return imageExtensionPattern.MatchString(rawURL) && !trackerFilenamePattern.MatchString(rawURL)
}

func isTrackerImage(rawURL string) bool {
	return trackerFilenamePattern.MatchString(rawURL)
}

func isMonitoringLikeHost(host, rawURL string) bool {
	return strings.Contains(host, "monitor") || strings.Contains(host, "status") && strings.Contains(rawURL, "token=")
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
