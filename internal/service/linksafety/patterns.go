package linksafety

import "regexp"

// staticBlacklist matches URL substrings that are always UNSAFE per §4.4
// step 4, regardless of domain. Calendar/RSVP actions are listed first
// and deliberately exhaustive: the spec treats a false negative here as
// the most severe failure mode a qualifier can have.
var staticBlacklist = []struct {
	pattern *regexp.Regexp
	reason  string
}{
	{regexp.MustCompile(`(?i)action=(accept|decline)`), "calendar RSVP action (accept/decline)"},
	{regexp.MustCompile(`(?i)/(rsvp|accept|decline)(/|\?|$)`), "calendar RSVP path"},
	{regexp.MustCompile(`(?i)unsubscribe`), "unsubscribe link"},
	{regexp.MustCompile(`(?i)/(login|signin|verify|confirm)(/|\?|$)`), "login/verify link"},
	{regexp.MustCompile(`(?i)[?&](utm_[a-z]+)=`), "tracking parameter"},
	{regexp.MustCompile(`(?i)[?&]fbclid=`), "tracking parameter"},
	{regexp.MustCompile(`(?i)[?&]gclid=`), "tracking parameter"},
	{regexp.MustCompile(`(?i)(pixel|beacon|track)\.(gif|png)`), "tracking pixel"},
}

// domainBlacklist matches hostnames that are always UNSAFE (§4.4 step 5).
var domainBlacklist = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(^|\.)mailchimp\.com$`),
	regexp.MustCompile(`(?i)(^|\.)sendgrid\.net$`),
	regexp.MustCompile(`(?i)(^|\.)calendar\.(google|example)\.com$`),
	regexp.MustCompile(`(?i)(^|\.)outlook\.office365\.com$`),
	regexp.MustCompile(`(?i)(^|\.)bit\.ly$`),
	regexp.MustCompile(`(?i)(^|\.)tinyurl\.com$`),
	regexp.MustCompile(`(?i)(^|\.)t\.co$`),
	regexp.MustCompile(`(?i)(^|\.)google-analytics\.com$`),
	regexp.MustCompile(`(?i)(^|\.)segment\.io$`),
}

// domainWhitelist matches hostnames that are SAFE by default (§4.4 step 6).
var domainWhitelist = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(^|\.)github\.com$`),
	regexp.MustCompile(`(?i)(^|\.)gitlab\.com$`),
	regexp.MustCompile(`(?i)(^|\.)readthedocs\.io$`),
	regexp.MustCompile(`(?i)(^|\.)stackoverflow\.com$`),
	regexp.MustCompile(`(?i)(^|\.)developer\.mozilla\.org$`),
	regexp.MustCompile(`(?i)(^|\.)go\.dev$`),
	regexp.MustCompile(`(?i)(^|\.)pkg\.go\.dev$`),
}

// imageExtensionPattern matches URLs that point at an image file (§4.4:
// "Image URLs ending in .gif/.png/.jpg/.jpeg and matching known tracker
// filenames short-circuit to UNSAFE; other image URLs are silently
// skipped").
var imageExtensionPattern = regexp.MustCompile(`(?i)\.(gif|png|jpe?g)(\?|$)`)

// trackerFilenamePattern matches common tracking-pixel filenames.
var trackerFilenamePattern = regexp.MustCompile(`(?i)(pixel|spacer|open|beacon|1x1)\.(gif|png|jpe?g)(\?|$)`)

// longTokenParamPattern matches query parameters carrying a long
// hash/token value, a heuristic signal for step 7.
var longTokenParamPattern = regexp.MustCompile(`(?i)[?&](token|sig|hash|auth)=[a-z0-9]{24,}`)
